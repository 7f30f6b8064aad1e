// Package nav answers "what can play next" questions over the loaded phrase
// graph. It never modifies the graph.
package nav

import (
	"math"
	"math/rand/v2"
	"sort"
	"sync"

	"github.com/jwulff/musicmill/internal/graph"
)

// Source provides the current graph snapshot; *graph.Store satisfies it.
type Source interface {
	Snapshot() *graph.Snapshot
}

// Weigher re-scores a link using learned feedback; *db.Store satisfies it.
type Weigher interface {
	AdjustedWeight(base float64, fromID, toID string) (float64, error)
}

// RankedLink is a link with its feedback-adjusted weight.
type RankedLink struct {
	graph.PhraseLink
	Adjusted float64
	Target   *graph.PhraseNode
}

// Navigator runs queries against whatever graph the Source currently holds.
type Navigator struct {
	src     Source
	weigher Weigher

	mu  sync.Mutex
	rng *rand.Rand
}

// Option configures a Navigator.
type Option func(*Navigator)

// WithWeigher makes RankedLinks blend in learned feedback.
func WithWeigher(w Weigher) Option {
	return func(n *Navigator) { n.weigher = w }
}

// WithRand sets the random source used by RandomStart.
func WithRand(r *rand.Rand) Option {
	return func(n *Navigator) { n.rng = r }
}

func New(src Source, opts ...Option) *Navigator {
	n := &Navigator{src: src}
	for _, opt := range opts {
		opt(n)
	}
	if n.rng == nil {
		n.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return n
}

// Phrase returns the node with the given id, or nil.
func (n *Navigator) Phrase(id string) *graph.PhraseNode {
	snap := n.src.Snapshot()
	if snap == nil {
		return nil
	}
	node, _ := snap.Node(id)
	return node
}

// PhrasesForTrack returns a track's phrases by ascending position.
func (n *Navigator) PhrasesForTrack(track string) []*graph.PhraseNode {
	snap := n.src.Snapshot()
	if snap == nil {
		return nil
	}
	return snap.TrackNodes(track)
}

// Links returns a phrase's links by descending weight, ties by target id.
func (n *Navigator) Links(phraseID string) []graph.PhraseLink {
	node := n.Phrase(phraseID)
	if node == nil {
		return nil
	}
	links := append([]graph.PhraseLink(nil), node.Links...)
	sortLinks(links)
	return links
}

// NextInSequence follows the original-sequence link, falling back to the
// phrase at TrackIndex+1 of the same track. Nil at the end of a track.
func (n *Navigator) NextInSequence(phraseID string) *graph.PhraseNode {
	snap := n.src.Snapshot()
	if snap == nil {
		return nil
	}
	node, ok := snap.Node(phraseID)
	if !ok {
		return nil
	}
	for _, l := range node.Links {
		if !l.IsOriginalSequence {
			continue
		}
		if next, ok := snap.Node(l.TargetID); ok {
			return next
		}
		break
	}
	next, _ := snap.NodeAt(node.SourceTrack, node.TrackIndex+1)
	return next
}

// Alternatives returns up to limit targets of non-sequence links, strongest
// first. Links whose target is missing are skipped.
func (n *Navigator) Alternatives(phraseID string, limit int) []*graph.PhraseNode {
	snap := n.src.Snapshot()
	if snap == nil || limit <= 0 {
		return nil
	}
	node, ok := snap.Node(phraseID)
	if !ok {
		return nil
	}

	links := alternativeLinks(node)
	sortLinks(links)

	out := make([]*graph.PhraseNode, 0, min(limit, len(links)))
	for _, l := range links {
		if len(out) == limit {
			break
		}
		if target, ok := snap.Node(l.TargetID); ok {
			out = append(out, target)
		}
	}
	return out
}

// PhrasesByEnergy returns non-sequence alternatives whose energy is strictly
// above (higher) or below the reference phrase, closest energy first.
func (n *Navigator) PhrasesByEnergy(phraseID string, higher bool, limit int) []*graph.PhraseNode {
	snap := n.src.Snapshot()
	if snap == nil || limit <= 0 {
		return nil
	}
	ref, ok := snap.Node(phraseID)
	if !ok {
		return nil
	}

	var out []*graph.PhraseNode
	for _, l := range alternativeLinks(ref) {
		target, ok := snap.Node(l.TargetID)
		if !ok {
			continue
		}
		if (higher && target.Energy > ref.Energy) || (!higher && target.Energy < ref.Energy) {
			out = append(out, target)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		di := math.Abs(out[i].Energy - ref.Energy)
		dj := math.Abs(out[j].Energy - ref.Energy)
		if di != dj {
			return di < dj
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// RandomStart picks uniformly among intro phrases, or among all phrases when
// the graph has no intros. Nil on an empty graph.
func (n *Navigator) RandomStart() *graph.PhraseNode {
	snap := n.src.Snapshot()
	if snap == nil || snap.Len() == 0 {
		return nil
	}

	var intros, all []*graph.PhraseNode
	snap.Each(func(p *graph.PhraseNode) {
		all = append(all, p)
		if p.SegmentType == graph.SegmentIntro {
			intros = append(intros, p)
		}
	})
	pool := all
	if len(intros) > 0 {
		pool = intros
	}

	n.mu.Lock()
	i := n.rng.IntN(len(pool))
	n.mu.Unlock()
	return pool[i]
}

// RankedLinks returns every link of a phrase re-weighted by the Weigher,
// highest adjusted weight first. Without a Weigher the adjusted weight is the
// static weight. A Weigher failure keeps the static weight for that link and
// is returned alongside the full result.
func (n *Navigator) RankedLinks(phraseID string) ([]RankedLink, error) {
	snap := n.src.Snapshot()
	if snap == nil {
		return nil, nil
	}
	node, ok := snap.Node(phraseID)
	if !ok {
		return nil, nil
	}

	var firstErr error
	out := make([]RankedLink, 0, len(node.Links))
	for _, l := range node.Links {
		rl := RankedLink{PhraseLink: l, Adjusted: l.Weight}
		rl.Target, _ = snap.Node(l.TargetID)
		if n.weigher != nil {
			w, err := n.weigher.AdjustedWeight(l.Weight, node.ID, l.TargetID)
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
			} else {
				rl.Adjusted = w
			}
		}
		out = append(out, rl)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Adjusted != out[j].Adjusted {
			return out[i].Adjusted > out[j].Adjusted
		}
		return out[i].TargetID < out[j].TargetID
	})
	return out, firstErr
}

func alternativeLinks(node *graph.PhraseNode) []graph.PhraseLink {
	links := make([]graph.PhraseLink, 0, len(node.Links))
	for _, l := range node.Links {
		if !l.IsOriginalSequence {
			links = append(links, l)
		}
	}
	return links
}

func sortLinks(links []graph.PhraseLink) {
	sort.SliceStable(links, func(i, j int) bool {
		if links[i].Weight != links[j].Weight {
			return links[i].Weight > links[j].Weight
		}
		return links[i].TargetID < links[j].TargetID
	})
}
