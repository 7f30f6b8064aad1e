package nav

import (
	"sort"
	"strings"

	"github.com/jwulff/musicmill/internal/graph"
)

// Range and category filters. Results keep graph order.

// PhrasesInTempoRange returns phrases with lo <= tempo <= hi.
func (n *Navigator) PhrasesInTempoRange(lo, hi float64) []*graph.PhraseNode {
	return n.filter(func(p *graph.PhraseNode) bool {
		return p.Tempo >= lo && p.Tempo <= hi
	})
}

// PhrasesInKey returns phrases in the given key (case-insensitive).
func (n *Navigator) PhrasesInKey(key string) []*graph.PhraseNode {
	return n.filter(func(p *graph.PhraseNode) bool {
		return p.Key != nil && strings.EqualFold(*p.Key, key)
	})
}

// PhrasesInEnergyRange returns phrases with lo <= energy <= hi.
func (n *Navigator) PhrasesInEnergyRange(lo, hi float64) []*graph.PhraseNode {
	return n.filter(func(p *graph.PhraseNode) bool {
		return p.Energy >= lo && p.Energy <= hi
	})
}

// PhrasesOfType returns phrases with the given segment type.
func (n *Navigator) PhrasesOfType(segmentType string) []*graph.PhraseNode {
	return n.filter(func(p *graph.PhraseNode) bool {
		return p.SegmentType == segmentType
	})
}

// Tracks returns the distinct source tracks, sorted.
func (n *Navigator) Tracks() []string {
	snap := n.src.Snapshot()
	if snap == nil {
		return nil
	}
	return snap.Tracks()
}

// SegmentTypes returns the distinct segment types present, sorted.
func (n *Navigator) SegmentTypes() []string {
	seen := make(map[string]bool)
	var types []string
	for _, p := range n.filter(func(*graph.PhraseNode) bool { return true }) {
		if !seen[p.SegmentType] {
			seen[p.SegmentType] = true
			types = append(types, p.SegmentType)
		}
	}
	sort.Strings(types)
	return types
}

func (n *Navigator) filter(keep func(*graph.PhraseNode) bool) []*graph.PhraseNode {
	snap := n.src.Snapshot()
	if snap == nil {
		return nil
	}
	var out []*graph.PhraseNode
	snap.Each(func(p *graph.PhraseNode) {
		if keep(p) {
			out = append(out, p)
		}
	})
	return out
}
