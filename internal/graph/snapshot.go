package graph

import "sort"

// Snapshot is an immutable, fully indexed graph. The store swaps whole
// snapshots, so a reader holding one never sees a partial index. Nodes
// returned from a snapshot must not be modified.
type Snapshot struct {
	graph   *PhraseGraph
	byID    map[string]int
	byTrack map[string][]int // node positions ordered by TrackIndex
	tracks  []string
}

// newSnapshot indexes a validated graph.
func newSnapshot(g *PhraseGraph) *Snapshot {
	s := &Snapshot{
		graph:   g,
		byID:    make(map[string]int, len(g.Nodes)),
		byTrack: make(map[string][]int),
	}
	for i := range g.Nodes {
		n := &g.Nodes[i]
		s.byID[n.ID] = i
		s.byTrack[n.SourceTrack] = append(s.byTrack[n.SourceTrack], i)
	}
	for track, idx := range s.byTrack {
		sort.Slice(idx, func(a, b int) bool {
			return g.Nodes[idx[a]].TrackIndex < g.Nodes[idx[b]].TrackIndex
		})
		s.tracks = append(s.tracks, track)
	}
	sort.Strings(s.tracks)
	return s
}

// Graph returns the indexed graph.
func (s *Snapshot) Graph() *PhraseGraph { return s.graph }

// Len returns the number of nodes.
func (s *Snapshot) Len() int { return len(s.graph.Nodes) }

// Node looks up a node by id.
func (s *Snapshot) Node(id string) (*PhraseNode, bool) {
	i, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	return &s.graph.Nodes[i], true
}

// NodeAt returns the phrase at a given position of a track.
func (s *Snapshot) NodeAt(track string, index int) (*PhraseNode, bool) {
	idx := s.byTrack[track]
	i := sort.Search(len(idx), func(i int) bool {
		return s.graph.Nodes[idx[i]].TrackIndex >= index
	})
	if i < len(idx) && s.graph.Nodes[idx[i]].TrackIndex == index {
		return &s.graph.Nodes[idx[i]], true
	}
	return nil, false
}

// TrackNodes returns a track's phrases in ascending TrackIndex order.
func (s *Snapshot) TrackNodes(track string) []*PhraseNode {
	idx := s.byTrack[track]
	out := make([]*PhraseNode, 0, len(idx))
	for _, i := range idx {
		out = append(out, &s.graph.Nodes[i])
	}
	return out
}

// Tracks returns the distinct source tracks, sorted.
func (s *Snapshot) Tracks() []string {
	return append([]string(nil), s.tracks...)
}

// Each calls fn for every node in graph order.
func (s *Snapshot) Each(fn func(*PhraseNode)) {
	for i := range s.graph.Nodes {
		fn(&s.graph.Nodes[i])
	}
}
