package graph

import (
	"fmt"
	"strings"
)

// ValidationError lists every structural problem found in a graph.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	const shown = 5
	if len(e.Problems) <= shown {
		return "invalid graph: " + strings.Join(e.Problems, "; ")
	}
	return fmt.Sprintf("invalid graph: %s; and %d more",
		strings.Join(e.Problems[:shown], "; "), len(e.Problems)-shown)
}

type trackPos struct {
	track string
	index int
}

// Validate checks the invariants the store relies on: unique non-empty node
// ids, unique positions within a track, resolvable link targets, one link per
// (source, target), and at most one original-sequence link per node which
// must point at the next phrase of the same track.
func Validate(g *PhraseGraph) error {
	if g == nil {
		return &ValidationError{Problems: []string{"nil graph"}}
	}

	var problems []string
	ids := make(map[string]int, len(g.Nodes))
	positions := make(map[trackPos]string, len(g.Nodes))

	for i := range g.Nodes {
		n := &g.Nodes[i]
		if n.ID == "" {
			problems = append(problems, fmt.Sprintf("node %d has empty id", i))
			continue
		}
		if _, dup := ids[n.ID]; dup {
			problems = append(problems, fmt.Sprintf("duplicate node id %s", n.ID))
			continue
		}
		ids[n.ID] = i

		pos := trackPos{n.SourceTrack, n.TrackIndex}
		if other, dup := positions[pos]; dup {
			problems = append(problems, fmt.Sprintf("nodes %s and %s share position %d of %s",
				other, n.ID, n.TrackIndex, n.SourceTrack))
			continue
		}
		positions[pos] = n.ID
	}

	for i := range g.Nodes {
		n := &g.Nodes[i]
		if n.ID == "" {
			continue
		}
		seen := make(map[string]bool, len(n.Links))
		sequenceLinks := 0
		for _, l := range n.Links {
			if seen[l.TargetID] {
				problems = append(problems, fmt.Sprintf("node %s links to %s more than once", n.ID, l.TargetID))
				continue
			}
			seen[l.TargetID] = true

			ti, ok := ids[l.TargetID]
			if !ok {
				problems = append(problems, fmt.Sprintf("node %s links to unknown node %s", n.ID, l.TargetID))
				continue
			}
			if !l.IsOriginalSequence {
				continue
			}
			sequenceLinks++
			target := &g.Nodes[ti]
			if target.SourceTrack != n.SourceTrack || target.TrackIndex != n.TrackIndex+1 {
				problems = append(problems, fmt.Sprintf("node %s original-sequence link to %s is not the next phrase of its track",
					n.ID, l.TargetID))
			}
		}
		if sequenceLinks > 1 {
			problems = append(problems, fmt.Sprintf("node %s has %d original-sequence links", n.ID, sequenceLinks))
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
