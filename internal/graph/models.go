// Package graph holds the phrase graph: phrases of source tracks connected by
// weighted candidate transitions, persisted as one JSON file per collection.
package graph

import "time"

// CurrentVersion is the format version written by Save when none is set.
const CurrentVersion = "1.1"

// Segment types produced by the analysis pipeline.
const (
	SegmentIntro     = "intro"
	SegmentVerse     = "verse"
	SegmentChorus    = "chorus"
	SegmentBridge    = "bridge"
	SegmentBreakdown = "breakdown"
	SegmentBuildup   = "buildup"
	SegmentDrop      = "drop"
	SegmentOutro     = "outro"
)

// Suggested transition techniques attached to links.
const (
	TransitionCrossfade = "crossfade"
	TransitionEQSwap    = "eqSwap"
	TransitionFilter    = "filter"
	TransitionCut       = "cut"
)

// PhraseGraph is one analyzed collection. It is replaced wholesale on save.
type PhraseGraph struct {
	Version        string       `json:"version"`
	CreatedAt      time.Time    `json:"-"`
	CollectionPath string       `json:"collectionPath"`
	Nodes          []PhraseNode `json:"nodes"`
}

// PhraseNode is a scored segment of a source track.
type PhraseNode struct {
	ID               string       `json:"id"`
	SourceTrack      string       `json:"sourceTrack"`
	SourceTrackName  string       `json:"sourceTrackName"`
	TrackIndex       int          `json:"trackIndex"`
	AudioFile        string       `json:"audioFile"`
	Tempo            float64      `json:"tempo"`
	Key              *string      `json:"key"`
	Energy           float64      `json:"energy"`
	SpectralCentroid float64      `json:"spectralCentroid"`
	SegmentType      string       `json:"segmentType"`
	Duration         float64      `json:"duration"`
	StartTime        *float64     `json:"startTime,omitempty"`
	EndTime          *float64     `json:"endTime,omitempty"`
	Beats            []float64    `json:"beats"`
	Downbeats        []float64    `json:"downbeats"`
	Waveform         *Waveform    `json:"waveform,omitempty"`
	Links            []PhraseLink `json:"links"`
}

// KeyName returns the musical key or "" when unknown.
func (n *PhraseNode) KeyName() string {
	if n.Key == nil {
		return ""
	}
	return *n.Key
}

// PhraseLink is a directed candidate transition. TargetID identifies the
// link within its source node.
type PhraseLink struct {
	TargetID            string  `json:"targetId"`
	Weight              float64 `json:"weight"`
	IsOriginalSequence  bool    `json:"isOriginalSequence"`
	SuggestedTransition string  `json:"suggestedTransition"`
	TempoScore          float64 `json:"tempoScore"`
	KeyScore            float64 `json:"keyScore"`
	EnergyScore         float64 `json:"energyScore"`
	SpectralScore       float64 `json:"spectralScore"`
}

// Waveform is a low-resolution three-band display waveform, each band 0-1.
type Waveform struct {
	Low    []float64 `json:"low"`
	Mid    []float64 `json:"mid"`
	High   []float64 `json:"high"`
	Points int       `json:"points"`
}

// LinkCount returns the total number of links in the graph.
func (g *PhraseGraph) LinkCount() int {
	n := 0
	for i := range g.Nodes {
		n += len(g.Nodes[i].Links)
	}
	return n
}

// clone copies the node and link slices so later edits by the caller cannot
// reach an installed graph.
func (g *PhraseGraph) clone() *PhraseGraph {
	out := *g
	out.Nodes = make([]PhraseNode, len(g.Nodes))
	for i, n := range g.Nodes {
		n.Links = append([]PhraseLink(nil), n.Links...)
		n.Beats = append([]float64(nil), n.Beats...)
		n.Downbeats = append([]float64(nil), n.Downbeats...)
		out.Nodes[i] = n
	}
	return &out
}
