// Package daemon serves the phrase graph and relationship store to playback
// clients over a Unix socket using NDJSON, and provides the matching client.
package daemon

import (
	"github.com/jwulff/musicmill/internal/db"
	"github.com/jwulff/musicmill/internal/feedback"
	"github.com/jwulff/musicmill/internal/graph"
	"github.com/jwulff/musicmill/internal/nav"
)

// Command names.
const (
	CmdStatus       = "status"
	CmdReload       = "reload"
	CmdPhrase       = "phrase"
	CmdNext         = "next"
	CmdAlternatives = "alternatives"
	CmdLinks        = "links"
	CmdRandom       = "random"
	CmdPlayed       = "played"
	CmdRated        = "rated"
	CmdSkipped      = "skipped"
	CmdStartSession = "start_session"
	CmdEndSession   = "end_session"
	CmdFeedback     = "feedback"
	CmdTop          = "top"
	CmdSubscribe    = "subscribe"
)

// Event names.
const (
	EventSession = "session"
	EventGraph   = "graph"
)

// Command is sent from a client to the daemon.
type Command struct {
	Cmd         string           `json:"cmd"`
	PhraseID    string           `json:"phraseId,omitempty"`
	From        string           `json:"from,omitempty"`
	To          string           `json:"to,omitempty"`
	Limit       *int             `json:"limit,omitempty"`
	Rating      *int             `json:"rating,omitempty"`
	Source      db.EventSource   `json:"source,omitempty"`
	Comment     string           `json:"comment,omitempty"`
	SessionType db.SessionType   `json:"sessionType,omitempty"`
	Notes       string           `json:"notes,omitempty"`
	Context     *db.EventContext `json:"context,omitempty"`
	Events      []string         `json:"events,omitempty"`
}

// Response is returned by the daemon after processing a command.
type Response struct {
	OK          bool                        `json:"ok"`
	Error       string                      `json:"error,omitempty"`
	Status      string                      `json:"status,omitempty"`
	Nodes       *int                        `json:"nodes,omitempty"`
	Tracks      *int                        `json:"tracks,omitempty"`
	Phrase      *Phrase                     `json:"phrase,omitempty"`
	Phrases     []Phrase                    `json:"phrases,omitempty"`
	Links       []Link                      `json:"links,omitempty"`
	EventID     string                      `json:"eventId,omitempty"`
	Session     *db.Session                 `json:"session,omitempty"`
	Feedback    *feedback.Stats             `json:"feedback,omitempty"`
	Weight      *float64                    `json:"weight,omitempty"`
	Adjusted    *float64                    `json:"adjusted,omitempty"`
	Transitions []db.TransitionWithFeedback `json:"transitions,omitempty"`
}

// Event is streamed from the daemon to subscribed clients.
type Event struct {
	Event   string      `json:"event"`
	Session *db.Session `json:"session,omitempty"`
	Active  *bool       `json:"active,omitempty"`
	Nodes   *int        `json:"nodes,omitempty"`
	Message string      `json:"message,omitempty"`
}

// Phrase is the wire summary of a graph node. Beat grids and waveforms stay
// in the graph file.
type Phrase struct {
	ID          string   `json:"id"`
	Track       string   `json:"track"`
	TrackName   string   `json:"trackName"`
	TrackIndex  int      `json:"trackIndex"`
	AudioFile   string   `json:"audioFile"`
	Tempo       float64  `json:"tempo"`
	Key         string   `json:"key,omitempty"`
	Energy      float64  `json:"energy"`
	SegmentType string   `json:"segmentType"`
	Duration    float64  `json:"duration"`
	StartTime   *float64 `json:"startTime,omitempty"`
}

// Link is one ranked outgoing transition.
type Link struct {
	TargetID   string  `json:"targetId"`
	Weight     float64 `json:"weight"`
	Adjusted   float64 `json:"adjusted"`
	Sequence   bool    `json:"sequence,omitempty"`
	Transition string  `json:"transition,omitempty"`
	Target     *Phrase `json:"target,omitempty"`
}

// PhraseFromNode converts a graph node for the wire. A nil node gives nil.
func PhraseFromNode(n *graph.PhraseNode) *Phrase {
	if n == nil {
		return nil
	}
	return &Phrase{
		ID:          n.ID,
		Track:       n.SourceTrack,
		TrackName:   n.SourceTrackName,
		TrackIndex:  n.TrackIndex,
		AudioFile:   n.AudioFile,
		Tempo:       n.Tempo,
		Key:         n.KeyName(),
		Energy:      n.Energy,
		SegmentType: n.SegmentType,
		Duration:    n.Duration,
		StartTime:   n.StartTime,
	}
}

func phrasesFromNodes(nodes []*graph.PhraseNode) []Phrase {
	out := make([]Phrase, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, *PhraseFromNode(n))
	}
	return out
}

func linksFromRanked(ranked []nav.RankedLink) []Link {
	out := make([]Link, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, Link{
			TargetID:   r.TargetID,
			Weight:     r.Weight,
			Adjusted:   r.Adjusted,
			Sequence:   r.IsOriginalSequence,
			Transition: r.SuggestedTransition,
			Target:     PhraseFromNode(r.Target),
		})
	}
	return out
}

// BoolPtr returns a pointer to a bool value. Convenience for building commands.
func BoolPtr(b bool) *bool { return &b }

// IntPtr returns a pointer to an int value.
func IntPtr(i int) *int { return &i }
