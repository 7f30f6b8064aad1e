package app

import (
	"github.com/jwulff/musicmill/internal/db"
	"github.com/jwulff/musicmill/internal/feedback"
	"github.com/jwulff/musicmill/internal/graph"
	"github.com/jwulff/musicmill/internal/nav"
)

// GraphLoadedMsg is sent after the phrase graph has been read from disk.
type GraphLoadedMsg struct {
	Nodes  int
	Tracks int
}

// GraphLoadErrorMsg is sent when the phrase graph could not be loaded.
type GraphLoadErrorMsg struct {
	Err error
}

// PhraseChangedMsg moves the console to a new current phrase.
type PhraseChangedMsg struct {
	Phrase *graph.PhraseNode
	// Via is the transition that led here; nil for a fresh start.
	Via *TransitionRef
	// Event is the played event logged for Via.
	Event *db.TransitionEvent
}

// LinksLoadedMsg carries the ranked outgoing links of a phrase.
type LinksLoadedMsg struct {
	PhraseID string
	Links    []LinkDisplay
	// Err is set when feedback could not be read; Links then use static weights.
	Err error
}

// LinkDisplay is one row of the links panel.
type LinkDisplay struct {
	nav.RankedLink
	Stats feedback.Stats
}

// EventLoggedMsg is sent after an event was written to the relationship store.
type EventLoggedMsg struct {
	Event db.TransitionEvent
}

// SessionChangedMsg carries the new current session, nil when idle.
type SessionChangedMsg struct {
	Session *db.Session
}

// ErrorMsg reports a failed store operation.
type ErrorMsg struct {
	Err       error
	Transient bool
}

// StatusMsg replaces the status text.
type StatusMsg struct {
	Text string
}

// ClearTransientErrorMsg clears a transient error after a timeout.
type ClearTransientErrorMsg struct{}

// TransitionRef names a played transition.
type TransitionRef struct {
	From string
	To   string
}
