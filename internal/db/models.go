// Package db is the relationship store: an append-only log of transition
// events plus user-authored transition notes, sessions and phrase tags, kept
// in one embedded SQLite database.
package db

import (
	"time"

	"github.com/jwulff/musicmill/internal/feedback"
)

// EventSource says where a transition was used.
type EventSource string

const (
	SourcePractice    EventSource = "practice"
	SourcePerformance EventSource = "performance"
	SourceManual      EventSource = "manual"
	SourceImport      EventSource = "import"
)

// EventAction says what happened to a transition.
type EventAction string

const (
	ActionPlayed  EventAction = "played"
	ActionRated   EventAction = "rated"
	ActionSkipped EventAction = "skipped"
	ActionAborted EventAction = "aborted"
)

// SessionType distinguishes practice runs from live sets.
type SessionType string

const (
	SessionPractice    SessionType = "practice"
	SessionPerformance SessionType = "performance"
)

// Rhythm styles for PhraseTags.RhythmStyle.
const (
	RhythmFourOnFloor = "fourOnFloor"
	RhythmBreakbeat   = "breakbeat"
	RhythmHalftime    = "halftime"
	RhythmSyncopated  = "syncopated"
	RhythmAmbient     = "ambient"
)

// Transition is user-authored metadata for a (from, to) phrase pair.
type Transition struct {
	FromPhraseID string            `json:"fromPhraseId"`
	ToPhraseID   string            `json:"toPhraseId"`
	Notes        string            `json:"notes,omitempty"`
	Technique    string            `json:"technique,omitempty"`
	BarCount     *int              `json:"barCount,omitempty"`
	Rating       int               `json:"rating"` // manual quality, -2..+2
	Tags         []string          `json:"tags,omitempty"`
	Properties   map[string]string `json:"properties,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
	UpdatedAt    time.Time         `json:"updatedAt"`
}

// EventContext captures mixer state at the moment of a transition.
type EventContext struct {
	EQLow      *float64 `json:"eqLow,omitempty"`
	EQMid      *float64 `json:"eqMid,omitempty"`
	EQHigh     *float64 `json:"eqHigh,omitempty"`
	BarCount   *int     `json:"barCount,omitempty"`
	TempoDelta *float64 `json:"tempoDelta,omitempty"`
}

// TransitionEvent is one immutable log entry.
type TransitionEvent struct {
	ID           string        `json:"id"`
	FromPhraseID string        `json:"fromPhraseId"`
	ToPhraseID   string        `json:"toPhraseId"`
	Timestamp    time.Time     `json:"timestamp"`
	Source       EventSource   `json:"source"`
	Action       EventAction   `json:"action"`
	Rating       *int          `json:"rating,omitempty"` // -1, 0 or +1
	Context      *EventContext `json:"context,omitempty"`
	SessionID    string        `json:"sessionId,omitempty"`
	Comment      string        `json:"comment,omitempty"`
}

// Session groups events from one practice or performance run.
type Session struct {
	ID        string      `json:"id"`
	StartedAt time.Time   `json:"startedAt"`
	EndedAt   *time.Time  `json:"endedAt,omitempty"`
	Type      SessionType `json:"type"`
	Notes     string      `json:"notes,omitempty"`
}

// PhraseTags holds per-phrase user overrides. One row per phrase.
type PhraseTags struct {
	PhraseID       string    `json:"phraseId"`
	EnergyOverride *float64  `json:"energyOverride,omitempty"`
	RhythmStyle    string    `json:"rhythmStyle,omitempty"`
	MoodTags       []string  `json:"moodTags,omitempty"`
	CustomTags     []string  `json:"customTags,omitempty"`
	Notes          string    `json:"notes,omitempty"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// TransitionWithFeedback pairs a transition with freshly derived statistics.
type TransitionWithFeedback struct {
	Transition
	Feedback feedback.Stats `json:"feedback"`
}
