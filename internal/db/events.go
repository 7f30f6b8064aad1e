package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	perrors "github.com/jwulff/musicmill/internal/pkg/errors"
)

const eventColumns = `id, fromPhraseId, toPhraseId, timestamp, source, action, rating,
	context, sessionId, comment`

// LogEvent appends an event to the log. A zero ID or timestamp is filled in.
// A default Transition row is created for the pair first if none exists; the
// two statements are not atomic, which is harmless because the upsert is
// idempotent.
func (s *Store) LogEvent(ev TransitionEvent) (TransitionEvent, error) {
	const op = "log event"
	db, err := s.conn(op)
	if err != nil {
		return TransitionEvent{}, err
	}
	if ev.FromPhraseID == "" || ev.ToPhraseID == "" {
		return TransitionEvent{}, perrors.Newf(perrors.ErrExecutionFailed, op, "phrase pair is required")
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	var context sql.NullString
	if ev.Context != nil {
		text, err := encodeJSON(ev.Context)
		if err != nil {
			return TransitionEvent{}, perrors.New(perrors.ErrExecutionFailed, op, err)
		}
		context = sql.NullString{String: text, Valid: true}
	}
	var rating sql.NullInt64
	if ev.Rating != nil {
		rating = sql.NullInt64{Int64: int64(*ev.Rating), Valid: true}
	}

	if err := ensureTransition(db, ev.FromPhraseID, ev.ToPhraseID, ev.Timestamp); err != nil {
		return TransitionEvent{}, s.writeErr(op, fmt.Errorf("ensure transition: %w", err))
	}

	_, err = db.Exec(`INSERT INTO transition_events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.FromPhraseID, ev.ToPhraseID, unixSeconds(ev.Timestamp),
		string(ev.Source), string(ev.Action), rating, context,
		nullString(ev.SessionID), nullString(ev.Comment))
	if err != nil {
		return TransitionEvent{}, s.writeErr(op, err)
	}

	s.log.Debug("event logged", "action", ev.Action, "from", ev.FromPhraseID, "to", ev.ToPhraseID)
	return ev, nil
}

// LogPlayed records that a transition was played, attributed to the current
// session if one is active.
func (s *Store) LogPlayed(fromID, toID string, source EventSource, ctx *EventContext) (TransitionEvent, error) {
	return s.LogEvent(TransitionEvent{
		FromPhraseID: fromID,
		ToPhraseID:   toID,
		Source:       source,
		Action:       ActionPlayed,
		Context:      ctx,
		SessionID:    s.currentSessionID(),
	})
}

// LogRating records a -1, 0 or +1 rating for a transition.
func (s *Store) LogRating(fromID, toID string, rating int, source EventSource, comment string) (TransitionEvent, error) {
	return s.LogEvent(TransitionEvent{
		FromPhraseID: fromID,
		ToPhraseID:   toID,
		Source:       source,
		Action:       ActionRated,
		Rating:       &rating,
		SessionID:    s.currentSessionID(),
		Comment:      comment,
	})
}

// LogSkipped records that a candidate transition was passed over.
func (s *Store) LogSkipped(fromID, toID string, source EventSource) (TransitionEvent, error) {
	return s.LogEvent(TransitionEvent{
		FromPhraseID: fromID,
		ToPhraseID:   toID,
		Source:       source,
		Action:       ActionSkipped,
		SessionID:    s.currentSessionID(),
	})
}

// EventsForPair returns the newest events for a pair, newest first. A limit
// of zero or less returns all of them.
func (s *Store) EventsForPair(fromID, toID string, limit int) ([]TransitionEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM transition_events
		WHERE fromPhraseId = ? AND toPhraseId = ?
		ORDER BY timestamp DESC, rowid DESC`
	args := []any{fromID, toID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryEvents("events for pair", query, args...)
}

// EventsForSession returns a session's events in the order they happened.
func (s *Store) EventsForSession(sessionID string) ([]TransitionEvent, error) {
	return s.queryEvents("events for session", `SELECT `+eventColumns+` FROM transition_events
		WHERE sessionId = ? ORDER BY timestamp ASC, rowid ASC`, sessionID)
}

func (s *Store) queryEvents(op, query string, args ...any) ([]TransitionEvent, error) {
	db, err := s.conn(op)
	if err != nil {
		return nil, err
	}
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, s.readErr(op, err)
	}
	defer rows.Close()

	var events []TransitionEvent
	for rows.Next() {
		var ev TransitionEvent
		var ts float64
		var source, action string
		var rating sql.NullInt64
		var context, sessionID, comment sql.NullString

		if err := rows.Scan(&ev.ID, &ev.FromPhraseID, &ev.ToPhraseID, &ts, &source, &action,
			&rating, &context, &sessionID, &comment); err != nil {
			return nil, s.readErr(op, fmt.Errorf("scan event: %w", err))
		}

		ev.Timestamp = timeFromUnix(ts)
		ev.Source = EventSource(source)
		ev.Action = EventAction(action)
		if rating.Valid {
			r := int(rating.Int64)
			ev.Rating = &r
		}
		if context.Valid {
			var c EventContext
			if err := decodeJSON(op, "context", context.String, &c); err != nil {
				return nil, err
			}
			ev.Context = &c
		}
		ev.SessionID = sessionID.String
		ev.Comment = comment.String
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, s.readErr(op, err)
	}
	return events, nil
}
