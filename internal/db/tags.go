package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	perrors "github.com/jwulff/musicmill/internal/pkg/errors"
)

const tagColumns = `phraseId, energyOverride, rhythmStyle, moodTags, customTags, notes, updatedAt`

// SavePhraseTags replaces the tags stored for a phrase.
func (s *Store) SavePhraseTags(tags PhraseTags) error {
	const op = "save phrase tags"
	db, err := s.conn(op)
	if err != nil {
		return err
	}
	if tags.PhraseID == "" {
		return perrors.Newf(perrors.ErrExecutionFailed, op, "phrase id is required")
	}
	if tags.MoodTags == nil {
		tags.MoodTags = []string{}
	}
	if tags.CustomTags == nil {
		tags.CustomTags = []string{}
	}
	mood, err := encodeJSON(tags.MoodTags)
	if err != nil {
		return perrors.New(perrors.ErrExecutionFailed, op, err)
	}
	custom, err := encodeJSON(tags.CustomTags)
	if err != nil {
		return perrors.New(perrors.ErrExecutionFailed, op, err)
	}

	var energy sql.NullFloat64
	if tags.EnergyOverride != nil {
		energy = sql.NullFloat64{Float64: *tags.EnergyOverride, Valid: true}
	}

	_, err = db.Exec(`INSERT OR REPLACE INTO phrase_tags (`+tagColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tags.PhraseID, energy, tags.RhythmStyle, mood, custom, tags.Notes, unixSeconds(time.Now()))
	if err != nil {
		return s.writeErr(op, err)
	}
	return nil
}

// GetPhraseTags returns the tags for a phrase, or nil if none are stored.
func (s *Store) GetPhraseTags(phraseID string) (*PhraseTags, error) {
	const op = "get phrase tags"
	db, err := s.conn(op)
	if err != nil {
		return nil, err
	}
	tags, err := scanPhraseTags(op, db.QueryRow(`SELECT `+tagColumns+` FROM phrase_tags WHERE phraseId = ?`, phraseID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		if errors.Is(err, perrors.ErrCorruptData) {
			return nil, err
		}
		return nil, s.readErr(op, err)
	}
	return tags, nil
}

// AllPhraseTags returns every tagged phrase ordered by phrase ID.
func (s *Store) AllPhraseTags() ([]PhraseTags, error) {
	const op = "all phrase tags"
	db, err := s.conn(op)
	if err != nil {
		return nil, err
	}
	rows, err := db.Query(`SELECT ` + tagColumns + ` FROM phrase_tags ORDER BY phraseId ASC`)
	if err != nil {
		return nil, s.readErr(op, err)
	}
	defer rows.Close()

	var out []PhraseTags
	for rows.Next() {
		tags, err := scanPhraseTags(op, rows)
		if err != nil {
			if errors.Is(err, perrors.ErrCorruptData) {
				return nil, err
			}
			return nil, s.readErr(op, fmt.Errorf("scan phrase tags: %w", err))
		}
		out = append(out, *tags)
	}
	if err := rows.Err(); err != nil {
		return nil, s.readErr(op, err)
	}
	return out, nil
}

func scanPhraseTags(op string, sc scanner) (*PhraseTags, error) {
	var t PhraseTags
	var energy sql.NullFloat64
	var mood, custom string
	var updatedAt float64

	if err := sc.Scan(&t.PhraseID, &energy, &t.RhythmStyle, &mood, &custom, &t.Notes, &updatedAt); err != nil {
		return nil, err
	}
	if energy.Valid {
		e := energy.Float64
		t.EnergyOverride = &e
	}
	if err := decodeJSON(op, "moodTags", mood, &t.MoodTags); err != nil {
		return nil, err
	}
	if err := decodeJSON(op, "customTags", custom, &t.CustomTags); err != nil {
		return nil, err
	}
	t.UpdatedAt = timeFromUnix(updatedAt)
	return &t, nil
}
