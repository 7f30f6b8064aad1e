package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	perrors "github.com/jwulff/musicmill/internal/pkg/errors"
)

const transitionColumns = `fromPhraseId, toPhraseId, notes, technique, barCount, rating,
	tags, properties, createdAt, updatedAt`

// SaveTransition inserts or replaces the metadata for a phrase pair. The
// original creation time is kept on update.
func (s *Store) SaveTransition(t Transition) error {
	const op = "save transition"
	db, err := s.conn(op)
	if err != nil {
		return err
	}
	if t.FromPhraseID == "" || t.ToPhraseID == "" {
		return perrors.Newf(perrors.ErrExecutionFailed, op, "phrase pair is required")
	}

	now := time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.Tags == nil {
		t.Tags = []string{}
	}
	if t.Properties == nil {
		t.Properties = map[string]string{}
	}
	tags, err := encodeJSON(t.Tags)
	if err != nil {
		return perrors.New(perrors.ErrExecutionFailed, op, err)
	}
	props, err := encodeJSON(t.Properties)
	if err != nil {
		return perrors.New(perrors.ErrExecutionFailed, op, err)
	}

	var barCount sql.NullInt64
	if t.BarCount != nil {
		barCount = sql.NullInt64{Int64: int64(*t.BarCount), Valid: true}
	}

	_, err = db.Exec(`
		INSERT INTO transitions (`+transitionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (fromPhraseId, toPhraseId) DO UPDATE SET
			notes = excluded.notes,
			technique = excluded.technique,
			barCount = excluded.barCount,
			rating = excluded.rating,
			tags = excluded.tags,
			properties = excluded.properties,
			updatedAt = excluded.updatedAt
	`, t.FromPhraseID, t.ToPhraseID, t.Notes, t.Technique, barCount, t.Rating,
		tags, props, unixSeconds(t.CreatedAt), unixSeconds(now))
	if err != nil {
		return s.writeErr(op, err)
	}
	return nil
}

// GetTransition returns the metadata for a pair, or nil if none exists.
func (s *Store) GetTransition(fromID, toID string) (*Transition, error) {
	const op = "get transition"
	db, err := s.conn(op)
	if err != nil {
		return nil, err
	}

	row := db.QueryRow(`SELECT `+transitionColumns+` FROM transitions
		WHERE fromPhraseId = ? AND toPhraseId = ?`, fromID, toID)
	t, err := scanTransition(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		if errors.Is(err, perrors.ErrCorruptData) {
			return nil, err
		}
		return nil, s.readErr(op, err)
	}
	return t, nil
}

// TransitionsFrom returns every transition leaving a phrase.
func (s *Store) TransitionsFrom(fromID string) ([]Transition, error) {
	return s.queryTransitions("transitions from", `SELECT `+transitionColumns+` FROM transitions
		WHERE fromPhraseId = ? ORDER BY toPhraseId ASC`, fromID)
}

// AllTransitions returns every transition, most recently updated first.
func (s *Store) AllTransitions() ([]Transition, error) {
	return s.queryTransitions("all transitions", `SELECT `+transitionColumns+` FROM transitions
		ORDER BY updatedAt DESC, fromPhraseId ASC, toPhraseId ASC`)
}

func (s *Store) queryTransitions(op, query string, args ...any) ([]Transition, error) {
	db, err := s.conn(op)
	if err != nil {
		return nil, err
	}
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, s.readErr(op, err)
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		t, err := scanTransition(rows)
		if err != nil {
			if errors.Is(err, perrors.ErrCorruptData) {
				return nil, err
			}
			return nil, s.readErr(op, fmt.Errorf("scan transition: %w", err))
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, s.readErr(op, err)
	}
	return out, nil
}

// ensureTransition creates a default row for the pair if none exists.
func ensureTransition(db *sql.DB, fromID, toID string, at time.Time) error {
	ts := unixSeconds(at)
	_, err := db.Exec(`
		INSERT INTO transitions (fromPhraseId, toPhraseId, createdAt, updatedAt)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (fromPhraseId, toPhraseId) DO NOTHING
	`, fromID, toID, ts, ts)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransition(sc scanner) (*Transition, error) {
	var t Transition
	var barCount sql.NullInt64
	var tags, props string
	var createdAt, updatedAt float64

	if err := sc.Scan(&t.FromPhraseID, &t.ToPhraseID, &t.Notes, &t.Technique, &barCount,
		&t.Rating, &tags, &props, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	if barCount.Valid {
		n := int(barCount.Int64)
		t.BarCount = &n
	}
	if err := decodeJSON("get transition", "tags", tags, &t.Tags); err != nil {
		return nil, err
	}
	if err := decodeJSON("get transition", "properties", props, &t.Properties); err != nil {
		return nil, err
	}
	t.CreatedAt = timeFromUnix(createdAt)
	t.UpdatedAt = timeFromUnix(updatedAt)
	return &t, nil
}
