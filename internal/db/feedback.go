package db

import (
	"database/sql"
	"fmt"
	"sort"

	"github.com/jwulff/musicmill/internal/feedback"
)

// GetFeedback derives statistics for a pair by scanning its events. Nothing
// is cached; a pair with no events yields zero Stats.
func (s *Store) GetFeedback(fromID, toID string) (feedback.Stats, error) {
	const op = "get feedback"
	db, err := s.conn(op)
	if err != nil {
		return feedback.Stats{}, err
	}

	var practice, performance int
	rows, err := db.Query(`SELECT source, COUNT(*) FROM transition_events
		WHERE fromPhraseId = ? AND toPhraseId = ? AND action = 'played'
		GROUP BY source`, fromID, toID)
	if err != nil {
		return feedback.Stats{}, s.readErr(op, err)
	}
	for rows.Next() {
		var source string
		var n int
		if err := rows.Scan(&source, &n); err != nil {
			rows.Close()
			return feedback.Stats{}, s.readErr(op, fmt.Errorf("scan play counts: %w", err))
		}
		switch EventSource(source) {
		case SourcePractice:
			practice = n
		case SourcePerformance:
			performance = n
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return feedback.Stats{}, s.readErr(op, err)
	}
	rows.Close()

	rows, err = db.Query(`SELECT rating FROM transition_events
		WHERE fromPhraseId = ? AND toPhraseId = ? AND rating IS NOT NULL
		ORDER BY timestamp DESC, rowid DESC LIMIT ?`, fromID, toID, feedback.MaxRatings)
	if err != nil {
		return feedback.Stats{}, s.readErr(op, err)
	}
	var ratings []int
	for rows.Next() {
		var r int
		if err := rows.Scan(&r); err != nil {
			rows.Close()
			return feedback.Stats{}, s.readErr(op, fmt.Errorf("scan rating: %w", err))
		}
		ratings = append(ratings, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return feedback.Stats{}, s.readErr(op, err)
	}
	rows.Close()

	var last sql.NullFloat64
	if err := db.QueryRow(`SELECT MAX(timestamp) FROM transition_events
		WHERE fromPhraseId = ? AND toPhraseId = ?`, fromID, toID).Scan(&last); err != nil {
		return feedback.Stats{}, s.readErr(op, err)
	}

	stats := feedback.NewStats(practice, performance, ratings, nil)
	if last.Valid {
		t := timeFromUnix(last.Float64)
		stats.LastUsed = &t
	}
	return stats, nil
}

// AdjustedWeight blends a graph edge's static weight with the pair's feedback.
func (s *Store) AdjustedWeight(base float64, fromID, toID string) (float64, error) {
	stats, err := s.GetFeedback(fromID, toID)
	if err != nil {
		return base, err
	}
	return feedback.AdjustedWeight(base, stats), nil
}

// AllTransitionsWithFeedback returns every transition with fresh statistics.
func (s *Store) AllTransitionsWithFeedback() ([]TransitionWithFeedback, error) {
	transitions, err := s.AllTransitions()
	if err != nil {
		return nil, err
	}
	return s.withFeedback(transitions)
}

// TopTransitions ranks the transitions leaving a phrase by
// feedback.RankScore, best first, ties broken by target ID.
func (s *Store) TopTransitions(fromID string, limit int) ([]TransitionWithFeedback, error) {
	if limit <= 0 {
		return nil, nil
	}
	transitions, err := s.TransitionsFrom(fromID)
	if err != nil {
		return nil, err
	}
	ranked, err := s.withFeedback(transitions)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		si, sj := feedback.RankScore(ranked[i].Feedback), feedback.RankScore(ranked[j].Feedback)
		if si != sj {
			return si > sj
		}
		return ranked[i].ToPhraseID < ranked[j].ToPhraseID
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}

// withFeedback runs after the transition rows are closed; the store holds a
// single connection.
func (s *Store) withFeedback(transitions []Transition) ([]TransitionWithFeedback, error) {
	out := make([]TransitionWithFeedback, 0, len(transitions))
	for _, t := range transitions {
		stats, err := s.GetFeedback(t.FromPhraseID, t.ToPhraseID)
		if err != nil {
			return nil, err
		}
		out = append(out, TransitionWithFeedback{Transition: t, Feedback: stats})
	}
	return out, nil
}
