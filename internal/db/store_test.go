package db

import (
	"errors"
	"math"
	"path/filepath"
	"sync"
	"testing"

	perrors "github.com/jwulff/musicmill/internal/pkg/errors"
)

// openTestStore opens a fresh database file under the test's temp dir.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "relationships.sqlite"), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestOpenCloseIdempotent(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "sub", "relationships.sqlite"), nil)
	if err := s.Open(); err != nil {
		t.Fatalf("first open: %v", err)
	}
	if err := s.Open(); err != nil {
		t.Fatalf("second open: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	// Reopen keeps the schema and data file.
	if err := s.Open(); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	if _, err := s.LogPlayed("a", "b", SourcePractice, nil); err != nil {
		t.Fatalf("LogPlayed after reopen: %v", err)
	}
}

func TestClosedStoreUnavailable(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "relationships.sqlite"), nil)

	_, err := s.GetTransition("a", "b")
	if !errors.Is(err, perrors.ErrStoreUnavailable) {
		t.Errorf("GetTransition before open: got %v, want ErrStoreUnavailable", err)
	}

	if err := s.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}
	s.Close()

	if _, err := s.LogPlayed("a", "b", SourcePractice, nil); !errors.Is(err, perrors.ErrStoreUnavailable) {
		t.Errorf("LogPlayed after close: got %v, want ErrStoreUnavailable", err)
	}
	if _, err := s.GetFeedback("a", "b"); !errors.Is(err, perrors.ErrStoreUnavailable) {
		t.Errorf("GetFeedback after close: got %v, want ErrStoreUnavailable", err)
	}
}

func TestInMemoryStore(t *testing.T) {
	s, err := Open(":memory:", nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	if _, err := s.LogPlayed("a", "b", SourceManual, nil); err != nil {
		t.Fatalf("LogPlayed: %v", err)
	}
	stats, err := s.GetFeedback("a", "b")
	if err != nil {
		t.Fatalf("GetFeedback: %v", err)
	}
	// Manual plays do not count toward practice or performance.
	if stats.TotalCount() != 0 || stats.LastUsed == nil {
		t.Errorf("stats = %+v, want zero counts with lastUsed set", stats)
	}
}

func TestLogEventCreatesDefaultTransition(t *testing.T) {
	s := openTestStore(t)

	if tr, err := s.GetTransition("a", "b"); err != nil || tr != nil {
		t.Fatalf("GetTransition before any event = %v, %v; want nil, nil", tr, err)
	}

	ev, err := s.LogPlayed("a", "b", SourcePractice, nil)
	if err != nil {
		t.Fatalf("LogPlayed: %v", err)
	}
	if ev.ID == "" || ev.Timestamp.IsZero() {
		t.Errorf("event not filled in: %+v", ev)
	}

	tr, err := s.GetTransition("a", "b")
	if err != nil {
		t.Fatalf("GetTransition: %v", err)
	}
	if tr == nil {
		t.Fatal("expected a default transition row")
	}
	if tr.Rating != 0 || tr.Notes != "" || len(tr.Tags) != 0 || len(tr.Properties) != 0 {
		t.Errorf("default transition = %+v", tr)
	}

	// A second event leaves the existing row alone.
	if err := s.SaveTransition(Transition{FromPhraseID: "a", ToPhraseID: "b", Notes: "loop the hats"}); err != nil {
		t.Fatalf("SaveTransition: %v", err)
	}
	if _, err := s.LogPlayed("a", "b", SourcePractice, nil); err != nil {
		t.Fatalf("LogPlayed: %v", err)
	}
	tr, _ = s.GetTransition("a", "b")
	if tr.Notes != "loop the hats" {
		t.Errorf("notes = %q, want kept after second event", tr.Notes)
	}
}

func TestSaveTransitionUpsert(t *testing.T) {
	s := openTestStore(t)

	bars := 8
	in := Transition{
		FromPhraseID: "a",
		ToPhraseID:   "b",
		Notes:        "bass swap on the one",
		Technique:    "eqSwap",
		BarCount:     &bars,
		Rating:       2,
		Tags:         []string{"smooth", "peak"},
		Properties:   map[string]string{"fx": "reverb"},
	}
	if err := s.SaveTransition(in); err != nil {
		t.Fatalf("SaveTransition: %v", err)
	}
	first, err := s.GetTransition("a", "b")
	if err != nil || first == nil {
		t.Fatalf("GetTransition = %v, %v", first, err)
	}
	if first.Technique != "eqSwap" || *first.BarCount != 8 || first.Rating != 2 {
		t.Errorf("got %+v", first)
	}
	if len(first.Tags) != 2 || first.Tags[1] != "peak" || first.Properties["fx"] != "reverb" {
		t.Errorf("tags/properties = %v %v", first.Tags, first.Properties)
	}

	in.Rating = -1
	in.BarCount = nil
	if err := s.SaveTransition(in); err != nil {
		t.Fatalf("SaveTransition update: %v", err)
	}
	second, _ := s.GetTransition("a", "b")
	if second.Rating != -1 || second.BarCount != nil {
		t.Errorf("update not applied: %+v", second)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("createdAt changed: %v -> %v", first.CreatedAt, second.CreatedAt)
	}
}

func TestConstraintViolationsFail(t *testing.T) {
	s := openTestStore(t)

	err := s.SaveTransition(Transition{FromPhraseID: "a", ToPhraseID: "b", Rating: 3})
	if !errors.Is(err, perrors.ErrExecutionFailed) {
		t.Errorf("rating 3: got %v, want ErrExecutionFailed", err)
	}

	if _, err := s.LogRating("a", "b", 2, SourcePractice, ""); !errors.Is(err, perrors.ErrExecutionFailed) {
		t.Errorf("event rating 2: got %v, want ErrExecutionFailed", err)
	}
	if _, err := s.LogEvent(TransitionEvent{FromPhraseID: "a", ToPhraseID: "b", Source: "radio", Action: ActionPlayed}); !errors.Is(err, perrors.ErrExecutionFailed) {
		t.Errorf("unknown source: got %v, want ErrExecutionFailed", err)
	}

	events, err := s.EventsForPair("a", "b", 0)
	if err != nil {
		t.Fatalf("EventsForPair: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("rejected events were written: %d", len(events))
	}
}

func TestEventRoundTrip(t *testing.T) {
	s := openTestStore(t)

	low, delta := -0.5, 1.5
	bars := 16
	ctx := &EventContext{EQLow: &low, BarCount: &bars, TempoDelta: &delta}
	if _, err := s.LogPlayed("a", "b", SourcePerformance, ctx); err != nil {
		t.Fatalf("LogPlayed: %v", err)
	}
	if _, err := s.LogRating("a", "b", 1, SourcePerformance, "crowd loved it"); err != nil {
		t.Fatalf("LogRating: %v", err)
	}
	if _, err := s.LogSkipped("a", "b", SourcePerformance); err != nil {
		t.Fatalf("LogSkipped: %v", err)
	}

	events, err := s.EventsForPair("a", "b", 0)
	if err != nil {
		t.Fatalf("EventsForPair: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if events[0].Action != ActionSkipped || events[1].Action != ActionRated || events[2].Action != ActionPlayed {
		t.Errorf("order = %s %s %s, want newest first", events[0].Action, events[1].Action, events[2].Action)
	}
	if events[1].Rating == nil || *events[1].Rating != 1 || events[1].Comment != "crowd loved it" {
		t.Errorf("rated event = %+v", events[1])
	}
	played := events[2]
	if played.Context == nil || *played.Context.EQLow != -0.5 || *played.Context.BarCount != 16 || played.Context.EQMid != nil {
		t.Errorf("context = %+v", played.Context)
	}
	if played.SessionID != "" {
		t.Errorf("event logged while idle has session %q", played.SessionID)
	}

	limited, _ := s.EventsForPair("a", "b", 1)
	if len(limited) != 1 || limited[0].Action != ActionSkipped {
		t.Errorf("limit 1 = %+v", limited)
	}
}

func TestSessionLifecycle(t *testing.T) {
	s := openTestStore(t)

	var seen []*Session
	cancel := s.OnSessionChange(func(sess *Session) { seen = append(seen, sess) })

	if s.CurrentSession() != nil {
		t.Fatal("new store should be idle")
	}
	// Ending while idle is a no-op.
	if err := s.EndSession("nothing"); err != nil {
		t.Fatalf("EndSession while idle: %v", err)
	}
	if len(seen) != 0 {
		t.Errorf("idle end notified observers: %d", len(seen))
	}

	sess, err := s.StartSession(SessionPractice)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if cur := s.CurrentSession(); cur == nil || cur.ID != sess.ID {
		t.Fatalf("CurrentSession = %v, want %s", cur, sess.ID)
	}

	ev, err := s.LogPlayed("a", "b", SourcePractice, nil)
	if err != nil {
		t.Fatalf("LogPlayed: %v", err)
	}
	if ev.SessionID != sess.ID {
		t.Errorf("event session = %q, want %q", ev.SessionID, sess.ID)
	}

	if err := s.EndSession("good run"); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if err := s.EndSession("again"); err != nil {
		t.Fatalf("second EndSession: %v", err)
	}
	if s.CurrentSession() != nil {
		t.Error("session still current after end")
	}

	stored, err := s.GetSession(sess.ID)
	if err != nil || stored == nil {
		t.Fatalf("GetSession = %v, %v", stored, err)
	}
	if stored.EndedAt == nil || stored.Notes != "good run" || stored.Type != SessionPractice {
		t.Errorf("stored session = %+v", stored)
	}

	events, err := s.EventsForSession(sess.ID)
	if err != nil || len(events) != 1 {
		t.Errorf("EventsForSession = %d events, %v", len(events), err)
	}

	if len(seen) != 2 || seen[0] == nil || seen[0].ID != sess.ID || seen[1] != nil {
		t.Errorf("observer saw %v, want [session, nil]", seen)
	}
	cancel()
	if _, err := s.StartSession(SessionPerformance); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if len(seen) != 2 {
		t.Errorf("cancelled observer still notified")
	}
}

func TestStartSessionEndsActive(t *testing.T) {
	s := openTestStore(t)

	first, err := s.StartSession(SessionPractice)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	second, err := s.StartSession(SessionPerformance)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	old, _ := s.GetSession(first.ID)
	if old == nil || old.EndedAt == nil {
		t.Errorf("first session not ended: %+v", old)
	}
	latest, err := s.LatestSession()
	if err != nil || latest == nil || latest.ID != second.ID {
		t.Errorf("LatestSession = %v, %v; want %s", latest, err, second.ID)
	}
	if missing, err := s.GetSession("nope"); missing != nil || err != nil {
		t.Errorf("GetSession(nope) = %v, %v", missing, err)
	}
}

func TestPhraseTags(t *testing.T) {
	s := openTestStore(t)

	if tags, err := s.GetPhraseTags("p1"); tags != nil || err != nil {
		t.Fatalf("GetPhraseTags before save = %v, %v", tags, err)
	}

	energy := 0.8
	in := PhraseTags{
		PhraseID:       "p1",
		EnergyOverride: &energy,
		RhythmStyle:    RhythmBreakbeat,
		MoodTags:       []string{"dark"},
		Notes:          "great opener",
	}
	if err := s.SavePhraseTags(in); err != nil {
		t.Fatalf("SavePhraseTags: %v", err)
	}
	got, err := s.GetPhraseTags("p1")
	if err != nil || got == nil {
		t.Fatalf("GetPhraseTags = %v, %v", got, err)
	}
	if *got.EnergyOverride != 0.8 || got.RhythmStyle != RhythmBreakbeat || got.MoodTags[0] != "dark" || len(got.CustomTags) != 0 {
		t.Errorf("got %+v", got)
	}

	// Save replaces the whole row.
	if err := s.SavePhraseTags(PhraseTags{PhraseID: "p1", CustomTags: []string{"vocal"}}); err != nil {
		t.Fatalf("SavePhraseTags: %v", err)
	}
	got, _ = s.GetPhraseTags("p1")
	if got.EnergyOverride != nil || got.RhythmStyle != "" || len(got.MoodTags) != 0 || got.CustomTags[0] != "vocal" {
		t.Errorf("replace left old values: %+v", got)
	}

	if err := s.SavePhraseTags(PhraseTags{PhraseID: "p0"}); err != nil {
		t.Fatalf("SavePhraseTags: %v", err)
	}
	all, err := s.AllPhraseTags()
	if err != nil || len(all) != 2 || all[0].PhraseID != "p0" {
		t.Errorf("AllPhraseTags = %+v, %v", all, err)
	}
}

func TestZeroFeedbackInvariance(t *testing.T) {
	s := openTestStore(t)

	for _, w := range []float64{0, 0.25, 0.6, 1} {
		got, err := s.AdjustedWeight(w, "a", "b")
		if err != nil {
			t.Fatalf("AdjustedWeight: %v", err)
		}
		if got != w {
			t.Errorf("AdjustedWeight(%v) = %v, want unchanged", w, got)
		}
	}

	// Ratings and skips without plays still leave the weight alone.
	s.LogRating("a", "b", 1, SourcePractice, "")
	s.LogSkipped("a", "b", SourcePractice)
	if got, _ := s.AdjustedWeight(0.3, "a", "b"); got != 0.3 {
		t.Errorf("AdjustedWeight with no plays = %v, want 0.3", got)
	}
}

func TestAdjustedWeightWorkedExample(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.LogPlayed("a", "b", SourcePractice, nil); err != nil {
		t.Fatalf("LogPlayed: %v", err)
	}
	if _, err := s.LogRating("a", "b", 1, SourcePractice, ""); err != nil {
		t.Fatalf("LogRating: %v", err)
	}

	stats, err := s.GetFeedback("a", "b")
	if err != nil {
		t.Fatalf("GetFeedback: %v", err)
	}
	if stats.PracticeCount != 1 || stats.PerformanceCount != 0 || !approx(stats.Confidence, 0.1) {
		t.Errorf("stats = %+v", stats)
	}

	got, err := s.AdjustedWeight(0.6, "a", "b")
	if err != nil {
		t.Fatalf("AdjustedWeight: %v", err)
	}
	if !approx(got, 0.62) {
		t.Errorf("AdjustedWeight = %v, want 0.62", got)
	}
}

func TestRecencyWeightedRatings(t *testing.T) {
	s := openTestStore(t)

	// Logged oldest first, so newest first reads [+1, -1, +1].
	for _, r := range []int{1, -1, 1} {
		if _, err := s.LogRating("a", "b", r, SourcePractice, ""); err != nil {
			t.Fatalf("LogRating: %v", err)
		}
	}
	stats, err := s.GetFeedback("a", "b")
	if err != nil {
		t.Fatalf("GetFeedback: %v", err)
	}
	want := (1 - 0.9 + 0.81) / (1 + 0.9 + 0.81)
	if !approx(stats.AverageRating, want) || stats.RatingCount != 3 {
		t.Errorf("average = %v (n=%d), want %v", stats.AverageRating, stats.RatingCount, want)
	}
}

func TestConfidenceMonotonic(t *testing.T) {
	s := openTestStore(t)

	prev := 0.0
	for i := 1; i <= 12; i++ {
		source := SourcePractice
		if i%2 == 0 {
			source = SourcePerformance
		}
		if _, err := s.LogPlayed("a", "b", source, nil); err != nil {
			t.Fatalf("LogPlayed: %v", err)
		}
		stats, err := s.GetFeedback("a", "b")
		if err != nil {
			t.Fatalf("GetFeedback: %v", err)
		}
		if stats.Confidence < prev {
			t.Errorf("confidence fell at %d: %v < %v", i, stats.Confidence, prev)
		}
		if i >= 10 && stats.Confidence != 1 {
			t.Errorf("confidence at %d = %v, want 1", i, stats.Confidence)
		}
		prev = stats.Confidence
	}
	stats, _ := s.GetFeedback("a", "b")
	if stats.PracticeCount != 6 || stats.PerformanceCount != 6 {
		t.Errorf("counts = %d/%d, want 6/6", stats.PracticeCount, stats.PerformanceCount)
	}
}

func TestTopTransitions(t *testing.T) {
	s := openTestStore(t)

	// a->b: 3 plays, rated +1. a->c: 1 play, rated -1. a->d: untouched row.
	for i := 0; i < 3; i++ {
		s.LogPlayed("a", "b", SourcePractice, nil)
	}
	s.LogRating("a", "b", 1, SourcePractice, "")
	s.LogPlayed("a", "c", SourcePractice, nil)
	s.LogRating("a", "c", -1, SourcePractice, "")
	s.SaveTransition(Transition{FromPhraseID: "a", ToPhraseID: "d"})
	s.LogPlayed("x", "y", SourcePractice, nil)

	top, err := s.TopTransitions("a", 10)
	if err != nil {
		t.Fatalf("TopTransitions: %v", err)
	}
	var got []string
	for _, tr := range top {
		got = append(got, tr.ToPhraseID)
	}
	// Scores: b = 0.3 + 0.3, d = 0, c = -0.1 + 0.1 = 0; d and c tie, c sorts first.
	want := []string{"b", "c", "d"}
	if len(got) != len(want) {
		t.Fatalf("top = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("top = %v, want %v", got, want)
			break
		}
	}
	if top[0].Feedback.PracticeCount != 3 {
		t.Errorf("top[0] feedback = %+v", top[0].Feedback)
	}

	limited, _ := s.TopTransitions("a", 1)
	if len(limited) != 1 || limited[0].ToPhraseID != "b" {
		t.Errorf("limit 1 = %+v", limited)
	}

	all, err := s.AllTransitionsWithFeedback()
	if err != nil || len(all) != 4 {
		t.Errorf("AllTransitionsWithFeedback = %d rows, %v", len(all), err)
	}
}

// A playback goroutine logs plays while UI goroutines read feedback for the
// same pair; the single connection serializes them.
func TestConcurrentLogAndFeedback(t *testing.T) {
	s := openTestStore(t)
	const workers, ops = 8, 25

	var wg sync.WaitGroup
	errs := make(chan error, 2*workers*ops)
	for i := 0; i < workers; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < ops; j++ {
				if _, err := s.LogPlayed("A", "B", SourcePractice, nil); err != nil {
					errs <- err
				}
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < ops; j++ {
				if _, err := s.GetFeedback("A", "B"); err != nil {
					errs <- err
				}
				if _, err := s.AdjustedWeight(0.5, "A", "B"); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent call: %v", err)
	}

	stats, err := s.GetFeedback("A", "B")
	if err != nil {
		t.Fatalf("feedback: %v", err)
	}
	if stats.PracticeCount != workers*ops {
		t.Errorf("practice count = %d, want %d", stats.PracticeCount, workers*ops)
	}
	if stats.Confidence != 1 {
		t.Errorf("confidence = %v, want 1", stats.Confidence)
	}
	events, err := s.EventsForPair("A", "B", 0)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != workers*ops {
		t.Errorf("events = %d, want %d", len(events), workers*ops)
	}
}

func TestMissingPairIsExecutionFailed(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.LogPlayed("A", "", SourcePractice, nil); !errors.Is(err, perrors.ErrExecutionFailed) {
		t.Errorf("LogPlayed without target = %v, want execution failed", err)
	}
	if err := s.SaveTransition(Transition{FromPhraseID: "A"}); !errors.Is(err, perrors.ErrExecutionFailed) {
		t.Errorf("SaveTransition without target = %v, want execution failed", err)
	}
	if err := s.SavePhraseTags(PhraseTags{}); !errors.Is(err, perrors.ErrExecutionFailed) {
		t.Errorf("SavePhraseTags without id = %v, want execution failed", err)
	}
}
