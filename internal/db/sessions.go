package db

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

const sessionColumns = `id, startedAt, endedAt, type, notes`

// StartSession begins a new session and makes it current. A session that is
// still active is ended first.
func (s *Store) StartSession(typ SessionType) (*Session, error) {
	const op = "start session"
	db, err := s.conn(op)
	if err != nil {
		return nil, err
	}

	if prev := s.CurrentSession(); prev != nil {
		s.log.Warn("ending active session before starting a new one", "session", prev.ID)
		if err := s.EndSession(""); err != nil {
			return nil, err
		}
	}

	sess := &Session{ID: uuid.NewString(), StartedAt: time.Now(), Type: typ}
	_, err = db.Exec(`INSERT INTO sessions (id, startedAt, type) VALUES (?, ?, ?)`,
		sess.ID, unixSeconds(sess.StartedAt), string(sess.Type))
	if err != nil {
		return nil, s.writeErr(op, err)
	}

	s.mu.Lock()
	s.current = sess
	s.mu.Unlock()

	s.log.Info("session started", "session", sess.ID, "type", sess.Type)
	s.notify(sess)
	return sess, nil
}

// EndSession stamps the current session's end time and clears it. Ending
// while no session is active does nothing.
func (s *Store) EndSession(notes string) error {
	const op = "end session"
	db, err := s.conn(op)
	if err != nil {
		return err
	}

	s.mu.Lock()
	sess := s.current
	s.mu.Unlock()
	if sess == nil {
		return nil
	}

	ended := time.Now()
	_, err = db.Exec(`UPDATE sessions SET endedAt = ?, notes = ? WHERE id = ?`,
		unixSeconds(ended), nullString(notes), sess.ID)
	if err != nil {
		return s.writeErr(op, err)
	}

	s.mu.Lock()
	if s.current != nil && s.current.ID == sess.ID {
		s.current = nil
	}
	s.mu.Unlock()

	s.log.Info("session ended", "session", sess.ID)
	s.notify(nil)
	return nil
}

// CurrentSession returns a copy of the active session, or nil when idle.
func (s *Store) CurrentSession() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil
	}
	c := *s.current
	return &c
}

func (s *Store) currentSessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return ""
	}
	return s.current.ID
}

// GetSession returns a session by ID, or nil if none exists.
func (s *Store) GetSession(id string) (*Session, error) {
	const op = "get session"
	db, err := s.conn(op)
	if err != nil {
		return nil, err
	}
	sess, err := scanSession(db.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, s.readErr(op, err)
	}
	return sess, nil
}

// LatestSession returns the most recently started session, or nil if none.
func (s *Store) LatestSession() (*Session, error) {
	const op = "latest session"
	db, err := s.conn(op)
	if err != nil {
		return nil, err
	}
	sess, err := scanSession(db.QueryRow(`SELECT ` + sessionColumns + ` FROM sessions
		ORDER BY startedAt DESC, rowid DESC LIMIT 1`))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, s.readErr(op, err)
	}
	return sess, nil
}

// OnSessionChange registers fn to be called after every session start or
// end, with the new current session (nil when idle). Callbacks run on the
// caller's goroutine and must not block. The returned func unregisters fn.
func (s *Store) OnSessionChange(fn func(*Session)) (cancel func()) {
	s.obsMu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.obsMu.Unlock()

	return func() {
		s.obsMu.Lock()
		delete(s.observers, id)
		s.obsMu.Unlock()
	}
}

func (s *Store) notify(sess *Session) {
	s.obsMu.Lock()
	fns := make([]func(*Session), 0, len(s.observers))
	for _, fn := range s.observers {
		fns = append(fns, fn)
	}
	s.obsMu.Unlock()

	for _, fn := range fns {
		var c *Session
		if sess != nil {
			cp := *sess
			c = &cp
		}
		fn(c)
	}
}

func scanSession(sc scanner) (*Session, error) {
	var sess Session
	var startedAt float64
	var endedAt sql.NullFloat64
	var typ string
	var notes sql.NullString

	if err := sc.Scan(&sess.ID, &startedAt, &endedAt, &typ, &notes); err != nil {
		return nil, err
	}
	sess.StartedAt = timeFromUnix(startedAt)
	if endedAt.Valid {
		t := timeFromUnix(endedAt.Float64)
		sess.EndedAt = &t
	}
	sess.Type = SessionType(typ)
	sess.Notes = notes.String
	return &sess, nil
}
