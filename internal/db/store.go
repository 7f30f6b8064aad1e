package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	perrors "github.com/jwulff/musicmill/internal/pkg/errors"
	"github.com/jwulff/musicmill/internal/pkg/logger"
	_ "modernc.org/sqlite"
)

// Store provides access to the relationship database. All methods are safe
// for concurrent use; each write is a single statement.
type Store struct {
	path string
	log  *logger.Logger

	mu      sync.RWMutex
	db      *sql.DB
	current *Session

	obsMu     sync.Mutex
	observers map[int]func(*Session)
	nextObs   int
}

// New returns an unopened store for the database at path.
func New(path string, log *logger.Logger) *Store {
	return &Store{
		path:      path,
		log:       logger.OrNop(log).With("component", "db", "path", path),
		observers: make(map[int]func(*Session)),
	}
}

// Open is New followed by Store.Open.
func Open(path string, log *logger.Logger) (*Store, error) {
	s := New(path, log)
	if err := s.Open(); err != nil {
		return nil, err
	}
	return s, nil
}

// Open connects and creates the schema if needed. Calling Open on an open
// store does nothing.
func (s *Store) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return nil
	}

	dsn := s.path
	if s.path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
			return perrors.New(perrors.ErrStoreUnavailable, "open database", err)
		}
		dsn = fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", s.path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return perrors.New(perrors.ErrStoreUnavailable, "open database", err)
	}
	// One embedded connection per process.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return perrors.New(perrors.ErrStoreUnavailable, "ping database", err)
	}
	if _, err := db.Exec(SchemaSQL); err != nil {
		db.Close()
		s.log.Error("apply schema failed", "error", err)
		return perrors.New(perrors.ErrExecutionFailed, "apply schema", err)
	}

	s.db = db
	s.log.Info("relationship store opened")
	return nil
}

// Close releases the connection. Closing a closed store does nothing.
func (s *Store) Close() error {
	s.mu.Lock()
	db := s.db
	s.db = nil
	s.current = nil
	s.mu.Unlock()

	if db == nil {
		return nil
	}
	s.log.Info("relationship store closed")
	return db.Close()
}

// conn returns the open handle or ErrStoreUnavailable.
func (s *Store) conn(op string) (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, perrors.New(perrors.ErrStoreUnavailable, op, errors.New("database not open"))
	}
	return s.db, nil
}

// readErr classifies a failed read.
func (s *Store) readErr(op string, err error) error {
	if isClosed(err) {
		return perrors.New(perrors.ErrStoreUnavailable, op, err)
	}
	s.log.Error(op+" failed", "error", err)
	return perrors.New(perrors.ErrExecutionFailed, op, err)
}

// writeErr classifies a failed write.
func (s *Store) writeErr(op string, err error) error {
	if isClosed(err) {
		return perrors.New(perrors.ErrStoreUnavailable, op, err)
	}
	s.log.Error(op+" failed", "error", err)
	return perrors.New(perrors.ErrExecutionFailed, op, err)
}

func isClosed(err error) bool {
	return errors.Is(err, sql.ErrConnDone) || strings.Contains(err.Error(), "database is closed")
}

func unixSeconds(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}

func timeFromUnix(ts float64) time.Time {
	sec, frac := math.Modf(ts)
	return time.Unix(int64(sec), int64(frac*1e9))
}

func encodeJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// decodeJSON reads a JSON text column; empty text leaves v untouched.
func decodeJSON(op, column, text string, v any) error {
	if text == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(text), v); err != nil {
		return perrors.New(perrors.ErrCorruptData, op, fmt.Errorf("column %s: %w", column, err))
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
