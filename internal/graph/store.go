package graph

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	perrors "github.com/jwulff/musicmill/internal/pkg/errors"
	"github.com/jwulff/musicmill/internal/pkg/logger"
	"golang.org/x/sync/singleflight"
)

// Store owns the persisted phrase graph and its in-memory index. Readers go
// through Snapshot and never block; Load and Save are serialized.
type Store struct {
	path    string
	log     *logger.Logger
	current atomic.Pointer[Snapshot]
	loads   singleflight.Group
	writeMu sync.Mutex
}

// NewStore returns a store backed by the graph file at path. Nothing is read
// until Load is called.
func NewStore(path string, log *logger.Logger) *Store {
	return &Store{
		path: path,
		log:  logger.OrNop(log).With("component", "graph", "path", path),
	}
}

// Path returns the graph file location.
func (s *Store) Path() string { return s.path }

// Load reads the graph file and installs it. Concurrent calls share one read.
// A missing file is ErrNotFound; anything unparsable or structurally invalid
// is ErrCorruptData and leaves the current graph in place. Each caller gets
// its own copy; edits to it never reach the installed snapshot.
func (s *Store) Load() (*PhraseGraph, error) {
	v, err, _ := s.loads.Do("load", func() (any, error) {
		return s.load()
	})
	if err != nil {
		return nil, err
	}
	return v.(*PhraseGraph).clone(), nil
}

func (s *Store) load() (*PhraseGraph, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, perrors.New(perrors.ErrNotFound, "load graph", err)
		}
		s.log.Error("read graph failed", "error", err)
		return nil, perrors.New(perrors.ErrStoreUnavailable, "load graph", err)
	}

	var g PhraseGraph
	if err := json.Unmarshal(data, &g); err != nil {
		s.log.Error("decode graph failed", "error", err)
		return nil, perrors.New(perrors.ErrCorruptData, "load graph", err)
	}
	if err := Validate(&g); err != nil {
		s.log.Error("graph failed validation", "error", err)
		return nil, perrors.New(perrors.ErrCorruptData, "load graph", err)
	}

	s.current.Store(newSnapshot(&g))
	s.log.Info("graph loaded", "version", g.Version, "nodes", len(g.Nodes), "links", g.LinkCount())
	return &g, nil
}

// Save validates g, writes it atomically and installs it. The caller's graph
// is copied; later edits to it do not affect the store. On any failure the
// file and the in-memory graph are left untouched.
func (s *Store) Save(g *PhraseGraph) error {
	if g == nil {
		return perrors.New(perrors.ErrCorruptData, "save graph", &ValidationError{Problems: []string{"nil graph"}})
	}
	if err := Validate(g); err != nil {
		s.log.Warn("rejected invalid graph", "error", err)
		return perrors.New(perrors.ErrCorruptData, "save graph", err)
	}

	c := g.clone()
	if c.Version == "" {
		c.Version = CurrentVersion
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return perrors.New(perrors.ErrExecutionFailed, "save graph", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := writeFileAtomic(s.path, data); err != nil {
		s.log.Error("write graph failed", "error", err)
		return perrors.New(perrors.ErrExecutionFailed, "save graph", err)
	}

	s.current.Store(newSnapshot(c))
	s.log.Info("graph saved", "version", c.Version, "nodes", len(c.Nodes), "links", c.LinkCount())
	return nil
}

// HasGraph reports whether a graph is loaded.
func (s *Store) HasGraph() bool {
	return s.current.Load() != nil
}

// CurrentGraph returns the loaded graph, or nil. It must not be modified.
func (s *Store) CurrentGraph() *PhraseGraph {
	snap := s.current.Load()
	if snap == nil {
		return nil
	}
	return snap.graph
}

// Snapshot returns the current indexed graph, or nil when none is loaded.
func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".phrase_graph-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
