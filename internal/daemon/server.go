package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/jwulff/musicmill/internal/db"
	"github.com/jwulff/musicmill/internal/feedback"
	"github.com/jwulff/musicmill/internal/graph"
	"github.com/jwulff/musicmill/internal/nav"
	perrors "github.com/jwulff/musicmill/internal/pkg/errors"
	"github.com/jwulff/musicmill/internal/pkg/logger"
	"golang.org/x/sync/errgroup"
)

const (
	defaultAlternatives = 5
	defaultTop          = 10
	// Events queued per subscriber before new ones are dropped.
	subscriberBuffer = 64
	maxLineSize      = 1024 * 1024
)

// Server answers commands against the phrase graph and relationship store.
type Server struct {
	graphs *graph.Store
	rel    *db.Store
	nav    *nav.Navigator
	log    *logger.Logger

	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	conns  map[net.Conn]struct{}
	closed bool
}

type subscriber struct {
	want map[string]bool // nil means every event
	ch   chan Event
}

func (s *subscriber) wants(name string) bool {
	return s.want == nil || s.want[name]
}

// NewServer builds a server over open stores. Links are ranked with feedback
// from rel.
func NewServer(graphs *graph.Store, rel *db.Store, log *logger.Logger) *Server {
	return &Server{
		graphs: graphs,
		rel:    rel,
		nav:    nav.New(graphs, nav.WithWeigher(rel)),
		log:    logger.OrNop(log).With("component", "daemon"),
		subs:   make(map[*subscriber]struct{}),
		conns:  make(map[net.Conn]struct{}),
	}
}

// Serve accepts connections on ln until ctx is cancelled, then closes the
// listener and every open connection. It returns nil on cancellation.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	cancelObs := s.rel.OnSessionChange(s.sessionChanged)
	defer cancelObs()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		ln.Close()
		s.closeConns()
		return nil
	})

	g.Go(func() error {
		s.log.Info("daemon listening", "addr", ln.Addr().String())
		for {
			conn, err := ln.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("accept: %w", err)
			}
			s.track(conn)
			g.Go(func() error {
				s.handle(ctx, conn)
				return nil
			})
		}
	})

	err := g.Wait()
	s.log.Info("daemon stopped")
	return err
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer s.untrack(conn)
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, maxLineSize), maxLineSize)
	enc := json.NewEncoder(conn)

	for scanner.Scan() {
		var cmd Command
		if err := json.Unmarshal(scanner.Bytes(), &cmd); err != nil {
			if err := enc.Encode(Response{Error: fmt.Sprintf("invalid command: %v", err)}); err != nil {
				return
			}
			continue
		}

		if cmd.Cmd == CmdSubscribe {
			s.stream(ctx, scanner, enc, cmd.Events)
			return
		}

		if err := enc.Encode(s.Handle(cmd)); err != nil {
			s.log.Debug("write response failed", "cmd", cmd.Cmd, "error", err)
			return
		}
	}
}

// stream turns the connection into an event feed until the client hangs up
// or the server stops.
func (s *Server) stream(ctx context.Context, scanner *bufio.Scanner, enc *json.Encoder, events []string) {
	sub := s.subscribe(events)
	defer s.unsubscribe(sub)

	if err := enc.Encode(Response{OK: true}); err != nil {
		return
	}

	hangup := make(chan struct{})
	go func() {
		for scanner.Scan() {
		}
		close(hangup)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-hangup:
			return
		case ev := <-sub.ch:
			if err := enc.Encode(ev); err != nil {
				return
			}
		}
	}
}

// Handle executes one command. It never panics on bad input; failures are
// reported in Response.Error.
func (s *Server) Handle(cmd Command) Response {
	s.log.Debug("command", "cmd", cmd.Cmd)

	switch cmd.Cmd {
	case CmdStatus:
		return s.status()
	case CmdReload:
		return s.reload()
	case CmdPhrase:
		p, err := s.requirePhrase(cmd.PhraseID)
		if err != nil {
			return fail(err)
		}
		return Response{OK: true, Phrase: PhraseFromNode(p)}
	case CmdNext:
		if _, err := s.requirePhrase(cmd.PhraseID); err != nil {
			return fail(err)
		}
		next := s.nav.NextInSequence(cmd.PhraseID)
		if next == nil {
			return Response{OK: true, Status: "end of track"}
		}
		return Response{OK: true, Phrase: PhraseFromNode(next)}
	case CmdAlternatives:
		if _, err := s.requirePhrase(cmd.PhraseID); err != nil {
			return fail(err)
		}
		alts := s.nav.Alternatives(cmd.PhraseID, limitOr(cmd.Limit, defaultAlternatives))
		return Response{OK: true, Phrases: phrasesFromNodes(alts)}
	case CmdLinks:
		if _, err := s.requirePhrase(cmd.PhraseID); err != nil {
			return fail(err)
		}
		ranked, err := s.nav.RankedLinks(cmd.PhraseID)
		if err != nil {
			s.log.Warn("feedback unavailable, using static weights", "phrase", cmd.PhraseID, "error", err)
		}
		return Response{OK: true, Links: linksFromRanked(ranked)}
	case CmdRandom:
		p := s.nav.RandomStart()
		if p == nil {
			return fail(errors.New("no phrases loaded"))
		}
		return Response{OK: true, Phrase: PhraseFromNode(p)}
	case CmdPlayed, CmdRated, CmdSkipped:
		return s.logEvent(cmd)
	case CmdStartSession:
		typ := cmd.SessionType
		if typ == "" {
			typ = db.SessionPractice
		}
		sess, err := s.rel.StartSession(typ)
		if err != nil {
			return fail(err)
		}
		return Response{OK: true, Session: sess}
	case CmdEndSession:
		if err := s.rel.EndSession(cmd.Notes); err != nil {
			return fail(err)
		}
		return Response{OK: true}
	case CmdFeedback:
		return s.feedback(cmd)
	case CmdTop:
		if cmd.PhraseID == "" {
			return fail(errors.New("phraseId is required"))
		}
		top, err := s.rel.TopTransitions(cmd.PhraseID, limitOr(cmd.Limit, defaultTop))
		if err != nil {
			return fail(err)
		}
		return Response{OK: true, Transitions: top}
	case "":
		return fail(errors.New("missing cmd"))
	default:
		return fail(fmt.Errorf("unknown command: %s", cmd.Cmd))
	}
}

func (s *Server) status() Response {
	resp := Response{OK: true, Status: "no graph", Session: s.rel.CurrentSession()}
	if snap := s.graphs.Snapshot(); snap != nil {
		nodes, tracks := snap.Len(), len(snap.Tracks())
		resp.Status = "ready"
		resp.Nodes = &nodes
		resp.Tracks = &tracks
	}
	return resp
}

func (s *Server) reload() Response {
	g, err := s.graphs.Load()
	if err != nil {
		s.log.Error("graph reload failed", "error", err)
		return fail(err)
	}
	nodes := len(g.Nodes)
	s.log.Info("graph reloaded", "nodes", nodes, "links", g.LinkCount())
	s.publish(Event{Event: EventGraph, Nodes: &nodes})
	return Response{OK: true, Status: "ready", Nodes: &nodes}
}

func (s *Server) logEvent(cmd Command) Response {
	if cmd.From == "" || cmd.To == "" {
		return fail(errors.New("from and to are required"))
	}
	source := cmd.Source
	if source == "" {
		source = db.SourcePractice
	}

	var ev db.TransitionEvent
	var err error
	switch cmd.Cmd {
	case CmdPlayed:
		ev, err = s.rel.LogPlayed(cmd.From, cmd.To, source, cmd.Context)
	case CmdRated:
		if cmd.Rating == nil {
			return fail(errors.New("rating is required"))
		}
		ev, err = s.rel.LogRating(cmd.From, cmd.To, *cmd.Rating, source, cmd.Comment)
	case CmdSkipped:
		ev, err = s.rel.LogSkipped(cmd.From, cmd.To, source)
	}
	if err != nil {
		return fail(err)
	}
	return Response{OK: true, EventID: ev.ID}
}

func (s *Server) feedback(cmd Command) Response {
	if cmd.From == "" || cmd.To == "" {
		return fail(errors.New("from and to are required"))
	}
	stats, err := s.rel.GetFeedback(cmd.From, cmd.To)
	if err != nil {
		return fail(err)
	}
	resp := Response{OK: true, Feedback: &stats}
	if from := s.nav.Phrase(cmd.From); from != nil {
		for _, l := range from.Links {
			if l.TargetID == cmd.To {
				base, adjusted := l.Weight, feedback.AdjustedWeight(l.Weight, stats)
				resp.Weight, resp.Adjusted = &base, &adjusted
				break
			}
		}
	}
	return resp
}

func (s *Server) requirePhrase(id string) (*graph.PhraseNode, error) {
	if id == "" {
		return nil, errors.New("phraseId is required")
	}
	p := s.nav.Phrase(id)
	if p == nil {
		return nil, perrors.Newf(perrors.ErrNotFound, "lookup phrase", "phrase %s", id)
	}
	return p, nil
}

func (s *Server) sessionChanged(sess *db.Session) {
	s.publish(Event{Event: EventSession, Session: sess, Active: BoolPtr(sess != nil)})
}

func (s *Server) subscribe(events []string) *subscriber {
	sub := &subscriber{ch: make(chan Event, subscriberBuffer)}
	if len(events) > 0 {
		sub.want = make(map[string]bool, len(events))
		for _, e := range events {
			sub.want[e] = true
		}
	}
	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()
	return sub
}

func (s *Server) unsubscribe(sub *subscriber) {
	s.mu.Lock()
	delete(s.subs, sub)
	s.mu.Unlock()
}

// publish never blocks; a subscriber that falls behind loses events.
func (s *Server) publish(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subs {
		if !sub.wants(ev.Event) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			s.log.Warn("subscriber queue full, dropping event", "event", ev.Event)
		}
	}
}

// track registers conn for shutdown. A conn accepted after shutdown began is
// closed right away so its handler returns.
func (s *Server) track(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		conn.Close()
		return
	}
	s.conns[conn] = struct{}{}
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for conn := range s.conns {
		conn.Close()
	}
}

func fail(err error) Response {
	return Response{Error: err.Error()}
}

func limitOr(limit *int, def int) int {
	if limit == nil {
		return def
	}
	return *limit
}
