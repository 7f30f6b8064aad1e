// Command musicmill runs the practice console, the navigation daemon, or
// prints learned transition rankings.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"

	"github.com/jwulff/musicmill/internal/app"
	"github.com/jwulff/musicmill/internal/config"
	"github.com/jwulff/musicmill/internal/daemon"
	"github.com/jwulff/musicmill/internal/db"
	"github.com/jwulff/musicmill/internal/graph"
	"github.com/jwulff/musicmill/internal/nav"
	perrors "github.com/jwulff/musicmill/internal/pkg/errors"
	"github.com/jwulff/musicmill/internal/pkg/logger"

	tea "github.com/charmbracelet/bubbletea"
)

const usage = `musicmill - phrase graph navigation with learned transitions

Usage:
  musicmill [options] [tui]          run the practice console (default)
  musicmill [options] serve          run the daemon on a unix socket
  musicmill [options] top PHRASE_ID  print learned transitions from a phrase

Options:
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "musicmill:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := flag.NewFlagSet("musicmill", flag.ContinueOnError)
	flags.Usage = func() {
		fmt.Fprint(flags.Output(), usage)
		flags.PrintDefaults()
	}
	configPath := flags.String("config", "", "YAML config file")
	graphPath := flags.String("graph", "", "phrase graph JSON file")
	dbPath := flags.String("db", "", "relationship database file")
	socketPath := flags.String("socket", "", "daemon socket path")
	logMode := flags.String("log-mode", "", "dev or prod")
	limit := flags.Int("limit", 10, "rows printed by top")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	cmd := "tui"
	rest := flags.Args()
	if len(rest) > 0 {
		cmd, rest = rest[0], rest[1:]
	}
	switch cmd {
	case "tui", "serve", "top":
	default:
		flags.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}

	cfg, log, err := configure(cmd, flagValues{
		config:  *configPath,
		graph:   *graphPath,
		db:      *dbPath,
		socket:  *socketPath,
		logMode: *logMode,
	}, newLogger)
	if err != nil {
		return err
	}
	defer log.Sync()

	switch cmd {
	case "serve":
		return runServe(cfg, log)
	case "top":
		if len(rest) != 1 {
			return errors.New("top: expected one phrase id")
		}
		return runTop(cfg, log, rest[0], *limit)
	}
	return runTUI(cfg, log)
}

type flagValues struct {
	config, graph, db, socket, logMode string
}

type loggerFactory func(cmd string, cfg config.Config) (*logger.Logger, error)

// configure resolves settings as defaults < YAML file < environment < flags.
// The environment overlay logs which source won, so the command's logger is
// built first and rebuilt if the environment or flags move its mode or file.
func configure(cmd string, f flagValues, newLog loggerFactory) (config.Config, *logger.Logger, error) {
	cfg := config.Default()
	if f.config != "" {
		if err := cfg.LoadFile(f.config); err != nil {
			return cfg, nil, err
		}
	}

	log, err := newLog(cmd, cfg)
	if err != nil {
		return cfg, nil, err
	}
	before := logTarget(cmd, cfg)

	cfg.ApplyEnv(log)
	override(&cfg.GraphPath, f.graph)
	override(&cfg.DBPath, f.db)
	override(&cfg.SocketPath, f.socket)
	override(&cfg.LogMode, f.logMode)

	if logTarget(cmd, cfg) != before {
		log.Sync()
		if log, err = newLog(cmd, cfg); err != nil {
			return cfg, nil, err
		}
	}
	return cfg, log, nil
}

func override(dst *string, flagVal string) {
	if flagVal != "" {
		*dst = flagVal
	}
}

// logTarget names what newLogger's output depends on.
func logTarget(cmd string, cfg config.Config) string {
	if cmd == "tui" {
		return cfg.LogMode + " " + logFile(cfg)
	}
	return cfg.LogMode
}

func logFile(cfg config.Config) string {
	return filepath.Join(filepath.Dir(cfg.DBPath), "musicmill.log")
}

// newLogger writes to stderr, except for the console, which owns the terminal
// and logs to a file beside the database.
func newLogger(cmd string, cfg config.Config) (*logger.Logger, error) {
	if cmd != "tui" {
		return logger.New(cfg.LogMode)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, err
	}
	return logger.NewFile(cfg.LogMode, logFile(cfg))
}

func runTUI(cfg config.Config, log *logger.Logger) error {
	rel, err := db.Open(cfg.DBPath, log)
	if err != nil {
		return err
	}
	defer rel.Close()
	// End a practice session left open when the console quits.
	defer rel.EndSession("")

	graphs := graph.NewStore(cfg.GraphPath, log)
	navigator := nav.New(graphs, nav.WithWeigher(rel))

	p := tea.NewProgram(app.New(graphs, navigator, rel), tea.WithAltScreen())
	_, err = p.Run()
	return err
}

func runServe(cfg config.Config, log *logger.Logger) error {
	rel, err := db.Open(cfg.DBPath, log)
	if err != nil {
		return err
	}
	defer rel.Close()

	graphs := graph.NewStore(cfg.GraphPath, log)
	if _, err := graphs.Load(); err != nil {
		if !errors.Is(err, perrors.ErrNotFound) {
			return err
		}
		log.Warn("no phrase graph yet, waiting for reload", "path", cfg.GraphPath)
	}

	// A socket file left by a crashed daemon blocks Listen.
	if err := os.Remove(cfg.SocketPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(cfg.SocketPath), 0o755); err != nil {
		return err
	}
	ln, err := net.Listen("unix", cfg.SocketPath)
	if err != nil {
		return err
	}
	defer os.Remove(cfg.SocketPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("daemon listening", "socket", cfg.SocketPath, "graph", cfg.GraphPath, "db", cfg.DBPath)
	err = daemon.NewServer(graphs, rel, log).Serve(ctx, ln)
	log.Info("daemon stopped")
	return err
}

func runTop(cfg config.Config, log *logger.Logger, phraseID string, limit int) error {
	rel, err := db.Open(cfg.DBPath, log)
	if err != nil {
		return err
	}
	defer rel.Close()

	top, err := rel.TopTransitions(phraseID, limit)
	if err != nil {
		return err
	}
	if len(top) == 0 {
		fmt.Printf("no transitions recorded from %s\n", phraseID)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TO\tPRACTICE\tPERFORMANCE\tRATINGS\tAVG\tCONFIDENCE")
	for _, t := range top {
		f := t.Feedback
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%+.2f\t%.2f\n",
			t.ToPhraseID, f.PracticeCount, f.PerformanceCount, f.RatingCount, f.AverageRating, f.Confidence)
	}
	return w.Flush()
}
