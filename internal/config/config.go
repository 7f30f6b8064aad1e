// Package config resolves file locations and logging mode for musicmill.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jwulff/musicmill/internal/pkg/logger"
	"gopkg.in/yaml.v3"
)

const (
	EnvGraphPath = "MUSICMILL_GRAPH_PATH"
	EnvDBPath    = "MUSICMILL_DB_PATH"
	EnvSocket    = "MUSICMILL_SOCKET"
	EnvLogMode   = "MUSICMILL_LOG_MODE"
)

// Config holds the paths shared by every musicmill command.
type Config struct {
	GraphPath  string `yaml:"graph_path"`
	DBPath     string `yaml:"db_path"`
	SocketPath string `yaml:"socket_path"`
	LogMode    string `yaml:"log_mode"`
}

// Default returns the per-user locations.
func Default() Config {
	return Config{
		GraphPath:  DefaultGraphPath(),
		DBPath:     DefaultDBPath(),
		SocketPath: DefaultSocketPath(),
		LogMode:    "dev",
	}
}

// DefaultGraphPath returns where the analysis pipeline writes the phrase graph.
func DefaultGraphPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "Documents", "MusicMill", "PhraseGraph", "phrase_graph.json")
}

// DefaultDBPath returns the default relationship database path.
func DefaultDBPath() string {
	return filepath.Join(supportDir(), "relationships.sqlite")
}

// DefaultSocketPath returns the default daemon socket path.
func DefaultSocketPath() string {
	return filepath.Join(supportDir(), "musicmill.sock")
}

func supportDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "Library", "Application Support", "MusicMill")
}

// LoadFile overlays values from a YAML file. A missing file leaves c as is.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var fileCfg Config
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	c.merge(fileCfg)
	return nil
}

// ApplyEnv overlays MUSICMILL_* environment variables.
func (c *Config) ApplyEnv(log *logger.Logger) {
	c.GraphPath = getEnv(EnvGraphPath, c.GraphPath, log)
	c.DBPath = getEnv(EnvDBPath, c.DBPath, log)
	c.SocketPath = getEnv(EnvSocket, c.SocketPath, log)
	c.LogMode = getEnv(EnvLogMode, c.LogMode, log)
}

func (c *Config) merge(o Config) {
	if o.GraphPath != "" {
		c.GraphPath = expandHome(o.GraphPath)
	}
	if o.DBPath != "" {
		c.DBPath = expandHome(o.DBPath)
	}
	if o.SocketPath != "" {
		c.SocketPath = expandHome(o.SocketPath)
	}
	if o.LogMode != "" {
		c.LogMode = o.LogMode
	}
}

func getEnv(key, defaultVal string, log *logger.Logger) string {
	if log != nil {
		log = log.With("env_var", key)
	}
	val, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(val) == "" {
		if log != nil {
			log.Debug("Environment variable not found, using default", "default", defaultVal)
		}
		return defaultVal
	}
	if log != nil {
		log.Debug("Environment variable found, using environment", "environment", val)
	}
	return expandHome(val)
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return p
		}
		return filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	return p
}
