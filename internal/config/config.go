// Package config loads peer configuration from a YAML file and the
// environment. Precedence, lowest first: defaults, file, CANOPY_* variables,
// command-line flags (applied by the caller).
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/canopy/internal/replica"
	"github.com/roach88/canopy/internal/transport"
	"github.com/roach88/canopy/internal/tree"
)

// Clock kinds.
const (
	ClockWall   = "wall"
	ClockHybrid = "hybrid"
)

// Config is everything a peer needs to start.
type Config struct {
	// PeerID is empty until resolved against the journal.
	PeerID    string    `yaml:"peer_id"`
	RootID    string    `yaml:"root_id"`
	Orphans   string    `yaml:"orphans"`
	Clock     string    `yaml:"clock"`
	Journal   string    `yaml:"journal"`
	UndoKeys  []string  `yaml:"undo_keys"`
	LogLevel  string    `yaml:"log_level"`
	Transport Transport `yaml:"transport"`
}

// Transport selects how ops leave the process.
type Transport struct {
	Kind    string `yaml:"kind"`
	URL     string `yaml:"url"`
	Channel string `yaml:"channel"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		RootID:   tree.DefaultRootID,
		Orphans:  string(tree.OrphanAttach),
		Clock:    ClockWall,
		LogLevel: "info",
		Transport: Transport{
			Kind:    string(transport.KindNone),
			Channel: transport.DefaultChannel,
		},
	}
}

// Load reads path (if non-empty), applies environment overrides, and
// validates the result. A missing file is an error; an empty path is not.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := decode(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv() {
	c.PeerID = getenv("CANOPY_PEER_ID", c.PeerID)
	c.RootID = getenv("CANOPY_ROOT_ID", c.RootID)
	c.Orphans = getenv("CANOPY_ORPHANS", c.Orphans)
	c.Clock = getenv("CANOPY_CLOCK", c.Clock)
	c.Journal = getenv("CANOPY_JOURNAL", c.Journal)
	c.LogLevel = getenv("CANOPY_LOG_LEVEL", c.LogLevel)
	c.Transport.Kind = getenv("CANOPY_TRANSPORT", c.Transport.Kind)
	c.Transport.URL = getenv("CANOPY_TRANSPORT_URL", c.Transport.URL)
	c.Transport.Channel = getenv("CANOPY_CHANNEL", c.Transport.Channel)
	if v := os.Getenv("CANOPY_UNDO_KEYS"); v != "" {
		c.UndoKeys = splitList(v)
	}
}

// Validate rejects unknown enum values and transports missing a URL.
func (c Config) Validate() error {
	if c.RootID == "" {
		return errors.New("root_id is required")
	}
	if _, err := tree.ParseOrphanPolicy(c.Orphans); err != nil {
		return err
	}
	switch c.Clock {
	case ClockWall, ClockHybrid, "":
	default:
		return fmt.Errorf("unknown clock %q (want wall or hybrid)", c.Clock)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	kind, err := transport.ParseKind(c.Transport.Kind)
	if err != nil {
		return err
	}
	switch kind {
	case transport.KindRedis, transport.KindWebSocket:
		if c.Transport.URL == "" {
			return fmt.Errorf("transport %s requires a url", kind)
		}
	case transport.KindMemory:
		return errors.New("transport memory is only available in-process")
	}
	return nil
}

// OrphanPolicy returns the parsed orphan policy.
func (c Config) OrphanPolicy() tree.OrphanPolicy {
	p, err := tree.ParseOrphanPolicy(c.Orphans)
	if err != nil {
		return tree.OrphanAttach
	}
	return p
}

// ReplicaClock builds the timestamp source named by Clock.
func (c Config) ReplicaClock() replica.Clock {
	if c.Clock == ClockHybrid {
		return replica.NewHybridClock(replica.WallClock{})
	}
	return replica.WallClock{}
}

// Level parses LogLevel.
func (c Config) Level() (slog.Level, error) {
	var lvl slog.Level
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	return lvl, nil
}

// TransportOptions converts the transport section for transport.Open.
func (c Config) TransportOptions(logger *slog.Logger) transport.Options {
	kind, _ := transport.ParseKind(c.Transport.Kind)
	return transport.Options{
		Kind:    kind,
		URL:     c.Transport.URL,
		Channel: c.Transport.Channel,
		Logger:  logger,
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
