package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "GAMESYNC_"

// Peer represents a peer node in the mesh.
type Peer struct {
	ID   string `yaml:"id"`
	Addr string `yaml:"addr"`
}

// Sync holds the synchronizer tunables.
type Sync struct {
	ReconcileInterval   time.Duration `yaml:"reconcile_interval" env:"RECONCILE_INTERVAL"`
	MaintenanceInterval time.Duration `yaml:"maintenance_interval" env:"MAINTENANCE_INTERVAL"`
	OperationTimeout    time.Duration `yaml:"operation_timeout" env:"OPERATION_TIMEOUT"`
	HistoryCapacity     int           `yaml:"history_capacity" env:"HISTORY_CAPACITY"`
	HistoryRetention    time.Duration `yaml:"history_retention" env:"HISTORY_RETENTION"`
	DiceWindow          time.Duration `yaml:"dice_window" env:"DICE_WINDOW"`

	// CatchUp enables SyncRequest/SyncResponse backfill.
	CatchUp             bool          `yaml:"catch_up" env:"CATCH_UP"`
	MaxBackfill         int           `yaml:"max_backfill" env:"MAX_BACKFILL"`
	SyncRequestInterval time.Duration `yaml:"sync_request_interval" env:"SYNC_REQUEST_INTERVAL"`

	SuspectTimeout time.Duration `yaml:"suspect_timeout" env:"SUSPECT_TIMEOUT"`
	// DeadTimeout removes participants silent for longer than it. Zero
	// keeps them as Suspect and leaves eviction to the network layer.
	DeadTimeout    time.Duration `yaml:"dead_timeout" env:"DEAD_TIMEOUT"`
	LatencyAlpha   float64       `yaml:"latency_alpha" env:"LATENCY_ALPHA"`

	StartingBalance int64 `yaml:"starting_balance" env:"STARTING_BALANCE"`
}

// DefaultSync returns the default synchronizer settings.
func DefaultSync() Sync {
	return Sync{
		ReconcileInterval:   100 * time.Millisecond,
		MaintenanceInterval: time.Second,
		OperationTimeout:    5 * time.Second,
		HistoryCapacity:     1000,
		HistoryRetention:    60 * time.Second,
		DiceWindow:          time.Second,
		CatchUp:             true,
		MaxBackfill:         256,
		SyncRequestInterval: time.Second,
		SuspectTimeout:      3 * time.Second,
		LatencyAlpha:        0.2,
		StartingBalance:     1000,
	}
}

// Validate checks the settings for values the synchronizer cannot run with.
func (s Sync) Validate() error {
	var errs []error
	if s.ReconcileInterval <= 0 {
		errs = append(errs, errors.New("reconcile_interval must be positive"))
	}
	if s.MaintenanceInterval <= 0 {
		errs = append(errs, errors.New("maintenance_interval must be positive"))
	}
	if s.OperationTimeout <= 0 {
		errs = append(errs, errors.New("operation_timeout must be positive"))
	}
	if s.HistoryCapacity <= 0 {
		errs = append(errs, errors.New("history_capacity must be positive"))
	}
	if s.HistoryRetention <= 0 {
		errs = append(errs, errors.New("history_retention must be positive"))
	}
	if s.DiceWindow < 0 {
		errs = append(errs, errors.New("dice_window cannot be negative"))
	}
	if s.CatchUp && s.MaxBackfill <= 0 {
		errs = append(errs, errors.New("max_backfill must be positive when catch_up is enabled"))
	}
	if s.LatencyAlpha <= 0 || s.LatencyAlpha > 1 {
		errs = append(errs, fmt.Errorf("latency_alpha %v must be in (0, 1]", s.LatencyAlpha))
	}
	if s.DeadTimeout < 0 {
		errs = append(errs, errors.New("dead_timeout cannot be negative"))
	}
	if s.DeadTimeout > 0 && s.DeadTimeout < s.SuspectTimeout {
		errs = append(errs, errors.New("dead_timeout must not be shorter than suspect_timeout"))
	}
	if s.StartingBalance < 0 {
		errs = append(errs, errors.New("starting_balance cannot be negative"))
	}
	return errors.Join(errs...)
}

// Config holds the node configuration.
type Config struct {
	NodeID     string `yaml:"node_id" env:"NODE_ID"`
	ListenAddr string `yaml:"listen_addr" env:"LISTEN_ADDR"`
	Peers      []Peer `yaml:"peers"`
	// PeersRaw uses the ParsePeers format and replaces Peers when set.
	PeersRaw string `yaml:"-" env:"PEERS"`

	Sync Sync `yaml:"sync" envPrefix:"SYNC_"`

	OTelEndpoint string `yaml:"otel_endpoint" env:"OTEL_ENDPOINT"`
	LogLevel     string `yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat    string `yaml:"log_format" env:"LOG_FORMAT"`
}

// Default returns a configuration with every default applied.
func Default() Config {
	return Config{
		ListenAddr: "127.0.0.1:7400",
		Sync:       DefaultSync(),
		LogLevel:   "info",
		LogFormat:  "text",
	}
}

// Load builds a configuration from the defaults, the optional YAML file at
// path and then GAMESYNC_* environment variables, and validates it.
func Load(path string) (Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Read is Load without validation, for callers that apply flag overrides
// before validating.
func Read(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if cfg.PeersRaw != "" {
		peers, err := ParsePeers(cfg.PeersRaw)
		if err != nil {
			return Config{}, err
		}
		cfg.Peers = peers
	}
	return cfg, nil
}

// Validate checks the whole configuration.
func (c Config) Validate() error {
	var errs []error
	if c.NodeID == "" {
		errs = append(errs, errors.New("node_id is required"))
	}
	seen := make(map[string]bool, len(c.Peers))
	for _, p := range c.Peers {
		if seen[p.ID] {
			errs = append(errs, fmt.Errorf("duplicate peer %s", p.ID))
		}
		seen[p.ID] = true
	}
	if err := c.Sync.Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// ParsePeers parses a comma-separated list of peers in the format:
// "id1=addr1,id2=addr2,id3=addr3"
func ParsePeers(peersStr string) ([]Peer, error) {
	if peersStr == "" {
		return []Peer{}, nil
	}

	parts := strings.Split(peersStr, ",")
	peers := make([]Peer, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid peer format: %s (expected id=addr)", part)
		}

		id := strings.TrimSpace(kv[0])
		addr := strings.TrimSpace(kv[1])

		if id == "" || addr == "" {
			return nil, fmt.Errorf("peer ID and address cannot be empty: %s", part)
		}

		peers = append(peers, Peer{
			ID:   id,
			Addr: addr,
		})
	}

	return peers, nil
}

// RemotePeers returns the configured peers without the local node.
func (c *Config) RemotePeers() []Peer {
	peers := make([]Peer, 0, len(c.Peers))
	for _, peer := range c.Peers {
		// Skip self if it appears in peers list
		if peer.ID != c.NodeID {
			peers = append(peers, peer)
		}
	}
	return peers
}
