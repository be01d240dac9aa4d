// Package config loads a Cascade node's YAML configuration. It is
// intentionally small: no templating, no overlays, no remote config
// sources — configuration file parsing is a Non-goal as a feature (§1),
// carried only as ambient YAML-loading stack.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ShardConfig describes one shard this node replicates.
type ShardConfig struct {
	ID             string   `yaml:"id"`
	Pathname       string   `yaml:"pathname"`
	BindAddr       string   `yaml:"bindAddr"`
	Persistent     bool     `yaml:"persistent"`
	Signed         bool     `yaml:"signed"`
	// SigPoolID names the shard holding this shard's signature chain; only
	// meaningful when Signed is true.
	SigPoolID      string   `yaml:"sigPoolId,omitempty"`
	EvaluationMode bool     `yaml:"evaluationMode"`
	Bootstrap      bool     `yaml:"bootstrap"`
	// Directory marks this shard as the meta-subgroup hosting the pool
	// directory (pkg/pooldir); at most one shard per node should set it.
	Directory bool     `yaml:"directory,omitempty"`
	Peers     []string `yaml:"peers,omitempty"`
}

// Config is a single Cascade node's configuration.
type Config struct {
	NodeID      string        `yaml:"nodeId"`
	DataDir     string        `yaml:"dataDir"`
	RPCAddr     string        `yaml:"rpcAddr"`
	MetricsAddr string        `yaml:"metricsAddr"`
	LogLevel    string        `yaml:"logLevel"`
	LogJSON     bool          `yaml:"logJSON"`
	Shards      []ShardConfig `yaml:"shards"`

	// OCDPOPoolSize sizes the free worker pool the node's single off-
	// critical-data-path dispatcher, shared by all its shards, uses for
	// default-affinity observers (§4.5).
	OCDPOPoolSize int `yaml:"ocdpoPoolSize"`
	// OCDPOGraceSeconds bounds how long dispatcher shutdown waits for
	// in-flight observer invocations to finish before giving up.
	OCDPOGraceSeconds int `yaml:"ocdpoGraceSeconds"`
}

// Load reads and parses a node configuration file, applying defaults for
// unset fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.RPCAddr == "" {
		c.RPCAddr = "0.0.0.0:7070"
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = "0.0.0.0:9090"
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.OCDPOPoolSize == 0 {
		c.OCDPOPoolSize = 4
	}
	if c.OCDPOGraceSeconds == 0 {
		c.OCDPOGraceSeconds = 5
	}
}

func (c *Config) validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("nodeId is required")
	}
	if len(c.Shards) == 0 {
		return fmt.Errorf("at least one shard must be configured")
	}
	seen := make(map[string]bool, len(c.Shards))
	for _, s := range c.Shards {
		if s.ID == "" {
			return fmt.Errorf("shard entry missing id")
		}
		if seen[s.ID] {
			return fmt.Errorf("duplicate shard id %q", s.ID)
		}
		seen[s.ID] = true
		if s.BindAddr == "" {
			return fmt.Errorf("shard %q missing bindAddr", s.ID)
		}
		if s.Signed && s.SigPoolID == "" {
			return fmt.Errorf("shard %q is signed but has no sigPoolId", s.ID)
		}
	}
	return nil
}
