package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// ConfigFileEnv names the environment variable pointing at an optional
// YAML or TOML configuration file.
const ConfigFileEnv = "PODFS_CONFIG"

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Cluster   ClusterConfig   `yaml:"cluster" toml:"cluster"`
	Channel   ChannelConfig   `yaml:"channel" toml:"channel"`
	FS        FSConfig        `yaml:"fs" toml:"fs"`
	Transfer  TransferConfig  `yaml:"transfer" toml:"transfer"`
	Stream    StreamConfig    `yaml:"stream" toml:"stream"`
	Logging   LogConfig       `yaml:"logging" toml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" yaml:"port" toml:"port"`
	Host string `envconfig:"HOST" yaml:"host" toml:"host"`
}

// ClusterConfig selects how the cluster is reached.
type ClusterConfig struct {
	// ExecMode is "kubectl" (spawn kubectl exec) or "websocket" (API exec subresource).
	ExecMode   string `envconfig:"EXEC_MODE" yaml:"exec_mode" toml:"exec_mode"`
	Kubectl    string `envconfig:"KUBECTL" yaml:"kubectl" toml:"kubectl"`
	Kubeconfig string `envconfig:"KUBECONFIG" yaml:"kubeconfig" toml:"kubeconfig"`
	Context    string `envconfig:"KUBE_CONTEXT" yaml:"context" toml:"context"`
	Namespace  string `envconfig:"KUBE_NAMESPACE" yaml:"namespace" toml:"namespace"`
	// ProxyURL points at a running kubectl proxy; empty starts one on demand.
	ProxyURL string `envconfig:"KUBE_PROXY_URL" yaml:"proxy_url" toml:"proxy_url"`
}

// ChannelConfig tunes the ticketed command channel.
type ChannelConfig struct {
	Interpreter        string        `envconfig:"CHANNEL_INTERPRETER" yaml:"interpreter" toml:"interpreter"`
	ReconnectDelay     time.Duration `envconfig:"CHANNEL_RECONNECT_DELAY" yaml:"reconnect_delay" toml:"reconnect_delay"`
	ReconnectMaxDelay  time.Duration `envconfig:"CHANNEL_RECONNECT_MAX_DELAY" yaml:"reconnect_max_delay" toml:"reconnect_max_delay"`
	ReconnectAttempts  int           `envconfig:"CHANNEL_RECONNECT_ATTEMPTS" yaml:"reconnect_attempts" toml:"reconnect_attempts"`
	CloseGrace         time.Duration `envconfig:"CHANNEL_CLOSE_GRACE" yaml:"close_grace" toml:"close_grace"`
	FailPendingOnReset bool          `envconfig:"CHANNEL_FAIL_PENDING_ON_RESET" yaml:"fail_pending_on_reset" toml:"fail_pending_on_reset"`
}

// FSConfig tunes the remote filesystem adapter.
type FSConfig struct {
	ListingTTL time.Duration `envconfig:"FS_LISTING_TTL" yaml:"listing_ttl" toml:"listing_ttl"`
	OpTimeout  time.Duration `envconfig:"FS_OP_TIMEOUT" yaml:"op_timeout" toml:"op_timeout"`
	ReadOnly   bool          `envconfig:"FS_READ_ONLY" yaml:"read_only" toml:"read_only"`
}

// TransferConfig tunes bulk downloads.
type TransferConfig struct {
	Destination    string        `envconfig:"TRANSFER_DESTINATION" yaml:"destination" toml:"destination"`
	SampleInterval time.Duration `envconfig:"TRANSFER_SAMPLE_INTERVAL" yaml:"sample_interval" toml:"sample_interval"`
	Window         int           `envconfig:"TRANSFER_WINDOW" yaml:"window" toml:"window"`
	Compression    string        `envconfig:"TRANSFER_COMPRESSION" yaml:"compression" toml:"compression"`
}

// StreamConfig tunes log and event following.
type StreamConfig struct {
	MinInterval time.Duration `envconfig:"STREAM_MIN_INTERVAL" yaml:"min_interval" toml:"min_interval"`
	Emulate     bool          `envconfig:"STREAM_EMULATE" yaml:"emulate" toml:"emulate"`
	Cols        int           `envconfig:"STREAM_COLS" yaml:"cols" toml:"cols"`
	Rows        int           `envconfig:"STREAM_ROWS" yaml:"rows" toml:"rows"`
	Scrollback  int           `envconfig:"STREAM_SCROLLBACK" yaml:"scrollback" toml:"scrollback"`
	TailLines   int64         `envconfig:"STREAM_TAIL_LINES" yaml:"tail_lines" toml:"tail_lines"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" yaml:"level" toml:"level"`
	Development bool   `envconfig:"LOG_DEV" yaml:"development" toml:"development"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" yaml:"rps" toml:"rps"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" yaml:"burst" toml:"burst"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" yaml:"enabled" toml:"enabled"`
}

// Load builds configuration from defaults, then the file named by
// PODFS_CONFIG if set, then environment variables.
func Load() (*Config, error) {
	cfg := Default()
	if path := os.Getenv(ConfigFileEnv); path != "" {
		if err := cfg.MergeFile(path); err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault loads configuration or returns defaults on error.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "7070",
			Host: "127.0.0.1",
		},
		Cluster: ClusterConfig{
			ExecMode: "kubectl",
			Kubectl:  "kubectl",
		},
		Channel: ChannelConfig{
			Interpreter:       "python3",
			ReconnectDelay:    500 * time.Millisecond,
			ReconnectMaxDelay: 500 * time.Millisecond,
			ReconnectAttempts: 0,
			CloseGrace:        2 * time.Second,
		},
		FS: FSConfig{
			ListingTTL: 600 * time.Millisecond,
			OpTimeout:  30 * time.Second,
		},
		Transfer: TransferConfig{
			SampleInterval: 250 * time.Millisecond,
			Window:         8,
			Compression:    "gzip",
		},
		Stream: StreamConfig{
			MinInterval: 100 * time.Millisecond,
			Emulate:     true,
			Cols:        200,
			Rows:        50,
			Scrollback:  5000,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}

// Validate rejects values the components cannot run with.
func (c *Config) Validate() error {
	switch c.Cluster.ExecMode {
	case "kubectl", "websocket":
	default:
		return fmt.Errorf("unknown exec mode %q", c.Cluster.ExecMode)
	}
	switch c.Transfer.Compression {
	case "gzip", "zstd", "none":
	default:
		return fmt.Errorf("unknown transfer compression %q", c.Transfer.Compression)
	}
	if c.Channel.ReconnectDelay <= 0 {
		return fmt.Errorf("channel reconnect delay must be positive")
	}
	if c.Transfer.SampleInterval <= 0 {
		return fmt.Errorf("transfer sample interval must be positive")
	}
	if c.Stream.Cols <= 0 || c.Stream.Rows <= 0 {
		return fmt.Errorf("stream terminal size must be positive")
	}
	return nil
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}
