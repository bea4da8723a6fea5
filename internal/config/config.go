package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// PrivateKeyEnv is the only place the agent's Nostr private key may come
// from. It is never read from the config file.
const PrivateKeyEnv = "NOSTR_PRIVATE_KEY"

// Config represents the complete agent configuration
type Config struct {
	App     AppConfig     `yaml:"app"`
	Nostr   NostrConfig   `yaml:"nostr"`
	Blossom BlossomConfig `yaml:"blossom"`
	Payment PaymentConfig `yaml:"payment"`
	Ops     OpsConfig     `yaml:"ops"`
	Logging LoggingConfig `yaml:"logging"`
	DataDir string        `yaml:"data_dir"`

	// PrivateKey is populated from the environment by ApplyEnv.
	PrivateKey string `yaml:"-"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// NostrConfig holds relay endpoints and subscription settings
type NostrConfig struct {
	Relays []string `yaml:"relays"`
	// DMLookback bounds how far back gift-wrapped DMs are replayed when a
	// subscription is (re)established.
	DMLookback time.Duration `yaml:"dm_lookback"`
}

// BlossomConfig holds the blob server endpoint and retention settings
type BlossomConfig struct {
	Server        string        `yaml:"server"`
	RetentionDays int           `yaml:"retention_days"`
	UploadTimeout time.Duration `yaml:"upload_timeout"`
}

// PaymentConfig holds mint and pricing settings
type PaymentConfig struct {
	MintURL    string        `yaml:"mint_url"`
	AmountSats uint64        `yaml:"amount_sats"`
	PendingTTL time.Duration `yaml:"pending_ttl"`
}

// OpsConfig holds the read-only HTTP introspection server settings
type OpsConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Nostr.DMLookback == 0 {
		c.Nostr.DMLookback = 24 * time.Hour
	}
	if c.Blossom.RetentionDays == 0 {
		c.Blossom.RetentionDays = 2
	}
	if c.Payment.MintURL == "" {
		c.Payment.MintURL = "https://mint.minibits.cash/Bitcoin"
	}
	if c.Payment.AmountSats == 0 {
		c.Payment.AmountSats = 1
	}
	if c.Payment.PendingTTL == 0 {
		c.Payment.PendingTTL = 24 * time.Hour
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
}

// ApplyEnv overlays environment values on top of the file configuration.
// NOSTR_RELAYS (comma separated) and BLOSSOM_UPLOAD_SERVER override the file
// so that deployments can run from environment alone.
func (c *Config) ApplyEnv() {
	c.PrivateKey = strings.TrimSpace(os.Getenv(PrivateKeyEnv))

	if relays := os.Getenv("NOSTR_RELAYS"); relays != "" {
		c.Nostr.Relays = c.Nostr.Relays[:0]
		for _, r := range strings.Split(relays, ",") {
			if r = strings.TrimSpace(r); r != "" {
				c.Nostr.Relays = append(c.Nostr.Relays, r)
			}
		}
	}
	if server := os.Getenv("BLOSSOM_UPLOAD_SERVER"); server != "" {
		c.Blossom.Server = server
	}
	if mint := os.Getenv("CASHU_MINT_URL"); mint != "" {
		c.Payment.MintURL = mint
	}
	if dir := os.Getenv("DATA_DIR"); dir != "" {
		c.DataDir = dir
	}
}

// Validate checks if the configuration is complete enough to start.
// A failure here is fatal: the process must not come up half-configured.
func (c *Config) Validate() error {
	if c.PrivateKey == "" {
		return fmt.Errorf("missing %s", PrivateKeyEnv)
	}

	if len(c.Nostr.Relays) == 0 {
		return fmt.Errorf("at least one nostr relay is required")
	}
	for _, r := range c.Nostr.Relays {
		if !strings.HasPrefix(r, "ws://") && !strings.HasPrefix(r, "wss://") {
			return fmt.Errorf("invalid relay url: %s (must be ws:// or wss://)", r)
		}
	}

	if c.Blossom.Server == "" {
		return fmt.Errorf("blossom server is required")
	}

	if c.Payment.MintURL == "" {
		return fmt.Errorf("payment mint_url is required")
	}
	if c.Payment.AmountSats == 0 {
		return fmt.Errorf("payment amount_sats must be greater than 0")
	}

	if c.Blossom.RetentionDays < 0 {
		return fmt.Errorf("blossom retention_days must not be negative")
	}

	if c.Ops.Enabled && (c.Ops.Port < MinPort || c.Ops.Port > MaxPort) {
		return fmt.Errorf("invalid ops port: %d (must be between %d and %d)", c.Ops.Port, MinPort, MaxPort)
	}

	return nil
}

// Retention returns the blob retention window as a duration.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Blossom.RetentionDays) * 24 * time.Hour
}
