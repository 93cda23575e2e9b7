package config

import (
	"embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed example.yaml
var exampleConfig embed.FS

// Config represents the complete hearth configuration
type Config struct {
	Identity Identity `yaml:"identity"`
	Relays   Relays   `yaml:"relays"`
	Channels Channels `yaml:"channels"`
	Naming   Naming   `yaml:"naming"`
	Storage  Storage  `yaml:"storage"`
	Sync     Sync     `yaml:"sync"`
	Logging  Logging  `yaml:"logging"`
}

// Identity contains key-material storage settings
type Identity struct {
	// VaultDir is where the encrypted private key lives. An empty or
	// unwritable directory degrades to a no-persistence vault.
	VaultDir string `yaml:"vault_dir"`
	// PassphraseEnv names the environment variable holding the vault
	// passphrase. The passphrase itself is never read from the file.
	PassphraseEnv string `yaml:"passphrase_env"`
	// ProfileDir holds the non-secret local profile cache.
	ProfileDir string `yaml:"profile_dir"`
}

// Relays contains relay pool settings
type Relays struct {
	Seeds  []string    `yaml:"seeds"`
	Policy RelayPolicy `yaml:"policy"`
}

// RelayPolicy contains connection tunables
type RelayPolicy struct {
	ConnectTimeoutMs int `yaml:"connect_timeout_ms"`
	QueryTimeoutMs   int `yaml:"query_timeout_ms"`
}

// Channels contains the channel set a fresh session starts with
type Channels struct {
	Defaults []string `yaml:"defaults"`
}

// Naming contains the external naming-service settings used at signup
type Naming struct {
	URL    string `yaml:"url"`
	Suffix string `yaml:"suffix"`
}

// Storage contains local event-cache settings
type Storage struct {
	Driver string `yaml:"driver"` // sqlite only for now
	Path   string `yaml:"path"`
}

// Sync contains reconciliation tunables
type Sync struct {
	// PrivMessageLimit bounds a single private-message fetch.
	PrivMessageLimit int `yaml:"priv_message_limit"`
	// ChannelWindowHours is the default history window for channel fetches.
	ChannelWindowHours int `yaml:"channel_window_hours"`
	// NotifyDebounceMs coalesces observer notifications.
	NotifyDebounceMs int `yaml:"notify_debounce_ms"`
}

// Logging contains log output settings
type Logging struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // text|json
}

// Default returns a configuration with sensible defaults applied
func Default() *Config {
	return &Config{
		Identity: Identity{
			VaultDir:      "~/.hearth/vault",
			PassphraseEnv: "HEARTH_VAULT_PASSPHRASE",
			ProfileDir:    "~/.hearth/profile",
		},
		Relays: Relays{
			Seeds: []string{
				"wss://relay.arcade.city",
				"wss://arc1.arcadelabs.co",
				"wss://relay.damus.io",
			},
			Policy: RelayPolicy{
				ConnectTimeoutMs: 10000,
				QueryTimeoutMs:   30000,
			},
		},
		Channels: Channels{
			Defaults: []string{
				"8b28c7374ba5891ea65db9a2d1234ecc369755c35f6db1a54f18424500dea4a0",
				"5b93e807c4bc055693be881f8cfe65b36d1f7e6d3b473ee58e8275216ff74393",
				"3ff1f0a932e0a51f8a7d0241d5882f0b26c76de83f83c1b4c1efe42adadb27bd",
			},
		},
		Naming: Naming{
			URL:    "https://names.hearth.chat/register",
			Suffix: "hearth.chat",
		},
		Storage: Storage{
			Driver: "sqlite",
			Path:   "~/.hearth/events.db",
		},
		Sync: Sync{
			PrivMessageLimit:   500,
			ChannelWindowHours: 24,
			NotifyDebounceMs:   100,
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads, defaults, overrides and validates a configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	defaults := Default()

	if cfg.Identity.VaultDir == "" {
		cfg.Identity.VaultDir = defaults.Identity.VaultDir
	}
	if cfg.Identity.PassphraseEnv == "" {
		cfg.Identity.PassphraseEnv = defaults.Identity.PassphraseEnv
	}
	if cfg.Identity.ProfileDir == "" {
		cfg.Identity.ProfileDir = defaults.Identity.ProfileDir
	}
	if len(cfg.Relays.Seeds) == 0 {
		cfg.Relays.Seeds = defaults.Relays.Seeds
	}
	if cfg.Relays.Policy.ConnectTimeoutMs == 0 {
		cfg.Relays.Policy.ConnectTimeoutMs = defaults.Relays.Policy.ConnectTimeoutMs
	}
	if cfg.Relays.Policy.QueryTimeoutMs == 0 {
		cfg.Relays.Policy.QueryTimeoutMs = defaults.Relays.Policy.QueryTimeoutMs
	}
	if len(cfg.Channels.Defaults) == 0 {
		cfg.Channels.Defaults = defaults.Channels.Defaults
	}
	if cfg.Naming.URL == "" {
		cfg.Naming.URL = defaults.Naming.URL
	}
	if cfg.Naming.Suffix == "" {
		cfg.Naming.Suffix = defaults.Naming.Suffix
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = defaults.Storage.Driver
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = defaults.Storage.Path
	}
	if cfg.Sync.PrivMessageLimit == 0 {
		cfg.Sync.PrivMessageLimit = defaults.Sync.PrivMessageLimit
	}
	if cfg.Sync.ChannelWindowHours == 0 {
		cfg.Sync.ChannelWindowHours = defaults.Sync.ChannelWindowHours
	}
	if cfg.Sync.NotifyDebounceMs == 0 {
		cfg.Sync.NotifyDebounceMs = defaults.Sync.NotifyDebounceMs
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaults.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = defaults.Logging.Format
	}
}

func applyEnvOverrides(cfg *Config) {
	if dir := os.Getenv("HEARTH_VAULT_DIR"); dir != "" {
		cfg.Identity.VaultDir = dir
	}
	if path := os.Getenv("HEARTH_STORAGE_PATH"); path != "" {
		cfg.Storage.Path = path
	}
	if relays := os.Getenv("HEARTH_RELAYS"); relays != "" {
		cfg.Relays.Seeds = strings.Split(relays, ",")
	}
}

// Validate checks a configuration for required fields and sane values
func Validate(cfg *Config) error {
	if len(cfg.Relays.Seeds) == 0 {
		return fmt.Errorf("at least one relay seed is required")
	}
	for _, seed := range cfg.Relays.Seeds {
		if !strings.HasPrefix(seed, "wss://") && !strings.HasPrefix(seed, "ws://") {
			return fmt.Errorf("relay seed must start with ws:// or wss://: %s", seed)
		}
	}

	if cfg.Storage.Driver != "sqlite" {
		return fmt.Errorf("unsupported storage driver: %s", cfg.Storage.Driver)
	}

	for _, id := range cfg.Channels.Defaults {
		if len(id) != 64 {
			return fmt.Errorf("default channel id must be 64 hex characters: %s", id)
		}
	}

	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "error", "":
	default:
		return fmt.Errorf("invalid log level: %s", cfg.Logging.Level)
	}

	return nil
}

// WriteExample writes the embedded example configuration to path
func WriteExample(path string) error {
	data, err := exampleConfig.ReadFile("example.yaml")
	if err != nil {
		return fmt.Errorf("failed to read embedded example: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write example config: %w", err)
	}
	return nil
}
