package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config holds all configuration for metabak
type Config struct {
	DataDir  string `mapstructure:"data_dir"`
	Engine   string `mapstructure:"engine"` // pebble, badger
	LogLevel string `mapstructure:"log_level"`

	// Storage engine tuning
	SyncWrites bool `mapstructure:"sync_writes"`

	// SessionRetention bounds how long finished backup sessions are kept.
	// Zero keeps them forever; purging is an explicit maintenance action.
	SessionRetention time.Duration `mapstructure:"session_retention"`
}

// Load loads configuration from flags, an optional config file, and
// environment variables (prefix METABAK), in that order of precedence.
func Load(cmd *cobra.Command) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if err := bindFlags(cmd, v); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}

	if configFile, _ := cmd.Flags().GetString("config"); configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("METABAK")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// NO default for data_dir - must be explicitly configured
	v.SetDefault("engine", "pebble")
	v.SetDefault("log_level", "info")
	v.SetDefault("sync_writes", false)
	v.SetDefault("session_retention", time.Duration(0))
}

func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	flags := map[string]string{
		"data-dir":  "data_dir",
		"engine":    "engine",
		"log-level": "log_level",
	}

	for flag, key := range flags {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return err
		}
	}

	return nil
}

func validate(cfg *Config) error {
	if cfg.DataDir == "" {
		return fmt.Errorf("data_dir is required: specify via --data-dir flag, config file, or METABAK_DATA_DIR environment variable")
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	switch cfg.Engine {
	case "pebble", "badger":
	default:
		return fmt.Errorf("unknown engine %q: must be pebble or badger", cfg.Engine)
	}

	if cfg.SessionRetention < 0 {
		return fmt.Errorf("session_retention must not be negative")
	}

	return nil
}
