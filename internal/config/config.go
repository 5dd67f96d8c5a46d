package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	ListenAddr             string        `mapstructure:"listen_addr"`
	ContentStoreBaseURL    string        `mapstructure:"content_store_base_url"`
	IdentityProviderURL    string        `mapstructure:"identity_provider_base_url"`
	AllowedOrigins         []string      `mapstructure:"allowed_origins"`
	RingingTimeout         time.Duration `mapstructure:"ringing_timeout"`
	PresenceAwayAfter      time.Duration `mapstructure:"presence_away_after"`
	PresenceOfflineAfter   time.Duration `mapstructure:"presence_offline_after"`
	PresenceSweepInterval  time.Duration `mapstructure:"presence_sweep_interval"`
	TypingTTL              time.Duration `mapstructure:"typing_ttl"`
	ContentStoreDeadline   time.Duration `mapstructure:"content_store_deadline"`
	MaxTransportBuffer     int64         `mapstructure:"max_transport_buffer"`
	SessionEventsPerSecond float64       `mapstructure:"session_events_per_second"`
	SessionEventBurst      int           `mapstructure:"session_event_burst"`
}

// Load reads configuration from an optional YAML file and HUB_-prefixed
// environment variables, falling back to defaults for every tunable.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetDefault("listen_addr", "localhost:8000")
	v.SetDefault("ringing_timeout", "30s")
	v.SetDefault("presence_away_after", "5m")
	v.SetDefault("presence_offline_after", "30m")
	v.SetDefault("presence_sweep_interval", "60s")
	v.SetDefault("typing_ttl", "10s")
	v.SetDefault("content_store_deadline", "10s")
	v.SetDefault("max_transport_buffer", 1<<20)
	v.SetDefault("session_events_per_second", 20.0)
	v.SetDefault("session_event_burst", 40)

	v.SetEnvPrefix("HUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address cannot be empty")
	}
	if err := requireURL("content_store_base_url", c.ContentStoreBaseURL); err != nil {
		return err
	}
	if err := requireURL("identity_provider_base_url", c.IdentityProviderURL); err != nil {
		return err
	}
	if c.RingingTimeout <= 0 {
		return fmt.Errorf("ringing_timeout must be positive")
	}
	if c.PresenceAwayAfter <= 0 || c.PresenceOfflineAfter <= c.PresenceAwayAfter {
		return fmt.Errorf("presence_offline_after must be greater than presence_away_after")
	}
	if c.TypingTTL <= 0 {
		return fmt.Errorf("typing_ttl must be positive")
	}
	if c.ContentStoreDeadline <= 0 {
		return fmt.Errorf("content_store_deadline must be positive")
	}
	if c.MaxTransportBuffer <= 0 {
		return fmt.Errorf("max_transport_buffer must be positive")
	}
	return nil
}

func requireURL(name, value string) error {
	if value == "" {
		return fmt.Errorf("%s is required", name)
	}
	u, err := url.Parse(value)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s must be a valid URL", name)
	}
	return nil
}
