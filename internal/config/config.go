package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const EnvPrefix = "VOICE"

// DefaultSecret signs session cookies outside release mode only.
const DefaultSecret = "change-me"

type StoreConfig struct {
	Policy        string        `mapstructure:"policy"`
	SessionTTL    time.Duration `mapstructure:"session_ttl"`
	MaxCandidates int           `mapstructure:"max_candidates"`
}

type WSConfig struct {
	CandidateRate   int           `mapstructure:"candidate_rate"`
	CandidateWindow time.Duration `mapstructure:"candidate_window"`
}

// Config is the signaling server configuration.
type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`
	LogLevel   string        `mapstructure:"log_level"`
	Store      StoreConfig   `mapstructure:"store"`
	WS         WSConfig      `mapstructure:"ws"`
}

// ClientConfig is the voicecall participant configuration.
type ClientConfig struct {
	ServerURL    string        `mapstructure:"server_url"`
	STUNURL      string        `mapstructure:"stun_url"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	LogLevel     string        `mapstructure:"log_level"`
	Transport    string        `mapstructure:"transport"` // http or ws
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func loadDotEnv() {
	// godotenv.Load does not overwrite existing env vars
	if err := godotenv.Load(); err == nil {
		log.Debug().Str("module", "config").Msg("loaded .env")
	}
}

// Load reads config/config.<CONFIG_ENV>.yaml, dev by default.
func Load() (*Config, error) {
	loadDotEnv()
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

// LoadFile reads the server configuration from fileName, environment and
// defaults. A missing file is not an error.
func LoadFile(fileName string) (*Config, error) {
	v := newViper()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", DefaultSecret)
	v.SetDefault("log_level", "info")
	v.SetDefault("store.policy", "set_once")
	v.SetDefault("store.session_ttl", "0s")
	v.SetDefault("store.max_candidates", 256)
	v.SetDefault("ws.candidate_rate", 50)
	v.SetDefault("ws.candidate_window", "10s")

	if err := v.ReadInConfig(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config %s: %w", fileName, err)
			}
		}
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Str("policy", cfg.Store.Policy).
		Dur("session_ttl", cfg.Store.SessionTTL).
		Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch {
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("invalid port %d", c.Port)
	case c.PingPeriod <= 0:
		return fmt.Errorf("ping_period must be positive, got %s", c.PingPeriod)
	case c.Mode == "release" && (c.Secret == "" || c.Secret == DefaultSecret):
		return errors.New("secret must be set in release mode (VOICE_SECRET)")
	case c.ReadLimit <= 0:
		return fmt.Errorf("read_limit must be positive, got %d", c.ReadLimit)
	case c.Store.SessionTTL < 0:
		return fmt.Errorf("store.session_ttl must not be negative")
	case c.Store.MaxCandidates < 0:
		return fmt.Errorf("store.max_candidates must not be negative")
	case c.WS.CandidateRate < 0 || c.WS.CandidateWindow < 0:
		return fmt.Errorf("ws candidate limits must not be negative")
	}
	return nil
}

// LoadClient resolves the participant configuration from v, which may carry
// bound command line flags, plus VOICE_* environment and defaults.
func LoadClient(v *viper.Viper) (*ClientConfig, error) {
	loadDotEnv()
	if v == nil {
		v = viper.New()
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("server_url", "http://localhost:8080")
	v.SetDefault("stun_url", "stun:stun.l.google.com:19302")
	v.SetDefault("poll_interval", "2s")
	v.SetDefault("log_level", "info")
	v.SetDefault("transport", "http")

	var cfg ClientConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse client config: %w", err)
	}
	if cfg.ServerURL == "" {
		return nil, errors.New("server_url is required")
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("poll_interval must be positive, got %s", cfg.PollInterval)
	}
	if cfg.Transport != "http" && cfg.Transport != "ws" {
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
	return &cfg, nil
}
