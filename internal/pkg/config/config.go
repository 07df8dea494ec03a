package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix prefixes every environment override. "__" separates levels.
	EnvPrefix = "HASSWEBHOOK_"
	// PathEnv overrides the config file location.
	PathEnv = EnvPrefix + "CONFIG"
	// DefaultPath is read when PathEnv is unset.
	DefaultPath = "config.yaml"
)

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Matrix    MatrixConfig    `koanf:"matrix"`
	Storage   StorageConfig   `koanf:"storage"`
	Bot       BotConfig       `koanf:"bot"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
	Callback  CallbackConfig  `koanf:"callback"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Log       LogConfig       `koanf:"log"`
}

type ServerConfig struct {
	Port           int             `koanf:"port"`
	RequestTimeout time.Duration   `koanf:"request_timeout"`
	RateLimit      RateLimitConfig `koanf:"rate_limit"`
}

// RateLimitConfig limits /push requests. RPS 0 disables limiting.
type RateLimitConfig struct {
	RPS   float64 `koanf:"rps"`
	Burst int     `koanf:"burst"`
}

type MatrixConfig struct {
	HomeserverURL string       `koanf:"homeserver_url"`
	UserID        string       `koanf:"user_id"`
	AccessToken   string       `koanf:"access_token"`
	DeviceID      string       `koanf:"device_id"`
	Crypto        CryptoConfig `koanf:"crypto"`
}

// CryptoConfig enables end-to-end encryption for the bot device. The
// database is a SQLite file holding olm sessions and room state.
type CryptoConfig struct {
	Enabled   bool   `koanf:"enabled"`
	PickleKey string `koanf:"pickle_key"`
	Database  string `koanf:"database"`
}

type StorageConfig struct {
	Driver string `koanf:"driver"` // sqlite, postgres, memory
	DSN    string `koanf:"dsn"`
}

// BotConfig carries the behavior settings of the webhook bot.
type BotConfig struct {
	BaseURL       string `koanf:"base_url"`
	CommandPrefix string `koanf:"command_prefix"`
	KeepDelTag    bool   `koanf:"keep_del_tag"`
	MessageKey    string `koanf:"message_key"`
	PluginPath    string `koanf:"plugin_path"`
}

type SchedulerConfig struct {
	Cron      string        `koanf:"cron"`
	Lookahead time.Duration `koanf:"lookahead"`
}

type CallbackConfig struct {
	Timeout      time.Duration `koanf:"timeout"`
	AllowPrivate bool          `koanf:"allow_private"`
}

type TelemetryConfig struct {
	Tracing bool `koanf:"tracing"`
	Metrics bool `koanf:"metrics"`
}

type LogConfig struct {
	Level string `koanf:"level"`
}

var defaults = map[string]any{
	"server.port":             8080,
	"server.request_timeout":  "30s",
	"server.rate_limit.rps":   0,
	"server.rate_limit.burst": 10,
	"matrix.crypto.enabled":    false,
	"matrix.crypto.database":  "./data/hasswebhook-crypto.db",
	"storage.driver":          "sqlite",
	"storage.dsn":             "./data/hasswebhook.db",
	"bot.command_prefix":      "hasswebhook",
	"bot.keep_del_tag":        false,
	"bot.message_key":         "message",
	"bot.plugin_path":         "_matrix/maubot/plugin/hasswebhook",
	"scheduler.cron":          "* * * * *",
	"scheduler.lookahead":     "1m",
	"callback.timeout":        "10s",
	"callback.allow_private":  true,
	"telemetry.tracing":       false,
	"telemetry.metrics":       true,
	"log.level":               "info",
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads the file named by HASSWEBHOOK_CONFIG (or config.yaml) and applies
// environment overrides.
func Load() (*Config, error) {
	path := os.Getenv(PathEnv)
	if path == "" {
		path = DefaultPath
	}
	return LoadFile(path)
}

// LoadFile reads path, which may be missing, then environment overrides,
// then validates the result.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		// File not found is OK, we'll use env vars
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	cfg, err := decode(k)
	if err != nil {
		return nil, err
	}

	cfg.Matrix.HomeserverURL = substituteEnvVars(cfg.Matrix.HomeserverURL)
	cfg.Matrix.UserID = substituteEnvVars(cfg.Matrix.UserID)
	cfg.Matrix.AccessToken = substituteEnvVars(cfg.Matrix.AccessToken)
	cfg.Matrix.Crypto.PickleKey = substituteEnvVars(cfg.Matrix.Crypto.PickleKey)
	cfg.Storage.DSN = substituteEnvVars(cfg.Storage.DSN)
	cfg.Bot.BaseURL = substituteEnvVars(cfg.Bot.BaseURL)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Defaults returns the configuration used when nothing is set. Matrix
// credentials are empty, so it does not pass Validate.
func Defaults() *Config {
	cfg, err := decode(koanf.New("."))
	if err != nil {
		panic(fmt.Sprintf("config defaults do not decode: %v", err))
	}
	return cfg
}

func decode(k *koanf.Koanf) (*Config, error) {
	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Matrix.HomeserverURL == "" {
		errs = append(errs, errors.New("matrix.homeserver_url is required"))
	}
	if c.Matrix.UserID == "" {
		errs = append(errs, errors.New("matrix.user_id is required"))
	}
	if c.Matrix.AccessToken == "" {
		errs = append(errs, errors.New("matrix.access_token is required"))
	}
	if c.Matrix.Crypto.Enabled {
		if c.Matrix.DeviceID == "" {
			errs = append(errs, errors.New("matrix.device_id is required when matrix.crypto.enabled is set"))
		}
		if c.Matrix.Crypto.PickleKey == "" {
			errs = append(errs, errors.New("matrix.crypto.pickle_key is required when matrix.crypto.enabled is set"))
		}
		if c.Matrix.Crypto.Database == "" {
			errs = append(errs, errors.New("matrix.crypto.database must not be empty"))
		}
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range", c.Server.Port))
	}
	if c.Server.RequestTimeout <= 0 {
		errs = append(errs, errors.New("server.request_timeout must be positive"))
	}
	if c.Server.RateLimit.RPS < 0 {
		errs = append(errs, errors.New("server.rate_limit.rps must not be negative"))
	}
	switch strings.ToLower(c.Storage.Driver) {
	case "memory", "sqlite", "sqlite3", "postgres", "postgresql", "pgx":
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver))
	}
	if c.Bot.MessageKey == "" {
		errs = append(errs, errors.New("bot.message_key must not be empty"))
	}
	if !gronx.IsValid(c.Scheduler.Cron) {
		errs = append(errs, fmt.Errorf("scheduler.cron %q is not a valid cron expression", c.Scheduler.Cron))
	}
	if c.Scheduler.Lookahead < 0 {
		errs = append(errs, errors.New("scheduler.lookahead must not be negative"))
	}
	if c.Callback.Timeout <= 0 {
		errs = append(errs, errors.New("callback.timeout must be positive"))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	return errors.Join(errs...)
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
