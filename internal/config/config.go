package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/fink5984/telefeed/internal/domain"
	"github.com/fink5984/telefeed/internal/registry"
	"github.com/fink5984/telefeed/internal/rules"
)

// Config is the root configuration for telefeed.
type Config struct {
	General  GeneralConfig  `json:"general"`
	Registry RegistryConfig `json:"registry"`
	Routes   RoutesConfig   `json:"routes"`
	Defaults DefaultsConfig `json:"defaults"`
	Telegram TelegramConfig `json:"telegram"`
	Commands CommandsConfig `json:"commands"`
	Metrics  MetricsConfig  `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel" env:"LOG_LEVEL"`
	LogFile  string `json:"logFile,omitempty" env:"LOG_FILE"` // optional log file path
}

// RegistryConfig locates the account registry.
type RegistryConfig struct {
	Driver string `json:"driver" env:"TELEFEED_REGISTRY_DRIVER"` // "json" | "sqlite"
	Path   string `json:"path" env:"ACCOUNTS_FILE"`

	// BaseDir resolves relative rule file paths. Empty means the working
	// directory.
	BaseDir string `json:"baseDir,omitempty" env:"TELEFEED_BASE_DIR"`
}

type RoutesConfig struct {
	ReloadEverySeconds int  `json:"reloadEverySeconds" env:"ROUTES_RELOAD_EVERY"`
	SyncEverySeconds   int  `json:"syncEverySeconds" env:"TELEFEED_SYNC_EVERY"`
	Watch              bool `json:"watch" env:"TELEFEED_WATCH"`
}

// DefaultsConfig is the process-wide base each rule file's own defaults
// block overrides.
type DefaultsConfig struct {
	Mode      string `json:"mode" env:"TRANSFER_MODE"`
	Prefix    string `json:"prefix,omitempty" env:"PREFIX"`
	TextOnly  bool   `json:"textOnly" env:"TEXT_ONLY"`
	MediaOnly bool   `json:"mediaOnly" env:"MEDIA_ONLY"`
}

type TelegramConfig struct {
	APIEndpoint string `json:"apiEndpoint,omitempty" env:"TELEGRAM_API_ENDPOINT"`
	PollTimeout int    `json:"pollTimeout" env:"TELEGRAM_POLL_TIMEOUT"`
}

// CommandsConfig controls the /id and /reload chat commands.
type CommandsConfig struct {
	Enabled bool  `json:"enabled" env:"TELEFEED_COMMANDS"`
	OwnerID int64 `json:"ownerId,omitempty" env:"OWNER_ID"` // 0 = anyone may /reload
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled" env:"TELEFEED_METRICS"`
	Addr    string `json:"addr" env:"TELEFEED_METRICS_ADDR"`
}

// DefaultConfigPath is used when no --config flag is given. A missing file
// there is not an error.
const DefaultConfigPath = "telefeed.json"

// Load builds the configuration from defaults, the JSON file at path (if
// any), a .env file in the working directory and the process environment, in
// increasing precedence.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(expandPath(path))
		switch {
		case err == nil:
			// Substitute environment variables: ${VAR} and ${VAR:-default}
			data = []byte(ExpandEnvVars(string(data)))
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, domain.WrapConfig(err, "cannot parse config file %s", path)
			}
		case errors.Is(err, os.ErrNotExist) && path == DefaultConfigPath:
		default:
			return nil, domain.WrapConfig(err, "cannot read config file %s", path)
		}
	}

	// .env never overrides variables already set in the environment.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, domain.WrapConfig(err, "cannot read .env")
	}
	if err := env.Parse(cfg); err != nil {
		return nil, domain.WrapConfig(err, "parse env")
	}

	cfg.General.LogFile = expandPath(cfg.General.LogFile)
	cfg.Registry.Path = expandPath(cfg.Registry.Path)
	cfg.Registry.BaseDir = expandPath(cfg.Registry.BaseDir)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

// Validate checks that the config has valid values. All problems are
// reported in one config error.
func Validate(cfg *Config) error {
	var errs []string

	switch strings.ToLower(cfg.General.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	switch strings.ToLower(cfg.Registry.Driver) {
	case registry.DriverJSON, registry.DriverSQLite:
	default:
		errs = append(errs, "registry.driver must be one of: json, sqlite")
	}
	if cfg.Registry.Path == "" {
		errs = append(errs, "registry.path is required")
	}

	if cfg.Routes.ReloadEverySeconds < 1 {
		errs = append(errs, "routes.reloadEverySeconds must be >= 1")
	}
	if cfg.Routes.SyncEverySeconds < 1 {
		errs = append(errs, "routes.syncEverySeconds must be >= 1")
	}

	if _, err := rules.ParseMode(cfg.Defaults.Mode); err != nil {
		errs = append(errs, "defaults.mode: "+err.Error())
	}
	if cfg.Defaults.TextOnly && cfg.Defaults.MediaOnly {
		errs = append(errs, "defaults.textOnly and defaults.mediaOnly cannot both be set")
	}

	if cfg.Telegram.PollTimeout < 1 {
		errs = append(errs, "telegram.pollTimeout must be >= 1")
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		errs = append(errs, "metrics.addr is required when metrics are enabled")
	}

	if len(errs) > 0 {
		return domain.ConfigErrorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// RuleDefaults converts the defaults block for the rule loader. It assumes
// Validate passed.
func (c *Config) RuleDefaults() rules.Defaults {
	mode, err := rules.ParseMode(c.Defaults.Mode)
	if err != nil {
		mode = rules.ModeForward
	}
	return rules.Defaults{
		Mode:      mode,
		Prefix:    c.Defaults.Prefix,
		TextOnly:  c.Defaults.TextOnly,
		MediaOnly: c.Defaults.MediaOnly,
	}
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
