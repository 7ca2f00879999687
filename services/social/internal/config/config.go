package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the config file read when neither an explicit path nor SOCIAL_CONFIG is set.
const ConfigPath = "config.yaml"

const defaultShutdownTimeout = 10 * time.Second

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port                       string   `yaml:"port"`
	Storage                    string   `yaml:"storage"`
	DatabaseURL                string   `yaml:"databaseURL"`
	MaxOpenConns               int      `yaml:"maxOpenConns"`
	RedisAddr                  string   `yaml:"redisAddr"`
	RedisPassword              string   `yaml:"redisPassword"`
	LogLevel                   string   `yaml:"logLevel"`
	RegisterRateLimitPerMinute int      `yaml:"registerRateLimitPerMinute"`
	LoginRateLimitPerMinute    int      `yaml:"loginRateLimitPerMinute"`
	ShutdownTimeout            string   `yaml:"shutdownTimeout"`
	TrustedProxies             []string `yaml:"trustedProxies"`
	CORSAllowedOrigins         []string `yaml:"corsAllowedOrigins"`
}

// Path returns the config file location, honoring SOCIAL_CONFIG.
func Path() string {
	if v := strings.TrimSpace(os.Getenv("SOCIAL_CONFIG")); v != "" {
		return v
	}
	return ConfigPath
}

// Load reads config from path (defaults to Path()), applies environment overrides and validates.
// A missing file is tolerated so the service can run from environment alone.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = Path()
	}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return cfg, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) error {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("SOCIAL_STORE"); v != "" {
		cfg.Storage = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("TRUSTED_PROXIES"); v != "" {
		cfg.TrustedProxies = splitList(v)
	}
	ints := []struct {
		env string
		dst *int
	}{
		{"SOCIAL_MAX_OPEN_CONNS", &cfg.MaxOpenConns},
		{"SOCIAL_REGISTER_RATE_LIMIT_PER_MINUTE", &cfg.RegisterRateLimitPerMinute},
		{"SOCIAL_LOGIN_RATE_LIMIT_PER_MINUTE", &cfg.LoginRateLimitPerMinute},
	}
	for _, it := range ints {
		v := os.Getenv(it.env)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("config: %s must be an integer: %w", it.env, err)
		}
		*it.dst = n
	}
	return nil
}

func applyDefaults(cfg *FileConfig) {
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.Storage == "" {
		cfg.Storage = "postgres"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

func validateConfig(cfg FileConfig) error {
	switch cfg.Storage {
	case "postgres":
		if cfg.DatabaseURL == "" {
			return errors.New("config: databaseURL is required for postgres storage (set DATABASE_URL)")
		}
	case "memory":
	default:
		return fmt.Errorf("config: storage must be postgres or memory, got %q", cfg.Storage)
	}
	if _, err := strconv.Atoi(cfg.Port); err != nil {
		return fmt.Errorf("config: port must be numeric, got %q", cfg.Port)
	}
	if cfg.RegisterRateLimitPerMinute < 0 || cfg.LoginRateLimitPerMinute < 0 || cfg.MaxOpenConns < 0 {
		return errors.New("config: rate limits and maxOpenConns must be >= 0")
	}
	if (cfg.RegisterRateLimitPerMinute > 0 || cfg.LoginRateLimitPerMinute > 0) && strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required when rate limits are set")
	}
	if _, err := ParseShutdownTimeout(cfg.ShutdownTimeout); err != nil {
		return err
	}
	return nil
}

// ParseShutdownTimeout parses the optional shutdown grace period.
func ParseShutdownTimeout(raw string) (time.Duration, error) {
	if strings.TrimSpace(raw) == "" {
		return defaultShutdownTimeout, nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid shutdownTimeout duration: %w", err)
	}
	if dur <= 0 {
		return 0, errors.New("invalid shutdownTimeout duration: must be positive")
	}
	return dur, nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
