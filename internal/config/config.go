package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix  = "CYBERGUARD_"
	pathEnvVar = "CYBERGUARD_CONFIG"
)

type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Gemini      GeminiConfig      `koanf:"gemini"`
	Speech      SpeechConfig      `koanf:"speech"`
	Language    LanguageConfig    `koanf:"language"`
	PromptCache PromptCacheConfig `koanf:"prompt_cache"`
	Session     SessionConfig     `koanf:"session"`
	SMTP        SMTPConfig        `koanf:"smtp"`
	Officer     OfficerConfig     `koanf:"officer"`
	Tracing     TracingConfig     `koanf:"tracing"`
}

type ServerConfig struct {
	Port               int    `koanf:"port"`
	Env                string `koanf:"env"` // development, production
	SecureCookies      bool   `koanf:"secure_cookies"`
	MaxUploadMB        int    `koanf:"max_upload_mb"`
	RateLimitPerMinute int    `koanf:"rate_limit_per_minute"`
	RateLimitBurst     int    `koanf:"rate_limit_burst"`
}

type GeminiConfig struct {
	APIKey  string `koanf:"api_key"`
	Model   string `koanf:"model"`
	BaseURL string `koanf:"base_url"`
}

type SpeechConfig struct {
	APIKey     string `koanf:"api_key"`
	Model      string `koanf:"model"`
	BaseURL    string `koanf:"base_url"`
	SampleRate int    `koanf:"sample_rate"`
}

type LanguageConfig struct {
	Canonical string `koanf:"canonical"`
}

type PromptCacheConfig struct {
	Driver string `koanf:"driver"` // sqlite, pgx
	DSN    string `koanf:"dsn"`
}

type SessionConfig struct {
	TTL           time.Duration `koanf:"ttl"`
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

type SMTPConfig struct {
	Host             string `koanf:"host"`
	Port             int    `koanf:"port"`
	User             string `koanf:"user"`
	Pass             string `koanf:"pass"`
	FromAddress      string `koanf:"from_address"`
	FromName         string `koanf:"from_name"`
	Destination      string `koanf:"destination"` // comma-separated
	PGPPublicKeyPath string `koanf:"pgp_public_key_path"`
}

type OfficerConfig struct {
	SeedEmail    string `koanf:"seed_email"`
	SeedPassword string `koanf:"seed_password"`
}

type TracingConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
}

var defaults = map[string]any{
	"server.port":                  8080,
	"server.env":                   "development",
	"server.max_upload_mb":         55,
	"server.rate_limit_per_minute": 60,
	"server.rate_limit_burst":      20,
	"gemini.model":                 "gemini-1.5-flash",
	"gemini.base_url":              "https://generativelanguage.googleapis.com",
	"speech.model":                 "whisper-1",
	"speech.base_url":              "https://api.openai.com/v1",
	"speech.sample_rate":           16000,
	"language.canonical":           "English",
	"prompt_cache.driver":          "sqlite",
	"prompt_cache.dsn":             ":memory:",
	"session.ttl":                  2 * time.Hour,
	"session.sweep_interval":       5 * time.Minute,
	"smtp.port":                    587,
	"smtp.from_name":               "CyberGuard",
	"tracing.service_name":         "cyberguard",
}

// Load reads .env, then the YAML file named by CYBERGUARD_CONFIG (if any),
// then CYBERGUARD_ environment variables. Nested keys use a double
// underscore: CYBERGUARD_GEMINI__API_KEY sets gemini.api_key.
func Load() (*Config, error) {
	// Load .env file if it exists (don't error if missing)
	_ = godotenv.Load()

	cfg, err := load(os.Getenv(pathEnvVar))
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	for key, v := range defaults {
		if !k.Exists(key) {
			k.Set(key, v)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range", c.Server.Port))
	}
	if c.Server.Env != "development" && c.Server.Env != "production" {
		errs = append(errs, fmt.Errorf("server.env must be development or production, got %q", c.Server.Env))
	}
	if c.Server.MaxUploadMB < 1 || c.Server.MaxUploadMB > 100 {
		errs = append(errs, fmt.Errorf("server.max_upload_mb must be between 1 and 100"))
	}
	if c.Server.RateLimitPerMinute < 1 || c.Server.RateLimitBurst < 1 {
		errs = append(errs, errors.New("server rate limits must be positive"))
	}
	if c.Speech.SampleRate < 8000 || c.Speech.SampleRate > 48000 {
		errs = append(errs, fmt.Errorf("speech.sample_rate %d is out of range", c.Speech.SampleRate))
	}
	switch c.PromptCache.Driver {
	case "sqlite", "pgx", "postgres":
	default:
		errs = append(errs, fmt.Errorf("prompt_cache.driver %q is not supported", c.PromptCache.Driver))
	}
	if c.PromptCache.DSN == "" {
		errs = append(errs, errors.New("prompt_cache.dsn is required"))
	}
	if c.Session.TTL <= 0 || c.Session.SweepInterval <= 0 {
		errs = append(errs, errors.New("session.ttl and session.sweep_interval must be positive"))
	}
	if c.SMTP.Host != "" && len(c.SMTP.Recipients()) == 0 {
		errs = append(errs, errors.New("smtp.destination is required when smtp.host is set"))
	}
	if c.IsProduction() && c.Gemini.APIKey == "" {
		errs = append(errs, errors.New("gemini.api_key is required in production"))
	}

	return errors.Join(errs...)
}

// Recipients splits the destination list.
func (s SMTPConfig) Recipients() []string {
	var out []string
	for _, addr := range strings.Split(s.Destination, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}

// PGPPublicKey reads the configured armored key, or returns "" when none is
// configured.
func (c *Config) PGPPublicKey() (string, error) {
	if c.SMTP.PGPPublicKeyPath == "" {
		return "", nil
	}
	b, err := os.ReadFile(c.SMTP.PGPPublicKeyPath)
	if err != nil {
		return "", fmt.Errorf("read PGP public key: %w", err)
	}
	return string(b), nil
}

func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}
