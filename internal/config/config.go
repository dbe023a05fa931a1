// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev     bool
	Version string
	Commit  string
}

type BotConfig struct {
	Token    string  `yaml:"token"`
	Mode     string  `yaml:"mode"` // polling|noop
	Username string  `yaml:"username"`
	Workers  int     `yaml:"workers"` // update workers
	AdminIDs []int64 `yaml:"admin_ids"`
	Language string  `yaml:"language"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL            string `yaml:"url"`
	MaxConns       int32  `yaml:"max_conns"`
	MigrateOnStart bool   `yaml:"migrate_on_start"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
	// EncryptionKey, when set, seals stored images with AES-GCM (16, 24 or 32 bytes).
	EncryptionKey string `yaml:"encryption_key"`
}

// ProviderConfig describes the asynchronous image-edit API.
type ProviderConfig struct {
	APIKey            string        `yaml:"api_key"`
	BaseURL           string        `yaml:"base_url"`
	EditPath          string        `yaml:"edit_path"`
	AuthHeader        string        `yaml:"auth_header"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"` // 0 disables pacing
}

type PollingConfig struct {
	Interval    time.Duration `yaml:"interval"`
	MaxAttempts int           `yaml:"max_attempts"`
	MaxRetries  int           `yaml:"max_retries"`
}

type ImageConfig struct {
	MaxSizeMB       int `yaml:"max_size_mb"`
	MaxMegapixels   int `yaml:"max_megapixels"`
	OptimizeAboveMB int `yaml:"optimize_above_mb"` // re-encode larger uploads before submission
}

type EnhancerConfig struct {
	Provider        string        `yaml:"provider"` // none|openai|gemini
	OpenAIKey       string        `yaml:"openai_key"`
	OpenAIBaseURL   string        `yaml:"openai_base_url"`
	GeminiKey       string        `yaml:"gemini_key"`
	GeminiURL       string        `yaml:"gemini_url"`
	Model           string        `yaml:"model"`
	Timeout         time.Duration `yaml:"timeout"`
	ConcurrentLimit int           `yaml:"concurrent_limit"`
}

type EventsConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type SchedulerConfig struct {
	RecoveryCron string        `yaml:"recovery_cron"`
	StaleAfter   time.Duration `yaml:"stale_after"`
	BatchSize    int           `yaml:"batch_size"`
	Workers      int           `yaml:"workers"` // recovery worker pool size
}

type WebConfig struct {
	Port        int           `yaml:"port"`
	AdminAPIKey string        `yaml:"admin_api_key"`
	JWTSecret   string        `yaml:"jwt_secret"`
	SessionTTL  time.Duration `yaml:"session_ttl"`
	Secure      bool          `yaml:"secure_cookie"`
}

type Config struct {
	Bot       BotConfig       `yaml:"bot"`
	Log       LogConfig       `yaml:"log"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Provider  ProviderConfig  `yaml:"provider"`
	Polling   PollingConfig   `yaml:"polling"`
	Image     ImageConfig     `yaml:"image"`
	Enhancer  EnhancerConfig  `yaml:"enhancer"`
	Events    EventsConfig    `yaml:"events"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Web       WebConfig       `yaml:"web"`

	Runtime RuntimeConfig `yaml:"-"`
}

// MaxImageBytes is the upload limit in bytes.
func (c *Config) MaxImageBytes() int { return c.Image.MaxSizeMB * 1024 * 1024 }

// LoadConfig reads .env files (if any), then the YAML file with ${VAR}
// expansion, then applies env overrides and defaults.
func LoadConfig(path string, dev bool) (*Config, error) {
	_ = godotenv.Load(".env", ".env.local")

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(b)
	if err != nil {
		return nil, err
	}
	cfg.Runtime.Dev = dev
	return cfg, nil
}

// Parse builds a validated Config from YAML bytes.
func Parse(b []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(b))), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("env %s: %w", key, err)
		}
		*dst = n
		return nil
	}

	str("TELEGRAM_BOT_TOKEN", &cfg.Bot.Token)
	str("BFL_API_KEY", &cfg.Provider.APIKey)
	str("BFL_API_BASE_URL", &cfg.Provider.BaseURL)
	str("DATABASE_URL", &cfg.Database.URL)
	str("REDIS_URL", &cfg.Redis.URL)
	str("REDIS_ENCRYPTION_KEY", &cfg.Redis.EncryptionKey)
	str("ADMIN_API_KEY", &cfg.Web.AdminAPIKey)
	str("JWT_SECRET", &cfg.Web.JWTSecret)
	str("LOG_LEVEL", &cfg.Log.Level)

	if err := num("MAX_IMAGE_SIZE_MB", &cfg.Image.MaxSizeMB); err != nil {
		return err
	}
	if err := num("MAX_POLLING_ATTEMPTS", &cfg.Polling.MaxAttempts); err != nil {
		return err
	}
	var intervalSecs int
	if err := num("POLLING_INTERVAL_SECONDS", &intervalSecs); err != nil {
		return err
	}
	if intervalSecs > 0 {
		cfg.Polling.Interval = time.Duration(intervalSecs) * time.Second
	}
	if v := strings.TrimSpace(os.Getenv("ADMIN_USER_IDS")); v != "" {
		ids, err := parseIDs(v)
		if err != nil {
			return fmt.Errorf("env ADMIN_USER_IDS: %w", err)
		}
		cfg.Bot.AdminIDs = ids
	}
	return nil
}

func parseIDs(s string) ([]int64, error) {
	var out []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Bot.Workers <= 0 {
		cfg.Bot.Workers = 8
	}
	if cfg.Bot.Mode == "" {
		cfg.Bot.Mode = "polling"
	}
	if cfg.Bot.Language == "" {
		cfg.Bot.Language = "en"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL)

	if cfg.Provider.BaseURL == "" {
		cfg.Provider.BaseURL = "https://api.bfl.ai/v1"
	}
	cfg.Provider.BaseURL = strings.TrimRight(cfg.Provider.BaseURL, "/")
	if cfg.Provider.EditPath == "" {
		cfg.Provider.EditPath = "/edit"
	}
	if cfg.Provider.AuthHeader == "" {
		cfg.Provider.AuthHeader = "x-api-key"
	}
	if cfg.Provider.Timeout <= 0 {
		cfg.Provider.Timeout = 300 * time.Second
	}

	if cfg.Polling.Interval <= 0 {
		cfg.Polling.Interval = 2 * time.Second
	}
	if cfg.Polling.MaxAttempts <= 0 {
		cfg.Polling.MaxAttempts = 150
	}
	if cfg.Polling.MaxRetries <= 0 {
		cfg.Polling.MaxRetries = 3
	}

	if cfg.Image.MaxSizeMB <= 0 {
		cfg.Image.MaxSizeMB = 20
	}
	if cfg.Image.MaxMegapixels <= 0 {
		cfg.Image.MaxMegapixels = 20
	}
	if cfg.Image.OptimizeAboveMB <= 0 || cfg.Image.OptimizeAboveMB > cfg.Image.MaxSizeMB {
		cfg.Image.OptimizeAboveMB = min(10, cfg.Image.MaxSizeMB)
	}

	if cfg.Enhancer.Provider == "" {
		cfg.Enhancer.Provider = "none"
	}
	if cfg.Enhancer.Timeout <= 0 {
		cfg.Enhancer.Timeout = 15 * time.Second
	}
	if cfg.Enhancer.ConcurrentLimit <= 0 {
		cfg.Enhancer.ConcurrentLimit = 4
	}
	if cfg.Enhancer.Model == "" {
		switch cfg.Enhancer.Provider {
		case "gemini":
			cfg.Enhancer.Model = "gemini-2.0-flash"
		default:
			cfg.Enhancer.Model = "gpt-4o-mini"
		}
	}

	if cfg.Events.Topic == "" {
		cfg.Events.Topic = "image-edit-jobs"
	}

	if cfg.Scheduler.RecoveryCron == "" {
		cfg.Scheduler.RecoveryCron = "@every 5m"
	}
	if cfg.Scheduler.StaleAfter <= 0 {
		cfg.Scheduler.StaleAfter = 10 * time.Minute
	}
	if cfg.Scheduler.BatchSize <= 0 {
		cfg.Scheduler.BatchSize = 20
	}
	if cfg.Scheduler.Workers <= 0 {
		cfg.Scheduler.Workers = 4
	}

	if cfg.Web.Port == 0 {
		cfg.Web.Port = 8080
	}
	if cfg.Web.SessionTTL <= 0 {
		cfg.Web.SessionTTL = 30 * time.Minute
	}
}

func validate(cfg *Config) error {
	switch cfg.Bot.Mode {
	case "polling":
		if cfg.Bot.Token == "" {
			return errors.New("bot.token is required")
		}
	case "noop":
	default:
		return fmt.Errorf("bot.mode must be polling|noop, got %q", cfg.Bot.Mode)
	}
	if cfg.Provider.APIKey == "" {
		return errors.New("provider.api_key is required")
	}
	if cfg.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" {
		return errors.New("redis.url is required")
	}
	if k := len(cfg.Redis.EncryptionKey); k != 0 && k != 16 && k != 24 && k != 32 {
		return fmt.Errorf("redis.encryption_key must be 16, 24 or 32 bytes, got %d", k)
	}
	if cfg.Image.MaxSizeMB > 100 {
		return fmt.Errorf("image.max_size_mb must be <= 100, got %d", cfg.Image.MaxSizeMB)
	}
	if cfg.Polling.Interval < 100*time.Millisecond {
		return fmt.Errorf("polling.interval must be >= 100ms, got %s", cfg.Polling.Interval)
	}
	if cfg.Polling.MaxAttempts > 10000 {
		return fmt.Errorf("polling.max_attempts must be <= 10000, got %d", cfg.Polling.MaxAttempts)
	}
	switch cfg.Enhancer.Provider {
	case "none":
	case "openai":
		if cfg.Enhancer.OpenAIKey == "" {
			return errors.New("enhancer.openai_key is required for the openai enhancer")
		}
	case "gemini":
		if cfg.Enhancer.GeminiKey == "" {
			return errors.New("enhancer.gemini_key is required for the gemini enhancer")
		}
	default:
		return fmt.Errorf("enhancer.provider must be none|openai|gemini, got %q", cfg.Enhancer.Provider)
	}
	if cfg.Web.AdminAPIKey != "" && len(cfg.Web.JWTSecret) < 16 {
		return errors.New("web.jwt_secret must be at least 16 bytes when the admin API is enabled")
	}
	return nil
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}
