package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// TelegramConfig holds Telegram bot related settings that are common for all bots.
type TelegramConfig struct {
	Token   string `yaml:"token" envconfig:"BOT_TOKEN"`
	AdminID int64  `yaml:"admin_id" envconfig:"TELEGRAM_ADMIN_ID"`
	RunMode string `yaml:"run_mode" envconfig:"TELEGRAM_RUN_MODE"`
	// LongPollTimeoutSeconds defines long polling timeout; 0 -> default
	LongPollTimeoutSeconds int `yaml:"longpoll_timeout_seconds" envconfig:"TELEGRAM_LONGPOLL_TIMEOUT_SECONDS"`
}

// WebhookConfig specifies webhook settings.
type WebhookConfig struct {
	URL    string `yaml:"url" envconfig:"WEBHOOK_URL"`
	Listen string `yaml:"listen" envconfig:"WEBHOOK_LISTEN"`
	Port   int    `yaml:"port" envconfig:"WEBHOOK_PORT"`
}

// LoggingConfig defines logging related configuration.
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LOG_LEVEL"`
	Format      string `yaml:"format" envconfig:"LOG_FORMAT"`
	DebugSample string `yaml:"debug_sample"`
	Dir         string `yaml:"dir" envconfig:"LOG_DIR"`
	File        string `yaml:"file" envconfig:"LOG_FILE"`
	// Profile indicates environment profile such as "debug" or "prod".
	Profile string `yaml:"profile" envconfig:"LOG_PROFILE"`
}

const (
	// RunModeWebhook selects webhook mode for Telegram updates.
	RunModeWebhook = "webhook"
	// RunModeLongpoll selects long-polling mode for Telegram updates.
	RunModeLongpoll = "longpoll"
)

const (
	// UpdateCallback identifies callback updates for rate limit exclusions.
	UpdateCallback = "callback"
	// UpdateMessage identifies message updates for rate limit exclusions.
	UpdateMessage = "message"
)

// RateLimitConfig holds per-user inbound rate limiting.
// ExcludeUpdates accepts "callback" and "message".
type RateLimitConfig struct {
	PerSecond      float64  `yaml:"per_second" envconfig:"RATE_LIMIT_PER_SECOND"`
	Burst          int      `yaml:"burst" envconfig:"RATE_LIMIT_BURST"`
	ExcludeUpdates []string `yaml:"exclude_updates" envconfig:"RATE_LIMIT_EXCLUDE_UPDATES"`
}

const (
	// StorageJSON keeps every record in one JSON document on disk.
	StorageJSON = "json"
	// StoragePostgres keeps one JSON document per user in Postgres.
	StoragePostgres = "postgres"
)

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	Host           string `yaml:"host" envconfig:"DB_HOST"`
	Port           string `yaml:"port" envconfig:"DB_PORT"`
	User           string `yaml:"user" envconfig:"DB_USER"`
	Password       string `yaml:"password" envconfig:"DB_PASSWORD"`
	Name           string `yaml:"name" envconfig:"DB_NAME"`
	SSLMode        string `yaml:"sslmode" envconfig:"DB_SSLMODE"`
	MaxConnections int    `yaml:"max_connections" envconfig:"DB_MAX_CONNECTIONS"`
	MigrationsDir  string `yaml:"migrations_dir" envconfig:"DB_MIGRATIONS_DIR"`
}

// StorageConfig selects the record store backend.
type StorageConfig struct {
	Driver   string         `yaml:"driver" envconfig:"STORAGE_DRIVER"`
	Path     string         `yaml:"path" envconfig:"STORAGE_PATH"`
	Database DatabaseConfig `yaml:"database"`
}

const (
	// SessionMemory keeps wizard sessions in process memory.
	SessionMemory = "memory"
	// SessionRedis checkpoints wizard sessions in Redis.
	SessionRedis = "redis"
)

// RedisConfig holds Redis connection settings for the session checkpoint.
type RedisConfig struct {
	Addr     string `yaml:"addr" envconfig:"REDIS_ADDR"`
	Password string `yaml:"password" envconfig:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" envconfig:"REDIS_DB"`
	Prefix   string `yaml:"prefix" envconfig:"REDIS_PREFIX"`
}

// SessionConfig controls wizard session storage and expiry.
type SessionConfig struct {
	Backend              string      `yaml:"backend" envconfig:"SESSION_BACKEND"`
	IdleTimeoutSeconds   int         `yaml:"idle_timeout_seconds" envconfig:"SESSION_IDLE_TIMEOUT_SECONDS"`
	SweepIntervalSeconds int         `yaml:"sweep_interval_seconds" envconfig:"SESSION_SWEEP_INTERVAL_SECONDS"`
	Redis                RedisConfig `yaml:"redis"`
}

// BroadcastConfig paces admin broadcasts.
type BroadcastConfig struct {
	IntervalMS      int `yaml:"interval_ms" envconfig:"BROADCAST_INTERVAL_MS"`
	ProgressEvery   int `yaml:"progress_every" envconfig:"BROADCAST_PROGRESS_EVERY"`
	ProgressSeconds int `yaml:"progress_seconds" envconfig:"BROADCAST_PROGRESS_SECONDS"`
}

// MakerConfig holds botmaker specific settings.
type MakerConfig struct {
	ChannelUsername  string   `yaml:"channel_username" envconfig:"MAKER_CHANNEL_USERNAME"`
	ChannelLink      string   `yaml:"channel_link" envconfig:"MAKER_CHANNEL_LINK"`
	RequiredChannels []string `yaml:"required_channels" envconfig:"MAKER_REQUIRED_CHANNELS"`
	SupportContact   string   `yaml:"support_contact" envconfig:"MAKER_SUPPORT_CONTACT"`
	MaxBots          int      `yaml:"max_bots" envconfig:"MAKER_MAX_BOTS"`
	Templates        []string `yaml:"templates"`
}

// ChannelConfig describes one must-join link of an earn bot.
type ChannelConfig struct {
	Name  string `yaml:"name"`
	URL   string `yaml:"url"`
	Check bool   `yaml:"check"`
}

// TaskConfig describes one task link of an earn bot.
type TaskConfig struct {
	Name   string  `yaml:"name"`
	URL    string  `yaml:"url"`
	Reward float64 `yaml:"reward"`
}

// EarnConfig holds the settings of a generated referral bot.
type EarnConfig struct {
	BotName           string          `yaml:"bot_name"`
	BotUsername       string          `yaml:"bot_username"`
	Currency          string          `yaml:"currency"`
	ReferralReward    float64         `yaml:"referral_reward"`
	MinWithdrawal     float64         `yaml:"min_withdrawal"`
	MaxWithdrawal     float64         `yaml:"max_withdrawal"` // 0 means no upper bound, not disabled
	WithdrawalEnabled bool            `yaml:"withdrawal_enabled"`
	PaymentChannel    string          `yaml:"payment_channel"`
	MustJoinChannels  []ChannelConfig `yaml:"must_join_channels"`
	Tasks             []TaskConfig    `yaml:"tasks"`
}

// Config aggregates the configuration of a bot process.
type Config struct {
	Telegram  TelegramConfig  `yaml:"telegram"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Logging   LoggingConfig   `yaml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Storage   StorageConfig   `yaml:"storage"`
	Session   SessionConfig   `yaml:"session"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	Maker     MakerConfig     `yaml:"maker"`
	Earn      EarnConfig      `yaml:"earn"`
}

// CoreConfig lets Config satisfy cmd.ConfigCarrier directly.
func (c *Config) CoreConfig() *Config { return c }

// Load reads configuration from a YAML file and environment variables.
// A .env file in the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}

	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize performs validation of required configuration fields and applies defaults.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return fmt.Errorf("telegram token is required")
	}

	rm := strings.ToLower(strings.TrimSpace(cfg.Telegram.RunMode))
	if rm == "" || rm == "polling" {
		rm = RunModeLongpoll
	}
	switch rm {
	case RunModeWebhook:
		if strings.TrimSpace(cfg.Webhook.URL) == "" {
			return fmt.Errorf("webhook.url is required when telegram.run_mode is 'webhook'")
		}
		if strings.TrimSpace(cfg.Webhook.Listen) == "" {
			return fmt.Errorf("webhook.listen is required when telegram.run_mode is 'webhook'")
		}
		if cfg.Webhook.Port <= 0 {
			return fmt.Errorf("webhook.port must be > 0 when telegram.run_mode is 'webhook'")
		}
	case RunModeLongpoll:
		if cfg.Telegram.LongPollTimeoutSeconds < 0 {
			return fmt.Errorf("telegram.longpoll_timeout_seconds must be >= 0")
		}
	default:
		return fmt.Errorf("invalid telegram.run_mode %q; allowed: webhook, longpoll", cfg.Telegram.RunMode)
	}
	cfg.Telegram.RunMode = rm

	if err := normalizeRateLimit(&cfg.RateLimit); err != nil {
		return err
	}
	if err := normalizeStorage(&cfg.Storage); err != nil {
		return err
	}
	if err := normalizeSession(&cfg.Session); err != nil {
		return err
	}
	normalizeBroadcast(&cfg.Broadcast)
	normalizeMaker(&cfg.Maker)
	return normalizeEarn(&cfg.Earn)
}

func normalizeRateLimit(rl *RateLimitConfig) error {
	if rl.PerSecond < 0 {
		return fmt.Errorf("rate_limit.per_second must be >= 0")
	}
	if rl.PerSecond > 0 && rl.Burst <= 0 {
		rl.Burst = 1
	}
	for i, v := range rl.ExcludeUpdates {
		key := strings.ToLower(strings.TrimSpace(v))
		switch key {
		case "", UpdateCallback, UpdateMessage:
		default:
			return fmt.Errorf("invalid rate_limit.exclude_updates value %q; allowed: callback, message", v)
		}
		rl.ExcludeUpdates[i] = key
	}
	return nil
}

func normalizeStorage(st *StorageConfig) error {
	st.Driver = strings.ToLower(strings.TrimSpace(st.Driver))
	if st.Driver == "" {
		st.Driver = StorageJSON
	}
	switch st.Driver {
	case StorageJSON:
		if strings.TrimSpace(st.Path) == "" {
			st.Path = "database.json"
		}
	case StoragePostgres:
		db := &st.Database
		if strings.TrimSpace(db.Host) == "" || strings.TrimSpace(db.Name) == "" {
			return fmt.Errorf("storage.database.host and storage.database.name are required for the postgres driver")
		}
		if db.Port == "" {
			db.Port = "5432"
		}
		if db.SSLMode == "" {
			db.SSLMode = "disable"
		}
		if db.MaxConnections <= 0 {
			db.MaxConnections = 5
		}
		if db.MigrationsDir == "" {
			db.MigrationsDir = "migrations"
		}
	default:
		return fmt.Errorf("invalid storage.driver %q; allowed: json, postgres", st.Driver)
	}
	return nil
}

func normalizeSession(s *SessionConfig) error {
	s.Backend = strings.ToLower(strings.TrimSpace(s.Backend))
	if s.Backend == "" {
		s.Backend = SessionMemory
	}
	switch s.Backend {
	case SessionMemory:
	case SessionRedis:
		if strings.TrimSpace(s.Redis.Addr) == "" {
			return fmt.Errorf("session.redis.addr is required for the redis backend")
		}
		if s.Redis.Prefix == "" {
			s.Redis.Prefix = "botmaker:session:"
		}
	default:
		return fmt.Errorf("invalid session.backend %q; allowed: memory, redis", s.Backend)
	}
	if s.IdleTimeoutSeconds <= 0 {
		s.IdleTimeoutSeconds = 30 * 60
	}
	if s.SweepIntervalSeconds <= 0 {
		s.SweepIntervalSeconds = 60
	}
	return nil
}

func normalizeBroadcast(b *BroadcastConfig) {
	if b.IntervalMS <= 0 {
		b.IntervalMS = 50
	}
	if b.ProgressEvery <= 0 {
		b.ProgressEvery = 10
	}
	if b.ProgressSeconds <= 0 {
		b.ProgressSeconds = 2
	}
}

func normalizeMaker(m *MakerConfig) {
	if m.MaxBots <= 0 {
		m.MaxBots = 10
	}
	if len(m.Templates) == 0 {
		m.Templates = []string{"STAR BOT"}
	}
	for i, ch := range m.RequiredChannels {
		ch = strings.TrimSpace(ch)
		if ch != "" && !strings.HasPrefix(ch, "@") {
			ch = "@" + ch
		}
		m.RequiredChannels[i] = ch
	}
}

func normalizeEarn(e *EarnConfig) error {
	if e.Currency == "" {
		e.Currency = "TON"
	}
	if e.MinWithdrawal < 0 || e.MaxWithdrawal < 0 || e.ReferralReward < 0 {
		return fmt.Errorf("earn thresholds must be >= 0")
	}
	if e.MaxWithdrawal > 0 && e.MaxWithdrawal < e.MinWithdrawal {
		return fmt.Errorf("earn.max_withdrawal must be >= earn.min_withdrawal")
	}
	if e.BotUsername != "" && !strings.HasPrefix(e.BotUsername, "@") {
		e.BotUsername = "@" + e.BotUsername
	}
	return nil
}
