// Package config загружает конфигурацию движка из переменных окружения.
// envconfig раскладывает переменные по полям структуры; rules.go читает файл правил состава.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config хранит все настройки процесса.
type Config struct {
	// --- База данных ---
	// Внутри docker-compose хост базы — имя сервиса, а не localhost.
	DBHost     string `envconfig:"DB_HOST" default:"postgres"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" default:"auction"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" default:"draft_auction"`
	DBSSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
	DBMaxConns int32  `envconfig:"DB_MAX_CONNS" default:"25"`
	DBMinConns int32  `envconfig:"DB_MIN_CONNS" default:"5"`

	// --- Приложение ---
	AppEnv      string `envconfig:"APP_ENV" default:"development"`
	AppLogLevel string `envconfig:"APP_LOG_LEVEL" default:"debug"`
	HTTPAddr    string `envconfig:"HTTP_ADDR" default:":8080"`

	// --- Администратор ---
	AdminPasswordHash string `envconfig:"ADMIN_PASSWORD_HASH" required:"true"`

	// --- Проходы ---
	// Как часто встроенный триггер запускает каждый проход. Ноль отключает его;
	// админские маршруты при этом работают.
	SweepInterval           time.Duration `envconfig:"SWEEP_INTERVAL" default:"10s"`
	ResponseSweepInterval   time.Duration `envconfig:"RESPONSE_SWEEP_INTERVAL" default:"30s"`
	ComplianceSweepInterval time.Duration `envconfig:"COMPLIANCE_SWEEP_INTERVAL" default:"5m"`
	SweepBatchSize          int           `envconfig:"SWEEP_BATCH_SIZE" default:"200"`

	// --- Правила состава ---
	RulesFile string `envconfig:"RULES_FILE" default:""`

	// --- Ограничение частоты ---
	RateLimitRequests int           `envconfig:"RATE_LIMIT_REQUESTS" default:"10"`
	RateLimitWindow   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`
	// Shared хранит счётчики в базе, чтобы несколько экземпляров считали одинаково.
	RateLimitShared bool `envconfig:"RATE_LIMIT_SHARED" default:"false"`

	// --- Доставка событий ---
	RelayBuffer   int    `envconfig:"RELAY_BUFFER" default:"1024"`
	RelaySpoolDir string `envconfig:"RELAY_SPOOL_DIR" default:""`
	KafkaBrokers  string `envconfig:"KAFKA_BROKERS" default:""`
	KafkaTopic    string `envconfig:"KAFKA_TOPIC" default:"auction-events"`

	// --- Telegram (уведомления в чат лиги) ---
	TelegramBotToken string `envconfig:"TELEGRAM_BOT_TOKEN" default:""`
	TelegramChatID   int64  `envconfig:"TELEGRAM_CHAT_ID" default:"0"`
}

// DatabaseDSN возвращает строку подключения к PostgreSQL в виде URL.
// Пользователь и пароль экранируются.
func (c *Config) DatabaseDSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(c.DBSSLMode),
	}
	return u.String()
}

// KafkaBrokerList делит KAFKA_BROKERS по запятым.
func (c *Config) KafkaBrokerList() []string {
	var out []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// TelegramEnabled сообщает, настроены ли уведомления в чат лиги.
func (c *Config) TelegramEnabled() bool {
	return c.TelegramBotToken != "" && c.TelegramChatID != 0
}

func (c *Config) Validate() error {
	if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("invalid DB_MIN_CONNS/DB_MAX_CONNS")
	}
	if c.SweepInterval < 0 || c.ResponseSweepInterval < 0 || c.ComplianceSweepInterval < 0 {
		return fmt.Errorf("sweep intervals must not be negative")
	}
	if c.SweepBatchSize <= 0 {
		return fmt.Errorf("SWEEP_BATCH_SIZE must be > 0")
	}
	if c.RateLimitRequests <= 0 || c.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}
	if c.RelayBuffer <= 0 {
		return fmt.Errorf("RELAY_BUFFER must be > 0")
	}
	if c.TelegramBotToken != "" && c.TelegramChatID == 0 {
		return fmt.Errorf("TELEGRAM_CHAT_ID is required with TELEGRAM_BOT_TOKEN")
	}
	return nil
}

// Load читает окружение в Config и проверяет его.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
