package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("ADMIN_PASSWORD_HASH", "$argon2id$v=19$m=65536,t=3,p=2$c2FsdA$aGFzaA")

	cfg, err := Load()
	assert.NoError(t, err)
	check.Equal(t, "postgres", cfg.DBHost)
	check.Equal(t, 5432, cfg.DBPort)
	check.Equal(t, ":8080", cfg.HTTPAddr)
	check.Equal(t, 10*time.Second, cfg.SweepInterval)
	check.Equal(t, 200, cfg.SweepBatchSize)
	check.False(t, cfg.RateLimitShared)
	check.False(t, cfg.TelegramEnabled())
	check.Equal(t, 0, len(cfg.KafkaBrokerList()))
}

func TestLoad_MissingRequired(t *testing.T) {
	t.Setenv("DB_PASSWORD", "")
	os.Unsetenv("DB_PASSWORD")
	t.Setenv("ADMIN_PASSWORD_HASH", "x")
	_, err := Load()
	check.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			DBMaxConns:        10,
			DBMinConns:        2,
			SweepBatchSize:    100,
			RateLimitRequests: 5,
			RateLimitWindow:   time.Minute,
			RelayBuffer:       16,
		}
	}
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{name: "valid", mutate: func(*Config) {}, ok: true},
		{name: "min above max", mutate: func(c *Config) { c.DBMinConns = 20 }},
		{name: "negative sweep", mutate: func(c *Config) { c.SweepInterval = -time.Second }},
		{name: "zero batch", mutate: func(c *Config) { c.SweepBatchSize = 0 }},
		{name: "zero window", mutate: func(c *Config) { c.RateLimitWindow = 0 }},
		{name: "token without chat", mutate: func(c *Config) { c.TelegramBotToken = "123:abc" }},
		{name: "token with chat", mutate: func(c *Config) { c.TelegramBotToken = "123:abc"; c.TelegramChatID = -100 }, ok: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			err := c.Validate()
			if tt.ok {
				check.NoError(t, err)
			} else {
				check.Error(t, err)
			}
		})
	}
}

func TestDatabaseDSN_EscapesCredentials(t *testing.T) {
	c := Config{DBUser: "auction", DBPassword: "p@ss:w/rd", DBHost: "db", DBPort: 5432, DBName: "draft", DBSSLMode: "require"}
	check.Equal(t, "postgres://auction:p%40ss%3Aw%2Frd@db:5432/draft?sslmode=require", c.DatabaseDSN())
}

func TestKafkaBrokerList(t *testing.T) {
	c := Config{KafkaBrokers: " kafka-1:9092, ,kafka-2:9092 "}
	check.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, c.KafkaBrokerList())
}

func TestRules(t *testing.T) {
	r, err := ParseRules([]byte(`
default:
  P: 3
  D: 8
  C: 8
  A: 6
leagues:
  42:
    P: 2
    A: 4
`))
	assert.NoError(t, err)
	check.Equal(t, map[string]int{"P": 3, "D": 8, "C": 8, "A": 6}, r.SlotsFor(1))
	check.Equal(t, map[string]int{"P": 2, "D": 8, "C": 8, "A": 4}, r.SlotsFor(42))

	// Вызывающий не может изменить значения по умолчанию через возвращённую map.
	r.SlotsFor(1)["P"] = 0
	check.Equal(t, 3, r.SlotsFor(1)["P"])

	_, err = ParseRules([]byte("default:\n  P: -1\n"))
	check.Error(t, err)

	r, err = ParseRules([]byte("leagues: {}\n"))
	assert.NoError(t, err)
	check.Equal(t, DefaultSlots, r.Default)
}

func TestLoadRules_File(t *testing.T) {
	r, err := LoadRules("")
	assert.NoError(t, err)
	check.Equal(t, 6, r.SlotsFor(7)["A"])

	path := filepath.Join(t.TempDir(), "rules.yaml")
	assert.NoError(t, os.WriteFile(path, []byte("default:\n  A: 1\n"), 0o600))
	r, err = LoadRules(path)
	assert.NoError(t, err)
	check.Equal(t, map[string]int{"A": 1}, r.SlotsFor(7))

	_, err = LoadRules(filepath.Join(t.TempDir(), "missing.yaml"))
	check.Error(t, err)
}
