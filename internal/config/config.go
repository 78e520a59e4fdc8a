package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Env         string `mapstructure:"env"`
	LogLevel    string `mapstructure:"log_level"`
	LogPretty   bool   `mapstructure:"log_pretty"`
	MetricsAddr string `mapstructure:"metrics_addr"`
	Kafka       KafkaConfig
	Redis       RedisConfig
	Binance     ExchangeConfig
	OKX         ExchangeConfig
}

// KafkaConfig holds Kafka producer settings.
type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ExchangeConfig holds per-exchange connection and reconciliation settings.
type ExchangeConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	WSURL   string   `mapstructure:"ws_url"`
	RestURL string   `mapstructure:"rest_url"`
	Symbols []string `mapstructure:"symbols"`

	// SnapshotCounter is the diff count after which a forced resync fires.
	SnapshotCounter int `mapstructure:"orderbook_snapshot_counter"`

	// RetryWaitMs is the fallback pause after a rate-limit response.
	RetryWaitMs int `mapstructure:"ws_retry_wait_ms"`

	// PollSleepMs is the pause between REST snapshot polling cycles.
	PollSleepMs int `mapstructure:"poll_sleep_ms"`
}

// RetryWait returns RetryWaitMs as a duration.
func (e ExchangeConfig) RetryWait() time.Duration {
	return time.Duration(e.RetryWaitMs) * time.Millisecond
}

// PollSleep returns PollSleepMs as a duration.
func (e ExchangeConfig) PollSleep() time.Duration {
	return time.Duration(e.PollSleepMs) * time.Millisecond
}

// Load reads configuration from environment variables prefixed with
// DEPTHSYNC_. List values (brokers, symbols) are comma-separated.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DEPTHSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("env", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_pretty", false)
	v.SetDefault("metrics_addr", ":9100")

	// Kafka defaults
	v.SetDefault("kafka.enabled", true)
	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.topic", "depthsync.records")

	// Redis defaults
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Binance defaults
	v.SetDefault("binance.enabled", true)
	v.SetDefault("binance.ws_url", "wss://stream.binance.com:9443/stream")
	v.SetDefault("binance.rest_url", "https://api.binance.com")
	v.SetDefault("binance.symbols", "BTCUSDT")
	v.SetDefault("binance.orderbook_snapshot_counter", 100)
	v.SetDefault("binance.ws_retry_wait_ms", 30000)
	v.SetDefault("binance.poll_sleep_ms", 5000)

	// OKX defaults
	v.SetDefault("okx.enabled", false)
	v.SetDefault("okx.ws_url", "wss://ws.okx.com:8443/ws/v5/public")
	v.SetDefault("okx.rest_url", "https://www.okx.com")
	v.SetDefault("okx.symbols", "BTC-USDT")
	v.SetDefault("okx.orderbook_snapshot_counter", 100)
	v.SetDefault("okx.ws_retry_wait_ms", 30000)
	v.SetDefault("okx.poll_sleep_ms", 5000)

	cfg := &Config{}

	cfg.Env = v.GetString("env")
	cfg.LogLevel = v.GetString("log_level")
	cfg.LogPretty = v.GetBool("log_pretty")
	cfg.MetricsAddr = v.GetString("metrics_addr")

	cfg.Kafka = KafkaConfig{
		Enabled: v.GetBool("kafka.enabled"),
		Brokers: splitList(v.GetString("kafka.brokers")),
		Topic:   v.GetString("kafka.topic"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("redis.enabled"),
		Addr:     v.GetString("redis.addr"),
		Password: v.GetString("redis.password"),
		DB:       v.GetInt("redis.db"),
	}

	cfg.Binance = loadExchange(v, "binance")
	cfg.OKX = loadExchange(v, "okx")

	return cfg, nil
}

func loadExchange(v *viper.Viper, name string) ExchangeConfig {
	return ExchangeConfig{
		Enabled:         v.GetBool(name + ".enabled"),
		WSURL:           v.GetString(name + ".ws_url"),
		RestURL:         v.GetString(name + ".rest_url"),
		Symbols:         splitList(v.GetString(name + ".symbols")),
		SnapshotCounter: v.GetInt(name + ".orderbook_snapshot_counter"),
		RetryWaitMs:     v.GetInt(name + ".ws_retry_wait_ms"),
		PollSleepMs:     v.GetInt(name + ".poll_sleep_ms"),
	}
}

// splitList splits a comma-separated value, trimming whitespace and
// dropping empty entries.
func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
