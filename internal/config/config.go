// Package config loads the typed runtime configuration (spec.md §6.4) via
// godotenv + viper, matching the teacher's env-first configuration style.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ConnectMode selects which repository endpoint the process prefers.
type ConnectMode string

const (
	ConnectDirect ConnectMode = "direct"
	ConnectPooler ConnectMode = "pooler"
)

// Config is the process-wide typed configuration.
type Config struct {
	Port string

	DBDirectURL  string
	DBPoolerURL  string
	DBConnectMode ConnectMode
	DBFallbackEnabled bool
	DBConnectTimeout  time.Duration
	DBRetryMaxAttempts int
	DBRetryBaseDelay    time.Duration
	DBRetryMaxDelay     time.Duration
	DBSSLRejectUnauthorized bool

	PauseBackgroundOnDBDown bool

	MinOrderNotional float64

	JWTSecret string

	AMQPURL string

	LogLevel string
}

// Load reads a .env file (if present) then environment variables, applying
// the same defaults the teacher's bootstrap relies on.
func Load() (*Config, error) {
	_ = godotenv.Load() // optional; absence is not an error

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("DB_CONNECT_MODE", string(ConnectPooler))
	v.SetDefault("DB_FALLBACK_ENABLED", true)
	v.SetDefault("DB_CONNECT_TIMEOUT_MS", 5000)
	v.SetDefault("DB_RETRY_MAX_ATTEMPTS", 5)
	v.SetDefault("DB_RETRY_BASE_MS", 200)
	v.SetDefault("DB_RETRY_MAX_MS", 5000)
	v.SetDefault("DB_SSL_REJECT_UNAUTHORIZED", true)
	v.SetDefault("PAUSE_BACKGROUND_ON_DB_DOWN", true)
	v.SetDefault("MIN_ORDER_NOTIONAL", 1.0)
	v.SetDefault("LOG_LEVEL", "info")

	mode := ConnectMode(v.GetString("DB_CONNECT_MODE"))
	if mode != ConnectDirect && mode != ConnectPooler {
		return nil, fmt.Errorf("config: invalid DB_CONNECT_MODE %q", mode)
	}

	cfg := &Config{
		Port:                    v.GetString("PORT"),
		DBDirectURL:             v.GetString("DB_DIRECT_URL"),
		DBPoolerURL:             v.GetString("DB_POOLER_URL"),
		DBConnectMode:           mode,
		DBFallbackEnabled:       v.GetBool("DB_FALLBACK_ENABLED"),
		DBConnectTimeout:        time.Duration(v.GetInt("DB_CONNECT_TIMEOUT_MS")) * time.Millisecond,
		DBRetryMaxAttempts:      v.GetInt("DB_RETRY_MAX_ATTEMPTS"),
		DBRetryBaseDelay:        time.Duration(v.GetInt("DB_RETRY_BASE_MS")) * time.Millisecond,
		DBRetryMaxDelay:         time.Duration(v.GetInt("DB_RETRY_MAX_MS")) * time.Millisecond,
		DBSSLRejectUnauthorized: v.GetBool("DB_SSL_REJECT_UNAUTHORIZED"),
		PauseBackgroundOnDBDown: v.GetBool("PAUSE_BACKGROUND_ON_DB_DOWN"),
		MinOrderNotional:        v.GetFloat64("MIN_ORDER_NOTIONAL"),
		JWTSecret:               v.GetString("JWT_SECRET"),
		AMQPURL:                 v.GetString("AMQP_URL"),
		LogLevel:                v.GetString("LOG_LEVEL"),
	}

	if cfg.DBDirectURL == "" && cfg.DBPoolerURL == "" {
		return nil, fmt.Errorf("config: at least one of DB_DIRECT_URL or DB_POOLER_URL must be set")
	}

	return cfg, nil
}
