package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	AppPort     string `mapstructure:"APP_PORT"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`
	LogFormat   string `mapstructure:"LOG_FORMAT"`

	JWTSecret    string `mapstructure:"JWT_HMAC_SECRET"`
	StaticTokens string `mapstructure:"STATIC_TOKENS"`

	// Empty RedisAddr selects the in-process limiter.
	RedisAddr       string `mapstructure:"REDIS_ADDR"`
	RedisPassword   string `mapstructure:"REDIS_PASSWORD"`
	RedisDB         int    `mapstructure:"REDIS_DB"`
	RateLimitPerMin int    `mapstructure:"RATE_LIMIT_PER_MIN"`

	// Empty KafkaBrokers disables event publishing.
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic   string `mapstructure:"KAFKA_TOPIC"`

	GoogleClientID     string `mapstructure:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `mapstructure:"GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURL  string `mapstructure:"GOOGLE_REDIRECT_URL"`

	CORSAllowedOrigins string        `mapstructure:"CORS_ALLOWED_ORIGINS"`
	// Empty TrustedProxies keys the rate limiter on the socket peer only.
	TrustedProxies     string        `mapstructure:"TRUSTED_PROXIES"`
	DuplicateWindow    time.Duration `mapstructure:"DUPLICATE_WINDOW"`
	ProposalTTL        time.Duration `mapstructure:"PROPOSAL_TTL"`
}

var keys = []string{
	"APP_PORT", "DATABASE_URL", "LOG_LEVEL", "LOG_FORMAT",
	"JWT_HMAC_SECRET", "STATIC_TOKENS",
	"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "RATE_LIMIT_PER_MIN",
	"KAFKA_BROKERS", "KAFKA_TOPIC",
	"GOOGLE_CLIENT_ID", "GOOGLE_CLIENT_SECRET", "GOOGLE_REDIRECT_URL",
	"CORS_ALLOWED_ORIGINS", "TRUSTED_PROXIES", "DUPLICATE_WINDOW", "PROPOSAL_TTL",
}

// Load reads config.yaml from . or ./config when present; environment variables win.
func Load() (Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AutomaticEnv()

	v.SetDefault("APP_PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("RATE_LIMIT_PER_MIN", 60)
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("KAFKA_TOPIC", "booking.requests")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	v.SetDefault("DUPLICATE_WINDOW", "30m")
	v.SetDefault("PROPOSAL_TTL", "48h")
	// AutomaticEnv only covers keys viper already knows about when unmarshalling.
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return Config{}, errors.New("DATABASE_URL required")
	}
	return cfg, nil
}

// List splits a comma-separated value, dropping blanks.
func List(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
