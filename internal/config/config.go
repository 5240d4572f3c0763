package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewPipelineConfigHolder),
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Redis     RedisConfig
	Search    SearchConfig
	Queue     QueueConfig
	RateLimit RateLimitConfig
	Push      MetricsPushConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type SearchConfig struct {
	Enabled   bool
	Addresses []string
	Username  string
	Password  string
	IndexName string
	// InitOnStart runs the index health check and bulk sync when the app boots.
	InitOnStart bool
}

type QueueConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Concurrency   int
}

type RateLimitConfig struct {
	Enabled         bool
	SubmissionRate  float64
	SubmissionBurst int
}

// MetricsPushConfig sends catalog gauges to a Prometheus remote_write
// endpoint or a Pushgateway on an interval.
type MetricsPushConfig struct {
	Enabled         bool
	Exporter        string
	Endpoint        string
	AuthToken       string
	IntervalSeconds int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	redisAddr := getenv("REDIS_ADDR", "localhost:6379")
	redisPassword := strings.TrimSpace(getenv("REDIS_PASSWORD", ""))
	redisDB := getenvInt("REDIS_DB", 0)

	cfg := Config{
		AppName:           getenv("APP_SERVICE", "marquee"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint:      getenv("OTLP_ENDPOINT", "localhost:4317"),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "marquee"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 100),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 3600),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 300),
		Redis: RedisConfig{
			Addr:     redisAddr,
			Password: redisPassword,
			DB:       redisDB,
		},
		Search: SearchConfig{
			Enabled:     getenvBool("SEARCH_ENABLED", true),
			Addresses:   splitList(getenv("SEARCH_ADDRESSES", "http://localhost:9200")),
			Username:    strings.TrimSpace(getenv("SEARCH_USERNAME", "")),
			Password:    strings.TrimSpace(getenv("SEARCH_PASSWORD", "")),
			IndexName:   getenv("SEARCH_INDEX", "movies"),
			InitOnStart: getenvBool("SEARCH_INIT_ON_START", true),
		},
		Queue: QueueConfig{
			RedisAddr:     getenv("QUEUE_REDIS_ADDR", redisAddr),
			RedisPassword: strings.TrimSpace(getenv("QUEUE_REDIS_PASSWORD", redisPassword)),
			RedisDB:       getenvInt("QUEUE_REDIS_DB", redisDB),
			Concurrency:   getenvInt("QUEUE_CONCURRENCY", 10),
		},
		RateLimit: RateLimitConfig{
			Enabled:         getenvBool("RATE_LIMIT_ENABLED", false),
			SubmissionRate:  getenvFloat("RATE_LIMIT_SUBMISSION_RATE", 5),
			SubmissionBurst: getenvInt("RATE_LIMIT_SUBMISSION_BURST", 20),
		},
		Push: MetricsPushConfig{
			Enabled:         getenvBool("METRICS_PUSH_ENABLED", false),
			Exporter:        strings.ToLower(strings.TrimSpace(getenv("METRICS_PUSH_EXPORTER", "prometheus_remote_write"))),
			Endpoint:        strings.TrimSpace(getenv("METRICS_PUSH_ENDPOINT", "")),
			AuthToken:       strings.TrimSpace(getenv("METRICS_PUSH_AUTH_TOKEN", "")),
			IntervalSeconds: getenvInt("METRICS_PUSH_INTERVAL_SECONDS", 60),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
