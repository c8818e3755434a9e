package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Backend names for the persistence layer.
const (
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
)

// Config holds the complete application configuration, loadable from
// environment variables (SETTLE_ prefix), flags, or YAML config files.
type Config struct {
	Addr    string `default:"0.0.0.0:8080" usage:"API server listen address"`
	Backend string `default:"postgres" usage:"Persistence backend: postgres or mongo"`

	DatabaseURL string `usage:"PostgreSQL connection URL (SETTLE_DATABASE_URL or DATABASE_URL)" flag:"database-url"`

	Mongo     MongoConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Graceful  GracefulConfig
}

// MongoConfig controls the document-store backend.
type MongoConfig struct {
	URI      string `default:"" usage:"MongoDB connection URI (SETTLE_MONGO_URI or MONGO_URI)" flag:"mongo-uri"`
	Database string `default:"settlement" usage:"MongoDB database name" flag:"mongo-database"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config
// files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "SETTLE",
		Files:     []string{"config.yaml", "/etc/settlement/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	switch cfg.Backend {
	case BackendPostgres:
		if cfg.DatabaseURL == "" {
			return nil, errors.New("database URL is required: set SETTLE_DATABASE_URL or DATABASE_URL")
		}
	case BackendMongo:
		if cfg.Mongo.URI == "" {
			return nil, errors.New("mongo URI is required: set SETTLE_MONGO_URI or MONGO_URI")
		}
	default:
		return nil, errors.Errorf("unknown backend %q: want %q or %q", cfg.Backend, BackendPostgres, BackendMongo)
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's SETTLE_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if c.Mongo.URI == "" {
		if v := os.Getenv("MONGO_URI"); v != "" {
			c.Mongo.URI = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
