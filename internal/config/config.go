// Package config loads runtime settings for the Lambdas and the operator CLI.
//
// Settings are layered with koanf: built-in defaults, then an optional YAML
// file (PHOTO_AI_CONFIG or ./photo-ai.yaml), then environment variables.
// Environment names follow the deployment's existing conventions, for
// example DYNAMO_TABLE_NAME and MEDIA_BUCKET_NAME.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// PathEnvVar names the env var holding an explicit config file path.
const PathEnvVar = "PHOTO_AI_CONFIG"

// DefaultPaths are searched when PathEnvVar is unset.
var DefaultPaths = []string{"photo-ai.yaml", "photo-ai.yml"}

// Photo store backends.
const (
	PhotoBackendDataAPI  = "dataapi"
	PhotoBackendPostgres = "postgres"
)

// Feed session backends.
const (
	SessionBackendDynamo = "dynamo"
	SessionBackendRedis  = "redis"
)

// Config is the full runtime configuration.
type Config struct {
	Dynamo  DynamoConfig  `koanf:"dynamo"`
	Assets  AssetsConfig  `koanf:"assets"`
	Photos  PhotosConfig  `koanf:"photos"`
	AI      AIConfig      `koanf:"ai"`
	Worker  WorkerConfig  `koanf:"worker"`
	Sweep   SweepConfig   `koanf:"sweep"`
	Events  EventsConfig  `koanf:"events"`
	Feed    FeedConfig    `koanf:"feed"`
	Logging LoggingConfig `koanf:"logging"`
}

type DynamoConfig struct {
	Table string `koanf:"table"`
}

type AssetsConfig struct {
	Bucket    string        `koanf:"bucket"`
	Prefix    string        `koanf:"prefix"`
	URLExpiry time.Duration `koanf:"url_expiry"`
}

type PhotosConfig struct {
	Backend    string `koanf:"backend"`
	Table      string `koanf:"table"`
	DSN        string `koanf:"dsn"`
	ClusterARN string `koanf:"cluster_arn"`
	SecretARN  string `koanf:"secret_arn"`
	Database   string `koanf:"database"`
}

type AIConfig struct {
	EmbeddingModel    string        `koanf:"embedding_model"`
	GeminiModel       string        `koanf:"gemini_model"`
	GeminiAPIKey      string        `koanf:"gemini_api_key"`
	GeminiKeyParam    string        `koanf:"gemini_key_param"`
	RequestsPerSecond float64       `koanf:"requests_per_second"`
	Burst             int           `koanf:"burst"`
	FailureThreshold  uint32        `koanf:"failure_threshold"`
	OpenTimeout       time.Duration `koanf:"open_timeout"`
}

// WorkerConfig sizes each batch. MaxChainDepth bounds how many times one
// scheduled run re-invokes FunctionName to keep draining.
type WorkerConfig struct {
	BatchSize     int    `koanf:"batch_size"`
	MaxChainDepth int    `koanf:"max_chain_depth"`
	FunctionName  string `koanf:"function_name"`
}

type SweepConfig struct {
	MaxRetries int `koanf:"max_retries"`
	BatchSize  int `koanf:"batch_size"`
}

type EventsConfig struct {
	BusName string `koanf:"bus_name"`
}

type FeedConfig struct {
	SessionBackend string        `koanf:"session_backend"`
	SessionTTL     time.Duration `koanf:"session_ttl"`
	Lambda         float64       `koanf:"lambda"`
	RedisAddr      string        `koanf:"redis_addr"`
	RedisPassword  string        `koanf:"redis_password"`
	RedisDB        int           `koanf:"redis_db"`
}

type LoggingConfig struct {
	Level string `koanf:"level"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Assets: AssetsConfig{
			Prefix:    "analysis/",
			URLExpiry: 10 * time.Minute,
		},
		Photos: PhotosConfig{
			Backend:  PhotoBackendDataAPI,
			Table:    "photos",
			Database: "photos",
		},
		AI: AIConfig{
			EmbeddingModel:    "amazon.titan-embed-image-v1",
			GeminiModel:       "gemini-2.5-flash",
			GeminiKeyParam:    "/photo-intelligence/prod/gemini-api-key",
			RequestsPerSecond: 5,
			Burst:             5,
			FailureThreshold:  5,
			OpenTimeout:       30 * time.Second,
		},
		Worker: WorkerConfig{
			BatchSize:     10,
			MaxChainDepth: 5,
		},
		Sweep: SweepConfig{
			MaxRetries: 3,
			BatchSize:  100,
		},
		Feed: FeedConfig{
			SessionBackend: SessionBackendDynamo,
			SessionTTL:     30 * 24 * time.Hour,
			Lambda:         0.7,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// envKeys maps environment variables onto config paths.
var envKeys = map[string]string{
	"DYNAMO_TABLE_NAME":          "dynamo.table",
	"MEDIA_BUCKET_NAME":          "assets.bucket",
	"ANALYSIS_ASSET_PREFIX":      "assets.prefix",
	"ASSET_URL_EXPIRY":           "assets.url_expiry",
	"PHOTO_STORE_BACKEND":        "photos.backend",
	"PHOTO_TABLE_NAME":           "photos.table",
	"PHOTO_DATABASE_URL":         "photos.dsn",
	"AURORA_CLUSTER_ARN":         "photos.cluster_arn",
	"AURORA_SECRET_ARN":          "photos.secret_arn",
	"AURORA_DATABASE_NAME":       "photos.database",
	"BEDROCK_EMBEDDING_MODEL_ID": "ai.embedding_model",
	"GEMINI_MODEL":               "ai.gemini_model",
	"GEMINI_API_KEY":             "ai.gemini_api_key",
	"SSM_API_KEY_PARAM":          "ai.gemini_key_param",
	"AI_REQUESTS_PER_SECOND":     "ai.requests_per_second",
	"AI_BURST":                   "ai.burst",
	"AI_BREAKER_FAILURES":        "ai.failure_threshold",
	"AI_BREAKER_OPEN_TIMEOUT":    "ai.open_timeout",
	"AI_BATCH_SIZE":              "worker.batch_size",
	"AI_MAX_CHAIN_DEPTH":         "worker.max_chain_depth",
	"AWS_LAMBDA_FUNCTION_NAME":   "worker.function_name",
	"AI_SWEEP_MAX_RETRIES":       "sweep.max_retries",
	"AI_SWEEP_BATCH_SIZE":        "sweep.batch_size",
	"EVENT_BUS_NAME":             "events.bus_name",
	"FEED_SESSION_BACKEND":       "feed.session_backend",
	"FEED_SESSION_TTL":           "feed.session_ttl",
	"FEED_MMR_LAMBDA":            "feed.lambda",
	"REDIS_ADDR":                 "feed.redis_addr",
	"REDIS_PASSWORD":             "feed.redis_password",
	"REDIS_DB":                   "feed.redis_db",
	"PHOTO_AI_LOG_LEVEL":         "logging.level",
}

// envKey returns the config path for an environment variable, or "" to skip it.
func envKey(name string) string {
	return envKeys[strings.ToUpper(name)]
}

// Load builds the configuration from defaults, the optional file, and the
// environment, then validates it.
func Load() (*Config, error) {
	return LoadFile(findConfigFile())
}

// LoadFile is Load with an explicit file path. An empty path skips the file layer.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider("", ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(PathEnvVar); p != "" {
		return p
	}
	for _, p := range DefaultPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Validate checks value ranges and enumerations. Required resource names
// are checked by the entry points that need them.
func (c *Config) Validate() error {
	var errs []error
	switch c.Photos.Backend {
	case PhotoBackendDataAPI, PhotoBackendPostgres:
	default:
		errs = append(errs, fmt.Errorf("photos.backend must be %q or %q, got %q", PhotoBackendDataAPI, PhotoBackendPostgres, c.Photos.Backend))
	}
	switch c.Feed.SessionBackend {
	case SessionBackendDynamo, SessionBackendRedis:
	default:
		errs = append(errs, fmt.Errorf("feed.session_backend must be %q or %q, got %q", SessionBackendDynamo, SessionBackendRedis, c.Feed.SessionBackend))
	}
	if c.Feed.SessionBackend == SessionBackendRedis && c.Feed.RedisAddr == "" {
		errs = append(errs, errors.New("feed.redis_addr is required for the redis session backend"))
	}
	if c.Feed.Lambda < 0 || c.Feed.Lambda > 1 {
		errs = append(errs, fmt.Errorf("feed.lambda must be within [0, 1], got %v", c.Feed.Lambda))
	}
	if c.Worker.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("worker.batch_size must be positive, got %d", c.Worker.BatchSize))
	}
	if c.Worker.MaxChainDepth < 0 {
		errs = append(errs, fmt.Errorf("worker.max_chain_depth must not be negative, got %d", c.Worker.MaxChainDepth))
	}
	if c.Sweep.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("sweep.max_retries must be positive, got %d", c.Sweep.MaxRetries))
	}
	if c.AI.RequestsPerSecond <= 0 {
		errs = append(errs, fmt.Errorf("ai.requests_per_second must be positive, got %v", c.AI.RequestsPerSecond))
	}
	return errors.Join(errs...)
}
