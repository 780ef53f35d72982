// Package lambdaboot holds the shared cold-start wiring for the Lambdas and
// the operator CLI: AWS config, the stores, the AI providers, and the
// Gemini key fetched from SSM. Each entry point's init is a short
// composition of these helpers. Misconfiguration is fatal.
package lambdaboot

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/rdsdata"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/fpang/photo-intelligence/internal/ai"
	"github.com/fpang/photo-intelligence/internal/assets"
	"github.com/fpang/photo-intelligence/internal/config"
	"github.com/fpang/photo-intelligence/internal/events"
	"github.com/fpang/photo-intelligence/internal/feed"
	"github.com/fpang/photo-intelligence/internal/logging"
	"github.com/fpang/photo-intelligence/internal/photo"
	"github.com/fpang/photo-intelligence/internal/pipeline"
	"github.com/fpang/photo-intelligence/internal/store"
)

// AWSClients holds the core AWS config and the SSM client.
type AWSClients struct {
	Config aws.Config
	SSM    *ssm.Client
}

// InitAWS loads the default AWS config.
func InitAWS(ctx context.Context) AWSClients {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load AWS config")
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return AWSClients{
		Config: cfg,
		SSM:    ssm.NewFromConfig(cfg),
	}
}

// LoadConfig loads the runtime config and applies its log level.
func LoadConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logging.SetLevel(cfg.Logging.Level)
	return cfg
}

// InitDynamo creates the DynamoDB store backing the job queue and feed sessions.
func InitDynamo(cfg aws.Config, table string) *store.DynamoStore {
	if table == "" {
		log.Fatal().Str("envVar", "DYNAMO_TABLE_NAME").Msg("DynamoDB table is required")
	}
	return store.NewDynamoStore(dynamodb.NewFromConfig(cfg), table)
}

// InitAssets creates the S3 analysis asset store.
func InitAssets(cfg aws.Config, c config.AssetsConfig) *assets.S3Store {
	if c.Bucket == "" {
		log.Fatal().Str("envVar", "MEDIA_BUCKET_NAME").Msg("Asset bucket is required")
	}
	client := s3.NewFromConfig(cfg)
	return assets.NewS3Store(client, s3.NewPresignClient(client), c.Bucket, c.Prefix, c.URLExpiry)
}

// InitPhotos creates the photo store for the configured backend.
func InitPhotos(ctx context.Context, cfg aws.Config, c config.PhotosConfig) photo.Store {
	switch c.Backend {
	case config.PhotoBackendPostgres:
		exec, err := photo.OpenPostgres(ctx, c.DSN)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open photo database")
		}
		return photo.NewPostgresStore(exec, c.Table)
	default:
		if c.ClusterARN == "" || c.SecretARN == "" {
			log.Fatal().Msg("AURORA_CLUSTER_ARN and AURORA_SECRET_ARN are required for the Data API photo store")
		}
		exec := photo.NewDataAPIExecutor(rdsdata.NewFromConfig(cfg), c.ClusterARN, c.SecretARN, c.Database)
		return photo.NewPostgresStore(exec, c.Table)
	}
}

// InitSessions returns the feed session store for the configured backend.
func InitSessions(ctx context.Context, dynamo *store.DynamoStore, c config.FeedConfig) feed.SessionStore {
	if c.SessionBackend != config.SessionBackendRedis {
		return dynamo
	}
	client, err := store.NewRedisClient(ctx, c.RedisAddr, c.RedisPassword, c.RedisDB)
	if err != nil {
		log.Fatal().Err(err).Str("addr", c.RedisAddr).Msg("Failed to connect to Redis")
	}
	return store.NewRedisSessionStore(client, c.SessionTTL)
}

// ParameterGetter is the SSM call used to read the Gemini key.
type ParameterGetter interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// FetchGeminiKey returns the configured key, or reads the SSM parameter
// when no key is set directly.
func FetchGeminiKey(ctx context.Context, client ParameterGetter, c config.AIConfig) (string, error) {
	if c.GeminiAPIKey != "" {
		return c.GeminiAPIKey, nil
	}
	if c.GeminiKeyParam == "" {
		return "", fmt.Errorf("no Gemini API key or SSM parameter configured")
	}
	start := time.Now()
	out, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(c.GeminiKeyParam),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("read SSM parameter %s: %w", c.GeminiKeyParam, err)
	}
	if out.Parameter == nil || aws.ToString(out.Parameter.Value) == "" {
		return "", fmt.Errorf("SSM parameter %s is empty", c.GeminiKeyParam)
	}
	log.Debug().Str("param", c.GeminiKeyParam).Dur("elapsed", time.Since(start)).Msg("Gemini API key loaded from SSM")
	return aws.ToString(out.Parameter.Value), nil
}

// Providers bundles the AI providers used by the worker.
type Providers struct {
	Embedder *ai.TitanEmbedder
	Gemini   *ai.Gemini
}

// InitProviders creates the Titan embedder and the Gemini caption/tag
// client, each behind its own guard.
func InitProviders(ctx context.Context, clients AWSClients, c config.AIConfig) Providers {
	key, err := FetchGeminiKey(ctx, clients.SSM, c)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load Gemini API key")
	}
	genaiClient, err := ai.NewGeminiClient(ctx, key)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Gemini client")
	}
	guardCfg := ai.GuardConfig{
		RequestsPerSecond: c.RequestsPerSecond,
		Burst:             c.Burst,
		FailureThreshold:  c.FailureThreshold,
		OpenTimeout:       c.OpenTimeout,
	}
	return Providers{
		Embedder: ai.NewTitanEmbedder(bedrockruntime.NewFromConfig(clients.Config), c.EmbeddingModel, ai.NewGuard("bedrock", guardCfg)),
		Gemini:   ai.NewGemini(genaiClient, c.GeminiModel, ai.NewGuard("gemini", guardCfg)),
	}
}

// InitEvents creates the EventBridge publisher, or nil when no bus is set.
func InitEvents(cfg aws.Config, busName string) *events.Publisher {
	if busName == "" {
		log.Warn().Msg("EVENT_BUS_NAME not set, photo.ai.processed events disabled")
		return nil
	}
	return events.NewPublisher(eventbridge.NewFromConfig(cfg), busName)
}

// Worker is the fully wired AI pipeline.
type Worker struct {
	Queue  *store.DynamoStore
	Worker *pipeline.Worker
	Models Providers
}

// InitWorker wires the pipeline worker against the real stores and providers.
func InitWorker(ctx context.Context, clients AWSClients, cfg *config.Config) Worker {
	queue := InitDynamo(clients.Config, cfg.Dynamo.Table)
	providers := InitProviders(ctx, clients, cfg.AI)
	deps := pipeline.Deps{
		Queue:        queue,
		Photos:       InitPhotos(ctx, clients.Config, cfg.Photos),
		Assets:       InitAssets(clients.Config, cfg.Assets),
		Embedder:     providers.Embedder,
		Captioner:    providers.Gemini,
		Tagger:       providers.Gemini,
		Provider:     ai.ProviderBedrock,
		MaxImageEdge: providers.Embedder.MaxImageEdge(),
	}
	// A nil *events.Publisher must not become a non-nil interface.
	if pub := InitEvents(clients.Config, cfg.Events.BusName); pub != nil {
		deps.Events = pub
	}
	return Worker{Queue: queue, Worker: pipeline.NewWorker(deps), Models: providers}
}

// StartupLog is a convenience wrapper for the startup logger.
func StartupLog(name string, initStart time.Time) *logging.StartupLogger {
	return logging.NewStartupLogger(name).InitDuration(time.Since(initStart))
}
