// Package main provides the AI Worker Lambda entry point.
//
// An EventBridge schedule invokes it with an empty event. Each invocation
// leases one batch of pending AI jobs and runs them through the pipeline.
// When the batch came back full the worker re-invokes itself
// asynchronously so a backlog drains without waiting for the next tick.
// The chain is bounded by worker.max_chain_depth.
//
// Event format:
//
//	{"depth": 0}
package main

import (
	"context"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	lambdasvc "github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/rs/zerolog/log"

	"github.com/fpang/photo-intelligence/internal/config"
	"github.com/fpang/photo-intelligence/internal/lambdaboot"
	"github.com/fpang/photo-intelligence/internal/logging"
	"github.com/fpang/photo-intelligence/internal/pipeline"
)

var (
	cfg     *config.Config
	worker  *pipeline.Worker
	chainer *chain
)

// WorkerEvent is the payload of both scheduled and chained invocations.
type WorkerEvent struct {
	Depth int `json:"depth"`
}

// WorkerResult is returned to synchronous invokers.
type WorkerResult struct {
	pipeline.BatchStats
	Chained bool `json:"chained"`
}

// setup wires the worker at cold start.
func setup() {
	initStart := time.Now()
	logging.Init()
	ctx := context.Background()

	cfg = lambdaboot.LoadConfig()
	clients := lambdaboot.InitAWS(ctx)
	w := lambdaboot.InitWorker(ctx, clients, cfg)
	worker = w.Worker
	chainer = &chain{
		invoker:      lambdasvc.NewFromConfig(clients.Config),
		functionName: cfg.Worker.FunctionName,
		maxDepth:     cfg.Worker.MaxChainDepth,
	}

	lambdaboot.StartupLog("ai-worker-lambda", initStart).
		DynamoTable("jobs", cfg.Dynamo.Table).
		S3Bucket("assets", cfg.Assets.Bucket).
		SSMParam("geminiKey", cfg.AI.GeminiKeyParam).
		EventBus("events", cfg.Events.BusName).
		LambdaFunc("self", cfg.Worker.FunctionName).
		Model("embedding", cfg.AI.EmbeddingModel).
		Model("caption", cfg.AI.GeminiModel).
		Config("batchSize", strconv.Itoa(cfg.Worker.BatchSize)).
		Feature("events", cfg.Events.BusName != "").
		Log()
}

func main() {
	setup()
	lambda.Start(handler)
}

func handler(ctx context.Context, event WorkerEvent) (WorkerResult, error) {
	stats, err := worker.ProcessBatch(ctx, cfg.Worker.BatchSize)
	if err != nil {
		log.Error().Err(err).Int("depth", event.Depth).Msg("AI batch failed")
		return WorkerResult{BatchStats: stats}, err
	}

	result := WorkerResult{BatchStats: stats}
	if chainer.shouldContinue(stats, cfg.Worker.BatchSize, event.Depth) {
		// The batch already ran; a failed re-invoke only delays the backlog
		// until the next scheduled tick.
		if err := chainer.invoke(ctx, event.Depth+1); err == nil {
			result.Chained = true
		}
	}
	return result, nil
}
