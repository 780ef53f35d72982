// Package main provides the AI Sweep Lambda entry point.
//
// An hourly EventBridge schedule invokes it to move failed AI jobs with
// retries left back to pending.
package main

import (
	"context"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"

	"github.com/fpang/photo-intelligence/internal/lambdaboot"
	"github.com/fpang/photo-intelligence/internal/logging"
	"github.com/fpang/photo-intelligence/internal/pipeline"
)

var sweeper *pipeline.Sweeper

// SweepResult is returned to the invoker.
type SweepResult struct {
	Requeued int `json:"requeued"`
}

func init() {
	initStart := time.Now()
	logging.Init()

	cfg := lambdaboot.LoadConfig()
	clients := lambdaboot.InitAWS(context.Background())
	queue := lambdaboot.InitDynamo(clients.Config, cfg.Dynamo.Table)
	sweeper = pipeline.NewSweeper(queue, cfg.Sweep.MaxRetries, cfg.Sweep.BatchSize)

	lambdaboot.StartupLog("ai-sweep-lambda", initStart).
		DynamoTable("jobs", cfg.Dynamo.Table).
		Config("maxRetries", strconv.Itoa(cfg.Sweep.MaxRetries)).
		Log()
}

func main() {
	lambda.Start(handler)
}

func handler(ctx context.Context) (SweepResult, error) {
	n, err := sweeper.Run(ctx)
	if err != nil {
		log.Error().Err(err).Int("requeued", n).Msg("Retry sweep failed")
		return SweepResult{Requeued: n}, err
	}
	return SweepResult{Requeued: n}, nil
}
