package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	lambdasvc "github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/rs/zerolog/log"

	"github.com/fpang/photo-intelligence/internal/pipeline"
)

// lambdaInvoker is the Lambda API call used to chain the next batch.
type lambdaInvoker interface {
	Invoke(ctx context.Context, params *lambdasvc.InvokeInput, optFns ...func(*lambdasvc.Options)) (*lambdasvc.InvokeOutput, error)
}

// chain re-invokes this function while a backlog remains.
type chain struct {
	invoker      lambdaInvoker
	functionName string
	maxDepth     int
}

// shouldContinue reports whether a full batch at depth warrants another
// invocation.
func (c *chain) shouldContinue(stats pipeline.BatchStats, batchSize, depth int) bool {
	if c.functionName == "" || batchSize <= 0 {
		return false
	}
	return stats.Leased >= batchSize && depth < c.maxDepth
}

// invoke sends an async event carrying depth to this function.
func (c *chain) invoke(ctx context.Context, depth int) error {
	payload, err := json.Marshal(WorkerEvent{Depth: depth})
	if err != nil {
		return fmt.Errorf("marshal worker event: %w", err)
	}
	_, err = c.invoker.Invoke(ctx, &lambdasvc.InvokeInput{
		FunctionName:   aws.String(c.functionName),
		InvocationType: lambdatypes.InvocationTypeEvent,
		Payload:        payload,
	})
	if err != nil {
		log.Warn().Err(err).Int("depth", depth).Msg("Failed to chain AI worker")
		return fmt.Errorf("invoke %s: %w", c.functionName, err)
	}
	log.Debug().Int("depth", depth).Msg("AI worker chained")
	return nil
}
