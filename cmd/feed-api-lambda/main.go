// Package main provides the Feed API Lambda entry point.
//
// It serves the Nostalgia Feed and the AI job endpoints behind API Gateway
// (HTTP API, payload v2). Enqueued jobs are picked up by the AI Worker
// Lambda on its schedule.
package main

import (
	"context"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"

	"github.com/fpang/photo-intelligence/internal/api"
	"github.com/fpang/photo-intelligence/internal/feed"
	"github.com/fpang/photo-intelligence/internal/lambdaboot"
	"github.com/fpang/photo-intelligence/internal/logging"
)

var adapter *httpadapter.HandlerAdapterV2

func init() {
	initStart := time.Now()
	logging.Init()
	ctx := context.Background()

	cfg := lambdaboot.LoadConfig()
	clients := lambdaboot.InitAWS(ctx)

	queue := lambdaboot.InitDynamo(clients.Config, cfg.Dynamo.Table)
	photos := lambdaboot.InitPhotos(ctx, clients.Config, cfg.Photos)
	sessions := lambdaboot.InitSessions(ctx, queue, cfg.Feed)

	svc := feed.NewService(photos, sessions, feed.ServiceConfig{Lambda: &cfg.Feed.Lambda})
	adapter = httpadapter.NewV2(api.NewServer(svc, queue, photos).Router())

	lambdaboot.StartupLog("feed-api-lambda", initStart).
		DynamoTable("jobs", cfg.Dynamo.Table).
		Database("photos", cfg.Photos.Backend).
		Config("sessionBackend", cfg.Feed.SessionBackend).
		Config("photoTable", cfg.Photos.Table).
		Log()
}

func main() {
	lambda.Start(adapter.ProxyWithContext)
}
