package logging

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"WARN":    zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		" error ": zerolog.ErrorLevel,
		"":        zerolog.InfoLevel,
		"verbose": zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestStartupLogger_Event(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	s := NewStartupLogger("ai-worker-lambda").
		DynamoTable("jobs", "photo-intelligence").
		S3Bucket("assets", "").
		EventBus("events", "default").
		Feature("redisSessions", false).
		Config("batchSize", "10").
		InitDuration(150 * time.Millisecond)
	s.event(logger.Info()).Msg("start")

	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	resources, ok := got["resources"].(map[string]any)
	if !ok {
		t.Fatalf("resources missing: %s", buf.String())
	}
	if _, ok := resources["s3Buckets"]; ok {
		t.Error("empty bucket name should not be registered")
	}
	tables, _ := resources["dynamoTables"].(map[string]any)
	if tables["jobs"] != "photo-intelligence" {
		t.Errorf("dynamoTables = %v", tables)
	}
	if lambda, _ := got["lambda"].(map[string]any); lambda["name"] != "ai-worker-lambda" {
		t.Errorf("lambda = %v", lambda)
	}
}
