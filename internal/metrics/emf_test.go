package metrics

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func captureFlush(t *testing.T, build func(*Recorder)) map[string]interface{} {
	t.Helper()
	var buf bytes.Buffer
	prev := SetOutput(&buf)
	defer SetOutput(prev)

	initOnce.Do(func() {})
	functionName = ""
	rec := New(Namespace)
	build(rec)
	rec.Flush()

	out := buf.String()
	if out == "" {
		return nil
	}
	if strings.Count(out, "\n") != 1 {
		t.Fatalf("EMF output must be a single line, got %q", out)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("failed to parse EMF output: %v\nOutput: %s", err, out)
	}
	return doc
}

func TestNew_AutoDimension(t *testing.T) {
	initOnce.Do(func() {})
	functionName = "ai-worker"
	defer func() { functionName = "" }()

	r := New(Namespace)
	if r.dimensions["FunctionName"] != "ai-worker" {
		t.Errorf("FunctionName dimension = %q, want %q", r.dimensions["FunctionName"], "ai-worker")
	}
}

func TestRecorder_FlushOutput(t *testing.T) {
	doc := captureFlush(t, func(r *Recorder) {
		r.Dimension("Operation", "ai-batch").
			Metric("JobsSucceeded", 3, UnitCount).
			Duration("BatchLatency", 1500*time.Millisecond).
			Property("jobCount", 4)
	})
	if doc == nil {
		t.Fatal("expected EMF output")
	}

	aws, ok := doc["_aws"].(map[string]interface{})
	if !ok {
		t.Fatal("missing _aws directive")
	}
	cw := aws["CloudWatchMetrics"].([]interface{})[0].(map[string]interface{})
	if cw["Namespace"] != Namespace {
		t.Errorf("Namespace = %v, want %q", cw["Namespace"], Namespace)
	}
	dims := cw["Dimensions"].([]interface{})[0].([]interface{})
	if len(dims) != 1 || dims[0] != "Operation" {
		t.Errorf("Dimensions = %v, want [Operation]", dims)
	}
	metrics := cw["Metrics"].([]interface{})
	if len(metrics) != 2 {
		t.Fatalf("len(Metrics) = %d, want 2", len(metrics))
	}
	// Definitions are sorted by name.
	if name := metrics[0].(map[string]interface{})["Name"]; name != "BatchLatency" {
		t.Errorf("Metrics[0].Name = %v, want BatchLatency", name)
	}

	if doc["Operation"] != "ai-batch" {
		t.Errorf("Operation = %v, want ai-batch", doc["Operation"])
	}
	if doc["JobsSucceeded"] != float64(3) {
		t.Errorf("JobsSucceeded = %v, want 3", doc["JobsSucceeded"])
	}
	if doc["BatchLatency"] != float64(1500) {
		t.Errorf("BatchLatency = %v, want 1500", doc["BatchLatency"])
	}
	if doc["jobCount"] != float64(4) {
		t.Errorf("jobCount = %v, want 4", doc["jobCount"])
	}
}

func TestRecorder_FlushWithoutMetrics(t *testing.T) {
	doc := captureFlush(t, func(r *Recorder) {
		r.Dimension("Operation", "noop").Property("x", 1)
	})
	if doc != nil {
		t.Errorf("expected no output without metrics, got %v", doc)
	}
}
