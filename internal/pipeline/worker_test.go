package pipeline_test

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"google.golang.org/genai"

	"github.com/fpang/photo-intelligence/internal/ai"
	"github.com/fpang/photo-intelligence/internal/assets"
	"github.com/fpang/photo-intelligence/internal/events"
	"github.com/fpang/photo-intelligence/internal/jobutil"
	"github.com/fpang/photo-intelligence/internal/metrics"
	"github.com/fpang/photo-intelligence/internal/photo"
	"github.com/fpang/photo-intelligence/internal/pipeline"
	"github.com/fpang/photo-intelligence/internal/store"
)

func TestMain(m *testing.M) {
	metrics.SetOutput(io.Discard)
	os.Exit(m.Run())
}

type fakeEmbedder struct{ err error }

func (f *fakeEmbedder) Embed(_ context.Context, image []byte) (ai.Embedding, error) {
	if f.err != nil {
		return ai.Embedding{}, f.err
	}
	return ai.Embedding{Vector: []float32{0.6, 0.8}, Model: "titan-test", Dim: 2}, nil
}

type fakeCaptioner struct {
	err      error
	panicFor string
	hints    []string
}

func (f *fakeCaptioner) Caption(_ context.Context, imageURL, hint string) (string, error) {
	if f.panicFor != "" && strings.HasSuffix(imageURL, f.panicFor) {
		panic("caption provider crashed")
	}
	f.hints = append(f.hints, hint)
	if f.err != nil {
		return "", f.err
	}
	return "A dog on a beach at sunset.", nil
}

type fakeTagger struct{ err error }

func (f *fakeTagger) Tagify(_ context.Context, caption, hint string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []string{" Beach", "dog", "DOG", "", "sunset "}, nil
}

type fakePublisher struct {
	events []events.PhotoProcessed
	err    error
}

func (f *fakePublisher) PublishPhotoProcessed(_ context.Context, ev events.PhotoProcessed) error {
	f.events = append(f.events, ev)
	return f.err
}

type harness struct {
	now       time.Time
	queue     *store.MemoryStore
	photos    *photo.MemoryStore
	assets    *assets.MemoryStore
	embedder  *fakeEmbedder
	captioner *fakeCaptioner
	tagger    *fakeTagger
	publisher *fakePublisher
	worker    *pipeline.Worker
}

func newHarness() *harness {
	h := &harness{
		now:       time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC),
		photos:    photo.NewMemoryStore(),
		assets:    assets.NewMemoryStore("https://assets.test/"),
		embedder:  &fakeEmbedder{},
		captioner: &fakeCaptioner{},
		tagger:    &fakeTagger{},
		publisher: &fakePublisher{},
	}
	clock := func() time.Time { return h.now }
	h.queue = store.NewMemoryStoreWithClock(clock)
	h.worker = pipeline.NewWorker(pipeline.Deps{
		Queue:     h.queue,
		Photos:    h.photos,
		Assets:    h.assets,
		Embedder:  h.embedder,
		Captioner: h.captioner,
		Tagger:    h.tagger,
		Events:    h.publisher,
		Now:       clock,
	})
	return h
}

// addPhoto stores a photo with an analysis asset and enqueues its job.
func (h *harness) addPhoto(t *testing.T, id string) *pipeline.Job {
	t.Helper()
	taken := time.Date(2019, 7, 4, 18, 30, 0, 0, time.UTC)
	h.photos.Put(&photo.Photo{
		ID:              id,
		UserID:          "u1",
		Filename:        id + ".jpg",
		TakenAt:         &taken,
		UploadedAt:      h.now,
		LocationName:    "Half Moon Bay",
		CameraModel:     "Pixel 8",
		AnalysisAssetID: "asset-" + id,
	})
	h.assets.Put("asset-"+id, []byte("thumbnail-bytes"))
	job, err := h.queue.Enqueue(context.Background(), id, "u1")
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	return job
}

func TestProcessBatch_Success(t *testing.T) {
	h := newHarness()
	job := h.addPhoto(t, "p1")
	ctx := context.Background()

	stats, err := h.worker.ProcessBatch(ctx, 10)
	if err != nil {
		t.Fatalf("ProcessBatch() error = %v", err)
	}
	want := pipeline.BatchStats{Leased: 1, Processed: 1, Succeeded: 1}
	if stats != want {
		t.Errorf("ProcessBatch() = %+v, want %+v", stats, want)
	}

	p, _ := h.photos.GetByID(ctx, "p1")
	if !p.IsAIReady() {
		t.Fatal("photo is not AI-ready after success")
	}
	if len(p.Embedding) != 2 || p.EmbeddingModel != "titan-test" || p.CaptionShort == "" || len(p.Tags) == 0 {
		t.Errorf("AI fields not populated together: %+v", p)
	}
	if strings.Join(p.Tags, ",") != "beach,dog,sunset" {
		t.Errorf("Tags = %v, want [beach dog sunset]", p.Tags)
	}
	if p.CaptionVersion != photo.CaptionVersion || p.AIProcessingVersion != photo.ProcessingVersion {
		t.Errorf("versions = %d/%d", p.CaptionVersion, p.AIProcessingVersion)
	}

	j, _ := h.queue.GetJob(ctx, job.ID)
	if j.Status != pipeline.StatusCompleted || j.Step != pipeline.StepDone {
		t.Errorf("job = %s/%s, want completed/done", j.Status, j.Step)
	}
	if j.LockedUntil != nil || j.Error != "" || j.ProcessedAt == nil {
		t.Errorf("job lease/error/processedAt = %v/%q/%v", j.LockedUntil, j.Error, j.ProcessedAt)
	}
	if j.Model != "titan-test" {
		t.Errorf("job model = %q, want titan-test", j.Model)
	}

	wantHint := "p1.jpg 2019-07-04T18:30:00Z Half Moon Bay Pixel 8"
	if len(h.captioner.hints) != 1 || h.captioner.hints[0] != wantHint {
		t.Errorf("caption hint = %v, want %q", h.captioner.hints, wantHint)
	}
	if len(h.publisher.events) != 1 || h.publisher.events[0].PhotoID != "p1" || h.publisher.events[0].TagCount != 3 {
		t.Errorf("published events = %+v", h.publisher.events)
	}
}

func TestProcessBatch_RateLimitedDefers(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"gemini 429", genai.APIError{Code: 429, Message: "Resource exhausted"}},
		{"message 429", errors.New("HTTP 429 Too Many Requests")},
		{"message rate limit", errors.New("Rate limit exceeded for model")},
		{"open breaker", jobutil.ErrRateLimited},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			job := h.addPhoto(t, "p1")
			h.embedder.err = tt.err
			ctx := context.Background()

			stats, err := h.worker.ProcessBatch(ctx, 10)
			if err != nil {
				t.Fatalf("ProcessBatch() error = %v", err)
			}
			if stats.Deferred != 1 || stats.Failed != 0 {
				t.Errorf("stats = %+v, want 1 deferred", stats)
			}

			j, _ := h.queue.GetJob(ctx, job.ID)
			if j.Status != pipeline.StatusPending {
				t.Errorf("status = %s, want pending", j.Status)
			}
			if j.LockedUntil == nil || !j.LockedUntil.After(h.now) {
				t.Errorf("lockedUntil = %v, want after %v", j.LockedUntil, h.now)
			}
			if !j.LockedUntil.Equal(h.now.Add(pipeline.Backoff(0))) {
				t.Errorf("lockedUntil = %v, want now+Backoff(0)", j.LockedUntil)
			}
			if j.RetryCount != job.RetryCount+1 {
				t.Errorf("retryCount = %d, want %d", j.RetryCount, job.RetryCount+1)
			}
			if j.Error != jobutil.RateLimitedMessage {
				t.Errorf("error = %q, want %q", j.Error, jobutil.RateLimitedMessage)
			}

			if p, _ := h.photos.GetByID(ctx, "p1"); p.IsAIReady() {
				t.Error("photo became AI-ready on a deferred attempt")
			}
		})
	}
}

// brokenAssets fails every read with err.
type brokenAssets struct {
	*assets.MemoryStore
	err error
}

func (b brokenAssets) Get(context.Context, string) ([]byte, error) { return nil, b.err }

func TestProcessBatch_StoreErrorMentioning429Fails(t *testing.T) {
	h := newHarness()
	job := h.addPhoto(t, "p1")
	w := pipeline.NewWorker(pipeline.Deps{
		Queue:     h.queue,
		Photos:    h.photos,
		Assets:    brokenAssets{MemoryStore: h.assets, err: errors.New("GetObject request id 4291AB: connection reset")},
		Embedder:  h.embedder,
		Captioner: h.captioner,
		Tagger:    h.tagger,
		Now:       func() time.Time { return h.now },
	})
	ctx := context.Background()

	stats, _ := w.ProcessBatch(ctx, 10)
	if stats.Failed != 1 || stats.Deferred != 0 {
		t.Errorf("stats = %+v, want 1 failed", stats)
	}
	if j, _ := h.queue.GetJob(ctx, job.ID); j.Status != pipeline.StatusFailed {
		t.Errorf("status = %s, want failed", j.Status)
	}
}

func TestProcessBatch_ProviderErrorFails(t *testing.T) {
	h := newHarness()
	job := h.addPhoto(t, "p1")
	h.tagger.err = errors.New("model returned malformed JSON")
	ctx := context.Background()

	stats, _ := h.worker.ProcessBatch(ctx, 10)
	if stats.Failed != 1 {
		t.Errorf("stats = %+v, want 1 failed", stats)
	}

	j, _ := h.queue.GetJob(ctx, job.ID)
	if j.Status != pipeline.StatusFailed {
		t.Errorf("status = %s, want failed", j.Status)
	}
	if j.Step != pipeline.StepTags {
		t.Errorf("step = %s, want tags (the step that failed)", j.Step)
	}
	if j.LockedUntil != nil {
		t.Errorf("lockedUntil = %v, want cleared", j.LockedUntil)
	}
	if j.RetryCount != 1 || !strings.Contains(j.Error, "malformed JSON") {
		t.Errorf("retryCount = %d error = %q", j.RetryCount, j.Error)
	}

	// Caption and embedding succeeded, but nothing is written without tags.
	p, _ := h.photos.GetByID(ctx, "p1")
	if p.IsAIReady() || p.Embedding != nil || p.CaptionShort != "" {
		t.Errorf("partial AI state written: %+v", p)
	}
}

func TestProcessBatch_MissingAssetIsNotFound(t *testing.T) {
	h := newHarness()
	h.photos.Put(&photo.Photo{ID: "p1", UserID: "u1", UploadedAt: h.now})
	job, _ := h.queue.Enqueue(context.Background(), "p1", "u1")
	ctx := context.Background()

	stats, _ := h.worker.ProcessBatch(ctx, 10)
	if stats.Failed != 1 {
		t.Errorf("stats = %+v, want 1 failed", stats)
	}
	j, _ := h.queue.GetJob(ctx, job.ID)
	if j.Status != pipeline.StatusFailed || !strings.Contains(j.Error, "not found") {
		t.Errorf("job = %s %q, want failed with not found", j.Status, j.Error)
	}
}

func TestProcessBatch_IsolatesFailures(t *testing.T) {
	h := newHarness()
	h.addPhoto(t, "p1")
	h.addPhoto(t, "p2")
	h.addPhoto(t, "p3")
	h.captioner.panicFor = "asset-p2"
	ctx := context.Background()

	stats, err := h.worker.ProcessBatch(ctx, 10)
	if err != nil {
		t.Fatalf("ProcessBatch() error = %v", err)
	}
	want := pipeline.BatchStats{Leased: 3, Processed: 3, Succeeded: 2, Failed: 1}
	if stats != want {
		t.Errorf("ProcessBatch() = %+v, want %+v", stats, want)
	}

	j, _ := h.queue.GetJobByPhoto(ctx, "p2")
	if j.Status != pipeline.StatusFailed || !strings.Contains(j.Error, "panic") {
		t.Errorf("panicking job = %s %q, want failed with panic", j.Status, j.Error)
	}
	for _, id := range []string{"p1", "p3"} {
		if p, _ := h.photos.GetByID(ctx, id); !p.IsAIReady() {
			t.Errorf("photo %s not processed after sibling panic", id)
		}
	}
}

func TestProcessBatch_PublishFailureIsBestEffort(t *testing.T) {
	h := newHarness()
	job := h.addPhoto(t, "p1")
	h.publisher.err = errors.New("eventbridge down")
	ctx := context.Background()

	stats, _ := h.worker.ProcessBatch(ctx, 10)
	if stats.Succeeded != 1 {
		t.Errorf("stats = %+v, want 1 succeeded", stats)
	}
	if j, _ := h.queue.GetJob(ctx, job.ID); j.Status != pipeline.StatusCompleted {
		t.Errorf("status = %s, want completed", j.Status)
	}
}

func TestProcessBatch_NoLeaseableJobs(t *testing.T) {
	h := newHarness()
	stats, err := h.worker.ProcessBatch(context.Background(), 5)
	if err != nil {
		t.Fatalf("ProcessBatch() error = %v", err)
	}
	if stats != (pipeline.BatchStats{}) {
		t.Errorf("ProcessBatch() = %+v, want zero stats", stats)
	}
}

func TestSweeper_Run(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	for _, id := range []string{"p1", "p2"} {
		job := h.addPhoto(t, id)
		if err := h.queue.UpdateJob(ctx, job.ID, pipeline.FailPatch("boom")); err != nil {
			t.Fatal(err)
		}
	}

	moved, err := pipeline.NewSweeper(h.queue, 3, 1).Run(ctx)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if moved != 2 {
		t.Errorf("Run() = %d, want 2", moved)
	}
	pending, _ := h.queue.ListByStatus(ctx, pipeline.StatusPending, 0)
	if len(pending) != 2 {
		t.Errorf("pending = %d, want 2", len(pending))
	}
}
