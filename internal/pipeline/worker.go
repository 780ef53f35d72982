package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/photo-intelligence/internal/ai"
	"github.com/fpang/photo-intelligence/internal/assets"
	"github.com/fpang/photo-intelligence/internal/events"
	"github.com/fpang/photo-intelligence/internal/jobutil"
	"github.com/fpang/photo-intelligence/internal/metrics"
	"github.com/fpang/photo-intelligence/internal/photo"
)

// Embedder turns image bytes into a vector.
type Embedder interface {
	Embed(ctx context.Context, image []byte) (ai.Embedding, error)
}

// Captioner writes a short caption for the image behind imageURL.
type Captioner interface {
	Caption(ctx context.Context, imageURL, hint string) (string, error)
}

// Tagger derives tags from a caption and hint.
type Tagger interface {
	Tagify(ctx context.Context, caption, hint string) ([]string, error)
}

// EventPublisher announces photos that became AI-ready.
type EventPublisher interface {
	PublishPhotoProcessed(ctx context.Context, event events.PhotoProcessed) error
}

// Deps wires a Worker. Events may be nil.
type Deps struct {
	Queue     Queue
	Photos    photo.Store
	Assets    assets.Store
	Embedder  Embedder
	Captioner Captioner
	Tagger    Tagger
	Events    EventPublisher

	// Provider is recorded on the job once the embedding step succeeds.
	Provider string
	// MaxImageEdge bounds the asset sent to the embedder. Zero sends it as is.
	MaxImageEdge int

	Now func() time.Time
}

// Worker drains leased jobs through embedding, caption, and tags.
type Worker struct {
	queue        Queue
	photos       photo.Store
	assets       assets.Store
	embedder     Embedder
	captioner    Captioner
	tagger       Tagger
	events       EventPublisher
	provider     string
	maxImageEdge int
	now          func() time.Time
}

// NewWorker creates a Worker from deps.
func NewWorker(deps Deps) *Worker {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	provider := deps.Provider
	if provider == "" {
		provider = ai.ProviderBedrock
	}
	return &Worker{
		queue:        deps.Queue,
		photos:       deps.Photos,
		assets:       deps.Assets,
		embedder:     deps.Embedder,
		captioner:    deps.Captioner,
		tagger:       deps.Tagger,
		events:       deps.Events,
		provider:     provider,
		maxImageEdge: deps.MaxImageEdge,
		now:          now,
	}
}

// BatchStats aggregates one ProcessBatch call.
type BatchStats struct {
	Leased    int `json:"leased"`
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Deferred  int `json:"deferred"`
}

type outcome int

const (
	outcomeSucceeded outcome = iota
	outcomeFailed
	outcomeDeferred
)

// ProcessBatch leases up to limit jobs and runs each through the pipeline.
// A failing job never stops the rest of the batch; only a lease failure
// is returned as an error.
func (w *Worker) ProcessBatch(ctx context.Context, limit int) (BatchStats, error) {
	start := w.now()
	var stats BatchStats

	ids, err := w.queue.LeasePendingJobs(ctx, limit)
	if err != nil {
		return stats, fmt.Errorf("lease pending jobs: %w", err)
	}
	stats.Leased = len(ids)

	for _, id := range ids {
		switch w.processOne(ctx, id) {
		case outcomeSucceeded:
			stats.Succeeded++
		case outcomeDeferred:
			stats.Deferred++
		default:
			stats.Failed++
		}
		stats.Processed++
	}

	duration := time.Since(start)
	log.Info().
		Int("limit", limit).
		Int("leased", stats.Leased).
		Int("processed", stats.Processed).
		Int("succeeded", stats.Succeeded).
		Int("failed", stats.Failed).
		Int("deferred", stats.Deferred).
		Dur("duration", duration).
		Msg("AI batch complete")

	metrics.New(metrics.Namespace).
		Dimension("Operation", "ai-batch").
		Metric("JobsLeased", float64(stats.Leased), metrics.UnitCount).
		Metric("JobsSucceeded", float64(stats.Succeeded), metrics.UnitCount).
		Metric("JobsFailed", float64(stats.Failed), metrics.UnitCount).
		Metric("JobsDeferred", float64(stats.Deferred), metrics.UnitCount).
		Duration("BatchLatency", duration).
		Flush()

	return stats, nil
}

// processOne isolates a single job, including panics.
func (w *Worker) processOne(ctx context.Context, jobID string) (result outcome) {
	var job *Job
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("jobId", jobID).
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("AI job panicked")
			photoID := ""
			if job != nil {
				photoID = job.PhotoID
			}
			w.fail(ctx, jobID, photoID, fmt.Errorf("panic: %v", r))
			result = outcomeFailed
		}
	}()

	job, err := w.queue.GetJob(ctx, jobID)
	if err != nil {
		w.fail(ctx, jobID, "", fmt.Errorf("get job: %w", err))
		return outcomeFailed
	}
	if job == nil {
		log.Warn().Str("jobId", jobID).Msg("Leased job vanished")
		return outcomeFailed
	}

	jobStart := w.now()
	res, err := w.run(ctx, job)
	if err != nil {
		return w.handleFailure(ctx, job, err)
	}

	if err := w.queue.UpdateJob(ctx, job.ID, CompletePatch(w.now())); err != nil {
		// The photo is already AI-ready; the lease will lapse and the rerun is harmless.
		log.Error().Err(err).Str("jobId", job.ID).Str("photoId", job.PhotoID).Msg("Failed to mark AI job completed")
		return outcomeFailed
	}

	log.Info().
		Str("jobId", job.ID).
		Str("photoId", job.PhotoID).
		Str("embeddingModel", res.analysis.EmbeddingModel).
		Int("embeddingDim", len(res.analysis.Embedding)).
		Int("tagCount", len(res.analysis.Tags)).
		Dur("duration", time.Since(jobStart)).
		Msg("AI job completed")

	w.publish(ctx, job, res)
	return outcomeSucceeded
}

type runResult struct {
	analysis     photo.AIAnalysis
	captionModel string
}

// run performs the three steps. Each step renews the lease first.
func (w *Worker) run(ctx context.Context, job *Job) (*runResult, error) {
	// Embedding.
	if err := w.renew(ctx, job.ID, StepEmbedding); err != nil {
		return nil, err
	}
	p, err := w.photos.GetByID(ctx, job.PhotoID)
	if err != nil {
		return nil, fmt.Errorf("get photo: %w", err)
	}
	if p == nil {
		return nil, fmt.Errorf("photo %s: %w", job.PhotoID, jobutil.ErrNotFound)
	}
	if p.AnalysisAssetID == "" {
		return nil, fmt.Errorf("photo %s has no analysis asset: %w", job.PhotoID, jobutil.ErrNotFound)
	}
	data, err := w.assets.Get(ctx, p.AnalysisAssetID)
	if err != nil {
		return nil, fmt.Errorf("get analysis asset: %w", err)
	}

	image := data
	if prepared, err := assets.PrepareForEmbedding(data, w.maxImageEdge); err != nil {
		log.Warn().Err(err).Str("jobId", job.ID).Msg("Could not prepare asset, embedding original bytes")
	} else {
		image = prepared
	}
	emb, err := w.embedder.Embed(ctx, image)
	if err != nil {
		return nil, jobutil.FromProvider("embed", err)
	}
	if len(emb.Vector) == 0 {
		return nil, fmt.Errorf("embed: provider returned an empty vector")
	}
	if err := w.queue.UpdateJob(ctx, job.ID, NewPatch().WithProvider(w.provider, emb.Model)); err != nil {
		return nil, fmt.Errorf("record provider: %w", err)
	}

	// Caption.
	if err := w.renew(ctx, job.ID, StepCaption); err != nil {
		return nil, err
	}
	url, err := w.assets.SignedURL(ctx, p.AnalysisAssetID)
	if err != nil {
		return nil, fmt.Errorf("sign analysis asset: %w", err)
	}
	hint := BuildHint(withEXIF(p, data))
	caption, err := w.captioner.Caption(ctx, url, hint)
	if err != nil {
		return nil, jobutil.FromProvider("caption", err)
	}

	// Tags.
	if err := w.renew(ctx, job.ID, StepTags); err != nil {
		return nil, err
	}
	rawTags, err := w.tagger.Tagify(ctx, caption, hint)
	if err != nil {
		return nil, jobutil.FromProvider("tagify", err)
	}

	analysis := photo.AIAnalysis{
		Embedding:         emb.Vector,
		EmbeddingModel:    emb.Model,
		CaptionShort:      caption,
		CaptionVersion:    photo.CaptionVersion,
		Tags:              NormalizeTags(rawTags),
		ProcessedAt:       w.now().UTC(),
		ProcessingVersion: photo.ProcessingVersion,
	}
	if err := w.photos.UpdateAIAnalysis(ctx, p.ID, analysis); err != nil {
		return nil, fmt.Errorf("save AI analysis: %w", err)
	}

	res := &runResult{analysis: analysis}
	if m, ok := w.captioner.(interface{ Model() string }); ok {
		res.captionModel = m.Model()
	}
	return res, nil
}

func (w *Worker) renew(ctx context.Context, jobID string, step Step) error {
	patch := NewPatch().WithStep(step).LockUntil(w.now().Add(LeaseDuration))
	if err := w.queue.UpdateJob(ctx, jobID, patch); err != nil {
		return fmt.Errorf("renew lease for %s step: %w", step, err)
	}
	return nil
}

// handleFailure defers rate-limited jobs and fails everything else.
func (w *Worker) handleFailure(ctx context.Context, job *Job, err error) outcome {
	if jobutil.Classify(err) == jobutil.KindRateLimited {
		delay := Backoff(job.RetryCount)
		log.Warn().
			Err(err).
			Str("jobId", job.ID).
			Str("photoId", job.PhotoID).
			Int("retryCount", job.RetryCount).
			Dur("backoff", delay).
			Msg("AI job rate limited, deferring")
		if uerr := w.queue.UpdateJob(ctx, job.ID, DeferPatch(w.now(), job.RetryCount)); uerr != nil {
			log.Error().Err(uerr).Str("jobId", job.ID).Msg("Failed to defer rate-limited AI job")
		}
		return outcomeDeferred
	}
	w.fail(ctx, job.ID, job.PhotoID, err)
	return outcomeFailed
}

func (w *Worker) fail(ctx context.Context, jobID, photoID string, err error) {
	write := func(ctx context.Context, jobID, errMsg string) error {
		return w.queue.UpdateJob(ctx, jobID, FailPatch(errMsg))
	}
	if werr := jobutil.SetJobError(ctx, jobID, photoID, err, write); werr != nil {
		log.Error().Err(werr).Str("jobId", jobID).Msg("Failed to record AI job failure")
	}
}

func (w *Worker) publish(ctx context.Context, job *Job, res *runResult) {
	if w.events == nil {
		return
	}
	ev := events.PhotoProcessed{
		PhotoID:        job.PhotoID,
		UserID:         job.UserID,
		JobID:          job.ID,
		EmbeddingModel: res.analysis.EmbeddingModel,
		EmbeddingDim:   len(res.analysis.Embedding),
		CaptionModel:   res.captionModel,
		TagCount:       len(res.analysis.Tags),
		RetryCount:     job.RetryCount,
		ProcessedAt:    res.analysis.ProcessedAt,
	}
	if err := w.events.PublishPhotoProcessed(ctx, ev); err != nil {
		log.Warn().Err(err).Str("jobId", job.ID).Msg("Failed to publish photo.ai.processed")
	}
}

// withEXIF fills a missing takenAt or camera model from the asset's EXIF
// for hint building. The stored photo is not modified.
func withEXIF(p *photo.Photo, data []byte) *photo.Photo {
	if p.TakenAt != nil && p.CameraModel != "" {
		return p
	}
	exif, err := assets.ReadEXIF(data)
	if err != nil {
		log.Debug().Err(err).Str("photoId", p.ID).Msg("No EXIF in analysis asset")
		return p
	}
	cp := *p
	if cp.TakenAt == nil && exif.TakenAt != nil {
		cp.TakenAt = exif.TakenAt
	}
	if cp.CameraModel == "" {
		cp.CameraModel = cameraName(exif.CameraMake, exif.CameraModel)
	}
	return &cp
}

func cameraName(mk, model string) string {
	switch {
	case model == "":
		return mk
	case mk == "" || strings.HasPrefix(strings.ToLower(model), strings.ToLower(mk)):
		return model
	default:
		return mk + " " + model
	}
}
