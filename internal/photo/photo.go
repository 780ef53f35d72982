// Package photo models the photo entity and the AI-derived state the worker
// attaches to it, and provides the Photo Store backends the pipeline and the
// feed read from.
//
// All reads exclude trashed photos. Get methods return (nil, nil) when the
// photo does not exist.
package photo

import (
	"context"
	"errors"
	"time"
)

// Current versions written alongside each AI analysis.
const (
	CaptionVersion    = 1
	ProcessingVersion = 1
)

// Photo is a single library item plus its AI state.
type Photo struct {
	ID              string     `json:"id"`
	UserID          string     `json:"userId"`
	Filename        string     `json:"filename"`
	TakenAt         *time.Time `json:"takenAt,omitempty"`
	UploadedAt      time.Time  `json:"uploadedAt"`
	LocationName    string     `json:"locationName,omitempty"`
	CameraModel     string     `json:"cameraModel,omitempty"`
	IsFavorite      bool       `json:"isFavorite"`
	IsTrashed       bool       `json:"isTrashed"`
	DetectedFaces   int        `json:"detectedFaces"`
	AIQualityScore  *float64   `json:"aiQualityScore,omitempty"`
	AnalysisAssetID string     `json:"analysisAssetId,omitempty"`

	Embedding           []float32  `json:"embedding,omitempty"`
	EmbeddingDim        int        `json:"embeddingDim,omitempty"`
	EmbeddingModel      string     `json:"embeddingModel,omitempty"`
	CaptionShort        string     `json:"captionShort,omitempty"`
	CaptionVersion      int        `json:"captionVersion,omitempty"`
	Tags                []string   `json:"tags,omitempty"`
	AIProcessedAt       *time.Time `json:"aiProcessedAt,omitempty"`
	AIProcessingVersion int        `json:"aiProcessingVersion,omitempty"`
}

// IsAIReady reports whether a successful AI run has been recorded.
func (p *Photo) IsAIReady() bool {
	return p.AIProcessedAt != nil
}

// Timestamp returns TakenAt when known, otherwise UploadedAt.
func (p *Photo) Timestamp() time.Time {
	if p.TakenAt != nil {
		return *p.TakenAt
	}
	return p.UploadedAt
}

// AIAnalysis is the complete result of one pipeline run. It is written
// onto the photo in a single update so embedding, caption, and tags are
// never observed partially.
type AIAnalysis struct {
	Embedding         []float32
	EmbeddingModel    string
	CaptionShort      string
	CaptionVersion    int
	Tags              []string
	ProcessedAt       time.Time
	ProcessingVersion int
}

// Validate rejects an analysis that would leave the photo half-populated.
func (a AIAnalysis) Validate() error {
	switch {
	case len(a.Embedding) == 0:
		return errors.New("analysis has no embedding")
	case a.EmbeddingModel == "":
		return errors.New("analysis has no embedding model")
	case a.CaptionShort == "":
		return errors.New("analysis has no caption")
	case a.ProcessedAt.IsZero():
		return errors.New("analysis has no processed timestamp")
	}
	return nil
}

// apply copies the analysis onto p.
func (a AIAnalysis) apply(p *Photo) {
	p.Embedding = append([]float32(nil), a.Embedding...)
	p.EmbeddingDim = len(a.Embedding)
	p.EmbeddingModel = a.EmbeddingModel
	p.CaptionShort = a.CaptionShort
	p.CaptionVersion = a.CaptionVersion
	p.Tags = append([]string(nil), a.Tags...)
	ts := a.ProcessedAt
	p.AIProcessedAt = &ts
	p.AIProcessingVersion = a.ProcessingVersion
}

// Store is the Photo Store contract consumed by the worker and the feed.
type Store interface {
	// GetByID returns a non-trashed photo, or nil, nil if not found.
	GetByID(ctx context.Context, photoID string) (*Photo, error)

	// ListByDate returns the user's photos whose takenAt falls in
	// [start, end). A nil bound is open on that side.
	ListByDate(ctx context.Context, userID string, start, end *time.Time) ([]*Photo, error)

	// ListByUser returns the user's most recently uploaded photos.
	ListByUser(ctx context.Context, userID string, limit int) ([]*Photo, error)

	// UpdateAIAnalysis atomically writes all AI fields onto the photo.
	UpdateAIAnalysis(ctx context.Context, photoID string, analysis AIAnalysis) error
}
