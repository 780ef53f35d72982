package feed

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fpang/photo-intelligence/internal/metrics"
	"github.com/fpang/photo-intelligence/internal/photo"
)

// Request limits.
const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// ErrInvalidRequest wraps every request validation failure.
var ErrInvalidRequest = errors.New("invalid feed request")

// Request is one page request for a mode.
type Request struct {
	Mode   Mode   `json:"mode" validate:"required"`
	Limit  int    `json:"limit" validate:"min=1,max=100"`
	Seed   string `json:"seed,omitempty" validate:"omitempty,max=128"`
	Cursor string `json:"cursor,omitempty" validate:"omitempty,max=20"`
	Year   int    `json:"year,omitempty" validate:"omitempty,min=1800,max=9999"`
}

// Item is one photo in a feed page.
type Item struct {
	PhotoID       string         `json:"photoId"`
	TakenAt       *time.Time     `json:"takenAt,omitempty"`
	UploadedAt    time.Time      `json:"uploadedAt"`
	Reason        string         `json:"reason"`
	Score         float64        `json:"score"`
	Breakdown     ScoreBreakdown `json:"breakdown"`
	Caption       string         `json:"caption,omitempty"`
	Tags          []string       `json:"tags,omitempty"`
	LocationName  string         `json:"locationName,omitempty"`
	DetectedFaces int            `json:"detectedFaces"`
}

// Response is one feed page. NextCursor is nil when the page is empty.
type Response struct {
	Items      []Item  `json:"items"`
	NextCursor *string `json:"nextCursor"`
	Seed       string  `json:"seed"`
}

// ServiceConfig tunes a Service. A nil Lambda uses DefaultLambda; a nil
// Now uses the wall clock.
type ServiceConfig struct {
	Lambda *float64
	Now    func() time.Time
}

// Service serves feed pages.
type Service struct {
	photos   photo.Store
	sessions SessionStore
	validate *validator.Validate
	lambda   float64
	now      func() time.Time
}

// NewService creates a Service over the photo and session stores.
func NewService(photos photo.Store, sessions SessionStore, cfg ServiceConfig) *Service {
	lambda := DefaultLambda
	if cfg.Lambda != nil {
		lambda = *cfg.Lambda
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		photos:   photos,
		sessions: sessions,
		validate: validator.New(),
		lambda:   lambda,
		now:      now,
	}
}

// Validate applies the default limit and checks req.
func (s *Service) Validate(req *Request) error {
	if req.Limit == 0 {
		req.Limit = DefaultLimit
	}
	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", strings.ToLower(fe.Field()), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(msgs, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if !req.Mode.Valid() {
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidRequest, req.Mode)
	}
	if req.Mode == ModeDeepDiveYear && req.Year == 0 {
		return fmt.Errorf("%w: year is required for %s", ErrInvalidRequest, ModeDeepDiveYear)
	}
	return nil
}

// GetNostalgiaFeed returns the next page of the user's feed for req.Mode and
// records the shown photos on the session.
func (s *Service) GetNostalgiaFeed(ctx context.Context, userID string, req Request) (*Response, error) {
	start := time.Now()
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user is required", ErrInvalidRequest)
	}
	if err := s.Validate(&req); err != nil {
		return nil, err
	}
	now := s.now().UTC()

	session, err := s.sessions.GetSession(ctx, userID, req.Mode)
	if err != nil {
		log.Warn().Err(err).Str("userId", userID).Str("mode", string(req.Mode)).Msg("Failed to load feed session, starting fresh")
		session = nil
	}
	var recent []string
	if session != nil {
		recent = session.RecentPhotoIDs
	}
	seed := resolveSeed(req.Seed, session)
	cursor := ParseCursor(req.Cursor)

	gen := &candidateGenerator{photos: s.photos, rng: NewRand(seed, req.Mode, cursor), now: now}
	photos, err := gen.generate(ctx, userID, req.Mode, req.Year, req.Limit, recent)
	if err != nil {
		return nil, fmt.Errorf("generate %s candidates: %w", req.Mode, err)
	}

	topic := s.topicVector(ctx, recent)
	cands := make([]Candidate, 0, len(photos))
	for _, p := range photos {
		cands = append(cands, Candidate{Photo: p, Breakdown: Score(p, topic, now)})
	}
	RankCandidates(cands)
	selected := SelectMMR(cands, req.Limit, s.lambda)

	items := make([]Item, 0, len(selected))
	shown := make([]string, 0, len(selected))
	for _, c := range selected {
		items = append(items, toItem(c, req.Mode, now))
		shown = append(shown, c.Photo.ID)
	}

	if err := s.sessions.UpsertSession(ctx, userID, req.Mode, seed, AppendRecent(recent, shown, RecentWindow)); err != nil {
		log.Warn().Err(err).Str("userId", userID).Str("mode", string(req.Mode)).Msg("Failed to persist feed session")
	}

	resp := &Response{Items: items, Seed: seed}
	if len(items) > 0 {
		next := strconv.Itoa(cursor + 1)
		resp.NextCursor = &next
	}

	duration := time.Since(start)
	log.Debug().
		Str("userId", userID).
		Str("mode", string(req.Mode)).
		Int("cursor", cursor).
		Int("candidates", len(photos)).
		Int("items", len(items)).
		Dur("duration", duration).
		Msg("Feed page served")
	metrics.New(metrics.Namespace).
		Dimension("Operation", "feed").
		Dimension("Mode", string(req.Mode)).
		Metric("FeedCandidates", float64(len(photos)), metrics.UnitCount).
		Metric("FeedItems", float64(len(items)), metrics.UnitCount).
		Duration("FeedLatency", duration).
		Flush()

	return resp, nil
}

// ParseCursor reads the integer cursor. Anything unparseable or negative is 0.
func ParseCursor(cursor string) int {
	n, err := strconv.Atoi(strings.TrimSpace(cursor))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// resolveSeed prefers the caller's seed, then the session's, then a new one.
func resolveSeed(requested string, session *Session) string {
	if requested != "" {
		return requested
	}
	if session != nil && session.Seed != "" {
		return session.Seed
	}
	return uuid.NewString()
}

// topicVector averages the embeddings of recently shown photos. Lookup
// failures drop that photo from the average.
func (s *Service) topicVector(ctx context.Context, recent []string) []float32 {
	if len(recent) == 0 {
		return nil
	}
	embeddings := make([][]float32, 0, len(recent))
	for _, id := range recent {
		p, err := s.photos.GetByID(ctx, id)
		if err != nil {
			log.Debug().Err(err).Str("photoId", id).Msg("Skipping recent photo in topic vector")
			continue
		}
		if p != nil && len(p.Embedding) > 0 {
			embeddings = append(embeddings, p.Embedding)
		}
	}
	return TopicVector(embeddings)
}

func toItem(c Candidate, mode Mode, now time.Time) Item {
	p := c.Photo
	return Item{
		PhotoID:       p.ID,
		TakenAt:       p.TakenAt,
		UploadedAt:    p.UploadedAt,
		Reason:        Reason(mode, p, now),
		Score:         c.Breakdown.Total,
		Breakdown:     c.Breakdown,
		Caption:       p.CaptionShort,
		Tags:          p.Tags,
		LocationName:  p.LocationName,
		DetectedFaces: p.DetectedFaces,
	}
}
