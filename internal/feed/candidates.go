package feed

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/photo-intelligence/internal/photo"
)

// Candidate generation bounds.
const (
	onThisDayYears      = 30
	onThisDayPoolFactor = 20
	windowPoolFactor    = 8
	minAgeDays          = 365
	maxAgeDays          = 365 * 25
	initialWindow       = 7 * 24 * time.Hour
	maxWindowDoublings  = 4
	fallbackRecentLimit = 500
)

const day = 24 * time.Hour

// pool accumulates eligible candidates: AI-ready, not trashed, not recently
// shown, and unique by ID.
type pool struct {
	exclude map[string]bool
	seen    map[string]bool
	photos  []*photo.Photo
}

func newPool(recent []string) *pool {
	exclude := make(map[string]bool, len(recent))
	for _, id := range recent {
		exclude[id] = true
	}
	return &pool{exclude: exclude, seen: make(map[string]bool)}
}

func (p *pool) add(photos []*photo.Photo) {
	for _, ph := range photos {
		if ph == nil || ph.IsTrashed || !ph.IsAIReady() {
			continue
		}
		if p.exclude[ph.ID] || p.seen[ph.ID] {
			continue
		}
		p.seen[ph.ID] = true
		p.photos = append(p.photos, ph)
	}
}

func (p *pool) len() int { return len(p.photos) }

// candidateGenerator retrieves mode-specific candidates from the photo store.
type candidateGenerator struct {
	photos photo.Store
	rng    *Rand
	now    time.Time
}

func (g *candidateGenerator) generate(ctx context.Context, userID string, mode Mode, year, limit int, recent []string) ([]*photo.Photo, error) {
	p := newPool(recent)
	var err error
	switch mode {
	case ModeDeepDiveYear:
		err = g.deepDiveYear(ctx, p, userID, year)
	case ModeOnThisDay:
		err = g.onThisDay(ctx, p, userID, limit)
	case ModeNostalgia, ModeSerendipity:
		err = g.randomWindow(ctx, p, userID, limit)
	default:
		err = fmt.Errorf("unknown feed mode %q", mode)
	}
	if err != nil {
		return nil, err
	}
	return p.photos, nil
}

func (g *candidateGenerator) deepDiveYear(ctx context.Context, p *pool, userID string, year int) error {
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(1, 0, 0)
	photos, err := g.photos.ListByDate(ctx, userID, &start, &end)
	if err != nil {
		return fmt.Errorf("list photos for %d: %w", year, err)
	}
	p.add(photos)
	return nil
}

func (g *candidateGenerator) onThisDay(ctx context.Context, p *pool, userID string, limit int) error {
	now := g.now.UTC()
	for back := 1; back <= onThisDayYears; back++ {
		start := time.Date(now.Year()-back, now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		end := start.Add(day)
		photos, err := g.photos.ListByDate(ctx, userID, &start, &end)
		if err != nil {
			return fmt.Errorf("list photos for %s: %w", start.Format(time.DateOnly), err)
		}
		p.add(photos)
		if p.len() > onThisDayPoolFactor*limit {
			break
		}
	}
	return nil
}

// randomWindow samples a log-uniform age, then widens a window around
// now-age until the pool is large enough. An empty result falls back to
// the most recent uploads.
func (g *candidateGenerator) randomWindow(ctx context.Context, p *pool, userID string, limit int) error {
	age := logUniformDays(g.rng.Float64())
	target := g.now.Add(-time.Duration(age * float64(day)))

	window := initialWindow
	for i := 0; i <= maxWindowDoublings; i++ {
		start, end := target.Add(-window), target.Add(window)
		photos, err := g.photos.ListByDate(ctx, userID, &start, &end)
		if err != nil {
			return fmt.Errorf("list photos around %s: %w", target.Format(time.DateOnly), err)
		}
		p.add(photos)
		if p.len() >= windowPoolFactor*limit {
			break
		}
		window *= 2
	}

	if p.len() == 0 {
		log.Debug().
			Str("userId", userID).
			Float64("ageDays", age).
			Msg("Empty date window, falling back to recent photos")
		photos, err := g.photos.ListByUser(ctx, userID, fallbackRecentLimit)
		if err != nil {
			return fmt.Errorf("list recent photos: %w", err)
		}
		p.add(photos)
	}
	return nil
}

// logUniformDays maps u in [0, 1) onto [minAgeDays, maxAgeDays) on a log scale.
func logUniformDays(u float64) float64 {
	lo, hi := math.Log(minAgeDays), math.Log(maxAgeDays)
	return math.Exp(lo + u*(hi-lo))
}
