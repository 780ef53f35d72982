package photo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fpang/photo-intelligence/internal/jobutil"
)

// MemoryStore is an in-process Store. The worker, feed, and API tests run on it.
type MemoryStore struct {
	mu     sync.RWMutex
	photos map[string]*Photo
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{photos: make(map[string]*Photo)}
}

// Put inserts or replaces a photo.
func (s *MemoryStore) Put(p *Photo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.photos[p.ID] = &cp
}

func (s *MemoryStore) GetByID(ctx context.Context, photoID string) (*Photo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.photos[photoID]
	if !ok || p.IsTrashed {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) ListByDate(ctx context.Context, userID string, start, end *time.Time) ([]*Photo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Photo
	for _, p := range s.photos {
		if p.UserID != userID || p.IsTrashed {
			continue
		}
		if start != nil || end != nil {
			if p.TakenAt == nil {
				continue
			}
			if start != nil && p.TakenAt.Before(*start) {
				continue
			}
			if end != nil && !p.TakenAt.Before(*end) {
				continue
			}
		}
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp().Equal(out[j].Timestamp()) {
			return out[i].Timestamp().Before(out[j].Timestamp())
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Photo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Photo
	for _, p := range s.photos {
		if p.UserID == userID && !p.IsTrashed {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UploadedAt.Equal(out[j].UploadedAt) {
			return out[i].UploadedAt.After(out[j].UploadedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) UpdateAIAnalysis(ctx context.Context, photoID string, analysis AIAnalysis) error {
	if err := analysis.Validate(); err != nil {
		return fmt.Errorf("update AI analysis %s: %w", photoID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.photos[photoID]
	if !ok || p.IsTrashed {
		return fmt.Errorf("update AI analysis %s: %w", photoID, jobutil.ErrNotFound)
	}
	analysis.apply(p)
	return nil
}
