package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fpang/photo-intelligence/internal/feed"
	"github.com/fpang/photo-intelligence/internal/jobs"
	"github.com/fpang/photo-intelligence/internal/jobutil"
	"github.com/fpang/photo-intelligence/internal/pipeline"
)

// Compile-time interface checks.
var (
	_ pipeline.Queue    = (*MemoryStore)(nil)
	_ feed.SessionStore = (*MemoryStore)(nil)
)

// MemoryStore is an in-process job queue and session store. A single
// mutex makes every lease a true compare-and-swap.
type MemoryStore struct {
	mu       sync.Mutex
	jobs     map[string]*pipeline.Job
	sessions map[string]*feed.Session
	now      func() time.Time
}

// NewMemoryStore creates an empty MemoryStore on the wall clock.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(time.Now)
}

// NewMemoryStoreWithClock creates an empty MemoryStore on now.
func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	return &MemoryStore{
		jobs:     make(map[string]*pipeline.Job),
		sessions: make(map[string]*feed.Session),
		now:      now,
	}
}

func cloneJob(j *pipeline.Job) *pipeline.Job {
	cp := *j
	if j.LockedUntil != nil {
		t := *j.LockedUntil
		cp.LockedUntil = &t
	}
	if j.ProcessedAt != nil {
		t := *j.ProcessedAt
		cp.ProcessedAt = &t
	}
	return &cp
}

// PutJob stores a copy of job as is. Tests use it to seed state.
func (m *MemoryStore) PutJob(job *pipeline.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = cloneJob(job)
}

func (m *MemoryStore) jobForPhoto(photoID string) *pipeline.Job {
	var newest *pipeline.Job
	for _, j := range m.jobs {
		if j.PhotoID == photoID && (newest == nil || j.CreatedAt.After(newest.CreatedAt)) {
			newest = j
		}
	}
	return newest
}

func (m *MemoryStore) Enqueue(_ context.Context, photoID, userID string) (*pipeline.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()

	if j := m.jobForPhoto(photoID); j != nil {
		if j.InFlight(now) {
			return nil, fmt.Errorf("reset job %s: %w", j.ID, pipeline.ErrJobLeased)
		}
		pipeline.RequeuePatch().Apply(j, now)
		return cloneJob(j), nil
	}
	j := &pipeline.Job{
		ID:        jobs.GenerateID(jobs.AIJobPrefix),
		PhotoID:   photoID,
		UserID:    userID,
		Status:    pipeline.StatusPending,
		Step:      pipeline.StepPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.jobs[j.ID] = j
	return cloneJob(j), nil
}

// sortedByCreated returns jobs in status, oldest first.
func (m *MemoryStore) sortedByCreated(status pipeline.Status) []*pipeline.Job {
	var out []*pipeline.Job
	for _, j := range m.jobs {
		if j.Status == status {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].ID < out[b].ID
		}
		return out[a].CreatedAt.Before(out[b].CreatedAt)
	})
	return out
}

func (m *MemoryStore) LeasePendingJobs(_ context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()

	candidates := m.sortedByCreated(pipeline.StatusPending)
	if n := limit * pipeline.LeaseOverFetch; len(candidates) > n {
		candidates = candidates[:n]
	}
	leased := make([]string, 0, limit)
	for _, j := range candidates {
		if len(leased) == limit {
			break
		}
		if !j.Leaseable(now) {
			continue
		}
		pipeline.LeasePatch(now).Apply(j, now)
		leased = append(leased, j.ID)
	}
	return leased, nil
}

func (m *MemoryStore) GetJob(_ context.Context, jobID string) (*pipeline.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return nil, nil
	}
	return cloneJob(j), nil
}

func (m *MemoryStore) UpdateJob(_ context.Context, jobID string, patch pipeline.JobPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, jobutil.ErrNotFound)
	}
	if patch.IsEmpty() {
		return nil
	}
	patch.Apply(j, m.now())
	return nil
}

func (m *MemoryStore) ListByStatus(_ context.Context, status pipeline.Status, limit int) ([]*pipeline.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sorted := m.sortedByCreated(status)
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}
	out := make([]*pipeline.Job, len(sorted))
	for i, j := range sorted {
		out[i] = cloneJob(j)
	}
	return out, nil
}

func (m *MemoryStore) GetJobByPhoto(_ context.Context, photoID string) (*pipeline.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j := m.jobForPhoto(photoID); j != nil {
		return cloneJob(j), nil
	}
	return nil, nil
}

func (m *MemoryStore) Requeue(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, jobutil.ErrNotFound)
	}
	now := m.now()
	if j.InFlight(now) {
		return fmt.Errorf("job %s: %w", jobID, pipeline.ErrJobLeased)
	}
	pipeline.RequeuePatch().Apply(j, now)
	return nil
}

func (m *MemoryStore) RequeueFailed(_ context.Context, maxRetries, limit int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	moved := 0
	for _, j := range m.sortedByCreated(pipeline.StatusFailed) {
		if limit > 0 && moved == limit {
			break
		}
		if j.RetryCount >= maxRetries {
			continue
		}
		pipeline.RequeuePatch().Apply(j, now)
		moved++
	}
	return moved, nil
}

func memorySessionKey(userID string, mode feed.Mode) string {
	return userID + "\x00" + string(mode)
}

func (m *MemoryStore) GetSession(_ context.Context, userID string, mode feed.Mode) (*feed.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[memorySessionKey(userID, mode)]
	if !ok {
		return nil, nil
	}
	cp := *s
	cp.RecentPhotoIDs = append([]string(nil), s.RecentPhotoIDs...)
	return &cp, nil
}

func (m *MemoryStore) UpsertSession(_ context.Context, userID string, mode feed.Mode, seed string, recentIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()
	key := memorySessionKey(userID, mode)
	s, ok := m.sessions[key]
	if !ok {
		s = &feed.Session{UserID: userID, Mode: mode, CreatedAt: now}
		m.sessions[key] = s
	}
	s.Seed = seed
	s.RecentPhotoIDs = feed.AppendRecent(nil, recentIDs, feed.RecentWindow)
	s.LastSeenAt = now
	s.UpdatedAt = now
	return nil
}
