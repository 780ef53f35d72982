// Package pipeline implements the AI job queue contract and the worker
// that turns a photo's analysis asset into an embedding, a caption, and a
// tag set.
//
// Coordination between workers happens only through the job's lease
// (lockedUntil). Leasing is an optimistic compare-and-swap performed by
// the queue backend; a crashed worker's lease expires and the job becomes
// leaseable again, so every step must tolerate being re-run from the top.
package pipeline

import (
	"time"

	"github.com/fpang/photo-intelligence/internal/jobutil"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Step is the pipeline stage a job is in (or failed at).
type Step string

const (
	StepPending   Step = "pending"
	StepEmbedding Step = "embedding"
	StepCaption   Step = "caption"
	StepTags      Step = "tags"
	StepDone      Step = "done"
)

// Job is one per-photo AI processing record.
type Job struct {
	ID          string     `json:"id"`
	PhotoID     string     `json:"photoId"`
	UserID      string     `json:"userId"`
	Status      Status     `json:"status"`
	Step        Step       `json:"step"`
	LockedUntil *time.Time `json:"lockedUntil,omitempty"`
	RetryCount  int        `json:"retryCount"`
	Error       string     `json:"error,omitempty"`
	Provider    string     `json:"provider,omitempty"`
	Model       string     `json:"model,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	ProcessedAt *time.Time `json:"processedAt,omitempty"`
}

// Leased reports whether the job holds a lease that is still live at now.
func (j *Job) Leased(now time.Time) bool {
	return j.LockedUntil != nil && j.LockedUntil.After(now)
}

// InFlight reports whether a worker is processing the job under a live lease.
func (j *Job) InFlight(now time.Time) bool {
	return j.Status == StatusProcessing && j.Leased(now)
}

// Leaseable reports whether the job may be claimed at now.
func (j *Job) Leaseable(now time.Time) bool {
	return j.Status == StatusPending && !j.Leased(now)
}

// JobPatch is a sparse update to a job. Nil pointer fields are left
// untouched; the Clear and Increment flags express changes that a nil
// pointer cannot.
type JobPatch struct {
	Status           *Status
	Step             *Step
	LockedUntil      *time.Time
	ClearLockedUntil bool
	IncrementRetry   bool
	Error            *string
	ClearError       bool
	Provider         *string
	Model            *string
	ClearProvider    bool
	ProcessedAt      *time.Time
}

// NewPatch starts an empty patch.
func NewPatch() JobPatch {
	return JobPatch{}
}

func (p JobPatch) WithStatus(s Status) JobPatch {
	p.Status = &s
	return p
}

func (p JobPatch) WithStep(s Step) JobPatch {
	p.Step = &s
	return p
}

// LockUntil sets the lease expiry.
func (p JobPatch) LockUntil(t time.Time) JobPatch {
	p.LockedUntil = &t
	p.ClearLockedUntil = false
	return p
}

// Unlock removes the lease.
func (p JobPatch) Unlock() JobPatch {
	p.LockedUntil = nil
	p.ClearLockedUntil = true
	return p
}

func (p JobPatch) WithError(msg string) JobPatch {
	p.Error = &msg
	p.ClearError = false
	return p
}

func (p JobPatch) WithoutError() JobPatch {
	p.Error = nil
	p.ClearError = true
	return p
}

// IncRetry increments retryCount by one when applied.
func (p JobPatch) IncRetry() JobPatch {
	p.IncrementRetry = true
	return p
}

func (p JobPatch) WithProvider(provider, model string) JobPatch {
	p.Provider = &provider
	p.Model = &model
	p.ClearProvider = false
	return p
}

// WithoutProvider removes provider and model.
func (p JobPatch) WithoutProvider() JobPatch {
	p.Provider = nil
	p.Model = nil
	p.ClearProvider = true
	return p
}

func (p JobPatch) WithProcessedAt(t time.Time) JobPatch {
	p.ProcessedAt = &t
	return p
}

// IsEmpty reports whether applying the patch would change nothing.
func (p JobPatch) IsEmpty() bool {
	return p.Status == nil && p.Step == nil && p.LockedUntil == nil && !p.ClearLockedUntil &&
		!p.IncrementRetry && p.Error == nil && !p.ClearError &&
		p.Provider == nil && p.Model == nil && !p.ClearProvider && p.ProcessedAt == nil
}

// Apply mutates j in place. Backends that cannot push the patch down to
// storage (the in-memory queue) use it directly.
func (p JobPatch) Apply(j *Job, now time.Time) {
	if p.Status != nil {
		j.Status = *p.Status
	}
	if p.Step != nil {
		j.Step = *p.Step
	}
	if p.ClearLockedUntil {
		j.LockedUntil = nil
	} else if p.LockedUntil != nil {
		t := *p.LockedUntil
		j.LockedUntil = &t
	}
	if p.IncrementRetry {
		j.RetryCount++
	}
	if p.ClearError {
		j.Error = ""
	} else if p.Error != nil {
		j.Error = *p.Error
	}
	if p.ClearProvider {
		j.Provider = ""
		j.Model = ""
	} else {
		if p.Provider != nil {
			j.Provider = *p.Provider
		}
		if p.Model != nil {
			j.Model = *p.Model
		}
	}
	if p.ProcessedAt != nil {
		t := *p.ProcessedAt
		j.ProcessedAt = &t
	}
	j.UpdatedAt = now
}

// LeasePatch is applied when a worker claims a pending job. It drops the
// error and provider metadata left by the previous attempt.
func LeasePatch(now time.Time) JobPatch {
	return NewPatch().
		WithStatus(StatusProcessing).
		WithStep(StepEmbedding).
		LockUntil(now.Add(LeaseDuration)).
		WithoutError().
		WithoutProvider()
}

// DeferPatch returns a rate-limited job to the queue with a backoff lease.
func DeferPatch(now time.Time, retryCount int) JobPatch {
	return NewPatch().
		WithStatus(StatusPending).
		LockUntil(now.Add(Backoff(retryCount))).
		IncRetry().
		WithError(jobutil.RateLimitedMessage)
}

// FailPatch marks the attempt failed with the raw error message.
func FailPatch(msg string) JobPatch {
	return NewPatch().
		WithStatus(StatusFailed).
		Unlock().
		IncRetry().
		WithError(msg)
}

// CompletePatch marks the job done.
func CompletePatch(now time.Time) JobPatch {
	return NewPatch().
		WithStatus(StatusCompleted).
		WithStep(StepDone).
		Unlock().
		WithoutError().
		WithProcessedAt(now)
}

// RequeuePatch sends a job back to pending from any state without
// touching retryCount.
func RequeuePatch() JobPatch {
	return NewPatch().
		WithStatus(StatusPending).
		WithStep(StepPending).
		Unlock()
}
