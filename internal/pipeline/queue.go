package pipeline

import (
	"context"
	"errors"
	"time"
)

// LeaseDuration is how long a leased job stays exclusively owned by one
// worker. Every pipeline step renews it.
const LeaseDuration = 2 * time.Minute

// LeaseOverFetch is the multiple of the requested batch size read from the
// pending set before filtering on lease expiry.
const LeaseOverFetch = 3

// ErrJobLeased is returned when a reset would take a job away from the
// worker that holds its live lease.
var ErrJobLeased = errors.New("job is leased by a worker")

// Queue is the durable AI job table.
//
// LeasePendingJobs must never return a job whose lease is still live at the
// time of the check. Implementations achieve this with a single conditional
// write per candidate; losing the race to another worker is not an error.
type Queue interface {
	// Enqueue creates a pending job for the photo, or resets the photo's
	// existing job to pending without lowering its retry count. A job in
	// flight is left untouched and ErrJobLeased is returned.
	Enqueue(ctx context.Context, photoID, userID string) (*Job, error)

	// LeasePendingJobs claims up to limit leaseable jobs and returns their IDs.
	LeasePendingJobs(ctx context.Context, limit int) ([]string, error)

	// GetJob returns the job, or nil, nil if it does not exist.
	GetJob(ctx context.Context, jobID string) (*Job, error)

	// UpdateJob applies a sparse patch. Fields the patch leaves unset are
	// not written.
	UpdateJob(ctx context.Context, jobID string, patch JobPatch) error

	// ListByStatus returns up to limit jobs in the given status, oldest first.
	ListByStatus(ctx context.Context, status Status, limit int) ([]*Job, error)

	// GetJobByPhoto returns the photo's job, or nil, nil.
	GetJobByPhoto(ctx context.Context, photoID string) (*Job, error)

	// Requeue sends a job back to pending. A job in flight is left untouched
	// and ErrJobLeased is returned.
	Requeue(ctx context.Context, jobID string) error

	// RequeueFailed moves up to limit failed jobs with retryCount below
	// maxRetries back to pending and returns how many were moved.
	RequeueFailed(ctx context.Context, maxRetries, limit int) (int, error)
}
