// Package jobutil provides shared helpers for AI job failure handling.
//
// Classify maps provider, storage, and lookup failures onto the small error
// taxonomy the worker acts on: NOT_FOUND, RATE_LIMITED, and PROVIDER_ERROR.
// SetJobError unifies the log-then-persist pattern used whenever a job
// attempt ends in a terminal failure.
package jobutil

import (
	"context"

	"github.com/rs/zerolog/log"
)

// ErrorWriter persists a job failure to the backing queue.
// The worker passes a closure over Queue.UpdateJob.
type ErrorWriter func(ctx context.Context, jobID, errMsg string) error

// SetJobError logs the failure with its classification and delegates
// persistence to the provided writer.
func SetJobError(ctx context.Context, jobID, photoID string, err error, write ErrorWriter) error {
	msg := err.Error()
	log.Error().
		Str("jobId", jobID).
		Str("photoId", photoID).
		Str("kind", string(Classify(err))).
		Str("error", msg).
		Msg("AI job failed")
	return write(ctx, jobID, msg)
}
