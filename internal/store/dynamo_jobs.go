package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"

	"github.com/fpang/photo-intelligence/internal/jobs"
	"github.com/fpang/photo-intelligence/internal/jobutil"
	"github.com/fpang/photo-intelligence/internal/pipeline"
)

// Compile-time interface check.
var _ pipeline.Queue = (*DynamoStore)(nil)

// jobRecord is the DynamoDB shape of a job. Timestamps are unix millis so
// lockedUntil compares numerically inside condition expressions.
type jobRecord struct {
	ID          string `dynamodbav:"jobId"`
	PhotoID     string `dynamodbav:"photoId"`
	UserID      string `dynamodbav:"userId"`
	Status      string `dynamodbav:"status"`
	Step        string `dynamodbav:"step"`
	LockedUntil *int64 `dynamodbav:"lockedUntil,omitempty"`
	RetryCount  int    `dynamodbav:"retryCount"`
	Error       string `dynamodbav:"error,omitempty"`
	Provider    string `dynamodbav:"provider,omitempty"`
	Model       string `dynamodbav:"model,omitempty"`
	CreatedAt   int64  `dynamodbav:"createdAt"`
	UpdatedAt   int64  `dynamodbav:"updatedAt"`
	ProcessedAt *int64 `dynamodbav:"processedAt,omitempty"`
}

func millisPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}

func timePtr(ms *int64) *time.Time {
	if ms == nil {
		return nil
	}
	t := time.UnixMilli(*ms).UTC()
	return &t
}

func toRecord(j *pipeline.Job) jobRecord {
	return jobRecord{
		ID:          j.ID,
		PhotoID:     j.PhotoID,
		UserID:      j.UserID,
		Status:      string(j.Status),
		Step:        string(j.Step),
		LockedUntil: millisPtr(j.LockedUntil),
		RetryCount:  j.RetryCount,
		Error:       j.Error,
		Provider:    j.Provider,
		Model:       j.Model,
		CreatedAt:   j.CreatedAt.UnixMilli(),
		UpdatedAt:   j.UpdatedAt.UnixMilli(),
		ProcessedAt: millisPtr(j.ProcessedAt),
	}
}

func (r jobRecord) toJob() *pipeline.Job {
	return &pipeline.Job{
		ID:          r.ID,
		PhotoID:     r.PhotoID,
		UserID:      r.UserID,
		Status:      pipeline.Status(r.Status),
		Step:        pipeline.Step(r.Step),
		LockedUntil: timePtr(r.LockedUntil),
		RetryCount:  r.RetryCount,
		Error:       r.Error,
		Provider:    r.Provider,
		Model:       r.Model,
		CreatedAt:   time.UnixMilli(r.CreatedAt).UTC(),
		UpdatedAt:   time.UnixMilli(r.UpdatedAt).UTC(),
		ProcessedAt: timePtr(r.ProcessedAt),
	}
}

func decodeJobs(items []map[string]types.AttributeValue) ([]*pipeline.Job, error) {
	out := make([]*pipeline.Job, 0, len(items))
	for _, item := range items {
		var rec jobRecord
		if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
			return nil, fmt.Errorf("unmarshal job: %w", err)
		}
		out = append(out, rec.toJob())
	}
	return out, nil
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

// Enqueue creates a pending job or resets the photo's existing one.
func (s *DynamoStore) Enqueue(ctx context.Context, photoID, userID string) (*pipeline.Job, error) {
	existing, err := s.GetJobByPhoto(ctx, photoID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if err := s.resetUnlessLeased(ctx, existing.ID); err != nil {
			return nil, fmt.Errorf("reset job %s: %w", existing.ID, err)
		}
		log.Info().Str("jobId", existing.ID).Str("photoId", photoID).Int("retryCount", existing.RetryCount).Msg("AI job reset to pending")
		return s.GetJob(ctx, existing.ID)
	}

	now := s.now().UTC()
	job := &pipeline.Job{
		ID:        jobs.GenerateID(jobs.AIJobPrefix),
		PhotoID:   photoID,
		UserID:    userID,
		Status:    pipeline.StatusPending,
		Step:      pipeline.StepPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.putItem(ctx, jobPK(job.ID), skMeta, toRecord(job), "attribute_not_exists(PK)"); err != nil {
		return nil, fmt.Errorf("put job %s: %w", job.ID, err)
	}
	log.Info().Str("jobId", job.ID).Str("photoId", photoID).Str("userId", userID).Msg("AI job enqueued")
	return job, nil
}

// LeasePendingJobs over-fetches pending jobs oldest first, then claims each
// one with a conditional UpdateItem. Losing the condition means another
// worker won the job; it is skipped.
func (s *DynamoStore) LeasePendingJobs(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	now := s.now()
	nowMs := now.UnixMilli()

	items, err := s.queryIndex(ctx, &dynamodb.QueryInput{
		TableName:              &s.tableName,
		IndexName:              aws.String(StatusIndexName),
		KeyConditionExpression: aws.String("#status = :status"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status": stringAttr(string(pipeline.StatusPending)),
		},
		ScanIndexForward: aws.Bool(true),
		Limit:            aws.Int32(int32(limit * pipeline.LeaseOverFetch)),
	}, limit*pipeline.LeaseOverFetch, nil)
	if err != nil {
		return nil, fmt.Errorf("query pending jobs: %w", err)
	}
	candidates, err := decodeJobs(items)
	if err != nil {
		return nil, err
	}

	leased := make([]string, 0, limit)
	for _, job := range candidates {
		if len(leased) == limit {
			break
		}
		if !job.Leaseable(now) {
			continue
		}
		ok, err := s.tryLease(ctx, job.ID, now, nowMs)
		if err != nil {
			return leased, err
		}
		if ok {
			leased = append(leased, job.ID)
		}
	}

	log.Debug().
		Int("limit", limit).
		Int("candidates", len(candidates)).
		Int("leased", len(leased)).
		Msg("Leased pending AI jobs")
	return leased, nil
}

// tryLease is the compare-and-swap: the update only applies while the job
// is still pending and its lease is absent or expired.
func (s *DynamoStore) tryLease(ctx context.Context, jobID string, now time.Time, nowMs int64) (bool, error) {
	u := patchExpression(pipeline.LeasePatch(now), now)
	update := u.expression()
	condition := fmt.Sprintf("%s = %s AND (attribute_not_exists(%s) OR %s < %s)",
		u.name("status"), u.value("condPending", stringAttr(string(pipeline.StatusPending))),
		u.name("lockedUntil"), u.name("lockedUntil"), u.value("condNow", numberAttr(nowMs)))

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       itemKey(jobPK(jobID), skMeta),
		UpdateExpression:          aws.String(update),
		ConditionExpression:       aws.String(condition),
		ExpressionAttributeNames:  u.names,
		ExpressionAttributeValues: u.values,
	})
	if err != nil {
		if isConditionFailed(err) {
			log.Debug().Str("jobId", jobID).Msg("Lease lost to another worker")
			return false, nil
		}
		return false, fmt.Errorf("lease job %s: %w", jobID, err)
	}
	return true, nil
}

// GetJob returns the job or nil, nil.
func (s *DynamoStore) GetJob(ctx context.Context, jobID string) (*pipeline.Job, error) {
	var rec jobRecord
	found, err := s.getItem(ctx, jobPK(jobID), skMeta, &rec)
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}
	if !found {
		log.Debug().Str("jobId", jobID).Bool("found", false).Msg("GetJob: job not found")
		return nil, nil
	}
	return rec.toJob(), nil
}

// UpdateJob applies a sparse patch to an existing job.
func (s *DynamoStore) UpdateJob(ctx context.Context, jobID string, patch pipeline.JobPatch) error {
	if patch.IsEmpty() {
		return nil
	}
	return s.updateJob(ctx, jobID, patch, nil, "")
}

// ListByStatus returns up to limit jobs in status, oldest first.
func (s *DynamoStore) ListByStatus(ctx context.Context, status pipeline.Status, limit int) ([]*pipeline.Job, error) {
	input := &dynamodb.QueryInput{
		TableName:              &s.tableName,
		IndexName:              aws.String(StatusIndexName),
		KeyConditionExpression: aws.String("#status = :status"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status": stringAttr(string(status)),
		},
		ScanIndexForward: aws.Bool(true),
	}
	if limit > 0 {
		input.Limit = aws.Int32(int32(limit))
	}
	items, err := s.queryIndex(ctx, input, limit, nil)
	if err != nil {
		return nil, fmt.Errorf("list %s jobs: %w", status, err)
	}
	return decodeJobs(items)
}

// GetJobByPhoto returns the photo's newest job or nil, nil.
func (s *DynamoStore) GetJobByPhoto(ctx context.Context, photoID string) (*pipeline.Job, error) {
	items, err := s.queryIndex(ctx, &dynamodb.QueryInput{
		TableName:              &s.tableName,
		IndexName:              aws.String(PhotoIndexName),
		KeyConditionExpression: aws.String("photoId = :photoId"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":photoId": stringAttr(photoID),
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	}, 1, nil)
	if err != nil {
		return nil, fmt.Errorf("get job for photo %s: %w", photoID, err)
	}
	if len(items) == 0 {
		return nil, nil
	}
	found, err := decodeJobs(items)
	if err != nil {
		return nil, err
	}
	return found[0], nil
}

// Requeue sends the job back to pending unless it is in flight.
func (s *DynamoStore) Requeue(ctx context.Context, jobID string) error {
	if err := s.resetUnlessLeased(ctx, jobID); err != nil {
		return err
	}
	log.Info().Str("jobId", jobID).Msg("AI job requeued")
	return nil
}

// resetUnlessLeased applies RequeuePatch only while no worker holds a live
// lease. A failed condition on an existing job is ErrJobLeased.
func (s *DynamoStore) resetUnlessLeased(ctx context.Context, jobID string) error {
	u := newUpdateExpr()
	extra := fmt.Sprintf("NOT (%s = %s AND %s > %s)",
		u.name("status"), u.value("condProcessing", stringAttr(string(pipeline.StatusProcessing))),
		u.name("lockedUntil"), u.value("condNow", numberAttr(s.now().UnixMilli())))
	err := s.updateJob(ctx, jobID, pipeline.RequeuePatch(), u, extra)
	if !errors.Is(err, jobutil.ErrNotFound) {
		return err
	}
	job, getErr := s.GetJob(ctx, jobID)
	if getErr != nil {
		return getErr
	}
	if job == nil {
		return err
	}
	log.Warn().Str("jobId", jobID).Msg("AI job is in flight, reset skipped")
	return fmt.Errorf("job %s: %w", jobID, pipeline.ErrJobLeased)
}

// RequeueFailed moves failed jobs with retries left back to pending. Each
// move re-checks status and retryCount in its condition so a concurrent
// sweep cannot double count.
func (s *DynamoStore) RequeueFailed(ctx context.Context, maxRetries, limit int) (int, error) {
	items, err := s.queryIndex(ctx, &dynamodb.QueryInput{
		TableName:              &s.tableName,
		IndexName:              aws.String(StatusIndexName),
		KeyConditionExpression: aws.String("#status = :status"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status": stringAttr(string(pipeline.StatusFailed)),
		},
		ScanIndexForward: aws.Bool(true),
	}, limit, func(item map[string]types.AttributeValue) bool {
		var rec jobRecord
		if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
			return false
		}
		return rec.RetryCount < maxRetries
	})
	if err != nil {
		return 0, fmt.Errorf("query failed jobs: %w", err)
	}
	candidates, err := decodeJobs(items)
	if err != nil {
		return 0, err
	}

	moved := 0
	for _, job := range candidates {
		u := newUpdateExpr()
		extra := fmt.Sprintf("%s = %s AND %s < %s",
			u.name("status"), u.value("condFailed", stringAttr(string(pipeline.StatusFailed))),
			u.name("retryCount"), u.value("condMaxRetries", numberAttr(int64(maxRetries))))
		err := s.updateJob(ctx, job.ID, pipeline.RequeuePatch(), u, extra)
		if err != nil {
			if errors.Is(err, jobutil.ErrNotFound) {
				continue
			}
			return moved, err
		}
		moved++
		log.Info().Str("jobId", job.ID).Int("retryCount", job.RetryCount).Msg("Failed AI job requeued by sweep")
	}
	return moved, nil
}

// updateJob applies patch under attribute_exists(PK). A non-empty extra
// condition is ANDed on; its placeholders must be registered on cond.
func (s *DynamoStore) updateJob(ctx context.Context, jobID string, patch pipeline.JobPatch, cond *updateExpr, extra string) error {
	u := patchExpression(patch, s.now())
	update := u.expression()
	condition := "attribute_exists(PK)"
	if cond != nil {
		for k, v := range cond.names {
			u.names[k] = v
		}
		for k, v := range cond.values {
			u.values[k] = v
		}
	}
	if extra != "" {
		condition += " AND " + extra
	}

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       itemKey(jobPK(jobID), skMeta),
		UpdateExpression:          aws.String(update),
		ConditionExpression:       aws.String(condition),
		ExpressionAttributeNames:  u.names,
		ExpressionAttributeValues: u.values,
	})
	if err != nil {
		if isConditionFailed(err) {
			return fmt.Errorf("job %s: %w", jobID, jobutil.ErrNotFound)
		}
		return fmt.Errorf("update job %s: %w", jobID, err)
	}
	return nil
}
