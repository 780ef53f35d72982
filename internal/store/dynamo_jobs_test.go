package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/fpang/photo-intelligence/internal/feed"
	"github.com/fpang/photo-intelligence/internal/jobutil"
	"github.com/fpang/photo-intelligence/internal/pipeline"
)

// fakeDynamo serves Query from a fixed item list and records updates.
// Jobs listed in lost fail their conditional update.
type fakeDynamo struct {
	queryItems []map[string]types.AttributeValue
	queries    []*dynamodb.QueryInput
	updates    []*dynamodb.UpdateItemInput
	lost       map[string]bool
	getItem    map[string]types.AttributeValue
}

func (f *fakeDynamo) GetItem(_ context.Context, _ *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return &dynamodb.GetItemOutput{Item: f.getItem}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, _ *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.updates = append(f.updates, in)
	pk := in.Key["PK"].(*types.AttributeValueMemberS).Value
	if f.lost[strings.TrimPrefix(pk, jobPKPrefix)] {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
	}
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.queries = append(f.queries, in)
	return &dynamodb.QueryOutput{Items: f.queryItems}, nil
}

func mustMarshalJob(t *testing.T, j *pipeline.Job) map[string]types.AttributeValue {
	t.Helper()
	item, err := attributevalue.MarshalMap(toRecord(j))
	if err != nil {
		t.Fatalf("marshal job: %v", err)
	}
	return item
}

func TestDynamoStore_LeasePendingJobs(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	live := now.Add(time.Minute)
	expired := now.Add(-time.Minute)

	fake := &fakeDynamo{lost: map[string]bool{"aijob-lost": true}}
	for _, j := range []*pipeline.Job{
		{ID: "aijob-live", Status: pipeline.StatusPending, LockedUntil: &live, CreatedAt: now},
		{ID: "aijob-lost", Status: pipeline.StatusPending, CreatedAt: now},
		{ID: "aijob-expired", Status: pipeline.StatusPending, LockedUntil: &expired, CreatedAt: now},
		{ID: "aijob-fresh", Status: pipeline.StatusPending, CreatedAt: now},
		{ID: "aijob-extra", Status: pipeline.StatusPending, CreatedAt: now},
	} {
		fake.queryItems = append(fake.queryItems, mustMarshalJob(t, j))
	}
	s := newDynamoStore(fake, "table", func() time.Time { return now })

	got, err := s.LeasePendingJobs(context.Background(), 2)
	if err != nil {
		t.Fatalf("LeasePendingJobs() error = %v", err)
	}
	want := []string{"aijob-expired", "aijob-fresh"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("LeasePendingJobs() = %v, want %v", got, want)
	}

	q := fake.queries[0]
	if aws.ToString(q.IndexName) != StatusIndexName {
		t.Errorf("IndexName = %q, want %q", aws.ToString(q.IndexName), StatusIndexName)
	}
	if aws.ToInt32(q.Limit) != int32(2*pipeline.LeaseOverFetch) {
		t.Errorf("query Limit = %d, want %d", aws.ToInt32(q.Limit), 2*pipeline.LeaseOverFetch)
	}

	// The live lease is never attempted; the lost one is attempted and skipped.
	if len(fake.updates) != 3 {
		t.Fatalf("UpdateItem calls = %d, want 3", len(fake.updates))
	}
	upd := fake.updates[0]
	cond := aws.ToString(upd.ConditionExpression)
	if cond != "#status = :condPending AND (attribute_not_exists(#lockedUntil) OR #lockedUntil < :condNow)" {
		t.Errorf("ConditionExpression = %q", cond)
	}
	nowAttr := upd.ExpressionAttributeValues[":condNow"].(*types.AttributeValueMemberN)
	if nowAttr.Value != formatInt(now.UnixMilli()) {
		t.Errorf(":condNow = %s, want %d", nowAttr.Value, now.UnixMilli())
	}
	if !strings.Contains(aws.ToString(upd.UpdateExpression), "REMOVE #error, #model, #provider") {
		t.Errorf("UpdateExpression = %q, want provider metadata removed", aws.ToString(upd.UpdateExpression))
	}
}

func TestDynamoStore_UpdateJobNotFound(t *testing.T) {
	fake := &fakeDynamo{lost: map[string]bool{"aijob-gone": true}}
	s := newDynamoStore(fake, "table", time.Now)

	err := s.UpdateJob(context.Background(), "aijob-gone", pipeline.RequeuePatch())
	if !errors.Is(err, jobutil.ErrNotFound) {
		t.Errorf("UpdateJob() error = %v, want ErrNotFound", err)
	}
	if cond := aws.ToString(fake.updates[0].ConditionExpression); cond != "attribute_exists(PK)" {
		t.Errorf("ConditionExpression = %q", cond)
	}
}

func TestDynamoStore_EnqueueSkipsInFlightJob(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	lock := now.Add(time.Minute)
	job := &pipeline.Job{
		ID: "aijob-busy", PhotoID: "p1", UserID: "u1",
		Status: pipeline.StatusProcessing, Step: pipeline.StepCaption,
		LockedUntil: &lock, CreatedAt: now.Add(-time.Hour), UpdatedAt: now,
	}
	item := mustMarshalJob(t, job)
	fake := &fakeDynamo{
		queryItems: []map[string]types.AttributeValue{item},
		getItem:    item,
		lost:       map[string]bool{"aijob-busy": true},
	}
	s := newDynamoStore(fake, "table", func() time.Time { return now })

	if _, err := s.Enqueue(context.Background(), "p1", "u1"); !errors.Is(err, pipeline.ErrJobLeased) {
		t.Fatalf("Enqueue() error = %v, want ErrJobLeased", err)
	}
	if err := s.Requeue(context.Background(), "aijob-busy"); !errors.Is(err, pipeline.ErrJobLeased) {
		t.Errorf("Requeue() error = %v, want ErrJobLeased", err)
	}

	upd := fake.updates[0]
	want := "attribute_exists(PK) AND NOT (#status = :condProcessing AND #lockedUntil > :condNow)"
	if cond := aws.ToString(upd.ConditionExpression); cond != want {
		t.Errorf("ConditionExpression = %q, want %q", cond, want)
	}
	if v := upd.ExpressionAttributeValues[":condNow"].(*types.AttributeValueMemberN).Value; v != formatInt(now.UnixMilli()) {
		t.Errorf(":condNow = %s, want %d", v, now.UnixMilli())
	}
}

func TestDynamoStore_RequeueMissingJobIsNotFound(t *testing.T) {
	fake := &fakeDynamo{lost: map[string]bool{"aijob-gone": true}}
	s := newDynamoStore(fake, "table", time.Now)

	err := s.Requeue(context.Background(), "aijob-gone")
	if !errors.Is(err, jobutil.ErrNotFound) || errors.Is(err, pipeline.ErrJobLeased) {
		t.Errorf("Requeue() error = %v, want ErrNotFound", err)
	}
}

func TestDynamoStore_UpdateJobEmptyPatchIsNoop(t *testing.T) {
	fake := &fakeDynamo{}
	s := newDynamoStore(fake, "table", time.Now)
	if err := s.UpdateJob(context.Background(), "aijob-1", pipeline.NewPatch()); err != nil {
		t.Fatalf("UpdateJob() error = %v", err)
	}
	if len(fake.updates) != 0 {
		t.Errorf("UpdateItem calls = %d, want 0", len(fake.updates))
	}
}

func TestDynamoStore_RequeueFailedFiltersRetries(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	fake := &fakeDynamo{lost: map[string]bool{"aijob-raced": true}}
	for _, j := range []*pipeline.Job{
		{ID: "aijob-a", Status: pipeline.StatusFailed, RetryCount: 1, CreatedAt: now},
		{ID: "aijob-capped", Status: pipeline.StatusFailed, RetryCount: 3, CreatedAt: now},
		{ID: "aijob-raced", Status: pipeline.StatusFailed, RetryCount: 0, CreatedAt: now},
	} {
		fake.queryItems = append(fake.queryItems, mustMarshalJob(t, j))
	}
	s := newDynamoStore(fake, "table", func() time.Time { return now })

	moved, err := s.RequeueFailed(context.Background(), 3, 10)
	if err != nil {
		t.Fatalf("RequeueFailed() error = %v", err)
	}
	if moved != 1 {
		t.Errorf("RequeueFailed() = %d, want 1", moved)
	}
	if len(fake.updates) != 2 {
		t.Fatalf("UpdateItem calls = %d, want 2", len(fake.updates))
	}
	cond := aws.ToString(fake.updates[0].ConditionExpression)
	if cond != "attribute_exists(PK) AND #status = :condFailed AND #retryCount < :condMaxRetries" {
		t.Errorf("ConditionExpression = %q", cond)
	}
}

func TestDynamoStore_GetJobRoundTrip(t *testing.T) {
	lock := time.Date(2026, 5, 1, 9, 2, 0, 0, time.UTC)
	job := &pipeline.Job{
		ID: "aijob-1", PhotoID: "p1", UserID: "u1",
		Status: pipeline.StatusProcessing, Step: pipeline.StepCaption,
		LockedUntil: &lock, RetryCount: 2, Provider: "bedrock", Model: "titan",
		CreatedAt: lock.Add(-time.Hour), UpdatedAt: lock,
	}
	fake := &fakeDynamo{getItem: mustMarshalJob(t, job)}
	s := newDynamoStore(fake, "table", time.Now)

	got, err := s.GetJob(context.Background(), "aijob-1")
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if got.Step != pipeline.StepCaption || got.RetryCount != 2 || !got.LockedUntil.Equal(lock) {
		t.Errorf("GetJob() = %+v", got)
	}
	if got.ProcessedAt != nil {
		t.Errorf("ProcessedAt = %v, want nil", got.ProcessedAt)
	}
}

func TestDynamoStore_UpsertSession(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	fake := &fakeDynamo{}
	s := newDynamoStore(fake, "table", func() time.Time { return now })

	ids := []string{"a", "b", "a", "c"}
	if err := s.UpsertSession(context.Background(), "u1", feed.ModeOnThisDay, "seed-1", ids); err != nil {
		t.Fatalf("UpsertSession() error = %v", err)
	}
	upd := fake.updates[0]
	if pk := upd.Key["PK"].(*types.AttributeValueMemberS).Value; pk != "FEED#u1" {
		t.Errorf("PK = %q, want FEED#u1", pk)
	}
	if sk := upd.Key["SK"].(*types.AttributeValueMemberS).Value; sk != "MODE#on_this_day" {
		t.Errorf("SK = %q, want MODE#on_this_day", sk)
	}
	if !strings.Contains(aws.ToString(upd.UpdateExpression), "#createdAt = if_not_exists(#createdAt, :createdAt)") {
		t.Errorf("UpdateExpression = %q, want createdAt preserved", aws.ToString(upd.UpdateExpression))
	}
	var recent []string
	if err := attributevalue.Unmarshal(upd.ExpressionAttributeValues[":recentPhotoIds"], &recent); err != nil {
		t.Fatal(err)
	}
	if strings.Join(recent, ",") != "b,a,c" {
		t.Errorf("recentPhotoIds = %v, want [b a c]", recent)
	}
	exp := upd.ExpressionAttributeValues[":expiresAt"].(*types.AttributeValueMemberN).Value
	if exp != formatInt(now.Add(feed.SessionTTL).Unix()) {
		t.Errorf(":expiresAt = %s", exp)
	}
	if _, ok := upd.ExpressionAttributeNames["#status"]; ok {
		t.Error("session item must not carry a status attribute")
	}
}
