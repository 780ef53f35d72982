package photo

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	rdsdatatypes "github.com/aws/aws-sdk-go-v2/service/rdsdata/types"

	"github.com/fpang/photo-intelligence/internal/jobutil"
)

type fakeExecutor struct {
	rows      []Row
	affected  int64
	lastQuery string
	lastArgs  []any
}

func (f *fakeExecutor) Query(ctx context.Context, query string, args ...any) ([]Row, error) {
	f.lastQuery, f.lastArgs = query, args
	return f.rows, nil
}

func (f *fakeExecutor) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	f.lastQuery, f.lastArgs = query, args
	return f.affected, nil
}

func TestListByDateQuery(t *testing.T) {
	s := NewPostgresStore(&fakeExecutor{}, "")
	start := time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	query, args, err := s.listByDateQuery("u1", &start, &end)
	if err != nil {
		t.Fatalf("listByDateQuery() error = %v", err)
	}
	for _, want := range []string{`FROM "photos"`, `"is_trashed" IS FALSE`, `"taken_at" >= $`, `"taken_at" < $`, "embedding::text"} {
		if !strings.Contains(query, want) {
			t.Errorf("query missing %q:\n%s", want, query)
		}
	}
	if len(args) != 3 {
		t.Errorf("len(args) = %d, want 3 (%v)", len(args), args)
	}
}

func TestUpdateAIAnalysisQuery(t *testing.T) {
	s := NewPostgresStore(&fakeExecutor{}, "photos")
	query, _, err := s.updateAIAnalysisQuery("p1", AIAnalysis{
		Embedding:      []float32{0.5, 1},
		EmbeddingModel: "titan",
		CaptionShort:   "a dog",
		Tags:           []string{"dog"},
		ProcessedAt:    time.Now(),
	})
	if err != nil {
		t.Fatalf("updateAIAnalysisQuery() error = %v", err)
	}
	if !strings.HasPrefix(query, `UPDATE "photos" SET`) {
		t.Errorf("query = %q, want single UPDATE", query)
	}
	for _, want := range []string{"::vector", "::text[]", "::timestamptz", `"ai_processed_at"`, `"caption_short"`} {
		if !strings.Contains(query, want) {
			t.Errorf("query missing %q:\n%s", want, query)
		}
	}
}

func TestPostgresStore_GetByID(t *testing.T) {
	exec := &fakeExecutor{rows: []Row{{
		"id":              "p1",
		"user_id":         "u1",
		"filename":        "beach.jpg",
		"taken_at":        "2019-07-04T18:30:00.000000Z",
		"uploaded_at":     "2024-01-02T03:04:05.000000Z",
		"is_favorite":     true,
		"detected_faces":  int64(2),
		"embedding":       "[0.25,0.5]",
		"embedding_dim":   int64(2),
		"tags":            `["beach","sunset"]`,
		"ai_processed_at": "2024-02-01T00:00:00.000000Z",
		"ai_quality_score": 0.75,
	}}}
	s := NewPostgresStore(exec, "")

	p, err := s.GetByID(context.Background(), "p1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if p == nil {
		t.Fatal("GetByID() = nil, want photo")
	}
	if p.TakenAt == nil || p.TakenAt.Year() != 2019 {
		t.Errorf("TakenAt = %v, want 2019", p.TakenAt)
	}
	if len(p.Embedding) != 2 || p.Embedding[1] != 0.5 {
		t.Errorf("Embedding = %v, want [0.25 0.5]", p.Embedding)
	}
	if len(p.Tags) != 2 || p.Tags[0] != "beach" {
		t.Errorf("Tags = %v, want [beach sunset]", p.Tags)
	}
	if !p.IsAIReady() || !p.IsFavorite || p.DetectedFaces != 2 {
		t.Errorf("decoded photo = %+v", p)
	}
	if p.AIQualityScore == nil || *p.AIQualityScore != 0.75 {
		t.Errorf("AIQualityScore = %v, want 0.75", p.AIQualityScore)
	}

	exec.rows = nil
	p, err = s.GetByID(context.Background(), "missing")
	if err != nil || p != nil {
		t.Errorf("GetByID(missing) = %v, %v, want nil, nil", p, err)
	}
}

func TestPostgresStore_UpdateAIAnalysis(t *testing.T) {
	valid := AIAnalysis{
		Embedding:      []float32{1},
		EmbeddingModel: "titan",
		CaptionShort:   "a cat",
		ProcessedAt:    time.Now(),
	}

	exec := &fakeExecutor{affected: 0}
	s := NewPostgresStore(exec, "")
	if err := s.UpdateAIAnalysis(context.Background(), "p1", valid); !errors.Is(err, jobutil.ErrNotFound) {
		t.Errorf("UpdateAIAnalysis() with 0 rows error = %v, want ErrNotFound", err)
	}

	exec.affected = 1
	if err := s.UpdateAIAnalysis(context.Background(), "p1", valid); err != nil {
		t.Errorf("UpdateAIAnalysis() error = %v", err)
	}

	partial := valid
	partial.CaptionShort = ""
	exec.lastQuery = ""
	if err := s.UpdateAIAnalysis(context.Background(), "p1", partial); err == nil {
		t.Error("UpdateAIAnalysis() accepted an analysis without caption")
	}
	if exec.lastQuery != "" {
		t.Error("partial analysis reached the database")
	}
}

func TestToNamedParams(t *testing.T) {
	ts := time.Date(2020, 5, 6, 7, 8, 9, 0, time.UTC)
	sql, params, err := toNamedParams(`SELECT * FROM "photos" WHERE "id" = $1 AND "taken_at" < $2 LIMIT $10`, []any{"p1", ts, 1, 2, 3, 4, 5, 6, 7, int64(5)})
	if err != nil {
		t.Fatalf("toNamedParams() error = %v", err)
	}
	if !strings.Contains(sql, `"id" = :p1`) || !strings.Contains(sql, "LIMIT :p10") {
		t.Errorf("sql = %q", sql)
	}
	if len(params) != 10 {
		t.Fatalf("len(params) = %d, want 10", len(params))
	}
	if params[1].TypeHint != rdsdatatypes.TypeHintTimestamp {
		t.Errorf("time param TypeHint = %v, want TIMESTAMP", params[1].TypeHint)
	}
	if _, ok := params[9].Value.(*rdsdatatypes.FieldMemberLongValue); !ok {
		t.Errorf("int64 param = %T, want LongValue", params[9].Value)
	}

	if _, _, err := toNamedParams("SELECT $1", []any{struct{}{}}); err == nil {
		t.Error("toNamedParams() accepted an unsupported type")
	}
}

func TestFormatTextArray(t *testing.T) {
	tests := []struct {
		in   []string
		want string
	}{
		{nil, "{}"},
		{[]string{"a", "b"}, `{"a","b"}`},
		{[]string{`say "hi"`}, `{"say \"hi\""}`},
	}
	for _, tt := range tests {
		if got := formatTextArray(tt.in); got != tt.want {
			t.Errorf("formatTextArray(%v) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
