package photo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // register the postgres dialect
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"

	"github.com/fpang/photo-intelligence/internal/jobutil"
)

// DefaultTable is the photos table name.
const DefaultTable = "photos"

// isoTimestamp renders a timestamptz column as RFC 3339 text so both
// executors return the same representation.
const isoTimestamp = `to_char(%s AT TIME ZONE 'UTC', 'YYYY-MM-DD"T"HH24:MI:SS.US"Z"')`

// Row is one result row keyed by column name.
type Row map[string]any

// Executor runs SQL produced by the query builder. Queries use positional
// $N placeholders.
type Executor interface {
	Query(ctx context.Context, query string, args ...any) ([]Row, error)
	Exec(ctx context.Context, query string, args ...any) (int64, error)
}

// PostgresStore implements Store over a Postgres photos table with a
// pgvector embedding column.
type PostgresStore struct {
	exec    Executor
	dialect goqu.DialectWrapper
	table   string
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a PostgresStore on the given executor.
// An empty table name selects DefaultTable.
func NewPostgresStore(exec Executor, table string) *PostgresStore {
	if table == "" {
		table = DefaultTable
	}
	return &PostgresStore{
		exec:    exec,
		dialect: goqu.Dialect("postgres"),
		table:   table,
	}
}

// --- Query builders ---

func (s *PostgresStore) selectPhotos() *goqu.SelectDataset {
	return s.dialect.From(s.table).Prepared(true).Select(
		"id", "user_id", "filename",
		goqu.L(fmt.Sprintf(isoTimestamp, "taken_at")).As("taken_at"),
		goqu.L(fmt.Sprintf(isoTimestamp, "uploaded_at")).As("uploaded_at"),
		"location_name", "camera_model", "is_favorite", "is_trashed",
		"detected_faces", "ai_quality_score", "analysis_asset_id",
		goqu.L("embedding::text").As("embedding"),
		"embedding_dim", "embedding_model", "caption_short", "caption_version",
		goqu.L("array_to_json(tags)::text").As("tags"),
		goqu.L(fmt.Sprintf(isoTimestamp, "ai_processed_at")).As("ai_processed_at"),
		"ai_processing_version",
	)
}

func (s *PostgresStore) getByIDQuery(photoID string) (string, []any, error) {
	return s.selectPhotos().
		Where(goqu.C("id").Eq(photoID), goqu.C("is_trashed").IsFalse()).
		Limit(1).
		ToSQL()
}

func (s *PostgresStore) listByDateQuery(userID string, start, end *time.Time) (string, []any, error) {
	conds := []exp.Expression{goqu.C("user_id").Eq(userID), goqu.C("is_trashed").IsFalse()}
	if start != nil || end != nil {
		conds = append(conds, goqu.C("taken_at").IsNotNull())
	}
	if start != nil {
		conds = append(conds, goqu.C("taken_at").Gte(start.UTC()))
	}
	if end != nil {
		conds = append(conds, goqu.C("taken_at").Lt(end.UTC()))
	}
	return s.selectPhotos().
		Where(conds...).
		Order(goqu.C("taken_at").Asc(), goqu.C("id").Asc()).
		ToSQL()
}

func (s *PostgresStore) listByUserQuery(userID string, limit int) (string, []any, error) {
	ds := s.selectPhotos().
		Where(goqu.C("user_id").Eq(userID), goqu.C("is_trashed").IsFalse()).
		Order(goqu.C("uploaded_at").Desc(), goqu.C("id").Asc())
	if limit > 0 {
		ds = ds.Limit(uint(limit))
	}
	return ds.ToSQL()
}

func (s *PostgresStore) updateAIAnalysisQuery(photoID string, a AIAnalysis) (string, []any, error) {
	vec := pgvector.NewVector(a.Embedding)
	return s.dialect.Update(s.table).Prepared(true).
		Set(goqu.Record{
			"embedding":             goqu.L("?::vector", vec.String()),
			"embedding_dim":         len(a.Embedding),
			"embedding_model":       a.EmbeddingModel,
			"caption_short":         a.CaptionShort,
			"caption_version":       a.CaptionVersion,
			"tags":                  goqu.L("?::text[]", formatTextArray(a.Tags)),
			"ai_processed_at":       goqu.L("?::timestamptz", a.ProcessedAt.UTC().Format(time.RFC3339Nano)),
			"ai_processing_version": a.ProcessingVersion,
		}).
		Where(goqu.C("id").Eq(photoID), goqu.C("is_trashed").IsFalse()).
		ToSQL()
}

// --- Store operations ---

func (s *PostgresStore) GetByID(ctx context.Context, photoID string) (*Photo, error) {
	query, args, err := s.getByIDQuery(photoID)
	if err != nil {
		return nil, fmt.Errorf("build get photo %s: %w", photoID, err)
	}
	photos, err := s.query(ctx, query, args)
	if err != nil {
		return nil, fmt.Errorf("get photo %s: %w", photoID, err)
	}
	if len(photos) == 0 {
		return nil, nil
	}
	return photos[0], nil
}

func (s *PostgresStore) ListByDate(ctx context.Context, userID string, start, end *time.Time) ([]*Photo, error) {
	query, args, err := s.listByDateQuery(userID, start, end)
	if err != nil {
		return nil, fmt.Errorf("build list by date: %w", err)
	}
	photos, err := s.query(ctx, query, args)
	if err != nil {
		return nil, fmt.Errorf("list photos by date for %s: %w", userID, err)
	}
	return photos, nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Photo, error) {
	query, args, err := s.listByUserQuery(userID, limit)
	if err != nil {
		return nil, fmt.Errorf("build list by user: %w", err)
	}
	photos, err := s.query(ctx, query, args)
	if err != nil {
		return nil, fmt.Errorf("list photos for %s: %w", userID, err)
	}
	return photos, nil
}

func (s *PostgresStore) UpdateAIAnalysis(ctx context.Context, photoID string, analysis AIAnalysis) error {
	if err := analysis.Validate(); err != nil {
		return fmt.Errorf("update AI analysis %s: %w", photoID, err)
	}
	query, args, err := s.updateAIAnalysisQuery(photoID, analysis)
	if err != nil {
		return fmt.Errorf("build AI analysis update: %w", err)
	}
	n, err := s.exec.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update AI analysis %s: %w", photoID, err)
	}
	if n == 0 {
		return fmt.Errorf("update AI analysis %s: %w", photoID, jobutil.ErrNotFound)
	}

	log.Debug().
		Str("photoId", photoID).
		Int("embeddingDim", len(analysis.Embedding)).
		Int("tags", len(analysis.Tags)).
		Msg("AI analysis persisted")
	return nil
}

func (s *PostgresStore) query(ctx context.Context, query string, args []any) ([]*Photo, error) {
	rows, err := s.exec.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	photos := make([]*Photo, 0, len(rows))
	for _, row := range rows {
		p, err := decodePhoto(row)
		if err != nil {
			log.Warn().Err(err).Interface("id", row["id"]).Msg("Skipping undecodable photo row")
			continue
		}
		photos = append(photos, p)
	}
	return photos, nil
}

// formatTextArray renders a Postgres text[] literal.
func formatTextArray(arr []string) string {
	if len(arr) == 0 {
		return "{}"
	}
	escaped := make([]string, len(arr))
	for i, s := range arr {
		escaped[i] = `"` + strings.ReplaceAll(strings.ReplaceAll(s, `\`, `\\`), `"`, `\"`) + `"`
	}
	return "{" + strings.Join(escaped, ",") + "}"
}
