package photo

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/pgvector/pgvector-go"
)

// decodePhoto maps a result row onto a Photo. Executors differ in how they
// surface numbers (int64 vs float64 vs string), so every helper accepts
// the handful of shapes lib/pq and the Data API produce.
func decodePhoto(row Row) (*Photo, error) {
	p := &Photo{
		ID:              asString(row["id"]),
		UserID:          asString(row["user_id"]),
		Filename:        asString(row["filename"]),
		LocationName:    asString(row["location_name"]),
		CameraModel:     asString(row["camera_model"]),
		IsFavorite:      asBool(row["is_favorite"]),
		IsTrashed:       asBool(row["is_trashed"]),
		DetectedFaces:   asInt(row["detected_faces"]),
		AnalysisAssetID: asString(row["analysis_asset_id"]),
		EmbeddingDim:    asInt(row["embedding_dim"]),
		EmbeddingModel:  asString(row["embedding_model"]),
		CaptionShort:    asString(row["caption_short"]),
		CaptionVersion:  asInt(row["caption_version"]),

		AIProcessingVersion: asInt(row["ai_processing_version"]),
	}
	if p.ID == "" {
		return nil, fmt.Errorf("row has no id")
	}

	var err error
	if p.TakenAt, err = asTime(row["taken_at"]); err != nil {
		return nil, fmt.Errorf("taken_at: %w", err)
	}
	uploaded, err := asTime(row["uploaded_at"])
	if err != nil {
		return nil, fmt.Errorf("uploaded_at: %w", err)
	}
	if uploaded != nil {
		p.UploadedAt = *uploaded
	}
	if p.AIProcessedAt, err = asTime(row["ai_processed_at"]); err != nil {
		return nil, fmt.Errorf("ai_processed_at: %w", err)
	}
	p.AIQualityScore = asFloatPtr(row["ai_quality_score"])

	if s := asString(row["embedding"]); s != "" {
		var vec pgvector.Vector
		if err := vec.Parse(s); err != nil {
			return nil, fmt.Errorf("embedding: %w", err)
		}
		p.Embedding = vec.Slice()
	}
	if s := asString(row["tags"]); s != "" {
		if err := json.Unmarshal([]byte(s), &p.Tags); err != nil {
			return nil, fmt.Errorf("tags: %w", err)
		}
	}
	return p, nil
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

func asBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, _ := strconv.ParseBool(t)
		return b
	case []byte:
		b, _ := strconv.ParseBool(string(t))
		return b
	}
	return false
}

func asInt(v any) int {
	switch t := v.(type) {
	case int64:
		return int(t)
	case int32:
		return int(t)
	case int:
		return t
	case float64:
		return int(t)
	case string:
		n, _ := strconv.Atoi(t)
		return n
	case []byte:
		n, _ := strconv.Atoi(string(t))
		return n
	}
	return 0
}

func asFloatPtr(v any) *float64 {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int64:
		f = float64(t)
	case string, []byte:
		parsed, err := strconv.ParseFloat(asString(t), 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	return &f
}

func asTime(v any) (*time.Time, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case time.Time:
		u := t.UTC()
		return &u, nil
	}
	s := asString(v)
	if s == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}
