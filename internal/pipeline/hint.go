package pipeline

import (
	"strings"
	"time"

	"github.com/fpang/photo-intelligence/internal/photo"
)

// MaxTags caps the tag set stored on a photo.
const MaxTags = 24

// BuildHint joins the photo's non-empty descriptive fields with spaces:
// filename, takenAt (RFC3339), location name, camera model.
func BuildHint(p *photo.Photo) string {
	parts := make([]string, 0, 4)
	if s := strings.TrimSpace(p.Filename); s != "" {
		parts = append(parts, s)
	}
	if p.TakenAt != nil {
		parts = append(parts, p.TakenAt.UTC().Format(time.RFC3339))
	}
	if s := strings.TrimSpace(p.LocationName); s != "" {
		parts = append(parts, s)
	}
	if s := strings.TrimSpace(p.CameraModel); s != "" {
		parts = append(parts, s)
	}
	return strings.Join(parts, " ")
}

// NormalizeTags lowercases and trims each tag, drops empties and
// duplicates (first occurrence wins), and caps the result at MaxTags.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
		if len(out) == MaxTags {
			break
		}
	}
	return out
}
