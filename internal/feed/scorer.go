package feed

import (
	"fmt"
	"math"
	"time"

	"github.com/fpang/photo-intelligence/internal/photo"
)

// Scoring weights.
const (
	favoriteBoost   = 0.5
	coherenceWeight = 0.8
	maxTagBoost     = 0.4
	tagsForMaxBoost = 60
	maxFaceBoost    = 0.3
	perFaceBoost    = 0.15
	qualityBaseline = 0.5
	qualityWeight   = 0.4
)

const (
	daysPerYear   = 365.0
	hoursPerDay   = 24
	monthsPerYear = 12

	reasonFallback = "A moment worth revisiting"
)

// ScoreBreakdown is the per-factor contribution to an item's score.
// Coherence is the raw similarity; Total applies its weight.
type ScoreBreakdown struct {
	Nostalgia float64 `json:"nostalgia"`
	Favorite  float64 `json:"favorite"`
	Coherence float64 `json:"coherence"`
	Tags      float64 `json:"tags"`
	TimeOfDay float64 `json:"timeOfDay"`
	Seasonal  float64 `json:"seasonal"`
	Faces     float64 `json:"faces"`
	Quality   float64 `json:"quality"`
	Total     float64 `json:"total"`
}

// TopicVector is the elementwise mean of the given embeddings. Vectors whose
// dimension differs from the first non-empty one are skipped. It returns nil
// when there is nothing to average.
func TopicVector(embeddings [][]float32) []float32 {
	var sum []float64
	n := 0
	for _, e := range embeddings {
		if len(e) == 0 {
			continue
		}
		if sum == nil {
			sum = make([]float64, len(e))
		}
		if len(e) != len(sum) {
			continue
		}
		for i, v := range e {
			sum[i] += float64(v)
		}
		n++
	}
	if n == 0 {
		return nil
	}
	out := make([]float32, len(sum))
	for i, v := range sum {
		out[i] = float32(v / float64(n))
	}
	return out
}

// dot returns the dot product, or 0 when either vector is empty or the
// dimensions differ.
func dot(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

// Score computes the heuristic relevance of p at now. Any factor that
// cannot be computed contributes 0. Hours and months are compared in UTC.
func Score(p *photo.Photo, topic []float32, now time.Time) ScoreBreakdown {
	ts := p.Timestamp().UTC()
	now = now.UTC()
	ageDays := math.Max(0, now.Sub(ts).Hours()/hoursPerDay)

	var b ScoreBreakdown
	b.Nostalgia = finite(math.Log1p(ageDays / daysPerYear))
	if p.IsFavorite {
		b.Favorite = favoriteBoost
	}
	b.Coherence = finite(dot(topic, p.Embedding))
	b.Tags = math.Min(maxTagBoost, float64(len(p.Tags))/tagsForMaxBoost)
	b.TimeOfDay = timeOfDayBoost(circularDistance(ts.Hour(), now.Hour(), hoursPerDay))
	b.Seasonal = seasonalBoost(circularDistance(int(ts.Month()), int(now.Month()), monthsPerYear))
	if p.DetectedFaces > 0 {
		b.Faces = math.Min(maxFaceBoost, float64(p.DetectedFaces)*perFaceBoost)
	}
	if p.AIQualityScore != nil {
		b.Quality = finite((*p.AIQualityScore - qualityBaseline) * qualityWeight)
	}

	b.Total = b.Nostalgia + b.Favorite + coherenceWeight*b.Coherence + b.Tags +
		b.TimeOfDay + b.Seasonal + b.Faces + b.Quality
	return b
}

func timeOfDayBoost(hours int) float64 {
	switch {
	case hours <= 2:
		return 0.2
	case hours <= 4:
		return 0.1
	default:
		return 0
	}
}

func seasonalBoost(months int) float64 {
	switch {
	case months <= 1:
		return 0.25
	case months <= 2:
		return 0.1
	default:
		return 0
	}
}

// circularDistance is min(|a-b|, period-|a-b|).
func circularDistance(a, b, period int) int {
	d := a - b
	if d < 0 {
		d = -d
	}
	d %= period
	if period-d < d {
		return period - d
	}
	return d
}

func finite(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0
	}
	return x
}

// Reason explains why p appears in the mode's feed.
func Reason(mode Mode, p *photo.Photo, now time.Time) string {
	ts := p.Timestamp()
	switch mode {
	case ModeOnThisDay:
		return fmt.Sprintf("On this day in %d", ts.Year())
	case ModeDeepDiveYear:
		return fmt.Sprintf("From %d", ts.Year())
	default:
		if now.Sub(ts) >= daysPerYear*day {
			return fmt.Sprintf("From %d", ts.Year())
		}
		return reasonFallback
	}
}
