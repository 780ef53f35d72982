package feed

import (
	"context"
	"time"
)

// RecentWindow is how many recently shown photo IDs a session remembers.
const RecentWindow = 50

// SessionTTL is how long an idle session is kept.
const SessionTTL = 30 * 24 * time.Hour

// Session is the per (user, mode) continuity record.
type Session struct {
	UserID         string    `json:"userId"`
	Mode           Mode      `json:"mode"`
	Seed           string    `json:"seed"`
	RecentPhotoIDs []string  `json:"recentPhotoIds"`
	LastSeenAt     time.Time `json:"lastSeenAt"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// SessionStore persists feed sessions. Concurrent upserts for the same
// (user, mode) are last-writer-wins.
type SessionStore interface {
	// GetSession returns the session, or nil, nil if none exists.
	GetSession(ctx context.Context, userID string, mode Mode) (*Session, error)

	// UpsertSession writes the seed and recent IDs and refreshes lastSeenAt.
	// Implementations pass recentIDs through AppendRecent before storing.
	UpsertSession(ctx context.Context, userID string, mode Mode, seed string, recentIDs []string) error
}

// AppendRecent appends shown to existing, keeping each ID once at its most
// recent position, and truncates to the trailing window. The result is
// ordered oldest first.
func AppendRecent(existing, shown []string, window int) []string {
	if window <= 0 {
		return []string{}
	}
	combined := make([]string, 0, len(existing)+len(shown))
	combined = append(combined, existing...)
	combined = append(combined, shown...)

	// Walk backwards so the latest occurrence of each ID wins.
	seen := make(map[string]bool, len(combined))
	rev := make([]string, 0, window)
	for i := len(combined) - 1; i >= 0 && len(rev) < window; i-- {
		id := combined[i]
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		rev = append(rev, id)
	}

	out := make([]string, len(rev))
	for i, id := range rev {
		out[len(rev)-1-i] = id
	}
	return out
}
