// Package feed builds the Nostalgia Feed: an endless, de-duplicated,
// per-session stream of resurfaced photos.
//
// A request loads the (user, mode) session, resolves the seed, generates
// mode-specific candidates, scores them, diversifies the top of the pool
// with MMR, and persists the newly shown IDs back onto the session. The
// cursor only sequences requests; de-duplication lives in the session.
package feed

// Mode selects the candidate strategy.
type Mode string

const (
	ModeNostalgia    Mode = "nostalgia"
	ModeOnThisDay    Mode = "on_this_day"
	ModeDeepDiveYear Mode = "deep_dive_year"
	ModeSerendipity  Mode = "serendipity"
)

// Modes lists every supported mode.
var Modes = []Mode{ModeNostalgia, ModeOnThisDay, ModeDeepDiveYear, ModeSerendipity}

// Valid reports whether m is a supported mode.
func (m Mode) Valid() bool {
	for _, v := range Modes {
		if m == v {
			return true
		}
	}
	return false
}
