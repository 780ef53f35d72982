package feed

import (
	"hash/fnv"
	"strconv"
)

// Rand is a small deterministic xorshift32 stream. It is not suitable for
// anything security related; it exists so a (seed, mode, cursor) triple
// always replays the same draws.
type Rand struct {
	state uint32
}

// NewRand seeds a stream from the FNV-1a hash of "seed:mode:cursor".
func NewRand(seed string, mode Mode, cursor int) *Rand {
	h := fnv.New32a()
	h.Write([]byte(seed + ":" + string(mode) + ":" + strconv.Itoa(cursor)))
	s := h.Sum32()
	if s == 0 {
		// xorshift never leaves the zero state.
		s = 0x9e3779b9
	}
	return &Rand{state: s}
}

// Uint32 returns the next raw draw.
func (r *Rand) Uint32() uint32 {
	x := r.state
	x ^= x << 13
	x ^= x >> 17
	x ^= x << 5
	r.state = x
	return x
}

// Float64 returns a draw in [0, 1).
func (r *Rand) Float64() float64 {
	return float64(r.Uint32()) / (1 << 32)
}

