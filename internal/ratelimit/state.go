package ratelimit

import (
	"net/http"
	"strconv"
	"sync"
)

// Response headers carrying the remote quota telemetry.
const (
	HeaderWindowRemaining = "X-RateLimit-Remaining"
	HeaderDailyRemaining  = "X-RateLimit-Daily-Remaining"
	HeaderDailyLimit      = "X-RateLimit-Limit-Daily"
)

// State holds the most recently observed remote quota telemetry. The daily
// quota is never enforced locally; it is surfaced so operators can see how
// close a run is to exhausting it.
type State struct {
	mu              sync.Mutex
	windowRemaining int
	dailyRemaining  int
	dailyLimit      int
	seen            bool
}

// Snapshot is a read-only copy of State for status reporting.
type Snapshot struct {
	WindowRemaining int
	DailyRemaining  int
	DailyLimit      int
	Seen            bool
}

// Capture records the quota headers from a response. Missing or malformed
// headers leave the previous values in place.
func (s *State) Capture(h http.Header) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := headerInt(h, HeaderWindowRemaining); ok {
		s.windowRemaining = v
		s.seen = true
	}
	if v, ok := headerInt(h, HeaderDailyRemaining); ok {
		s.dailyRemaining = v
		s.seen = true
	}
	if v, ok := headerInt(h, HeaderDailyLimit); ok {
		s.dailyLimit = v
		s.seen = true
	}
}

// Snapshot returns the current telemetry.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		WindowRemaining: s.windowRemaining,
		DailyRemaining:  s.dailyRemaining,
		DailyLimit:      s.dailyLimit,
		Seen:            s.seen,
	}
}

func headerInt(h http.Header, key string) (int, bool) {
	raw := h.Get(key)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}
