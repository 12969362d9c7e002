package storage

import (
	"sync"
	"time"
)

// CheckPoint is a single completed check.
type CheckPoint struct {
	Time      int64  `json:"t"`
	Status    string `json:"status"`
	Errored   bool   `json:"errored,omitempty"`
	LatencyMs int    `json:"latency_ms"`
	Reason    string `json:"reason,omitempty"`
}

// Summary aggregates the retained points of one subscriber.
type Summary struct {
	Checks         int        `json:"checks"`
	Errors         int        `json:"errors"`
	AvailableRatio float64    `json:"available_ratio"` // percent over non-errored checks
	AvgLatencyMs   int        `json:"avg_latency_ms"`
	LastCheckTime  int64      `json:"last_check_time"`
	Last           CheckPoint `json:"last"`
}

// History keeps a bounded ring of recent checks per subscriber. It lives in
// memory only: a subscriber's points are dropped when their monitor stops and
// nothing survives a restart.
type History struct {
	mu        sync.RWMutex
	points    map[string][]CheckPoint
	maxPoints int
}

// NewHistory creates an empty history keeping up to maxPoints per subscriber.
func NewHistory(maxPoints int) *History {
	if maxPoints <= 0 {
		maxPoints = 1
	}
	return &History{
		points:    make(map[string][]CheckPoint),
		maxPoints: maxPoints,
	}
}

// Record appends a point for subscriberID, evicting the oldest beyond the cap.
func (h *History) Record(subscriberID string, p CheckPoint) {
	h.mu.Lock()
	defer h.mu.Unlock()

	pts := append(h.points[subscriberID], p)
	// Ring buffer: trim to max
	if len(pts) > h.maxPoints {
		excess := len(pts) - h.maxPoints
		pts = append([]CheckPoint(nil), pts[excess:]...)
	}
	h.points[subscriberID] = pts
}

// Recent returns up to n of the most recent points, oldest first. n <= 0
// returns everything retained.
func (h *History) Recent(subscriberID string, n int) []CheckPoint {
	h.mu.RLock()
	defer h.mu.RUnlock()

	pts := h.points[subscriberID]
	if n > 0 && len(pts) > n {
		pts = pts[len(pts)-n:]
	}
	out := make([]CheckPoint, len(pts))
	copy(out, pts)
	return out
}

// Summarize aggregates recent points within window of now. A zero window
// covers every retained point. ok is false when there is nothing to report.
func (h *History) Summarize(subscriberID string, now time.Time, window time.Duration) (s Summary, ok bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	pts := h.points[subscriberID]
	if len(pts) == 0 {
		return Summary{}, false
	}

	cutoff := int64(0)
	if window > 0 {
		cutoff = now.Add(-window).Unix()
	}

	available, classified, latency := 0, 0, 0
	for _, p := range pts {
		if p.Time < cutoff {
			continue
		}
		s.Checks++
		latency += p.LatencyMs
		if p.Errored {
			s.Errors++
			continue
		}
		classified++
		if p.Status == "available" {
			available++
		}
	}
	if s.Checks == 0 {
		return Summary{}, false
	}

	s.AvgLatencyMs = latency / s.Checks
	if classified > 0 {
		s.AvailableRatio = float64(available) / float64(classified) * 100.0
	}
	s.Last = pts[len(pts)-1]
	s.LastCheckTime = s.Last.Time
	return s, true
}

// Forget drops all points of subscriberID.
func (h *History) Forget(subscriberID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.points, subscriberID)
}

// Len returns the number of subscribers with retained points.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.points)
}
