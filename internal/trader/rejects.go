package trader

import (
	"sort"
	"sync"
	"time"
)

const (
	FilterConflict = "conflict"
	FilterEdge     = "edge"
	FilterData     = "data"
	FilterSize     = "size"
	FilterRisk     = "risk"
	FilterExec     = "execution"
)

const rejectDepth = 100

// Reject is one skipped trade opportunity.
type Reject struct {
	Timestamp time.Time      `json:"ts"`
	Symbol    string         `json:"symbol"`
	Reason    string         `json:"reason"`
	EdgeBps   float64        `json:"edge_bps"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// Rejects keeps the newest rejects per filter.
type Rejects struct {
	mu    sync.Mutex
	depth int
	rings map[string][]Reject
	now   func() time.Time
}

func NewRejects() *Rejects {
	return &Rejects{depth: rejectDepth, rings: map[string][]Reject{}, now: time.Now}
}

// Record stores r under filter, evicting the oldest beyond the depth.
func (r *Rejects) Record(filter string, rej Reject) {
	if rej.Timestamp.IsZero() {
		rej.Timestamp = r.now().UTC()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ring := append(r.rings[filter], rej)
	if len(ring) > r.depth {
		ring = ring[len(ring)-r.depth:]
	}
	r.rings[filter] = ring
}

// Last returns up to n rejects for filter, newest first.
func (r *Rejects) Last(filter string, n int) []Reject {
	r.mu.Lock()
	defer r.mu.Unlock()
	ring := r.rings[filter]
	if n <= 0 || n > len(ring) {
		n = len(ring)
	}
	out := make([]Reject, 0, n)
	for i := len(ring) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, ring[i])
	}
	return out
}

// Counts is the number of retained rejects per filter.
func (r *Rejects) Counts() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int, len(r.rings))
	for name, ring := range r.rings {
		out[name] = len(ring)
	}
	return out
}

func (r *Rejects) Filters() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.rings))
	for name := range r.rings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
