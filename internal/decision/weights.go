package decision

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Weights is the live weight vector, read on every decision and replaced by
// the reweighting job.
type Weights struct {
	mu sync.RWMutex
	w  map[string]float64
}

// NewWeights normalises initial onto the simplex. Negative entries become 0;
// an all-zero vector becomes uniform.
func NewWeights(initial map[string]float64) *Weights {
	return &Weights{w: normalise(initial)}
}

func (w *Weights) Snapshot() map[string]float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make(map[string]float64, len(w.w))
	for k, v := range w.w {
		out[k] = v
	}
	return out
}

func (w *Weights) Set(next map[string]float64) {
	n := normalise(next)
	w.mu.Lock()
	w.w = n
	w.mu.Unlock()
}

// Names are the signals carried by the vector, sorted.
func (w *Weights) Names() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	names := make([]string, 0, len(w.w))
	for k := range w.w {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func normalise(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	var sum float64
	for k, v := range in {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			v = 0
		}
		out[k] = v
		sum += v
	}
	if len(out) == 0 {
		return out
	}
	for k, v := range out {
		if sum == 0 {
			out[k] = 1 / float64(len(out))
		} else {
			out[k] = v / sum
		}
	}
	return out
}

// Snapshot is one persisted weight vector.
type Snapshot struct {
	Timestamp time.Time          `json:"ts"`
	Weights   map[string]float64 `json:"weights"`
	Samples   int                `json:"samples,omitempty"`
	Flagged   []string           `json:"flagged,omitempty"`
}

// WeightStore appends snapshots to a JSONL file.
type WeightStore struct {
	path string
	mu   sync.Mutex
}

func NewWeightStore(path string) *WeightStore {
	return &WeightStore{path: path}
}

func (s *WeightStore) Append(snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("weights dir: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open weights: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = f.Write(append(line, '\n'))
	return err
}

// Last returns the newest valid snapshot. A missing file is (nil, nil).
func (s *WeightStore) Last() (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var last *Snapshot
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		var snap Snapshot
		if err := json.Unmarshal(sc.Bytes(), &snap); err != nil || len(snap.Weights) == 0 {
			continue
		}
		last = &snap
	}
	return last, sc.Err()
}
