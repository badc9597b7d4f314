package feed

import (
	"sync"
	"time"

	"atlasbot/internal/models"
)

// store is the shared price and bar state. Written by feed workers, read by
// everyone else.
type store struct {
	mu      sync.RWMutex
	prices  map[string]float64
	stamps  map[string]time.Time
	bars    map[string]*Ring
	builder *barBuilder
	last    time.Time
}

func newStore(symbols []string, history int, now time.Time) *store {
	s := &store{
		prices:  make(map[string]float64, len(symbols)),
		stamps:  make(map[string]time.Time, len(symbols)),
		bars:    make(map[string]*Ring, len(symbols)),
		builder: newBarBuilder(now),
	}
	for _, sym := range symbols {
		s.bars[sym] = NewRing(history)
	}
	return s
}

// tick records a live price and feeds the bar builder. Untracked symbols
// are ignored.
func (s *store) tick(symbol string, price float64, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bars[symbol]; !ok {
		return false
	}
	s.prices[symbol] = price
	s.stamps[symbol] = at
	s.last = at
	s.builder.add(symbol, price)
	return true
}

// warm loads history and sets an initial price if none exists yet.
func (s *store) warm(symbol string, bars []models.Bar, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ring, ok := s.bars[symbol]
	if !ok || len(bars) == 0 {
		return
	}
	for _, b := range bars {
		ring.Push(b)
	}
	if _, ok := s.prices[symbol]; !ok {
		s.prices[symbol] = bars[len(bars)-1].Close
		s.stamps[symbol] = at
	}
}

func (s *store) roll(now time.Time) map[string]models.Bar {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.builder.roll(now)
	for symbol, bar := range out {
		s.bars[symbol].Push(bar)
	}
	return out
}

func (s *store) price(symbol string) (float64, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prices[symbol]
	return p, s.stamps[symbol], ok
}

func (s *store) lastBars(symbol string, n int) []models.Bar {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ring, ok := s.bars[symbol]
	if !ok {
		return nil
	}
	return ring.Last(n)
}

func (s *store) barCount(symbol string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ring, ok := s.bars[symbol]; ok {
		return ring.Len()
	}
	return 0
}

// ready is true once every tracked symbol has a price.
func (s *store) ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.prices) == len(s.bars)
}

func (s *store) lastUpdate() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}
