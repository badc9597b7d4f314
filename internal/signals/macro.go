package signals

import (
	"context"
	"time"

	"atlasbot/internal/logger"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Advisor is the external macro view. Score must be in [-1, 1].
type Advisor interface {
	MacroBias(ctx context.Context) (score float64, headline string, err error)
}

type macroReading struct {
	score float64
	at    time.Time
}

const macroKey = "market"

// Macro caches the advisor reading for a TTL and degrades to neutral on any
// failure. The reading is market wide, so every symbol shares it.
type Macro struct {
	advisor Advisor
	enabled bool
	timeout time.Duration
	log     *logger.Logger

	cache *lru.LRU[string, macroReading]
	group singleflight.Group
}

func NewMacro(advisor Advisor, enabled bool, ttl, timeout time.Duration, log *logger.Logger) *Macro {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Macro{
		advisor: advisor,
		enabled: enabled && advisor != nil,
		timeout: timeout,
		log:     log,
		cache:   lru.NewLRU[string, macroReading](1, nil, ttl),
	}
}

func (m *Macro) logEntry() *logrus.Entry {
	return m.log.WithComponent("macro")
}

// Bias returns the cached score, refreshing it once the TTL has lapsed.
// Failures are cached as 0 too so a broken advisor is not hammered.
func (m *Macro) Bias(ctx context.Context, _ string) float64 {
	if !m.enabled {
		return 0
	}
	if r, ok := m.cache.Get(macroKey); ok {
		return r.score
	}

	v, _, _ := m.group.Do(macroKey, func() (any, error) {
		if r, ok := m.cache.Get(macroKey); ok {
			return r, nil
		}
		cctx, cancel := context.WithTimeout(ctx, m.timeout)
		defer cancel()

		score, headline, err := m.advisor.MacroBias(cctx)
		if err != nil {
			m.logEntry().WithError(err).Warn("macro advisor failed, using neutral bias")
			score, headline = 0, ""
		}
		r := macroReading{score: clamp(score, -1, 1), at: time.Now()}
		m.cache.Add(macroKey, r)
		if headline != "" {
			m.logEntry().WithFields(logrus.Fields{"score": r.score, "headline": headline}).Info("macro bias refreshed")
		}
		return r, nil
	})
	return v.(macroReading).score
}
