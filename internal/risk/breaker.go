package risk

import "github.com/sirupsen/logrus"

// CheckCircuitBreaker engages the soft breaker once equity has fallen the
// configured fraction below the day start. While engaged it reports true
// without re-evaluating and clears on its own after the cooldown.
func (l *Ledger) CheckCircuitBreaker() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if now.Before(l.breakerUntil) {
		return true
	}
	if l.dayStartEquity <= 0 || l.cfg.BreakerDrawdown <= 0 {
		return false
	}
	change := (l.equity - l.dayStartEquity) / l.dayStartEquity
	if change > -l.cfg.BreakerDrawdown {
		return false
	}
	l.breakerUntil = now.Add(l.cfg.BreakerCooldown)
	l.logEntry().WithFields(logrus.Fields{
		"equity":    l.equity,
		"day_start": l.dayStartEquity,
		"until":     l.breakerUntil,
	}).Warn("circuit breaker engaged")
	return true
}

// CircuitBreakerActive reports the breaker state without evaluating it.
func (l *Ledger) CircuitBreakerActive() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.clock.Now().Before(l.breakerUntil)
}

// KillSwitchTriggered is sticky for the life of the ledger.
func (l *Ledger) KillSwitchTriggered() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.killed
}

// checkKill latches the kill switch on a drawdown from the day high.
// Caller holds mu.
func (l *Ledger) checkKill() {
	if l.killed || l.dayHighEquity <= 0 || l.cfg.KillDrawdown <= 0 {
		return
	}
	drawdown := (l.dayHighEquity - l.equity) / l.dayHighEquity
	if drawdown < l.cfg.KillDrawdown {
		return
	}
	l.killed = true
	l.logEntry().WithFields(logrus.Fields{
		"equity":   l.equity,
		"day_high": l.dayHighEquity,
		"drawdown": drawdown,
	}).Error("kill switch triggered, trading halted")
}

// GatingStatus is the state of both safety tiers.
type GatingStatus struct {
	CircuitBreaker bool `json:"circuit_breaker"`
	KillSwitch     bool `json:"kill_switch"`
}

func (l *Ledger) Gating() GatingStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return GatingStatus{
		CircuitBreaker: l.clock.Now().Before(l.breakerUntil),
		KillSwitch:     l.killed,
	}
}
