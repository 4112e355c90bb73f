package pipeline

import "time"

// Policy holds the gating parameters.
type Policy struct {
	Cooldown   time.Duration
	CadenceMin int
	CadenceMax int
}

// CooldownExpired reports whether enough time passed since the last reply.
// A channel that never got a reply has no cooldown.
func (p Policy) CooldownExpired(lastResponseAt, now time.Time) bool {
	if lastResponseAt.IsZero() {
		return true
	}
	return now.Sub(lastResponseAt) >= p.Cooldown
}

// DrawThreshold picks the cadence threshold uniformly in [CadenceMin, CadenceMax].
// It is drawn again on every evaluation.
func (p Policy) DrawThreshold(rnd Random) int {
	lo, hi := p.CadenceMin, p.CadenceMax
	if lo < 1 {
		lo = 1
	}
	if hi < lo {
		hi = lo
	}
	return lo + rnd.IntN(hi-lo+1)
}

// Decide combines the gates: an explicit address always wins, otherwise the
// cooldown must be over and the analyzer must agree.
func Decide(explicit, cooldownExpired, analyzerConfirms bool) bool {
	return explicit || (cooldownExpired && analyzerConfirms)
}
