package task

import (
	"log/slog"
	"time"
)

// Pacing is the minimum delay observed after every call of a rate-limited
// step kind. Kinds without an entry are not paced.
type Pacing map[Kind]time.Duration

// DefaultPacing returns the delays the identity provider tolerates. Every
// kind that calls the identity gateway has an entry, and class membership
// writes made inside user steps wait the KindUpdateGroup delay.
func DefaultPacing() Pacing {
	return Pacing{
		KindUpdateGroup:      300 * time.Millisecond,
		KindCreateUser:       500 * time.Millisecond,
		KindUpdateUser:       300 * time.Millisecond,
		KindDeleteUser:       500 * time.Millisecond,
		KindResendInvitation: 500 * time.Millisecond,
	}
}

// Delay returns the delay for k, or zero.
func (p Pacing) Delay(k Kind) time.Duration {
	return p[k]
}

// pace blocks for the kind's delay. It is called after every attempt,
// including failed ones, and always waits out the full delay.
func (o *Orchestrator) pace(k Kind, logger *slog.Logger) {
	d := o.pacing.Delay(k)
	if d <= 0 {
		return
	}
	logger.Debug("pacing", "delay", d)
	timer := time.NewTimer(d)
	defer timer.Stop()
	<-timer.C
}
