package strategies

import (
	"context"
	"time"
)

// Result is one strategy's tally for a single recovery pass. Counters
// carries strategy-specific counts (orphaned jobs, stuck deploying, ...)
// for the orchestrator's summary log. Never persisted.
type Result struct {
	Recovered int
	Failed    int
	Counters  map[string]int
}

func (r *Result) Count(name string) {
	if r.Counters == nil {
		r.Counters = map[string]int{}
	}
	r.Counters[name]++
}

func (r *Result) Merge(other Result) {
	r.Recovered += other.Recovered
	r.Failed += other.Failed
	for name, n := range other.Counters {
		if r.Counters == nil {
			r.Counters = map[string]int{}
		}
		r.Counters[name] += n
	}
}

// Strategy is one independently pluggable recovery unit. Recover must be
// idempotent: re-running it against unchanged state produces no new side
// effects. A strategy whose platform client is not configured returns a
// zero Result.
type Strategy interface {
	Name() string
	Recover(ctx context.Context) (Result, error)
}

// Tunables are the shared recovery thresholds. One authoritative value
// per concern; all env-configurable at the app layer.
type Tunables struct {
	// DeployingTimeout is how long a bot may sit in DEPLOYING before it
	// is considered stuck.
	DeployingTimeout time.Duration
	// HeartbeatFreshness is the window inside which a heartbeat proves
	// the bot process is alive, overriding any stored status.
	HeartbeatFreshness time.Duration
	// MaxRecoveryAttempts bounds slot repair retries before give-up.
	MaxRecoveryAttempts int
	// MaxSkippedRecoveries bounds how often a live heartbeat may defer a
	// slot repair before the slot status is force-corrected to HEALTHY.
	MaxSkippedRecoveries int
}

func DefaultTunables() Tunables {
	return Tunables{
		DeployingTimeout:     15 * time.Minute,
		HeartbeatFreshness:   5 * time.Minute,
		MaxRecoveryAttempts:  3,
		MaxSkippedRecoveries: 3,
	}
}
