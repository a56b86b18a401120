// Package escalation is the pure recovery-ladder policy CTRL consults
// whenever the modem misbehaves (spec §4.7).
//
// Grounded directly on
// original_source/plugins/escalation/src/escalation.c: the same
// level-skipping loop (go_next_step), the same "counter decrements at
// every level except the reboot level, where the persisted counter
// increments instead" rule (update_reboot_counter), and the same
// stability-timer reset of both the in-memory index and the persisted
// counter. Warm-reset is folded into the cold-reset level rather than
// kept as a separate step: spec.md's open question asks us to decide
// this explicitly (see DESIGN.md) since "warm reset" has no HAL
// implementation in this spec (§4.6 "not implemented... reserved").
package escalation

import (
	"time"
)

// Step is the next recovery action CTRL should take.
type Step int

const (
	StepColdReset Step = iota
	StepPlatformReboot
	StepOOS
)

func (s Step) String() string {
	switch s {
	case StepColdReset:
		return "cold-reset"
	case StepPlatformReboot:
		return "platform-reboot"
	case StepOOS:
		return "out-of-service"
	default:
		return "unknown"
	}
}

// level indices, mirroring IDX_WARM/IDX_COLD/IDX_REBOOT/IDX_OOS in the
// original. idxOOS is one past the configured counters.
const (
	idxWarm = iota
	idxCold
	idxReboot
	idxOOS
)

// Config is the ladder configuration (spec §6: escalation.warm_reset,
// escalation.cold_reset, escalation.reboot, escalation.timeout_ms).
type Config struct {
	WarmCount        int
	ColdCount        int
	RebootCount      int
	StabilityTimeout time.Duration
}

// RebootCounterStore persists the cross-restart reboot counter (spec §6
// "reboot_counter (int, zeroed on stability window, incremented per
// platform-reboot step)").
type RebootCounterStore interface {
	GetRebootCounter() (int, error)
	SetRebootCounter(n int) error
}

// Policy is one escalation ladder instance, owned by CTRL.
type Policy struct {
	cfg   [3]int // [idxWarm, idxCold, idxReboot]
	cfgIdx int
	counter int

	stability     time.Duration
	deadline      time.Time
	deadlineValid bool

	debugOverride bool
	store         RebootCounterStore

	now func() time.Time
}

// New builds a Policy. nowFunc defaults to time.Now; tests can override it
// to control the stability timer deterministically.
func New(cfg Config, store RebootCounterStore, nowFunc func() time.Time) *Policy {
	if nowFunc == nil {
		nowFunc = time.Now
	}
	return &Policy{
		cfg:       [3]int{cfg.WarmCount, cfg.ColdCount, cfg.RebootCount},
		stability: cfg.StabilityTimeout,
		store:     store,
		now:       nowFunc,
	}
}

// SetDebugOverride disables escalation and forces NextStep to always
// return StepColdReset (spec §4.7 "a debug override disables escalation").
func (p *Policy) SetDebugOverride(on bool) {
	p.debugOverride = on
}

func stepForIdx(idx int) Step {
	switch idx {
	case idxWarm, idxCold:
		return StepColdReset
	case idxReboot:
		return StepPlatformReboot
	default:
		return StepOOS
	}
}

// goNextStep advances cfgIdx past any level configured with a
// non-positive count, mirroring go_next_step in the original: a warm
// count of 0 skips straight to cold, etc. idxOOS is never skipped past.
func (p *Policy) goNextStep() {
	for {
		p.cfgIdx++
		if p.cfgIdx >= idxOOS {
			p.cfgIdx = idxOOS
			break
		}
		if p.cfg[p.cfgIdx] > 0 {
			break
		}
	}
	if p.cfgIdx != idxOOS {
		p.counter = p.cfg[p.cfgIdx]
	}
}

// updateRebootCounter increments the persisted reboot counter, or forces
// OOS once it reaches the configured reboot_count (spec §4.7 "the reboot
// counter is persisted across process restarts").
func (p *Policy) updateRebootCounter() error {
	n, err := p.store.GetRebootCounter()
	if err != nil {
		return err
	}
	if n >= p.cfg[idxReboot] {
		p.cfgIdx = idxOOS
		return nil
	}
	return p.store.SetRebootCounter(n + 1)
}

// NextStep is the pure-over-history policy call CTRL makes whenever it
// needs a recovery decision. Pure only with respect to its observable
// state; it still mutates the Policy's ladder index/counter and the
// persisted reboot counter, as the original does.
func (p *Policy) NextStep() (Step, error) {
	if p.debugOverride {
		return StepColdReset, nil
	}

	if p.cfgIdx != idxOOS {
		if !p.deadlineValid || !p.now().Before(p.deadline) {
			// Stability window elapsed since the last call: the modem
			// is deemed healthy again (spec invariant 6 / §4.7).
			p.cfgIdx = idxWarm
			p.counter = p.cfg[idxWarm]
			if err := p.store.SetRebootCounter(0); err != nil {
				return 0, err
			}
		}

		if p.counter <= 0 {
			p.goNextStep()
		}

		if p.cfgIdx != idxOOS {
			if p.cfgIdx != idxReboot {
				p.counter--
			} else if err := p.updateRebootCounter(); err != nil {
				return 0, err
			}
		}

		p.deadline = p.now().Add(p.stability)
		p.deadlineValid = true
	}

	return stepForIdx(p.cfgIdx), nil
}

// LastStep forces the level to platform-reboot, incrementing the
// persisted counter; once it overflows reboot_count it returns OOS
// instead (spec §4.7 "last_step() forces the level to PlatformReboot").
func (p *Policy) LastStep() (Step, error) {
	p.cfgIdx = idxReboot
	if err := p.updateRebootCounter(); err != nil {
		return 0, err
	}
	return stepForIdx(p.cfgIdx), nil
}
