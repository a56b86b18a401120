package escalation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	n int
}

func (m *memStore) GetRebootCounter() (int, error) { return m.n, nil }
func (m *memStore) SetRebootCounter(n int) error    { m.n = n; return nil }

func TestLadderSequence(t *testing.T) {
	// S2: warm=1, cold=2, reboot=2, timeout large enough not to fire.
	clock := time.Now()
	store := &memStore{}
	p := New(Config{WarmCount: 1, ColdCount: 2, RebootCount: 2, StabilityTimeout: 50 * time.Millisecond},
		store, func() time.Time { return clock })

	expected := []Step{StepColdReset, StepColdReset, StepColdReset, StepPlatformReboot, StepPlatformReboot, StepOOS}
	for i, want := range expected {
		got, err := p.NextStep()
		require.NoError(t, err)
		assert.Equal(t, want, got, "step %d", i)
		if i == 4 {
			assert.Equal(t, 2, store.n, "persisted reboot counter after 5th call")
		}
	}
}

func TestStabilityResetsLadder(t *testing.T) {
	clock := time.Now()
	store := &memStore{n: 5}
	p := New(Config{WarmCount: 1, ColdCount: 2, RebootCount: 2, StabilityTimeout: 50 * time.Millisecond},
		store, func() time.Time { return clock })

	step, err := p.NextStep()
	require.NoError(t, err)
	assert.Equal(t, StepColdReset, step)

	// Let the stability window elapse uninterrupted.
	clock = clock.Add(60 * time.Millisecond)

	step, err = p.NextStep()
	require.NoError(t, err)
	assert.Equal(t, StepColdReset, step, "ladder should reset to lowest level")
	assert.Equal(t, 0, store.n, "persisted counter resets with the ladder")
}

func TestDebugOverrideAlwaysReturnsColdReset(t *testing.T) {
	store := &memStore{}
	p := New(Config{WarmCount: 0, ColdCount: 0, RebootCount: 1, StabilityTimeout: time.Second}, store, nil)
	p.SetDebugOverride(true)
	for i := 0; i < 5; i++ {
		step, err := p.NextStep()
		require.NoError(t, err)
		assert.Equal(t, StepColdReset, step)
	}
}

func TestZeroWarmCountSkipsToCold(t *testing.T) {
	store := &memStore{}
	p := New(Config{WarmCount: 0, ColdCount: 1, RebootCount: 1, StabilityTimeout: time.Second}, store, nil)
	step, err := p.NextStep()
	require.NoError(t, err)
	assert.Equal(t, StepColdReset, step)
}

func TestLastStepForcesReboot(t *testing.T) {
	store := &memStore{}
	p := New(Config{WarmCount: 1, ColdCount: 1, RebootCount: 1, StabilityTimeout: time.Second}, store, nil)
	step, err := p.LastStep()
	require.NoError(t, err)
	assert.Equal(t, StepPlatformReboot, step)
	assert.Equal(t, 1, store.n)

	step, err = p.LastStep()
	require.NoError(t, err)
	assert.Equal(t, StepOOS, step, "second LastStep overflows reboot_count")
}

func TestOOSIsTerminalUntilExternallyReset(t *testing.T) {
	store := &memStore{n: 2}
	p := New(Config{WarmCount: 0, ColdCount: 0, RebootCount: 2, StabilityTimeout: time.Hour}, store, nil)
	p.cfgIdx = idxOOS
	p.deadlineValid = true
	p.deadline = p.now().Add(time.Hour)
	for i := 0; i < 3; i++ {
		step, err := p.NextStep()
		require.NoError(t, err)
		assert.Equal(t, StepOOS, step)
	}
}
