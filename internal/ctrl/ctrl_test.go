package ctrl

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/softiron/cmrmd/internal/escalation"
	"github.com/softiron/cmrmd/internal/hal"
	"github.com/softiron/cmrmd/internal/wakelock"
	"github.com/softiron/cmrmd/internal/wire"
)

type recordingNotifier struct {
	results []bool
	states  []RealState
	dbgs    []wire.DbgInfo
}

func (r *recordingNotifier) OperationResult(ok bool) { r.results = append(r.results, ok) }
func (r *recordingNotifier) NotifyModemState(s RealState) {
	r.states = append(r.states, s)
}
func (r *recordingNotifier) NotifyClient(d wire.DbgInfo) { r.dbgs = append(r.dbgs, d) }

type memCounter struct{ n int }

func (m *memCounter) GetRebootCounter() (int, error) { return m.n, nil }
func (m *memCounter) SetRebootCounter(n int) error    { m.n = n; return nil }

func newTestCtrl(t *testing.T, fwPath string, tlvs []string) (*Ctrl, *hal.Fake, *recordingNotifier) {
	c, f, notify, _ := newTestCtrlWithBridge(t, fwPath, tlvs)
	return c, f, notify
}

func newTestCtrlWithBridge(t *testing.T, fwPath string, tlvs []string) (*Ctrl, *hal.Fake, *recordingNotifier, *fakeBroadcaster) {
	return newTestCtrlWithEscalation(t, fwPath, tlvs, escalation.Config{
		WarmCount:        0,
		ColdCount:        2,
		RebootCount:      1,
		StabilityTimeout: time.Hour,
	})
}

func newTestCtrlWithEscalation(t *testing.T, fwPath string, tlvs []string, escCfg escalation.Config) (*Ctrl, *hal.Fake, *recordingNotifier, *fakeBroadcaster) {
	t.Helper()
	f := hal.NewFake()
	notify := &recordingNotifier{}
	bcast := &fakeBroadcaster{}
	esc := escalation.New(escCfg, &memCounter{}, time.Now)

	lock := wakelock.New(fakeEdgeNotifier{})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go lock.Run(ctx)

	c := New(f, f, f, f, esc, notify, lock, bcast, fwPath, tlvs)
	go c.Run(ctx)
	return c, f, notify, bcast
}

// fakeBroadcaster records intents broadcast to the host bridge. Broadcasts
// fire from their own goroutine (see Ctrl.broadcastIntent), so every
// access is guarded by a mutex.
type fakeBroadcaster struct {
	mu      sync.Mutex
	intents []string
}

func (b *fakeBroadcaster) SendBroadcastIntent(ctx context.Context, name string, params []wire.IntentParam) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.intents = append(b.intents, name)
	return nil
}

func (b *fakeBroadcaster) snapshot() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.intents))
	copy(out, b.intents)
	return out
}

func waitForIntent(t *testing.T, b *fakeBroadcaster, name string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, got := range b.snapshot() {
			if got == name {
				return
			}
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for broadcast intent %q, got %v", name, b.snapshot())
}

type fakeEdgeNotifier struct{}

func (fakeEdgeNotifier) SetWakelockDesired(held bool) {}

func waitForCtrlState(t *testing.T, c *Ctrl, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for ctrl state %s, currently %s", StateName(want), StateName(c.State()))
}

func TestBootHappyPathNoTlvs(t *testing.T) {
	c, f, notify := newTestCtrl(t, "/fw/image.bin", nil)
	ctx := context.Background()

	require.NoError(t, c.Start(ctx, nil))
	waitForCtrlState(t, c, StatePackaging)

	f.Emit(hal.Event{Kind: hal.EventMdmFlash, Nodes: []string{"node0"}})

	// HalMdmRun may race ahead of FwSuccess; either ordering must still
	// converge on Up once both signals have arrived.
	f.Emit(hal.Event{Kind: hal.EventMdmRun})
	waitForCtrlState(t, c, StateUp)

	assert.Contains(t, f.Calls, "package:/fw/image.bin")
	assert.Contains(t, f.Calls, "power_on")
	assert.Contains(t, f.Calls, "flash")
	assert.Contains(t, f.Calls, "boot")
	assert.Contains(t, notify.states, StateReady)
}

func TestBootWithTlvsGoesThroughCustomizing(t *testing.T) {
	c, f, notify := newTestCtrl(t, "/fw/image.bin", []string{"tlv-a"})
	ctx := context.Background()

	require.NoError(t, c.Start(ctx, nil))
	waitForCtrlState(t, c, StatePackaging)

	f.Emit(hal.Event{Kind: hal.EventMdmFlash, Nodes: []string{"node0"}})
	waitForCtrlState(t, c, StateFlashing)

	f.Emit(hal.Event{Kind: hal.EventMdmRun})
	waitForCtrlState(t, c, StateCustomizing)

	assert.Contains(t, f.Calls, "send")
	assert.NotContains(t, notify.states, StateReady, "must not report Ready until the post-TLV reboot completes")

	// Customization success reuses FwSuccess and re-enters Packaging to
	// reboot without TLVs.
	waitForCtrlState(t, c, StatePackaging)
}

func TestFlashFailureRoutesToFailsafe(t *testing.T) {
	c, f, notify := newTestCtrl(t, "/fw/image.bin", nil)
	ctx := context.Background()
	f.FlashErr = assert.AnError

	require.NoError(t, c.Start(ctx, nil))
	waitForCtrlState(t, c, StatePackaging)

	f.Emit(hal.Event{Kind: hal.EventMdmFlash, Nodes: []string{"node0"}})

	waitForCtrlState(t, c, StateDown)
	assert.Contains(t, f.Calls, "shutdown")
	assert.Contains(t, notify.results, false)
}

func TestClientResetConsultsEscalationToColdReset(t *testing.T) {
	c, f, _ := newTestCtrl(t, "/fw/image.bin", nil)
	ctx := context.Background()

	require.NoError(t, c.Start(ctx, nil))
	waitForCtrlState(t, c, StatePackaging)
	f.Emit(hal.Event{Kind: hal.EventMdmFlash, Nodes: nil})
	waitForCtrlState(t, c, StateFlashing)
	f.Emit(hal.Event{Kind: hal.EventMdmRun})
	waitForCtrlState(t, c, StateUp)

	require.NoError(t, c.Reset(ctx, wire.CauseMdmErr))
	waitForCtrlState(t, c, StatePackaging)
	assert.Contains(t, f.Calls, "reset:cold")
}

func TestNvmBackupResetsAndRepackages(t *testing.T) {
	c, f, _ := newTestCtrl(t, "/fw/image.bin", nil)
	ctx := context.Background()

	require.NoError(t, c.Start(ctx, nil))
	waitForCtrlState(t, c, StatePackaging)
	f.Emit(hal.Event{Kind: hal.EventMdmFlash, Nodes: nil})
	waitForCtrlState(t, c, StateFlashing)
	f.Emit(hal.Event{Kind: hal.EventMdmRun})
	waitForCtrlState(t, c, StateUp)

	require.NoError(t, c.NvmBackup(ctx))
	waitForCtrlState(t, c, StatePackaging)
	assert.Contains(t, f.Calls, "reset:backup-nvm")
}

func TestDumpThenReturnsToReady(t *testing.T) {
	c, f, notify := newTestCtrl(t, "/fw/image.bin", nil)
	ctx := context.Background()

	require.NoError(t, c.Start(ctx, nil))
	waitForCtrlState(t, c, StatePackaging)
	f.Emit(hal.Event{Kind: hal.EventMdmFlash, Nodes: nil})
	waitForCtrlState(t, c, StateFlashing)
	f.Emit(hal.Event{Kind: hal.EventMdmRun})
	waitForCtrlState(t, c, StateUp)

	f.Emit(hal.Event{Kind: hal.EventMdmDump, Nodes: []string{"node0"}})
	waitForCtrlState(t, c, StateDumping)
	assert.Contains(t, f.Calls, "dump_read")

	waitForCtrlState(t, c, StateUp)

	found := false
	for _, d := range notify.dbgs {
		if d.Kind == wire.DbgDumpStart {
			found = true
		}
	}
	assert.True(t, found)
}

func TestDumpBroadcastsWarningAndCompleteIntents(t *testing.T) {
	c, f, _, bcast := newTestCtrlWithBridge(t, "/fw/image.bin", nil)
	ctx := context.Background()

	require.NoError(t, c.Start(ctx, nil))
	waitForCtrlState(t, c, StatePackaging)
	f.Emit(hal.Event{Kind: hal.EventMdmFlash, Nodes: nil})
	waitForCtrlState(t, c, StateFlashing)
	f.Emit(hal.Event{Kind: hal.EventMdmRun})
	waitForCtrlState(t, c, StateUp)

	f.Emit(hal.Event{Kind: hal.EventMdmDump, Nodes: []string{"node0"}})
	waitForIntent(t, bcast, intentCoreDumpWarning)
	waitForCtrlState(t, c, StateUp)
	waitForIntent(t, bcast, intentCoreDumpComplete)
}

func TestEscalationOOSBroadcastsIntent(t *testing.T) {
	c, f, notify, bcast := newTestCtrlWithEscalation(t, "/fw/image.bin", nil, escalation.Config{
		StabilityTimeout: time.Hour,
	})
	ctx := context.Background()

	require.NoError(t, c.Start(ctx, nil))
	waitForCtrlState(t, c, StatePackaging)
	f.Emit(hal.Event{Kind: hal.EventMdmFlash, Nodes: nil})
	waitForCtrlState(t, c, StateFlashing)
	f.Emit(hal.Event{Kind: hal.EventMdmRun})
	waitForCtrlState(t, c, StateUp)

	require.NoError(t, c.Reset(ctx, wire.CauseMdmErr))
	waitForCtrlState(t, c, StateDown)
	assert.Contains(t, notify.states, StateUnresponsive)
	waitForIntent(t, bcast, intentOOS)
}

func TestEscalationPlatformRebootRetriesIntent(t *testing.T) {
	c, f, notify, bcast := newTestCtrlWithEscalation(t, "/fw/image.bin", nil, escalation.Config{
		RebootCount:      1,
		StabilityTimeout: time.Hour,
	})
	ctx := context.Background()

	require.NoError(t, c.Start(ctx, nil))
	waitForCtrlState(t, c, StatePackaging)
	f.Emit(hal.Event{Kind: hal.EventMdmFlash, Nodes: nil})
	waitForCtrlState(t, c, StateFlashing)
	f.Emit(hal.Event{Kind: hal.EventMdmRun})
	waitForCtrlState(t, c, StateUp)

	require.NoError(t, c.Reset(ctx, wire.CauseMdmErr))
	waitForCtrlState(t, c, StateDown)
	assert.Contains(t, notify.states, StatePlatformReboot)
	waitForIntent(t, bcast, intentPlatformReboot)
}

// TestHalBusyDefersClientResetUntilClear pins spec §4.6's pre-op rule: a
// client request arriving while waiting_hal_busy_reason is set must be
// deferred rather than dropped, and replayed once the next HAL event
// clears the flag (grounded on spec §8 S2's restart-ladder scenario).
func TestHalBusyDefersClientResetUntilClear(t *testing.T) {
	c, f, _ := newTestCtrl(t, "/fw/image.bin", nil)
	ctx := context.Background()

	require.NoError(t, c.Start(ctx, nil))
	waitForCtrlState(t, c, StatePackaging)
	f.Emit(hal.Event{Kind: hal.EventMdmFlash, Nodes: nil})
	waitForCtrlState(t, c, StateFlashing)
	f.Emit(hal.Event{Kind: hal.EventMdmRun})
	waitForCtrlState(t, c, StateUp)

	f.Emit(hal.Event{Kind: hal.EventMdmBusy})

	require.NoError(t, c.Reset(ctx, wire.CauseMdmErr))
	// Reset must not take effect yet: it was deferred behind the busy flag.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateUp, c.State())

	// The next HAL event clears the flag and replays the deferred reset.
	f.Emit(hal.Event{Kind: hal.EventMdmNeedReset})
	waitForCtrlState(t, c, StatePackaging)
	assert.Contains(t, f.Calls, "reset:cold")
}
