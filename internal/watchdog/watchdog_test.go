package watchdog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/softiron/cmrmd/internal/wakelock"
)

type fakeEdgeNotifier struct{}

func (fakeEdgeNotifier) SetWakelockDesired(held bool) {}

type fakePinger struct {
	mu  sync.Mutex
	ids []int32
}

func (f *fakePinger) Ping(id int32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, id)
}

func (f *fakePinger) last() int32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.ids) == 0 {
		return 0
	}
	return f.ids[len(f.ids)-1]
}

func newFatalRecorder() (FatalFunc, <-chan string) {
	reasons := make(chan string, 1)
	return func(reason string) {
		select {
		case reasons <- reason:
		default:
		}
	}, reasons
}

func TestStopRequestBeforeDeadlineAvoidsFatal(t *testing.T) {
	pinger := &fakePinger{}
	lock := wakelock.New(fakeEdgeNotifier{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go lock.Run(ctx)

	fatal, reasons := newFatalRecorder()
	w := New(pinger, lock, time.Hour, fatal)
	go w.Run(ctx)

	require.NoError(t, w.StartRequest(ctx, 1, 50*time.Millisecond))
	require.NoError(t, w.StopRequest(ctx, 1))

	select {
	case reason := <-reasons:
		t.Fatalf("unexpected fatal: %s", reason)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestMissedRequestDeadlineIsFatal(t *testing.T) {
	pinger := &fakePinger{}
	lock := wakelock.New(fakeEdgeNotifier{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go lock.Run(ctx)

	fatal, reasons := newFatalRecorder()
	w := New(pinger, lock, time.Hour, fatal)
	go w.Run(ctx)

	require.NoError(t, w.StartRequest(ctx, 7, 30*time.Millisecond))

	select {
	case reason := <-reasons:
		assert.Contains(t, reason, "7")
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected fatal for missed request deadline")
	}
}

func TestRequestTimerRearmOverwritesPreviousID(t *testing.T) {
	pinger := &fakePinger{}
	lock := wakelock.New(fakeEdgeNotifier{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go lock.Run(ctx)

	fatal, reasons := newFatalRecorder()
	w := New(pinger, lock, time.Hour, fatal)
	go w.Run(ctx)

	require.NoError(t, w.StartRequest(ctx, 1, time.Hour))
	// Re-arming with a new id overwrites the old one (spec §4.8): stopping
	// the stale id 1 after this must not disarm the still-live timer for 2.
	require.NoError(t, w.StartRequest(ctx, 2, 30*time.Millisecond))
	require.NoError(t, w.StopRequest(ctx, 1))

	select {
	case reason := <-reasons:
		assert.Contains(t, reason, "2")
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected fatal for the still-armed request 2")
	}
}

func TestPongAnswersOutstandingPingWithoutFatal(t *testing.T) {
	pinger := &fakePinger{}
	lock := wakelock.New(fakeEdgeNotifier{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go lock.Run(ctx)

	fatal, reasons := newFatalRecorder()
	w := New(pinger, lock, time.Hour, fatal)
	go w.Run(ctx)

	require.Eventually(t, func() bool { return pinger.last() != 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, w.Pong(ctx, pinger.last()))

	select {
	case reason := <-reasons:
		t.Fatalf("unexpected fatal: %s", reason)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPongWithWrongIDIsIgnored(t *testing.T) {
	pinger := &fakePinger{}
	lock := wakelock.New(fakeEdgeNotifier{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go lock.Run(ctx)

	fatal, reasons := newFatalRecorder()
	w := New(pinger, lock, time.Hour, fatal)
	go w.Run(ctx)

	require.Eventually(t, func() bool { return pinger.last() != 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, w.Pong(ctx, pinger.last()+100))

	select {
	case reason := <-reasons:
		t.Fatalf("unexpected fatal: %s", reason)
	case <-time.After(100 * time.Millisecond):
	}

	held, err := lock.IsHeldBy(ctx, wakelock.ModuleWatchdogPing)
	require.NoError(t, err)
	assert.True(t, held, "ping vote must still be held: the mismatched pong did not answer it")
}
