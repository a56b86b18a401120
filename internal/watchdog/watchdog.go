// Package watchdog supervises the CTRL event loop: it arms per-request
// deadline timers on behalf of callers, and independently keeps one ping
// outstanding at a time, sending the next ping as soon as the previous one
// is answered, fatally asserting if either a request deadline or a
// pong is missed (spec §4.8).
//
// Grounded on original_source/plugins/control/src/watchdog.c, which runs
// two independent timers (PING_IDX, REQ_IDX) on one poll loop and packs
// its IPC message as a single 64-bit word. We keep the packed-Word wire
// shape (see internal/ipc.Word) purely because spec.md calls it out by
// name as worth preserving, but the two timers themselves are ordinary
// Go timers driven from one goroutine's select, the way sibench's worker
// goroutines (worker.go) are driven from a single per-worker channel.
package watchdog

import (
	"context"
	"fmt"
	"time"

	"github.com/softiron/cmrmd/internal/ipc"
	"github.com/softiron/cmrmd/internal/logging"
	"github.com/softiron/cmrmd/internal/metrics"
	"github.com/softiron/cmrmd/internal/wakelock"
)

var log = logging.For("watchdog")

const (
	reqStart uint8 = iota
	reqStop
	reqPong
)

// MaxPingElapsed is added to the ping period to form the deadline for a
// PONG reply: a ping still unanswered after pingPeriod+MaxPingElapsed makes
// the watchdog fatally assert (spec §4.8).
const MaxPingElapsed = 10 * time.Second

// Pinger is the supervised consumer: the watchdog calls Ping(id) once when
// Run starts and again as soon as each matching Pong(id) arrives on the
// Watchdog; it does not wait a ping period between pings.
type Pinger interface {
	Ping(id int32)
}

// FatalFunc is invoked when a deadline is missed. In production this
// aborts the process (spec §4.8, §7 "Watchdog timeout: fatal"); tests
// supply a recording fake instead of crashing.
type FatalFunc func(reason string)

// Watchdog owns the two independent timers described in spec §4.8.
type Watchdog struct {
	pinger     Pinger
	lock       *wakelock.Arbiter
	fatal      FatalFunc
	pingPeriod time.Duration

	reqs chan ipc.Word

	nextPingID int32
}

// New creates a Watchdog. lock is the wakelock arbiter the watchdog casts
// its own votes against (spec §4.8 "Wakelock discipline").
func New(pinger Pinger, lock *wakelock.Arbiter, pingPeriod time.Duration, fatal FatalFunc) *Watchdog {
	return &Watchdog{
		pinger:     pinger,
		lock:       lock,
		fatal:      fatal,
		pingPeriod: pingPeriod,
		reqs:       make(chan ipc.Word, 8),
	}
}

// StartRequest arms a per-request deadline timer identified by id,
// overwriting any previously armed request timer (spec §4.8 "re-arming
// with a new id overwrites").
func (w *Watchdog) StartRequest(ctx context.Context, id int32, timeout time.Duration) error {
	word, err := ipc.PackWord(reqStart, id, uint32(timeout.Milliseconds()))
	if err != nil {
		return err
	}
	return w.send(ctx, word)
}

// StopRequest disarms the request timer if it is still armed for id.
func (w *Watchdog) StopRequest(ctx context.Context, id int32) error {
	word, err := ipc.PackWord(reqStop, id, 0)
	if err != nil {
		return err
	}
	return w.send(ctx, word)
}

// Pong answers an outstanding ping with the id the watchdog sent.
func (w *Watchdog) Pong(ctx context.Context, id int32) error {
	word, err := ipc.PackWord(reqPong, id, 0)
	if err != nil {
		return err
	}
	return w.send(ctx, word)
}

func (w *Watchdog) send(ctx context.Context, word ipc.Word) error {
	select {
	case w.reqs <- word:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run is the watchdog's loop. It must be run as a goroutine; it returns
// when ctx is cancelled.
func (w *Watchdog) Run(ctx context.Context) {
	reqTimer := newDeadline()
	pingTimer := newDeadline()

	// Arm the first ping immediately.
	w.sendPing(ctx, pingTimer)

	for {
		var reqC, pingC <-chan time.Time
		if reqTimer.armed {
			reqC = reqTimer.timer.C
		}
		if pingTimer.armed {
			pingC = pingTimer.timer.C
		}

		select {
		case <-ctx.Done():
			reqTimer.stop()
			pingTimer.stop()
			return

		case word := <-w.reqs:
			w.handle(ctx, word, reqTimer, pingTimer)

		case <-reqC:
			metrics.WatchdogAlive.Set(0)
			w.fatalf(ctx, "request %d missed its deadline", reqTimer.id)
			return

		case <-pingC:
			metrics.WatchdogAlive.Set(0)
			w.fatalf(ctx, "pong %d not received within %s", pingTimer.id, w.pingPeriod+MaxPingElapsed)
			return
		}
	}
}

func (w *Watchdog) handle(ctx context.Context, word ipc.Word, reqTimer, pingTimer *deadline) {
	request, id, timeoutMs := word.Unpack()
	switch request {
	case reqStart:
		if reqTimer.armed {
			reqTimer.stop()
		} else {
			_ = w.lock.Acquire(ctx, wakelock.ModuleWatchdogRequest)
		}
		reqTimer.arm(id, time.Duration(timeoutMs)*time.Millisecond)

	case reqStop:
		if reqTimer.armed && reqTimer.id == id {
			reqTimer.stop()
			_ = w.lock.Release(ctx, wakelock.ModuleWatchdogRequest)
		}

	case reqPong:
		if !pingTimer.waitingPong || pingTimer.id != id {
			log.Warn("unexpected pong", "id", id, "waiting_for", pingTimer.id)
			return
		}
		_ = w.lock.Release(ctx, wakelock.ModuleWatchdogPing)
		pingTimer.waitingPong = false
		metrics.WatchdogAlive.Set(1)
		w.sendPing(ctx, pingTimer)
	}
}

func (w *Watchdog) sendPing(ctx context.Context, pingTimer *deadline) {
	w.nextPingID++
	id := w.nextPingID
	_ = w.lock.Acquire(ctx, wakelock.ModuleWatchdogPing)
	pingTimer.arm(id, w.pingPeriod+MaxPingElapsed)
	pingTimer.waitingPong = true
	w.pinger.Ping(id)
}

func (w *Watchdog) fatalf(ctx context.Context, format string, args ...interface{}) {
	reason := fmt.Sprintf(format, args...)
	log.Error("watchdog fatal", "reason", reason)
	if w.fatal != nil {
		w.fatal(reason)
	}
}

// deadline wraps a time.Timer with the bookkeeping the two watchdog
// timers need (armed flag, owning id, pending-pong flag).
type deadline struct {
	timer        *time.Timer
	armed        bool
	id           int32
	waitingPong  bool
}

func newDeadline() *deadline {
	t := time.NewTimer(time.Hour)
	if !t.Stop() {
		<-t.C
	}
	return &deadline{timer: t}
}

func (d *deadline) arm(id int32, timeout time.Duration) {
	d.stop()
	d.id = id
	d.armed = true
	d.timer.Reset(timeout)
}

func (d *deadline) stop() {
	if d.armed {
		if !d.timer.Stop() {
			select {
			case <-d.timer.C:
			default:
			}
		}
		d.armed = false
		d.waitingPong = false
	}
}
