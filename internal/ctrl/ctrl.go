// Package ctrl is the Control state machine: it drives the modem through
// its physical lifecycle (package -> flash -> customize -> run) and, on
// failure, consults the escalation policy for the next recovery step
// (spec §4.6).
//
// Grounded on sibench's Foreman: one owning goroutine, one event loop, a
// transition table keyed by (state, event), workers spawned per long
// operation and joined by sending their result back over a channel. Here
// the table itself is internal/fsm.Machine instead of Foreman's bare map,
// since CTRL's operations carry real side effects (HAL/upload/
// customization/dump/bridge-broadcast calls) rather than Foreman's pure
// state-to-state lookups. See DESIGN.md for the full grounding ledger.
package ctrl

import (
	"context"
	"fmt"
	"time"

	"github.com/softiron/cmrmd/internal/escalation"
	"github.com/softiron/cmrmd/internal/fsm"
	"github.com/softiron/cmrmd/internal/hal"
	"github.com/softiron/cmrmd/internal/logging"
	"github.com/softiron/cmrmd/internal/metrics"
	"github.com/softiron/cmrmd/internal/wakelock"
	"github.com/softiron/cmrmd/internal/wire"
)

// Intent names CTRL broadcasts to the host bridge (spec §4.6, §4.7).
const (
	intentPlatformReboot   = "com.softiron.cmrm.PLATFORM_REBOOT"
	intentOOS              = "com.softiron.cmrm.OOS"
	intentCoreDumpWarning  = "com.softiron.cmrm.CORE_DUMP_WARNING"
	intentCoreDumpComplete = "com.softiron.cmrm.CORE_DUMP_COMPLETE"
)

// rebootIntentRetryInterval paces the platform-reboot intent's retry loop
// (spec §4.7 "request host reboot intent in a retry loop").
const rebootIntentRetryInterval = 5 * time.Second

// States, per spec §4.6.
const (
	StateInitial = iota
	StateDown
	StatePackaging
	StateFlashing
	StateCustomizing
	StateUp
	StateWaiting
	StateDumping
	numStates
)

func StateName(s int) string {
	switch s {
	case StateInitial:
		return "Initial"
	case StateDown:
		return "Down"
	case StatePackaging:
		return "Packaging"
	case StateFlashing:
		return "Flashing"
	case StateCustomizing:
		return "Customizing"
	case StateUp:
		return "Up"
	case StateWaiting:
		return "Waiting"
	case StateDumping:
		return "Dumping"
	default:
		return "Unknown"
	}
}

// Events, per spec §4.6.
const (
	EvCliStart = iota
	EvCliStop
	EvCliReset
	EvCliUpdate
	EvCliNvmBackup
	EvHalMdmOff
	EvHalMdmRun
	EvHalMdmBusy
	EvHalMdmNeedReset
	EvHalMdmFlash
	EvHalMdmDump
	EvHalMdmUnresponsive
	EvNvmSuccess
	EvFwSuccess
	EvDumpSuccess
	EvFailure
	EvTimeout
)

// RealState is CTRL's view of the modem (spec §3 "Modem-state view").
type RealState int

const (
	StateUnknown RealState = iota
	StateOff
	StateBusy
	StateReady
	StateUnresponsive
	StatePlatformReboot
)

// Broadcaster is the host notification bridge, as seen from CTRL (spec
// §4.6/§4.7: the reboot-retry intent, the OOS intent, and the two dump
// intents). internal/bridge.Client satisfies this directly.
type Broadcaster interface {
	SendBroadcastIntent(ctx context.Context, name string, params []wire.IntentParam) error
}

// Notifier is CLA, as seen from CTRL: the three in-process IPC message
// kinds spec §4.5 describes, packed in the source into one 64-bit word
// and unpacked here into a plain interface (spec §9 "a native sum type
// with an optional owned payload is the clean replacement").
type Notifier interface {
	OperationResult(ok bool)
	NotifyModemState(state RealState)
	NotifyClient(dbg wire.DbgInfo)
}

// clientRequest is the deferred op CTRL remembers while busy (spec §3
// "Request in flight (CTRL)").
type clientRequest int

const (
	reqNone clientRequest = iota
	reqReset
	reqStop
	reqStart
)

type requestInFlight struct {
	clientRequest        clientRequest
	flashDone            bool
	runIPC               bool
	pendingHalEvent      *hal.Event
	waitingHalBusyReason bool
}

// Ctrl is one instance of the modem control loop.
type Ctrl struct {
	m *fsm.Machine

	hal    hal.Hal
	upload hal.FwUpload
	cust   hal.Customization
	dump   hal.Dump
	esc    *escalation.Policy
	notify Notifier
	lock   *wakelock.Arbiter
	bridge Broadcaster

	fwPath string
	tlvs   []string

	req   requestInFlight
	isOOS bool

	cliEvents chan fsmEvent
	halEvents <-chan hal.Event
	workerRes chan fsmEvent

	nextReqID int32

	// runCtx is the context Run was driven with, used to bound the
	// lifetime of background broadcast/retry goroutines to the daemon's
	// own lifetime rather than context.Background().
	runCtx context.Context

	// WatchdogHook, if set, is called with true when CTRL leaves a
	// stable state (arm the watchdog) and false when it enters one
	// (disarm) — spec §4.6 "State-exit hooks".
	WatchdogHook func(arm bool)

	log logging.Logger
}

type fsmEvent struct {
	event   int
	payload interface{}
}

// New builds a Ctrl. fwPath/tlvs are the firmware path and customization
// TLVs consulted during the boot sequence (spec §4.6 phase sequencing).
func New(h hal.Hal, upload hal.FwUpload, cust hal.Customization, dump hal.Dump, esc *escalation.Policy, notify Notifier, lock *wakelock.Arbiter, bridge Broadcaster, fwPath string, tlvs []string) *Ctrl {
	c := &Ctrl{
		hal:       h,
		upload:    upload,
		cust:      cust,
		dump:      dump,
		esc:       esc,
		notify:    notify,
		lock:      lock,
		bridge:    bridge,
		fwPath:    fwPath,
		tlvs:      tlvs,
		cliEvents: make(chan fsmEvent, 8),
		halEvents: h.Events(),
		workerRes: make(chan fsmEvent, 8),
		runCtx:    context.Background(),
		log:       logging.For("ctrl"),
	}
	c.m = fsm.New("ctrl", numStates, StateInitial, c, fsm.Hooks{
		OnTransition: c.onTransition,
		Failsafe:     c.failsafe,
	})
	c.buildTable()
	return c
}

// State reports the current CTRL FSM state (exported for metrics/tests).
func (c *Ctrl) State() int { return c.m.State() }

func (c *Ctrl) onTransition(ctxI interface{}, prev, next int, event int) {
	c.log.Debug("ctrl transition", "from", StateName(prev), "to", StateName(next))
	metrics.CtrlState.Set(float64(next))

	// Entering or leaving a stable state (Up/Down) arms/disarms the
	// watchdog request timer (spec §4.6 "State-exit hooks"). Wiring to a
	// concrete watchdog is done by the caller via WatchdogHook.
	if c.WatchdogHook != nil {
		stableEntry := next == StateUp || next == StateDown
		stableExit := prev == StateUp || prev == StateDown
		if stableEntry {
			c.WatchdogHook(false)
		} else if stableExit {
			c.WatchdogHook(true)
		}
	}
}

func (c *Ctrl) failsafe(ctxI interface{}, err error) fsm.Result {
	c.log.Error("ctrl failsafe", "err", err)
	c.notify.OperationResult(false)
	c.req = requestInFlight{}
	_ = c.hal.Shutdown(context.Background())
	return fsm.Goto(StateDown)
}

// Start enqueues a client-originated Start request (CLA's CliAcquire ->
// CTRL.start(), spec §4.5).
func (c *Ctrl) Start(ctx context.Context, payload interface{}) error {
	return c.send(ctx, EvCliStart, payload)
}

// Stop enqueues a client-originated shutdown.
func (c *Ctrl) Stop(ctx context.Context) error { return c.send(ctx, EvCliStop, nil) }

// Reset enqueues a client-originated reset/restart request.
func (c *Ctrl) Reset(ctx context.Context, cause wire.RestartCause) error {
	return c.send(ctx, EvCliReset, cause)
}

// Update enqueues a client-originated firmware-apply-update restart.
func (c *Ctrl) Update(ctx context.Context) error { return c.send(ctx, EvCliUpdate, nil) }

// NvmBackup enqueues a client-originated NVM backup request.
func (c *Ctrl) NvmBackup(ctx context.Context) error { return c.send(ctx, EvCliNvmBackup, nil) }

func (c *Ctrl) send(ctx context.Context, event int, payload interface{}) error {
	select {
	case c.cliEvents <- fsmEvent{event, payload}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run is CTRL's event loop; it must be driven as a goroutine (spec §5
// "two long-lived cooperative single-threaded event loops").
func (c *Ctrl) Run(ctx context.Context) {
	c.runCtx = ctx
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-c.cliEvents:
			c.fire(e.event, e.payload)
		case ev := <-c.halEvents:
			c.fire(halEventToCtrlEvent(ev.Kind), ev)
		case e := <-c.workerRes:
			c.fire(e.event, e.payload)
		}
	}
}

func halEventToCtrlEvent(k hal.EventKind) int {
	switch k {
	case hal.EventMdmOff:
		return EvHalMdmOff
	case hal.EventMdmRun:
		return EvHalMdmRun
	case hal.EventMdmBusy:
		return EvHalMdmBusy
	case hal.EventMdmNeedReset:
		return EvHalMdmNeedReset
	case hal.EventMdmFlash:
		return EvHalMdmFlash
	case hal.EventMdmDump:
		return EvHalMdmDump
	case hal.EventMdmUnresponsive:
		return EvHalMdmUnresponsive
	default:
		return EvFailure
	}
}

func (c *Ctrl) fire(event int, payload interface{}) {
	if err := c.m.Fire(event, payload); err != nil {
		c.log.Warn("ctrl event returned error", "err", err)
	}
}

func (c *Ctrl) asCtrl(ctxI interface{}) *Ctrl { return ctxI.(*Ctrl) }

// buildTable wires the (state, event) dispatch table (spec §4.6).
func (c *Ctrl) buildTable() {
	m := c.m

	m.On(StateInitial, EvHalMdmOff, fsm.Transition{ForcedNext: fsm.NoForce, Op: c.opEnterDown})
	m.On(StateInitial, EvCliStart, fsm.Transition{ForcedNext: fsm.NoForce, Op: c.opStart})
	m.On(StateDown, EvHalMdmOff, fsm.Transition{ForcedNext: fsm.NoForce, Op: c.opNoop})
	m.On(StateDown, EvCliStart, fsm.Transition{ForcedNext: fsm.NoForce, Op: c.opStart})

	m.On(StatePackaging, EvHalMdmFlash, fsm.Transition{ForcedNext: fsm.NoForce, Op: c.opToFlashing})

	m.On(StateFlashing, EvFwSuccess, fsm.Transition{ForcedNext: fsm.NoForce, Op: c.opFlashFwSuccess})
	m.On(StateFlashing, EvHalMdmRun, fsm.Transition{ForcedNext: fsm.NoForce, Op: c.opFlashRunEarly})

	m.On(StateWaiting, EvHalMdmRun, fsm.Transition{ForcedNext: fsm.NoForce, Op: c.opWaitingRun})

	m.On(StateCustomizing, EvFwSuccess, fsm.Transition{ForcedNext: fsm.NoForce, Op: c.opCustomizeDone})

	m.On(StateUp, EvCliStop, fsm.Transition{ForcedNext: fsm.NoForce, Op: c.opStop})
	m.On(StateUp, EvCliReset, fsm.Transition{ForcedNext: fsm.NoForce, Op: c.opClientReset})
	m.On(StateUp, EvHalMdmNeedReset, fsm.Transition{ForcedNext: fsm.NoForce, Op: c.opModemReset})
	m.On(StateUp, EvHalMdmUnresponsive, fsm.Transition{ForcedNext: fsm.NoForce, Op: c.opModemReset})
	m.On(StateUp, EvHalMdmBusy, fsm.Transition{ForcedNext: fsm.NoForce, Op: c.opHalBusy})
	m.On(StateUp, EvHalMdmDump, fsm.Transition{ForcedNext: fsm.NoForce, Op: c.opDumpStart})
	m.On(StateUp, EvCliNvmBackup, fsm.Transition{ForcedNext: fsm.NoForce, Op: c.opNvmBackup})
	m.On(StateUp, EvCliUpdate, fsm.Transition{ForcedNext: fsm.NoForce, Op: c.opClientUpdate})

	m.On(StateDumping, EvDumpSuccess, fsm.Transition{ForcedNext: fsm.NoForce, Op: c.opDumpSuccess})
	m.On(StateDumping, EvHalMdmBusy, fsm.Transition{ForcedNext: fsm.NoForce, Op: c.opDumpLinkError})

	for _, s := range []int{StatePackaging, StateFlashing, StateCustomizing, StateWaiting, StateDumping} {
		m.On(s, EvFailure, fsm.Transition{ForcedNext: fsm.NoForce, Op: c.opFail})
		m.On(s, EvTimeout, fsm.Transition{ForcedNext: fsm.NoForce, Op: c.opFail})
	}
}

func (c *Ctrl) opNoop(ctxI, payload interface{}) fsm.Result { return fsm.Keep() }

func (c *Ctrl) opFail(ctxI, payload interface{}) fsm.Result {
	return fsm.Fail(fmt.Errorf("ctrl: worker failure in state %s", StateName(c.State())))
}

func (c *Ctrl) opEnterDown(ctxI, payload interface{}) fsm.Result {
	c.notify.NotifyModemState(StateOff)
	return fsm.Goto(StateDown)
}

// opStart kicks off the happy-path boot sequence (spec §4.6 "Phase
// sequencing"): package(fw_path) and then power_on run one after the other
// on a short-lived worker goroutine (concurrently with the event loop, not
// with each other), joined by posting a failure back to
// the event loop (spec §5 "Sub-second worker threads...communicate
// strictly by message; they are joined on state exit").
func (c *Ctrl) opStart(ctxI, payload interface{}) fsm.Result {
	c.req = requestInFlight{clientRequest: reqStart}
	go c.runPackaging()
	return fsm.Goto(StatePackaging)
}

func (c *Ctrl) runPackaging() {
	ctx := context.Background()
	errPkg := c.upload.Package(ctx, c.fwPath)
	errPower := c.hal.PowerOn(ctx)
	if errPkg != nil || errPower != nil {
		c.workerRes <- fsmEvent{EvFailure, nil}
	}
	// HalMdmFlash arrives asynchronously from the HAL's own event stream
	// once power-on completes; packaging itself has no separate success
	// event distinct from that HAL notification.
}

func (c *Ctrl) opToFlashing(ctxI, payload interface{}) fsm.Result {
	ev, _ := payload.(hal.Event)
	go c.runFlash(ev.Nodes)
	return fsm.Goto(StateFlashing)
}

func (c *Ctrl) runFlash(nodes []string) {
	if err := c.upload.Flash(context.Background(), nodes); err != nil {
		c.workerRes <- fsmEvent{EvFailure, nil}
		return
	}
	c.workerRes <- fsmEvent{EvFwSuccess, nil}
}

func (c *Ctrl) opFlashFwSuccess(ctxI, payload interface{}) fsm.Result {
	c.req.flashDone = true
	_ = c.hal.Boot(context.Background())
	if c.req.runIPC {
		return c.afterBothFlashSignals()
	}
	return fsm.Goto(StateWaiting)
}

func (c *Ctrl) opFlashRunEarly(ctxI, payload interface{}) fsm.Result {
	c.req.runIPC = true
	return fsm.Keep()
}

func (c *Ctrl) opWaitingRun(ctxI, payload interface{}) fsm.Result {
	c.req.runIPC = true
	return c.afterBothFlashSignals()
}

// afterBothFlashSignals is the AND-gate spec §4.6 describes: both
// flash_done and run_ipc must be true before CTRL moves on, regardless
// of which arrived first.
func (c *Ctrl) afterBothFlashSignals() fsm.Result {
	if !c.req.flashDone || !c.req.runIPC {
		return fsm.Keep()
	}
	if len(c.tlvs) > 0 {
		res := fsmEvent{EvFwSuccess, nil}
		if err := c.cust.Send(context.Background(), c.tlvs); err != nil {
			res = fsmEvent{EvFailure, nil}
		}
		go func() { c.workerRes <- res }()
		return fsm.Goto(StateCustomizing)
	}
	c.notify.NotifyModemState(StateReady)
	c.req = requestInFlight{}
	return fsm.Goto(StateUp)
}

// opCustomizeDone handles the customization-success signal. Per spec §9
// design note, the source reuses FwSuccess (rather than a distinct
// CustoSuccess event) to reach this handler; we keep that wire-level
// reuse rather than inventing a new event, since nothing downstream
// needs to tell the two apart.
func (c *Ctrl) opCustomizeDone(ctxI, payload interface{}) fsm.Result {
	_ = c.hal.Reset(context.Background(), hal.ResetCold)
	c.tlvs = nil
	c.req = requestInFlight{clientRequest: reqStart}
	return fsm.Goto(StatePackaging)
}

func (c *Ctrl) opStop(ctxI, payload interface{}) fsm.Result {
	if c.deferIfBusy(reqStop) {
		return fsm.Keep()
	}
	_ = c.hal.Shutdown(context.Background())
	c.notify.NotifyModemState(StateOff)
	return fsm.Goto(StateDown)
}

// opHalBusy marks the busy window CTRL is now waiting out (spec §4.6
// "When an HalMdmBusy is received, set waiting_hal_busy_reason = true").
// It deliberately leaves any already-pending client_request untouched:
// that field belongs to whichever client request arrives next, deferred
// by deferIfBusy, and to the HAL event that eventually clears the flag.
func (c *Ctrl) opHalBusy(ctxI, payload interface{}) fsm.Result {
	c.req.waitingHalBusyReason = true
	return fsm.Keep()
}

// deferIfBusy stores req as the pending client_request instead of letting
// the caller act immediately, when a HalMdmBusy reason is still
// outstanding (spec §4.6 "Client requests arriving while the flag is set
// are accepted but deferred"). It reports whether the caller deferred.
func (c *Ctrl) deferIfBusy(req clientRequest) bool {
	if !c.req.waitingHalBusyReason {
		return false
	}
	c.req.clientRequest = req
	return true
}

// clearBusyReason clears waiting_hal_busy_reason on the next HAL event
// that resolves a busy window (spec §4.6 "the next HAL event... must
// arrive to clear it") and returns whatever client_request had been
// deferred while busy, if any.
func (c *Ctrl) clearBusyReason() clientRequest {
	c.req.waitingHalBusyReason = false
	return c.req.clientRequest
}

func (c *Ctrl) consultEscalation() fsm.Result {
	step, err := c.esc.NextStep()
	if err != nil {
		return fsm.Fail(err)
	}
	switch step {
	case escalation.StepColdReset:
		_ = c.hal.Reset(context.Background(), hal.ResetCold)
		c.req = requestInFlight{clientRequest: reqStart}
		return fsm.Goto(StatePackaging)

	case escalation.StepPlatformReboot:
		c.notify.NotifyClient(wire.DbgInfo{Kind: wire.DbgPlatformReboot})
		c.notify.NotifyModemState(StatePlatformReboot)
		c.retryBroadcastIntent(intentPlatformReboot, nil)
		return fsm.Goto(StateDown)

	default: // StepOOS
		c.isOOS = true
		c.notify.NotifyClient(wire.DbgInfo{Kind: wire.DbgPlatformReboot})
		c.notify.NotifyModemState(StateUnresponsive)
		c.broadcastIntent(intentOOS, nil)
		return fsm.Goto(StateDown)
	}
}

// broadcastIntent fires a one-shot host-bridge broadcast from its own
// goroutine: SendBroadcastIntent blocks waiting for an ack, and CTRL's
// ops run on its single event-loop goroutine, so broadcasting inline
// would stall Fire.
func (c *Ctrl) broadcastIntent(name string, params []wire.IntentParam) {
	if c.bridge == nil {
		return
	}
	go func() {
		if err := c.bridge.SendBroadcastIntent(c.runCtx, name, params); err != nil {
			c.log.Warn("broadcast intent failed", "intent", name, "err", err)
		}
	}()
}

// retryBroadcastIntent keeps requesting the platform-reboot intent until
// it is acked or CTRL is shut down (spec §4.7 "request host reboot intent
// in a retry loop").
func (c *Ctrl) retryBroadcastIntent(name string, params []wire.IntentParam) {
	if c.bridge == nil {
		return
	}
	go func() {
		for {
			if err := c.bridge.SendBroadcastIntent(c.runCtx, name, params); err == nil {
				return
			} else {
				c.log.Warn("reboot intent failed, retrying", "intent", name, "err", err)
			}
			select {
			case <-time.After(rebootIntentRetryInterval):
			case <-c.runCtx.Done():
				return
			}
		}
	}()
}

func (c *Ctrl) opClientReset(ctxI, payload interface{}) fsm.Result {
	if c.deferIfBusy(reqReset) {
		return fsm.Keep()
	}
	return c.consultEscalation()
}

func (c *Ctrl) opModemReset(ctxI, payload interface{}) fsm.Result {
	if deferred := c.clearBusyReason(); deferred != reqNone {
		return c.performDeferredOp()
	}
	return c.consultEscalation()
}

// opClientUpdate applies a client-requested firmware update: unlike
// opClientReset, this is deliberate (not a failure) so it bypasses the
// escalation ladder entirely and re-enters Packaging directly.
func (c *Ctrl) opClientUpdate(ctxI, payload interface{}) fsm.Result {
	_ = c.hal.Reset(context.Background(), hal.ResetCold)
	c.req = requestInFlight{clientRequest: reqStart}
	return fsm.Goto(StatePackaging)
}

func (c *Ctrl) opNvmBackup(ctxI, payload interface{}) fsm.Result {
	_ = c.hal.Reset(context.Background(), hal.ResetBackupNvm)
	c.req = requestInFlight{clientRequest: reqStart}
	return fsm.Goto(StatePackaging)
}

func (c *Ctrl) opDumpStart(ctxI, payload interface{}) fsm.Result {
	c.clearBusyReason()
	ev, _ := payload.(hal.Event)
	c.notify.NotifyClient(wire.DbgInfo{Kind: wire.DbgDumpStart})
	c.broadcastIntent(intentCoreDumpWarning, nil)
	go c.runDump(ev.Nodes)
	return fsm.Goto(StateDumping)
}

func (c *Ctrl) runDump(nodes []string) {
	if err := c.dump.Read(context.Background(), nodes, c.fwPath); err != nil {
		c.workerRes <- fsmEvent{EvFailure, nil}
		return
	}
	c.workerRes <- fsmEvent{EvDumpSuccess, nil}
}

func (c *Ctrl) opDumpSuccess(ctxI, payload interface{}) fsm.Result {
	c.notify.NotifyClient(wire.DbgInfo{Kind: wire.DbgDumpEnd})
	c.broadcastIntent(intentCoreDumpComplete, nil)
	return c.performDeferredOp()
}

func (c *Ctrl) opDumpLinkError(ctxI, payload interface{}) fsm.Result {
	_ = c.dump.Stop(context.Background())
	c.notify.NotifyClient(wire.DbgInfo{Kind: wire.DbgError, Data: []string{"dump link error"}})
	return c.performDeferredOp()
}

func (c *Ctrl) performDeferredOp() fsm.Result {
	switch c.req.clientRequest {
	case reqStop:
		_ = c.hal.Shutdown(context.Background())
		c.notify.NotifyModemState(StateOff)
		return fsm.Goto(StateDown)
	case reqReset:
		return c.consultEscalation()
	default:
		c.notify.NotifyModemState(StateReady)
		return fsm.Goto(StateUp)
	}
}
