// Package cla is the Client Abstraction state machine: it tracks every
// connected client, converts their acquire/release/restart intent into a
// single request stream for CTRL, and multiplexes modem-state events
// back out with ordering and filtering guarantees (spec §4.5).
//
// Grounded on sibench's Foreman (src/sibench/foreman.go) for the overall
// shape — one owning goroutine, a connection map, state-table dispatch —
// but Foreman only ever serves one TCP peer; CLA serves any number of
// clients (no client limit is enforced here), so the client map here plays the role Foreman's single
// tcpConnection field plays there. All public methods only enqueue a
// closure onto the owning goroutine's work channel (spec §4.5 "public
// entry points only enqueue"), the same discipline wakelock.Arbiter uses
// for its command channel.
package cla

import (
	"context"
	"time"

	"github.com/softiron/cmrmd/internal/ctrl"
	"github.com/softiron/cmrmd/internal/fsm"
	"github.com/softiron/cmrmd/internal/logging"
	"github.com/softiron/cmrmd/internal/metrics"
	"github.com/softiron/cmrmd/internal/wakelock"
	"github.com/softiron/cmrmd/internal/wire"
)

// States, per spec §4.5.
const (
	StateInitial = iota
	StateOff
	StateStarting
	StateUp
	StateAckWaitingCold
	StateAckWaitingShutdown
	StateStopping
	numStates
)

func StateName(s int) string {
	switch s {
	case StateInitial:
		return "Initial"
	case StateOff:
		return "Off"
	case StateStarting:
		return "Starting"
	case StateUp:
		return "Up"
	case StateAckWaitingCold:
		return "AckWaitingCold"
	case StateAckWaitingShutdown:
		return "AckWaitingShutdown"
	case StateStopping:
		return "Stopping"
	default:
		return "Unknown"
	}
}

// Events, per spec §4.5.
const (
	evSuccess = iota
	evFailure
	evMdmOff
	evMdmUnresp
	evMdmBusy
	evMdmReady
	evCliAcquire
	evCliRelease
	evCliRestart
	evCliAcked
)

// restartKind distinguishes what a pending disruptive request will do
// once the current disruption finishes (spec §3 "Pending-request record").
type restartKind int

const (
	restartNone restartKind = iota
	restartRestart
	restartUpdate
	restartBackupNvm
)

type pendingRequest struct {
	kind  restartKind
	cause wire.RestartCause
	dbg   *wire.DbgInfo
}

// Sender abstracts a single client connection so tests need not open
// real sockets.
type Sender interface {
	Send(f wire.Frame) error
	Close() error
}

type client struct {
	id                   uint64
	sender               Sender
	registered           bool
	wantsSanity          bool
	name                 string
	eventMask            uint32
	acquired             bool
	awaitingColdAck      bool
	awaitingShutdownAck  bool
}

func eventBit(k wire.EventKind) uint32 { return 1 << uint32(k-wire.KindMdmDown) }

// CtrlDriver is CTRL as seen from CLA (spec §4.5 "From CTRL"). ctrl.Ctrl
// satisfies this structurally.
type CtrlDriver interface {
	Start(ctx context.Context, payload interface{}) error
	Stop(ctx context.Context) error
	Reset(ctx context.Context, cause wire.RestartCause) error
	Update(ctx context.Context) error
	NvmBackup(ctx context.Context) error
}

// Cla is one instance of the client abstraction.
type Cla struct {
	m *fsm.Machine

	clients      map[uint64]*client
	nextClientID uint64

	numAcquired         int
	numAwaitingCold     int
	numAwaitingShutdown int

	ctrl CtrlDriver
	lock *wakelock.Arbiter

	sanityMode bool

	realState   ctrl.RealState
	lastEmitted wire.EventKind
	haveEmitted bool
	suppressOOS bool
	oosLatched  bool
	faking      bool
	rejectRequests bool

	pending pendingRequest

	ackTimeout time.Duration
	bootWindow time.Duration
	ackTimer   *time.Timer

	work chan func()

	log logging.Logger
}

// New builds a Cla. sanityMode selects which REGISTER kind this instance
// accepts (spec §4.5 "Registration rules").
func New(ctrlDriver CtrlDriver, lock *wakelock.Arbiter, ackTimeout, bootWindow time.Duration, sanityMode bool) *Cla {
	c := &Cla{
		clients:    map[uint64]*client{},
		ctrl:       ctrlDriver,
		lock:       lock,
		sanityMode: sanityMode,
		ackTimeout: ackTimeout,
		bootWindow: bootWindow,
		work:       make(chan func(), 32),
		log:        logging.For("cla"),
	}
	c.m = fsm.New("cla", numStates, StateInitial, c, fsm.Hooks{
		OnTransition: c.onTransition,
		Failsafe:     c.failsafe,
	})
	c.buildTable()
	return c
}

// SetCtrl wires the CTRL driver after construction, for callers that must
// build CLA and CTRL in sequence to satisfy their mutual reference (CLA
// needs a CtrlDriver, CTRL needs CLA as its Notifier).
func (c *Cla) SetCtrl(ctrlDriver CtrlDriver) { c.ctrl = ctrlDriver }

// PreAcquire registers one implicit holder on behalf of the daemon
// itself, for when cla.enable_fmmo is false (spec §6 "CLA treats the
// resource as pre-acquired by one implicit holder").
func (c *Cla) PreAcquire(ctx context.Context) error {
	return c.enqueue(ctx, func() {
		c.numAcquired++
		if c.numAcquired == 1 {
			c.fire(evCliAcquire, nil)
		}
	})
}

func (c *Cla) onTransition(ctxI interface{}, prev, next int, event int) {
	c.log.Debug("cla transition", "from", StateName(prev), "to", StateName(next))
	metrics.ClaState.Set(float64(next))
}

func (c *Cla) failsafe(ctxI interface{}, err error) fsm.Result {
	c.log.Error("cla failsafe", "err", err)
	return fsm.Goto(StateStopping)
}

// State reports the current CLA FSM state.
func (c *Cla) State() int { return c.m.State() }

// Run is CLA's event loop. It must be driven as a goroutine; it acquires
// the boot-window wakelock on entry and releases it after bootWindow
// elapses (spec §4.5 "boot_window (2000 ms) — holds an external wakelock
// at startup to allow clients to connect").
func (c *Cla) Run(ctx context.Context) {
	_ = c.lock.Acquire(ctx, wakelock.ModuleBootWindow)
	time.AfterFunc(c.bootWindow, func() {
		_ = c.lock.Release(context.Background(), wakelock.ModuleBootWindow)
	})

	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-c.work:
			fn()
		}
	}
}

func (c *Cla) enqueue(ctx context.Context, fn func()) error {
	select {
	case c.work <- fn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Cla) fire(event int, payload interface{}) {
	if err := c.m.Fire(event, payload); err != nil {
		c.log.Warn("cla event returned error", "err", err)
	}
}

// --- ctrl.Notifier implementation (called from CTRL's goroutine) ---

// OperationResult implements ctrl.Notifier.
func (c *Cla) OperationResult(ok bool) {
	_ = c.enqueue(context.Background(), func() {
		if ok {
			c.fire(evSuccess, nil)
		} else {
			c.fire(evFailure, nil)
		}
	})
}

// NotifyModemState implements ctrl.Notifier.
func (c *Cla) NotifyModemState(state ctrl.RealState) {
	_ = c.enqueue(context.Background(), func() { c.onModemState(state) })
}

// NotifyClient implements ctrl.Notifier: pass-through debug info, fanned
// out to every client registered for MDM_DBG_INFO.
func (c *Cla) NotifyClient(dbg wire.DbgInfo) {
	_ = c.enqueue(context.Background(), func() {
		c.broadcast(wire.KindMdmDbgInfo, &dbg)
	})
}

func (c *Cla) onModemState(state ctrl.RealState) {
	c.realState = state
	if state == ctrl.StatePlatformReboot {
		c.suppressOOS = true
		c.fire(evMdmUnresp, nil)
		return
	}
	switch state {
	case ctrl.StateOff:
		c.fire(evMdmOff, nil)
	case ctrl.StateBusy:
		c.fire(evMdmBusy, nil)
	case ctrl.StateReady:
		c.fire(evMdmReady, nil)
	case ctrl.StateUnresponsive:
		c.suppressOOS = false
		c.fire(evMdmUnresp, nil)
	}
}

// --- connection lifecycle ---

// Connect registers a new transport-level connection and returns its
// client id. The client remains unregistered (spec §3) until its first
// REGISTER/REGISTER_DBG frame arrives.
func (c *Cla) Connect(ctx context.Context, sender Sender) (uint64, error) {
	reply := make(chan uint64, 1)
	err := c.enqueue(ctx, func() {
		c.nextClientID++
		id := c.nextClientID
		c.clients[id] = &client{id: id, sender: sender}
		reply <- id
	})
	if err != nil {
		return 0, err
	}
	select {
	case id := <-reply:
		return id, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// HandleFrame processes one frame received from clientID.
func (c *Cla) HandleFrame(ctx context.Context, clientID uint64, f wire.Frame) error {
	return c.enqueue(ctx, func() { c.handleFrame(clientID, f) })
}

// Disconnect tears down clientID's bookkeeping (spec §4.5 "On disconnect").
func (c *Cla) Disconnect(ctx context.Context, clientID uint64) error {
	return c.enqueue(ctx, func() { c.doDisconnect(clientID) })
}

func (c *Cla) disconnectPeer(cl *client, reason string) {
	c.log.Warn("disconnecting peer", "client", cl.id, "reason", reason)
	_ = cl.sender.Close()
	c.doDisconnect(cl.id)
}

func (c *Cla) doDisconnect(id uint64) {
	cl, ok := c.clients[id]
	if !ok {
		return
	}
	delete(c.clients, id)

	if cl.acquired {
		c.numAcquired--
		if c.numAcquired == 0 && c.m.State() == StateUp {
			c.fire(evCliRelease, nil)
		}
	}
	if cl.awaitingColdAck {
		c.numAwaitingCold--
		if c.numAwaitingCold == 0 && c.m.State() == StateAckWaitingCold {
			c.stopAckTimer()
			c.fire(evCliAcked, nil)
		}
	}
	if cl.awaitingShutdownAck {
		c.numAwaitingShutdown--
		if c.numAwaitingShutdown == 0 && c.m.State() == StateAckWaitingShutdown {
			c.stopAckTimer()
			c.fire(evCliAcked, nil)
		}
	}
}

// --- frame dispatch ---

func (c *Cla) handleFrame(id uint64, f wire.Frame) {
	cl, ok := c.clients[id]
	if !ok {
		return
	}
	kind := wire.ClientKind(f.Kind)

	if !cl.registered {
		if kind != wire.KindRegister && kind != wire.KindRegisterDbg {
			c.disconnectPeer(cl, "command before register")
			return
		}
		wantsSanity := kind == wire.KindRegisterDbg
		if wantsSanity != c.sanityMode {
			c.disconnectPeer(cl, "wrong register kind for mode")
			return
		}
		name, mask, err := wire.DecodeRegister(f)
		if err != nil {
			c.disconnectPeer(cl, "bad register payload")
			return
		}
		cl.registered = true
		cl.wantsSanity = wantsSanity
		cl.name = name
		cl.eventMask = mask
		metrics.ClaClientCount.Set(float64(len(c.clients)))
		c.sendSnapshot(cl)
		return
	}

	if kind == wire.KindRegister || kind == wire.KindRegisterDbg {
		c.disconnectPeer(cl, "duplicate register")
		return
	}

	switch kind {
	case wire.KindAcquire:
		if c.rejectRequests {
			return
		}
		c.handleAcquire(cl)

	case wire.KindRelease:
		c.handleRelease(cl)

	case wire.KindShutdown:
		// A dedicated client-originated shutdown is treated the same as
		// that client releasing its own acquire: CLA only ever shuts
		// the modem down once the aggregate acquire count reaches zero.
		c.handleRelease(cl)

	case wire.KindRestart:
		cause, dbg, err := wire.DecodeRestart(f)
		if err != nil {
			c.disconnectPeer(cl, "bad restart payload")
			return
		}
		if c.m.State() != StateUp {
			c.log.Warn("restart requested outside Up", "client", id, "state", StateName(c.m.State()))
			return
		}
		k := restartRestart
		if cause == wire.CauseApplyUpdate {
			k = restartUpdate
		}
		c.pending = pendingRequest{kind: k, cause: cause, dbg: dbg}
		c.fire(evCliRestart, nil)

	case wire.KindNvmBackup:
		if c.m.State() != StateUp {
			return
		}
		_ = c.ctrl.NvmBackup(context.Background())

	case wire.KindAckColdReset:
		c.handleAckColdReset(cl)

	case wire.KindAckShutdown:
		c.handleAckShutdown(cl)

	case wire.KindNotifyDbg:
		dbg, err := wire.DecodeNotifyDbg(f)
		if err != nil {
			c.disconnectPeer(cl, "bad notify_dbg payload")
			return
		}
		c.broadcast(wire.KindMdmDbgInfo, &dbg)
	}
}

func (c *Cla) handleAcquire(cl *client) {
	if cl.acquired {
		return
	}
	cl.acquired = true
	c.numAcquired++
	if c.numAcquired == 1 {
		c.fire(evCliAcquire, nil)
	}
}

func (c *Cla) handleRelease(cl *client) {
	if !cl.acquired {
		return
	}
	cl.acquired = false
	c.numAcquired--
	if c.numAcquired == 0 {
		c.fire(evCliRelease, nil)
	}
}

func (c *Cla) handleAckColdReset(cl *client) {
	if !cl.awaitingColdAck {
		return
	}
	cl.awaitingColdAck = false
	c.numAwaitingCold--
	if c.numAwaitingCold == 0 {
		c.stopAckTimer()
		c.fire(evCliAcked, nil)
	}
}

func (c *Cla) handleAckShutdown(cl *client) {
	if !cl.awaitingShutdownAck {
		return
	}
	cl.awaitingShutdownAck = false
	c.numAwaitingShutdown--
	if c.numAwaitingShutdown == 0 {
		c.stopAckTimer()
		c.fire(evCliAcked, nil)
	}
}

// --- ack timer ---

func (c *Cla) armAckTimer() {
	c.ackTimer = time.AfterFunc(c.ackTimeout, func() {
		_ = c.enqueue(context.Background(), c.onAckTimeout)
	})
}

func (c *Cla) stopAckTimer() {
	if c.ackTimer != nil {
		c.ackTimer.Stop()
		c.ackTimer = nil
	}
}

func (c *Cla) onAckTimeout() {
	if c.m.State() != StateAckWaitingCold && c.m.State() != StateAckWaitingShutdown {
		return
	}
	c.log.Warn("ack timeout elapsed, proceeding as acked")
	for _, cl := range c.clients {
		if cl.awaitingColdAck {
			cl.awaitingColdAck = false
		}
		if cl.awaitingShutdownAck {
			cl.awaitingShutdownAck = false
		}
	}
	c.numAwaitingCold = 0
	c.numAwaitingShutdown = 0
	c.ackTimer = nil
	c.fire(evCliAcked, nil)
}

// --- client-facing event emission ---

func (c *Cla) mapPresented() (wire.EventKind, bool) {
	switch c.realState {
	case ctrl.StateOff, ctrl.StateBusy, ctrl.StateUnknown:
		return wire.KindMdmDown, true
	case ctrl.StateReady:
		return wire.KindMdmUp, true
	case ctrl.StateUnresponsive:
		return wire.KindMdmOos, true
	default:
		return 0, false
	}
}

// broadcastIfChanged emits the mapped state event only when it actually
// changes (spec §4.5 "Event visibility rules"), and latches MDM_OOS as
// terminal (spec invariant 3).
func (c *Cla) broadcastIfChanged() {
	if c.oosLatched {
		return
	}
	ev, ok := c.mapPresented()
	if !ok {
		return
	}
	if ev == wire.KindMdmOos && c.suppressOOS {
		return
	}
	if c.haveEmitted && ev == c.lastEmitted {
		return
	}
	if ev == wire.KindMdmOos {
		c.oosLatched = true
	}
	c.haveEmitted = true
	c.lastEmitted = ev
	c.broadcast(ev, nil)
}

func (c *Cla) emitDownIfNeeded() {
	if c.oosLatched || c.faking {
		return
	}
	if c.haveEmitted && c.lastEmitted == wire.KindMdmDown {
		return
	}
	c.haveEmitted = true
	c.lastEmitted = wire.KindMdmDown
	c.broadcast(wire.KindMdmDown, nil)
}

func (c *Cla) broadcast(ev wire.EventKind, dbg *wire.DbgInfo) {
	bit := eventBit(ev)
	for _, cl := range c.clients {
		if !cl.registered || cl.eventMask&bit == 0 {
			continue
		}
		c.sendEvent(cl, ev, dbg)
	}
}

func (c *Cla) sendEvent(cl *client, ev wire.EventKind, dbg *wire.DbgInfo) {
	var f wire.Frame
	var err error
	switch {
	case dbg != nil:
		f, err = wire.EncodeMdmDbgInfo(*dbg)
	default:
		f = wire.Frame{Kind: uint32(ev)}
	}
	if err != nil {
		c.log.Warn("encode event failed", "err", err)
		return
	}
	if err := cl.sender.Send(f); err != nil {
		c.log.Warn("send to client failed", "client", cl.id, "err", err)
	}
}

func (c *Cla) sendSnapshot(cl *client) {
	ev, ok := c.mapPresented()
	if !ok {
		return
	}
	if ev == wire.KindMdmOos && c.suppressOOS {
		ev = wire.KindMdmDown
	}
	if cl.eventMask&eventBit(ev) != 0 {
		c.sendEvent(cl, ev, nil)
	}
}

// beginAckRound emits MDM_DOWN (unless already presented or faking) then
// the disruptive event itself, arming awaiting-ack bookkeeping on every
// client registered for it. It reports whether any client is now
// outstanding.
func (c *Cla) beginAckRound(ev wire.EventKind) bool {
	c.emitDownIfNeeded()
	bit := eventBit(ev)
	any := false
	for _, cl := range c.clients {
		if !cl.registered || cl.eventMask&bit == 0 {
			continue
		}
		c.sendEvent(cl, ev, nil)
		if ev == wire.KindMdmColdReset {
			cl.awaitingColdAck = true
			c.numAwaitingCold++
		} else {
			cl.awaitingShutdownAck = true
			c.numAwaitingShutdown++
		}
		any = true
	}
	return any
}

// --- FSM table ---

func (c *Cla) buildTable() {
	m := c.m

	m.On(StateOff, evCliAcquire, fsm.Transition{ForcedNext: fsm.NoForce, Op: c.opCliAcquire})
	m.On(StateOff, evMdmUnresp, fsm.Transition{ForcedNext: fsm.NoForce, Op: c.opMdmUnresp})

	m.On(StateInitial, evCliAcquire, fsm.Transition{ForcedNext: fsm.NoForce, Op: c.opCliAcquire})
	m.On(StateInitial, evMdmOff, fsm.Transition{ForcedNext: fsm.NoForce, Op: c.opMdmOff})
	m.On(StateInitial, evMdmReady, fsm.Transition{ForcedNext: fsm.NoForce, Op: c.opMdmReady})

	m.On(StateStarting, evMdmReady, fsm.Transition{ForcedNext: fsm.NoForce, Op: c.opMdmReady})
	m.On(StateStarting, evCliAcquire, fsm.Transition{ForcedNext: fsm.NoForce, Op: c.opKeep})
	m.On(StateStarting, evCliRelease, fsm.Transition{ForcedNext: fsm.NoForce, Op: c.opKeep})
	m.On(StateStarting, evMdmUnresp, fsm.Transition{ForcedNext: fsm.NoForce, Op: c.opMdmUnresp})

	m.On(StateUp, evMdmBusy, fsm.Transition{ForcedNext: fsm.NoForce, Op: c.opMdmBusy})
	m.On(StateUp, evCliRelease, fsm.Transition{ForcedNext: fsm.NoForce, Op: c.opCliRelease})
	m.On(StateUp, evCliRestart, fsm.Transition{ForcedNext: fsm.NoForce, Op: c.opCliRestart})
	m.On(StateUp, evMdmUnresp, fsm.Transition{ForcedNext: fsm.NoForce, Op: c.opMdmUnresp})

	m.On(StateAckWaitingCold, evCliAcked, fsm.Transition{ForcedNext: fsm.NoForce, Op: c.opCliAckedCold})
	m.On(StateAckWaitingCold, evCliAcquire, fsm.Transition{ForcedNext: fsm.NoForce, Op: c.opKeep})
	m.On(StateAckWaitingCold, evCliRelease, fsm.Transition{ForcedNext: fsm.NoForce, Op: c.opKeep})
	m.On(StateAckWaitingCold, evMdmUnresp, fsm.Transition{ForcedNext: fsm.NoForce, Op: c.opMdmUnresp})

	m.On(StateAckWaitingShutdown, evCliAcked, fsm.Transition{ForcedNext: fsm.NoForce, Op: c.opCliAckedShutdown})
	m.On(StateAckWaitingShutdown, evCliAcquire, fsm.Transition{ForcedNext: fsm.NoForce, Op: c.opKeep})
	m.On(StateAckWaitingShutdown, evMdmUnresp, fsm.Transition{ForcedNext: fsm.NoForce, Op: c.opMdmUnresp})

	m.On(StateStopping, evMdmOff, fsm.Transition{ForcedNext: fsm.NoForce, Op: c.opMdmOff})
	m.On(StateStopping, evCliAcquire, fsm.Transition{ForcedNext: fsm.NoForce, Op: c.opKeep})
	m.On(StateStopping, evMdmUnresp, fsm.Transition{ForcedNext: fsm.NoForce, Op: c.opMdmUnresp})
}

func (c *Cla) opKeep(ctxI, payload interface{}) fsm.Result { return fsm.Keep() }

func (c *Cla) opCliAcquire(ctxI, payload interface{}) fsm.Result {
	_ = c.ctrl.Start(context.Background(), nil)
	return fsm.Goto(StateStarting)
}

func (c *Cla) opMdmOff(ctxI, payload interface{}) fsm.Result {
	c.broadcastIfChanged()
	if c.numAcquired > 0 {
		_ = c.ctrl.Start(context.Background(), nil)
		return fsm.Goto(StateStarting)
	}
	return fsm.Goto(StateOff)
}

func (c *Cla) opMdmReady(ctxI, payload interface{}) fsm.Result {
	if c.numAcquired == 0 {
		_ = c.ctrl.Stop(context.Background())
		return fsm.Goto(StateStopping)
	}
	if c.pending.kind != restartNone {
		kind := c.pending.kind
		cause := c.pending.cause
		c.pending = pendingRequest{}
		switch kind {
		case restartBackupNvm:
			_ = c.ctrl.NvmBackup(context.Background())
		case restartUpdate:
			_ = c.ctrl.Update(context.Background())
		default:
			_ = c.ctrl.Reset(context.Background(), cause)
		}
		return fsm.Goto(StateStarting)
	}
	c.broadcastIfChanged()
	return fsm.Goto(StateUp)
}

func (c *Cla) opMdmBusy(ctxI, payload interface{}) fsm.Result {
	c.pending = pendingRequest{kind: restartRestart, cause: wire.CauseMdmErr}
	if c.beginAckRound(wire.KindMdmColdReset) {
		c.armAckTimer()
		return fsm.Goto(StateAckWaitingCold)
	}
	_ = c.ctrl.Reset(context.Background(), wire.CauseMdmErr)
	return fsm.Goto(StateStarting)
}

func (c *Cla) opCliRestart(ctxI, payload interface{}) fsm.Result {
	if c.beginAckRound(wire.KindMdmColdReset) {
		c.armAckTimer()
		return fsm.Goto(StateAckWaitingCold)
	}
	_ = c.ctrl.Reset(context.Background(), c.pending.cause)
	return fsm.Goto(StateStarting)
}

func (c *Cla) opCliRelease(ctxI, payload interface{}) fsm.Result {
	if c.beginAckRound(wire.KindMdmShutdown) {
		c.armAckTimer()
		return fsm.Goto(StateAckWaitingShutdown)
	}
	_ = c.ctrl.Stop(context.Background())
	return fsm.Goto(StateStopping)
}

func (c *Cla) opCliAckedCold(ctxI, payload interface{}) fsm.Result {
	c.stopAckTimer()
	if c.numAcquired == 0 {
		_ = c.ctrl.Stop(context.Background())
		return fsm.Goto(StateStopping)
	}
	_ = c.ctrl.Reset(context.Background(), c.pending.cause)
	return fsm.Goto(StateStarting)
}

func (c *Cla) opCliAckedShutdown(ctxI, payload interface{}) fsm.Result {
	c.stopAckTimer()
	_ = c.ctrl.Stop(context.Background())
	return fsm.Goto(StateStopping)
}

func (c *Cla) opMdmUnresp(ctxI, payload interface{}) fsm.Result {
	c.rejectRequests = true
	c.broadcastIfChanged()
	c.suppressOOS = false
	return fsm.Keep()
}
