// Package wakelock is a small actor that arbitrates keep-awake votes across
// internal modules and drives a single external acquire/release edge to the
// host notification bridge.
//
// The teacher has no direct analogue for an actor with a command channel;
// the closest shape in the pack is sibench's Foreman, which owns a
// statControlChannel/statResponseChannel pair so callers never touch its
// internal counters directly (foreman.go). We follow the same discipline
// here: Module is an enum of well-known voters (spec §9 "No globals" /
// "Wakelock as a small actor"), and the counters live only inside the
// actor's own goroutine.
package wakelock

import (
	"context"
	"fmt"
)

// Module identifies a well-known wakelock voter. Kept closed and total per
// spec §9.
type Module int

const (
	ModuleWatchdogPing Module = iota
	ModuleWatchdogRequest
	ModuleCLA
	ModuleCTRL
	ModuleBootWindow
	moduleCount
)

func (m Module) String() string {
	switch m {
	case ModuleWatchdogPing:
		return "watchdog-ping"
	case ModuleWatchdogRequest:
		return "watchdog-request"
	case ModuleCLA:
		return "cla"
	case ModuleCTRL:
		return "ctrl"
	case ModuleBootWindow:
		return "boot-window"
	default:
		return "unknown"
	}
}

// EdgeNotifier is told about 0<->1 aggregate-held transitions. In the
// daemon this is internal/bridge.Client.SetWakelockDesired; tests use a
// fake.
type EdgeNotifier interface {
	SetWakelockDesired(held bool)
}

type command struct {
	op     opKind
	module Module
	reply  chan response
}

type opKind int

const (
	opAcquire opKind = iota
	opRelease
	opIsHeldBy
	opIsHeld
)

type response struct {
	held bool
}

// Arbiter is the wakelock actor. Zero value is not usable; construct with
// New.
type Arbiter struct {
	notifier EdgeNotifier
	cmds     chan command
	counts   [moduleCount]uint
	done     chan struct{}
}

// New creates an Arbiter without starting it: New only allocates state,
// and the caller starts serving by running Run as a goroutine, mirroring
// how the teacher separates construction of a Foreman from the call that
// starts its event loop (StartForeman).
func New(notifier EdgeNotifier) *Arbiter {
	return &Arbiter{
		notifier: notifier,
		cmds:     make(chan command, 16),
		done:     make(chan struct{}),
	}
}

// Run is the actor's event loop. It must be run as a goroutine and only
// returns when ctx is cancelled.
func (a *Arbiter) Run(ctx context.Context) {
	defer close(a.done)
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-a.cmds:
			a.handle(cmd)
		}
	}
}

func (a *Arbiter) handle(cmd command) {
	before := a.aggregateHeld()

	switch cmd.op {
	case opAcquire:
		a.counts[cmd.module]++
	case opRelease:
		if a.counts[cmd.module] > 0 {
			a.counts[cmd.module]--
		}
	case opIsHeldBy:
		cmd.reply <- response{held: a.counts[cmd.module] > 0}
		return
	case opIsHeld:
		cmd.reply <- response{held: a.aggregateHeld()}
		return
	}

	after := a.aggregateHeld()
	if before != after && a.notifier != nil {
		// External acquire/release is idempotent per edge: we only
		// notify on an actual 0<->1 flip, never on every vote.
		a.notifier.SetWakelockDesired(after)
	}

	if cmd.reply != nil {
		cmd.reply <- response{held: after}
	}
}

func (a *Arbiter) aggregateHeld() bool {
	for _, c := range a.counts {
		if c > 0 {
			return true
		}
	}
	return false
}

func (a *Arbiter) send(ctx context.Context, cmd command) error {
	select {
	case a.cmds <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-a.done:
		return fmt.Errorf("wakelock: arbiter stopped")
	}
}

// Acquire casts module's vote.
func (a *Arbiter) Acquire(ctx context.Context, module Module) error {
	return a.send(ctx, command{op: opAcquire, module: module})
}

// Release withdraws module's vote. Releasing a module that holds no vote is
// a no-op, mirroring the original's release-without-acquire protocol
// violation being caught one layer up (bridge peer disconnect implies
// release, §4.2).
func (a *Arbiter) Release(ctx context.Context, module Module) error {
	return a.send(ctx, command{op: opRelease, module: module})
}

// IsHeldBy reports whether module currently holds a vote.
func (a *Arbiter) IsHeldBy(ctx context.Context, module Module) (bool, error) {
	reply := make(chan response, 1)
	if err := a.send(ctx, command{op: opIsHeldBy, module: module, reply: reply}); err != nil {
		return false, err
	}
	select {
	case r := <-reply:
		return r.held, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// IsHeld reports whether any module currently holds a vote.
func (a *Arbiter) IsHeld(ctx context.Context) (bool, error) {
	reply := make(chan response, 1)
	if err := a.send(ctx, command{op: opIsHeld, reply: reply}); err != nil {
		return false, err
	}
	select {
	case r := <-reply:
		return r.held, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}
