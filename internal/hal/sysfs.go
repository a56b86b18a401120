package hal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Sysfs is the production Hal/FwUpload/Customization/Dump backend: it
// drives the modem through a directory of control nodes (power, boot,
// reset, modem_state) the way a real deployment's sysfs tree would
// expose them. Grounded on sibench's FileConnection (file_connection.go,
// file_connection_base.go) — the pack's only backend that talks to a
// local path rather than a network protocol, and the closest analogue to
// "write bytes to a control node, read a state file back".
//
// Per spec §12 ("Out of scope: hardware I/O primitives... consulted as
// black-box elector/upload/customization/dump modules"), Sysfs only
// implements the plumbing (open a node, write a command, read a state);
// it does not implement firmware election logic or AT-command parsing.
type Sysfs struct {
	root   string
	events chan Event
}

// NewSysfs builds a Sysfs backend rooted at root (e.g. /sys/class/cmrm/modem0).
func NewSysfs(root string) *Sysfs {
	return &Sysfs{root: root, events: make(chan Event, 16)}
}

func (s *Sysfs) node(name string) string { return filepath.Join(s.root, name) }

func (s *Sysfs) writeNode(name, value string) error {
	if err := os.WriteFile(s.node(name), []byte(value), 0o644); err != nil {
		return fmt.Errorf("hal: writing %s: %w", name, err)
	}
	return nil
}

func (s *Sysfs) PowerOn(ctx context.Context) error { return s.writeNode("power", "1") }
func (s *Sysfs) Boot(ctx context.Context) error    { return s.writeNode("boot", "1") }
func (s *Sysfs) Shutdown(ctx context.Context) error { return s.writeNode("power", "0") }

func (s *Sysfs) Reset(ctx context.Context, kind ResetKind) error {
	return s.writeNode("reset", kind.String())
}

// Events returns the channel production code feeds from its own
// modem_state-watching goroutine (not implemented here: spec §12 keeps
// the sysfs poller itself out of scope). Callers that want to simulate
// HAL events in-process should use Emit.
func (s *Sysfs) Events() <-chan Event { return s.events }

// Emit lets a modem_state watcher (wired separately, outside this
// package's scope) push an observed transition into the HAL event stream.
func (s *Sysfs) Emit(ev Event) { s.events <- ev }

// Package elects and flashes firmware by delegating to external elector
// logic; out of scope per spec §12, this only records the intended fw
// path in the control node so an external elector process can pick it up.
func (s *Sysfs) Package(ctx context.Context, fwPath string) error {
	return s.writeNode("fw_path", fwPath)
}

func (s *Sysfs) Flash(ctx context.Context, nodes []string) error {
	return s.writeNode("flash_nodes", fmt.Sprintf("%v", nodes))
}

func (s *Sysfs) Send(ctx context.Context, tlvs []string) error {
	return s.writeNode("tlvs", fmt.Sprintf("%v", tlvs))
}

func (s *Sysfs) Read(ctx context.Context, nodes []string, fwPath string) error {
	return s.writeNode("dump_request", fmt.Sprintf("%v -> %s", nodes, fwPath))
}

func (s *Sysfs) Stop(ctx context.Context) error { return s.writeNode("dump_request", "") }
