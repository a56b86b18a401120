// Package hal declares the external collaborators CTRL drives: the
// hardware abstraction layer itself, firmware upload, TLV customization,
// and core-dump capture (spec §6, §9 "composition over inheritance").
//
// The original C source simulates polymorphism with a struct of function
// pointers ("ctx" objects); per spec §9 we replace that with ordinary Go
// interfaces, one per collaborator, each a value type CTRL holds as a
// field — no vtable emulation. Grounded structurally on how sibench
// treats its storage backends (connection.go's Connection interface with
// per-backend concrete types: rados, rbd, s3, file) as the pack's closest
// analogue to "one small interface, several interchangeable
// implementations."
package hal

import "context"

// EventKind is the closed set of asynchronous notifications the HAL can
// raise on CTRL (spec §4.6 "From HAL").
type EventKind int

const (
	EventMdmOff EventKind = iota
	EventMdmRun
	EventMdmBusy
	EventMdmNeedReset
	EventMdmFlash
	EventMdmDump
	EventMdmUnresponsive
)

func (k EventKind) String() string {
	switch k {
	case EventMdmOff:
		return "MdmOff"
	case EventMdmRun:
		return "MdmRun"
	case EventMdmBusy:
		return "MdmBusy"
	case EventMdmNeedReset:
		return "MdmNeedReset"
	case EventMdmFlash:
		return "MdmFlash"
	case EventMdmDump:
		return "MdmDump"
	case EventMdmUnresponsive:
		return "MdmUnresponsive"
	default:
		return "unknown"
	}
}

// Event is one HAL notification, delivered to CTRL over an event channel.
type Event struct {
	Kind  EventKind
	Nodes []string // populated for EventMdmFlash / EventMdmDump
}

// ResetKind distinguishes the reset CTRL asks the HAL to perform (spec
// §4.6 "Reset / restart").
type ResetKind int

const (
	ResetCold ResetKind = iota
	ResetBackupNvm
)

func (k ResetKind) String() string {
	switch k {
	case ResetCold:
		return "cold"
	case ResetBackupNvm:
		return "backup-nvm"
	default:
		return "unknown"
	}
}

// Hal is the hardware-adjacent collaborator: power rail, boot strobe,
// shutdown, and the various reset kinds (spec GLOSSARY "HAL").
type Hal interface {
	PowerOn(ctx context.Context) error
	Boot(ctx context.Context) error
	Shutdown(ctx context.Context) error
	Reset(ctx context.Context, kind ResetKind) error

	// Events returns the channel on which the HAL delivers asynchronous
	// notifications for the lifetime of the process.
	Events() <-chan Event
}

// FwUpload elects and flashes firmware (spec §4.6 phase sequencing:
// "invoke upload.package(fw_path)" / "upload.flash(nodes)").
type FwUpload interface {
	Package(ctx context.Context, fwPath string) error
	Flash(ctx context.Context, nodes []string) error
}

// Customization applies post-boot TLVs (spec §4.6 "customization.send(tlvs)").
type Customization interface {
	Send(ctx context.Context, tlvs []string) error
}

// Dump captures a core dump from the given nodes into fwPath (spec §4.6
// "Dump").
type Dump interface {
	Read(ctx context.Context, nodes []string, fwPath string) error
	Stop(ctx context.Context) error
}
