package hal

import "context"

// Fake is an in-memory Hal/FwUpload/Customization/Dump used by CTRL's
// tests. Calls are recorded in order so a test can assert on the exact
// sequence spec §8's scenarios name (e.g. S1: "start, package, power_on,
// flash(nodes), boot, send(tlvs|none)").
type Fake struct {
	Calls  []string
	events chan Event

	PowerOnErr  error
	BootErr     error
	ShutdownErr error
	ResetErr    error
	PackageErr  error
	FlashErr    error
	SendErr     error
	ReadErr     error
}

// NewFake returns a ready-to-use Fake with a buffered event channel.
func NewFake() *Fake {
	return &Fake{events: make(chan Event, 16)}
}

func (f *Fake) record(call string) { f.Calls = append(f.Calls, call) }

func (f *Fake) PowerOn(ctx context.Context) error { f.record("power_on"); return f.PowerOnErr }
func (f *Fake) Boot(ctx context.Context) error     { f.record("boot"); return f.BootErr }
func (f *Fake) Shutdown(ctx context.Context) error { f.record("shutdown"); return f.ShutdownErr }

func (f *Fake) Reset(ctx context.Context, kind ResetKind) error {
	f.record("reset:" + kind.String())
	return f.ResetErr
}

func (f *Fake) Events() <-chan Event { return f.events }

// Emit pushes a HAL event as if hardware had raised it.
func (f *Fake) Emit(ev Event) { f.events <- ev }

func (f *Fake) Package(ctx context.Context, fwPath string) error {
	f.record("package:" + fwPath)
	return f.PackageErr
}

func (f *Fake) Flash(ctx context.Context, nodes []string) error {
	f.record("flash")
	return f.FlashErr
}

func (f *Fake) Send(ctx context.Context, tlvs []string) error {
	f.record("send")
	return f.SendErr
}

func (f *Fake) Read(ctx context.Context, nodes []string, fwPath string) error {
	f.record("dump_read")
	return f.ReadErr
}

func (f *Fake) Stop(ctx context.Context) error {
	f.record("dump_stop")
	return nil
}
