package bridge

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/softiron/cmrmd/internal/wire"
)

// pipeDialer hands out one end of an in-memory net.Pipe per Dial call,
// and lets the test drive the other end as a fake host bridge.
type pipeDialer struct {
	conns chan net.Conn
	fail  bool
}

func newPipeDialer() *pipeDialer { return &pipeDialer{conns: make(chan net.Conn, 8)} }

func (d *pipeDialer) Dial() (net.Conn, error) {
	if d.fail {
		return nil, assert.AnError
	}
	client, server := net.Pipe()
	d.conns <- server
	return client, nil
}

// ackServer reads one BridgeFrame off conn and replies with its ack.
func ackServer(t *testing.T, conn net.Conn) wire.BridgeFrame {
	t.Helper()
	raw, err := wire.ReadFrame(conn)
	require.NoError(t, err)
	f, err := wire.DecodeBridge(raw)
	require.NoError(t, err)
	require.NoError(t, wire.WriteFrame(conn, wire.EncodeAck(f.MsgID)))
	return f
}

func TestWakelockEdgeIsAcked(t *testing.T) {
	d := newPipeDialer()
	c := New(d, 2*time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	c.SetWakelockDesired(true)

	server := <-d.conns
	f := ackServer(t, server)
	assert.Equal(t, uint32(wire.BridgeWakelockAcquire), f.Kind)
}

func TestBroadcastIntentWaitsForAck(t *testing.T) {
	d := newPipeDialer()
	c := New(d, 2*time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	go func() {
		server := <-d.conns
		ackServer(t, server)
	}()

	err := c.SendBroadcastIntent(context.Background(), "com.softiron.cmrm.STATE", []wire.IntentParam{
		wire.IntParam("instId", 1),
	})
	require.NoError(t, err)
}

func TestWakelockCollapsesRapidEdges(t *testing.T) {
	d := newPipeDialer()
	c := New(d, 2*time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Hold the loop off by not starting Run yet: queue several edges
	// first so only the latest should ever hit the wire.
	c.SetWakelockDesired(true)
	c.SetWakelockDesired(false)
	c.SetWakelockDesired(true)

	go c.Run(ctx)

	server := <-d.conns
	f := ackServer(t, server)
	assert.Equal(t, uint32(wire.BridgeWakelockAcquire), f.Kind)

	select {
	case <-d.conns:
		t.Fatal("expected only one collapsed wakelock message, got a second connection attempt")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDialFailureRetriesUntilSuccess(t *testing.T) {
	d := newPipeDialer()
	d.fail = true
	c := New(d, 2*time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	c.SetWakelockDesired(true)
	time.Sleep(1200 * time.Millisecond)
	d.fail = false

	server := <-d.conns
	f := ackServer(t, server)
	assert.Equal(t, uint32(wire.BridgeWakelockAcquire), f.Kind)
}
