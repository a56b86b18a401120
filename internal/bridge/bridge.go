// Package bridge is the daemon's client of the host notification bridge:
// a single TCP peer that receives wakelock edges, service-start requests,
// and broadcast intents, each acked by msg_id (spec §4.4, §6).
//
// Grounded on sibench's Manager (src/sibench/manager.go), the pack's only
// "one goroutine owns a single outbound connection, retries a bounded
// number of times, waits for a response before moving on" shape
// (m.sendOpToServers / m.waitForResponses), adapted from one-to-many
// fire-and-collect to one-peer, ack-per-message, reconnect-on-drop. The
// wire codec itself (length-prefixed frame read/write over a
// ByteConnection) is wire.ReadFrame/WriteFrame, already following
// comms/prelen_framer.go's blocking-read-until-full discipline.
package bridge

import (
	"container/list"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/softiron/cmrmd/internal/logging"
	"github.com/softiron/cmrmd/internal/metrics"
	"github.com/softiron/cmrmd/internal/wire"
)

// Dialer opens the transport to the host bridge. Tests supply a fake;
// production wires net.Dial.
type Dialer interface {
	Dial() (net.Conn, error)
}

// NetDialer dials a TCP or unix-domain-socket address.
type NetDialer struct {
	Network string
	Address string
}

func (d NetDialer) Dial() (net.Conn, error) {
	network := d.Network
	if network == "" {
		network = "unix"
	}
	return net.Dial(network, d.Address)
}

// maxRetries is the per-message retry budget (spec §4.4 "retry budget of
// 3").
const maxRetries = 3

type outMessage struct {
	frame wire.BridgeFrame
	done  chan error // non-nil only for SendX callers waiting synchronously
}

// Client owns a single outbound connection to the host bridge and
// serializes every message through it (spec §4.4 "single peer at a
// time").
type Client struct {
	dialer     Dialer
	ackTimeout time.Duration

	mu            sync.Mutex
	nextMsgID     uint32
	wakelockFrame *wire.BridgeFrame // collapsed: only the latest desired edge matters
	intents       *list.List        // FIFO of *outMessage, client-intent (service/broadcast) traffic

	wake chan struct{}
	conn net.Conn

	log logging.Logger
}

// New builds a Client. Call Run as a goroutine to start serving.
func New(dialer Dialer, ackTimeout time.Duration) *Client {
	return &Client{
		dialer:     dialer,
		ackTimeout: ackTimeout,
		intents:    list.New(),
		wake:       make(chan struct{}, 1),
		log:        logging.For("bridge"),
	}
}

func (c *Client) nudge() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Client) nextID() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextMsgID++
	return c.nextMsgID
}

// SetWakelockDesired implements wakelock.EdgeNotifier. Only the most
// recent desired state is kept: a rapid acquire/release/acquire collapses
// to whatever the aggregate state is right now (spec §4.4 "wakelock-delta
// prioritization/collapsing").
func (c *Client) SetWakelockDesired(held bool) {
	f := wire.EncodeWakelockEdge(c.nextID(), held)
	c.mu.Lock()
	c.wakelockFrame = &f
	c.mu.Unlock()
	c.nudge()
	c.queueDepthMetric()
}

// SendStartService enqueues a START_SERVICE request (spec §6).
func (c *Client) SendStartService(ctx context.Context, pkg, class string) error {
	return c.enqueueIntent(ctx, wire.EncodeStartService(c.nextID(), pkg, class))
}

// SendBroadcastIntent enqueues a BROADCAST_INTENT request (spec §6, used
// e.g. for the platform-reboot retry loop's intent to the host).
func (c *Client) SendBroadcastIntent(ctx context.Context, name string, params []wire.IntentParam) error {
	return c.enqueueIntent(ctx, wire.EncodeBroadcastIntent(c.nextID(), name, params))
}

func (c *Client) enqueueIntent(ctx context.Context, f wire.BridgeFrame) error {
	m := &outMessage{frame: f, done: make(chan error, 1)}
	c.mu.Lock()
	c.intents.PushBack(m)
	c.mu.Unlock()
	c.nudge()
	c.queueDepthMetric()

	select {
	case err := <-m.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) queueDepthMetric() {
	c.mu.Lock()
	depth := c.intents.Len()
	if c.wakelockFrame != nil {
		depth++
	}
	c.mu.Unlock()
	metrics.BridgeQueueDepth.Set(float64(depth))
}

// popNext returns the highest-priority outstanding message: the
// collapsed wakelock edge first, then the oldest queued client intent.
func (c *Client) popNext() (wire.BridgeFrame, chan error, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.wakelockFrame != nil {
		f := *c.wakelockFrame
		c.wakelockFrame = nil
		return f, nil, true
	}
	if el := c.intents.Front(); el != nil {
		c.intents.Remove(el)
		m := el.Value.(*outMessage)
		return m.frame, m.done, true
	}
	return wire.BridgeFrame{}, nil, false
}

// Run is the connection-owning loop: it maintains at most one outbound
// connection, drains the queues through it, and reconnects on drop (spec
// §8 S5 "bridge drops and reconnects").
func (c *Client) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			c.closeConn()
			return
		default:
		}

		if c.conn == nil {
			conn, err := c.dialer.Dial()
			if err != nil {
				c.log.Warn("bridge dial failed", "err", err)
				select {
				case <-time.After(time.Second):
				case <-ctx.Done():
					return
				}
				continue
			}
			c.conn = conn
			c.log.Info("bridge connected")
		}

		frame, done, ok := c.popNext()
		if !ok {
			select {
			case <-c.wake:
			case <-ctx.Done():
				c.closeConn()
				return
			case <-time.After(time.Second):
			}
			continue
		}

		err := c.sendWithRetry(frame)
		if done != nil {
			done <- err
		}
		if err != nil {
			// A dropped wakelock edge is not requeued: the next
			// Acquire/Release call re-derives the desired state from
			// scratch (spec §8 S5), rather than retrying a possibly
			// stale edge forever.
			metrics.BridgeMessagesDropped.Inc()
			c.log.Warn("bridge message dropped after retry budget exhausted", "msg_id", frame.MsgID, "err", err)
		}
		c.queueDepthMetric()
	}
}

func (c *Client) sendWithRetry(f wire.BridgeFrame) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if c.conn == nil {
			conn, err := c.dialer.Dial()
			if err != nil {
				lastErr = err
				continue
			}
			c.conn = conn
		}

		if err := c.sendOnce(f); err != nil {
			lastErr = err
			c.closeConn()
			continue
		}
		return nil
	}
	return lastErr
}

func (c *Client) sendOnce(f wire.BridgeFrame) error {
	body, err := wire.EncodeBridge(f)
	if err != nil {
		return err
	}
	if _, err := c.conn.Write(body); err != nil {
		return err
	}

	if dl, ok := c.conn.(interface{ SetReadDeadline(time.Time) error }); ok {
		_ = dl.SetReadDeadline(time.Now().Add(c.ackTimeout))
	}
	raw, err := wire.ReadFrame(c.conn)
	if err != nil {
		return err
	}
	ackedID, err := wire.DecodeAck(raw)
	if err != nil {
		return err
	}
	if ackedID != f.MsgID {
		return fmt.Errorf("bridge: ack msg_id %d does not match sent %d", ackedID, f.MsgID)
	}
	return nil
}

func (c *Client) closeConn() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}
