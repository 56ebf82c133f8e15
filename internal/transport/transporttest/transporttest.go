// Package transporttest provides an in-memory transport.Transport that records
// every message and close call, for testing simulated nodes without a network.
package transporttest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"nodeio_tester/internal/shared/protocol"
	"nodeio_tester/internal/transport"
)

// Responder decides how the mock peer answers a connect request.
// Returning nil means no answer.
type Responder func(connect *protocol.Envelope) []byte

// Accept answers every connect with an accepted connect_response.
func Accept(connect *protocol.Envelope) []byte {
	data, _ := protocol.Encode(protocol.BuildConnectResponse(connect.NodeID, protocol.StatusAccepted))
	return data
}

// Reject answers every connect with a rejected connect_response.
func Reject(connect *protocol.Envelope) []byte {
	data, _ := protocol.Encode(protocol.BuildConnectResponse(connect.NodeID, protocol.StatusRejected))
	return data
}

// Silent never answers.
func Silent(*protocol.Envelope) []byte { return nil }

// EventKind identifies a recorded operation on a Conn.
type EventKind string

const (
	EventSend  EventKind = "send"
	EventClose EventKind = "close"
)

// Event is one recorded operation, in call order.
type Event struct {
	Kind     EventKind
	Envelope *protocol.Envelope // for sends
	At       time.Time
}

// Transport is an in-memory transport.Transport.
type Transport struct {
	Responder Responder

	mu      sync.Mutex
	dialErr error
	conns   []*Conn
}

var _ transport.Transport = (*Transport)(nil)

// New returns a Transport whose peer answers connects with responder.
func New(responder Responder) *Transport {
	if responder == nil {
		responder = Silent
	}
	return &Transport{Responder: responder}
}

// FailDials makes every following Dial return err.
func (t *Transport) FailDials(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dialErr = err
}

func (t *Transport) Dial(ctx context.Context, uri string) (transport.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dialErr != nil {
		return nil, t.dialErr
	}
	c := &Conn{
		responder: t.Responder,
		inbox:     make(chan []byte, 64),
		closed:    make(chan struct{}),
		nodeID:    -1,
	}
	t.conns = append(t.conns, c)
	return c, nil
}

// Conns returns every connection dialed so far.
func (t *Transport) Conns() []*Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Conn(nil), t.conns...)
}

// ConnsFor returns the connections whose first message carried nodeID, oldest first.
func (t *Transport) ConnsFor(nodeID int) []*Conn {
	var out []*Conn
	for _, c := range t.Conns() {
		if c.NodeID() == nodeID {
			out = append(out, c)
		}
	}
	return out
}

// Conn is an in-memory transport.Conn.
type Conn struct {
	responder Responder

	mu      sync.Mutex
	events  []Event
	nodeID  int
	sendErr error

	inbox      chan []byte
	closed     chan struct{}
	closeOnce  sync.Once
	closeCalls atomic.Int32
}

var _ transport.Conn = (*Conn)(nil)

func (c *Conn) Send(ctx context.Context, msg []byte) error {
	if c.closeCalls.Load() > 0 {
		return transport.ErrClosed
	}
	env, err := protocol.Decode(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.sendErr != nil {
		err := c.sendErr
		c.mu.Unlock()
		return err
	}
	if c.nodeID < 0 {
		c.nodeID = env.NodeID
	}
	c.events = append(c.events, Event{Kind: EventSend, Envelope: env, At: time.Now()})
	c.mu.Unlock()

	if env.Type == protocol.TypeConnect && c.responder != nil {
		if reply := c.responder(env); reply != nil {
			c.Push(reply)
		}
	}
	return nil
}

func (c *Conn) Receive(ctx context.Context, timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case msg := <-c.inbox:
		return msg, nil
	case <-c.closed:
		return nil, transport.ErrClosed
	case <-timer.C:
		return nil, transport.ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Conn) Close() error {
	c.closeCalls.Add(1)
	c.mu.Lock()
	c.events = append(c.events, Event{Kind: EventClose, At: time.Now()})
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *Conn) WaitClosed(ctx context.Context) error {
	select {
	case <-c.closed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Push queues a message for the next Receive.
func (c *Conn) Push(msg []byte) {
	c.inbox <- msg
}

// FailSends makes every following Send return err.
func (c *Conn) FailSends(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

// NodeID is the node_id of the first message sent, or -1.
func (c *Conn) NodeID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nodeID
}

// CloseCalls counts Close invocations, including repeats.
func (c *Conn) CloseCalls() int {
	return int(c.closeCalls.Load())
}

// Events returns a copy of the recorded operations.
func (c *Conn) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

// Sent returns the envelopes sent so far, optionally filtered by type.
func (c *Conn) Sent(msgType ...string) []*protocol.Envelope {
	var out []*protocol.Envelope
	for _, ev := range c.Events() {
		if ev.Kind != EventSend {
			continue
		}
		if len(msgType) == 0 || ev.Envelope.Type == msgType[0] {
			out = append(out, ev.Envelope)
		}
	}
	return out
}
