// Package transport implements the caller side of a connection: many
// concurrent requests multiplexed over one TCP connection.
//
// Each request gets a unique sequence number. A background goroutine (recvLoop)
// reads responses and hands each one to the caller waiting on that sequence.
//
//	goroutine-1 ──Send(seq=1)──┐
//	goroutine-2 ──Send(seq=2)──┼──→ single TCP conn ──→ router / e-computer
//	goroutine-3 ──Send(seq=3)──┘
//
//	recvLoop:  ←── response(seq=2) → pending[2] → goroutine-2 wakes up
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"e-router/codec"
	"e-router/message"
	"e-router/protocol"
)

// HeartbeatInterval is how often an idle connection sends a keepalive frame.
const HeartbeatInterval = 30 * time.Second

// ErrClosed is returned for requests on a transport whose connection is gone.
var ErrClosed = errors.New("transport: connection closed")

// Reply is delivered once per sent request: the server's message, or Err if
// the connection failed before the reply arrived.
type Reply struct {
	Msg *message.Message
	Err error
}

// ClientTransport manages a single multiplexed connection.
type ClientTransport struct {
	conn  net.Conn
	codec codec.CodecType

	sending sync.Mutex // serializes frame writes and seq assignment
	seq     uint32

	mu      sync.Mutex
	pending map[uint32]chan Reply // seq -> waiting caller
	err     error                   // set once the connection breaks

	done chan struct{}
	once sync.Once
}

// NewClientTransport wraps conn and starts the receive and heartbeat loops.
func NewClientTransport(conn net.Conn, codecType codec.CodecType) *ClientTransport {
	t := &ClientTransport{
		conn:    conn,
		codec:   codecType,
		pending: make(map[uint32]chan Reply),
		done:    make(chan struct{}),
	}
	go t.recvLoop()
	go t.heartbeatLoop(HeartbeatInterval)
	return t
}

// Send encodes msg and writes it as one frame. The returned channel receives
// exactly one Reply.
func (t *ClientTransport) Send(msg *message.Message) (uint32, <-chan Reply, error) {
	body, err := codec.GetCodec(t.codec).Encode(msg)
	if err != nil {
		return 0, nil, err
	}

	t.sending.Lock()
	defer t.sending.Unlock()

	t.seq++
	seq := t.seq

	// Register before writing so recvLoop can never see a reply with no waiter.
	respChan := make(chan Reply, 1)
	t.mu.Lock()
	if t.err != nil {
		err := t.err
		t.mu.Unlock()
		return 0, nil, err
	}
	t.pending[seq] = respChan
	t.mu.Unlock()

	header := protocol.Header{
		CodecType: byte(t.codec),
		MsgType:   protocol.MsgTypeRequest,
		Seq:       seq,
	}
	if err := protocol.Encode(t.conn, &header, body); err != nil {
		t.forget(seq)
		t.fail(err)
		return 0, nil, err
	}
	return seq, respChan, nil
}

// Call sends msg and waits for its reply or for ctx to end.
func (t *ClientTransport) Call(ctx context.Context, msg *message.Message) (*message.Message, error) {
	seq, ch, err := t.Send(msg)
	if err != nil {
		return nil, err
	}
	select {
	case reply := <-ch:
		return reply.Msg, reply.Err
	case <-ctx.Done():
		t.forget(seq)
		return nil, ctx.Err()
	}
}

// Broken reports whether the connection has failed or been closed.
func (t *ClientTransport) Broken() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err != nil
}

// Close shuts the connection and fails every pending call.
func (t *ClientTransport) Close() error {
	t.fail(ErrClosed)
	return t.conn.Close()
}

// Conn returns the underlying connection.
func (t *ClientTransport) Conn() net.Conn {
	return t.conn
}

func (t *ClientTransport) forget(seq uint32) {
	t.mu.Lock()
	delete(t.pending, seq)
	t.mu.Unlock()
}

// recvLoop is the only reader of the connection; frames must be read
// sequentially to find their boundaries.
func (t *ClientTransport) recvLoop() {
	for {
		header, body, err := protocol.Decode(t.conn)
		if err != nil {
			t.fail(err)
			return
		}
		if header.MsgType != protocol.MsgTypeResponse {
			continue
		}

		var reply Reply
		msg := &message.Message{}
		if err := codec.GetCodec(codec.CodecType(header.CodecType)).Decode(body, msg); err != nil {
			reply.Err = fmt.Errorf("decode reply: %w", err)
		} else {
			reply.Msg = msg
		}

		t.mu.Lock()
		ch, ok := t.pending[header.Seq]
		delete(t.pending, header.Seq)
		t.mu.Unlock()
		if ok {
			ch <- reply
		}
	}
}

// fail records the first connection error and releases every waiting caller.
func (t *ClientTransport) fail(err error) {
	t.mu.Lock()
	if t.err == nil {
		t.err = err
	}
	pending := t.pending
	t.pending = make(map[uint32]chan Reply)
	t.mu.Unlock()

	for _, ch := range pending {
		ch <- Reply{Err: err}
	}
	t.once.Do(func() { close(t.done) })
}

func (t *ClientTransport) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
		}
		header := &protocol.Header{MsgType: protocol.MsgTypeHeartbeat, CodecType: byte(t.codec)}
		t.sending.Lock()
		err := protocol.Encode(t.conn, header, nil)
		t.sending.Unlock()
		if err != nil {
			t.fail(err)
			return
		}
	}
}
