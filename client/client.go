// Package client calls framed servers by address: the router uses it to
// reach e-computers, and the load harness uses it to reach the router.
//
// Connections are multiplexed, so each address gets a small fixed set of
// transports shared by all callers and picked in rotation. A transport whose
// connection broke is redialed on its next turn.
package client

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"e-router/codec"
	"e-router/message"
	"e-router/transport"
)

// ErrNoReply is returned when a server answered with an empty reply.
var ErrNoReply = errors.New("client: empty reply")

type Client struct {
	codecType   codec.CodecType
	poolSize    int
	dialTimeout time.Duration
	retry       RetryConfig
	log         zerolog.Logger

	mu    sync.Mutex
	pools map[string]*pool // address -> transports
}

type pool struct {
	mu         sync.Mutex
	transports []*transport.ClientTransport
	next       int
}

// Option configures a Client.
type Option func(*Client)

func WithCodec(ct codec.CodecType) Option { return func(c *Client) { c.codecType = ct } }

func WithPoolSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.poolSize = n
		}
	}
}

func WithDialTimeout(d time.Duration) Option { return func(c *Client) { c.dialTimeout = d } }

func WithRetry(cfg RetryConfig) Option { return func(c *Client) { c.retry = cfg } }

func WithLogger(log zerolog.Logger) Option { return func(c *Client) { c.log = log } }

// NewClient creates a client. By default it uses JSON, two transports per
// address and no retries.
func NewClient(opts ...Option) *Client {
	c := &Client{
		codecType:   codec.CodecTypeJSON,
		poolSize:    2,
		dialTimeout: 3 * time.Second,
		retry:       NoRetry(),
		log:         zerolog.Nop(),
		pools:       make(map[string]*pool),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call sends req to addr and returns the server's reply. Connection-level
// failures are retried according to the client's RetryConfig; replies are
// returned as-is, including ones carrying an Error.
func (c *Client) Call(ctx context.Context, addr string, req *message.Message) (*message.Message, error) {
	return withRetry(ctx, c.retry, c.log.With().Str("addr", addr).Logger(), func() (*message.Message, error) {
		t, err := c.getTransport(ctx, addr)
		if err != nil {
			return nil, err
		}
		reply, err := t.Call(ctx, req)
		if err != nil {
			return nil, err
		}
		if reply == nil {
			return nil, ErrNoReply
		}
		return reply, nil
	})
}

// Close closes every pooled connection.
func (c *Client) Close() error {
	c.mu.Lock()
	pools := c.pools
	c.pools = make(map[string]*pool)
	c.mu.Unlock()

	for _, p := range pools {
		p.mu.Lock()
		for _, t := range p.transports {
			if t != nil {
				t.Close()
			}
		}
		p.mu.Unlock()
	}
	return nil
}

func (c *Client) getTransport(ctx context.Context, addr string) (*transport.ClientTransport, error) {
	c.mu.Lock()
	p, ok := c.pools[addr]
	if !ok {
		p = &pool{transports: make([]*transport.ClientTransport, c.poolSize)}
		c.pools[addr] = p
	}
	c.mu.Unlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	slot := p.next
	p.next = (p.next + 1) % len(p.transports)

	if t := p.transports[slot]; t != nil && !t.Broken() {
		return t, nil
	}

	dialer := net.Dialer{Timeout: c.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if old := p.transports[slot]; old != nil {
		old.Close()
	}
	t := transport.NewClientTransport(conn, c.codecType)
	p.transports[slot] = t
	c.log.Debug().Str("addr", addr).Int("slot", slot).Msg("dialed")
	return t, nil
}
