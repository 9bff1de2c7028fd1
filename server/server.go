// Package server implements the framed TCP server used by both the e-router
// and the e-computers.
//
// Request processing pipeline:
//
//	Accept conn → handleConn (single goroutine reads frames)
//	  → for each request: go handleRequest (one goroutine per request)
//	    → Codec.Decode → Middleware Chain → handler → Codec.Encode → write reply
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"e-router/codec"
	"e-router/message"
	"e-router/middleware"
	"e-router/protocol"
)

// ErrShutdownTimeout is returned by Shutdown when in-flight requests outlive the timeout.
var ErrShutdownTimeout = errors.New("server: timeout waiting for in-flight requests")

// Server serves one HandlerFunc behind a middleware chain.
type Server struct {
	log         zerolog.Logger
	business    middleware.HandlerFunc  // the wrapped handler, e.g. the dispatcher
	middlewares []middleware.Middleware // applied in the order added
	handler     middleware.HandlerFunc  // middleware(middleware(...(business)))

	listener net.Listener
	wg       sync.WaitGroup // in-flight requests
	shutdown atomic.Bool    // set before closing the listener

	mu    sync.Mutex
	conns map[net.Conn]struct{}

	baseCtx context.Context
	cancel  context.CancelFunc
}

// NewServer creates a server for handler.
func NewServer(handler middleware.HandlerFunc, log zerolog.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		log:      log,
		business: handler,
		conns:    make(map[net.Conn]struct{}),
		baseCtx:  ctx,
		cancel:   cancel,
	}
}

// Use registers a middleware. Must be called before Serve.
func (svr *Server) Use(mw middleware.Middleware) {
	svr.middlewares = append(svr.middlewares, mw)
}

// Serve listens on address and serves until Shutdown.
func (svr *Server) Serve(network, address string) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	return svr.ServeListener(listener)
}

// ServeListener serves connections accepted from listener until Shutdown.
// It returns nil after a graceful Shutdown.
func (svr *Server) ServeListener(listener net.Listener) error {
	// Build the chain once, not per request.
	svr.handler = middleware.Chain(svr.middlewares...)(svr.business)

	svr.mu.Lock()
	svr.listener = listener
	svr.mu.Unlock()
	svr.log.Info().Str("addr", listener.Addr().String()).Msg("listening")

	for {
		conn, err := listener.Accept()
		if err != nil {
			if svr.shutdown.Load() {
				return nil
			}
			return err
		}
		svr.track(conn, true)
		go svr.handleConn(conn)
	}
}

// Addr returns the listening address, or nil before Serve has started.
func (svr *Server) Addr() net.Addr {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if svr.listener == nil {
		return nil
	}
	return svr.listener.Addr()
}

func (svr *Server) track(conn net.Conn, add bool) {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if add {
		svr.conns[conn] = struct{}{}
	} else {
		delete(svr.conns, conn)
	}
}

// handleConn reads frames sequentially and dispatches each request to its
// own goroutine. A per-connection write mutex keeps concurrent replies from
// interleaving on the wire.
func (svr *Server) handleConn(conn net.Conn) {
	defer func() {
		svr.track(conn, false)
		conn.Close()
	}()
	writeMu := &sync.Mutex{}
	for {
		header, body, err := protocol.Decode(conn)
		if err != nil {
			return // connection closed or protocol error
		}
		if header.MsgType == protocol.MsgTypeHeartbeat {
			continue
		}
		if svr.shutdown.Load() {
			return
		}

		svr.wg.Add(1)
		go svr.handleRequest(header, body, conn, writeMu)
	}
}

// handleRequest runs one request through the chain and writes the reply
// with the request's sequence number.
func (svr *Server) handleRequest(header *protocol.Header, body []byte, conn net.Conn, writeMu *sync.Mutex) {
	defer svr.wg.Done()

	c := codec.GetCodec(codec.CodecType(header.CodecType))
	req := &message.Message{}
	var reply *message.Message
	if err := c.Decode(body, req); err != nil {
		reply = message.ErrorReply(message.StatusError, fmt.Sprintf("decode request: %v", err))
	} else {
		reply = svr.handler(svr.baseCtx, req)
	}

	result, err := c.Encode(reply)
	if err != nil {
		svr.log.Error().Err(err).Msg("encode reply")
		return
	}

	replyHeader := protocol.Header{
		CodecType: header.CodecType,
		MsgType:   protocol.MsgTypeResponse,
		Seq:       header.Seq,
	}
	writeMu.Lock()
	defer writeMu.Unlock()
	if err := protocol.Encode(conn, &replyHeader, result); err != nil {
		svr.log.Debug().Err(err).Msg("write reply")
	}
}

// Shutdown stops accepting connections, waits up to timeout for in-flight
// requests, then closes every open connection.
func (svr *Server) Shutdown(timeout time.Duration) error {
	// Flag first, so ServeListener treats the Accept error as intentional.
	svr.shutdown.Store(true)
	svr.mu.Lock()
	if svr.listener != nil {
		svr.listener.Close()
	}
	svr.mu.Unlock()

	done := make(chan struct{})
	go func() {
		svr.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		err = ErrShutdownTimeout
	}
	svr.cancel()

	svr.mu.Lock()
	for conn := range svr.conns {
		conn.Close()
	}
	svr.mu.Unlock()
	return err
}
