// Copyright 2026 The pias Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/pias-project/pias/lib/codec"
)

// ActionFunc processes a socket request for a specific action. The raw
// parameter is the full CBOR request (including the "action" field).
// The handler decodes action-specific fields from this raw message.
//
// Return a value to include in the success response, or an error for
// a failure response. If the returned value is nil, the response
// contains only {ok: true}. If non-nil, the value is marshaled as
// CBOR and placed in the response's "data" field.
type ActionFunc func(ctx context.Context, raw []byte) (any, error)

// StreamFunc processes a stream action. The server has already sent
// the {ok: true} envelope when the handler runs; the handler sends
// frames through stream until ctx is cancelled or the client
// disconnects (Send returns an error). The returned error is logged,
// not sent to the client.
type StreamFunc func(ctx context.Context, raw []byte, stream *Stream) error

// Response is the wire-format envelope for all socket protocol
// responses. Handlers return a result value (or nil) and an error;
// the server wraps these into a Response before encoding.
type Response struct {
	OK    bool             `cbor:"ok"`
	Error string           `cbor:"error,omitempty"`
	Data  codec.RawMessage `cbor:"data,omitempty"`
}

// SocketServer serves a CBOR request-response protocol on a Unix
// socket. Each connection handles exactly one request-response cycle,
// except for stream actions, which hold the connection open and write
// a sequence of CBOR frames after the response envelope.
//
// Actions are registered with Handle or HandleStream before calling
// Serve. Unknown actions receive an error response.
type SocketServer struct {
	socketPath     string
	handlers       map[string]ActionFunc
	streamHandlers map[string]StreamFunc
	logger         *slog.Logger

	// activeConnections tracks in-flight handlers for graceful
	// shutdown. Serve waits for all active connections to complete
	// before returning.
	activeConnections sync.WaitGroup
}

// NewSocketServer creates a server that will listen on socketPath.
// Register actions with Handle and HandleStream before calling Serve.
func NewSocketServer(socketPath string, logger *slog.Logger) *SocketServer {
	return &SocketServer{
		socketPath:     socketPath,
		handlers:       make(map[string]ActionFunc),
		streamHandlers: make(map[string]StreamFunc),
		logger:         logger,
	}
}

// Handle registers a handler for the given action name. Panics if the
// action is already registered.
func (s *SocketServer) Handle(action string, handler ActionFunc) {
	if s.registered(action) {
		panic(fmt.Sprintf("service.SocketServer: duplicate handler for action %q", action))
	}
	s.handlers[action] = handler
}

// HandleStream registers a stream handler for the given action name.
// Panics if the action is already registered.
func (s *SocketServer) HandleStream(action string, handler StreamFunc) {
	if s.registered(action) {
		panic(fmt.Sprintf("service.SocketServer: duplicate handler for action %q", action))
	}
	s.streamHandlers[action] = handler
}

func (s *SocketServer) registered(action string) bool {
	_, oneShot := s.handlers[action]
	_, stream := s.streamHandlers[action]
	return oneShot || stream
}

// Serve starts accepting connections on the Unix socket and dispatches
// requests to registered action handlers. Blocks until ctx is
// cancelled, then stops accepting new connections and waits for active
// handlers to complete.
//
// Any existing socket file at the configured path is removed before
// listening. The socket file is removed on return.
func (s *SocketServer) Serve(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", s.socketPath, err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.socketPath, err)
	}
	defer func() {
		listener.Close()
		os.Remove(s.socketPath)
	}()

	// Unblock Accept when the context is cancelled.
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("socket server listening", "path", s.socketPath)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.activeConnections.Add(1)
		go func() {
			defer s.activeConnections.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.activeConnections.Wait()
	return nil
}

// readTimeout is how long we wait for the client to send its request.
// A well-behaved client sends the request immediately after connecting.
const readTimeout = 30 * time.Second

// writeTimeout is how long we wait for a response or frame write. A
// stream subscriber that stalls longer than this is dropped.
const writeTimeout = 10 * time.Second

// maxRequestSize is the maximum size of a single CBOR request. Label
// submissions are the largest request and stay well under this.
const maxRequestSize = 1024 * 1024

// handleConnection processes one request. One-shot actions get a
// response envelope and the connection closes; stream actions keep it
// open for frames.
func (s *SocketServer) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(readTimeout))

	// Decode one CBOR value from the connection. CBOR is self-
	// delimiting so no framing protocol is needed. LimitReader
	// prevents a malicious client from exhausting memory.
	var raw codec.RawMessage
	if err := codec.NewDecoder(io.LimitReader(conn, maxRequestSize)).Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			// Client connected but sent nothing.
			return
		}
		s.writeError(conn, fmt.Sprintf("invalid request: %v", err))
		return
	}

	// Extract the action field for routing.
	var header struct {
		Action string `cbor:"action"`
	}
	if err := codec.Unmarshal(raw, &header); err != nil {
		s.writeError(conn, fmt.Sprintf("invalid request: %v", err))
		return
	}
	if header.Action == "" {
		s.writeError(conn, "missing required field: action")
		return
	}

	if handler, exists := s.streamHandlers[header.Action]; exists {
		s.handleStream(ctx, conn, header.Action, handler, raw)
		return
	}

	handler, exists := s.handlers[header.Action]
	if !exists {
		s.writeError(conn, fmt.Sprintf("unknown action %q", header.Action))
		return
	}

	result, err := handler(ctx, []byte(raw))
	if err != nil {
		s.logger.Debug("action failed",
			"action", header.Action,
			"error", err,
		)
		s.writeError(conn, err.Error())
		return
	}

	s.writeSuccess(conn, result)
}

// handleStream confirms the subscription with an {ok: true} envelope,
// then runs the handler until it returns. A watcher goroutine reads
// from the connection so a client disconnect cancels the handler's
// context; stream clients send nothing after the request, so any read
// completion means the peer is gone.
func (s *SocketServer) handleStream(ctx context.Context, conn net.Conn, action string, handler StreamFunc, raw codec.RawMessage) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := codec.NewEncoder(conn).Encode(Response{OK: true}); err != nil {
		s.logger.Debug("failed to write stream envelope", "action", action, "error", err)
		return
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		conn.SetReadDeadline(time.Time{})
		io.Copy(io.Discard, conn)
		cancel()
	}()

	stream := &Stream{conn: conn}
	if err := handler(streamCtx, []byte(raw), stream); err != nil && streamCtx.Err() == nil {
		s.logger.Debug("stream handler failed", "action", action, "error", err)
	}
}

// Stream sends CBOR frames to one stream subscriber. Safe for use from
// a single goroutine (the handler's).
type Stream struct {
	conn net.Conn
}

// Send writes one CBOR frame. A write that cannot complete within the
// write timeout fails, which the handler should treat as a dropped
// subscriber.
func (st *Stream) Send(frame any) error {
	st.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := codec.NewEncoder(st.conn).Encode(frame); err != nil {
		return fmt.Errorf("sending frame: %w", err)
	}
	return nil
}

// writeError sends a failure response: {ok: false, error: "..."}.
// Write failures are logged at debug level because the connection is
// closing regardless and the caller already has the error.
func (s *SocketServer) writeError(conn net.Conn, message string) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := codec.NewEncoder(conn).Encode(Response{
		OK:    false,
		Error: message,
	}); err != nil {
		s.logger.Debug("failed to write error response", "error", err)
	}
}

// writeSuccess sends a success response. If result is nil, the
// response is {ok: true}. If non-nil, the value is marshaled as CBOR
// and placed in the "data" field: {ok: true, data: <cbor>}.
func (s *SocketServer) writeSuccess(conn net.Conn, result any) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))

	response := Response{OK: true}

	if result != nil {
		data, err := codec.Marshal(result)
		if err != nil {
			s.writeError(conn, fmt.Sprintf("internal: marshaling response: %v", err))
			return
		}
		response.Data = data
	}

	if err := codec.NewEncoder(conn).Encode(response); err != nil {
		s.logger.Debug("failed to write success response", "error", err)
	}
}
