// Copyright 2026 The pias Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/pias-project/pias/lib/codec"
)

// dialTimeout is the maximum time to wait for a connection to the
// service socket. This is separate from the server's read/write
// timeouts, it covers only the connect phase.
const dialTimeout = 5 * time.Second

// responseReadTimeout is how long the client waits for the server to
// send a response after writing the request. Matched to the server's
// readTimeout + writeTimeout to account for handler execution time.
const responseReadTimeout = 45 * time.Second

// frameReadTimeout is how long a stream reader waits for the next
// frame. The server heartbeats every 30 seconds, so a quiet interval
// longer than this means the server is gone.
const frameReadTimeout = 75 * time.Second

// maxResponseSize bounds a single CBOR response or frame. Solution
// responses carry one uint64 per fragment, so this allows several
// million fragments.
const maxResponseSize = 64 * 1024 * 1024

// ServiceError is returned by Call when the server responds with
// ok=false. It wraps the server's error message and the action that
// failed.
type ServiceError struct {
	Action  string
	Message string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("service error on %q: %s", e.Action, e.Message)
}

// ServiceClient sends CBOR requests to the solver socket. Each Call
// opens a new connection (matching the server's one-request-per-
// connection model), sends the request, reads the response, and
// closes the connection.
type ServiceClient struct {
	socketPath string
}

// NewServiceClient creates a client for the solver socket at
// socketPath.
func NewServiceClient(socketPath string) *ServiceClient {
	return &ServiceClient{socketPath: socketPath}
}

// Call sends a CBOR request to the service and decodes the response.
//
// The fields parameter may contain any handler-specific request
// fields; the client adds "action" automatically. Pass nil for actions
// that take no additional parameters.
//
// On success (response ok=true), if result is non-nil and the
// response contains data, the data is CBOR-decoded into result.
//
// On failure (response ok=false), returns a *ServiceError containing
// the server's error message. Connection and encoding errors are
// returned as plain errors (not *ServiceError).
func (c *ServiceClient) Call(ctx context.Context, action string, fields map[string]any, result any) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("calling %q on %s: %w", action, c.socketPath, err)
	}
	defer conn.Close()

	if err := codec.NewEncoder(conn).Encode(buildRequest(action, fields)); err != nil {
		return fmt.Errorf("calling %q on %s: writing request: %w", action, c.socketPath, err)
	}

	// Half-close the write side. CBOR is self-delimiting so this
	// isn't strictly necessary, but it lets the server's read side
	// see EOF cleanly.
	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}

	conn.SetReadDeadline(time.Now().Add(responseReadTimeout))
	var response Response
	if err := codec.NewDecoder(io.LimitReader(conn, maxResponseSize)).Decode(&response); err != nil {
		return fmt.Errorf("calling %q on %s: reading response: %w", action, c.socketPath, err)
	}

	if !response.OK {
		return &ServiceError{
			Action:  action,
			Message: response.Error,
		}
	}

	if result != nil && len(response.Data) > 0 {
		if err := codec.Unmarshal(response.Data, result); err != nil {
			return fmt.Errorf("decoding response data for %q: %w", action, err)
		}
	}

	return nil
}

// Stream opens a stream action and returns a reader over its frames.
// The connection stays open until Close is called, ctx is cancelled,
// or the server goes away. Unlike Call, the write side stays open so
// the server can detect the client's departure.
func (c *ServiceClient) Stream(ctx context.Context, action string, fields map[string]any) (*StreamReader, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("streaming %q on %s: %w", action, c.socketPath, err)
	}

	if err := codec.NewEncoder(conn).Encode(buildRequest(action, fields)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("streaming %q on %s: writing request: %w", action, c.socketPath, err)
	}

	decoder := codec.NewDecoder(io.LimitReader(conn, maxResponseSize))

	conn.SetReadDeadline(time.Now().Add(responseReadTimeout))
	var response Response
	if err := decoder.Decode(&response); err != nil {
		conn.Close()
		return nil, fmt.Errorf("streaming %q on %s: reading envelope: %w", action, c.socketPath, err)
	}
	if !response.OK {
		conn.Close()
		return nil, &ServiceError{Action: action, Message: response.Error}
	}

	reader := &StreamReader{conn: conn, decoder: decoder}
	// Close the connection when ctx ends so a blocked Next unblocks.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	reader.stop = stop
	return reader, nil
}

func (c *ServiceClient) dial(ctx context.Context) (net.Conn, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}
	return conn, nil
}

// buildRequest constructs the CBOR request map: the caller's fields
// (if any) plus the "action" key.
func buildRequest(action string, fields map[string]any) map[string]any {
	request := make(map[string]any, len(fields)+1)
	for key, value := range fields {
		request[key] = value
	}
	request["action"] = action
	return request
}

// StreamReader reads CBOR frames from an open stream connection.
type StreamReader struct {
	conn    net.Conn
	decoder *codec.Decoder
	stop    func() bool
}

// Next decodes the next frame into result. Returns io.EOF when the
// server closes the stream.
func (r *StreamReader) Next(result any) error {
	r.conn.SetReadDeadline(time.Now().Add(frameReadTimeout))
	return r.decoder.Decode(result)
}

// Close tears down the stream connection.
func (r *StreamReader) Close() error {
	if r.stop != nil {
		r.stop()
	}
	return r.conn.Close()
}
