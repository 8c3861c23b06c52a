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
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pias-project/pias/lib/codec"
	"github.com/pias-project/pias/lib/testutil"
)

// sendRequest connects to a Unix socket, sends a CBOR request, and
// returns the decoded response envelope.
func sendRequest(t *testing.T, socketPath string, request any) Response {
	t.Helper()

	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		t.Fatalf("connecting to socket: %v", err)
	}
	defer conn.Close()

	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		t.Fatalf("writing request: %v", err)
	}

	// Signal that we're done writing (half-close). CBOR is self-
	// delimiting so this isn't required by the protocol, but it's
	// good hygiene.
	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}

	var response Response
	if err := codec.NewDecoder(conn).Decode(&response); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return response
}

// decodeData unmarshals the Data field of a response into the given
// target. Fails the test if decoding fails.
func decodeData(t *testing.T, response Response, target any) {
	t.Helper()
	if len(response.Data) == 0 {
		t.Fatal("response has no data to decode")
	}
	if err := codec.Unmarshal(response.Data, target); err != nil {
		t.Fatalf("decoding response data: %v", err)
	}
}

func testSocketPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(testutil.SocketDir(t), "test.sock")
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// startServer runs a SocketServer in the background and waits for its
// socket to appear. The server shuts down when the test completes.
func startServer(t *testing.T, server *SocketServer, socketPath string) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- server.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		if err := testutil.RequireReceive(t, done, 5*time.Second, "server shutdown"); err != nil {
			t.Errorf("Serve: %v", err)
		}
	})

	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := os.Stat(socketPath); err == nil {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("socket never appeared")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestActionDispatch(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testLogger())

	server.Handle("echo", func(ctx context.Context, raw []byte) (any, error) {
		var request struct {
			Value string `cbor:"value"`
		}
		if err := codec.Unmarshal(raw, &request); err != nil {
			return nil, err
		}
		return map[string]any{"value": request.Value}, nil
	})
	server.Handle("fail", func(ctx context.Context, raw []byte) (any, error) {
		return nil, errors.New("deliberate failure")
	})
	server.Handle("empty", func(ctx context.Context, raw []byte) (any, error) {
		return nil, nil
	})

	startServer(t, server, socketPath)

	response := sendRequest(t, socketPath, map[string]any{"action": "echo", "value": "hello"})
	if !response.OK {
		t.Fatalf("echo failed: %s", response.Error)
	}
	var data struct {
		Value string `cbor:"value"`
	}
	decodeData(t, response, &data)
	if data.Value != "hello" {
		t.Errorf("echoed value = %q, want %q", data.Value, "hello")
	}

	response = sendRequest(t, socketPath, map[string]any{"action": "fail"})
	if response.OK {
		t.Error("fail action reported success")
	}
	if response.Error != "deliberate failure" {
		t.Errorf("error = %q, want %q", response.Error, "deliberate failure")
	}

	response = sendRequest(t, socketPath, map[string]any{"action": "empty"})
	if !response.OK {
		t.Fatalf("empty failed: %s", response.Error)
	}
	if len(response.Data) != 0 {
		t.Errorf("empty action returned data: %x", []byte(response.Data))
	}
}

func TestUnknownAction(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testLogger())
	startServer(t, server, socketPath)

	response := sendRequest(t, socketPath, map[string]any{"action": "nope"})
	if response.OK {
		t.Error("unknown action reported success")
	}
}

func TestMissingAction(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testLogger())
	startServer(t, server, socketPath)

	response := sendRequest(t, socketPath, map[string]any{"value": 1})
	if response.OK {
		t.Error("request without action reported success")
	}
}

func TestDuplicateHandlerPanics(t *testing.T) {
	server := NewSocketServer("unused", testLogger())
	server.Handle("a", func(ctx context.Context, raw []byte) (any, error) { return nil, nil })

	defer func() {
		if recover() == nil {
			t.Error("duplicate registration did not panic")
		}
	}()
	server.HandleStream("a", func(ctx context.Context, raw []byte, stream *Stream) error { return nil })
}

func TestGracefulShutdownWaitsForHandlers(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testLogger())

	started := make(chan struct{})
	release := make(chan struct{})
	server.Handle("slow", func(ctx context.Context, raw []byte) (any, error) {
		close(started)
		<-release
		return nil, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- server.Serve(ctx)
	}()
	defer cancel()

	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := os.Stat(socketPath); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("socket never appeared")
		}
		time.Sleep(5 * time.Millisecond)
	}

	var waitGroup sync.WaitGroup
	waitGroup.Add(1)
	go func() {
		defer waitGroup.Done()
		sendRequest(t, socketPath, map[string]any{"action": "slow"})
	}()

	testutil.RequireClosed(t, started, 5*time.Second, "handler start")
	cancel()

	// Serve must not return while the handler is still running.
	select {
	case <-done:
		t.Fatal("Serve returned before the in-flight handler completed")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	if err := testutil.RequireReceive(t, done, 5*time.Second, "server shutdown"); err != nil {
		t.Errorf("Serve: %v", err)
	}
	waitGroup.Wait()
}

func TestStreamFrames(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testLogger())

	server.HandleStream("count", func(ctx context.Context, raw []byte, stream *Stream) error {
		for i := range 3 {
			if err := stream.Send(map[string]any{"n": i}); err != nil {
				return err
			}
		}
		return nil
	})
	startServer(t, server, socketPath)

	client := NewServiceClient(socketPath)
	reader, err := client.Stream(context.Background(), "count", nil)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer reader.Close()

	for want := range 3 {
		var frame struct {
			N int `cbor:"n"`
		}
		if err := reader.Next(&frame); err != nil {
			t.Fatalf("Next: %v", err)
		}
		if frame.N != want {
			t.Errorf("frame = %d, want %d", frame.N, want)
		}
	}

	var frame any
	if err := reader.Next(&frame); !errors.Is(err, io.EOF) {
		t.Errorf("Next after server finished = %v, want EOF", err)
	}
}

func TestStreamClientDisconnectCancelsHandler(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testLogger())

	cancelled := make(chan struct{})
	server.HandleStream("wait", func(ctx context.Context, raw []byte, stream *Stream) error {
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	})
	startServer(t, server, socketPath)

	client := NewServiceClient(socketPath)
	reader, err := client.Stream(context.Background(), "wait", nil)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	reader.Close()

	testutil.RequireClosed(t, cancelled, 5*time.Second, "handler cancellation")
}

func TestClientCall(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testLogger())

	server.Handle("add", func(ctx context.Context, raw []byte) (any, error) {
		var request struct {
			A int `cbor:"a"`
			B int `cbor:"b"`
		}
		if err := codec.Unmarshal(raw, &request); err != nil {
			return nil, err
		}
		return map[string]any{"sum": request.A + request.B}, nil
	})
	server.Handle("reject", func(ctx context.Context, raw []byte) (any, error) {
		return nil, fmt.Errorf("no")
	})
	startServer(t, server, socketPath)

	client := NewServiceClient(socketPath)

	var result struct {
		Sum int `cbor:"sum"`
	}
	err := client.Call(context.Background(), "add", map[string]any{"a": 2, "b": 3}, &result)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if result.Sum != 5 {
		t.Errorf("sum = %d, want 5", result.Sum)
	}

	err = client.Call(context.Background(), "reject", nil, nil)
	var serviceError *ServiceError
	if !errors.As(err, &serviceError) {
		t.Fatalf("Call error = %v, want *ServiceError", err)
	}
	if serviceError.Message != "no" {
		t.Errorf("message = %q, want %q", serviceError.Message, "no")
	}
}

func TestClientCallMissingSocket(t *testing.T) {
	client := NewServiceClient(filepath.Join(t.TempDir(), "absent.sock"))
	if err := client.Call(context.Background(), "ping", nil, nil); err == nil {
		t.Error("Call succeeded against a missing socket")
	}
}
