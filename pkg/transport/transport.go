// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package transport connects an emulated panel to its server. Every transport
// is a byte stream: no framing is assumed, received chunks are handed to the
// Handler as they arrive.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"go.uber.org/zap"
)

// ErrNotConnected is returned by Send without an open connection
var ErrNotConnected = errors.New("not connected")

// Handler receives transport events. Received is called from the reader
// goroutine, one chunk at a time in arrival order.
type Handler interface {
	Received(chunk []byte)
	ConnectionChanged(connected bool)
	TransportError(err error)
}

// Transport is a client connection to the server
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Send(data []byte) error
	Connected() bool
	String() string
}

// Dialer opens the underlying byte stream
type Dialer func(ctx context.Context) (io.ReadWriteCloser, error)

// StreamTransport adapts any dialable byte stream to Transport
type StreamTransport struct {
	name    string
	dial    Dialer
	handler Handler
	logger  *zap.SugaredLogger

	mu   sync.Mutex
	conn io.ReadWriteCloser

	writeMu sync.Mutex
}

// NewStream creates a transport over a custom dialer
func NewStream(name string, dial Dialer, handler Handler, logger *zap.SugaredLogger) *StreamTransport {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &StreamTransport{
		name:    name,
		dial:    dial,
		handler: handler,
		logger:  logger,
	}
}

// Connect dials the server and starts the reader. A failed dial is reported to
// the handler as an error followed by ConnectionChanged(false).
func (t *StreamTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.conn != nil {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	conn, err := t.dial(ctx)
	if err != nil {
		err = fmt.Errorf("connect %s: %w", t.name, err)
		t.handler.TransportError(err)
		t.handler.ConnectionChanged(false)
		return err
	}

	t.mu.Lock()
	if t.conn != nil {
		// lost a race with a concurrent Connect
		t.mu.Unlock()
		conn.Close()
		return nil
	}
	t.conn = conn
	t.mu.Unlock()

	t.logger.Debugw("connected", "transport", t.name)
	t.handler.ConnectionChanged(true)

	go t.readLoop(conn)
	return nil
}

// Disconnect closes the connection. The handler sees ConnectionChanged(false)
// once; the reader exits without reporting the resulting read error.
func (t *StreamTransport) Disconnect() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	if conn == nil {
		return nil
	}

	err := conn.Close()
	t.logger.Debugw("disconnected", "transport", t.name)
	t.handler.ConnectionChanged(false)
	return err
}

// Send writes data to the connection
func (t *StreamTransport) Send(data []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if _, err := conn.Write(data); err != nil {
		return fmt.Errorf("send %s: %w", t.name, err)
	}
	return nil
}

// Connected reports whether a connection is open
func (t *StreamTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

func (t *StreamTransport) String() string {
	return t.name
}

func (t *StreamTransport) readLoop(conn io.ReadWriteCloser) {
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			t.handler.Received(chunk)
		}
		if err == nil {
			continue
		}

		t.mu.Lock()
		own := t.conn == conn
		if own {
			t.conn = nil
		}
		t.mu.Unlock()

		// Closed by Disconnect, which already reported the change
		if !own {
			return
		}

		conn.Close()
		if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
			t.handler.TransportError(fmt.Errorf("read %s: %w", t.name, err))
		}
		t.logger.Debugw("connection lost", "transport", t.name, "error", err)
		t.handler.ConnectionChanged(false)
		return
	}
}
