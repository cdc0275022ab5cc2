// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu       sync.Mutex
	received bytes.Buffer
	changes  []bool
	errs     []error
	changed  chan bool
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{changed: make(chan bool, 16)}
}

func (h *recordingHandler) Received(chunk []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.received.Write(chunk)
}

func (h *recordingHandler) ConnectionChanged(connected bool) {
	h.mu.Lock()
	h.changes = append(h.changes, connected)
	h.mu.Unlock()
	h.changed <- connected
}

func (h *recordingHandler) TransportError(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errs = append(h.errs, err)
}

func (h *recordingHandler) bytes() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]byte(nil), h.received.Bytes()...)
}

func (h *recordingHandler) waitChange(t *testing.T) bool {
	t.Helper()
	select {
	case c := <-h.changed:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for connection change")
		return false
	}
}

func TestTCP_SendReceive(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	h := newRecordingHandler()
	tr := NewTCP(ln.Addr().String(), h, nil)

	require.NoError(t, tr.Connect(context.Background()))
	assert.True(t, h.waitChange(t))
	assert.True(t, tr.Connected())

	server := <-accepted
	defer server.Close()

	_, err = server.Write([]byte{0xC0, 0x00, 0x80, 0x00, 0x10, 0xC0})
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return len(h.bytes()) == 6 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, tr.Send([]byte{0x01, 0x02}))
	buf := make([]byte, 2)
	server.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = server.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02}, buf)

	require.NoError(t, tr.Disconnect())
	assert.False(t, h.waitChange(t))
	assert.False(t, tr.Connected())
	assert.ErrorIs(t, tr.Send([]byte{0x01}), ErrNotConnected)

	// Disconnect reports exactly once, with no error from the reader
	time.Sleep(50 * time.Millisecond)
	h.mu.Lock()
	assert.Equal(t, []bool{true, false}, h.changes)
	assert.Empty(t, h.errs)
	h.mu.Unlock()
}

func TestTCP_PeerClose(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		c, err := ln.Accept()
		if err == nil {
			c.Close()
		}
	}()

	h := newRecordingHandler()
	tr := NewTCP(ln.Addr().String(), h, nil)
	require.NoError(t, tr.Connect(context.Background()))

	assert.True(t, h.waitChange(t))
	assert.False(t, h.waitChange(t))
	assert.False(t, tr.Connected())
}

func TestTCP_ConnectFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	h := newRecordingHandler()
	tr := NewTCP(addr, h, nil)

	err = tr.Connect(context.Background())
	require.Error(t, err)
	assert.False(t, h.waitChange(t))

	h.mu.Lock()
	assert.Len(t, h.errs, 1)
	h.mu.Unlock()
}

func TestStream_DialError(t *testing.T) {
	dialErr := errors.New("boom")
	h := newRecordingHandler()
	tr := NewStream("test", func(context.Context) (io.ReadWriteCloser, error) { return nil, dialErr }, h, nil)

	err := tr.Connect(context.Background())
	assert.ErrorIs(t, err, dialErr)
	assert.Equal(t, "test", tr.String())
}

func TestWebSocket_SendReceive(t *testing.T) {
	upgrader := websocket.Upgrader{}
	serverGot := make(chan []byte, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "panel" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		conn.WriteMessage(websocket.TextMessage, []byte("ignored"))
		conn.WriteMessage(websocket.BinaryMessage, []byte{0xC0, 0x01, 0xC0})

		_, data, err := conn.ReadMessage()
		if err == nil {
			serverGot <- data
		}
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	h := newRecordingHandler()
	tr := NewWebSocket(WebSocketOptions{URL: wsURL, Username: "panel", Password: "secret"}, h, nil)
	require.NoError(t, tr.Connect(context.Background()))
	assert.True(t, h.waitChange(t))

	assert.Eventually(t, func() bool { return bytes.Equal(h.bytes(), []byte{0xC0, 0x01, 0xC0}) },
		2*time.Second, 10*time.Millisecond)

	require.NoError(t, tr.Send([]byte{0xAA}))
	select {
	case data := <-serverGot:
		assert.Equal(t, []byte{0xAA}, data)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive message")
	}

	require.NoError(t, tr.Disconnect())
}

func TestWebSocket_AuthRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := DialWebSocket(context.Background(), WebSocketOptions{URL: "ws" + strings.TrimPrefix(srv.URL, "http")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 401")
}

func TestWebSocket_BadScheme(t *testing.T) {
	_, err := DialWebSocket(context.Background(), WebSocketOptions{URL: "http://example.com"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported URL scheme")
}
