// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"io"
	"net"
	"time"

	"go.uber.org/zap"
)

// DialTimeout bounds connection establishment
const DialTimeout = 10 * time.Second

// NewTCP creates a transport to host:port over TCP
func NewTCP(address string, handler Handler, logger *zap.SugaredLogger) *StreamTransport {
	dial := func(ctx context.Context) (io.ReadWriteCloser, error) {
		d := net.Dialer{Timeout: DialTimeout}
		return d.DialContext(ctx, "tcp", address)
	}
	return NewStream("tcp://"+address, dial, handler, logger)
}
