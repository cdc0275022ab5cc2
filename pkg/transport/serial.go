// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"fmt"
	"io"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

// OpenSerial opens a serial port at 8N1
func OpenSerial(portName string, baudRate int) (io.ReadWriteCloser, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}
	return port, nil
}

// NewSerial creates a transport over a serial line, for panels wired to a
// modem or a null-modem cable instead of the network
func NewSerial(portName string, baudRate int, handler Handler, logger *zap.SugaredLogger) *StreamTransport {
	dial := func(ctx context.Context) (io.ReadWriteCloser, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return OpenSerial(portName, baudRate)
	}
	return NewStream(fmt.Sprintf("%s@%d", portName, baudRate), dial, handler, logger)
}

// SerialPorts lists the serial ports available on this host
func SerialPorts() ([]string, error) {
	return serial.GetPortsList()
}
