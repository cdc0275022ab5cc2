// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package fleet

import (
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/panelsim/pkg/engine"
	"github.com/Thermoquad/panelsim/pkg/panelproto"
)

// EventKind classifies fleet events
type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventSignal
	EventTransportError
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventSignal:
		return "signal"
	case EventTransportError:
		return "transport error"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is emitted by devices for the UI and logs
type Event struct {
	Time    time.Time
	Phone   string
	Session string
	Kind    EventKind
	Err     error
}

func (e Event) String() string {
	ts := e.Time.Format("15:04:05.000")
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s %s: %v", ts, e.Phone, e.Kind, e.Err)
	}
	return fmt.Sprintf("[%s] %s %s", ts, e.Phone, e.Kind)
}

// SignalKind names the protocol error class of err, used as a metric label
func SignalKind(err error) string {
	var crcErr *panelproto.CRCMismatchError
	var seqErr *panelproto.SequenceError
	var unknownErr *panelproto.UnknownCommandError
	var fileErr *panelproto.FileError

	switch {
	case errors.As(err, &crcErr):
		return "crc"
	case errors.As(err, &seqErr):
		return "sequence"
	case errors.As(err, &unknownErr):
		return "unknown_command"
	case errors.As(err, &fileErr):
		return "file"
	case engine.IsPeerError(err):
		return "peer"
	case errors.Is(err, panelproto.ErrNotSynced):
		return "not_synced"
	default:
		return "malformed"
	}
}
