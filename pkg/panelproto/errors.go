// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package panelproto

import (
	"errors"
	"fmt"
)

var (
	ErrFrameTooShort   = errors.New("frame too short")
	ErrPayloadTooLarge = errors.New("payload too large")
	ErrFrameOverflow   = errors.New("frame exceeds maximum size")
	ErrShortFrame      = errors.New("short header frames are not supported")
	ErrNotSynced       = errors.New("frame received before sync handshake")
	ErrPeerReported    = errors.New("peer reported error")
)

// CRCMismatchError is raised when a frame's trailing bytes disagree with the
// computed CRC. Both arrays are lo, hi.
type CRCMismatchError struct {
	Expected [2]byte
	Received [2]byte
}

func (e *CRCMismatchError) Error() string {
	return fmt.Sprintf("CRC mismatch: expected %02X%02X, got %02X%02X",
		e.Expected[0], e.Expected[1], e.Received[0], e.Received[1])
}

// SequenceError is raised when a frame's tx_id is neither a retransmit nor the
// next expected value.
type SequenceError struct {
	Expected uint8
	Received uint8
}

func (e *SequenceError) Error() string {
	return fmt.Sprintf("tx mismatch: expected %02X or %02X, got %02X", e.Expected, e.Expected+1, e.Received)
}

// UnknownCommandError is signalled for commands without a handler. The panel
// still acknowledges them.
type UnknownCommandError struct {
	Code uint8
}

func (e *UnknownCommandError) Error() string {
	return fmt.Sprintf("unknown command 0x%02X, sent default answer", e.Code)
}

// FileError describes a file command that was answered with a reply-error frame
type FileError struct {
	Command uint8
	Code    ErrorCode
	Err     error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s failed with code 0x%02X: %v", CommandName(e.Command), uint8(e.Code), e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}
