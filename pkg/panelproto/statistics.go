// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package panelproto

import (
	"errors"
	"fmt"
	"time"
)

// Statistics tracks frame counters and error rates for one panel session
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	FramesReceived  uint64
	FramesSent      uint64
	Syncs           uint64
	Replays         uint64
	CRCErrors       uint64
	SequenceErrors  uint64
	UnknownCommands uint64
	PeerErrors      uint64
	FileErrors      uint64
	Malformed       uint64

	// Rates (calculated)
	FrameRate float64 // frames/sec
	ErrorRate float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Received counts an incoming frame and classifies the error it produced, if any
func (s *Statistics) Received(err error) {
	s.FramesReceived++
	s.LastUpdateTime = time.Now()
	if err != nil {
		s.Error(err)
	}
}

// Sent counts an outgoing frame
func (s *Statistics) Sent(replay bool) {
	s.FramesSent++
	if replay {
		s.Replays++
	}
}

// Error classifies a protocol error
func (s *Statistics) Error(err error) {
	var crcErr *CRCMismatchError
	var seqErr *SequenceError
	var unknownErr *UnknownCommandError
	var fileErr *FileError

	switch {
	case errors.As(err, &crcErr):
		s.CRCErrors++
	case errors.As(err, &seqErr):
		s.SequenceErrors++
	case errors.As(err, &unknownErr):
		s.UnknownCommands++
	case errors.As(err, &fileErr):
		s.FileErrors++
	case errors.Is(err, ErrPeerReported):
		s.PeerErrors++
	default:
		s.Malformed++
	}
}

// TotalErrors sums every error counter that drops a frame or signals failure
func (s *Statistics) TotalErrors() uint64 {
	return s.CRCErrors + s.SequenceErrors + s.PeerErrors + s.Malformed
}

// CalculateRates calculates frame and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.FrameRate = float64(s.FramesReceived) / elapsed
		s.ErrorRate = float64(s.TotalErrors()) / elapsed
	}
}

// Add accumulates another tracker's counters, used for fleet totals
func (s *Statistics) Add(o Statistics) {
	s.FramesReceived += o.FramesReceived
	s.FramesSent += o.FramesSent
	s.Syncs += o.Syncs
	s.Replays += o.Replays
	s.CRCErrors += o.CRCErrors
	s.SequenceErrors += o.SequenceErrors
	s.UnknownCommands += o.UnknownCommands
	s.PeerErrors += o.PeerErrors
	s.FileErrors += o.FileErrors
	s.Malformed += o.Malformed
	if o.StartTime.Before(s.StartTime) {
		s.StartTime = o.StartTime
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Frames In:       %8d\n", s.FramesReceived)
	result += fmt.Sprintf("Frames Out:      %8d\n", s.FramesSent)
	result += fmt.Sprintf("Syncs:           %8d\n", s.Syncs)

	if s.Replays > 0 {
		result += fmt.Sprintf("Replays:         %8d\n", s.Replays)
	}
	if s.CRCErrors > 0 {
		result += fmt.Sprintf("CRC Errors:      %8d\n", s.CRCErrors)
	}
	if s.SequenceErrors > 0 {
		result += fmt.Sprintf("Tx Mismatches:   %8d\n", s.SequenceErrors)
	}
	if s.UnknownCommands > 0 {
		result += fmt.Sprintf("Unknown Cmds:    %8d\n", s.UnknownCommands)
	}
	if s.PeerErrors > 0 {
		result += fmt.Sprintf("Peer Errors:     %8d\n", s.PeerErrors)
	}
	if s.FileErrors > 0 {
		result += fmt.Sprintf("File Errors:     %8d\n", s.FileErrors)
	}
	if s.Malformed > 0 {
		result += fmt.Sprintf("Malformed:       %8d\n", s.Malformed)
	}

	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", s.FrameRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
