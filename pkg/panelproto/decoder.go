// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package panelproto

import "fmt"

// Decoder states (internal)
const (
	stateCollect = iota
	stateDiscard
)

// Decoder re-assembles frames from a byte stream that may arrive in arbitrary
// fragments. Every marker byte terminates the fragment collected so far; empty
// fragments (back-to-back markers) are skipped, exactly like SplitFrames.
type Decoder struct {
	state  int
	buffer []byte
}

// NewDecoder creates a new stream decoder
func NewDecoder() *Decoder {
	return &Decoder{
		state:  stateCollect,
		buffer: make([]byte, 0, MaxFrameSize),
	}
}

// Reset drops any partially received frame
func (d *Decoder) Reset() {
	d.state = stateCollect
	d.buffer = d.buffer[:0]
}

// Pending returns the number of buffered bytes of an incomplete frame
func (d *Decoder) Pending() int {
	return len(d.buffer)
}

// DecodeByte processes a single byte.
// Returns the unescaped body of a completed frame, or nil if the frame is incomplete.
// Returns an error once when a fragment overflows MaxFrameSize; the rest of that
// fragment is discarded up to the next marker.
func (d *Decoder) DecodeByte(b byte) ([]byte, error) {
	if b == MarkerByte {
		if d.state == stateDiscard {
			d.Reset()
			return nil, nil
		}
		if len(d.buffer) == 0 {
			return nil, nil
		}
		raw := Unescape(d.buffer)
		d.buffer = d.buffer[:0]
		return raw, nil
	}

	switch d.state {
	case stateDiscard:
		return nil, nil

	case stateCollect:
		if len(d.buffer) >= MaxFrameSize {
			size := len(d.buffer)
			d.buffer = d.buffer[:0]
			d.state = stateDiscard
			return nil, fmt.Errorf("%w: %d bytes without marker", ErrFrameOverflow, size+1)
		}
		d.buffer = append(d.buffer, b)
		return nil, nil

	default:
		d.Reset()
		return nil, fmt.Errorf("invalid decoder state: %d", d.state)
	}
}

// Feed processes a chunk of received bytes and returns every frame it completes,
// in arrival order. Decoding continues past an overflow; the first error is returned
// alongside the frames that were decoded.
func (d *Decoder) Feed(chunk []byte) ([][]byte, error) {
	var frames [][]byte
	var firstErr error

	for _, b := range chunk {
		raw, err := d.DecodeByte(b)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if raw != nil {
			frames = append(frames, raw)
		}
	}

	return frames, firstErr
}
