// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package panelproto

import (
	"bytes"
	"fmt"
)

// Frame is a parsed, unescaped long frame
type Frame struct {
	Header  Header
	Payload []byte
	CRC     [2]byte // trailing wire bytes, lo first
}

// Escape applies byte stuffing: the marker becomes EscByte EscMarker and the
// escape byte becomes EscByte EscEsc. All other bytes are copied.
func Escape(raw []byte) []byte {
	result := make([]byte, 0, len(raw)+len(raw)/8+2)

	for _, b := range raw {
		switch b {
		case MarkerByte:
			result = append(result, EscByte, EscMarker)
		case EscByte:
			result = append(result, EscByte, EscEsc)
		default:
			result = append(result, b)
		}
	}

	return result
}

// Unescape removes byte stuffing. It never fails: an escape byte followed by
// anything other than EscMarker or EscEsc is kept as-is and the following byte
// is processed normally, and a trailing escape byte is kept too. Panels in the
// field tolerate such sequences, so the engine relies on this.
func Unescape(wire []byte) []byte {
	result := make([]byte, 0, len(wire))

	for i := 0; i < len(wire); i++ {
		b := wire[i]
		if b == EscByte && i+1 < len(wire) {
			switch wire[i+1] {
			case EscMarker:
				result = append(result, MarkerByte)
				i++
				continue
			case EscEsc:
				result = append(result, EscByte)
				i++
				continue
			}
		}
		result = append(result, b)
	}

	return result
}

// Wrap surrounds an escaped body with marker bytes
func Wrap(body []byte) []byte {
	out := make([]byte, 0, len(body)+2)
	out = append(out, MarkerByte)
	out = append(out, body...)
	return append(out, MarkerByte)
}

// SplitFrames splits a byte stream on the marker byte and drops empty fragments.
// The returned fragments are still escaped.
func SplitFrames(stream []byte) [][]byte {
	var frames [][]byte
	for _, part := range bytes.Split(stream, []byte{MarkerByte}) {
		if len(part) == 0 {
			continue
		}
		frames = append(frames, part)
	}
	return frames
}

// EncodeFrame builds a complete wire frame: CRC over the raw header and payload,
// escape header, payload and CRC together, then wrap with markers. The header's
// Len field is set from the payload.
func EncodeFrame(h Header, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(payload), MaxPayloadSize)
	}
	h.Len = uint8(len(payload))

	lo, hi := HeaderCRC(h, payload)

	raw := make([]byte, 0, HeaderSize+len(payload)+CRCSize)
	raw = append(raw, h.Bytes()...)
	raw = append(raw, payload...)
	raw = append(raw, lo, hi)

	return Wrap(Escape(raw)), nil
}

// ParseFrame splits an unescaped long frame into header, payload and CRC bytes.
// The payload is bounded by the header's Len and by the bytes actually present
// before the CRC. The CRC is not verified here.
func ParseFrame(raw []byte) (*Frame, error) {
	if len(raw) < HeaderSize+CRCSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooShort, len(raw))
	}

	h, err := UnmarshalHeader(raw)
	if err != nil {
		return nil, err
	}

	end := HeaderSize + int(h.Len)
	if limit := len(raw) - CRCSize; end > limit {
		end = limit
	}

	f := &Frame{
		Header:  h,
		Payload: append([]byte(nil), raw[HeaderSize:end]...),
	}
	f.CRC[0] = raw[len(raw)-2]
	f.CRC[1] = raw[len(raw)-1]
	return f, nil
}

// IsLongFrame reports whether an unescaped frame carries the long function code
func IsLongFrame(raw []byte) bool {
	return len(raw) > OffsetFunction && raw[OffsetFunction] == FunctionLong
}

// SyncRequest returns the raw (unescaped) body the server sends to start a session
func SyncRequest() []byte {
	return AppendCRC(syncPayload)
}

// IsSync reports whether an unescaped frame is the sync request
func IsSync(raw []byte) bool {
	return bytes.Equal(raw, SyncRequest())
}

// EncodeSync returns the wrapped sync frame. The panel answers a sync request
// with exactly the same bytes.
func EncodeSync() []byte {
	return Wrap(Escape(SyncRequest()))
}
