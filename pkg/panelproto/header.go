// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package panelproto

import "fmt"

// Header is the fixed-size message header that precedes every long frame.
type Header struct {
	TxID          uint8
	RxID          uint8
	DistAddressMB uint8
	FunctionCode  uint8
	SourAddress   uint8
	DistAddress   uint8
	Command       uint8
	Len           uint8
}

// IsLong reports whether the header uses the long layout
func (h Header) IsLong() bool {
	return h.FunctionCode == FunctionLong
}

// Bytes packs the header into its 8-byte long layout
func (h Header) Bytes() []byte {
	return []byte{
		h.TxID,
		h.RxID,
		h.DistAddressMB,
		h.FunctionCode,
		h.SourAddress,
		h.DistAddress,
		h.Command,
		h.Len,
	}
}

// ShortBytes packs the header into its 4-byte short layout
func (h Header) ShortBytes() []byte {
	return []byte{h.TxID, h.RxID, h.DistAddressMB, h.FunctionCode}
}

// MarshalBinary implements encoding.BinaryMarshaler
func (h Header) MarshalBinary() ([]byte, error) {
	return h.Bytes(), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler
func (h *Header) UnmarshalBinary(data []byte) error {
	parsed, err := UnmarshalHeader(data)
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// UnmarshalHeader unpacks a long header from the first HeaderSize bytes of data.
// Only the size is checked; content validation belongs to the caller.
func UnmarshalHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("%w: header needs %d bytes, got %d", ErrFrameTooShort, HeaderSize, len(data))
	}
	return Header{
		TxID:          data[0],
		RxID:          data[1],
		DistAddressMB: data[2],
		FunctionCode:  data[3],
		SourAddress:   data[4],
		DistAddress:   data[5],
		Command:       data[6],
		Len:           data[7],
	}, nil
}

// String returns a compact representation for logs
func (h Header) String() string {
	return fmt.Sprintf("tx=%02X rx=%02X mb=%02X fn=%02X src=%02X dst=%02X cmd=%02X len=%d",
		h.TxID, h.RxID, h.DistAddressMB, h.FunctionCode, h.SourAddress, h.DistAddress, h.Command, h.Len)
}
