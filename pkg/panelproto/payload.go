// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package panelproto

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Payload builders and parsers for the commands the panel understands.
// Multi-byte integers are little-endian, matching the packed structures the
// server expects.

// Payload sizes
const (
	IdentificationSize  = 8 + PhoneWidth
	FileDescriptorSize  = 8 + FileNameWidth
	FileReadRequestSize = 6
	ErrorReplySize      = 2

	// MaxFileChunk is the largest chunk that fits a read reply next to its offset
	MaxFileChunk = MaxPayloadSize - 4
)

// Identification is the payload of the identification acknowledgment
type Identification struct {
	ProtocolVersion [2]byte
	DeviceType      uint8
	Validity        uint8
	ConfigVersion   [2]byte
	FirmwareVersion [2]byte
	Phone           string
}

// NewIdentification returns the identification every emulated panel reports
func NewIdentification(phone string) Identification {
	return Identification{
		ProtocolVersion: ProtocolVersion,
		DeviceType:      DeviceType,
		Validity:        DeviceValid,
		ConfigVersion:   ConfigVersion,
		FirmwareVersion: FirmwareVersion,
		Phone:           phone,
	}
}

// MarshalBinary packs the identification. The phone is zero padded (or truncated)
// to PhoneWidth bytes.
func (id Identification) MarshalBinary() ([]byte, error) {
	out := make([]byte, IdentificationSize)
	copy(out[0:2], id.ProtocolVersion[:])
	out[2] = id.DeviceType
	out[3] = id.Validity
	copy(out[4:6], id.ConfigVersion[:])
	copy(out[6:8], id.FirmwareVersion[:])
	copy(out[8:], []byte(id.Phone))
	return out, nil
}

// ParseIdentification unpacks an identification payload
func ParseIdentification(payload []byte) (Identification, error) {
	if len(payload) < IdentificationSize {
		return Identification{}, fmt.Errorf("%w: identification needs %d bytes, got %d",
			ErrFrameTooShort, IdentificationSize, len(payload))
	}
	var id Identification
	copy(id.ProtocolVersion[:], payload[0:2])
	id.DeviceType = payload[2]
	id.Validity = payload[3]
	copy(id.ConfigVersion[:], payload[4:6])
	copy(id.FirmwareVersion[:], payload[6:8])
	id.Phone = ParseName(payload[8:IdentificationSize])
	return id, nil
}

// FileDescriptor describes a catalog entry in file-result replies
type FileDescriptor struct {
	Size      uint32
	Timestamp uint32 // unix seconds
	Name      string
}

// MarshalBinary packs the descriptor with the name zero padded to FileNameWidth
func (fd FileDescriptor) MarshalBinary() ([]byte, error) {
	out := make([]byte, FileDescriptorSize)
	binary.LittleEndian.PutUint32(out[0:4], fd.Size)
	binary.LittleEndian.PutUint32(out[4:8], fd.Timestamp)
	copy(out[8:], []byte(fd.Name))
	return out, nil
}

// ParseFileDescriptor unpacks a file-result payload
func ParseFileDescriptor(payload []byte) (FileDescriptor, error) {
	if len(payload) < FileDescriptorSize {
		return FileDescriptor{}, fmt.Errorf("%w: descriptor needs %d bytes, got %d",
			ErrFrameTooShort, FileDescriptorSize, len(payload))
	}
	return FileDescriptor{
		Size:      binary.LittleEndian.Uint32(payload[0:4]),
		Timestamp: binary.LittleEndian.Uint32(payload[4:8]),
		Name:      ParseName(payload[8:FileDescriptorSize]),
	}, nil
}

// FileReadRequest is the payload of a file read command
type FileReadRequest struct {
	Offset uint32
	Length uint16
}

// MarshalBinary packs the request
func (r FileReadRequest) MarshalBinary() ([]byte, error) {
	out := make([]byte, FileReadRequestSize)
	binary.LittleEndian.PutUint32(out[0:4], r.Offset)
	binary.LittleEndian.PutUint16(out[4:6], r.Length)
	return out, nil
}

// ParseFileReadRequest unpacks a file read request
func ParseFileReadRequest(payload []byte) (FileReadRequest, error) {
	if len(payload) < FileReadRequestSize {
		return FileReadRequest{}, fmt.Errorf("%w: read request needs %d bytes, got %d",
			ErrFrameTooShort, FileReadRequestSize, len(payload))
	}
	return FileReadRequest{
		Offset: binary.LittleEndian.Uint32(payload[0:4]),
		Length: binary.LittleEndian.Uint16(payload[4:6]),
	}, nil
}

// EncodeFileReadReply builds {offset ‖ chunk}
func EncodeFileReadReply(offset uint32, chunk []byte) []byte {
	out := make([]byte, 4, 4+len(chunk))
	binary.LittleEndian.PutUint32(out, offset)
	return append(out, chunk...)
}

// ParseFileReadReply splits a read reply into offset and chunk
func ParseFileReadReply(payload []byte) (uint32, []byte, error) {
	if len(payload) < 4 {
		return 0, nil, fmt.Errorf("%w: read reply needs 4 bytes, got %d", ErrFrameTooShort, len(payload))
	}
	return binary.LittleEndian.Uint32(payload[0:4]), payload[4:], nil
}

// EncodeErrorReply builds the payload of a reply-error frame
func EncodeErrorReply(command uint8, code ErrorCode) []byte {
	return []byte{command, uint8(code)}
}

// ParseErrorReply unpacks a reply-error payload
func ParseErrorReply(payload []byte) (uint8, ErrorCode, error) {
	if len(payload) < ErrorReplySize {
		return 0, ErrorCodeNone, fmt.Errorf("%w: error reply needs %d bytes, got %d",
			ErrFrameTooShort, ErrorReplySize, len(payload))
	}
	return payload[0], ErrorCode(payload[1]), nil
}

// EncodeName returns a zero-terminated name for search and open requests
func EncodeName(name string) []byte {
	return append([]byte(name), 0x00)
}

// ParseName reads a name up to the first zero byte
func ParseName(payload []byte) string {
	if i := bytes.IndexByte(payload, 0x00); i >= 0 {
		payload = payload[:i]
	}
	return string(payload)
}

// NewRequest returns a long header as the server would send it to a panel.
// Used by the listen probe and by tests.
func NewRequest(tx, rx, server, panel, command uint8) Header {
	return Header{
		TxID:          tx,
		RxID:          rx,
		DistAddressMB: panel,
		FunctionCode:  FunctionLong,
		SourAddress:   server,
		DistAddress:   panel,
		Command:       command,
	}
}
