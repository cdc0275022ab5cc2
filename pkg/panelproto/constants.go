// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package panelproto implements the panel side of the byte-stuffed, Modbus-style
// field panel protocol.
//
// A frame on the wire is a marker byte, the escaped body (header, payload and two
// CRC bytes) and a closing marker byte. This package provides the CRC engine, the
// frame codec (escaping, wrapping, splitting and stream re-assembly), the message
// header codec, payload codecs for the supported commands, and helpers for
// formatting and counting frames.
package panelproto

// Protocol framing bytes
const (
	MarkerByte = 0xC0
	EscByte    = 0xDB
	EscMarker  = 0xDC // follows EscByte in place of MarkerByte
	EscEsc     = 0xDD // follows EscByte in place of EscByte
)

// Header layout
const (
	HeaderSize      = 8
	ShortHeaderSize = 4
	CRCSize         = 2

	// FunctionLong marks the long header layout. Any other function code selects
	// the short layout for CRC purposes.
	FunctionLong = 0x6E

	OffsetFunction = 3
	OffsetCommand  = 6
	OffsetLen      = 7
)

// Size limits
const (
	MaxPayloadSize = 255
	MaxFrameSize   = 2*(HeaderSize+MaxPayloadSize+CRCSize) + 2
)

// Session bootstrap values applied by the sync handshake
const (
	BootstrapTx = 0x80
	BootstrapRx = 0x00
)

// syncPayload is the raw body of the sync exchange before its CRC.
var syncPayload = []byte{0x00, 0x80}

// Commands
const (
	CmdIdentification = 0x01
	CmdState          = 0x02
	CmdRelaySet       = 0x05
	CmdFileSearchInit = 0x10
	CmdFileSearch     = 0x11
	CmdFileResult     = 0x12
	CmdFileOpenRead   = 0x13
	CmdFileRead       = 0x14
	CmdFileClose      = 0x16
	CmdReplyError     = 0x7F

	// AckOffset is added to a request's command byte to form its acknowledgment.
	AckOffset = 0x80

	CmdIdentificationAck = CmdIdentification + AckOffset
	CmdStateAck          = CmdState + AckOffset
	CmdFileReadAck       = CmdFileRead + AckOffset
)

// ErrorCode is carried in a reply-error payload.
type ErrorCode uint8

// Error code values
const (
	ErrorCodeNone         ErrorCode = 0x00
	ErrorCodeFileNotFound ErrorCode = 0x02
	ErrorCodeEndOfFile    ErrorCode = 0x03
	ErrorCodeNoFileOpen   ErrorCode = 0x04
)

// Identification constants reported by every emulated panel
var (
	ProtocolVersion = [2]byte{0x02, 0x0A}
	ConfigVersion   = [2]byte{0xCE, 0xCE}
	FirmwareVersion = [2]byte{0x01, 0x33}
)

const (
	DeviceType    = 0x46
	DeviceValid   = 0x01
	PhoneWidth    = 16
	FileNameWidth = 16
)
