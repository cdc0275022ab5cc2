// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package panelproto

import (
	"fmt"
	"strings"
	"time"
)

// FormatFrame formats an unescaped frame into a human-readable string
func FormatFrame(raw []byte) string {
	timestamp := time.Now().Format("15:04:05.000")

	if IsSync(raw) {
		return fmt.Sprintf("[%s] SYNC %s\n", timestamp, HexString(raw))
	}

	if !IsLongFrame(raw) {
		return fmt.Sprintf("[%s] SHORT/UNKNOWN (%d bytes)\n%s", timestamp, len(raw), FormatHexDump(raw))
	}

	f, err := ParseFrame(raw)
	if err != nil {
		return fmt.Sprintf("[%s] MALFORMED: %v\n", timestamp, err)
	}

	h := f.Header
	result := fmt.Sprintf("[%s] %s (0x%02X) tx=%02X rx=%02X src=%02X dst=%02X len=%d crc=%02X%02X\n",
		timestamp, CommandName(h.Command), h.Command, h.TxID, h.RxID, h.SourAddress, h.DistAddress, h.Len,
		f.CRC[0], f.CRC[1])

	if len(f.Payload) > 0 {
		result += FormatPayload(h.Command, f.Payload)
	}
	return result
}

// CommandName returns the human-readable name for a command code
func CommandName(cmd uint8) string {
	switch cmd {
	case CmdIdentification:
		return "IDENTIFICATION"
	case CmdIdentificationAck:
		return "IDENTIFICATION_ACK"
	case CmdState:
		return "STATE_REQUEST"
	case CmdStateAck:
		return "STATE_ACK"
	case CmdRelaySet:
		return "RELAY_SET"
	case CmdFileSearchInit:
		return "FILE_SEARCH_INIT"
	case CmdFileSearch:
		return "FILE_SEARCH"
	case CmdFileResult:
		return "FILE_RESULT"
	case CmdFileOpenRead:
		return "FILE_OPEN_READ"
	case CmdFileRead:
		return "FILE_READ"
	case CmdFileReadAck:
		return "FILE_READ_ACK"
	case CmdFileClose:
		return "FILE_CLOSE"
	case CmdReplyError:
		return "REPLY_ERROR"
	}

	if cmd >= AckOffset {
		return "ACK_" + CommandName(cmd-AckOffset)
	}
	return "UNKNOWN"
}

// FormatPayload decodes the payload of known commands, falling back to a hex dump
func FormatPayload(cmd uint8, payload []byte) string {
	switch cmd {
	case CmdIdentificationAck:
		if id, err := ParseIdentification(payload); err == nil {
			return fmt.Sprintf("  Protocol: %d.%d, Type: 0x%02X, Firmware: %02X.%02X, Phone: %q\n",
				id.ProtocolVersion[0], id.ProtocolVersion[1], id.DeviceType,
				id.FirmwareVersion[0], id.FirmwareVersion[1], id.Phone)
		}

	case CmdFileResult:
		if fd, err := ParseFileDescriptor(payload); err == nil {
			return fmt.Sprintf("  File: %q, Size: %d, Modified: %s\n",
				fd.Name, fd.Size, time.Unix(int64(fd.Timestamp), 0).UTC().Format(time.RFC3339))
		}

	case CmdFileRead:
		if req, err := ParseFileReadRequest(payload); err == nil {
			return fmt.Sprintf("  Offset: %d, Length: %d\n", req.Offset, req.Length)
		}

	case CmdFileReadAck:
		if offset, chunk, err := ParseFileReadReply(payload); err == nil {
			return fmt.Sprintf("  Offset: %d, Chunk: %d bytes\n", offset, len(chunk))
		}

	case CmdFileSearch, CmdFileOpenRead:
		return fmt.Sprintf("  Name: %q\n", ParseName(payload))

	case CmdReplyError:
		if req, code, err := ParseErrorReply(payload); err == nil {
			return fmt.Sprintf("  Request: %s (0x%02X), Code: 0x%02X\n", CommandName(req), req, uint8(code))
		}

	case CmdStateAck:
		return formatStateBlocks(payload)
	}

	return FormatHexDump(payload)
}

// formatStateBlocks lists the {len,type,data} blocks of a state reply
func formatStateBlocks(payload []byte) string {
	var sb strings.Builder
	for i := 0; i+1 < len(payload); {
		length := int(payload[i])
		if length < 2 || i+length > len(payload) {
			sb.WriteString("  (truncated block)\n")
			break
		}
		sb.WriteString(fmt.Sprintf("  Block 0x%02X: %s\n", payload[i+1], HexString(payload[i+2:i+length])))
		i += length
	}
	return sb.String()
}

// FormatHexDump renders bytes as a 16-per-line hex dump
func FormatHexDump(data []byte) string {
	result := "  Payload: "
	for i, b := range data {
		if i > 0 && i%16 == 0 {
			result += "\n           "
		}
		result += fmt.Sprintf("%02X ", b)
	}
	return result + "\n"
}

// HexString renders bytes as space-separated lower-case hex, the format used
// in device logs.
func HexString(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.Grow(len(data) * 3)
	for i, b := range data {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02x", b)
	}
	return sb.String()
}
