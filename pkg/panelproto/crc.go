// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package panelproto

import "github.com/sigurn/crc16"

// crcTable is the standard Modbus byte table: seed 0xFFFF, reflected polynomial
// 0xA001. The low byte of the result goes on the wire first.
var crcTable = crc16.MakeTable(crc16.CRC16_MODBUS)

// Checksum computes the CRC over the concatenation of the given byte sequences and
// returns it as the two wire bytes (lo first).
func Checksum(parts ...[]byte) (lo, hi byte) {
	crc := crc16.Init(crcTable)
	for _, p := range parts {
		crc = crc16.Update(crc, p, crcTable)
	}
	crc = crc16.Complete(crc, crcTable)
	return byte(crc), byte(crc >> 8)
}

// HeaderCRC computes the CRC of a frame from its raw header and raw payload.
// The header bytes consumed depend on the layout selected by the function code.
func HeaderCRC(h Header, payload []byte) (lo, hi byte) {
	if h.IsLong() {
		return Checksum(h.Bytes(), payload)
	}
	return Checksum(h.ShortBytes(), payload)
}

// AppendCRC returns raw with its two CRC bytes appended.
func AppendCRC(raw []byte) []byte {
	lo, hi := Checksum(raw)
	out := make([]byte, 0, len(raw)+CRCSize)
	out = append(out, raw...)
	return append(out, lo, hi)
}
