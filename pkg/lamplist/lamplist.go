// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package lamplist builds the STATE2.DAT lamp list file that panels expose to
// the server through the file commands.
//
// The file is big-endian:
//
//	name[16] | node_count u32 | param_count u32 | node_size u32 | node_table_offset u32
//	param_table: param_count x {offset u16, size u16, type u16, reserved u16}
//	node_table:  node_count x node_size bytes
package lamplist

import (
	"encoding/binary"
	"fmt"
)

// FileName is the catalog name of the lamp list
const FileName = "STATE2.DAT"

const (
	nameSize       = 16
	headerSize     = nameSize + 4*4
	paramEntrySize = 8

	// NodeSize is the size of one node record
	NodeSize = 24
)

// Default electrical values of generated nodes
const (
	DefaultVoltage  = 220
	DefaultCurrent  = 200
	DefaultEnergy   = 100
	DefaultWorktime = 24 * 3600
)

// Param describes one field of a node record
type Param struct {
	Type uint16
	Size uint16
}

// Params lists the node record fields in record order
var Params = []Param{
	{Type: 0x01, Size: 4}, // id
	{Type: 0x02, Size: 4}, // status bitmask
	{Type: 0x03, Size: 2}, // mode
	{Type: 0x04, Size: 1}, // host power level, %
	{Type: 0x05, Size: 1}, // node power level, %
	{Type: 0x06, Size: 2}, // voltage
	{Type: 0x07, Size: 2}, // current
	{Type: 0x08, Size: 4}, // energy, Wh
	{Type: 0x09, Size: 4}, // work time
}

// Node is one lamp controller
type Node struct {
	ID        uint32
	Status    uint32
	Mode      uint16
	LevelHost uint8
	LevelNode uint8
	Voltage   uint16
	Current   uint16
	Energy    uint32
	Worktime  uint32
}

// NewNodes generates count nodes numbered from 1 with the given host level and status
func NewNodes(count int, level uint8, status uint32) []Node {
	nodes := make([]Node, 0, count)
	for i := 1; i <= count; i++ {
		nodes = append(nodes, Node{
			ID:        uint32(i),
			Status:    status,
			LevelHost: level,
			Voltage:   DefaultVoltage,
			Current:   DefaultCurrent,
			Energy:    DefaultEnergy,
			Worktime:  DefaultWorktime,
		})
	}
	return nodes
}

// NodeTableOffset returns the offset of the first node record
func NodeTableOffset() int {
	return headerSize + len(Params)*paramEntrySize
}

// Build encodes the lamp list file
func Build(nodes []Node) []byte {
	be := binary.BigEndian
	out := make([]byte, 0, NodeTableOffset()+len(nodes)*NodeSize)

	name := make([]byte, nameSize)
	copy(name, FileName)
	out = append(out, name...)

	out = be.AppendUint32(out, uint32(len(nodes)))
	out = be.AppendUint32(out, uint32(len(Params)))
	out = be.AppendUint32(out, NodeSize)
	out = be.AppendUint32(out, uint32(NodeTableOffset()))

	var offset uint16
	for _, p := range Params {
		out = be.AppendUint16(out, offset)
		out = be.AppendUint16(out, p.Size)
		out = be.AppendUint16(out, p.Type)
		out = be.AppendUint16(out, 0)
		offset += p.Size
	}

	for _, n := range nodes {
		out = be.AppendUint32(out, n.ID)
		out = be.AppendUint32(out, n.Status)
		out = be.AppendUint16(out, n.Mode)
		out = append(out, n.LevelHost, n.LevelNode)
		out = be.AppendUint16(out, n.Voltage)
		out = be.AppendUint16(out, n.Current)
		out = be.AppendUint32(out, n.Energy)
		out = be.AppendUint32(out, n.Worktime)
	}

	return out
}

// Parse decodes a lamp list file, used by the catalog command
func Parse(data []byte) ([]Node, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("lamp list too short: %d bytes", len(data))
	}
	be := binary.BigEndian

	count := int(be.Uint32(data[16:20]))
	size := int(be.Uint32(data[24:28]))
	offset := int(be.Uint32(data[28:32]))

	if size < NodeSize {
		return nil, fmt.Errorf("unsupported node size %d", size)
	}
	if offset+count*size > len(data) {
		return nil, fmt.Errorf("lamp list truncated: %d nodes of %d bytes at %d, have %d bytes",
			count, size, offset, len(data))
	}

	nodes := make([]Node, 0, count)
	for i := 0; i < count; i++ {
		r := data[offset+i*size:]
		nodes = append(nodes, Node{
			ID:        be.Uint32(r[0:4]),
			Status:    be.Uint32(r[4:8]),
			Mode:      be.Uint16(r[8:10]),
			LevelHost: r[10],
			LevelNode: r[11],
			Voltage:   be.Uint16(r[12:14]),
			Current:   be.Uint16(r[14:16]),
			Energy:    be.Uint32(r[16:20]),
			Worktime:  be.Uint32(r[20:24]),
		})
	}
	return nodes, nil
}
