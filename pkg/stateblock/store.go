// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package stateblock holds a panel's typed state blocks and encodes them for
// state replies.
package stateblock

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// Block types known to the emulator
const (
	TypeInfo     = 0x01
	TypeMode     = 0x02
	TypeVersion  = 0x04
	TypeRelays   = 0x21
	TypeInputs   = 0x23
	TypeAHP      = 0x24
	TypeChannels = 0x25
	TypeAlarm    = 0x26
)

// BlockHeaderSize is the {len,type} prefix of an encoded block
const BlockHeaderSize = 2

// relayBits is the number of relays addressable in the relay byte
const relayBits = 8

// Block is one typed state buffer
type Block struct {
	Type uint8  `cbor:"1,keyasint"`
	Data []byte `cbor:"2,keyasint"`
}

// Length returns the encoded length byte: data plus the {len,type} prefix
func (b Block) Length() int {
	return len(b.Data) + BlockHeaderSize
}

// Rand is the subset of *math/rand.Rand used by Randomize
type Rand interface {
	Intn(n int) int
}

// Store keeps blocks in insertion order. It is safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	blocks []Block
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{}
}

// NewDefaultStore creates a store holding the block set a freshly installed
// panel reports
func NewDefaultStore() *Store {
	s := NewStore()
	for _, b := range DefaultBlocks() {
		s.EditBlock(b.Type, b.Data)
	}
	return s
}

// DefaultBlocks returns the factory block set in reply order
func DefaultBlocks() []Block {
	info := append([]byte("Qulon-C2-Scen2, IP: 192.168.1.64 (ETH), connect failed"), 0x00)

	inputs := make([]byte, 31)
	inputs[0], inputs[1] = 0x80, 0x80

	channels := make([]byte, 31)
	for i := 3; i < len(channels); i++ {
		channels[i] = 0xFF
	}

	return []Block{
		{Type: TypeInfo, Data: info},
		{Type: TypeVersion, Data: []byte{0x00, 0x63}},
		{Type: TypeMode, Data: []byte{0x00}},
		{Type: TypeAHP, Data: []byte{0x00}},
		{Type: TypeRelays, Data: make([]byte, 16)},
		{Type: TypeInputs, Data: inputs},
		{Type: TypeChannels, Data: channels},
		{Type: TypeAlarm, Data: []byte{0x00}},
	}
}

func (s *Store) find(typ uint8) int {
	for i := range s.blocks {
		if s.blocks[i].Type == typ {
			return i
		}
	}
	return -1
}

// EditBlock overwrites an existing block's data byte-for-byte up to len(data),
// growing it if data is longer. A missing block is appended.
func (s *Store) EditBlock(typ uint8, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.editLocked(typ, data)
}

func (s *Store) editLocked(typ uint8, data []byte) {
	i := s.find(typ)
	if i < 0 {
		s.blocks = append(s.blocks, Block{Type: typ, Data: append([]byte(nil), data...)})
		return
	}
	b := &s.blocks[i]
	if len(data) > len(b.Data) {
		b.Data = append(b.Data, make([]byte, len(data)-len(b.Data))...)
	}
	copy(b.Data, data)
}

// relayByte returns a pointer to the first data byte of the relay block,
// creating the block if needed
func (s *Store) relayByte() *byte {
	i := s.find(TypeRelays)
	if i < 0 {
		s.blocks = append(s.blocks, Block{Type: TypeRelays, Data: []byte{0x00}})
		i = len(s.blocks) - 1
	}
	if len(s.blocks[i].Data) == 0 {
		s.blocks[i].Data = []byte{0x00}
	}
	return &s.blocks[i].Data[0]
}

// EditRelayBit applies a single-byte relay edit: the low nibble selects the
// relay, bit 4 turns it on (set) or off (clear)
func (s *Store) EditRelayBit(edit byte) error {
	index := edit & 0x0F
	if index >= relayBits {
		return fmt.Errorf("relay index %d out of range", index)
	}
	on := edit&0x10 != 0

	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.relayByte()
	if on {
		*p |= 1 << index
	} else {
		*p &^= 1 << index
	}
	return nil
}

// EditRelayMask applies a 3-byte mask {_, state_bits, enabled_bits}: each of the
// low four enabled bits copies the matching state bit into the relay block
func (s *Store) EditRelayMask(mask []byte) error {
	if len(mask) < 3 {
		return fmt.Errorf("relay mask needs 3 bytes, got %d", len(mask))
	}
	state, enabled := mask[1], mask[2]&0x0F

	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.relayByte()
	*p = (*p &^ enabled) | (state & enabled)
	return nil
}

// EditRelay dispatches to EditRelayBit or EditRelayMask by edit size
func (s *Store) EditRelay(edit []byte) error {
	switch len(edit) {
	case 0:
		return fmt.Errorf("empty relay edit")
	case 1, 2:
		return s.EditRelayBit(edit[0])
	default:
		return s.EditRelayMask(edit)
	}
}

// EditAhpState stores a 16-bit AHP state value in block 0x24. The data is a
// width byte followed by the value in big-endian order.
func (s *Store) EditAhpState(value uint16) {
	data := make([]byte, 3)
	data[0] = 2
	binary.BigEndian.PutUint16(data[1:], value)
	s.EditBlock(TypeAHP, data)
}

// Randomize simulates device drift: the relay byte gets a random 4-bit value and
// the first two input bytes get random values
func (s *Store) Randomize(rng Rand) {
	s.mu.Lock()
	defer s.mu.Unlock()

	*s.relayByte() = byte(rng.Intn(16))

	inputs := []byte{byte(rng.Intn(256)), byte(rng.Intn(256))}
	s.editLocked(TypeInputs, inputs)
}

// Encode concatenates every block as {len,type,data} in insertion order
func (s *Store) Encode() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	size := 0
	for _, b := range s.blocks {
		size += b.Length()
	}

	out := make([]byte, 0, size)
	for _, b := range s.blocks {
		out = append(out, byte(b.Length()), b.Type)
		out = append(out, b.Data...)
	}
	return out
}

// Blocks returns a copy of the blocks in order
func (s *Store) Blocks() []Block {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyBlocks(s.blocks)
}

// Block returns a copy of one block
func (s *Store) Block(typ uint8) (Block, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.find(typ)
	if i < 0 {
		return Block{}, false
	}
	return Block{Type: typ, Data: append([]byte(nil), s.blocks[i].Data...)}, true
}

// Relays returns the relay byte, or 0 without a relay block
func (s *Store) Relays() byte {
	b, ok := s.Block(TypeRelays)
	if !ok || len(b.Data) == 0 {
		return 0
	}
	return b.Data[0]
}

// Reset restores the factory block set
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks = DefaultBlocks()
}

// MarshalCBOR encodes the blocks for snapshots
func (s *Store) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(s.Blocks())
}

// UnmarshalCBOR replaces the blocks from a snapshot
func (s *Store) UnmarshalCBOR(data []byte) error {
	var blocks []Block
	if err := cbor.Unmarshal(data, &blocks); err != nil {
		return fmt.Errorf("failed to decode state blocks: %w", err)
	}
	for _, b := range blocks {
		if b.Length() > 0xFF {
			return fmt.Errorf("block 0x%02X too large: %d bytes", b.Type, len(b.Data))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks = blocks
	return nil
}

func copyBlocks(in []Block) []Block {
	out := make([]Block, len(in))
	for i, b := range in {
		out[i] = Block{Type: b.Type, Data: append([]byte(nil), b.Data...)}
	}
	return out
}
