// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package panelproto

import (
	"bytes"
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"
)

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// getFuzzSeed returns the seed from FUZZ_SEED env var, or generates one from current time
func getFuzzSeed() int64 {
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if seed, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			return seed
		}
	}
	return time.Now().UnixNano()
}

// newFuzzRng creates a new random number generator and logs the seed for reproducibility
func newFuzzRng(t *testing.T) *rand.Rand {
	seed := getFuzzSeed()
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

// randomBytes returns n random bytes biased towards the framing bytes
func randomBytes(rng *rand.Rand, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		switch rng.Intn(4) {
		case 0:
			out[i] = MarkerByte
		case 1:
			out[i] = EscByte
		default:
			out[i] = byte(rng.Intn(256))
		}
	}
	return out
}

// ============================================================
// Codec Fuzz Tests
// ============================================================

// TestFuzzEscape_RoundTrip verifies Unescape(Escape(x)) == x and that escaped
// output never contains a marker
func TestFuzzEscape_RoundTrip(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)

	for i := 0; i < rounds; i++ {
		in := randomBytes(rng, rng.Intn(300))
		esc := Escape(in)

		if bytes.IndexByte(esc, MarkerByte) >= 0 {
			t.Fatalf("round %d: escaped output contains marker: % X", i, esc)
		}
		if back := Unescape(esc); !bytes.Equal(back, in) {
			t.Fatalf("round %d: round trip mismatch\n in: % X\nout: % X", i, in, back)
		}
	}
}

// TestFuzzEncodeFrame_RoundTrip encodes random frames, splits the stream and
// verifies header, payload and CRC survive
func TestFuzzEncodeFrame_RoundTrip(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)

	for i := 0; i < rounds; i++ {
		h := NewRequest(uint8(rng.Intn(256)), uint8(rng.Intn(256)), uint8(rng.Intn(256)),
			uint8(rng.Intn(256)), uint8(rng.Intn(256)))
		payload := randomBytes(rng, rng.Intn(MaxPayloadSize+1))

		wire, err := EncodeFrame(h, payload)
		if err != nil {
			t.Fatalf("round %d: EncodeFrame() error: %v", i, err)
		}

		parts := SplitFrames(wire)
		if len(parts) != 1 {
			t.Fatalf("round %d: SplitFrames() = %d fragments, want 1", i, len(parts))
		}

		f, err := ParseFrame(Unescape(parts[0]))
		if err != nil {
			t.Fatalf("round %d: ParseFrame() error: %v", i, err)
		}
		if !bytes.Equal(f.Payload, payload) {
			t.Fatalf("round %d: payload mismatch", i)
		}
		lo, hi := HeaderCRC(f.Header, f.Payload)
		if f.CRC != [2]byte{lo, hi} {
			t.Fatalf("round %d: CRC mismatch", i)
		}
	}
}

// TestFuzzChecksum_BitFlip verifies a single flipped bit always changes the CRC
func TestFuzzChecksum_BitFlip(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)

	for i := 0; i < rounds; i++ {
		data := randomBytes(rng, 1+rng.Intn(64))
		lo, hi := Checksum(data)

		flipped := append([]byte(nil), data...)
		flipped[rng.Intn(len(flipped))] ^= 1 << uint(rng.Intn(8))
		flo, fhi := Checksum(flipped)

		if lo == flo && hi == fhi {
			t.Fatalf("round %d: bit flip not detected in % X", i, data)
		}
	}
}

// TestFuzzDecoder_RandomChunks verifies chunking never changes the decoded frames
func TestFuzzDecoder_RandomChunks(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)

	for i := 0; i < rounds; i++ {
		var stream []byte
		for n := rng.Intn(5); n >= 0; n-- {
			wire, _ := EncodeFrame(NewRequest(uint8(rng.Intn(256)), 0, 1, 5, CmdState),
				randomBytes(rng, rng.Intn(40)))
			stream = append(stream, wire...)
		}

		want := SplitFrames(stream)

		d := NewDecoder()
		var got [][]byte
		for rest := stream; len(rest) > 0; {
			n := 1 + rng.Intn(len(rest))
			frames, err := d.Feed(rest[:n])
			if err != nil {
				t.Fatalf("round %d: Feed() error: %v", i, err)
			}
			got = append(got, frames...)
			rest = rest[n:]
		}

		if len(got) != len(want) {
			t.Fatalf("round %d: decoded %d frames, want %d", i, len(got), len(want))
		}
		for j := range want {
			if !bytes.Equal(got[j], Unescape(want[j])) {
				t.Fatalf("round %d: frame %d mismatch", i, j)
			}
		}
	}
}

// TestFuzzDecoder_RandomBytes feeds garbage to the decoder and verifies it never panics
func TestFuzzDecoder_RandomBytes(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)

	for i := 0; i < rounds; i++ {
		d := NewDecoder()
		frames, _ := d.Feed(randomBytes(rng, rng.Intn(2*MaxFrameSize)))
		for _, raw := range frames {
			if IsLongFrame(raw) {
				ParseFrame(raw)
			}
			FormatFrame(raw)
		}
	}
}
