// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rudics

import (
	"bytes"
	"errors"
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"
)

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 200
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 200
}

// newFuzzRng creates a seeded generator and logs the seed for reproducibility
func newFuzzRng(t *testing.T) *rand.Rand {
	seed := time.Now().UnixNano()
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if s, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			seed = s
		}
	}
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

func assertNoReserved(t *testing.T, wire []byte) {
	t.Helper()
	for i, b := range wire[:len(wire)-1] {
		if bytes.IndexByte(DefaultReserved, b) >= 0 {
			t.Fatalf("reserved byte 0x%02X at offset %d", b, i)
		}
	}
	if wire[len(wire)-1] != Delimiter {
		t.Fatalf("packet should end with delimiter, got 0x%02X", wire[len(wire)-1])
	}
}

func TestSerialize_RoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{"empty", []byte{}},
		{"single zero", []byte{0x00}},
		{"leading zeros", []byte{0x00, 0x00, 0x00, 0x01}},
		{"all reserved", []byte{0x00, 0x0D, 0x0A, 0xFF, 0x0D, 0x0D, 0x00}},
		{"ascii", []byte("hello, iridium")},
		{"bye", []byte("bye")},
		{"all byte values", func() []byte {
			b := make([]byte, 256)
			for i := range b {
				b[i] = byte(i)
			}
			return b
		}()},
		{"high bytes", bytes.Repeat([]byte{0xFF}, 33)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wire := Serialize(tt.payload)
			assertNoReserved(t, wire)

			got, err := Parse(wire)
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			if !bytes.Equal(got, tt.payload) {
				t.Errorf("round trip mismatch:\n got % X\nwant % X", got, tt.payload)
			}
		})
	}
}

func TestSerialize_RandomPayloads(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	for i := 0; i < rounds; i++ {
		payload := make([]byte, rng.Intn(4096))
		rng.Read(payload)

		wire := Serialize(payload)
		assertNoReserved(t, wire)

		got, err := Parse(wire)
		if err != nil {
			t.Fatalf("round %d (%d bytes): Parse failed: %v", i, len(payload), err)
		}
		if !bytes.Equal(got, payload) {
			t.Fatalf("round %d (%d bytes): round trip mismatch", i, len(payload))
		}
	}
}

func TestParse_TamperDetection(t *testing.T) {
	payload := []byte("The quick brown fox jumps over the lazy dog 0123456789")
	wire := Serialize(payload)

	reducedBase := 256 - len(DefaultReserved)
	for _, idx := range []int{1, len(wire) / 2, len(wire) - 3} {
		corrupted := append([]byte(nil), wire...)
		orig := corrupted[idx]
		// pick a different digit that is neither reserved nor a remap value
		for v := 1; v < reducedBase; v++ {
			candidate := byte((int(orig) + v) % reducedBase)
			if bytes.IndexByte(DefaultReserved, candidate) < 0 {
				corrupted[idx] = candidate
				break
			}
		}

		_, err := Parse(corrupted)
		if !errors.Is(err, ErrBadChecksum) {
			t.Errorf("offset %d: expected ErrBadChecksum, got %v", idx, err)
		}
	}
}

func TestParse_MissingDelimiter(t *testing.T) {
	wire := Serialize([]byte("data"))
	_, err := Parse(wire[:len(wire)-1])
	if !errors.Is(err, ErrTooShort) {
		t.Errorf("expected ErrTooShort, got %v", err)
	}

	_, err = Parse(nil)
	if !errors.Is(err, ErrTooShort) {
		t.Errorf("expected ErrTooShort for empty input, got %v", err)
	}
}

func TestParse_Truncated(t *testing.T) {
	_, err := Parse([]byte{0x05, Delimiter})
	if !errors.Is(err, ErrTooShort) {
		t.Errorf("expected ErrTooShort, got %v", err)
	}
}

func TestParse_StripsStrayReservedBytes(t *testing.T) {
	payload := []byte("noisy line")
	wire := Serialize(payload)

	noisy := make([]byte, 0, len(wire)+3)
	noisy = append(noisy, '\n')
	noisy = append(noisy, wire[:3]...)
	noisy = append(noisy, 0x00)
	noisy = append(noisy, wire[3:]...)

	got, err := Parse(noisy)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("got %q, want %q", got, payload)
	}
}

func TestNewCodec_Validation(t *testing.T) {
	tests := []struct {
		name     string
		reserved []byte
		wantErr  bool
	}{
		{"default", DefaultReserved, false},
		{"delimiter only", []byte{Delimiter}, false},
		{"missing delimiter", []byte{0x00, 0x0A}, true},
		{"duplicate", []byte{0x0D, 0x0D}, true},
		{"remap collides", []byte{0x00, 0x0D, 0xFE}, true},
		{"empty", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCodec(tt.reserved)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewCodec(% X) error = %v, wantErr %v", tt.reserved, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrReservedSet) {
				t.Errorf("expected ErrReservedSet, got %v", err)
			}
		})
	}
}

func TestCodec_CustomReservedRoundTrip(t *testing.T) {
	c, err := NewCodec([]byte{0x0D, 0x0A, 0x2B})
	if err != nil {
		t.Fatalf("NewCodec failed: %v", err)
	}
	payload := []byte("+++ is not allowed on this link +++")
	wire := c.Serialize(payload)
	if bytes.IndexByte(wire[:len(wire)-1], '+') >= 0 {
		t.Errorf("serialized packet contains reserved '+': %q", wire)
	}
	got, err := c.Parse(wire)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("got %q, want %q", got, payload)
	}
}
