package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func TestGenerateRandomString(t *testing.T) {
	t.Parallel()

	for _, length := range []int{1, 8, 16, 32} {
		s, err := GenerateRandomString(length)
		if err != nil {
			t.Fatalf("GenerateRandomString(%d) error = %v", length, err)
		}
		if len(s) != length {
			t.Errorf("GenerateRandomString(%d) has length %d", length, len(s))
		}
	}
}

func TestGenerateRandomString_Seeded(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		seedA string
		seedB string
		equal bool
	}{
		{"same seed", "sessnet", "sessnet", true},
		{"different seeds", "sessnet", "other", false},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			a, err := generateRandomString(16, newDRand(tc.seedA))
			if err != nil {
				t.Fatalf("generateRandomString() error = %v", err)
			}
			b, err := generateRandomString(16, newDRand(tc.seedB))
			if err != nil {
				t.Fatalf("generateRandomString() error = %v", err)
			}
			if (a == b) != tc.equal {
				t.Errorf("strings %q and %q, want equal = %v", a, b, tc.equal)
			}
		})
	}
}

func TestDRand_Read(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		size int
	}{
		{"half a block", 16},
		{"one block", 32},
		{"several blocks", 100},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			a, b := make([]byte, tc.size), make([]byte, tc.size)
			n, err := newDRand("seed").Read(a)
			if err != nil || n != tc.size {
				t.Fatalf("Read() = %d, %v", n, err)
			}
			newDRand("seed").Read(b)
			if !bytes.Equal(a, b) {
				t.Error("same seed produced different bytes")
			}
			if bytes.Equal(a, make([]byte, tc.size)) {
				t.Error("Read() returned only zeros")
			}
		})
	}
}

func TestDRand_SingleByte(t *testing.T) {
	t.Parallel()

	r := newDRand("seed")
	if _, err := r.Read(make([]byte, 1)); !errors.Is(err, errSingleByte) {
		t.Fatalf("Read(1 byte) error = %v, want %v", err, errSingleByte)
	}

	// the failed read must not advance the chain
	a, b := make([]byte, 8), make([]byte, 8)
	r.Read(a)
	newDRand("seed").Read(b)
	if !bytes.Equal(a, b) {
		t.Error("single byte read consumed state")
	}
}
