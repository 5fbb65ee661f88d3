package crypto

import (
	"crypto/rand"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"io"
)

// GenerateRandomString returns length random URL-safe characters.
func GenerateRandomString(length int) (string, error) {
	return generateRandomString(length, rand.Reader)
}

func generateRandomString(length int, r io.Reader) (string, error) {
	b := make([]byte, length)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b)[:length], nil
}

func newDRand(seed string) io.Reader {
	return &dRand{next: []byte(seed)}
}

// dRand is a sha512 hash chain.
type dRand struct {
	next []byte
}

var errSingleByte = errors.New("single byte reads are not supported")

func (d *dRand) cycle() []byte {
	result := sha512.Sum512(d.next)
	d.next = result[:sha512.Size/2]
	return result[sha512.Size/2:]
}

// Read fills b from the hash chain. Single byte reads fail without consuming
// state: key generation may read one byte at random to defeat deterministic
// readers, and it ignores the error.
func (d *dRand) Read(b []byte) (int, error) {
	if len(b) == 1 {
		return 0, errSingleByte
	}

	n := 0
	for n < len(b) {
		out := d.cycle()
		n += copy(b[n:], out)
	}
	return n, nil
}
