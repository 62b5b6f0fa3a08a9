// Package storageindex converts storage indices to and from their canonical
// base-32 text form and maps them onto the sharded on-disk layout.
//
// The text form and the bucket prefix length are part of the persisted
// layout: changing either moves every share on disk.
package storageindex

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strings"

	"github.com/multiformats/go-base32"
)

// Size is the length of a storage index in bytes.
const Size = 16

// EncodedLen is the length of an encoded storage index.
const EncodedLen = (Size*8 + 4) / 5

// Alphabet is the lowercase RFC 4648 base-32 alphabet used for encoding.
const Alphabet = "abcdefghijklmnopqrstuvwxyz234567"

var encoding = base32.NewEncoding(Alphabet).WithPadding(base32.NoPadding)

// ErrDecode is matched by every *DecodeError.
var ErrDecode = errors.New("invalid storage index encoding")

// DecodeError reports text that is not a valid encoded storage index.
type DecodeError struct {
	Input  string
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode storage index %q: %s", e.Input, e.Reason)
}

// Is reports whether target is ErrDecode.
func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}

// StorageIndex is an opaque identifier for the bundle of shares of one object.
type StorageIndex [Size]byte

// FromBytes copies b into a StorageIndex. b must be exactly Size bytes.
func FromBytes(b []byte) (StorageIndex, error) {
	var si StorageIndex
	if len(b) != Size {
		return si, fmt.Errorf("storage index must be %d bytes, got %d", Size, len(b))
	}
	copy(si[:], b)
	return si, nil
}

// Random returns a storage index filled from crypto/rand.
func Random() StorageIndex {
	var si StorageIndex
	_, _ = rand.Read(si[:])
	return si
}

// Parse decodes text into a StorageIndex, requiring exactly Size bytes.
func Parse(s string) (StorageIndex, error) {
	var si StorageIndex
	b, err := Decode(s)
	if err != nil {
		return si, err
	}
	if len(b) != Size {
		return si, &DecodeError{Input: s, Reason: fmt.Sprintf("decodes to %d bytes, want %d", len(b), Size)}
	}
	copy(si[:], b)
	return si, nil
}

// MustParse is like Parse but panics on error. Intended for tests and constants.
func MustParse(s string) StorageIndex {
	si, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return si
}

// String returns the canonical encoded form.
func (si StorageIndex) String() string {
	return Encode(si[:])
}

// IsZero reports whether every byte is zero.
func (si StorageIndex) IsZero() bool {
	return si == StorageIndex{}
}

// MarshalText implements encoding.TextMarshaler.
func (si StorageIndex) MarshalText() ([]byte, error) {
	return []byte(si.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (si *StorageIndex) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*si = parsed
	return nil
}

// Encode returns the lowercase, unpadded base-32 form of b.
func Encode(b []byte) string {
	return encoding.EncodeToString(b)
}

// Decode parses base-32 text in either case. The result round-trips:
// Encode(Decode(s)) equals strings.ToLower(s).
func Decode(s string) ([]byte, error) {
	// ASCII-only folding: strings.ToLower would map e.g. U+212A to 'k'.
	buf := []byte(s)
	for i, c := range buf {
		if 'A' <= c && c <= 'Z' {
			c += 'a' - 'A'
			buf[i] = c
		}
		if strings.IndexByte(Alphabet, c) < 0 {
			return nil, &DecodeError{Input: s, Reason: fmt.Sprintf("invalid character %q at offset %d", s[i], i)}
		}
	}
	lower := string(buf)

	// 5-bit groups only pack into whole bytes for these remainders.
	switch len(lower) % 8 {
	case 1, 3, 6:
		return nil, &DecodeError{Input: s, Reason: fmt.Sprintf("length %d does not decode to whole bytes", len(s))}
	}

	b, err := encoding.DecodeString(lower)
	if err != nil {
		return nil, &DecodeError{Input: s, Reason: err.Error()}
	}

	// Trailing bits of the last character must be zero.
	if Encode(b) != lower {
		return nil, &DecodeError{Input: s, Reason: "non-canonical trailing bits"}
	}
	return b, nil
}
