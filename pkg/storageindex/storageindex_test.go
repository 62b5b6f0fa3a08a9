package storageindex

import (
	"bytes"
	"errors"
	"math/rand/v2"
	"strings"
	"testing"
	"unicode"
)

func TestEncodeZeroIndex(t *testing.T) {
	var si StorageIndex
	got := si.String()
	want := strings.Repeat("a", 26)
	if got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
	if len(got) != EncodedLen {
		t.Fatalf("len = %d, want %d", len(got), EncodedLen)
	}

	back, err := Parse(got)
	if err != nil {
		t.Fatal(err)
	}
	if back != si {
		t.Fatalf("Parse(%q) = %x, want zero index", got, back)
	}
}

func TestEncodeKnownVectors(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"f", "my"},
		{"fo", "mzxq"},
		{"foo", "mzxw6"},
		{"foob", "mzxw6yq"},
		{"fooba", "mzxw6ytb"},
		{"foobar", "mzxw6ytboi"},
	}
	for _, tt := range tests {
		if got := Encode([]byte(tt.in)); got != tt.want {
			t.Errorf("Encode(%q) = %q, want %q", tt.in, got, tt.want)
		}
		got, err := Decode(tt.want)
		if err != nil {
			t.Errorf("Decode(%q): %v", tt.want, err)
			continue
		}
		if string(got) != tt.in {
			t.Errorf("Decode(%q) = %q, want %q", tt.want, got, tt.in)
		}
	}
}

func TestEncodeIsLowercaseWithoutPadding(t *testing.T) {
	for i := 0; i < 100; i++ {
		s := Random().String()
		if s != strings.ToLower(s) {
			t.Fatalf("encoded form %q is not lowercase", s)
		}
		if strings.ContainsRune(s, '=') {
			t.Fatalf("encoded form %q contains padding", s)
		}
		if len(s) != EncodedLen {
			t.Fatalf("len(%q) = %d, want %d", s, len(s), EncodedLen)
		}
	}
}

func TestRoundTripRandomIndices(t *testing.T) {
	for i := 0; i < 1000; i++ {
		si := Random()
		got, err := Decode(Encode(si[:]))
		if err != nil {
			t.Fatalf("Decode(Encode(%x)): %v", si, err)
		}
		if !bytes.Equal(got, si[:]) {
			t.Fatalf("round trip = %x, want %x", got, si)
		}
	}
}

func TestRoundTripArbitraryLengths(t *testing.T) {
	for n := 0; n <= 40; n++ {
		b := make([]byte, n)
		for i := range b {
			b[i] = byte(rand.IntN(256))
		}
		got, err := Decode(Encode(b))
		if err != nil {
			t.Fatalf("len %d: %v", n, err)
		}
		if !bytes.Equal(got, b) {
			t.Fatalf("len %d: round trip = %x, want %x", n, got, b)
		}
	}
}

func TestDecodeMixedCase(t *testing.T) {
	for i := 0; i < 200; i++ {
		canonical := Random().String()
		mixed := []rune(canonical)
		for j, r := range mixed {
			if rand.IntN(2) == 0 {
				mixed[j] = unicode.ToUpper(r)
			}
		}

		si, err := Parse(string(mixed))
		if err != nil {
			t.Fatalf("Parse(%q): %v", string(mixed), err)
		}
		if got := si.String(); got != strings.ToLower(string(mixed)) {
			t.Fatalf("String() = %q, want %q", got, strings.ToLower(string(mixed)))
		}
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"digit outside alphabet", "aaaaaaaaaaaaaaaaaaaaaaaaa1"},
		{"digit eight", "aaaaaaaaaaaaaaaaaaaaaaaaa8"},
		{"padding", "my======"},
		{"whitespace", "mzxw 6"},
		{"newline", "mzxw\n6"},
		{"hyphen", "mz-xq"},
		{"non-ascii", "mzxé"},
		{"length 1", "a"},
		{"length 3", "aaa"},
		{"length 6", "aaaaaa"},
		{"length 9", "aaaaaaaaa"},
		{"trailing bits", "mz"},
		{"trailing bits upper", "MZ"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.in)
			if err == nil {
				t.Fatalf("Decode(%q) succeeded, want error", tt.in)
			}
			if !errors.Is(err, ErrDecode) {
				t.Fatalf("Decode(%q) error = %v, want ErrDecode", tt.in, err)
			}
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("Decode(%q) error %T is not *DecodeError", tt.in, err)
			}
			if de.Input != tt.in {
				t.Fatalf("DecodeError.Input = %q, want %q", de.Input, tt.in)
			}
		})
	}
}

func TestParseWrongLength(t *testing.T) {
	// Valid base-32, but 5 bytes rather than 16.
	_, err := Parse("mzxw6ytb")
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("Parse() error = %v, want ErrDecode", err)
	}
}

func TestFromBytes(t *testing.T) {
	b := bytes.Repeat([]byte{0xab}, Size)
	si, err := FromBytes(b)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(si[:], b) {
		t.Fatalf("FromBytes = %x, want %x", si, b)
	}

	if _, err := FromBytes(b[:Size-1]); err == nil {
		t.Fatal("FromBytes with short input succeeded")
	}
}

func TestTextMarshalling(t *testing.T) {
	si := Random()
	text, err := si.MarshalText()
	if err != nil {
		t.Fatal(err)
	}

	var got StorageIndex
	if err := got.UnmarshalText(bytes.ToUpper(text)); err != nil {
		t.Fatal(err)
	}
	if got != si {
		t.Fatalf("UnmarshalText = %s, want %s", got, si)
	}

	if err := got.UnmarshalText([]byte("not-base32")); !errors.Is(err, ErrDecode) {
		t.Fatalf("UnmarshalText(invalid) error = %v, want ErrDecode", err)
	}
}

func TestIsZero(t *testing.T) {
	var si StorageIndex
	if !si.IsZero() {
		t.Fatal("zero index reported non-zero")
	}
	si[Size-1] = 1
	if si.IsZero() {
		t.Fatal("non-zero index reported zero")
	}
}

func TestMustParsePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("MustParse did not panic")
		}
	}()
	MustParse("!")
}
