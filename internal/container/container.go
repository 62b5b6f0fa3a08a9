package container

import (
	"encoding/binary"
	"fmt"
)

// Layout distinguishes the two independently versioned container kinds.
type Layout uint8

const (
	Immutable Layout = iota + 1
	Mutable
)

func (l Layout) String() string {
	switch l {
	case Immutable:
		return "immutable"
	case Mutable:
		return "mutable"
	default:
		return fmt.Sprintf("layout(%d)", uint8(l))
	}
}

// ParseLayout parses "immutable" or "mutable".
func ParseLayout(s string) (Layout, error) {
	switch s {
	case "immutable":
		return Immutable, nil
	case "mutable":
		return Mutable, nil
	default:
		return 0, fmt.Errorf("unknown container layout %q", s)
	}
}

// Header layout:
//
//	[0:4]   magic ("ashI" immutable, "ashM" mutable)
//	[4:8]   version, big-endian uint32
//	[8:..]  data length: uint32 for immutable v1, uint64 otherwise
const (
	magicLen   = 4
	versionLen = 4

	immutableMagic = "ashI"
	mutableMagic   = "ashM"
)

// Current versions written by Encode.
const (
	ImmutableVersion uint32 = 2
	MutableVersion   uint32 = 1
)

// Container is a decoded share container.
type Container struct {
	Layout  Layout
	Version uint32
	Data    []byte
}

// HeaderSize is the header length written by Encode.
const HeaderSize = magicLen + versionLen + 8

// EncodedSize returns the size of a container holding n bytes of data.
func EncodedSize(n int) int64 {
	return HeaderSize + int64(n)
}

// Encode stamps data with the current header for l.
func Encode(l Layout, data []byte) ([]byte, error) {
	var magic string
	var version uint32
	switch l {
	case Immutable:
		magic, version = immutableMagic, ImmutableVersion
	case Mutable:
		magic, version = mutableMagic, MutableVersion
	default:
		return nil, fmt.Errorf("encode container: unknown layout %d", l)
	}

	buf := make([]byte, 0, EncodedSize(len(data)))
	buf = append(buf, magic...)
	buf = binary.BigEndian.AppendUint32(buf, version)
	buf = binary.BigEndian.AppendUint64(buf, uint64(len(data)))
	buf = append(buf, data...)
	return buf, nil
}

// Decode parses a container. An unrecognized version yields the error kind
// matching the declared layout; raw is not modified.
func Decode(raw []byte) (*Container, error) {
	if len(raw) < magicLen+versionLen {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the header", ErrCorrupt, len(raw))
	}

	var layout Layout
	switch string(raw[:magicLen]) {
	case immutableMagic:
		layout = Immutable
	case mutableMagic:
		layout = Mutable
	default:
		return nil, fmt.Errorf("%w: unknown magic %q", ErrCorrupt, raw[:magicLen])
	}

	version := binary.BigEndian.Uint32(raw[magicLen:])
	rest := raw[magicLen+versionLen:]

	var length uint64
	switch {
	case layout == Immutable && version == 1:
		if len(rest) < 4 {
			return nil, fmt.Errorf("%w: truncated immutable v1 header", ErrCorrupt)
		}
		length = uint64(binary.BigEndian.Uint32(rest))
		rest = rest[4:]
	case layout == Immutable && version == 2, layout == Mutable && version == 1:
		if len(rest) < 8 {
			return nil, fmt.Errorf("%w: truncated %s v%d header", ErrCorrupt, layout, version)
		}
		length = binary.BigEndian.Uint64(rest)
		rest = rest[8:]
	default:
		return nil, unknownVersion(layout, version)
	}

	if uint64(len(rest)) != length {
		return nil, fmt.Errorf("%w: header declares %d data bytes, found %d", ErrCorrupt, length, len(rest))
	}

	data := make([]byte, len(rest))
	copy(data, rest)
	return &Container{Layout: layout, Version: version, Data: data}, nil
}
