package fsal

import (
	"fmt"
	"math"
)

// FSIDType describes how a filesystem id is packed into a handle.
//
// The values are part of the wire format and must never be renumbered.
type FSIDType uint8

const (
	// FSIDNone carries no filesystem id (0 bytes)
	FSIDNone FSIDType = iota

	// FSIDOneUint64 packs Major as one 64-bit value (8 bytes)
	FSIDOneUint64

	// FSIDMajor64 packs only the 64-bit Major (8 bytes)
	FSIDMajor64

	// FSIDTwoUint64 packs Major and Minor as 64-bit values (16 bytes)
	FSIDTwoUint64

	// FSIDTwoUint32 packs Major and Minor as 32-bit values (8 bytes)
	FSIDTwoUint32

	// FSIDDevice packs a device number as major/minor 32-bit values (8 bytes)
	FSIDDevice
)

// Valid reports whether t is one of the known packing types.
func (t FSIDType) Valid() bool {
	return t <= FSIDDevice
}

// Size returns the packed byte length for the type, or -1 if unknown.
func (t FSIDType) Size() int {
	switch t {
	case FSIDNone:
		return 0
	case FSIDOneUint64, FSIDMajor64:
		return 8
	case FSIDTwoUint64:
		return 16
	case FSIDTwoUint32, FSIDDevice:
		return 8
	default:
		return -1
	}
}

// Fits reports whether Major and Minor survive packing into the type's
// wire form unchanged.
func (f FSID) Fits() bool {
	switch f.Type {
	case FSIDNone:
		return f.Major == 0 && f.Minor == 0
	case FSIDOneUint64, FSIDMajor64:
		return f.Minor == 0
	case FSIDTwoUint32, FSIDDevice:
		return f.Major <= math.MaxUint32 && f.Minor <= math.MaxUint32
	default:
		return true
	}
}

func (t FSIDType) String() string {
	switch t {
	case FSIDNone:
		return "none"
	case FSIDOneUint64:
		return "one_uint64"
	case FSIDMajor64:
		return "major_64"
	case FSIDTwoUint64:
		return "two_uint64"
	case FSIDTwoUint32:
		return "two_uint32"
	case FSIDDevice:
		return "device"
	default:
		return fmt.Sprintf("fsid_type(%d)", uint8(t))
	}
}

// ParseFSIDType converts a configuration string into an FSIDType.
func ParseFSIDType(s string) (FSIDType, error) {
	for t := FSIDNone; t <= FSIDDevice; t++ {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, NewError(ErrInvalid, s, "unknown fsid type")
}

// FSID identifies one filesystem instance.
type FSID struct {
	Type  FSIDType
	Major uint64
	Minor uint64
}

func (f FSID) String() string {
	return fmt.Sprintf("%s:%x.%x", f.Type, f.Major, f.Minor)
}
