package rangetable

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"strings"

	"lukechampine.com/uint128"
)

// Family identifies the numeric domain of an address. V4 values occupy the
// low 32 bits of a Uint128, V6 values use all 128.
type Family uint8

const (
	FamilyUnspecified Family = iota
	V4
	V6
)

// String returns "ipv4", "ipv6" or "unspecified".
func (f Family) String() string {
	switch f {
	case V4:
		return "ipv4"
	case V6:
		return "ipv6"
	default:
		return "unspecified"
	}
}

// Bits returns the width of the family's address space.
func (f Family) Bits() int {
	switch f {
	case V4:
		return 32
	case V6:
		return 128
	default:
		return 0
	}
}

// MarshalText implements encoding.TextMarshaler.
func (f Family) MarshalText() ([]byte, error) {
	if f != V4 && f != V6 {
		return nil, fmt.Errorf("%w: %d", ErrUnknownFamily, f)
	}
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Family) UnmarshalText(text []byte) error {
	parsed, err := ParseFamily(string(text))
	if err != nil {
		return err
	}
	if parsed == FamilyUnspecified {
		return fmt.Errorf("%w: empty family", ErrUnknownFamily)
	}
	*f = parsed
	return nil
}

// ParseFamily accepts "4", "v4", "ipv4", "inet" and their v6 counterparts.
// An empty string yields FamilyUnspecified.
func ParseFamily(s string) (Family, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return FamilyUnspecified, nil
	case "4", "v4", "ipv4", "inet":
		return V4, nil
	case "6", "v6", "ipv6", "inet6":
		return V6, nil
	default:
		return FamilyUnspecified, fmt.Errorf("%w: %q", ErrUnknownFamily, s)
	}
}

// FamilyOf returns the family of addr. IPv4-mapped IPv6 literals such as
// ::ffff:1.2.3.4 are V6.
func FamilyOf(addr netip.Addr) Family {
	switch {
	case addr.Is4():
		return V4
	case addr.Is6():
		return V6
	default:
		return FamilyUnspecified
	}
}

// AddrValue returns the numeric value of addr in its own family.
func AddrValue(addr netip.Addr) uint128.Uint128 {
	if addr.Is4() {
		b := addr.As4()
		return uint128.From64(uint64(binary.BigEndian.Uint32(b[:])))
	}
	b := addr.As16()
	return uint128.New(binary.BigEndian.Uint64(b[8:]), binary.BigEndian.Uint64(b[:8]))
}

// ValueAddr converts a numeric value back into an address of family f.
// It returns false when v does not fit f.
func ValueAddr(f Family, v uint128.Uint128) (netip.Addr, bool) {
	switch f {
	case V4:
		if v.Cmp(maxV4) > 0 {
			return netip.Addr{}, false
		}
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(v.Lo))
		return netip.AddrFrom4(b), true
	case V6:
		var b [16]byte
		binary.BigEndian.PutUint64(b[:8], v.Hi)
		binary.BigEndian.PutUint64(b[8:], v.Lo)
		return netip.AddrFrom16(b), true
	default:
		return netip.Addr{}, false
	}
}

var maxV4 = uint128.From64(1<<32 - 1)
