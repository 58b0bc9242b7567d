package rangetable

import (
	"fmt"
	"net/netip"

	"lukechampine.com/uint128"
)

// Contains reports whether v falls inside one of the ranges assigned to
// country in family. A key without ranges never matches.
func (t *Table) Contains(country string, family Family, v uint128.Uint128) bool {
	if t == nil {
		return false
	}
	return search(t.buckets[NewKey(country, family)], v) >= 0
}

// ContainsAddr is Contains for an address. The family is taken from addr
// unless family is set explicitly.
func (t *Table) ContainsAddr(country string, addr netip.Addr, family Family) (bool, error) {
	if family == FamilyUnspecified {
		family = FamilyOf(addr)
	}
	if family == FamilyUnspecified {
		return false, ErrUnknownFamily
	}
	return t.Contains(country, family, AddrValue(addr)), nil
}

// ContainsString is ContainsAddr for an address literal.
func (t *Table) ContainsString(country, address string, family Family) (bool, error) {
	addr, err := parseAddr(address)
	if err != nil {
		if family == FamilyUnspecified {
			return false, fmt.Errorf("%w for %q", ErrUnknownFamily, address)
		}
		return false, err
	}
	return t.ContainsAddr(country, addr, family)
}

// Lookup returns the first key, in Keys order, whose ranges contain addr.
func (t *Table) Lookup(addr netip.Addr, family Family) (Key, bool) {
	if t == nil {
		return Key{}, false
	}
	if family == FamilyUnspecified {
		family = FamilyOf(addr)
	}
	v := AddrValue(addr)
	for _, k := range t.keys {
		if k.Family == family && search(t.buckets[k], v) >= 0 {
			return k, true
		}
	}
	return Key{}, false
}

// search is a three-way binary search over ranges sorted by Low with no
// overlaps. It returns the index of the range containing v or -1.
func search(ranges []Range, v uint128.Uint128) int {
	lo, hi := 0, len(ranges)-1
	for lo <= hi {
		mid := int(uint(lo+hi) >> 1)
		r := ranges[mid]
		switch {
		case v.Cmp(r.High) > 0:
			lo = mid + 1
		case v.Cmp(r.Low) < 0:
			hi = mid - 1
		default:
			return mid
		}
	}
	return -1
}
