package rangetable

import (
	"cmp"
	"fmt"
	"net/netip"
	"strings"

	"lukechampine.com/uint128"
)

// Key identifies one bucket: a country label and an address family.
type Key struct {
	Country string
	Family  Family
}

// NewKey returns the key for country and family with the country uppercased.
func NewKey(country string, family Family) Key {
	return Key{Country: strings.ToUpper(strings.TrimSpace(country)), Family: family}
}

func (k Key) String() string {
	return k.Country + "/" + k.Family.String()
}

func compareKeys(a, b Key) int {
	if c := strings.Compare(a.Country, b.Country); c != 0 {
		return c
	}
	return cmp.Compare(a.Family, b.Family)
}

// Range is a closed interval [Low, High] of addresses of one family
// assigned to Country.
type Range struct {
	Country string
	Family  Family
	Low     uint128.Uint128
	High    uint128.Uint128
}

// Key returns the bucket key of r.
func (r Range) Key() Key {
	return Key{Country: r.Country, Family: r.Family}
}

// Contains reports whether v lies within [Low, High].
func (r Range) Contains(v uint128.Uint128) bool {
	return r.Low.Cmp(v) <= 0 && v.Cmp(r.High) <= 0
}

// Span formats the endpoints as addresses, e.g. "1.0.0.0-1.0.0.255".
func (r Range) Span() string {
	lo, okLo := ValueAddr(r.Family, r.Low)
	hi, okHi := ValueAddr(r.Family, r.High)
	if !okLo || !okHi {
		return r.Low.String() + ".." + r.High.String()
	}
	return lo.String() + "-" + hi.String()
}

func (r Range) String() string {
	return fmt.Sprintf("%s %s %s", r.Country, r.Family, r.Span())
}

// Validate checks the invariants a Range must satisfy regardless of how it
// was created.
func (r Range) Validate() error {
	if r.Country == "" {
		return ErrEmptyCountry
	}
	if r.Country != strings.ToUpper(r.Country) {
		return fmt.Errorf("country %q is not uppercased", r.Country)
	}
	switch r.Family {
	case V4:
		if r.High.Cmp(maxV4) > 0 || r.Low.Cmp(maxV4) > 0 {
			return fmt.Errorf("%w: %s exceeds the ipv4 space", ErrFamilyMismatch, r.Span())
		}
	case V6:
	default:
		return fmt.Errorf("%w: %d", ErrUnknownFamily, r.Family)
	}
	if r.Low.Cmp(r.High) > 0 {
		return fmt.Errorf("%w: %s", ErrInvertedRange, r.Span())
	}
	return nil
}

func compareRanges(a, b Range) int {
	if c := a.Low.Cmp(b.Low); c != 0 {
		return c
	}
	return a.High.Cmp(b.High)
}

// Normalize turns one raw feed row into a Range. Both endpoints must parse
// as addresses of the same family and low must not exceed high.
func Normalize(country, low, high string) (Range, error) {
	fail := func(err error) (Range, error) {
		return Range{}, &NormalizeError{Country: country, Low: low, High: high, Err: err}
	}

	label := strings.ToUpper(strings.TrimSpace(country))
	if label == "" {
		return fail(ErrEmptyCountry)
	}

	loAddr, err := parseAddr(low)
	if err != nil {
		return fail(err)
	}
	hiAddr, err := parseAddr(high)
	if err != nil {
		return fail(err)
	}

	family := FamilyOf(loAddr)
	if hiFamily := FamilyOf(hiAddr); hiFamily != family {
		return fail(fmt.Errorf("%w: %s is %s but %s is %s", ErrFamilyMismatch, low, family, high, hiFamily))
	}

	r := Range{
		Country: label,
		Family:  family,
		Low:     AddrValue(loAddr),
		High:    AddrValue(hiAddr),
	}
	if r.Low.Cmp(r.High) > 0 {
		return fail(ErrInvertedRange)
	}
	return r, nil
}

func parseAddr(literal string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(literal))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("%w: %v", ErrUnparseableAddress, err)
	}
	if addr.Zone() != "" {
		return netip.Addr{}, fmt.Errorf("%w: zoned address %q", ErrUnparseableAddress, literal)
	}
	return addr, nil
}
