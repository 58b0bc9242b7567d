package rangetable

import (
	"errors"
	"fmt"
)

var (
	// ErrUnparseableAddress is returned when an endpoint is not an address
	// literal of any known family.
	ErrUnparseableAddress = errors.New("unparseable address")
	// ErrFamilyMismatch is returned when the endpoints of one range belong
	// to different families.
	ErrFamilyMismatch = errors.New("address family mismatch")
	// ErrInvertedRange is returned when low > high.
	ErrInvertedRange = errors.New("inverted range")
	// ErrEmptyCountry is returned for rows without a country label.
	ErrEmptyCountry = errors.New("empty country")
	// ErrOverlappingRanges is returned when two ranges of one bucket
	// overlap or share a boundary.
	ErrOverlappingRanges = errors.New("overlapping ranges")
	// ErrUnknownFamily is returned when a query names no family and the
	// address does not reveal one.
	ErrUnknownFamily = errors.New("unknown address family")
)

// NormalizeError describes a rejected raw row.
type NormalizeError struct {
	Country string
	Low     string
	High    string
	Err     error
}

func (e *NormalizeError) Error() string {
	return fmt.Sprintf("normalize %q %q..%q: %v", e.Country, e.Low, e.High, e.Err)
}

func (e *NormalizeError) Unwrap() error {
	return e.Err
}

// OverlapError reports the first pair of ranges in a bucket that violates
// the ordering invariant.
type OverlapError struct {
	Key      Key
	Previous Range
	Current  Range
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("%s: %s overlaps %s", e.Key, e.Previous.Span(), e.Current.Span())
}

func (e *OverlapError) Unwrap() error {
	return ErrOverlappingRanges
}
