package rangetable

import (
	"fmt"
	"slices"
)

// Table maps each key to its ranges sorted ascending by Low, with
// prev.High < next.Low for every consecutive pair. A Table is never mutated
// after Finalize returns it, so any number of goroutines may query it.
type Table struct {
	buckets map[Key][]Range
	keys    []Key
	size    int
}

// Finalize sorts every bucket of agg by (Low, High) and certifies that no
// two ranges of a bucket overlap. It fails with an *OverlapError for the
// first offending pair and returns no table at all in that case. agg itself
// is left untouched, so finalizing it again yields the same table.
func Finalize(agg *Aggregator) (*Table, error) {
	t := &Table{buckets: make(map[Key][]Range)}
	for _, k := range agg.Keys() {
		ranges := agg.Bucket(k)
		if err := certify(k, ranges); err != nil {
			return nil, err
		}
		t.buckets[k] = ranges
		t.keys = append(t.keys, k)
		t.size += len(ranges)
	}
	return t, nil
}

func certify(k Key, ranges []Range) error {
	slices.SortStableFunc(ranges, compareRanges)
	for i := 1; i < len(ranges); i++ {
		prev, cur := ranges[i-1], ranges[i]
		if prev.High.Cmp(cur.Low) >= 0 {
			return &OverlapError{Key: k, Previous: prev, Current: cur}
		}
	}
	return nil
}

// FromBuckets builds a certified table from ranges grouped by key, such as
// those read back from an artifact. Country and Family of every range are
// taken from its key.
func FromBuckets(buckets map[Key][]Range) (*Table, error) {
	agg := NewAggregator()
	for k, ranges := range buckets {
		key := NewKey(k.Country, k.Family)
		for _, r := range ranges {
			r.Country, r.Family = key.Country, key.Family
			if err := r.Validate(); err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			agg.Add(r)
		}
	}
	return Finalize(agg)
}

// MustFromBuckets is like FromBuckets but panics on error. It is meant for
// generated code whose ranges were certified when it was written.
func MustFromBuckets(buckets map[Key][]Range) *Table {
	t, err := FromBuckets(buckets)
	if err != nil {
		panic(err)
	}
	return t
}

// Keys returns the keys of the table in country, family order.
func (t *Table) Keys() []Key {
	if t == nil {
		return nil
	}
	return slices.Clone(t.keys)
}

// Ranges returns a copy of the finalized ranges for k.
func (t *Table) Ranges(k Key) []Range {
	if t == nil {
		return nil
	}
	return slices.Clone(t.buckets[NewKey(k.Country, k.Family)])
}

// Len returns the total number of ranges.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return t.size
}

// Countries returns the distinct country labels in sorted order.
func (t *Table) Countries() []string {
	if t == nil {
		return nil
	}
	var countries []string
	for _, k := range t.keys {
		if n := len(countries); n == 0 || countries[n-1] != k.Country {
			countries = append(countries, k.Country)
		}
	}
	return countries
}
