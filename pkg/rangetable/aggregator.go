package rangetable

import (
	"slices"

	"github.com/emirpasic/gods/maps/treemap"
)

// Aggregator groups normalized ranges by (country, family) during a build.
// It is not safe for concurrent writers; concurrent ingestion should use one
// Aggregator per worker and Merge them before Finalize.
type Aggregator struct {
	buckets *treemap.Map
	count   int
}

// NewAggregator returns an empty Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		buckets: treemap.NewWith(func(a, b interface{}) int {
			return compareKeys(a.(Key), b.(Key))
		}),
	}
}

// Add appends r to the bucket of its key, preserving input order.
func (a *Aggregator) Add(r Range) {
	k := r.Key()
	if v, ok := a.buckets.Get(k); ok {
		a.buckets.Put(k, append(v.([]Range), r))
	} else {
		a.buckets.Put(k, []Range{r})
	}
	a.count++
}

// Keys returns every key with at least one range, ordered by country and
// then family.
func (a *Aggregator) Keys() []Key {
	keys := make([]Key, 0, a.buckets.Size())
	for _, k := range a.buckets.Keys() {
		keys = append(keys, k.(Key))
	}
	return keys
}

// Bucket returns a copy of the ranges added under k, in insertion order.
func (a *Aggregator) Bucket(k Key) []Range {
	v, ok := a.buckets.Get(NewKey(k.Country, k.Family))
	if !ok {
		return nil
	}
	return slices.Clone(v.([]Range))
}

// Len returns the number of ranges added so far.
func (a *Aggregator) Len() int {
	return a.count
}

// Merge appends every bucket of other after the matching bucket of a.
func (a *Aggregator) Merge(other *Aggregator) {
	it := other.buckets.Iterator()
	for it.Next() {
		for _, r := range it.Value().([]Range) {
			a.Add(r)
		}
	}
}
