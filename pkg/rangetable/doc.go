// Package rangetable builds and queries per-country tables of IP address
// ranges.
//
// Raw (country, low, high) rows are turned into Ranges with Normalize,
// grouped by (country, family) in an Aggregator and certified by Finalize,
// which sorts every bucket and rejects overlapping ranges. The resulting
// Table answers membership queries with a binary search in O(log n) and is
// safe for concurrent readers.
//
// IPv4 and IPv6 are independent numeric domains. Both are represented as
// uint128 values; a query never crosses families.
package rangetable
