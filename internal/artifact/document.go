// Package artifact serializes finalized range tables: a JSON document that
// the server loads, and Go source with one accessor per country.
package artifact

import (
	"fmt"
	"io"
	"math/big"
	"time"

	jsoniter "github.com/json-iterator/go"
	"lukechampine.com/uint128"

	"github.com/TomasB/geolocal/pkg/rangetable"
)

// Version is the document format version written by Encode.
const Version = 1

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Document is the JSON form of a table. Buckets appear in table key order
// and ranges in finalized order; endpoints are decimal strings because IPv6
// values do not fit JSON numbers.
type Document struct {
	Version     int                 `json:"version"`
	GeneratedAt time.Time           `json:"generated_at"`
	Source      string              `json:"source,omitempty"`
	Families    []rangetable.Family `json:"families"`
	Countries   []string            `json:"countries"`
	Buckets     []Bucket            `json:"buckets"`
}

// Bucket holds the ranges of one (country, family) key.
type Bucket struct {
	Country string            `json:"country"`
	Family  rangetable.Family `json:"family"`
	Ranges  [][2]Value        `json:"ranges"`
}

// Value is a range endpoint encoded as a decimal string.
type Value struct {
	uint128.Uint128
}

// MarshalText implements encoding.TextMarshaler.
func (v Value) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *Value) UnmarshalText(text []byte) error {
	n, ok := new(big.Int).SetString(string(text), 10)
	if !ok || n.Sign() < 0 || n.BitLen() > 128 {
		return fmt.Errorf("invalid endpoint %q", text)
	}
	v.Uint128 = uint128.FromBig(n)
	return nil
}

// Meta describes how a table was built.
type Meta struct {
	Source      string
	GeneratedAt time.Time
	Families    []rangetable.Family
	// Countries lists every country that gets an accessor, including
	// countries without ranges.
	Countries []string
}

// NewDocument converts table into its document form.
func NewDocument(table *rangetable.Table, meta Meta) *Document {
	doc := &Document{
		Version:     Version,
		GeneratedAt: meta.GeneratedAt.UTC(),
		Source:      meta.Source,
		Families:    meta.Families,
		Countries:   meta.Countries,
		Buckets:     []Bucket{},
	}
	if doc.Countries == nil {
		doc.Countries = table.Countries()
	}
	for _, k := range table.Keys() {
		ranges := table.Ranges(k)
		b := Bucket{Country: k.Country, Family: k.Family, Ranges: make([][2]Value, len(ranges))}
		for i, r := range ranges {
			b.Ranges[i] = [2]Value{{r.Low}, {r.High}}
		}
		doc.Buckets = append(doc.Buckets, b)
	}
	return doc
}

// Table rebuilds and re-certifies the table described by d.
func (d *Document) Table() (*rangetable.Table, error) {
	buckets := make(map[rangetable.Key][]rangetable.Range, len(d.Buckets))
	for _, b := range d.Buckets {
		k := rangetable.NewKey(b.Country, b.Family)
		if _, dup := buckets[k]; dup {
			return nil, fmt.Errorf("artifact: duplicate bucket %s", k)
		}
		ranges := make([]rangetable.Range, len(b.Ranges))
		for i, pair := range b.Ranges {
			ranges[i] = rangetable.Range{Low: pair[0].Uint128, High: pair[1].Uint128}
		}
		buckets[k] = ranges
	}
	table, err := rangetable.FromBuckets(buckets)
	if err != nil {
		return nil, fmt.Errorf("artifact: %w", err)
	}
	return table, nil
}

// Encode writes d as indented JSON.
func Encode(w io.Writer, d *Document) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(d); err != nil {
		return fmt.Errorf("encode artifact: %w", err)
	}
	return nil
}

// Decode reads a document and checks its version.
func Decode(r io.Reader) (*Document, error) {
	var d Document
	if err := json.NewDecoder(r).Decode(&d); err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}
	if d.Version != Version {
		return nil, fmt.Errorf("decode artifact: unsupported version %d", d.Version)
	}
	return &d, nil
}
