package data

import (
	"net/netip"

	"github.com/TomasB/geolocal/pkg/rangetable"
)

// CountryLookup defines the interface for IP-to-country lookups.
type CountryLookup interface {
	// LookupCountry returns the country code for the given address, or ""
	// when no country claims it.
	LookupCountry(addr netip.Addr) (string, error)

	// Close releases any resources held by the lookup implementation.
	Close() error
}

// TableProvider hands out the table currently in service. It returns nil
// until a table has been loaded.
type TableProvider interface {
	Table() *rangetable.Table
}

// StaticTable serves a fixed table.
type StaticTable struct {
	T *rangetable.Table
}

func (s StaticTable) Table() *rangetable.Table { return s.T }
