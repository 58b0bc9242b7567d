package data

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/oschwald/geoip2-golang"
)

// MmdbReader implements CountryLookup using a MaxMind MMDB file. It backs
// the verify command, which compares a built table against the database the
// table was built from.
type MmdbReader struct {
	db *geoip2.Reader
}

// NewMmdbReader opens the MMDB file at the given path and returns a reader.
func NewMmdbReader(path string) (*MmdbReader, error) {
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open MMDB file: %w", err)
	}
	return &MmdbReader{db: db}, nil
}

// LookupCountry returns the ISO-3166 country code for addr. Networks with no
// country fall back to the registered country, matching how MMDB feeds are
// ingested.
func (r *MmdbReader) LookupCountry(addr netip.Addr) (string, error) {
	record, err := r.db.Country(net.IP(addr.AsSlice()))
	if err != nil {
		return "", fmt.Errorf("country lookup failed: %w", err)
	}
	if record.Country.IsoCode != "" {
		return record.Country.IsoCode, nil
	}
	return record.RegisteredCountry.IsoCode, nil
}

// DatabaseType reports the type recorded in the MMDB metadata.
func (r *MmdbReader) DatabaseType() string {
	return r.db.Metadata().DatabaseType
}

// Close releases the MMDB reader resources.
func (r *MmdbReader) Close() error {
	return r.db.Close()
}
