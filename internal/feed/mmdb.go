package feed

import (
	"context"
	"fmt"
	"net"
	"net/netip"

	"github.com/oschwald/maxminddb-golang"
)

// MMDBSource enumerates the networks of a MaxMind country database and
// reports each as a (country, first, last) row.
type MMDBSource struct {
	path string
}

// NewMMDBSource returns a source reading the MMDB file at path.
func NewMMDBSource(path string) *MMDBSource {
	return &MMDBSource{path: path}
}

type countryRecord struct {
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
	RegisteredCountry struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"registered_country"`
}

// Each implements Source. Networks without a country code are skipped.
func (s *MMDBSource) Each(ctx context.Context, fn func(Row) error) error {
	db, err := maxminddb.Open(s.path)
	if err != nil {
		return fmt.Errorf("failed to open MMDB file: %w", err)
	}
	defer db.Close()

	networks := db.Networks(maxminddb.SkipAliasedNetworks)
	line := 0
	for networks.Next() {
		line++
		if line%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		var record countryRecord
		subnet, err := networks.Network(&record)
		if err != nil {
			return fmt.Errorf("decode network %d: %w", line, err)
		}

		code := record.Country.ISOCode
		if code == "" {
			code = record.RegisteredCountry.ISOCode
		}
		if code == "" {
			continue
		}

		first, last, err := networkBounds(subnet)
		if err != nil {
			return err
		}
		if err := fn(Row{Line: line, Country: code, Low: first.String(), High: last.String()}); err != nil {
			return err
		}
	}
	if err := networks.Err(); err != nil {
		return fmt.Errorf("iterate networks: %w", err)
	}
	return nil
}

// networkBounds returns the first and last address of n.
func networkBounds(n *net.IPNet) (netip.Addr, netip.Addr, error) {
	addr, ok := netip.AddrFromSlice(n.IP)
	if !ok {
		return netip.Addr{}, netip.Addr{}, fmt.Errorf("invalid network address %v", n.IP)
	}
	ones, bits := n.Mask.Size()
	if bits == 32 {
		addr = addr.Unmap()
	}
	prefix, err := addr.Prefix(ones)
	if err != nil {
		return netip.Addr{}, netip.Addr{}, fmt.Errorf("network %v: %w", n, err)
	}
	return prefix.Addr(), lastAddr(prefix), nil
}

// lastAddr returns the highest address of p.
func lastAddr(p netip.Prefix) netip.Addr {
	addr := p.Addr()
	if addr.Is4() {
		b := addr.As4()
		setHostBits(b[:], p.Bits())
		return netip.AddrFrom4(b)
	}
	b := addr.As16()
	setHostBits(b[:], p.Bits())
	return netip.AddrFrom16(b)
}

func setHostBits(b []byte, prefixLen int) {
	for i := range b {
		switch {
		case (i+1)*8 <= prefixLen:
		case i*8 >= prefixLen:
			b[i] = 0xff
		default:
			b[i] |= 0xff >> uint(prefixLen-i*8)
		}
	}
}
