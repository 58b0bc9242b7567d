package feed

import (
	"context"
	"fmt"
	"os"
)

// Row is one raw (country, low, high) record as read from a feed, before any
// validation. Line is the 1-based position in the feed, for error reports.
type Row struct {
	Line    int
	Country string
	Low     string
	High    string
}

// Source produces raw rows in feed order.
type Source interface {
	// Each calls fn for every row. It stops at the first error returned by
	// fn or encountered while reading.
	Each(ctx context.Context, fn func(Row) error) error
}

// Open returns a Source for the feed file at path. format is "csv" for
// db-ip style CSV (optionally gzipped) or "mmdb" for a MaxMind database.
// The returned close function releases the file.
func Open(format, path string) (Source, func() error, error) {
	switch format {
	case "", "csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, nil, fmt.Errorf("open feed: %w", err)
		}
		return NewCSVSource(f, DBIPLayout), f.Close, nil
	case "mmdb":
		if _, err := os.Stat(path); err != nil {
			return nil, nil, fmt.Errorf("open feed: %w", err)
		}
		return NewMMDBSource(path), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown feed format %q", format)
	}
}
