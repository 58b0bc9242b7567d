package feed

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// Layout gives the zero-based column of each field in a CSV feed.
type Layout struct {
	Low     int
	High    int
	Country int
}

// DBIPLayout matches the db-ip.com country CSV: "low","high","CC".
var DBIPLayout = Layout{Low: 0, High: 1, Country: 2}

func (l Layout) minFields() int {
	return max(l.Low, l.High, l.Country) + 1
}

// CSVSource reads rows from a CSV feed, plain or gzip-compressed.
type CSVSource struct {
	r      io.Reader
	layout Layout
}

// NewCSVSource returns a source reading r with the given layout.
func NewCSVSource(r io.Reader, layout Layout) *CSVSource {
	return &CSVSource{r: r, layout: layout}
}

// Each implements Source.
func (s *CSVSource) Each(ctx context.Context, fn func(Row) error) error {
	in, err := maybeGunzip(s.r)
	if err != nil {
		return err
	}
	if c, ok := in.(io.Closer); ok {
		defer c.Close()
	}

	reader := csv.NewReader(in)
	reader.FieldsPerRecord = -1
	reader.Comment = '#'
	reader.TrimLeadingSpace = true
	reader.ReuseRecord = true

	want := s.layout.minFields()
	for n := 0; ; n++ {
		if n%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read csv: %w", err)
		}

		line, _ := reader.FieldPos(0)
		if len(record) < want {
			return fmt.Errorf("csv line %d: expected at least %d fields, got %d", line, want, len(record))
		}

		if err := fn(Row{
			Line:    line,
			Country: record[s.layout.Country],
			Low:     record[s.layout.Low],
			High:    record[s.layout.High],
		}); err != nil {
			return err
		}
	}
}

// maybeGunzip wraps r in a gzip reader when it starts with the gzip magic.
func maybeGunzip(r io.Reader) (io.Reader, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(2)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("peek feed: %w", err)
	}
	if len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("open gzip: %w", err)
		}
		return zr, nil
	}
	return br, nil
}
