// Package build runs the table build pipeline: country pre-filter, parallel
// normalization, family filter, aggregation and finalization.
package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/TomasB/geolocal/internal/feed"
	"github.com/TomasB/geolocal/pkg/rangetable"
)

const batchSize = 4096

// ErrNoFamily is returned when neither IPv4 nor IPv6 is enabled.
var ErrNoFamily = errors.New("no address family enabled")

// Options controls one build.
type Options struct {
	IPv4 bool
	IPv6 bool
	// Countries restricts the build to these labels. Empty means all.
	Countries []string
	// Workers is the number of goroutines normalizing rows. Zero means
	// GOMAXPROCS.
	Workers int
	// FailFast aborts the build on the first rejected row instead of
	// collecting it in Result.RowErrors.
	FailFast bool
	Logger   *slog.Logger
}

// RowError is a feed row rejected by the normalizer.
type RowError struct {
	Row feed.Row
	Err error
}

func (e RowError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Row.Line, e.Err)
}

func (e RowError) Unwrap() error {
	return e.Err
}

// Result is the outcome of a successful build.
type Result struct {
	Table     *rangetable.Table
	RowErrors []RowError
	// Rows counts every row read from the source.
	Rows int
	// Accepted counts ranges added to the table.
	Accepted int
	// Filtered counts rows dropped by the country or family filters.
	Filtered int
	// Countries lists the configured countries, or the table's countries
	// when the build was unfiltered.
	Countries []string
	Families  []rangetable.Family
}

// Build reads every row of src and returns the finalized table. Rejected
// rows are reported in Result.RowErrors unless opts.FailFast is set.
// Overlapping ranges always fail the build.
func Build(ctx context.Context, src feed.Source, opts Options) (*Result, error) {
	if !opts.IPv4 && !opts.IPv6 {
		return nil, ErrNoFamily
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	b := &builder{
		opts:      opts,
		workers:   workers,
		countries: countrySet(opts.Countries),
		agg:       rangetable.NewAggregator(),
		res:       &Result{Families: families(opts)},
	}

	err := src.Each(ctx, func(row feed.Row) error {
		b.res.Rows++
		if b.countries != nil {
			if _, ok := b.countries[strings.ToUpper(strings.TrimSpace(row.Country))]; !ok {
				b.res.Filtered++
				return nil
			}
		}
		b.batch = append(b.batch, row)
		if len(b.batch) == batchSize {
			return b.flush(ctx)
		}
		return nil
	})
	if err == nil {
		err = b.flush(ctx)
	}
	if err != nil {
		return nil, err
	}

	table, err := rangetable.Finalize(b.agg)
	if err != nil {
		return nil, fmt.Errorf("finalize: %w", err)
	}

	b.res.Table = table
	b.res.Accepted = b.agg.Len()
	if b.countries != nil {
		b.res.Countries = sortedKeys(b.countries)
	} else {
		b.res.Countries = table.Countries()
	}

	if n := len(b.res.RowErrors); n > 0 {
		logger.Warn("rows rejected", "count", n, "first", b.res.RowErrors[0].Error())
	}
	logger.Debug("build finished",
		"rows", b.res.Rows,
		"accepted", b.res.Accepted,
		"filtered", b.res.Filtered,
		"keys", len(table.Keys()),
	)
	return b.res, nil
}

type builder struct {
	opts      Options
	workers   int
	countries map[string]struct{}
	agg       *rangetable.Aggregator
	res       *Result
	batch     []feed.Row
}

type normalized struct {
	r   rangetable.Range
	err error
}

// flush normalizes the pending batch in parallel and aggregates the results
// in feed order, so the table does not depend on the worker count.
func (b *builder) flush(ctx context.Context) error {
	if len(b.batch) == 0 {
		return nil
	}
	out := make([]normalized, len(b.batch))

	g, gctx := errgroup.WithContext(ctx)
	chunk := (len(b.batch) + b.workers - 1) / b.workers
	for start := 0; start < len(b.batch); start += chunk {
		end := min(start+chunk, len(b.batch))
		g.Go(func() error {
			for i := start; i < end; i++ {
				if (i-start)%512 == 0 && gctx.Err() != nil {
					return gctx.Err()
				}
				row := b.batch[i]
				out[i].r, out[i].err = rangetable.Normalize(row.Country, row.Low, row.High)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, n := range out {
		if n.err != nil {
			rowErr := RowError{Row: b.batch[i], Err: n.err}
			if b.opts.FailFast {
				return rowErr
			}
			b.res.RowErrors = append(b.res.RowErrors, rowErr)
			continue
		}
		if !b.familyEnabled(n.r.Family) {
			b.res.Filtered++
			continue
		}
		b.agg.Add(n.r)
	}
	b.batch = b.batch[:0]
	return nil
}

func (b *builder) familyEnabled(f rangetable.Family) bool {
	switch f {
	case rangetable.V4:
		return b.opts.IPv4
	case rangetable.V6:
		return b.opts.IPv6
	default:
		return false
	}
}

func countrySet(countries []string) map[string]struct{} {
	if len(countries) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(countries))
	for _, c := range countries {
		if c = strings.ToUpper(strings.TrimSpace(c)); c != "" {
			set[c] = struct{}{}
		}
	}
	return set
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func families(opts Options) []rangetable.Family {
	var fams []rangetable.Family
	if opts.IPv4 {
		fams = append(fams, rangetable.V4)
	}
	if opts.IPv6 {
		fams = append(fams, rangetable.V6)
	}
	return fams
}
