package build

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lukechampine.com/uint128"

	"github.com/TomasB/geolocal/internal/feed"
	"github.com/TomasB/geolocal/pkg/rangetable"
)

type rowsSource []feed.Row

func (s rowsSource) Each(ctx context.Context, fn func(feed.Row) error) error {
	for _, r := range s {
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

func rows(triples ...[3]string) rowsSource {
	src := make(rowsSource, 0, len(triples))
	for i, tr := range triples {
		src = append(src, feed.Row{Line: i + 1, Country: tr[0], Low: tr[1], High: tr[2]})
	}
	return src
}

var scenario = rows(
	[3]string{"US", "0.0.0.0", "0.255.255.255"},
	[3]string{"AU", "1.0.0.0", "1.0.0.255"},
	[3]string{"CN", "1.0.1.0", "1.0.3.255"},
	[3]string{"AU", "2001:200::", "2001:200:ffff:ffff:ffff:ffff:ffff:ffff"},
)

func v4Range(country string, lo, hi uint64) rangetable.Range {
	return rangetable.Range{Country: country, Family: rangetable.V4, Low: uint128.From64(lo), High: uint128.From64(hi)}
}

func TestBuildScenarioIPv4Only(t *testing.T) {
	res, err := Build(context.Background(), scenario, Options{IPv4: true})
	require.NoError(t, err)

	table := res.Table
	assert.Equal(t, []rangetable.Range{v4Range("US", 0, 16777215)}, table.Ranges(rangetable.Key{Country: "US", Family: rangetable.V4}))
	assert.Equal(t, []rangetable.Range{v4Range("AU", 16777216, 16777471)}, table.Ranges(rangetable.Key{Country: "AU", Family: rangetable.V4}))
	assert.Equal(t, []rangetable.Range{v4Range("CN", 16777472, 16778239)}, table.Ranges(rangetable.Key{Country: "CN", Family: rangetable.V4}))

	assert.True(t, table.Contains("AU", rangetable.V4, uint128.From64(16777300)))
	assert.False(t, table.Contains("US", rangetable.V4, uint128.From64(16777216)))

	// IPv6 disabled: the AU v6 row is dropped and no v6 bucket exists.
	assert.Nil(t, table.Ranges(rangetable.Key{Country: "AU", Family: rangetable.V6}))
	ok, err := table.ContainsString("AU", "2001:200::1", rangetable.FamilyUnspecified)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, 4, res.Rows)
	assert.Equal(t, 3, res.Accepted)
	assert.Equal(t, 1, res.Filtered)
	assert.Empty(t, res.RowErrors)
	assert.Equal(t, []string{"AU", "CN", "US"}, res.Countries)
	assert.Equal(t, []rangetable.Family{rangetable.V4}, res.Families)
}

func TestBuildBothFamilies(t *testing.T) {
	res, err := Build(context.Background(), scenario, Options{IPv4: true, IPv6: true})
	require.NoError(t, err)
	ok, err := res.Table.ContainsString("AU", "2001:200::1", rangetable.FamilyUnspecified)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 4, res.Accepted)
}

func TestBuildCountryFilter(t *testing.T) {
	res, err := Build(context.Background(), scenario, Options{IPv4: true, IPv6: true, Countries: []string{"au", "de"}})
	require.NoError(t, err)

	assert.Equal(t, []string{"AU"}, res.Table.Countries())
	assert.Equal(t, []string{"AU", "DE"}, res.Countries, "configured countries are reported even without ranges")
	assert.Equal(t, 2, res.Filtered)
	assert.Equal(t, 2, res.Accepted)
}

func TestBuildCollectsRowErrors(t *testing.T) {
	src := rows(
		[3]string{"US", "0.0.0.0", "0.255.255.255"},
		[3]string{"US", "bogus", "1.0.0.0"},
		[3]string{"US", "1.0.0.0", "2001:db8::"},
		[3]string{"US", "2.0.0.9", "2.0.0.1"},
		[3]string{"AU", "1.0.0.0", "1.0.0.255"},
	)
	res, err := Build(context.Background(), src, Options{IPv4: true, IPv6: true})
	require.NoError(t, err)

	require.Len(t, res.RowErrors, 3)
	assert.Equal(t, 2, res.RowErrors[0].Row.Line)
	assert.ErrorIs(t, res.RowErrors[0], rangetable.ErrUnparseableAddress)
	assert.ErrorIs(t, res.RowErrors[1], rangetable.ErrFamilyMismatch)
	assert.ErrorIs(t, res.RowErrors[2], rangetable.ErrInvertedRange)
	assert.Contains(t, res.RowErrors[2].Error(), "line 4")
	assert.Equal(t, 2, res.Table.Len())
}

func TestBuildFailFast(t *testing.T) {
	src := rows(
		[3]string{"US", "0.0.0.0", "0.255.255.255"},
		[3]string{"US", "bogus", "1.0.0.0"},
	)
	res, err := Build(context.Background(), src, Options{IPv4: true, FailFast: true})
	require.ErrorIs(t, err, rangetable.ErrUnparseableAddress)
	assert.Nil(t, res)

	var rowErr RowError
	require.ErrorAs(t, err, &rowErr)
	assert.Equal(t, 2, rowErr.Row.Line)
}

func TestBuildOverlapIsFatal(t *testing.T) {
	src := rows(
		[3]string{"US", "0.0.0.10", "0.0.0.20"},
		[3]string{"US", "0.0.0.15", "0.0.0.25"},
	)
	res, err := Build(context.Background(), src, Options{IPv4: true})
	require.ErrorIs(t, err, rangetable.ErrOverlappingRanges)
	assert.Nil(t, res)

	var oerr *rangetable.OverlapError
	require.ErrorAs(t, err, &oerr)
	assert.Equal(t, v4Range("US", 10, 20), oerr.Previous)
	assert.Equal(t, v4Range("US", 15, 25), oerr.Current)
}

func TestBuildNoFamily(t *testing.T) {
	_, err := Build(context.Background(), scenario, Options{})
	assert.ErrorIs(t, err, ErrNoFamily)
}

func TestBuildSourceError(t *testing.T) {
	boom := errors.New("boom")
	_, err := Build(context.Background(), failingSource{err: boom}, Options{IPv4: true})
	assert.ErrorIs(t, err, boom)
}

type failingSource struct{ err error }

func (s failingSource) Each(context.Context, func(feed.Row) error) error { return s.err }

// bigFeed returns n disjoint single-/24 rows spread over a few countries in
// descending order, spanning several batches.
func bigFeed(n int) rowsSource {
	countries := []string{"AU", "CN", "DE", "US", "BR"}
	src := make(rowsSource, 0, n)
	for i := n - 1; i >= 0; i-- {
		a, b := (i>>8)&0xff, i&0xff
		src = append(src, feed.Row{
			Line:    len(src) + 1,
			Country: strings.ToLower(countries[i%len(countries)]),
			Low:     fmt.Sprintf("10.%d.%d.0", a, b),
			High:    fmt.Sprintf("10.%d.%d.255", a, b),
		})
	}
	return src
}

func TestBuildDeterministicAcrossWorkers(t *testing.T) {
	src := bigFeed(3*batchSize + 17)

	one, err := Build(context.Background(), src, Options{IPv4: true, Workers: 1})
	require.NoError(t, err)
	many, err := Build(context.Background(), src, Options{IPv4: true, Workers: 7})
	require.NoError(t, err)

	require.Equal(t, one.Table.Keys(), many.Table.Keys())
	for _, k := range one.Table.Keys() {
		assert.Equal(t, one.Table.Ranges(k), many.Table.Ranges(k), k.String())
	}
	assert.Equal(t, len(src), one.Table.Len())
}

func TestBuildCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Build(ctx, bigFeed(batchSize), Options{IPv4: true})
	assert.ErrorIs(t, err, context.Canceled)
}
