package artifact

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TomasB/geolocal/pkg/rangetable"
)

func sampleTable(t *testing.T) *rangetable.Table {
	t.Helper()
	agg := rangetable.NewAggregator()
	for _, row := range [][3]string{
		{"US", "0.0.0.0", "0.255.255.255"},
		{"AU", "1.0.0.0", "1.0.0.255"},
		{"CN", "1.0.1.0", "1.0.3.255"},
		{"AU", "2001:200::", "2001:200:ffff:ffff:ffff:ffff:ffff:ffff"},
		{"US", "2001:db8::", "2001:db8::ffff"},
		{"US", "1.2.0.0", "1.2.0.255"},
	} {
		r, err := rangetable.Normalize(row[0], row[1], row[2])
		require.NoError(t, err)
		agg.Add(r)
	}
	table, err := rangetable.Finalize(agg)
	require.NoError(t, err)
	return table
}

func TestDocumentRoundTrip(t *testing.T) {
	table := sampleTable(t)
	meta := Meta{
		Source:      "dbip-country-2015-02.csv.gz",
		GeneratedAt: time.Date(2015, 2, 1, 0, 0, 0, 0, time.UTC),
		Families:    []rangetable.Family{rangetable.V4, rangetable.V6},
		Countries:   []string{"AU", "CN", "NZ", "US"},
	}

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, NewDocument(table, meta)))
	assert.Contains(t, buf.String(), `"family": "ipv6"`)
	assert.Contains(t, buf.String(), `"16777216"`)

	doc, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, meta.Source, doc.Source)
	assert.Equal(t, meta.Countries, doc.Countries)
	assert.Equal(t, meta.Families, doc.Families)
	assert.True(t, meta.GeneratedAt.Equal(doc.GeneratedAt))

	loaded, err := doc.Table()
	require.NoError(t, err)
	require.Equal(t, table.Keys(), loaded.Keys())
	for _, k := range table.Keys() {
		assert.Equal(t, table.Ranges(k), loaded.Ranges(k), k.String())
	}
}

func TestDocumentBucketOrder(t *testing.T) {
	doc := NewDocument(sampleTable(t), Meta{})
	var keys []string
	for _, b := range doc.Buckets {
		keys = append(keys, rangetable.NewKey(b.Country, b.Family).String())
	}
	assert.Equal(t, []string{"AU/ipv4", "AU/ipv6", "CN/ipv4", "US/ipv4", "US/ipv6"}, keys)
	assert.Equal(t, []string{"AU", "CN", "US"}, doc.Countries)

	us := doc.Buckets[3]
	require.Len(t, us.Ranges, 2)
	assert.Equal(t, "0", us.Ranges[0][0].String())
	assert.Equal(t, "16908288", us.Ranges[1][0].String())
}

func TestDecodeRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{`},
		{"wrong version", `{"version": 7, "buckets": []}`},
		{"negative endpoint", `{"version": 1, "buckets": [{"country": "US", "family": "ipv4", "ranges": [["-1", "5"]]}]}`},
		{"unknown family", `{"version": 1, "buckets": [{"country": "US", "family": "ipx", "ranges": []}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tt.body))
			assert.Error(t, err)
		})
	}
}

func TestDocumentTableRecertifies(t *testing.T) {
	overlapping := `{"version": 1, "buckets": [{"country": "US", "family": "ipv4", "ranges": [["10", "20"], ["15", "25"]]}]}`
	doc, err := Decode(strings.NewReader(overlapping))
	require.NoError(t, err)
	_, err = doc.Table()
	assert.ErrorIs(t, err, rangetable.ErrOverlappingRanges)

	tooWide := `{"version": 1, "buckets": [{"country": "US", "family": "ipv4", "ranges": [["0", "4294967296"]]}]}`
	doc, err = Decode(strings.NewReader(tooWide))
	require.NoError(t, err)
	_, err = doc.Table()
	assert.ErrorIs(t, err, rangetable.ErrFamilyMismatch)

	dup := `{"version": 1, "buckets": [
		{"country": "US", "family": "ipv4", "ranges": [["1", "2"]]},
		{"country": "us", "family": "ipv4", "ranges": [["5", "6"]]}]}`
	doc, err = Decode(strings.NewReader(dup))
	require.NoError(t, err)
	_, err = doc.Table()
	assert.ErrorContains(t, err, "duplicate bucket")
}
