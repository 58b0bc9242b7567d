package artifact

import (
	"bytes"
	"fmt"
	"go/format"
	"go/token"
	"io"
	"strings"
	"text/template"
	"unicode"

	"github.com/TomasB/geolocal/pkg/rangetable"
)

const tablePackage = "github.com/TomasB/geolocal/pkg/rangetable"

var goSourceTemplate = template.Must(template.New("gosource").Parse(`// Code generated by geolocal{{if .Source}} from {{.Source}}{{end}}. DO NOT EDIT.

package {{.Package}}

import (
	"{{.TablePackage}}"
{{- if .Buckets}}
	"lukechampine.com/uint128"
{{- end}}
)

var table = rangetable.MustFromBuckets(map[rangetable.Key][]rangetable.Range{
{{- range .Buckets}}
	{Country: {{printf "%q" .Country}}, Family: rangetable.{{.Family}}}: {
	{{- range .Ranges}}
		{Low: uint128.New({{.LowLo}}, {{.LowHi}}), High: uint128.New({{.HighLo}}, {{.HighHi}})},
	{{- end}}
	},
{{- end}}
})

// Table returns the generated table.
func Table() *rangetable.Table {
	return table
}
{{range .Accessors}}
// In{{.Name}} reports whether address belongs to {{.Country}}. The family is
// taken from the address unless family is set.
func In{{.Name}}(address string, family rangetable.Family) (bool, error) {
	return table.ContainsString({{printf "%q" .Country}}, address, family)
}
{{end}}`))

type goSourceData struct {
	Source       string
	Package      string
	TablePackage string
	Buckets      []goBucket
	Accessors    []goAccessor
}

type goBucket struct {
	Country string
	Family  string
	Ranges  []goRange
}

type goRange struct {
	LowLo, LowHi, HighLo, HighHi string
}

type goAccessor struct {
	Name    string
	Country string
}

// WriteGoSource writes a Go file for package pkg that embeds table and
// declares one In<COUNTRY> accessor per country in countries. Countries
// without ranges still get an accessor that never matches.
func WriteGoSource(w io.Writer, pkg string, table *rangetable.Table, meta Meta) error {
	if !token.IsIdentifier(pkg) {
		return fmt.Errorf("gosource: invalid package name %q", pkg)
	}

	data := goSourceData{
		Source:       meta.Source,
		Package:      pkg,
		TablePackage: tablePackage,
	}

	for _, k := range table.Keys() {
		b := goBucket{Country: k.Country, Family: familyIdent(k.Family)}
		for _, r := range table.Ranges(k) {
			b.Ranges = append(b.Ranges, goRange{
				LowLo:  hex64(r.Low.Lo),
				LowHi:  hex64(r.Low.Hi),
				HighLo: hex64(r.High.Lo),
				HighHi: hex64(r.High.Hi),
			})
		}
		data.Buckets = append(data.Buckets, b)
	}

	countries := meta.Countries
	if countries == nil {
		countries = table.Countries()
	}
	names := make(map[string]string, len(countries))
	for _, c := range countries {
		country := strings.ToUpper(strings.TrimSpace(c))
		name, err := accessorName(country)
		if err != nil {
			return err
		}
		if prev, ok := names[name]; ok {
			if prev == country {
				continue
			}
			return fmt.Errorf("gosource: countries %q and %q both map to In%s", prev, country, name)
		}
		names[name] = country
		data.Accessors = append(data.Accessors, goAccessor{Name: name, Country: country})
	}

	var buf bytes.Buffer
	if err := goSourceTemplate.Execute(&buf, data); err != nil {
		return fmt.Errorf("gosource: %w", err)
	}
	src, err := format.Source(buf.Bytes())
	if err != nil {
		return fmt.Errorf("gosource: format: %w", err)
	}
	_, err = w.Write(src)
	return err
}

// accessorName keeps the letters and digits of country.
func accessorName(country string) (string, error) {
	var b strings.Builder
	for _, r := range country {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("gosource: country %q has no usable accessor name", country)
	}
	return b.String(), nil
}

func familyIdent(f rangetable.Family) string {
	if f == rangetable.V6 {
		return "V6"
	}
	return "V4"
}

func hex64(v uint64) string {
	return fmt.Sprintf("%#x", v)
}
