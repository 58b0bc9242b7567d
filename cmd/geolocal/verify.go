package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"
	"lukechampine.com/uint128"

	"github.com/TomasB/geolocal/internal/artifact"
	"github.com/TomasB/geolocal/internal/data"
	"github.com/TomasB/geolocal/internal/store"
	"github.com/TomasB/geolocal/pkg/rangetable"
)

func cmdVerify() *cli.Command {
	return &cli.Command{
		Name:  "verify",
		Usage: "Compare the artifact against a MaxMind country database",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "mmdb",
				Usage: "MMDB file to compare with (defaults to server.mmdb_path)",
			},
			&cli.BoolFlag{
				Name:  "strict",
				Usage: "fail when any endpoint disagrees",
			},
		},
		Action: runVerify,
	}
}

// Mismatch is a range endpoint the reference database assigns elsewhere.
type Mismatch struct {
	Range rangetable.Range
	Addr  string
	Got   string
}

// VerifyReport summarizes a verification run.
type VerifyReport struct {
	Checked    int
	Mismatches []Mismatch
}

func runVerify(ctx context.Context, c *cli.Command) error {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}
	mmdbPath := cfg.Server.MMDBPath
	if c.IsSet("mmdb") {
		mmdbPath = c.String("mmdb")
	}
	if mmdbPath == "" {
		return errors.New("verify needs an MMDB file: set --mmdb or MMDB_PATH")
	}

	raw, err := store.NewFileStore(cfg.Output.Dir).Get(ctx, cfg.Output.Artifact)
	if err != nil {
		return err
	}
	doc, err := artifact.Decode(bytes.NewReader(raw))
	if err != nil {
		return err
	}
	table, err := doc.Table()
	if err != nil {
		return err
	}

	reader, err := data.NewMmdbReader(mmdbPath)
	if err != nil {
		return err
	}
	defer reader.Close()
	logger.Info("MMDB loaded", "path", mmdbPath, "type", reader.DatabaseType())

	report, err := verifyTable(ctx, table, reader)
	if err != nil {
		return err
	}

	for i, mm := range report.Mismatches {
		if i == 20 {
			logger.Warn("more mismatches omitted", "count", len(report.Mismatches)-i)
			break
		}
		logger.Warn("endpoint disagrees", "range", mm.Range.String(), "addr", mm.Addr, "mmdb", mm.Got)
	}
	logger.Info("verify finished",
		"checked", humanize.Comma(int64(report.Checked)),
		"mismatches", len(report.Mismatches),
	)
	if c.Bool("strict") && len(report.Mismatches) > 0 {
		return fmt.Errorf("%d of %d endpoints disagree with %s", len(report.Mismatches), report.Checked, mmdbPath)
	}
	return nil
}

// verifyTable looks up both endpoints of every range in lookup.
func verifyTable(ctx context.Context, table *rangetable.Table, lookup data.CountryLookup) (*VerifyReport, error) {
	report := &VerifyReport{}
	for _, k := range table.Keys() {
		for _, r := range table.Ranges(k) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			ends := []uint128.Uint128{r.Low, r.High}
			if r.Low == r.High {
				ends = ends[:1]
			}
			for _, value := range ends {
				addr, ok := rangetable.ValueAddr(r.Family, value)
				if !ok {
					continue
				}
				got, err := lookup.LookupCountry(addr)
				if err != nil {
					return nil, fmt.Errorf("lookup %s: %w", addr, err)
				}
				report.Checked++
				if got != r.Country {
					report.Mismatches = append(report.Mismatches, Mismatch{Range: r, Addr: addr.String(), Got: got})
				}
			}
		}
	}
	slog.Debug("verified table", "ranges", table.Len(), "checked", report.Checked)
	return report, nil
}
