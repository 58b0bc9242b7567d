package data

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/TomasB/geolocal/internal/artifact"
	"github.com/TomasB/geolocal/internal/metrics"
	"github.com/TomasB/geolocal/internal/store"
	"github.com/TomasB/geolocal/pkg/rangetable"
)

// ErrNotLoaded is returned by Ready before the first successful Reload.
var ErrNotLoaded = errors.New("table not loaded")

const reloadDebounce = 200 * time.Millisecond

// Snapshot is a loaded table together with the artifact metadata.
type Snapshot struct {
	Table    *rangetable.Table
	Meta     artifact.Meta
	LoadedAt time.Time
}

// Holder keeps the table loaded from an artifact store and swaps it
// atomically on reload. Readers never block and always see a complete,
// certified table.
type Holder struct {
	store   store.Store
	name    string
	metrics *metrics.Metrics
	logger  *slog.Logger

	current atomic.Pointer[Snapshot]
	mu      sync.Mutex // serializes reloads
}

// NewHolder returns a Holder reading artifact name from st. m may be nil.
func NewHolder(st store.Store, name string, m *metrics.Metrics, logger *slog.Logger) *Holder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Holder{store: st, name: name, metrics: m, logger: logger}
}

// Table returns the current table or nil.
func (h *Holder) Table() *rangetable.Table {
	if s := h.current.Load(); s != nil {
		return s.Table
	}
	return nil
}

// Snapshot returns the current snapshot.
func (h *Holder) Snapshot() (Snapshot, bool) {
	s := h.current.Load()
	if s == nil {
		return Snapshot{}, false
	}
	return *s, true
}

// Ready reports whether a table is being served.
func (h *Holder) Ready() error {
	if h.current.Load() == nil {
		return ErrNotLoaded
	}
	return nil
}

// Reload fetches, decodes and certifies the artifact and installs it. On
// failure the previous table stays in service.
func (h *Holder) Reload(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	start := time.Now()
	snap, err := h.load(ctx)
	if err != nil {
		h.metrics.ObserveReload(time.Since(start), nil, err)
		return err
	}
	h.current.Store(snap)

	counts := make(map[string]int)
	for _, k := range snap.Table.Keys() {
		counts[k.Family.String()] += len(snap.Table.Ranges(k))
	}
	h.metrics.ObserveReload(time.Since(start), counts, nil)

	h.logger.Info("table loaded",
		"artifact", h.name,
		"source", snap.Meta.Source,
		"ranges", snap.Table.Len(),
		"countries", len(snap.Table.Countries()),
		"generated_at", snap.Meta.GeneratedAt,
	)
	return nil
}

func (h *Holder) load(ctx context.Context) (*Snapshot, error) {
	raw, err := h.store.Get(ctx, h.name)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", h.name, err)
	}
	doc, err := artifact.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", h.name, err)
	}
	table, err := doc.Table()
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", h.name, err)
	}
	return &Snapshot{
		Table: table,
		Meta: artifact.Meta{
			Source:      doc.Source,
			GeneratedAt: doc.GeneratedAt,
			Families:    doc.Families,
			Countries:   doc.Countries,
		},
		LoadedAt: time.Now(),
	}, nil
}

// LookupCountry returns the first country, in table order, whose ranges
// contain addr.
func (h *Holder) LookupCountry(addr netip.Addr) (string, error) {
	table := h.Table()
	if table == nil {
		return "", ErrNotLoaded
	}
	k, ok := table.Lookup(addr, rangetable.FamilyUnspecified)
	if !ok {
		return "", nil
	}
	return k.Country, nil
}

// Close implements CountryLookup.
func (h *Holder) Close() error { return nil }

// Watch reloads the table whenever the artifact file in dir is written or
// replaced. Bursts of events are coalesced. Watch blocks until ctx is done.
func (h *Holder) Watch(ctx context.Context, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer watcher.Close()

	// The directory is watched because atomic renames replace the file's
	// inode.
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	timer := time.NewTimer(reloadDebounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != h.name {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				h.logger.Debug("artifact changed", "path", ev.Name, "op", ev.Op.String())
				timer.Reset(reloadDebounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			h.logger.Warn("watch error", "error", err)
		case <-timer.C:
			if err := h.Reload(ctx); err != nil {
				h.logger.Error("reload failed, keeping previous table", "error", err)
			}
		}
	}
}
