package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	// DefaultDBIPPage lists the current free db-ip.com country database.
	DefaultDBIPPage = "https://db-ip.com/db/download/country"
	userAgent       = "geolocal-feed/1.0"
	maxPageBytes    = 1 << 20
)

var linkPattern = regexp.MustCompile(`(?i)href\s*=\s*['"]([^'"]+\.csv(?:\.gz)?)['"]`)

// ErrNoDownloadLink is returned when the download page carries no CSV link.
var ErrNoDownloadLink = errors.New("no csv download link found")

// Downloader fetches the db-ip country feed into a local directory.
type Downloader struct {
	PageURL string
	Dir     string
	Client  *http.Client

	group singleflight.Group
}

// NewDownloader returns a Downloader for pageURL storing files under dir.
func NewDownloader(pageURL, dir string) *Downloader {
	if pageURL == "" {
		pageURL = DefaultDBIPPage
	}
	return &Downloader{
		PageURL: pageURL,
		Dir:     dir,
		Client:  &http.Client{Timeout: 2 * time.Minute},
	}
}

// Download resolves the feed link on the download page, stores the file
// under Dir and returns its path. Concurrent calls share one download.
func (d *Downloader) Download(ctx context.Context) (string, error) {
	result, err, _ := d.group.Do("download", func() (interface{}, error) {
		link, err := d.resolveLink(ctx)
		if err != nil {
			return "", err
		}
		slog.Info("downloading feed", "url", link)

		body, err := d.get(ctx, link)
		if err != nil {
			return "", err
		}
		defer body.Close()

		dest := filepath.Join(d.Dir, feedFileName(link))
		if err := writeFileAtomic(dest, body); err != nil {
			return "", fmt.Errorf("store %s: %w", link, err)
		}
		return dest, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (d *Downloader) resolveLink(ctx context.Context) (string, error) {
	body, err := d.get(ctx, d.PageURL)
	if err != nil {
		return "", err
	}
	defer body.Close()

	page, err := io.ReadAll(io.LimitReader(body, maxPageBytes))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", d.PageURL, err)
	}
	m := linkPattern.FindSubmatch(page)
	if m == nil {
		return "", fmt.Errorf("%s: %w", d.PageURL, ErrNoDownloadLink)
	}

	base, err := url.Parse(d.PageURL)
	if err != nil {
		return "", fmt.Errorf("parse page url: %w", err)
	}
	ref, err := url.Parse(string(m[1]))
	if err != nil {
		return "", fmt.Errorf("parse download link %q: %w", m[1], err)
	}
	return base.ResolveReference(ref).String(), nil
}

func (d *Downloader) get(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", rawURL, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("get %s: unexpected status %d: %s", rawURL, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return resp.Body, nil
}

func feedFileName(link string) string {
	if u, err := url.Parse(link); err == nil {
		if name := path.Base(u.Path); name != "" && name != "/" && name != "." {
			return name
		}
	}
	return "dbip-country.csv.gz"
}

// writeFileAtomic copies data into a temporary file next to dest and renames
// it into place once fully written.
func writeFileAtomic(dest string, data io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(dest), ".feed-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		_ = os.Remove(tmpFile.Name())
	}()

	if _, err := io.Copy(tmpFile, data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("copy data: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpFile.Name(), dest); err != nil {
		return fmt.Errorf("replace file: %w", err)
	}
	return nil
}
