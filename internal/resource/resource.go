// Package resource stages auxiliary files, fonts in practice, that must be
// present in the engine filesystem before the engine starts.
package resource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ricochet1k/officemesh/internal/logging"
)

// FontDir is where the engine looks for fonts during its one startup scan.
const FontDir = "/instdir/share/fonts/truetype"

// MaxResourceSize bounds a single fetched resource.
const MaxResourceSize = 64 << 20

const DefaultFetchTimeout = 30 * time.Second

var (
	ErrNoSource = errors.New("resource has no source")
	ErrTooLarge = errors.New("resource exceeds size limit")
)

// Descriptor names one resource. Exactly one of Data, URL or Path is used, in
// that order of preference.
type Descriptor struct {
	Name string `json:"name" yaml:"name" mapstructure:"name"`
	URL  string `json:"url,omitempty" yaml:"url,omitempty" mapstructure:"url"`
	Path string `json:"path,omitempty" yaml:"path,omitempty" mapstructure:"path"`
	Data []byte `json:"-" yaml:"-" mapstructure:"-"`
}

func (d Descriptor) location() string {
	if d.URL != "" {
		return d.URL
	}
	return d.Path
}

// FileName is the last segment of the URL or path, falling back to the
// logical name with a .ttf suffix.
func (d Descriptor) FileName() string {
	var base string
	switch {
	case d.URL != "":
		if u, err := url.Parse(d.URL); err == nil {
			base = path.Base(u.Path)
		}
	case d.Path != "":
		base = filepath.Base(d.Path)
	}
	if base == "" || base == "." || base == "/" {
		return d.Name + ".ttf"
	}
	return base
}

// Resolved is a resource whose bytes are fully in memory.
type Resolved struct {
	Name     string
	FileName string
	Data     []byte
}

type Resolver struct {
	Client *http.Client
	Cache  *Cache
	Logger *zap.Logger
}

func (r *Resolver) logger() *zap.Logger {
	return logging.Or(r.Logger).Named("resource")
}

func (r *Resolver) client() *http.Client {
	if r.Client != nil {
		return r.Client
	}
	return &http.Client{Timeout: DefaultFetchTimeout}
}

// Resolve fetches every descriptor concurrently and waits for all of them.
// A failure drops only that resource. The result keeps input order.
func (r *Resolver) Resolve(ctx context.Context, descs []Descriptor) []Resolved {
	if len(descs) == 0 {
		return nil
	}
	log := r.logger()

	slots := make([]*Resolved, len(descs))
	var wg sync.WaitGroup
	for i, d := range descs {
		wg.Add(1)
		go func(i int, d Descriptor) {
			defer wg.Done()
			data, err := r.fetch(ctx, d)
			if err != nil {
				if errors.Is(err, ErrNoSource) {
					log.Debug("skipping resource without source", zap.String("name", d.Name))
				} else {
					log.Warn("resource fetch failed",
						zap.String("name", d.Name),
						zap.String("location", d.location()),
						zap.Error(err))
				}
				return
			}
			slots[i] = &Resolved{Name: d.Name, FileName: d.FileName(), Data: data}
		}(i, d)
	}
	wg.Wait()

	out := make([]Resolved, 0, len(descs))
	for _, s := range slots {
		if s != nil {
			out = append(out, *s)
		}
	}
	return out
}

func (r *Resolver) fetch(ctx context.Context, d Descriptor) ([]byte, error) {
	switch {
	case d.Data != nil:
		return d.Data, nil
	case d.URL != "":
		if data, ok := r.Cache.Get(d.URL); ok {
			return data, nil
		}
		data, err := r.fetchURL(ctx, d.URL)
		if err != nil {
			return nil, err
		}
		if err := r.Cache.Put(d.URL, data); err != nil {
			r.logger().Debug("resource cache write failed", zap.String("url", d.URL), zap.Error(err))
		}
		return data, nil
	case d.Path != "":
		data, err := os.ReadFile(d.Path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", d.Path, err)
		}
		return data, nil
	default:
		return nil, ErrNoSource
	}
}

func (r *Resolver) fetchURL(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := r.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", rawURL, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResourceSize+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rawURL, err)
	}
	if len(data) > MaxResourceSize {
		return nil, fmt.Errorf("%w: %s", ErrTooLarge, rawURL)
	}
	return data, nil
}

// TrimName returns a file name safe to place under a single directory.
func TrimName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	return path.Base("/" + name)
}
