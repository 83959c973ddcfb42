// Package resource fetches CSS/JS/images/fonts referenced by a page,
// persists them under the output tree, and caches URL→local-path so a
// resource referenced by many pages is only ever downloaded once. The
// persistent cache is a single bbolt bucket keyed by URL, storing plain
// local-path strings.
package resource

import (
	"context"
	"log"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"github.com/codepr/docscraper/fetcher"
	"github.com/codepr/docscraper/model"
)

const cacheBucket = "static_cache"

var cssExt = regexp.MustCompile(`(?i)\.css$`)
var jsExt = regexp.MustCompile(`(?i)\.js$`)
var svgExt = regexp.MustCompile(`(?i)\.svg$`)
var fontExt = regexp.MustCompile(`(?i)\.(woff2?|ttf|eot|otf)$`)
var imgExt = regexp.MustCompile(`(?i)\.(png|jpe?g|gif|webp|ico)$`)

var cssURLRef = regexp.MustCompile(`url\(\s*['"]?([^'")]+)['"]?\s*\)`)

// Downloader fetches static resources referenced by crawled pages and
// persists them under outDir/static/..., first-writer-wins per URL via the
// cache's compare-and-set Put.
type Downloader struct {
	outDir string
	f      *fetcher.Fetcher
	cache  *Cache

	mu      sync.Mutex
	inflight map[string]bool

	logger *log.Logger
}

// New opens (or creates) the persistent cache at outDir/.static_cache.db
// and returns a Downloader ready to serve Download calls.
func New(outDir string, f *fetcher.Fetcher) (*Downloader, error) {
	cache, err := OpenCache(filepath.Join(outDir, ".static_cache.db"))
	if err != nil {
		return nil, err
	}
	for _, sub := range []string{"css", "js", "img", "fonts"} {
		if err := os.MkdirAll(filepath.Join(outDir, "static", sub), 0o755); err != nil {
			return nil, err
		}
	}
	return &Downloader{
		outDir:   outDir,
		f:        f,
		cache:    cache,
		inflight: make(map[string]bool),
		logger:   log.New(os.Stderr, "resource: ", log.LstdFlags),
	}, nil
}

// Download fetches ref's URL unless it is already in the static cache,
// writes it under the correct subtree, and records url → relative path.
// It recurses into CSS files, downloading any url(...) references it finds.
// Returns the populated ResourceRef; LocalPath is left empty on failure, so
// a renderer can skip entries with no local_path.
func (d *Downloader) Download(ctx context.Context, ref model.ResourceRef) model.ResourceRef {
	if localPath, ok := d.cache.Get(ref.URL); ok {
		ref.LocalPath = localPath
		return ref
	}

	if !d.claim(ref.URL) {
		// Another goroutine is already fetching this URL; the cache will
		// have it shortly. Spin once more on the cache rather than
		// duplicating the fetch.
		if localPath, ok := d.cache.Get(ref.URL); ok {
			ref.LocalPath = localPath
		}
		return ref
	}
	defer d.release(ref.URL)

	resp, err := d.f.Fetch(ctx, ref.URL, "GET", nil, nil)
	if err != nil || resp == nil {
		d.logger.Printf("download %s: %v", ref.URL, err)
		return ref
	}

	subtree, filename := targetPath(ref.URL, ref.Kind)
	relPath := path.Join("static", subtree, filename)
	absPath := filepath.Join(d.outDir, relPath)

	if err := d.write(absPath, ref.Kind, resp.Body); err != nil {
		d.logger.Printf("write %s: %v", absPath, err)
		return ref
	}

	if !d.cache.PutIfAbsent(ref.URL, relPath) {
		// A concurrent writer won the race; defer to its path so every
		// reference to this URL resolves consistently.
		if winner, ok := d.cache.Get(ref.URL); ok {
			relPath = winner
		}
	}
	ref.LocalPath = relPath
	ref.SizeBytes = int64(len(resp.Body))

	if ref.Kind == model.ResourceCSS {
		d.recurseCSS(ctx, ref.URL, resp.Body)
	}
	return ref
}

func (d *Downloader) claim(url string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inflight[url] {
		return false
	}
	d.inflight[url] = true
	return true
}

func (d *Downloader) release(url string) {
	d.mu.Lock()
	delete(d.inflight, url)
	d.mu.Unlock()
}

// write persists data to absPath. CSS/JS/SVG are decoded as UTF-8 text
// (with replacement); everything else is written as raw bytes.
func (d *Downloader) write(absPath string, kind model.ResourceKind, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return err
	}
	if isTextKind(kind, absPath) {
		text := strings.ToValidUTF8(string(data), string([]rune{0xFFFD}))
		return os.WriteFile(absPath, []byte(text), 0o644)
	}
	return os.WriteFile(absPath, data, 0o644)
}

func isTextKind(kind model.ResourceKind, p string) bool {
	return kind == model.ResourceCSS || jsExt.MatchString(p) || svgExt.MatchString(p) || cssExt.MatchString(p)
}

// recurseCSS scans CSS text for url(...) references, resolves them
// relative to sourceURL, classifies them by extension, and downloads each
// with a direct Download call. The CSS file already written to disk is left untouched:
// local paths are never rewritten in-place.
func (d *Downloader) recurseCSS(ctx context.Context, sourceURL string, body []byte) {
	for _, m := range cssURLRef.FindAllStringSubmatch(string(body), -1) {
		raw := strings.TrimSpace(m[1])
		if strings.HasPrefix(raw, "data:") {
			continue
		}
		resolved, ok := resolveRelative(sourceURL, raw)
		if !ok {
			continue
		}
		kind := classify(resolved)
		if kind == model.ResourceOther {
			continue
		}
		d.Download(ctx, model.ResourceRef{URL: resolved, Kind: kind})
	}
}

func classify(rawURL string) model.ResourceKind {
	switch {
	case fontExt.MatchString(rawURL):
		return model.ResourceFont
	case imgExt.MatchString(rawURL), svgExt.MatchString(rawURL):
		return model.ResourceImg
	default:
		return model.ResourceOther
	}
}

// targetPath maps a resource kind to its subtree under static/ and derives
// a filename from the URL's last path segment, falling back to hash8(url)
// when that segment is empty.
func targetPath(rawURL string, kind model.ResourceKind) (subtree, filename string) {
	switch kind {
	case model.ResourceCSS:
		subtree = "css"
	case model.ResourceJS:
		subtree = "js"
	case model.ResourceImg:
		subtree = "img"
	case model.ResourceFont:
		subtree = "fonts"
	default:
		subtree = ""
	}

	urlPath := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		urlPath = u.Path
	}
	last := path.Base(urlPath)
	if last == "" || last == "." || last == "/" {
		filename = model.Hash8(rawURL)
	} else {
		filename = last
	}
	return subtree, filename
}

// CacheSnapshot returns every url→local-path pair cached so far, for
// inclusion in a checkpoint blob.
func (d *Downloader) CacheSnapshot() map[string]string {
	return d.cache.Snapshot()
}

// Close releases the cache's database handle.
func (d *Downloader) Close() error {
	return d.cache.Close()
}

// Cache is the persistent URL→local-path store backing the Downloader,
// surviving a process restart independent of the JSON checkpoint.
type Cache struct {
	db *bbolt.DB
}

// OpenCache opens (creating if necessary) a bbolt database at path with a
// single bucket for the static resource cache.
func OpenCache(path string) (*Cache, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(cacheBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Cache{db: db}, nil
}

// Get returns the cached local path for url, if present.
func (c *Cache) Get(url string) (string, bool) {
	var value string
	var found bool
	c.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(cacheBucket)).Get([]byte(url))
		if v != nil {
			value = string(v)
			found = true
		}
		return nil
	})
	return value, found
}

// PutIfAbsent inserts localPath for url only if no entry exists yet,
// giving the static cache compare-and-set / first-writer-wins semantics
// under concurrent writers. Returns true if this call's value won.
func (c *Cache) PutIfAbsent(url, localPath string) bool {
	won := false
	c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(cacheBucket))
		if b.Get([]byte(url)) != nil {
			return nil
		}
		won = true
		return b.Put([]byte(url), []byte(localPath))
	})
	return won
}

// Snapshot returns every url→local-path pair currently cached, for
// inclusion in a checkpoint blob.
func (c *Cache) Snapshot() map[string]string {
	out := make(map[string]string)
	c.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(cacheBucket)).ForEach(func(k, v []byte) error {
			out[string(k)] = string(v)
			return nil
		})
	})
	return out
}

// Close closes the underlying database handle.
func (c *Cache) Close() error {
	return c.db.Close()
}

// resolveRelative joins base to a (possibly relative) reference.
func resolveRelative(base, ref string) (string, bool) {
	b, err := url.Parse(base)
	if err != nil {
		return "", false
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", false
	}
	return b.ResolveReference(u).String(), true
}
