package crawler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/codepr/docscraper/model"
	"github.com/codepr/docscraper/progress"
)

func TestSetDefaultsFillsZeroValues(t *testing.T) {
	var o Options
	o.setDefaults()

	if o.UserAgent != defaultUserAgent {
		t.Errorf("UserAgent = %q, want %q", o.UserAgent, defaultUserAgent)
	}
	if o.MaxConnections != defaultMaxConnections {
		t.Errorf("MaxConnections = %d, want %d", o.MaxConnections, defaultMaxConnections)
	}
	if o.MaxWorkers != defaultMaxWorkers {
		t.Errorf("MaxWorkers = %d, want %d", o.MaxWorkers, defaultMaxWorkers)
	}
	if o.PolitenessDelay != defaultPolitenessDelay {
		t.Errorf("PolitenessDelay = %v, want %v", o.PolitenessDelay, defaultPolitenessDelay)
	}
}

func TestSetDefaultsPreservesExplicitValues(t *testing.T) {
	o := Options{MaxWorkers: 3, UserAgent: "custom/1.0"}
	o.setDefaults()

	if o.MaxWorkers != 3 {
		t.Errorf("MaxWorkers = %d, want 3 (explicit value clobbered)", o.MaxWorkers)
	}
	if o.UserAgent != "custom/1.0" {
		t.Errorf("UserAgent = %q, want custom/1.0", o.UserAgent)
	}
}

func TestRouteTailLastTwoSegments(t *testing.T) {
	cases := map[string]string{
		"https://example.org/":                   "",
		"https://example.org/docs":                "docs",
		"https://example.org/docs/intro":           "docs/intro",
		"https://example.org/docs/intro/deep/page": "deep/page",
	}
	for raw, want := range cases {
		u, err := url.Parse(raw)
		if err != nil {
			t.Fatalf("parse %s: %v", raw, err)
		}
		if got := routeTail(u); got != want {
			t.Errorf("routeTail(%s) = %q, want %q", raw, got, want)
		}
	}
}

func TestRouteKeyCollapsesEmptyTailForIndex(t *testing.T) {
	u, _ := url.Parse("https://example.org/")
	got := routeKey("example", model.KindReference, u)
	want := "/example/reference"
	if got != want {
		t.Errorf("routeKey = %q, want %q", got, want)
	}
}

func TestRouteKeyIncludesTailForNestedPage(t *testing.T) {
	u, _ := url.Parse("https://example.org/docs/intro")
	got := routeKey("example", model.KindReference, u)
	want := "/example/reference/docs/intro"
	if got != want {
		t.Errorf("routeKey = %q, want %q", got, want)
	}
}

// fixtureSite serves a tiny three-page reference site: an index page with
// a stylesheet (which itself references an image) linking to two children,
// the first of which also embeds that image, so a full Run exercises
// content extraction, nav-link enqueueing and resource downloading in one
// pass.
func fixtureSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><title>Home</title></head><body>
<nav class="doc-nav"><ul>
  <li><a href="/docs/alpha">Alpha</a></li>
  <li><a href="/docs/beta">Beta</a></li>
</ul></nav>
<article class="doc"><p>Welcome.</p></article>
<link rel="stylesheet" href="/static/site.css">
</body></html>`))
	})
	mux.HandleFunc("/docs/alpha", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><title>Alpha</title></head><body>
<article class="doc"><p>Alpha page.</p></article>
<img src="/static/alpha.png">
</body></html>`))
	})
	mux.HandleFunc("/docs/beta", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><title>Beta</title></head><body>
<article class="doc"><p>Beta page.</p></article>
</body></html>`))
	})
	mux.HandleFunc("/static/site.css", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`body { background: url(/static/alpha.png); }`))
	})
	mux.HandleFunc("/static/alpha.png", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not-really-a-png"))
	})
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestEngineRunCrawlsFixtureSite(t *testing.T) {
	srv := fixtureSite(t)
	outDir := t.TempDir()

	opts := Options{
		Seeds: []Seed{
			{URL: srv.URL + "/", Project: "widgets", Version: "1.0", Kind: model.KindReference},
		},
		OutputDir:         outDir,
		MaxWorkers:        2,
		MaxRetries:        1,
		RetryDelaySeconds: 0.01,
		PolitenessDelay:   0,
		CheckpointEnabled: true,
	}

	bus := progress.New()
	e := New("job-1", opts, bus)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	routesData, err := os.ReadFile(filepath.Join(outDir, "routes.json"))
	if err != nil {
		t.Fatalf("reading routes.json: %v", err)
	}
	var routes map[string]model.RouteModel
	if err := json.Unmarshal(routesData, &routes); err != nil {
		t.Fatalf("decoding routes.json: %v", err)
	}
	if len(routes) != 3 {
		t.Fatalf("routes = %d, want 3 (index + alpha + beta): %+v", len(routes), routes)
	}
	if _, ok := routes["/widgets/reference"]; !ok {
		t.Errorf("missing index route, got %v", keysOf(routes))
	}
	if _, ok := routes["/widgets/reference/docs/alpha"]; !ok {
		t.Errorf("missing alpha route, got %v", keysOf(routes))
	}

	for _, r := range routes {
		if _, err := os.Stat(filepath.Join(outDir, "content", r.ContentFile)); err != nil {
			t.Errorf("content file missing for %s: %v", r.RouteKey, err)
		}
	}

	templatePath := filepath.Join(outDir, "templates", string(model.KindReference)+".html")
	templateBytes, err := os.ReadFile(templatePath)
	if err != nil {
		t.Fatalf("reading template: %v", err)
	}
	if !strings.Contains(string(templateBytes), "content-placeholder") {
		t.Errorf("template missing content-placeholder marker")
	}

	if _, err := os.Stat(filepath.Join(outDir, "static", "css", "site.css")); err != nil {
		t.Errorf("stylesheet not downloaded: %v", err)
	}
	if _, err := os.Stat(filepath.Join(outDir, "static", "img", "alpha.png")); err != nil {
		t.Errorf("image not downloaded: %v", err)
	}

	if checkpointExists(outDir) {
		t.Errorf("checkpoint left behind after clean finalize")
	}
}

func TestEngineRunTwiceStartsFreshAfterCleanFinalize(t *testing.T) {
	srv := fixtureSite(t)
	outDir := t.TempDir()

	opts := Options{
		Seeds: []Seed{
			{URL: srv.URL + "/docs/beta", Project: "widgets", Version: "1.0", Kind: model.KindReference},
		},
		OutputDir:         outDir,
		MaxWorkers:        1,
		MaxRetries:        1,
		RetryDelaySeconds: 0.01,
		PolitenessDelay:   0,
		CheckpointEnabled: true,
	}

	bus := progress.New()
	e := New("job-2", opts, bus)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Run(ctx); err != nil {
		t.Fatalf("first run: %v", err)
	}

	// A second run against an output directory with no checkpoint left
	// (clean finalize deletes it) starts fresh and must still succeed.
	e2 := New("job-3", opts, bus)
	ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel2()
	if err := e2.Run(ctx2); err != nil {
		t.Fatalf("second run: %v", err)
	}
}

func keysOf(m map[string]model.RouteModel) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func checkpointExists(outDir string) bool {
	_, err := os.Stat(filepath.Join(outDir, ".scraper_checkpoint.json"))
	return err == nil
}
