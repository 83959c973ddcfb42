package politeness

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/codepr/docscraper/fetcher"
)

func TestFetchRobotsTxtLoadsGroup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/robots.txt" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte("User-agent: *\nDisallow: /private\nCrawl-delay: 2\n"))
	}))
	defer srv.Close()

	origin, _ := url.Parse(srv.URL)
	f := fetcher.New(fetcher.Options{})
	defer f.Close()

	rules := New(100 * time.Millisecond)
	ok := rules.FetchRobotsTxt(context.Background(), f, "docscraper", origin)
	if !ok {
		t.Fatalf("FetchRobotsTxt failed: expected a group to be found")
	}
	if rules.Allowed("/private/page") {
		t.Errorf("Allowed failed: expected /private/page to be disallowed")
	}
	if !rules.Allowed("/public/page") {
		t.Errorf("Allowed failed: expected /public/page to be allowed")
	}
}

func TestFetchRobotsTxtMissingLeavesEverythingAllowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	origin, _ := url.Parse(srv.URL)
	f := fetcher.New(fetcher.Options{})
	defer f.Close()

	rules := New(100 * time.Millisecond)
	ok := rules.FetchRobotsTxt(context.Background(), f, "docscraper", origin)
	if ok {
		t.Errorf("FetchRobotsTxt failed: expected no group for a 404 response")
	}
	if !rules.Allowed("/anything") {
		t.Errorf("Allowed failed: expected everything allowed with no robots.txt loaded")
	}
}

func TestCrawlDelayHonorsRobotsDirective(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("User-agent: *\nCrawl-delay: 3\n"))
	}))
	defer srv.Close()

	origin, _ := url.Parse(srv.URL)
	f := fetcher.New(fetcher.Options{})
	defer f.Close()

	rules := New(10 * time.Millisecond)
	rules.FetchRobotsTxt(context.Background(), f, "docscraper", origin)

	if got := rules.CrawlDelay(); got < 3*time.Second {
		t.Errorf("CrawlDelay failed: expected at least the robots.txt directive of 3s, got %s", got)
	}
}

func TestCrawlDelayFallsBackToRandomizedFixedDelay(t *testing.T) {
	rules := New(100 * time.Millisecond)
	for i := 0; i < 20; i++ {
		d := rules.CrawlDelay()
		if d < 50*time.Millisecond || d > 150*time.Millisecond {
			t.Errorf("CrawlDelay failed: expected value within 0.5x-1.5x of fixed delay, got %s", d)
		}
	}
}

func TestUpdateLastDelayRaisesFloor(t *testing.T) {
	rules := New(0)
	rules.UpdateLastDelay(2 * time.Second)
	if got := rules.CrawlDelay(); got < 4*time.Second {
		t.Errorf("CrawlDelay failed: expected last response time squared to dominate, got %s", got)
	}
}
