// Package politeness is an additive layer on top of the token-bucket rate
// limiter that honors a site's /robots.txt group and crawl-delay directive
// when one is published, falling back to a randomized-delay heuristic
// otherwise.
package politeness

import (
	"context"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"

	"github.com/codepr/docscraper/fetcher"
)

const robotsTxtPath = "/robots.txt"

// Rules holds the robots.txt group fetched for one origin, plus the
// fixed/random delay fallback used when no robots.txt was found. There are
// 3 possible delays considered and the largest one wins: the robots.txt
// Crawl-delay, a randomized value around fixedDelay, and the square of the
// last observed response time.
type Rules struct {
	rwMutex     sync.RWMutex
	robotsGroup *robotstxt.Group
	fixedDelay  time.Duration
	lastDelay   time.Duration
}

// New creates an empty Rules with a fallback fixed delay to use when no
// robots.txt is present.
func New(fixedDelay time.Duration) *Rules {
	return &Rules{fixedDelay: fixedDelay}
}

// Allowed reports whether path is permitted by the fetched robots.txt
// group. With no group loaded (none found, or not yet fetched), everything
// is allowed: no robots.txt means full access.
func (r *Rules) Allowed(path string) bool {
	r.rwMutex.RLock()
	defer r.rwMutex.RUnlock()
	if r.robotsGroup == nil {
		return true
	}
	return r.robotsGroup.Test(path)
}

// CrawlDelay returns the delay to respect before the next request to this
// origin, choosing the max of: the robots.txt Crawl-delay directive (if
// any), a randomized value between 0.5x and 1.5x the fixed delay, and the
// delay implied by the last response time squared.
func (r *Rules) CrawlDelay() time.Duration {
	r.rwMutex.RLock()
	defer r.rwMutex.RUnlock()

	var robotsDelay time.Duration
	if r.robotsGroup != nil {
		robotsDelay = r.robotsGroup.CrawlDelay
	}
	randomDelay := randDelay(r.fixedDelay.Milliseconds()) * time.Millisecond
	baseDelay := time.Duration(
		math.Max(float64(randomDelay.Milliseconds()), float64(robotsDelay.Milliseconds())),
	) * time.Millisecond
	return time.Duration(
		math.Max(float64(r.lastDelay.Milliseconds()), float64(baseDelay.Milliseconds())),
	) * time.Millisecond
}

// UpdateLastDelay records the response time of the most recent request,
// squared, as a pressure signal for the next CrawlDelay calculation.
func (r *Rules) UpdateLastDelay(responseTime time.Duration) {
	r.rwMutex.Lock()
	defer r.rwMutex.Unlock()
	r.lastDelay = time.Duration(math.Pow(responseTime.Seconds(), 2.0)) * time.Second
}

// FetchRobotsTxt attempts to fetch and parse /robots.txt for origin,
// returning true if a matching group for userAgent was found and loaded.
func (r *Rules) FetchRobotsTxt(ctx context.Context, f *fetcher.Fetcher, userAgent string, origin *url.URL) bool {
	u, _ := url.Parse(robotsTxtPath)
	target := origin.ResolveReference(u)

	resp, err := f.Fetch(ctx, target.String(), http.MethodGet, nil, nil)
	if err != nil || resp == nil {
		return false
	}

	doc, err := robotstxt.FromBytes(resp.Body)
	// If robots data cannot be parsed, this leaves access allowed by
	// default — invalid robots.txt is treated the same as a missing one.
	if err != nil {
		return false
	}

	group := doc.FindGroup(userAgent)
	if group == nil {
		return false
	}

	r.rwMutex.Lock()
	r.robotsGroup = group
	r.rwMutex.Unlock()
	return true
}

// randDelay returns a random value between 0.5*value and 1.5*value.
func randDelay(value int64) time.Duration {
	if value == 0 {
		return 0
	}
	max, min := 1.5*float64(value), 0.5*float64(value)
	return time.Duration(rand.Int63n(int64(max-min)) + int64(min))
}
