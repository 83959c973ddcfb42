package crawler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/codepr/docscraper/extract"
	"github.com/codepr/docscraper/model"
	"github.com/codepr/docscraper/urlnorm"
)

// processItem is the worker.Processor for this engine: fetch, check
// politeness, extract content and resources, persist, and enqueue any
// discovered nav links. Any returned error converts to a queue-level
// retry/failure; it never panics on page-shaped problems (parse failures,
// missing containers) so one bad page can never take a worker down.
func (e *Engine) processItem(ctx context.Context, item *model.QueueItem) (any, error) {
	pageURL, err := url.Parse(item.URL)
	if err != nil {
		return nil, fmt.Errorf("processItem: invalid url %s: %w", item.URL, err)
	}
	origin := &url.URL{Scheme: pageURL.Scheme, Host: pageURL.Host}
	rules := e.rulesFor(ctx, origin)

	if !rules.Allowed(pageURL.Path) {
		// Disallowed by robots.txt: this is a terminal, non-retryable
		// outcome for the URL, not a transient failure, but the queue
		// only distinguishes retryable vs not by retry_count, so it is
		// simplest to let it exhaust its (small) retry budget the same
		// as any other failure.
		return nil, fmt.Errorf("processItem: %s disallowed by robots.txt", item.URL)
	}

	resp, err := e.fetcher.Fetch(ctx, item.URL, http.MethodGet, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("processItem: fetch %s: %w", item.URL, err)
	}
	if resp == nil {
		return nil, fmt.Errorf("processItem: fetch %s: HTTP error status", item.URL)
	}
	rules.UpdateLastDelay(resp.Elapsed)
	if delay := rules.CrawlDelay(); delay > 0 {
		time.Sleep(delay)
	}

	e.ensureTemplate(item.Metadata.Kind, string(resp.Body))

	result, err := extract.Extract(string(resp.Body), item.URL, item.Metadata.Kind, item.Metadata.Project)
	if err != nil {
		return nil, fmt.Errorf("processItem: parse %s: %w", item.URL, err)
	}
	if result == nil {
		return nil, fmt.Errorf("processItem: %s: no recognisable content container", item.URL)
	}

	normalized, err := urlnorm.Normalize(item.URL)
	if err != nil {
		normalized = item.URL
	}
	if err := e.writeContent(item.Metadata.Project, item.Metadata.Kind, normalized, result.Content); err != nil {
		return nil, fmt.Errorf("processItem: write content %s: %w", item.URL, err)
	}

	e.registerRoute(item.Metadata.Project, item.Metadata.Kind, pageURL, result.Content.Title, normalized)

	if item.Metadata.IsIndex {
		e.enqueueNavLinks(result.Content.NavTree, pageURL, item.Metadata)
	}

	for _, ref := range result.Resources {
		e.downloader.Download(ctx, ref)
	}

	return normalized, nil
}

// ensureTemplate materializes the per-kind template the first time it is
// needed: clone the page, empty the content container, write the skin.
// Written once, read many times thereafter.
func (e *Engine) ensureTemplate(kind model.DocKind, rawHTML string) {
	e.templatesMu.Lock()
	_, exists := e.templates[kind]
	e.templatesMu.Unlock()
	if exists {
		return
	}

	skin, err := extract.Skin(rawHTML, extract.ContainerSelectors(kind))
	if err != nil {
		e.logger.Printf("template skin for %s failed: %v", kind, err)
		return
	}

	e.templatesMu.Lock()
	if _, raced := e.templates[kind]; raced {
		e.templatesMu.Unlock()
		return
	}
	e.templates[kind] = skin
	e.templatesMu.Unlock()

	path := filepath.Join(e.opts.OutputDir, "templates", string(kind)+".html")
	if err := os.WriteFile(path, []byte(skin), 0o644); err != nil {
		e.logger.Printf("writing template %s: %v", path, err)
	}
}

// writeContent persists a ScrapedContent record under
// content/{project}-{kind}-{hash8}.json.
func (e *Engine) writeContent(project string, kind model.DocKind, normalizedURL string, content *model.ScrapedContent) error {
	filename := model.ContentFilename(project, kind, normalizedURL)
	data, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(e.opts.OutputDir, "content", filename), data, 0o644)
}

// registerRoute computes a route_key and records a RouteModel entry,
// logging (not failing) on a collision: the later write wins.
func (e *Engine) registerRoute(project string, kind model.DocKind, pageURL *url.URL, title, normalizedURL string) {
	key := routeKey(project, kind, pageURL)
	entry := model.RouteModel{
		RouteKey:    key,
		ContentFile: model.ContentFilename(project, kind, normalizedURL),
		Title:       title,
		Project:     project,
		Kind:        kind,
	}

	e.routesMu.Lock()
	if _, collided := e.routes[key]; collided {
		e.logger.Printf("route_key collision, last writer wins: %s", key)
	}
	e.routes[key] = entry
	e.routesMu.Unlock()
}

// enqueueNavLinks walks an index page's navigation tree and enqueues every
// non-external, non-fragment href resolved against pageURL at NORMAL
// priority.
func (e *Engine) enqueueNavLinks(tree []model.NavigationItem, pageURL *url.URL, meta model.ItemMetadata) {
	var walk func(items []model.NavigationItem)
	walk = func(items []model.NavigationItem) {
		for _, item := range items {
			e.enqueueLink(item.Href, pageURL, meta)
			walk(item.Children)
		}
	}
	walk(tree)
}

// enqueueLink resolves href against pageURL and adds it to the queue if it
// is in scope and not categorically skippable.
func (e *Engine) enqueueLink(href string, pageURL *url.URL, meta model.ItemMetadata) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return
	}
	link, err := url.Parse(href)
	if err != nil {
		return
	}
	resolved := pageURL.ResolveReference(link)

	e.seedsMu.Lock()
	seed := e.seeds[meta.Project]
	e.seedsMu.Unlock()
	if seed == nil {
		seed = pageURL
	}
	if !urlnorm.InScope(resolved, seed) {
		return
	}
	if urlnorm.ShouldSkip(resolved.String()) {
		return
	}

	childMeta := meta
	childMeta.IsIndex = false
	e.queue.Add(resolved.String(), model.PriorityNormal, childMeta)
}
