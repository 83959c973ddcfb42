// Package extract pulls a page's main content container, navigation tree
// and static resource references out of fetched HTML, and builds the
// per-DocKind page skin (TemplateSlot) a renderer wraps extracted content
// in. Container and link discovery use goquery selections plus
// relative-URL resolution; the page-skin cloning walks and mutates a
// parsed golang.org/x/net/html tree node by node.
package extract

import (
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/codepr/docscraper/model"
)

// contentPlaceholderID is the marker id inserted into a TemplateSlot in
// place of the stripped content container (`<div id="content-placeholder"/>`).
const contentPlaceholderID = "content-placeholder"

// containerSelectors lists, in priority order, the CSS selector tried for
// each DocKind's main content container.
var containerSelectors = map[model.DocKind][]string{
	model.KindReference: {"article.doc"},
	model.KindAPI:        {"main", "body"},
}

// navSelectors lists the candidate selectors for the page's primary
// navigation menu, tried in order until one matches.
var navSelectors = []string{"nav.doc-nav", "nav.sidebar", "nav", "aside nav", "aside"}

// Result is everything one page processing step needs from extraction.
type Result struct {
	Content   *model.ScrapedContent
	Resources []model.ResourceRef
}

// Extract parses rawHTML for sourceURL and returns a ScrapedContent plus
// the resource references found in the DOM, or nil if no recognisable
// content container exists for kind.
func Extract(rawHTML string, sourceURL string, kind model.DocKind, project string) (*Result, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil, err
	}

	container := findContainer(doc, kind)
	if container == nil {
		return nil, nil
	}

	body, err := container.Html()
	if err != nil {
		return nil, err
	}

	content := &model.ScrapedContent{
		Title:     title(doc),
		BodyHTML:  body,
		Kind:      kind,
		Project:   project,
		ScrapedAt: time.Now(),
	}
	if kind == model.KindReference {
		content.NavTree = navTree(doc)
	}

	return &Result{
		Content:   content,
		Resources: resourceRefs(doc, sourceURL),
	}, nil
}

// ContainerSelectors exposes the ordered container selectors for kind, so
// a caller materializing a TemplateSlot can pass them to Skin without
// duplicating the table.
func ContainerSelectors(kind model.DocKind) []string {
	return containerSelectors[kind]
}

// findContainer tries each of kind's container selectors in order,
// returning the first match.
func findContainer(doc *goquery.Document, kind model.DocKind) *goquery.Selection {
	for _, sel := range containerSelectors[kind] {
		s := doc.Find(sel).First()
		if s.Length() > 0 {
			return s
		}
	}
	return nil
}

// title returns the document's <title> text, falling back to the first
// <h1> found anywhere in the page.
func title(doc *goquery.Document) string {
	if t := strings.TrimSpace(doc.Find("title").First().Text()); t != "" {
		return t
	}
	return strings.TrimSpace(doc.Find("h1").First().Text())
}

// navTree finds the first navigation menu container and builds a
// NavigationItem tree two levels deep: top-level items, and one nested
// level recursed into from a child list container.
func navTree(doc *goquery.Document) []model.NavigationItem {
	nav := findNav(doc)
	if nav == nil {
		return nil
	}
	return navItems(nav, 1)
}

func findNav(doc *goquery.Document) *goquery.Selection {
	for _, sel := range navSelectors {
		s := doc.Find(sel).First()
		if s.Length() > 0 {
			return s
		}
	}
	return nil
}

// navItems enumerates the top-level <li> (or direct <a>) entries of
// container, recursing one level into a nested list when depth allows it.
func navItems(container *goquery.Selection, depth int) []model.NavigationItem {
	var items []model.NavigationItem

	topLevel := container.ChildrenFiltered("ul,ol").First()
	if topLevel.Length() == 0 {
		topLevel = container
	}

	topLevel.ChildrenFiltered("li").Each(func(_ int, li *goquery.Selection) {
		anchor := li.ChildrenFiltered("a").First()
		if anchor.Length() == 0 {
			anchor = li.Find("a").First()
		}
		href, _ := anchor.Attr("href")
		item := model.NavigationItem{
			Text: strings.TrimSpace(anchor.Text()),
			Href: href,
		}
		if depth > 0 {
			if nested := li.ChildrenFiltered("ul,ol").First(); nested.Length() > 0 {
				item.Children = navItems(nested, depth-1)
			}
		}
		items = append(items, item)
	})
	return items
}

// resourceRefs enumerates stylesheet links, script srcs and image srcs
// referenced by the document, resolving relative URLs against sourceURL
// and skipping external hosts and data URIs.
func resourceRefs(doc *goquery.Document, sourceURL string) []model.ResourceRef {
	var refs []model.ResourceRef
	add := func(raw string, kind model.ResourceKind) {
		resolved, ok := resolveAsset(sourceURL, raw)
		if !ok {
			return
		}
		refs = append(refs, model.ResourceRef{URL: resolved, Kind: kind})
	}

	doc.Find("link[rel=stylesheet]").Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok {
			add(href, model.ResourceCSS)
		}
	})
	doc.Find("script[src]").Each(func(_ int, s *goquery.Selection) {
		if src, ok := s.Attr("src"); ok {
			add(src, model.ResourceJS)
		}
	})
	doc.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
		if src, ok := s.Attr("src"); ok {
			add(src, model.ResourceImg)
		}
	})
	return refs
}

// resolveAsset joins raw to sourceURL as a base domain, skipping data URIs
// and links to a different host.
func resolveAsset(sourceURL, raw string) (string, bool) {
	if strings.HasPrefix(raw, "data:") {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	base, err := url.Parse(sourceURL)
	if err != nil {
		return "", false
	}
	resolved := base.ResolveReference(u)
	if resolved.Hostname() != "" && resolved.Hostname() != base.Hostname() {
		return "", false
	}
	return resolved.String(), true
}
