package extract

import (
	"testing"

	"github.com/codepr/docscraper/model"
)

const referencePage = `
<html><head><title>Home</title></head>
<body>
  <nav class="doc-nav">
    <ul>
      <li><a href="/docs/intro">Intro</a>
        <ul><li><a href="/docs/intro/quickstart">Quickstart</a></li></ul>
      </li>
      <li><a href="/docs/guides">Guides</a></li>
    </ul>
  </nav>
  <article class="doc">
    <p>Hello, docs.</p>
  </article>
  <link rel="stylesheet" href="/static/s.css">
  <script src="/static/app.js"></script>
  <img src="/static/logo.png">
</body></html>
`

func TestExtractReferencePage(t *testing.T) {
	result, err := Extract(referencePage, "https://example.org/docs/", model.KindReference, "example")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if result == nil {
		t.Fatalf("Extract failed: expected a result, got nil")
	}
	if result.Content.Title != "Home" {
		t.Errorf("Extract failed: expected title 'Home' got %q", result.Content.Title)
	}
	if len(result.Content.NavTree) != 2 {
		t.Fatalf("Extract failed: expected 2 top-level nav items got %d", len(result.Content.NavTree))
	}
	if result.Content.NavTree[0].Text != "Intro" || len(result.Content.NavTree[0].Children) != 1 {
		t.Errorf("Extract failed: expected Intro with 1 child got %+v", result.Content.NavTree[0])
	}
	if len(result.Resources) != 3 {
		t.Errorf("Extract failed: expected 3 resource refs got %d", len(result.Resources))
	}
}

func TestExtractMissingContainerReturnsNil(t *testing.T) {
	result, err := Extract(`<html><body><p>no article here</p></body></html>`, "https://example.org/docs/", model.KindReference, "example")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if result != nil {
		t.Errorf("Extract failed: expected nil result for missing container, got %+v", result)
	}
}

func TestExtractAPIPageFallsBackToBody(t *testing.T) {
	result, err := Extract(`<html><head><title>API</title></head><body><p>symbols</p></body></html>`, "https://example.org/api/", model.KindAPI, "example")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if result == nil {
		t.Fatalf("Extract failed: expected a result from body fallback")
	}
	if result.Content.Title != "API" {
		t.Errorf("Extract failed: expected title 'API' got %q", result.Content.Title)
	}
}

func TestResolveAssetSkipsExternalAndDataURIs(t *testing.T) {
	if _, ok := resolveAsset("https://example.org/docs/", "data:image/png;base64,AAAA"); ok {
		t.Errorf("resolveAsset failed: expected data URI to be skipped")
	}
	if _, ok := resolveAsset("https://example.org/docs/", "https://cdn.other.com/x.css"); ok {
		t.Errorf("resolveAsset failed: expected external host to be skipped")
	}
	resolved, ok := resolveAsset("https://example.org/docs/", "../s.css")
	if !ok || resolved != "https://example.org/s.css" {
		t.Errorf("resolveAsset failed: expected https://example.org/s.css got %q (ok=%v)", resolved, ok)
	}
}
