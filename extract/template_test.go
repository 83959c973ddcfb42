package extract

import (
	"strings"
	"testing"
)

func TestSkinEmptiesContentContainer(t *testing.T) {
	out, err := Skin(referencePage, []string{"article.doc"})
	if err != nil {
		t.Fatalf("Skin failed: %v", err)
	}
	if !strings.Contains(out, `id="content-placeholder"`) {
		t.Errorf("Skin failed: expected a content-placeholder marker in output, got: %s", out)
	}
	if strings.Contains(out, "Hello, docs.") {
		t.Errorf("Skin failed: expected original article content to be stripped, got: %s", out)
	}
	if !strings.Contains(out, `class="doc-nav"`) {
		t.Errorf("Skin failed: expected navigation to survive outside the content container")
	}
}

func TestSkinStripsMainForAPISelectors(t *testing.T) {
	out, err := Skin(`<html><head><title>API</title></head><body><main><p>symbols</p></main></body></html>`, []string{"main", "body"})
	if err != nil {
		t.Fatalf("Skin failed: %v", err)
	}
	if strings.Contains(out, "symbols") {
		t.Errorf("Skin failed: expected main content stripped, got: %s", out)
	}
	if !strings.Contains(out, `id="content-placeholder"`) {
		t.Errorf("Skin failed: expected a content-placeholder marker in output")
	}
}
