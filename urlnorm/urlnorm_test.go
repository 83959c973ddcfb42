package urlnorm

import (
	"net/url"
	"testing"
)

func TestNormalizeDropsFragmentAndTrailingSlash(t *testing.T) {
	got, err := Normalize("https://example.org/docs/guide/#section")
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if got != "https://example.org/docs/guide" {
		t.Errorf("Normalize failed: expected https://example.org/docs/guide got %s", got)
	}
}

func TestNormalizeKeepsRoot(t *testing.T) {
	got, err := Normalize("https://example.org/")
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if got != "https://example.org/" {
		t.Errorf("Normalize failed: expected https://example.org/ got %s", got)
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	once, _ := Normalize("https://example.org/docs/guide/?x=1#frag")
	twice, _ := Normalize(once)
	if once != twice {
		t.Errorf("Normalize failed: not idempotent, %s != %s", once, twice)
	}
}

func TestPatternCollapsesDecimalID(t *testing.T) {
	a := Pattern("https://example.org/posts/1")
	b := Pattern("https://example.org/posts/500")
	if a != b {
		t.Errorf("Pattern failed: expected equal patterns, got %s and %s", a, b)
	}
	if a != "https://example.org/posts/{id}" {
		t.Errorf("Pattern failed: expected /posts/{id}, got %s", a)
	}
}

func TestPatternCollapsesPageTail(t *testing.T) {
	got := Pattern("https://example.org/blog/page/7")
	if got != "https://example.org/blog/page/{n}" {
		t.Errorf("Pattern failed: expected /blog/page/{n}, got %s", got)
	}
}

func TestPatternCollapsesHash(t *testing.T) {
	got := Pattern("https://example.org/commits/deadbeefcafebabe")
	if got != "https://example.org/commits/{hash}" {
		t.Errorf("Pattern failed: expected /commits/{hash}, got %s", got)
	}
}

func TestPatternCollapsesVersion(t *testing.T) {
	got := Pattern("https://example.org/v1.2.3/guide")
	if got != "https://example.org/v{version}/guide" {
		t.Errorf("Pattern failed: expected /v{version}/guide, got %s", got)
	}
}

func TestIsLikelyDynamic(t *testing.T) {
	cases := map[string]bool{
		"https://example.org/posts/42":         true,
		"https://example.org/blog/page/3":       true,
		"https://example.org/docs/guide":        false,
		"https://example.org/2024/01/15/post":   true,
	}
	for u, want := range cases {
		if got := IsLikelyDynamic(u); got != want {
			t.Errorf("IsLikelyDynamic(%s) failed: expected %v got %v", u, want, got)
		}
	}
}

func TestInScope(t *testing.T) {
	seed, _ := url.Parse("https://example.org/docs/")
	inScope, _ := url.Parse("https://example.org/docs/guide")
	outScope, _ := url.Parse("https://example.org/blog/post")
	otherHost, _ := url.Parse("https://other.org/docs/guide")

	if !InScope(inScope, seed) {
		t.Errorf("InScope failed: expected %s to be in scope", inScope)
	}
	if InScope(outScope, seed) {
		t.Errorf("InScope failed: expected %s to be out of scope", outScope)
	}
	if InScope(otherHost, seed) {
		t.Errorf("InScope failed: expected %s to be out of scope (different host)", otherHost)
	}
}

func TestShouldSkip(t *testing.T) {
	cases := map[string]bool{
		"https://example.org/docs/guide":        false,
		"https://example.org/static/logo.png":   true,
		"https://example.org/api/v1/users":      true,
		"https://example.org/assets/main.css":   true,
		"https://example.org/search?q=foo":      true,
		"https://example.org/login":             true,
	}
	for u, want := range cases {
		if got := ShouldSkip(u); got != want {
			t.Errorf("ShouldSkip(%s) failed: expected %v got %v", u, want, got)
		}
	}
}
