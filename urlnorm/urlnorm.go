// Package urlnorm canonicalizes URLs for dedup and derives a similarity
// pattern by collapsing well-known dynamic segments, as a reusable,
// stateless set of functions independent of any one crawl's state.
package urlnorm

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	decimalSeg  = regexp.MustCompile(`^[0-9]+$`)
	hexSeg      = regexp.MustCompile(`^[0-9a-fA-F]{8,}$`)
	semverSeg   = regexp.MustCompile(`^v[0-9]+\.[0-9]+(\.[0-9]+)?$`)
	localeSeg   = regexp.MustCompile(`^[a-z]{2}-[A-Z]{2}$`)
	dateSegPath = regexp.MustCompile(`/(19|20)[0-9]{2}/[0-1][0-9]/[0-3][0-9](/|$)`)

	staticExt = regexp.MustCompile(`(?i)\.(css|js|png|jpe?g|gif|svg|ico|woff2?|ttf|eot|pdf|zip|mp4|webm|json|xml)$`)
)

// Normalize produces the canonical string form of u used for dedup: the
// fragment is removed, the query is preserved verbatim, and the trailing
// slash is trimmed unless the path is the bare root.
func Normalize(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	u.Fragment = ""
	u.RawFragment = ""
	if u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}
	return u.String(), nil
}

// Pattern derives a similarity key from a normalized URL by substituting
// well-known dynamic segments with placeholders. It is never dereferenced,
// only compared against other patterns.
func Pattern(normalized string) string {
	u, err := url.Parse(normalized)
	if err != nil {
		return normalized
	}
	path := u.EscapedPath()

	if dateSegPath.MatchString(path) {
		path = dateSegPath.ReplaceAllString(path, "/{date}$2")
	}

	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if seg == "" {
			continue
		}
		switch {
		case decimalSeg.MatchString(seg):
			if i > 0 && segments[i-1] == "page" {
				segments[i] = "{n}"
			} else {
				segments[i] = "{id}"
			}
		case hexSeg.MatchString(seg) && !decimalSeg.MatchString(seg):
			segments[i] = "{hash}"
		case semverSeg.MatchString(seg):
			segments[i] = "v{version}"
		case localeSeg.MatchString(seg):
			segments[i] = "{locale}"
		}
	}

	// The placeholders are appended after String() so their braces are not
	// percent-escaped.
	out := *u
	out.Path, out.RawPath = "", ""
	out.RawQuery, out.Fragment, out.RawFragment = "", "", ""
	return out.String() + strings.Join(segments, "/")
}

// IsLikelyDynamic reports whether the path looks like it belongs to a
// templated route family: it ends in a number, is a page-N tail, contains a
// 24-hex segment (e.g. a Mongo ObjectID), or contains a YYYY/MM/DD tuple.
func IsLikelyDynamic(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	path := strings.TrimSuffix(u.Path, "/")
	segments := strings.Split(path, "/")
	if len(segments) == 0 {
		return false
	}
	last := segments[len(segments)-1]
	if decimalSeg.MatchString(last) {
		return true
	}
	if len(segments) >= 2 && segments[len(segments)-2] == "page" && decimalSeg.MatchString(last) {
		return true
	}
	for _, seg := range segments {
		if len(seg) == 24 && hexSeg.MatchString(seg) {
			return true
		}
	}
	if dateSegPath.MatchString(u.Path) {
		return true
	}
	return false
}

// InScope reports whether link shares the seed's host and its path begins
// with the seed's path (after trimming a trailing slash). A fragment-only
// link (same page, no path/host/query of its own) is never in scope.
func InScope(link, seed *url.URL) bool {
	if link.Hostname() != seed.Hostname() {
		return false
	}
	if link.Path == "" && link.RawQuery == "" && link.Host == "" {
		return false
	}
	seedPath := strings.TrimSuffix(seed.Path, "/")
	return strings.HasPrefix(link.Path, seedPath)
}

var (
	skipAuthPath   = regexp.MustCompile(`(?i)/(login|logout|signin|signup|auth)(/|$)`)
	skipErrorPath  = regexp.MustCompile(`(?i)/(404|500|error)(/|$)`)
	skipSearchPath = regexp.MustCompile(`(?i)/search(/|\?|$)`)
	skipAssetDir   = regexp.MustCompile(`(?i)/(assets|images|downloads)/`)
	skipAPIDir     = regexp.MustCompile(`(?i)/api/`)
)

// ShouldSkip reports whether a URL is categorically uninteresting to a
// documentation crawl: static assets by extension, API endpoints, asset
// directories, search results, auth paths, and explicit error pages.
func ShouldSkip(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return true
	}
	path := u.Path
	if staticExt.MatchString(path) {
		return true
	}
	if skipAPIDir.MatchString(path) || skipAssetDir.MatchString(path) {
		return true
	}
	if skipSearchPath.MatchString(path) || skipSearchPath.MatchString(u.RawQuery) {
		return true
	}
	if skipAuthPath.MatchString(path) || skipErrorPath.MatchString(path) {
		return true
	}
	return false
}
