// Package model contains the data records shared across the crawler's
// components: queue items, scraped content, route entries, resource
// references and progress events.
package model

import (
	"crypto/md5"
	"encoding/hex"
	"time"
)

// DocKind distinguishes long-form prose documentation from generated API
// symbol indexes. It drives extractor selection and route key shape.
type DocKind string

const (
	KindReference DocKind = "reference"
	KindAPI        DocKind = "api"
)

// Priority orders QueueItems. Lower values win.
type Priority int

const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// ParsePriority maps a priority name, as returned by String, back to a
// Priority. Unknown names default to PriorityNormal. Checkpoints store the
// numeric Priority of each item, not its name, so restore does not use it.
func ParsePriority(name string) Priority {
	switch name {
	case "critical":
		return PriorityCritical
	case "high":
		return PriorityHigh
	case "low":
		return PriorityLow
	default:
		return PriorityNormal
	}
}

// ItemMetadata travels with a QueueItem from discovery to processing. It is
// intentionally a flat, JSON-friendly struct rather than a map[string]any so
// that checkpoints round-trip without losing type information.
type ItemMetadata struct {
	Project string `json:"project"`
	Version string `json:"version,omitempty"`
	Kind    DocKind `json:"kind"`
	IsIndex bool    `json:"is_index"`
}

// QueueItem is the unit of work flowing through the work queue. Only
// Priority and RetryCount may be mutated after creation, and only by the
// worker returning the item to the queue.
type QueueItem struct {
	URL        string       `json:"url"`
	Priority   Priority     `json:"priority"`
	Metadata   ItemMetadata `json:"metadata"`
	RetryCount int          `json:"retry_count"`
	CreatedAt  time.Time    `json:"created_at"`
}

// ResourceKind classifies a static resource referenced by a page.
type ResourceKind string

const (
	ResourceCSS   ResourceKind = "css"
	ResourceJS    ResourceKind = "js"
	ResourceImg   ResourceKind = "img"
	ResourceFont  ResourceKind = "font"
	ResourceOther ResourceKind = "other"
)

// ResourceRef is a static asset discovered during extraction. LocalPath is
// empty until the Resource Downloader successfully persists it; the
// renderer skips entries with an empty LocalPath.
type ResourceRef struct {
	URL       string       `json:"url"`
	Kind      ResourceKind `json:"kind"`
	LocalPath string       `json:"local_path,omitempty"`
	SizeBytes int64        `json:"size_bytes,omitempty"`
}

// NavigationItem is one node of the recursive navigation tree extracted from
// a reference page. Hrefs are left raw, relative to the source page;
// resolving them to route keys is a renderer concern.
type NavigationItem struct {
	Text     string           `json:"text"`
	Href     string           `json:"href"`
	Children []NavigationItem `json:"children,omitempty"`
}

// ScrapedContent is the retained record for one page.
type ScrapedContent struct {
	Title     string           `json:"title"`
	BodyHTML  string           `json:"body_html"`
	NavTree   []NavigationItem `json:"nav_tree,omitempty"`
	Kind      DocKind          `json:"kind"`
	Project   string           `json:"project"`
	ScrapedAt time.Time        `json:"scraped_at"`
}

// RouteModel is the published entry for one retained page. RouteKey is
// globally unique within a crawl; a collision is resolved last-writer-wins
// by the caller, which must log it.
type RouteModel struct {
	RouteKey    string  `json:"route_key"`
	ContentFile string  `json:"content_file"`
	Title       string  `json:"title"`
	Project     string  `json:"project"`
	Kind        DocKind `json:"kind"`
}

// Hash8 truncates an MD5 digest of s to its first 8 hex characters. This is
// the single digest used everywhere a content filename or disambiguator is
// required.
func Hash8(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])[:8]
}

// ContentFilename builds the `{project}-{kind}-{hash8}.json` name specified
// for persisted ScrapedContent records.
func ContentFilename(project string, kind DocKind, normalizedURL string) string {
	return project + "-" + string(kind) + "-" + Hash8(normalizedURL) + ".json"
}
