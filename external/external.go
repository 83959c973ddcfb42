// Package external declares collaborator interfaces deliberately kept
// outside the crawl engine's scope: a topic planner and a framework
// registry. Neither is implemented here — they exist solely so
// crawler.Engine can accept them as injected dependencies without the
// engine importing whatever AI client or domain-lookup table a caller
// wires in.
package external

import (
	"context"
	"net/url"

	"github.com/codepr/docscraper/model"
	"github.com/codepr/docscraper/progress"
)

// Topic is one entry a TopicPlanner proposes for a crawl.
type Topic struct {
	ID        string
	Name      string
	URL       string
	Priority  model.Priority
	Subtopics []Topic
}

// TopicPlanner picks a seed URL and outlines a topic tree for a framework,
// optionally reporting its own progress through sink. Out of scope to
// implement: this is an AI-assisted planner, not part of the crawl core.
type TopicPlanner interface {
	Plan(ctx context.Context, seedURL *url.URL, frameworkID string, sink *progress.Bus, jobID string) ([]Topic, error)
}

// FrameworkRegistry maps a framework identifier to its canonical
// documentation URL. Out of scope to implement: a lookup table of
// hard-coded frameworks is explicitly excluded from the crawl core.
type FrameworkRegistry interface {
	Resolve(frameworkID string) (*url.URL, bool)
}
