// Package crawler implements the crawl engine and page processor: it owns
// the fetcher, queue, worker pool, extractor, resource downloader,
// checkpointer and progress bus for one crawl job, and drives them through
// Prepare/Seed/Crawl/Finalize over a multi-component queue/worker/extract/
// resource stack.
package crawler

import (
	"time"

	"github.com/codepr/docscraper/env"
	"github.com/codepr/docscraper/model"
)

const (
	defaultMaxConnections     = 20
	defaultMaxPerHost         = 10
	defaultRateLimitRPS       = 10.0
	defaultMaxWorkers         = 10
	defaultMaxRetries         = 3
	defaultRetryDelaySeconds  = 1.0
	defaultQueueCapacity      = 50000
	defaultPolitenessDelay    = 500 * time.Millisecond
	defaultUserAgent          = "Mozilla/5.0 (compatible; docscraper/1.0; +https://github.com/codepr/docscraper)"
)

// Seed describes one starting point for a crawl: a URL to fetch first, at
// HIGH priority, tagged as an index page for the given project/DocKind.
type Seed struct {
	URL     string
	Project string
	Version string
	Kind    model.DocKind
}

// Options configures one crawl job as a single record of explicit fields.
type Options struct {
	Seeds     []Seed
	OutputDir string

	UserAgent         string
	MaxConnections    int
	MaxPerHost        int
	RateLimitRPS      float64
	MaxWorkers        int
	MaxRetries        int
	RetryDelaySeconds float64
	QueueCapacity     int
	PolitenessDelay   time.Duration
	CheckpointEnabled bool
	Clean             bool
}

func (o *Options) setDefaults() {
	if o.UserAgent == "" {
		o.UserAgent = defaultUserAgent
	}
	if o.MaxConnections <= 0 {
		o.MaxConnections = defaultMaxConnections
	}
	if o.MaxPerHost <= 0 {
		o.MaxPerHost = defaultMaxPerHost
	}
	if o.RateLimitRPS <= 0 {
		o.RateLimitRPS = defaultRateLimitRPS
	}
	if o.MaxWorkers <= 0 {
		o.MaxWorkers = defaultMaxWorkers
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = defaultMaxRetries
	}
	if o.RetryDelaySeconds <= 0 {
		o.RetryDelaySeconds = defaultRetryDelaySeconds
	}
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = defaultQueueCapacity
	}
	if o.PolitenessDelay <= 0 {
		o.PolitenessDelay = defaultPolitenessDelay
	}
}

// OptionsFromEnv builds Options from environment variables. Seeds and
// OutputDir still must be set by the caller — they describe a specific
// job, not ambient configuration.
func OptionsFromEnv() Options {
	return Options{
		UserAgent:         env.GetEnv("USER_AGENT", defaultUserAgent),
		MaxConnections:    env.GetEnvAsInt("MAX_CONNECTIONS", defaultMaxConnections),
		MaxPerHost:        env.GetEnvAsInt("MAX_PER_HOST", defaultMaxPerHost),
		RateLimitRPS:      env.GetEnvAsFloat("RATE_LIMIT_RPS", defaultRateLimitRPS),
		MaxWorkers:        env.GetEnvAsInt("MAX_WORKERS", defaultMaxWorkers),
		MaxRetries:        env.GetEnvAsInt("MAX_RETRIES", defaultMaxRetries),
		RetryDelaySeconds: env.GetEnvAsFloat("RETRY_DELAY_SECONDS", defaultRetryDelaySeconds),
		QueueCapacity:     env.GetEnvAsInt("QUEUE_CAPACITY", defaultQueueCapacity),
		PolitenessDelay:   time.Duration(env.GetEnvAsInt("POLITENESS_DELAY_MS", int(defaultPolitenessDelay.Milliseconds()))) * time.Millisecond,
		CheckpointEnabled: env.GetEnvAsBool("CHECKPOINT_ENABLED", true),
		Clean:             env.GetEnvAsBool("CLEAN", false),
	}
}
