package crawler

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/codepr/docscraper/checkpoint"
	"github.com/codepr/docscraper/fetcher"
	"github.com/codepr/docscraper/model"
	"github.com/codepr/docscraper/politeness"
	"github.com/codepr/docscraper/progress"
	"github.com/codepr/docscraper/queue"
	"github.com/codepr/docscraper/resource"
	"github.com/codepr/docscraper/worker"
)

// Engine drives one crawl job end to end: Prepare, Seed, Crawl, Finalize.
// It owns every component the job needs and is the dependency-injection
// root in place of module-level globals.
type Engine struct {
	jobID string
	opts  Options

	logger     *log.Logger
	fetcher    *fetcher.Fetcher
	queue      *queue.Queue
	pool       *worker.Pool
	downloader *resource.Downloader
	bus        *progress.Bus

	rulesMu sync.Mutex
	rules   map[string]*politeness.Rules

	routesMu sync.Mutex
	routes   map[string]model.RouteModel

	templatesMu sync.Mutex
	templates   map[model.DocKind]string

	projectsMu sync.Mutex
	projects   map[string]bool

	seedsMu sync.Mutex
	seeds   map[string]*url.URL // project -> seed URL, the in_scope anchor for its links

	forceExit int32
}

// New constructs an Engine for jobID. It does not touch the filesystem or
// the network until Run is called.
func New(jobID string, opts Options, bus *progress.Bus) *Engine {
	opts.setDefaults()
	return &Engine{
		jobID:     jobID,
		opts:      opts,
		logger:    log.New(os.Stderr, "crawler: ", log.LstdFlags),
		bus:       bus,
		rules:     make(map[string]*politeness.Rules),
		routes:    make(map[string]model.RouteModel),
		templates: make(map[model.DocKind]string),
		projects:  make(map[string]bool),
		seeds:     make(map[string]*url.URL),
	}
}

// Run executes the full Prepare/Seed/Crawl/Finalize lifecycle and returns
// once the crawl has reached a terminal state (success, forced shutdown,
// or fatal error). Mapping the returned error to a process exit code is
// the caller's concern; Run's error return is the signal for it.
func (e *Engine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := e.prepare(ctx); err != nil {
		e.emitError(fmt.Sprintf("prepare failed: %v", err), err)
		return err
	}

	stop := e.handleSignals(cancel)
	defer stop()

	completed := e.crawl(ctx)

	if atomic.LoadInt32(&e.forceExit) != 0 {
		return fmt.Errorf("crawler: forced shutdown")
	}
	if !completed {
		return fmt.Errorf("crawler: stopped before completion (checkpoint saved)")
	}
	return e.finalize()
}

// prepare creates the output directory tree and restores a checkpoint if
// one exists and Clean was not requested; otherwise it seeds the queue
// fresh.
func (e *Engine) prepare(ctx context.Context) error {
	e.emit(model.StageInit, "preparing output directory", 0, nil)

	for _, dir := range []string{"content", "templates"} {
		if err := os.MkdirAll(filepath.Join(e.opts.OutputDir, dir), 0o755); err != nil {
			return fmt.Errorf("prepare: %w", err)
		}
	}

	f := fetcher.New(fetcher.Options{
		UserAgent:  e.opts.UserAgent,
		MaxConns:   e.opts.MaxConnections,
		MaxPerHost: e.opts.MaxPerHost,
		Rate:       e.opts.RateLimitRPS,
		Burst:      int(e.opts.RateLimitRPS),
		MaxRetries: e.opts.MaxRetries,
		RetryDelay: time.Duration(e.opts.RetryDelaySeconds * float64(time.Second)),
	})
	e.fetcher = f

	downloader, err := resource.New(e.opts.OutputDir, f)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	e.downloader = downloader

	q := queue.New(queue.Options{
		Capacity:   e.opts.QueueCapacity,
		MaxRetries: e.opts.MaxRetries,
		OnFailure: func(url string, err error) {
			e.logger.Printf("failed permanently: %s: %v", url, err)
		},
	})
	e.queue = q

	if e.opts.CheckpointEnabled && !e.opts.Clean && checkpoint.Exists(e.opts.OutputDir) {
		return e.restore()
	}

	e.seed()
	return nil
}

// restore loads a checkpoint blob and re-enqueues its pending items.
func (e *Engine) restore() error {
	blob, snap, err := checkpoint.Load(e.opts.OutputDir)
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}

	e.routesMu.Lock()
	for k, v := range blob.Routes {
		e.routes[k] = v
	}
	e.routesMu.Unlock()

	e.templatesMu.Lock()
	for k, v := range blob.Templates {
		e.templates[k] = v
	}
	e.templatesMu.Unlock()

	e.projectsMu.Lock()
	for _, p := range blob.Projects {
		e.projects[p] = true
	}
	e.projectsMu.Unlock()

	e.seedsMu.Lock()
	for project, raw := range blob.Seeds {
		if seedURL, err := url.Parse(raw); err == nil {
			e.seeds[project] = seedURL
		}
	}
	e.seedsMu.Unlock()

	e.queue.Restore(snap)
	e.logger.Printf("resumed from checkpoint: %d routes, %d pending", len(blob.Routes), len(snap.Pending))
	return nil
}

// seed registers each configured Seed at HIGH priority, tagged as an index
// page.
func (e *Engine) seed() {
	for _, s := range e.opts.Seeds {
		e.projectsMu.Lock()
		e.projects[s.Project] = true
		e.projectsMu.Unlock()

		if seedURL, err := url.Parse(s.URL); err == nil {
			e.seedsMu.Lock()
			e.seeds[s.Project] = seedURL
			e.seedsMu.Unlock()
		}

		e.queue.Add(s.URL, model.PriorityHigh, model.ItemMetadata{
			Project: s.Project,
			Version: s.Version,
			Kind:    s.Kind,
			IsIndex: true,
		})
	}
}

// crawl starts the worker pool, periodically reports queue stats to the
// progress bus, and blocks until every item reaches a terminal state or
// the context is cancelled.
func (e *Engine) crawl(ctx context.Context) (completed bool) {
	e.emit(model.StageURLAnalysis, "starting crawl", 5, nil)

	pool := worker.New(e.opts.MaxWorkers, e.queue, e.processItem)
	e.pool = pool
	pool.Start()

	done := make(chan struct{})
	go func() {
		e.queue.WaitComplete()
		close(done)
	}()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			pool.Stop()
			e.emit(model.StageProcessing, "crawl finished", 95, nil)
			return true
		case <-ctx.Done():
			e.checkpointNow()
			e.queue.Stop()
			pool.Stop()
			return false
		case <-ticker.C:
			e.reportProgress()
		}
	}
}

// reportProgress pushes a queue-stats sample to the progress bus as a
// scraping-stage heartbeat.
func (e *Engine) reportProgress() {
	stats := e.queue.Stats()
	total := stats.Queued + stats.Processing + stats.Done + stats.Failed
	pct := 10.0
	if total > 0 {
		pct = 10 + 80*float64(stats.Done+stats.Failed)/float64(total)
	}
	e.emit(model.StageScraping, "crawling", pct, map[string]any{
		"queued":     stats.Queued,
		"processing": stats.Processing,
		"done":       stats.Done,
		"failed":     stats.Failed,
		"dropped":    stats.Dropped,
	})
}

// checkpointNow snapshots queue and engine state to disk. A write failure
// is logged, never fatal.
func (e *Engine) checkpointNow() {
	if !e.opts.CheckpointEnabled {
		return
	}
	blob := e.snapshotBlob()
	snap := e.queue.Snapshot()
	if err := checkpoint.Save(e.opts.OutputDir, blob, snap); err != nil {
		e.logger.Printf("checkpoint save failed: %v", err)
	}
}

func (e *Engine) snapshotBlob() checkpoint.Blob {
	e.projectsMu.Lock()
	projects := make([]string, 0, len(e.projects))
	for p := range e.projects {
		projects = append(projects, p)
	}
	e.projectsMu.Unlock()

	e.routesMu.Lock()
	routes := make(map[string]model.RouteModel, len(e.routes))
	for k, v := range e.routes {
		routes[k] = v
	}
	e.routesMu.Unlock()

	e.templatesMu.Lock()
	templates := make(map[model.DocKind]string, len(e.templates))
	for k, v := range e.templates {
		templates[k] = v
	}
	e.templatesMu.Unlock()

	e.seedsMu.Lock()
	seeds := make(map[string]string, len(e.seeds))
	for k, v := range e.seeds {
		seeds[k] = v.String()
	}
	e.seedsMu.Unlock()

	return checkpoint.Blob{
		Projects:    projects,
		Seeds:       seeds,
		Routes:      routes,
		StaticCache: e.downloader.CacheSnapshot(),
		Templates:   templates,
	}
}

// finalize writes the crawl's output artifacts and deletes the checkpoint
// on clean completion.
func (e *Engine) finalize() error {
	e.emit(model.StageProcessing, "writing output", 97, nil)

	if err := e.writeRoutes(); err != nil {
		return fmt.Errorf("finalize: %w", err)
	}
	if err := e.writeMetadata(); err != nil {
		return fmt.Errorf("finalize: %w", err)
	}
	if err := e.writeSummary(); err != nil {
		return fmt.Errorf("finalize: %w", err)
	}
	if err := e.writeIndex(); err != nil {
		return fmt.Errorf("finalize: %w", err)
	}

	if e.opts.CheckpointEnabled {
		if err := checkpoint.Delete(e.opts.OutputDir); err != nil {
			e.logger.Printf("checkpoint delete failed: %v", err)
		}
	}
	e.downloader.Close()
	e.fetcher.Close()

	e.emit(model.StageComplete, "crawl complete", 100, nil)
	return nil
}

func (e *Engine) writeRoutes() error {
	e.routesMu.Lock()
	defer e.routesMu.Unlock()
	data, err := json.MarshalIndent(e.routes, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(e.opts.OutputDir, "routes.json"), data, 0o644)
}

func (e *Engine) writeMetadata() error {
	stats := e.queue.Stats()
	e.projectsMu.Lock()
	projectNames := make([]string, 0, len(e.projects))
	for p := range e.projects {
		projectNames = append(projectNames, p)
	}
	e.projectsMu.Unlock()

	e.routesMu.Lock()
	totalRoutes := len(e.routes)
	e.routesMu.Unlock()

	meta := map[string]any{
		"total_projects":          len(projectNames),
		"projects":                projectNames,
		"total_routes":            totalRoutes,
		"total_static_resources":  len(e.downloader.CacheSnapshot()),
		"pages_done":              stats.Done,
		"pages_failed":            stats.Failed,
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(e.opts.OutputDir, "metadata.json"), data, 0o644)
}

func (e *Engine) writeSummary() error {
	stats := e.queue.Stats()
	var b strings.Builder
	fmt.Fprintf(&b, "Crawl summary for job %s\n", e.jobID)
	fmt.Fprintf(&b, "  routes:      %d\n", len(e.routes))
	fmt.Fprintf(&b, "  done:        %d\n", stats.Done)
	fmt.Fprintf(&b, "  failed:      %d\n", stats.Failed)
	fmt.Fprintf(&b, "  dropped:     %d\n", stats.Dropped)
	return os.WriteFile(filepath.Join(e.opts.OutputDir, "summary.txt"), []byte(b.String()), 0o644)
}

func (e *Engine) writeIndex() error {
	shell := "<html><head><title>Documentation</title></head><body><div id=\"app\"></div></body></html>"
	return os.WriteFile(filepath.Join(e.opts.OutputDir, "index.html"), []byte(shell), 0o644)
}

// emit publishes a ProgressEvent for this job, wall-clock stamped.
func (e *Engine) emit(stage model.Stage, message string, pct float64, details map[string]any) {
	if e.bus == nil {
		return
	}
	e.bus.Emit(model.ProgressEvent{
		JobID:       e.jobID,
		Stage:       stage,
		Message:     message,
		ProgressPct: pct,
		Details:     details,
		TsMs:        time.Now().UnixMilli(),
	})
}

func (e *Engine) emitError(message string, err error) {
	if e.bus == nil {
		return
	}
	e.bus.Emit(model.ProgressEvent{
		JobID:   e.jobID,
		Stage:   model.StageError,
		Message: message,
		Error:   err.Error(),
		TsMs:    time.Now().UnixMilli(),
	})
}

// handleSignals wires graceful/force shutdown: the first INT/TERM cancels
// ctx (triggering a checkpoint-and-stop in crawl), a second forces
// immediate exit.
func (e *Engine) handleSignals(cancel context.CancelFunc) func() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		select {
		case <-sigCh:
			e.logger.Println("shutdown signal received, checkpointing and stopping")
			cancel()
		case <-done:
			return
		}
		select {
		case <-sigCh:
			e.logger.Println("second shutdown signal received, forcing exit")
			atomic.StoreInt32(&e.forceExit, 1)
			os.Exit(1)
		case <-done:
		}
	}()

	return func() {
		close(done)
		signal.Stop(sigCh)
	}
}

// rulesFor returns the politeness.Rules for origin's host, fetching
// robots.txt on first use.
func (e *Engine) rulesFor(ctx context.Context, origin *url.URL) *politeness.Rules {
	e.rulesMu.Lock()
	r, ok := e.rules[origin.Host]
	if !ok {
		r = politeness.New(e.opts.PolitenessDelay)
		e.rules[origin.Host] = r
	}
	e.rulesMu.Unlock()

	if !ok {
		found := r.FetchRobotsTxt(ctx, e.fetcher, e.opts.UserAgent, origin)
		if found {
			e.logger.Printf("loaded robots.txt for %s", origin.Host)
		}
	}
	return r
}

// routeTail returns the last two non-empty path segments of u, or "" for
// the bare root — the `tail` composed into a RouteModel's route_key.
func routeTail(u *url.URL) string {
	var segs []string
	for _, s := range strings.Split(u.Path, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	if len(segs) == 0 {
		return ""
	}
	if len(segs) == 1 {
		return segs[0]
	}
	return strings.Join(segs[len(segs)-2:], "/")
}

// routeKey builds `/{project}/{kind}/{tail}`, collapsing a trailing empty
// tail for index pages.
func routeKey(project string, kind model.DocKind, u *url.URL) string {
	tail := routeTail(u)
	if tail == "" {
		return fmt.Sprintf("/%s/%s", project, kind)
	}
	return fmt.Sprintf("/%s/%s/%s", project, kind, tail)
}
