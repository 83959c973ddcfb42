// Package queue implements a deduplicating priority work queue: a bounded,
// priority-ordered queue with a visited set, a pattern set that bounds
// fan-out on templated route families, and checkpoint/resume support. It
// is a full state machine tracking each URL through
// queued -> processing -> {done, failed}.
package queue

import (
	"container/heap"
	"log"
	"os"
	"sync"
	"time"

	"github.com/codepr/docscraper/model"
	"github.com/codepr/docscraper/urlnorm"
)

// state is the lifecycle stage of a single URL: it belongs to at most one
// of {queued, processing, done, failed} at a time.
type state int

const (
	stateQueued state = iota
	stateProcessing
	stateDone
	stateFailed
)

// OnSuccess is invoked once a URL's processing completes successfully.
type OnSuccess func(url string, result any)

// OnFailure is invoked once a URL exhausts its retry budget.
type OnFailure func(url string, err error)

// OnComplete is invoked once every item ever added has reached a terminal
// state, i.e. WaitComplete would return immediately.
type OnComplete func(stats Stats)

// Options configures a Queue.
type Options struct {
	Capacity   int
	MaxRetries int
	OnSuccess  OnSuccess
	OnFailure  OnFailure
	OnComplete OnComplete
}

// Stats is a point-in-time snapshot of queue activity, safe to read
// concurrently with further queue operations (it is a copy).
type Stats struct {
	Queued     int
	Processing int
	Done       int
	Failed     int
	Dropped    int64
}

// Queue is the bounded, priority-ordered, deduplicating work queue.
type Queue struct {
	mu         sync.Mutex
	items      itemHeap
	visited    map[string]state
	patterns   map[string]bool
	failed     map[string]error
	capacity   int
	maxRetries int
	dropped    int64

	wg sync.WaitGroup

	notifyCh chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	stopped  bool

	onSuccess  OnSuccess
	onFailure  OnFailure
	onComplete OnComplete

	logger *log.Logger
}

// New creates an empty Queue.
func New(opts Options) *Queue {
	if opts.Capacity <= 0 {
		opts.Capacity = 50000
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	return &Queue{
		items:      itemHeap{},
		visited:    make(map[string]state),
		patterns:   make(map[string]bool),
		failed:     make(map[string]error),
		capacity:   opts.Capacity,
		maxRetries: opts.MaxRetries,
		notifyCh:   make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
		onSuccess:  opts.OnSuccess,
		onFailure:  opts.OnFailure,
		onComplete: opts.OnComplete,
		logger:     log.New(os.Stderr, "queue: ", log.LstdFlags),
	}
}

// Add normalizes url, rejects it if already visited in any state, and
// otherwise enqueues it. A URL whose pattern is already present and that
// looks dynamic (urlnorm.IsLikelyDynamic) is silently dropped to bound
// fan-out on templated route families. A full queue drops the URL and
// removes it from the visited set so a later attempt can succeed.
func (q *Queue) Add(rawURL string, priority model.Priority, metadata model.ItemMetadata) error {
	normalized, err := urlnorm.Normalize(rawURL)
	if err != nil {
		return err
	}

	q.mu.Lock()
	if _, seen := q.visited[normalized]; seen {
		q.mu.Unlock()
		return nil
	}

	pattern := urlnorm.Pattern(normalized)
	if q.patterns[pattern] && urlnorm.IsLikelyDynamic(normalized) {
		q.mu.Unlock()
		return nil
	}

	if len(q.items) >= q.capacity {
		q.dropped++
		q.mu.Unlock()
		q.logger.Printf("queue full (capacity=%d), dropping %s", q.capacity, normalized)
		return nil
	}

	item := &model.QueueItem{
		URL:       normalized,
		Priority:  priority,
		Metadata:  metadata,
		CreatedAt: time.Now(),
	}
	q.visited[normalized] = stateQueued
	q.patterns[pattern] = true
	heap.Push(&q.items, item)
	q.mu.Unlock()

	q.wg.Add(1)
	q.notify()
	return nil
}

// restoreItem re-inserts a checkpointed item directly into the heap and
// visited set, bypassing Add's dedup/pattern/capacity checks — those
// decisions were already made in the run that produced the checkpoint.
func (q *Queue) restoreItem(item *model.QueueItem) {
	q.mu.Lock()
	q.visited[item.URL] = stateQueued
	q.patterns[urlnorm.Pattern(item.URL)] = true
	heap.Push(&q.items, item)
	q.mu.Unlock()
	q.wg.Add(1)
	q.notify()
}

func (q *Queue) notify() {
	select {
	case q.notifyCh <- struct{}{}:
	default:
	}
}

// Pop blocks up to timeout for an item, returning ok=false on timeout or
// shutdown. The short timeout lets a worker loop re-check its shutdown
// condition periodically.
func (q *Queue) Pop(timeout time.Duration) (*model.QueueItem, bool) {
	deadline := time.Now().Add(timeout)
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := heap.Pop(&q.items).(*model.QueueItem)
			q.visited[item.URL] = stateProcessing
			q.mu.Unlock()
			return item, true
		}
		stopped := q.stopped
		q.mu.Unlock()
		if stopped {
			return nil, false
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, false
		}
		select {
		case <-q.notifyCh:
			continue
		case <-time.After(remaining):
			return nil, false
		case <-q.stopCh:
			return nil, false
		}
	}
}

// Success moves url from processing to done and fires OnSuccess.
func (q *Queue) Success(url string, result any) {
	q.mu.Lock()
	q.visited[url] = stateDone
	q.mu.Unlock()
	if q.onSuccess != nil {
		q.onSuccess(url, result)
	}
	q.wg.Done()
}

// Failure handles a processing failure: if the item's retry budget is not
// exhausted, it is re-enqueued at LOW priority with its CreatedAt preserved
// (so retries never jump ahead of waiting same-priority work) and its
// RetryCount incremented; otherwise it moves to the terminal FailedMap and
// OnFailure fires.
func (q *Queue) Failure(item *model.QueueItem, cause error) {
	if item.RetryCount < q.maxRetries {
		item.RetryCount++
		item.Priority = model.PriorityLow
		q.mu.Lock()
		q.visited[item.URL] = stateQueued
		heap.Push(&q.items, item)
		q.mu.Unlock()
		q.notify()
		return
	}

	q.mu.Lock()
	q.visited[item.URL] = stateFailed
	q.failed[item.URL] = cause
	q.mu.Unlock()
	if q.onFailure != nil {
		q.onFailure(item.URL, cause)
	}
	q.wg.Done()
}

// WaitComplete blocks until every item ever added has reached a terminal
// state (done or failed), then invokes OnComplete if set.
func (q *Queue) WaitComplete() {
	q.wg.Wait()
	if q.onComplete != nil {
		q.onComplete(q.Stats())
	}
}

// Stop asks Pop to stop blocking for new work. Idempotent: repeated calls
// are no-ops after the first.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		q.mu.Lock()
		q.stopped = true
		q.mu.Unlock()
		close(q.stopCh)
	})
}

// Stats returns a snapshot of queue activity.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	var queued, processing, done, failed int
	for _, s := range q.visited {
		switch s {
		case stateQueued:
			queued++
		case stateProcessing:
			processing++
		case stateDone:
			done++
		case stateFailed:
			failed++
		}
	}
	return Stats{Queued: queued, Processing: processing, Done: done, Failed: failed, Dropped: q.dropped}
}

// FailedErr returns the recorded error for a failed URL, if any.
func (q *Queue) FailedErr(url string) (error, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	err, ok := q.failed[url]
	return err, ok
}

// itemHeap orders QueueItems by (priority, created_at): lower priority
// value wins, ties broken by earlier creation (FIFO within priority).
type itemHeap []*model.QueueItem

func (h itemHeap) Len() int { return len(h) }
func (h itemHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].CreatedAt.Before(h[j].CreatedAt)
}
func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *itemHeap) Push(x any)   { *h = append(*h, x.(*model.QueueItem)) }
func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
