package queue

import "github.com/codepr/docscraper/model"

// Snapshot is the checkpointable view of a Queue's state: the pending
// items (still queued, not yet popped) and the terminal sets needed to
// rebuild the visited set on restore.
type Snapshot struct {
	Pending []model.QueueItem `json:"pending"`
	Done    []string          `json:"done"`
	Failed  map[string]string `json:"failed"`
}

// Snapshot captures the queue's current pending items and terminal sets.
// Items currently being processed are reported as pending with their
// existing RetryCount — a restored crawl simply processes them again.
func (q *Queue) Snapshot() Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	snap := Snapshot{Failed: make(map[string]string, len(q.failed))}
	for _, item := range q.items {
		snap.Pending = append(snap.Pending, *item)
	}
	for url, s := range q.visited {
		if s == stateDone {
			snap.Done = append(snap.Done, url)
		}
	}
	for url, err := range q.failed {
		snap.Failed[url] = err.Error()
	}
	return snap
}

// Restore repopulates the queue from a Snapshot taken by Snapshot. Pending
// items are re-enqueued with their recorded priority and retry count; done
// and failed URLs populate the visited set so they are never re-enqueued.
// Restore(Snapshot(S)) is equivalent to continuing the original run from
// the moment the snapshot was taken.
func (q *Queue) Restore(snap Snapshot) {
	q.mu.Lock()
	for _, url := range snap.Done {
		q.visited[url] = stateDone
	}
	for url, msg := range snap.Failed {
		q.visited[url] = stateFailed
		q.failed[url] = errString(msg)
	}
	q.mu.Unlock()

	for i := range snap.Pending {
		item := snap.Pending[i]
		q.restoreItem(&item)
	}
}

// errString adapts a plain string into an error without importing errors
// at every call site that rebuilds a FailedMap entry from JSON.
type errString string

func (e errString) Error() string { return string(e) }
