// Package progress fans ProgressEvents out to subscribers keyed by job id,
// built on the messaging.Producer/Consumer abstraction (messaging.ChannelQueue)
// rather than a single unkeyed bus, so a long-running crawl and whatever
// watches it never share transport state with unrelated jobs.
package progress

import (
	"encoding/json"
	"log"
	"os"
	"sync"

	"github.com/codepr/docscraper/messaging"
	"github.com/codepr/docscraper/model"
)

// Bus fans ProgressEvents out to subscribers keyed by job id. The engine is
// oblivious to what subscribes — a WebSocket façade is a typical one, but
// Bus never imports net/http.
type Bus struct {
	mu     sync.Mutex
	topics map[string]messaging.ChannelQueue
	inbox  map[string]chan []byte // buffered; drained in order by a single forwarder per job
	last   map[string]float64     // last progress_pct emitted per job, enforces monotonicity
	logger *log.Logger
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{
		topics: make(map[string]messaging.ChannelQueue),
		inbox:  make(map[string]chan []byte),
		last:   make(map[string]float64),
		logger: log.New(os.Stderr, "progress: ", log.LstdFlags),
	}
}

// topicAndInbox returns jobID's ChannelQueue and input channel, creating
// both and starting the forwarder goroutine the first time the job is
// seen. The forwarder is the only goroutine that ever calls topic.Produce
// for this job, so events reach the topic in the order Emit enqueued them
// regardless of how long any one Produce blocks.
func (b *Bus) topicAndInbox(jobID string) (messaging.ChannelQueue, chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	topic, ok := b.topics[jobID]
	if !ok {
		topic = messaging.NewChannelQueue()
		in := make(chan []byte, 256)
		b.topics[jobID] = topic
		b.inbox[jobID] = in
		go forward(in, topic)
	}
	return topic, b.inbox[jobID]
}

// inboxFor returns jobID's input channel, creating it (and its forwarder)
// if necessary.
func (b *Bus) inboxFor(jobID string) chan []byte {
	_, in := b.topicAndInbox(jobID)
	return in
}

func forward(in <-chan []byte, topic messaging.ChannelQueue) {
	for payload := range in {
		topic.Produce(payload)
	}
	topic.Close()
}

// Emit publishes event on jobID's topic. progress_pct is clamped to be
// non-decreasing within a job's run, except an "error" stage which always
// resets the tracked floor to 0. Events emitted before any subscriber
// exists wait in the job's buffered inbox (256 events) and are delivered to
// the first subscriber that reads the topic. A job whose inbox is saturated
// (no subscriber drains it) drops the event rather than blocking the caller.
func (b *Bus) Emit(event model.ProgressEvent) {
	b.mu.Lock()
	if event.Stage == model.StageError {
		b.last[event.JobID] = 0
	} else if prev, ok := b.last[event.JobID]; ok && event.ProgressPct < prev {
		event.ProgressPct = prev
	} else {
		b.last[event.JobID] = event.ProgressPct
	}
	b.mu.Unlock()

	payload, err := json.Marshal(event)
	if err != nil {
		b.logger.Printf("job %s: failed to marshal progress event: %v", event.JobID, err)
		return
	}

	in := b.inboxFor(event.JobID)
	select {
	case in <- payload:
	default:
		b.logger.Printf("job %s: progress inbox full, dropping event", event.JobID)
	}
}

// Subscribe returns a channel of decoded ProgressEvents for jobID. The
// returned channel is closed when Close(jobID) is called. Events are
// delivered in the order Emit produced them.
func (b *Bus) Subscribe(jobID string) <-chan model.ProgressEvent {
	topic, _ := b.topicAndInbox(jobID)
	raw := make(chan []byte)
	out := make(chan model.ProgressEvent)

	go func() {
		defer close(out)
		for data := range raw {
			var event model.ProgressEvent
			if err := json.Unmarshal(data, &event); err != nil {
				b.logger.Printf("job %s: failed to decode progress event: %v", jobID, err)
				continue
			}
			out <- event
		}
	}()
	go func() {
		topic.Consume(raw)
		close(raw)
	}()

	return out
}

// Close tears down jobID's topic, terminating every subscriber's channel.
// Safe to call once per job, at job completion. Closing the inbox lets the
// forwarder goroutine drain whatever is left before it closes the topic
// itself, so no buffered event is lost.
func (b *Bus) Close(jobID string) {
	b.mu.Lock()
	in, ok := b.inbox[jobID]
	if ok {
		delete(b.topics, jobID)
		delete(b.inbox, jobID)
		delete(b.last, jobID)
	}
	b.mu.Unlock()
	if ok {
		close(in)
	}
}
