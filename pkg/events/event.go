// Package events carries the pipeline's outward notifications.
//
// Events are ephemeral: nothing here is persisted. Producers call
// Publisher.Publish from whatever goroutine observed the change; a single
// producer goroutine therefore sees its events delivered in order.
package events

import "time"

// Kind names a notification.
type Kind string

const (
	// KindQueueChanged has no payload; consumers re-fetch the job list.
	KindQueueChanged Kind = "queue-changed"

	// KindRawOutput carries one verbatim engine output line.
	KindRawOutput Kind = "raw-output"

	// KindDownloadProgress carries a parsed progress percentage.
	KindDownloadProgress Kind = "download-progress"

	// KindProcessSpawned carries the pid of a new engine process.
	KindProcessSpawned Kind = "process-spawned"
)

// Stream identifies the engine output stream a raw line came from.
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
)

// Event is a single notification.
type Event struct {
	Kind    Kind      `json:"kind"`
	TS      time.Time `json:"ts"`
	JobID   string    `json:"job_id,omitempty"`
	Stream  string    `json:"stream,omitempty"`
	Line    string    `json:"line,omitempty"`
	Percent float64   `json:"percent,omitempty"`
	PID     int       `json:"pid,omitempty"`
}

func QueueChanged() Event {
	return Event{Kind: KindQueueChanged, TS: time.Now().UTC()}
}

func RawOutput(jobID, stream, line string) Event {
	return Event{Kind: KindRawOutput, TS: time.Now().UTC(), JobID: jobID, Stream: stream, Line: line}
}

func DownloadProgress(jobID string, percent float64) Event {
	return Event{Kind: KindDownloadProgress, TS: time.Now().UTC(), JobID: jobID, Percent: percent}
}

func ProcessSpawned(pid int) Event {
	return Event{Kind: KindProcessSpawned, TS: time.Now().UTC(), PID: pid}
}

// Publisher accepts events. Implementations must not block for long; they
// are called from engine output readers.
type Publisher interface {
	Publish(Event)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(Event)

// Publish calls f(e).
func (f PublisherFunc) Publish(e Event) { f(e) }

// Discard drops every event.
var Discard Publisher = PublisherFunc(func(Event) {})

// Tee publishes every event to each of pubs in order. Nil entries are skipped.
func Tee(pubs ...Publisher) Publisher {
	return PublisherFunc(func(e Event) {
		for _, p := range pubs {
			if p != nil {
				p.Publish(e)
			}
		}
	})
}

// OrDiscard returns p, or Discard when p is nil.
func OrDiscard(p Publisher) Publisher {
	if p == nil {
		return Discard
	}
	return p
}
