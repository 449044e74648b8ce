package engine

import (
	"time"

	"github.com/google/uuid"
)

// EventType discriminates the closed set of event variants a run can emit.
type EventType string

const (
	EventPhase            EventType = "phase"
	EventThinking         EventType = "thinking"
	EventSearching        EventType = "searching"
	EventFound            EventType = "found"
	EventScraping         EventType = "scraping"
	EventChunk            EventType = "content_chunk"
	EventSourceProcessing EventType = "source_processing"
	EventSourceComplete   EventType = "source_complete"
	EventResult           EventType = "final_result"
	EventError            EventType = "error"
)

// Event is one immutable progress notification. Only the fields relevant to
// its Type are populated. The event stream is the sole output channel of a
// run: the last event is always a final_result (preceded by phase/complete)
// or an error.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	Phase   Phase    `json:"phase,omitempty"`
	Message string   `json:"message,omitempty"`
	Query   string   `json:"query,omitempty"`
	URL     string   `json:"url,omitempty"`
	Sources []Source `json:"sources,omitempty"`
	Chunk   string   `json:"chunk,omitempty"`
	Result  *Result  `json:"result,omitempty"`
	ErrKind ErrKind  `json:"err_kind,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// Result is the terminal payload of a successful run.
type Result struct {
	Answer    string   `json:"answer"`
	Sources   []Source `json:"sources"`
	FollowUps []string `json:"follow_ups"`
}

// EmitFunc receives each event in occurrence order.
type EmitFunc func(Event)

// emitter stamps and forwards events. All emission during a run flows
// through one emitter on the run's goroutine, preserving phase-level order;
// concurrent source_complete events are serialized by the caller.
type emitter struct {
	emit EmitFunc
}

func (e emitter) send(ev Event) {
	if e.emit == nil {
		return
	}
	ev.ID = uuid.NewString()
	ev.Timestamp = time.Now()
	e.emit(ev)
}

func (e emitter) phase(p Phase) { e.send(Event{Type: EventPhase, Phase: p}) }

func (e emitter) thinking(msg string) { e.send(Event{Type: EventThinking, Message: msg}) }

func (e emitter) searching(query string) { e.send(Event{Type: EventSearching, Query: query}) }

func (e emitter) found(sources []Source) { e.send(Event{Type: EventFound, Sources: sources}) }

func (e emitter) scraping(url string) { e.send(Event{Type: EventScraping, URL: url}) }

func (e emitter) chunk(s string) { e.send(Event{Type: EventChunk, Chunk: s}) }

func (e emitter) sourceProcessing(url string) { e.send(Event{Type: EventSourceProcessing, URL: url}) }

func (e emitter) sourceComplete(url string) { e.send(Event{Type: EventSourceComplete, URL: url}) }

func (e emitter) result(r Result) { e.send(Event{Type: EventResult, Result: &r}) }

func (e emitter) error(kind ErrKind, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	e.send(Event{Type: EventError, ErrKind: kind, Error: msg})
}
