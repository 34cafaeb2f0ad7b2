package pipeline

import (
	"encoding/json"
	"io"
	"net/http"
	"sync"
)

// Event is one record of the provisioning progress stream, consumed
// incrementally by the caller to render live status. A stream is terminated by
// a success or error event.
type Event struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Event types.
const (
	EventInfo    = "info"
	EventSuccess = "success"
	EventError   = "error"
)

// Reporter receives progress events as provisioning advances.
type Reporter interface {
	Info(message string)
	Success(message string)
	Error(message string)
}

// JSONLineReporter writes newline-delimited JSON events to a writer, flushing
// after every event when the writer supports it, so callers behind buffering
// proxies still see incremental progress.
type JSONLineReporter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewJSONLineReporter creates a reporter over w.
func NewJSONLineReporter(w io.Writer) *JSONLineReporter {
	return &JSONLineReporter{w: w}
}

func (r *JSONLineReporter) emit(eventType, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	payload, err := json.Marshal(Event{Type: eventType, Message: message})
	if err != nil {
		return
	}
	payload = append(payload, '\n')
	if _, err := r.w.Write(payload); err != nil {
		return
	}
	if flusher, ok := r.w.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (r *JSONLineReporter) Info(message string)    { r.emit(EventInfo, message) }
func (r *JSONLineReporter) Success(message string) { r.emit(EventSuccess, message) }
func (r *JSONLineReporter) Error(message string)   { r.emit(EventError, message) }

// NopReporter discards all events.
type NopReporter struct{}

func (NopReporter) Info(string)    {}
func (NopReporter) Success(string) {}
func (NopReporter) Error(string)   {}
