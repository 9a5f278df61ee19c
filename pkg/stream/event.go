// Package stream defines the event protocol shared by every generation
// backend, along with the server-sent-event framing used to put those events
// on the wire.
package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Event is a single unit of streamed output. A stream is a sequence of text
// events followed by exactly one terminal event (Done is true). A terminal
// event may carry an Error message, in which case the stream failed; text
// already delivered before the failure remains valid.
type Event struct {
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
	Done  bool   `json:"done"`
}

// Text returns a non-terminal event carrying a chunk of generated text.
func Text(text string) Event {
	return Event{Text: text}
}

// Done returns the terminal event of a successful stream.
func Done() Event {
	return Event{Done: true}
}

// Failure returns a terminal event describing err.
func Failure(err error) Event {
	return Event{Error: err.Error(), Done: true}
}

// IsTerminal reports whether the event closes its stream.
func (e Event) IsTerminal() bool {
	return e.Done
}

// Failed reports whether the event is a terminal error event.
func (e Event) Failed() bool {
	return e.Done && e.Error != ""
}

// MarshalSSE encodes the event as a single server-sent-event frame,
// `data: <json>\n\n`.
func (e Event) MarshalSSE() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event: %w", err)
	}
	frame := make([]byte, 0, len(data)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, data...)
	frame = append(frame, '\n', '\n')
	return frame, nil
}

// WriteSSE writes one event frame to w and flushes it if w supports
// http.Flusher, so that the frame reaches the client before the next event is
// produced.
func WriteSSE(w io.Writer, e Event) error {
	frame, err := e.MarshalSSE()
	if err != nil {
		return err
	}
	if _, err = w.Write(frame); err != nil {
		return err
	}
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}

// Collect drains events until the channel closes, returning the concatenated
// text and the terminal event. If the channel closes without a terminal event
// (for example because the producer's context was cancelled), ok is false.
func Collect(events <-chan Event) (text string, last Event, ok bool) {
	var builder strings.Builder
	for ev := range events {
		if ev.Done {
			last = ev
			ok = true
			continue
		}
		builder.WriteString(ev.Text)
	}
	return builder.String(), last, ok
}
