// Package stream implements a streaming channel:
// stream(prompt, sessionID, context) -> a lazy sequence of events, each
// one of {text: chunk}, {text: "", done: true}, {error: msg}, driven
// across a model fallback list via a producer/consumer goroutine.
package stream

import (
	"context"
	"time"

	"github.com/alphabridge/runtime/internal/corelog"
	"github.com/alphabridge/runtime/internal/memory"
)

// EventType distinguishes the three event shapes the channel can emit.
type EventType string

const (
	EventText  EventType = "text"
	EventDone  EventType = "done"
	EventError EventType = "error"
)

// Event is one unit sent down the channel.
type Event struct {
	Type EventType `json:"type"`
	Text string    `json:"text,omitempty"`
	Done bool      `json:"done,omitempty"`
	Err  string    `json:"error,omitempty"`
}

// timeout bounds a single streamed request.
const timeout = 120 * time.Second

// ModelStreamer streams raw text chunks from one backing model. Producer
// implementations call out to a provider SDK; Stream receives a sink
// (onChunk) to push chunks to and returns when the model finishes or errors.
type ModelStreamer interface {
	Name() string
	Stream(ctx context.Context, prompt string, onChunk func(string)) error
}

// Channel drives a single request across a model fallback list, writing
// the prompt and the accumulated response into its one session store
// (which may itself be a remote-first FallbackStore).
type Channel struct {
	models []ModelStreamer
	store  memory.Store
	logger corelog.Logger
}

// New builds a Channel trying each of models in order until one
// completes without error.
func New(models []ModelStreamer, store memory.Store, logger corelog.Logger) *Channel {
	if logger == nil {
		logger = corelog.NoOpLogger{}
	}
	return &Channel{models: models, store: store, logger: logger}
}

// Stream is a single-threaded cooperative producer, one per request: it
// returns a receive-only channel of Events and owns writing the turn
// history once the stream concludes.
func (c *Channel) Stream(ctx context.Context, prompt, sessionID string) <-chan Event {
	events := make(chan Event)

	go func() {
		defer close(events)

		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		if err := c.store.AppendTurn(ctx, sessionID, memory.Turn{Role: "user", Content: prompt, Timestamp: time.Now().UTC()}); err != nil {
			c.logger.Warn("stream: optimistic history write failed", map[string]interface{}{"error": err.Error()})
		}

		var full string
		var lastErr error

		for _, model := range c.models {
			full = ""
			err := model.Stream(ctx, prompt, func(chunk string) {
				full += chunk
				select {
				case events <- Event{Type: EventText, Text: chunk}:
				case <-ctx.Done():
				}
			})
			if err == nil {
				lastErr = nil
				break
			}
			lastErr = err
			c.logger.Warn("stream: model failed, trying fallback", map[string]interface{}{
				"model": model.Name(),
				"error": err.Error(),
			})
		}

		if lastErr != nil {
			select {
			case events <- Event{Type: EventError, Err: lastErr.Error()}:
			case <-ctx.Done():
			}
			return
		}

		if err := c.store.AppendTurn(ctx, sessionID, memory.Turn{Role: "assistant", Content: full, Timestamp: time.Now().UTC()}); err != nil {
			c.logger.Warn("stream: assistant turn write failed", map[string]interface{}{"error": err.Error()})
		}

		select {
		case events <- Event{Type: EventDone, Done: true}:
		case <-ctx.Done():
		}
	}()

	return events
}
