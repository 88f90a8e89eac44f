package server

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/junction/internal/envelope"
)

// heartbeatInterval is how often an idle event stream is pinged.
const heartbeatInterval = 15 * time.Second

// envelopeEvent is the SSE payload for one inbound peer envelope.
type envelopeEvent struct {
	From           string `json:"from"`
	To             string `json:"to"`
	Text           string `json:"text"`
	ConversationID string `json:"conversation_id"`
	Depth          int    `json:"depth"`
	MaxDepth       int    `json:"max_depth"`
	Paid           bool   `json:"paid"`
}

// Events fans inbound envelopes out to stream subscribers. Slow subscribers
// miss events rather than block the publisher.
type Events struct {
	mu   sync.Mutex
	subs map[chan envelopeEvent]struct{}
}

// NewEvents returns an empty hub.
func NewEvents() *Events {
	return &Events{subs: map[chan envelopeEvent]struct{}{}}
}

// Publish delivers env to every current subscriber.
func (e *Events) Publish(env *envelope.Envelope) {
	evt := envelopeEvent{
		From:           env.FromAgent,
		To:             env.ToAgent,
		Text:           env.Text,
		ConversationID: env.ConversationID,
		Depth:          env.Depth,
		MaxDepth:       env.MaxDepth,
		Paid:           env.ReceiptID != "",
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for ch := range e.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

func (e *Events) subscribe() chan envelopeEvent {
	ch := make(chan envelopeEvent, 16)
	e.mu.Lock()
	e.subs[ch] = struct{}{}
	e.mu.Unlock()
	return ch
}

func (e *Events) unsubscribe(ch chan envelopeEvent) {
	e.mu.Lock()
	delete(e.subs, ch)
	e.mu.Unlock()
}

// handleEvents streams envelopes as server-sent events until the client
// goes away.
func handleEvents(events *Events) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")

		ch := events.subscribe()
		defer events.unsubscribe(ch)

		writeSSE(c.Writer, "connected", map[string]string{"type": "connected"})
		c.Writer.Flush()

		ctx := c.Request.Context()
		heartbeat := time.NewTicker(heartbeatInterval)
		defer heartbeat.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				writeSSE(c.Writer, "heartbeat", map[string]string{
					"timestamp": time.Now().UTC().Format(time.RFC3339),
				})
				c.Writer.Flush()
			case evt := <-ch:
				writeSSE(c.Writer, "envelope", evt)
				c.Writer.Flush()
			}
		}
	}
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}
