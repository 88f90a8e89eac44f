// Package transport carries A2A messages between agents over HTTP.
package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Content is the text payload of a message.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Message is the JSON body exchanged on the /a2a endpoint.
type Message struct {
	Role            Role           `json:"role"`
	Content         Content        `json:"content"`
	MessageID       string         `json:"message_id,omitempty"`
	ConversationID  string         `json:"conversation_id,omitempty"`
	ParentMessageID string         `json:"parent_message_id,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// NewMessage builds a text message with a fresh message id.
func NewMessage(role Role, text, conversationID string) Message {
	return Message{
		Role:           role,
		Content:        Content{Type: "text", Text: text},
		MessageID:      ulid.Make().String(),
		ConversationID: conversationID,
	}
}

// NewConversationID returns a fresh conversation identifier.
func NewConversationID() string {
	return uuid.NewString()
}

// Text returns the message text.
func (m Message) Text() string {
	return m.Content.Text
}

// Reply builds the agent's answer to m in the same conversation.
func (m Message) Reply(text string) Message {
	r := NewMessage(RoleAgent, text, m.ConversationID)
	r.ParentMessageID = m.MessageID
	return r
}

// Meta returns a metadata value, or nil.
func (m Message) Meta(key string) any {
	if m.Metadata == nil {
		return nil
	}
	return m.Metadata[key]
}

// SetMeta sets a metadata value, allocating the map on first use.
func (m *Message) SetMeta(key string, v any) {
	if m.Metadata == nil {
		m.Metadata = map[string]any{}
	}
	m.Metadata[key] = v
}

// Decode reads a request or response body. A JSON object with a content
// field is decoded as a Message; anything else is taken as plain text.
func Decode(body []byte) (Message, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var m Message
		if err := json.Unmarshal(trimmed, &m); err != nil {
			return Message{}, fmt.Errorf("transport: decode message: %w", err)
		}
		if m.Content.Type == "" {
			m.Content.Type = "text"
		}
		return m, nil
	}
	text := strings.TrimSpace(string(body))
	if text == "" {
		return Message{}, fmt.Errorf("transport: empty message")
	}
	return Message{Role: RoleUser, Content: Content{Type: "text", Text: text}}, nil
}
