// Package convlog records the messages of each agent conversation.
package convlog

import (
	"context"
	"fmt"
	"time"

	"github.com/zulandar/junction/internal/config"
	"gorm.io/gorm"
)

// Message sources.
const (
	SourceUser  = "user"
	SourcePeer  = "peer"
	SourceAgent = "agent"
	SourceLLM   = "llm"
)

// Entry is one logged message.
type Entry struct {
	Timestamp      time.Time      `json:"timestamp"`
	AgentID        string         `json:"agent_id"`
	ConversationID string         `json:"conversation_id"`
	Source         string         `json:"source"`
	Message        string         `json:"message"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Logger stores and replays conversation entries.
type Logger interface {
	Log(ctx context.Context, e Entry) error
	// History returns a conversation's entries, oldest first.
	History(ctx context.Context, agentID, conversationID string) ([]Entry, error)
}

// Nop discards entries.
type Nop struct{}

func (Nop) Log(context.Context, Entry) error { return nil }

func (Nop) History(context.Context, string, string) ([]Entry, error) { return nil, nil }

// Open builds the sink named in cfg. gormDB is required for the db sink.
func Open(cfg config.LogConfig, gormDB *gorm.DB) (Logger, error) {
	switch cfg.Sink {
	case "", "jsonl":
		return NewJSONL(cfg.ConversationDir)
	case "db":
		return NewDB(gormDB)
	case "none":
		return Nop{}, nil
	default:
		return nil, fmt.Errorf("convlog: sink %q is not supported", cfg.Sink)
	}
}

func (e *Entry) validate(now func() time.Time) error {
	if e.AgentID == "" {
		return fmt.Errorf("convlog: agent id is required")
	}
	if e.ConversationID == "" {
		return fmt.Errorf("convlog: conversation id is required")
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = now()
	}
	return nil
}
