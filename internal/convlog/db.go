package convlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zulandar/junction/internal/models"
	"gorm.io/gorm"
)

// DB stores entries in the conversation_entries table.
type DB struct {
	db  *gorm.DB
	now func() time.Time
}

// NewDB returns a logger backed by gormDB. The table must be migrated.
func NewDB(gormDB *gorm.DB) (*DB, error) {
	if gormDB == nil {
		return nil, fmt.Errorf("convlog: db is required")
	}
	return &DB{db: gormDB, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (d *DB) Log(ctx context.Context, e Entry) error {
	if err := e.validate(d.now); err != nil {
		return err
	}
	meta := ""
	if len(e.Metadata) > 0 {
		raw, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("convlog: encode metadata: %w", err)
		}
		meta = string(raw)
	}
	row := models.ConversationEntry{
		AgentID:        e.AgentID,
		ConversationID: e.ConversationID,
		Source:         e.Source,
		Message:        e.Message,
		Metadata:       meta,
		CreatedAt:      e.Timestamp,
	}
	if err := d.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("convlog: log %s/%s: %w", e.AgentID, e.ConversationID, err)
	}
	return nil
}

func (d *DB) History(ctx context.Context, agentID, conversationID string) ([]Entry, error) {
	var rows []models.ConversationEntry
	if err := d.db.WithContext(ctx).
		Where("agent_id = ? AND conversation_id = ?", agentID, conversationID).
		Order("created_at ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("convlog: history %s/%s: %w", agentID, conversationID, err)
	}
	out := make([]Entry, 0, len(rows))
	for _, r := range rows {
		e := Entry{
			Timestamp:      r.CreatedAt,
			AgentID:        r.AgentID,
			ConversationID: r.ConversationID,
			Source:         r.Source,
			Message:        r.Message,
		}
		if r.Metadata != "" {
			if err := json.Unmarshal([]byte(r.Metadata), &e.Metadata); err != nil {
				return nil, fmt.Errorf("convlog: decode metadata for entry %d: %w", r.ID, err)
			}
		}
		out = append(out, e)
	}
	return out, nil
}
