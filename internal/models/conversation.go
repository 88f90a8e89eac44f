package models

import "time"

// ConversationEntry is one logged message in an agent conversation.
type ConversationEntry struct {
	ID             uint      `gorm:"primaryKey;autoIncrement"`
	AgentID        string    `gorm:"size:128;not null;index:idx_agent_conversation"`
	ConversationID string    `gorm:"size:64;not null;index:idx_agent_conversation"`
	Source         string    `gorm:"size:16;not null"`
	Message        string    `gorm:"type:text"`
	Metadata       string    `gorm:"type:text"`
	CreatedAt      time.Time `gorm:"index"`
}
