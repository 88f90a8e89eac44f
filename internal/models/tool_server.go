package models

import "time"

// ToolServer is an MCP server registered under a provider namespace.
type ToolServer struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Provider  string `gorm:"size:64;not null;uniqueIndex:idx_provider_name"`
	Name      string `gorm:"size:128;not null;uniqueIndex:idx_provider_name"`
	Endpoint  string `gorm:"size:512;not null"`
	Config    string `gorm:"type:text"`
	Transport string `gorm:"size:8;default:http"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
