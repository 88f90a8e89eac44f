package db

import (
	"fmt"
	"time"

	"github.com/zulandar/junction/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AllModels returns the list of all GORM models for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.Agent{},
		&models.ToolServer{},
		&models.ConversationEntry{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// UpsertAgent inserts an agent row or refreshes its address, price, name and
// last-seen time. RegisteredAt is kept from the first insert.
func UpsertAgent(db *gorm.DB, a models.Agent) error {
	now := time.Now().UTC()
	if a.RegisteredAt.IsZero() {
		a.RegisteredAt = now
	}
	if a.LastSeen.IsZero() {
		a.LastSeen = now
	}
	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"url", "name", "service_charge", "last_seen"}),
	}).Create(&a)
	if result.Error != nil {
		return fmt.Errorf("db: upsert agent %q: %w", a.ID, result.Error)
	}
	return nil
}

// UpsertToolServer inserts or updates a tool server keyed by provider and name.
func UpsertToolServer(db *gorm.DB, s models.ToolServer) error {
	if s.Transport == "" {
		s.Transport = "http"
	}
	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider"}, {Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"endpoint", "config", "transport", "updated_at"}),
	}).Create(&s)
	if result.Error != nil {
		return fmt.Errorf("db: upsert tool server %s:%s: %w", s.Provider, s.Name, result.Error)
	}
	return nil
}
