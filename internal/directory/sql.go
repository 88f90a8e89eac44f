package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zulandar/junction/internal/db"
	"github.com/zulandar/junction/internal/models"
	"gorm.io/gorm"
)

// DBStore keeps the directory in a SQL database (SQLite or MySQL).
type DBStore struct {
	db *gorm.DB
}

// NewDBStore wraps an open, migrated gorm connection.
func NewDBStore(gormDB *gorm.DB) (*DBStore, error) {
	if gormDB == nil {
		return nil, fmt.Errorf("directory: db: connection is required")
	}
	return &DBStore{db: gormDB}, nil
}

func (s *DBStore) Register(ctx context.Context, e Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	return db.UpsertAgent(s.db.WithContext(ctx), models.Agent{
		ID:            e.AgentID,
		URL:           e.Address,
		Name:          e.DisplayName,
		ServiceCharge: e.ServiceCharge,
		RegisteredAt:  e.RegisteredAt,
	})
}

func (s *DBStore) Lookup(ctx context.Context, agentID string) (string, bool, error) {
	e, ok, err := s.GetInfo(ctx, agentID)
	return e.Address, ok, err
}

func (s *DBStore) GetInfo(ctx context.Context, agentID string) (Entry, bool, error) {
	var a models.Agent
	err := s.db.WithContext(ctx).Where("id = ?", agentID).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("directory: db: get %s: %w", agentID, err)
	}
	return agentEntry(a), true, nil
}

func (s *DBStore) List(ctx context.Context) ([]Entry, error) {
	var rows []models.Agent
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("directory: db: list: %w", err)
	}
	out := make([]Entry, len(rows))
	for i, a := range rows {
		out[i] = agentEntry(a)
	}
	return out, nil
}

func (s *DBStore) Unregister(ctx context.Context, agentID string) (bool, error) {
	result := s.db.WithContext(ctx).Where("id = ?", agentID).Delete(&models.Agent{})
	if result.Error != nil {
		return false, fmt.Errorf("directory: db: unregister %s: %w", agentID, result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (s *DBStore) RegisterTool(ctx context.Context, srv ToolServer) error {
	if err := srv.Validate(); err != nil {
		return err
	}
	cfg, err := json.Marshal(srv.Config)
	if err != nil {
		return fmt.Errorf("directory: db: marshal config for %s: %w", srv.Key(), err)
	}
	return db.UpsertToolServer(s.db.WithContext(ctx), models.ToolServer{
		Provider:  srv.Provider,
		Name:      srv.Name,
		Endpoint:  srv.Endpoint,
		Config:    string(cfg),
		Transport: srv.Transport,
	})
}

func (s *DBStore) LookupTool(ctx context.Context, provider, name string) (ToolServer, bool, error) {
	var row models.ToolServer
	err := s.db.WithContext(ctx).Where("provider = ? AND name = ?", provider, name).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = s.db.WithContext(ctx).Where("name = ?", name).Order("id").First(&row).Error
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ToolServer{}, false, nil
	}
	if err != nil {
		return ToolServer{}, false, fmt.Errorf("directory: db: lookup tool %s:%s: %w", provider, name, err)
	}
	srv, err := toolServer(row)
	if err != nil {
		return ToolServer{}, false, err
	}
	return srv, true, nil
}

func (s *DBStore) ListTools(ctx context.Context) ([]ToolServer, error) {
	var rows []models.ToolServer
	if err := s.db.WithContext(ctx).Order("provider, name").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("directory: db: list tools: %w", err)
	}
	out := make([]ToolServer, 0, len(rows))
	for _, r := range rows {
		srv, err := toolServer(r)
		if err != nil {
			return nil, err
		}
		out = append(out, srv)
	}
	return out, nil
}

func agentEntry(a models.Agent) Entry {
	return Entry{
		AgentID:       a.ID,
		Address:       a.URL,
		ServiceCharge: a.ServiceCharge,
		DisplayName:   a.Name,
		RegisteredAt:  a.RegisteredAt,
		LastSeen:      a.LastSeen,
	}
}

func toolServer(r models.ToolServer) (ToolServer, error) {
	srv := ToolServer{
		Provider:  r.Provider,
		Name:      r.Name,
		Endpoint:  r.Endpoint,
		Transport: r.Transport,
	}
	if r.Config != "" && r.Config != "null" {
		if err := json.Unmarshal([]byte(r.Config), &srv.Config); err != nil {
			return ToolServer{}, fmt.Errorf("directory: db: decode config for %s: %w", srv.Key(), err)
		}
	}
	return srv, nil
}
