// Package directory maps agent identifiers to reachable addresses and
// service charges, and registered tool servers to their endpoints.
//
// Several backing stores implement the same interfaces: a JSON file, a SQL
// database through gorm, Redis, and a networked registry reached over HTTP.
package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Entry describes one registered agent.
type Entry struct {
	AgentID       string    `json:"agent_id"`
	Address       string    `json:"agent_url"`
	ServiceCharge int       `json:"service_charge"`
	DisplayName   string    `json:"agent_name,omitempty"`
	RegisteredAt  time.Time `json:"registered_at"`
	LastSeen      time.Time `json:"last_seen"`
}

// Free reports whether the agent serves requests without payment.
func (e Entry) Free() bool {
	return e.ServiceCharge <= 0
}

// Directory is the agent name service. Implementations must be safe for
// concurrent use.
type Directory interface {
	// Register inserts or refreshes an entry. RegisteredAt is preserved for
	// existing agents and LastSeen is set to now.
	Register(ctx context.Context, e Entry) error
	Lookup(ctx context.Context, agentID string) (string, bool, error)
	GetInfo(ctx context.Context, agentID string) (Entry, bool, error)
	List(ctx context.Context) ([]Entry, error)
	// Unregister reports whether an entry was removed.
	Unregister(ctx context.Context, agentID string) (bool, error)
}

// Transports a tool server may speak.
const (
	TransportHTTP = "http"
	TransportSSE  = "sse"
)

// ToolServer is an MCP server registered under a provider namespace.
type ToolServer struct {
	Provider  string         `json:"provider"`
	Name      string         `json:"name"`
	Endpoint  string         `json:"endpoint"`
	Config    map[string]any `json:"config,omitempty"`
	Transport string         `json:"transport,omitempty"`
}

// Key returns the provider:name form used in tool queries.
func (s ToolServer) Key() string {
	return s.Provider + ":" + s.Name
}

// ToolDirectory is the tool-server namespace.
type ToolDirectory interface {
	RegisterTool(ctx context.Context, s ToolServer) error
	// LookupTool resolves provider and name, falling back to a match on the
	// name alone when the provider has no such server.
	LookupTool(ctx context.Context, provider, name string) (ToolServer, bool, error)
	ListTools(ctx context.Context) ([]ToolServer, error)
}

// ErrInvalidEntry is returned when an entry fails validation.
var ErrInvalidEntry = errors.New("directory: invalid entry")

// Validate checks the fields every backend requires.
func (e Entry) Validate() error {
	var errs []string
	if strings.TrimSpace(e.AgentID) == "" {
		errs = append(errs, "agent id is required")
	}
	if strings.TrimSpace(e.Address) == "" {
		errs = append(errs, "address is required")
	}
	if e.ServiceCharge < 0 {
		errs = append(errs, "service charge must be non-negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidEntry, strings.Join(errs, "; "))
	}
	return nil
}

// Validate checks the fields every backend requires.
func (s ToolServer) Validate() error {
	var errs []string
	if s.Provider == "" {
		errs = append(errs, "provider is required")
	}
	if s.Name == "" {
		errs = append(errs, "name is required")
	}
	if s.Endpoint == "" {
		errs = append(errs, "endpoint is required")
	}
	switch s.Transport {
	case "", TransportHTTP, TransportSSE:
	default:
		errs = append(errs, fmt.Sprintf("transport %q is not supported", s.Transport))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidEntry, strings.Join(errs, "; "))
	}
	return nil
}

// merge applies a registration on top of an existing entry.
func merge(existing Entry, found bool, e Entry, now time.Time) Entry {
	e.LastSeen = now
	if found && !existing.RegisteredAt.IsZero() {
		e.RegisteredAt = existing.RegisteredAt
	} else if e.RegisteredAt.IsZero() {
		e.RegisteredAt = now
	}
	return e
}

// findTool applies the provider:name then name-only lookup order.
func findTool(servers []ToolServer, provider, name string) (ToolServer, bool) {
	for _, s := range servers {
		if s.Provider == provider && s.Name == name {
			return s, true
		}
	}
	for _, s := range servers {
		if s.Name == name {
			return s, true
		}
	}
	return ToolServer{}, false
}
