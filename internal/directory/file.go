package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// fileRecord is the on-disk shape of one agent, keyed by agent id.
type fileRecord struct {
	AgentURL      string    `json:"agentUrl"`
	RegisteredAt  time.Time `json:"registeredAt"`
	LastSeen      time.Time `json:"lastSeen"`
	ServiceCharge int       `json:"serviceCharge"`
	AgentName     string    `json:"agentName,omitempty"`
}

// FileStore keeps the directory in a JSON file. Writes replace the file
// atomically; Watch reloads it when another process edits it.
type FileStore struct {
	path      string
	toolsPath string
	log       zerolog.Logger
	now       func() time.Time

	mu     sync.RWMutex
	agents map[string]fileRecord
	tools  []ToolServer
}

// FileOpts holds parameters for NewFileStore.
type FileOpts struct {
	Path string
	// ToolsPath defaults to Path with a ".tools.json" suffix.
	ToolsPath string
	Logger    zerolog.Logger
	Now       func() time.Time
}

// NewFileStore loads (or starts) the directory at opts.Path.
func NewFileStore(opts FileOpts) (*FileStore, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("directory: file: path is required")
	}
	if opts.ToolsPath == "" {
		opts.ToolsPath = opts.Path + ".tools.json"
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	s := &FileStore{
		path:      opts.Path,
		toolsPath: opts.ToolsPath,
		log:       opts.Logger,
		now:       opts.Now,
		agents:    map[string]fileRecord{},
	}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// reload re-reads both files. A corrupt agents file is logged and treated as
// empty so a bad edit does not take the agent down.
func (s *FileStore) reload() error {
	agents := map[string]fileRecord{}
	if err := readJSON(s.path, &agents); err != nil {
		var syn *json.SyntaxError
		if !errors.As(err, &syn) {
			return fmt.Errorf("directory: file: load %s: %w", s.path, err)
		}
		s.log.Warn().Err(err).Str("path", s.path).Msg("directory: corrupt registry file, starting empty")
		agents = map[string]fileRecord{}
	}
	var tools []ToolServer
	if err := readJSON(s.toolsPath, &tools); err != nil {
		return fmt.Errorf("directory: file: load %s: %w", s.toolsPath, err)
	}

	s.mu.Lock()
	s.agents = agents
	s.tools = tools
	s.mu.Unlock()
	return nil
}

// readJSON decodes path into v; a missing file leaves v untouched.
func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// writeJSON replaces path atomically via a temp file in the same directory.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (s *FileStore) Register(ctx context.Context, e Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, found := s.agents[e.AgentID]
	merged := merge(rec.entry(e.AgentID), found, e, s.now())
	next := make(map[string]fileRecord, len(s.agents)+1)
	for k, v := range s.agents {
		next[k] = v
	}
	next[e.AgentID] = fileRecord{
		AgentURL:      merged.Address,
		RegisteredAt:  merged.RegisteredAt,
		LastSeen:      merged.LastSeen,
		ServiceCharge: merged.ServiceCharge,
		AgentName:     merged.DisplayName,
	}
	if err := writeJSON(s.path, next); err != nil {
		return fmt.Errorf("directory: file: register %s: %w", e.AgentID, err)
	}
	s.agents = next
	return nil
}

func (s *FileStore) Lookup(ctx context.Context, agentID string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.agents[agentID]
	return rec.AgentURL, ok, nil
}

func (s *FileStore) GetInfo(ctx context.Context, agentID string) (Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.agents[agentID]
	if !ok {
		return Entry{}, false, nil
	}
	return rec.entry(agentID), true, nil
}

func (s *FileStore) List(ctx context.Context) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, len(s.agents))
	for id, rec := range s.agents {
		out = append(out, rec.entry(id))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out, nil
}

func (s *FileStore) Unregister(ctx context.Context, agentID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[agentID]; !ok {
		return false, nil
	}
	next := make(map[string]fileRecord, len(s.agents))
	for k, v := range s.agents {
		if k != agentID {
			next[k] = v
		}
	}
	if err := writeJSON(s.path, next); err != nil {
		return false, fmt.Errorf("directory: file: unregister %s: %w", agentID, err)
	}
	s.agents = next
	return true, nil
}

func (s *FileStore) RegisterTool(ctx context.Context, srv ToolServer) error {
	if err := srv.Validate(); err != nil {
		return err
	}
	if srv.Transport == "" {
		srv.Transport = TransportHTTP
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]ToolServer, 0, len(s.tools)+1)
	for _, t := range s.tools {
		if t.Provider == srv.Provider && t.Name == srv.Name {
			continue
		}
		next = append(next, t)
	}
	next = append(next, srv)
	if err := writeJSON(s.toolsPath, next); err != nil {
		return fmt.Errorf("directory: file: register tool %s: %w", srv.Key(), err)
	}
	s.tools = next
	return nil
}

func (s *FileStore) LookupTool(ctx context.Context, provider, name string) (ToolServer, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	srv, ok := findTool(s.tools, provider, name)
	return srv, ok, nil
}

func (s *FileStore) ListTools(ctx context.Context) ([]ToolServer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ToolServer, len(s.tools))
	copy(out, s.tools)
	return out, nil
}

// Watch reloads the store whenever its files change on disk, until ctx is
// cancelled.
func (s *FileStore) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("directory: file: watch: %w", err)
	}
	defer w.Close()

	// Watch the directory: atomic renames replace the inode.
	dir := filepath.Dir(s.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("directory: file: watch %s: %w", dir, err)
	}
	base := filepath.Clean(s.path)
	tools := filepath.Clean(s.toolsPath)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			name := filepath.Clean(ev.Name)
			if name != base && name != tools {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if err := s.reload(); err != nil {
				s.log.Warn().Err(err).Msg("directory: reload failed")
				continue
			}
			s.log.Debug().Str("path", name).Msg("directory: reloaded")
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.log.Warn().Err(err).Msg("directory: watcher error")
		}
	}
}

func (r fileRecord) entry(id string) Entry {
	return Entry{
		AgentID:       id,
		Address:       r.AgentURL,
		ServiceCharge: r.ServiceCharge,
		DisplayName:   r.AgentName,
		RegisteredAt:  r.RegisteredAt,
		LastSeen:      r.LastSeen,
	}
}
