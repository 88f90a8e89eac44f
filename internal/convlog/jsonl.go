package convlog

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// JSONL appends entries to <dir>/<agent>/<conversation>.jsonl.
type JSONL struct {
	dir string
	now func() time.Time

	mu sync.Mutex
}

// NewJSONL returns a logger rooted at dir.
func NewJSONL(dir string) (*JSONL, error) {
	if dir == "" {
		return nil, fmt.Errorf("convlog: directory is required")
	}
	return &JSONL{dir: dir, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Path returns the file holding a conversation.
func (j *JSONL) Path(agentID, conversationID string) string {
	return filepath.Join(j.dir, safeName(agentID), safeName(conversationID)+".jsonl")
}

func (j *JSONL) Log(ctx context.Context, e Entry) error {
	if err := e.validate(j.now); err != nil {
		return err
	}
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("convlog: encode: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	path := j.Path(e.AgentID, e.ConversationID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("convlog: mkdir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("convlog: open %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("convlog: write %s: %w", path, err)
	}
	return nil
}

func (j *JSONL) History(ctx context.Context, agentID, conversationID string) ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	path := j.Path(agentID, conversationID)
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("convlog: open %s: %w", path, err)
	}
	defer f.Close()

	var out []Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4<<20)
	for sc.Scan() {
		if len(strings.TrimSpace(sc.Text())) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return out, fmt.Errorf("convlog: decode %s: %w", path, err)
		}
		out = append(out, e)
	}
	if err := sc.Err(); err != nil {
		return out, fmt.Errorf("convlog: read %s: %w", path, err)
	}
	return out, nil
}

// safeName keeps ids from escaping the log directory.
func safeName(s string) string {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '_'
		}
		return r
	}, s)
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}
