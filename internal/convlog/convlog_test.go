package convlog

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zulandar/junction/internal/config"
	"github.com/zulandar/junction/internal/db"
)

func newDBLogger(t *testing.T) *DB {
	t.Helper()
	gormDB, err := db.OpenSQLite(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		t.Fatal(err)
	}
	l, err := NewDB(gormDB)
	if err != nil {
		t.Fatal(err)
	}
	return l
}

// exerciseLogger runs the behaviour every sink must share.
func exerciseLogger(t *testing.T, l Logger) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	entries := []Entry{
		{Timestamp: base, AgentID: "agent_a", ConversationID: "c1", Source: SourceUser, Message: "@agent_b hi"},
		{Timestamp: base.Add(time.Second), AgentID: "agent_a", ConversationID: "c1", Source: SourcePeer, Message: "hello\nthere", Metadata: map[string]any{"from_agent": "agent_b"}},
		{Timestamp: base, AgentID: "agent_a", ConversationID: "c2", Source: SourceUser, Message: "other"},
	}
	for _, e := range entries {
		if err := l.Log(ctx, e); err != nil {
			t.Fatalf("Log: %v", err)
		}
	}

	got, err := l.History(ctx, "agent_a", "c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("History len = %d, want 2", len(got))
	}
	if got[0].Message != "@agent_b hi" || got[1].Message != "hello\nthere" {
		t.Errorf("order = %q, %q", got[0].Message, got[1].Message)
	}
	if got[1].Metadata["from_agent"] != "agent_b" {
		t.Errorf("metadata = %v", got[1].Metadata)
	}
	if !got[0].Timestamp.Equal(base) {
		t.Errorf("timestamp = %v", got[0].Timestamp)
	}

	none, err := l.History(ctx, "agent_a", "missing")
	if err != nil || len(none) != 0 {
		t.Errorf("missing conversation = %v, %v", none, err)
	}

	if err := l.Log(ctx, Entry{ConversationID: "c1"}); err == nil {
		t.Error("expected error without agent id")
	}
	if err := l.Log(ctx, Entry{AgentID: "a"}); err == nil {
		t.Error("expected error without conversation id")
	}
}

// --- JSONL tests ---

func TestJSONL(t *testing.T) {
	l, err := NewJSONL(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	exerciseLogger(t, l)
}

func TestJSONL_FileLayout(t *testing.T) {
	dir := t.TempDir()
	l, _ := NewJSONL(dir)
	if err := l.Log(context.Background(), Entry{AgentID: "agent_a", ConversationID: "conv-1", Source: SourceUser, Message: "x"}); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "agent_a", "conv-1.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	line := strings.TrimSpace(string(data))
	for _, field := range []string{`"timestamp"`, `"agent_id":"agent_a"`, `"conversation_id":"conv-1"`, `"source":"user"`, `"message":"x"`} {
		if !strings.Contains(line, field) {
			t.Errorf("line %s missing %s", line, field)
		}
	}
}

func TestJSONL_SafePaths(t *testing.T) {
	dir := t.TempDir()
	l, _ := NewJSONL(dir)
	p := l.Path("../../etc", "a/b")
	if !strings.HasPrefix(p, dir) {
		t.Errorf("path %q escapes %q", p, dir)
	}
	if strings.Count(strings.TrimPrefix(p, dir), string(filepath.Separator)) != 2 {
		t.Errorf("path %q should be exactly dir/agent/conv.jsonl", p)
	}
}

func TestJSONL_ConcurrentWrites(t *testing.T) {
	l, _ := NewJSONL(t.TempDir())
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Log(context.Background(), Entry{AgentID: "a", ConversationID: "c", Message: "m"})
		}()
	}
	wg.Wait()
	got, err := l.History(context.Background(), "a", "c")
	if err != nil || len(got) != 20 {
		t.Errorf("History = %d entries, %v", len(got), err)
	}
}

func TestNewJSONL_RequiresDir(t *testing.T) {
	if _, err := NewJSONL(""); err == nil {
		t.Fatal("expected error")
	}
}

// --- DB tests ---

func TestDB(t *testing.T) {
	exerciseLogger(t, newDBLogger(t))
}

func TestNewDB_RequiresDB(t *testing.T) {
	if _, err := NewDB(nil); err == nil {
		t.Fatal("expected error")
	}
}

// --- Open tests ---

func TestOpen(t *testing.T) {
	if l, err := Open(config.LogConfig{Sink: "jsonl", ConversationDir: t.TempDir()}, nil); err != nil {
		t.Errorf("jsonl: %v", err)
	} else if _, ok := l.(*JSONL); !ok {
		t.Errorf("jsonl = %T", l)
	}
	if l, err := Open(config.LogConfig{Sink: "none"}, nil); err != nil || l == nil {
		t.Errorf("none = %v, %v", l, err)
	}
	if _, err := Open(config.LogConfig{Sink: "db"}, nil); err == nil {
		t.Error("db without gorm should fail")
	}
	if _, err := Open(config.LogConfig{Sink: "kafka"}, nil); err == nil {
		t.Error("unknown sink should fail")
	}
}
