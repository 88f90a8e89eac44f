package main

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestDBCmd_Help(t *testing.T) {
	out, err := run(t, "db", "--help")
	if err != nil {
		t.Fatalf("db --help failed: %v", err)
	}
	if !strings.Contains(out, "Database management") {
		t.Errorf("expected help to mention 'Database management', got: %s", out)
	}
	if !strings.Contains(out, "migrate") {
		t.Errorf("expected help to list 'migrate' subcommand, got: %s", out)
	}
}

func TestDBMigrateCmd_Help(t *testing.T) {
	out, err := run(t, "db", "migrate", "--help")
	if err != nil {
		t.Fatalf("db migrate --help failed: %v", err)
	}
	if !strings.Contains(out, "--config") {
		t.Errorf("expected help to mention '--config' flag, got: %s", out)
	}
	if !strings.Contains(out, "junction.yaml") {
		t.Errorf("expected default config path 'junction.yaml', got: %s", out)
	}
}

func TestDBMigrateCmd_MissingConfig(t *testing.T) {
	_, err := run(t, "db", "migrate", "--config", "/nonexistent/junction.yaml")
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
	if !strings.Contains(err.Error(), "load config") {
		t.Errorf("expected 'load config' error, got: %v", err)
	}
}

func TestDBMigrateCmd_FileBackend(t *testing.T) {
	path := writeConfig(t, "")
	_, err := run(t, "db", "migrate", "--config", path)
	if err == nil {
		t.Fatal("expected error for non-SQL backend")
	}
	if !strings.Contains(err.Error(), "not a SQL backend") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestDBMigrateCmd_SQLite(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "junction.db")
	path := writeConfigBody(t, "agent:\n  id: agent_a\ndirectory:\n  backend: sqlite\n  path: "+dbPath+"\nlog:\n  sink: none\n")

	out, err := run(t, "db", "migrate", "--config", path)
	if err != nil {
		t.Fatalf("db migrate: %v\n%s", err, out)
	}
	if !strings.Contains(out, `agent "agent_a"`) {
		t.Errorf("expected loaded-config line, got: %s", out)
	}
	if !strings.Contains(out, "Migrated 3 tables (sqlite)") {
		t.Errorf("expected migrated line, got: %s", out)
	}
}
