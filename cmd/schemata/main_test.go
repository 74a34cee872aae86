package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/schemata/internal/migrations"
	"github.com/spf13/cobra"
)

func TestReadSnapshotArgumentAcceptsBothFormats(t *testing.T) {
	dir := t.TempDir()
	arrayPath := filepath.Join(dir, "array.json")
	if err := os.WriteFile(arrayPath, []byte(`[{"id":"tags0000000001","name":"tags","type":"base","system":false,"schema":[],"indexes":[],"listRule":null,"viewRule":null,"createRule":null,"updateRule":null,"deleteRule":null,"options":{}}]`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	snapshot, err := readSnapshotArgument(&cobra.Command{}, arrayPath)
	if err != nil || snapshot.Len() != 1 {
		t.Fatalf("expected one collection from array, got %d, %v", snapshot.Len(), err)
	}

	builtin := filepath.Join("..", "..", "internal", "migrations", "snapshots", "1702695322_collections_snapshot.json")
	snapshot, err = readSnapshotArgument(&cobra.Command{}, builtin)
	if err != nil || snapshot.Len() != 3 {
		t.Fatalf("expected three collections from a snapshot migration, got %d, %v", snapshot.Len(), err)
	}

	badPath := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(badPath, []byte(`{"name":"x"}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := readSnapshotArgument(&cobra.Command{}, badPath); err == nil {
		t.Fatalf("expected an error for an unrecognised document")
	}
}

func TestPrintStatuses(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)

	err := printStatuses(cmd, []migrations.Status{
		{Name: "1702695322_collections_snapshot", Sequence: 1702695322, Applied: true, AppliedAt: now.Add(-2 * time.Hour), Registered: true},
		{Name: "1750000000_collections_snapshot", Sequence: 1750000000, Registered: true},
		{Name: "1600000000_removed", Sequence: 1600000000, Applied: true, AppliedAt: now.Add(-72 * time.Hour)},
	}, now)
	if err != nil {
		t.Fatalf("print: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header and three rows, got %q", out.String())
	}
	if !strings.Contains(lines[1], "applied") || !strings.Contains(lines[1], "2 hours ago") {
		t.Fatalf("unexpected applied row %q", lines[1])
	}
	if !strings.Contains(lines[2], "pending") {
		t.Fatalf("unexpected pending row %q", lines[2])
	}
	if !strings.Contains(lines[3], "(unregistered)") {
		t.Fatalf("unexpected unregistered row %q", lines[3])
	}
}
