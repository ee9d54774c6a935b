package state

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPrefsRoundTrip(t *testing.T) {
	dir := t.TempDir()

	m := NewManager(dir)
	if err := m.SetAutoConfirm("s1", true); err != nil {
		t.Fatalf("SetAutoConfirm: %v", err)
	}
	if err := m.SetModel("s1", "llama3.1:8b"); err != nil {
		t.Fatalf("SetModel: %v", err)
	}

	reloaded := NewManager(dir)
	prefs := reloaded.Get("s1")
	if prefs.AutoConfirm == nil || !*prefs.AutoConfirm {
		t.Fatalf("auto_confirm = %v", prefs.AutoConfirm)
	}
	if prefs.Model != "llama3.1:8b" {
		t.Fatalf("model = %q", prefs.Model)
	}
	if other := reloaded.Get("s2"); other.AutoConfirm != nil || other.Model != "" {
		t.Fatalf("unset session returned %+v", other)
	}
}

func TestSaveLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)
	if err := m.SetModel("s1", "qwen2:7b"); err != nil {
		t.Fatalf("SetModel: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".tmp") {
			t.Fatalf("temp file left behind: %s", entry.Name())
		}
	}
}

func TestCorruptStateFileStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "state.json"), []byte("{broken"), 0644); err != nil {
		t.Fatal(err)
	}

	m := NewManager(dir)
	if prefs := m.Get("s1"); prefs.Model != "" {
		t.Fatalf("prefs from corrupt file: %+v", prefs)
	}
	if err := m.SetModel("s1", "llama3.1:8b"); err != nil {
		t.Fatalf("SetModel after corrupt load: %v", err)
	}
}
