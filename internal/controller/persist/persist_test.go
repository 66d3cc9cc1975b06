package persist

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type document struct {
	Name  string   `json:"name"`
	Items []string `json:"items"`
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json")
	want := document{Name: "relay", Items: []string{"a", "b"}}

	if err := Save(path, want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	var got document
	if err := Load(path, &got); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Name != want.Name || len(got.Items) != 2 {
		t.Errorf("round trip = %+v, want %+v", got, want)
	}
}

func TestLoadMissingFileYieldsZeroValue(t *testing.T) {
	var got document
	if err := Load(filepath.Join(t.TempDir(), "absent.json"), &got); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Name != "" || got.Items != nil {
		t.Errorf("expected zero value, got %+v", got)
	}
}

func TestSaveRemovesBackupOnSuccess(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "schedule.json")

	if err := Save(path, document{Name: "first"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := Save(path, document{Name: "second"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".bak") {
			t.Errorf("backup %s left behind after successful save", e.Name())
		}
	}

	var got document
	if err := Load(path, &got); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Name != "second" {
		t.Errorf("name = %q, want %q", got.Name, "second")
	}
}

func TestSaveRestoresBackupOnFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "queue.json")

	if err := Save(path, document{Name: "good"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// A value JSON cannot encode forces the failure before any file
	// operation; the original must survive untouched.
	if err := Save(path, make(chan int)); err == nil {
		t.Fatal("expected an encoding error")
	}

	var got document
	if err := Load(path, &got); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Name != "good" {
		t.Errorf("name = %q, want %q (original state lost)", got.Name, "good")
	}
}

func TestLoadRejectsCorruptDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.json")
	if err := os.WriteFile(path, []byte("{truncated"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	var got document
	if err := Load(path, &got); err == nil {
		t.Fatal("expected a decode error")
	}
}
