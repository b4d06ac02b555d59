package runlog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteAndRead(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, 5)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer w.Close()

	if err := w.Write("RuntimeError: boom"); err != nil {
		t.Fatalf("Write: %v", err)
	}

	data, err := os.ReadFile(w.Path())
	if err != nil {
		t.Fatalf("reading run log: %v", err)
	}
	if !strings.Contains(string(data), "RuntimeError: boom") {
		t.Errorf("line missing from run log: %q", string(data))
	}
}

func TestPruneKeepsNewest(t *testing.T) {
	dir := t.TempDir()

	// Seed five fake older runs.
	for _, stamp := range []string{"20260801-100000", "20260801-110000", "20260801-120000", "20260801-130000", "20260801-140000"} {
		name := filePrefix + stamp + ".log"
		if err := os.WriteFile(filepath.Join(dir, name), []byte("old\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	w, err := Open(dir, 3)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer w.Close()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 run files after pruning, got %d", len(entries))
	}

	// The newest file is the one just opened.
	names := make([]string, 0, 3)
	for _, e := range entries {
		names = append(names, e.Name())
	}
	if !contains(names, filepath.Base(w.Path())) {
		t.Errorf("current run file was pruned: %v", names)
	}
	if contains(names, filePrefix+"20260801-100000.log") {
		t.Errorf("oldest file should have been pruned: %v", names)
	}
}

func TestPruneDisabled(t *testing.T) {
	dir := t.TempDir()
	for _, stamp := range []string{"20260801-100000", "20260801-110000"} {
		if err := os.WriteFile(filepath.Join(dir, filePrefix+stamp+".log"), []byte("old\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	w, err := Open(dir, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer w.Close()

	entries, _ := os.ReadDir(dir)
	if len(entries) != 3 {
		t.Errorf("pruning disabled should keep all files, got %d", len(entries))
	}
}

func contains(names []string, want string) bool {
	for _, n := range names {
		if n == want {
			return true
		}
	}
	return false
}
