package platform

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEnsureDirectories(t *testing.T) {
	root := t.TempDir()
	logs := filepath.Join(root, "logs")
	bin := filepath.Join(root, "bin", "nested")

	if err := EnsureDirectories(logs, "", bin); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	for _, dir := range []string{logs, bin} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("%s not created: %v", dir, err)
		}
	}
	// Existing directories are fine.
	if err := EnsureDirectories(logs); err != nil {
		t.Errorf("second call: %v", err)
	}
}

func TestEnsureDirectoriesFileInTheWay(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "taken")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := EnsureDirectories(filepath.Join(file, "sub")); err == nil {
		t.Fatal("expected an error when a file blocks the path")
	}
}

func TestGetProcessNameForCheck(t *testing.T) {
	if GetProcessNameForCheck() == "" || GetExecutableName() == "" {
		t.Fatal("engine names must not be empty")
	}
}
