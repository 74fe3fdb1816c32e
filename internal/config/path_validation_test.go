package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidateConfigPath_RejectsPathTraversal(t *testing.T) {
	home, cleanup := setupTestHome(t)
	defer cleanup()

	tests := []struct {
		name string
		path string
	}{
		{"sibling prefix", "/etc/cirecover../etc/passwd"},
		{"escape from config dir", filepath.Join(home, ".config", "cirecover", "..", "..", "..", "etc", "passwd")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := validateConfigPath(tt.path); err == nil {
				t.Errorf("Expected error for path traversal attempt: %s", tt.path)
			}
		})
	}
}

func TestValidateConfigPath_AllowsValidPaths(t *testing.T) {
	home, cleanup := setupTestHome(t)
	defer cleanup()
	t.Chdir(t.TempDir())

	validPaths := []string{
		filepath.Join(home, ".config", "cirecover", "config.yaml"),
		filepath.Join(home, ".config", "cirecover", "subdir", "config.yaml"),
		"/etc/cirecover/config.yaml",
		LocalConfigFile,
		filepath.Join("ci", "cirecover.yaml"),
	}

	for _, path := range validPaths {
		t.Run(path, func(t *testing.T) {
			if err := validateConfigPath(path); err != nil {
				t.Errorf("Valid path rejected: %s, error: %v", path, err)
			}
		})
	}
}

func TestValidateConfigPath_RejectsOutsideAllowedDirs(t *testing.T) {
	_, cleanup := setupTestHome(t)
	defer cleanup()
	t.Chdir(t.TempDir())

	invalidPaths := []string{
		"/etc/passwd",
		"/var/lib/cirecover/config.yaml",
		filepath.Join("..", "config.yaml"),
	}

	for _, path := range invalidPaths {
		t.Run(path, func(t *testing.T) {
			if err := validateConfigPath(path); err == nil {
				t.Errorf("Path outside allowed directories should be rejected: %s", path)
			}
		})
	}
}

func TestValidateConfigPath_FollowsSymlinks(t *testing.T) {
	home, cleanup := setupTestHome(t)
	defer cleanup()
	t.Chdir(t.TempDir())

	outside := filepath.Join(t.TempDir(), "secret.yaml")
	if err := os.WriteFile(outside, []byte("x: 1"), 0600); err != nil {
		t.Fatal(err)
	}
	configDir := filepath.Join(home, ".config", "cirecover")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(configDir, "config.yaml")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	if err := validateConfigPath(link); err == nil {
		t.Error("symlink escaping the config directory should be rejected")
	}
}
