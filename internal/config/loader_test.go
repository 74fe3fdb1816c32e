package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

// setupTestHome points HOME at a temporary directory and clears every
// variable the loader reads so the host environment cannot leak in.
func setupTestHome(t *testing.T) (string, func()) {
	t.Helper()

	tmpHome := t.TempDir()
	originalHome := os.Getenv("HOME")
	os.Setenv("HOME", tmpHome)

	for _, key := range []string{
		"GITHUB_TOKEN", "GITHUB_REPOSITORY", "GITHUB_REF_NAME", "GITHUB_HEAD_REF",
		"GITHUB_RUN_ID", "GITHUB_RUN_ATTEMPT", "GITHUB_API_URL", "RUNNER_TEMP",
	} {
		t.Setenv(key, "")
	}
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, EnvPrefix) {
			key, _, _ := strings.Cut(kv, "=")
			t.Setenv(key, "")
			os.Unsetenv(key)
		}
	}

	cleanup := func() {
		if originalHome != "" {
			os.Setenv("HOME", originalHome)
		} else {
			os.Unsetenv("HOME")
		}
	}
	return tmpHome, cleanup
}

func writeUserConfig(t *testing.T, home, content string, perm os.FileMode) string {
	t.Helper()
	configDir := filepath.Join(home, ".config", "cirecover")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		t.Fatalf("Failed to create config dir: %v", err)
	}
	configPath := filepath.Join(configDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), perm); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	if err := os.Chmod(configPath, perm); err != nil {
		t.Fatalf("Failed to chmod test config: %v", err)
	}
	return configPath
}

func TestLoadWithFile_Defaults(t *testing.T) {
	_, cleanup := setupTestHome(t)
	defer cleanup()
	t.Chdir(t.TempDir())

	cfg, err := LoadWithFile("")
	if err != nil {
		t.Fatalf("LoadWithFile() error = %v, want nil", err)
	}

	if cfg.Chain.MaxIterations != 3 {
		t.Errorf("Chain.MaxIterations = %d, want 3", cfg.Chain.MaxIterations)
	}
	if cfg.Chain.Trigger != TriggerPush {
		t.Errorf("Chain.Trigger = %q, want push", cfg.Chain.Trigger)
	}
	if cfg.Monitor.PollInterval.Duration() != 30*time.Second {
		t.Errorf("Monitor.PollInterval = %v, want 30s", cfg.Monitor.PollInterval.Duration())
	}
	if got := cfg.Fix.KnownDefects["BROKEN_TEXT_BUG"]; got != "" {
		t.Errorf("KnownDefects[BROKEN_TEXT_BUG] = %q, want removal", got)
	}
	if _, ok := cfg.Fix.KnownDefects["BROKEN_TEXT_BUG"]; !ok {
		t.Error("default known defect missing")
	}
	if len(cfg.Fix.Strategies) != 5 {
		t.Errorf("Fix.Strategies = %v, want 5 defaults", cfg.Fix.Strategies)
	}

	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	store, err := filepath.Abs(cfg.Store.Path)
	if err != nil {
		t.Fatal(err)
	}
	if !filepath.IsAbs(cfg.Store.Path) || strings.HasPrefix(store, wd+string(filepath.Separator)) {
		t.Errorf("Store.Path = %q, want an absolute path outside %s", cfg.Store.Path, wd)
	}
}

func TestLoadWithFile_ValidYAML(t *testing.T) {
	home, cleanup := setupTestHome(t)
	defer cleanup()

	configPath := writeUserConfig(t, home, `github:
  owner: acme
  repo: web
  workflow: ci.yml
chain:
  branch: main
  max_iterations: 0
  trigger: dispatch
monitor:
  poll_interval: 45s
fix:
  strategies: [known-defect]
  known_defects:
    FIXME_TOKEN: ""
`, 0600)

	cfg, err := LoadWithFile(configPath)
	if err != nil {
		t.Fatalf("LoadWithFile() error = %v, want nil", err)
	}

	if cfg.GitHub.Owner != "acme" || cfg.GitHub.Repo != "web" {
		t.Errorf("GitHub = %s/%s, want acme/web", cfg.GitHub.Owner, cfg.GitHub.Repo)
	}
	if cfg.Chain.MaxIterations != 0 {
		t.Errorf("Chain.MaxIterations = %d, want explicit 0", cfg.Chain.MaxIterations)
	}
	if cfg.Chain.Trigger != TriggerDispatch {
		t.Errorf("Chain.Trigger = %q, want dispatch", cfg.Chain.Trigger)
	}
	if cfg.Monitor.PollInterval.Duration() != 45*time.Second {
		t.Errorf("Monitor.PollInterval = %v, want 45s", cfg.Monitor.PollInterval.Duration())
	}
	if len(cfg.Fix.Strategies) != 1 || cfg.Fix.Strategies[0] != "known-defect" {
		t.Errorf("Fix.Strategies = %v, want [known-defect]", cfg.Fix.Strategies)
	}
	if _, ok := cfg.Fix.KnownDefects["BROKEN_TEXT_BUG"]; ok {
		t.Error("configured known_defects should replace the default set")
	}
}

func TestLoadWithFile_EnvironmentOverride(t *testing.T) {
	home, cleanup := setupTestHome(t)
	defer cleanup()

	configPath := writeUserConfig(t, home, "chain:\n  max_iterations: 2\n", 0600)
	t.Setenv("CIRECOVER_CHAIN_MAX_ITERATIONS", "5")
	t.Setenv("CIRECOVER_GITHUB_TOKEN", "ghp_fromenv")
	t.Setenv("CIRECOVER_MONITOR_GRACE", "1m")
	t.Setenv("CIRECOVER_FIX_ROOTS", "web, api")
	t.Setenv("CIRECOVER_FIX_LINT_COMMAND", "pnpm eslint --fix .")

	cfg, err := LoadWithFile(configPath)
	if err != nil {
		t.Fatalf("LoadWithFile() error = %v, want nil", err)
	}

	if cfg.Chain.MaxIterations != 5 {
		t.Errorf("Chain.MaxIterations = %d, want 5 (env override)", cfg.Chain.MaxIterations)
	}
	if cfg.GitHub.Token.Value() != "ghp_fromenv" {
		t.Error("GitHub.Token not loaded from environment")
	}
	if cfg.Monitor.Grace.Duration() != time.Minute {
		t.Errorf("Monitor.Grace = %v, want 1m", cfg.Monitor.Grace.Duration())
	}
	if strings.Join(cfg.Fix.Roots, "|") != "web|api" {
		t.Errorf("Fix.Roots = %v, want [web api]", cfg.Fix.Roots)
	}
	if strings.Join(cfg.Fix.LintCommand, " ") != "pnpm eslint --fix ." {
		t.Errorf("Fix.LintCommand = %v", cfg.Fix.LintCommand)
	}
}

func TestLoadWithFile_GitHubActionsFallbacks(t *testing.T) {
	_, cleanup := setupTestHome(t)
	defer cleanup()
	t.Chdir(t.TempDir())

	t.Setenv("GITHUB_TOKEN", "ghs_actions")
	t.Setenv("GITHUB_REPOSITORY", "acme/web")
	t.Setenv("GITHUB_REF_NAME", "feature/x")
	t.Setenv("GITHUB_RUN_ID", "991")
	t.Setenv("GITHUB_RUN_ATTEMPT", "2")
	runnerTemp := t.TempDir()
	t.Setenv("RUNNER_TEMP", runnerTemp)

	cfg, err := LoadWithFile("")
	if err != nil {
		t.Fatalf("LoadWithFile() error = %v, want nil", err)
	}

	if cfg.GitHub.Token.Value() != "ghs_actions" {
		t.Error("GITHUB_TOKEN fallback not applied")
	}
	if cfg.GitHub.Owner != "acme" || cfg.GitHub.Repo != "web" {
		t.Errorf("GITHUB_REPOSITORY fallback = %s/%s", cfg.GitHub.Owner, cfg.GitHub.Repo)
	}
	if cfg.Chain.Branch != "feature/x" {
		t.Errorf("Chain.Branch = %q, want feature/x", cfg.Chain.Branch)
	}
	if cfg.Chain.ID != "gh-991-2" {
		t.Errorf("Chain.ID = %q, want gh-991-2", cfg.Chain.ID)
	}
	if want := filepath.Join(runnerTemp, "cirecover", "knowledge.db"); cfg.Store.Path != want {
		t.Errorf("Store.Path = %q, want %q", cfg.Store.Path, want)
	}
	if err := cfg.ValidateForRun(); err != nil {
		t.Errorf("ValidateForRun() = %v, want nil", err)
	}
}

func TestLoadWithFile_LocalConfigFile(t *testing.T) {
	_, cleanup := setupTestHome(t)
	defer cleanup()
	dir := t.TempDir()
	t.Chdir(dir)

	if err := os.WriteFile(filepath.Join(dir, LocalConfigFile), []byte("chain:\n  branch: release\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadWithFile("")
	if err != nil {
		t.Fatalf("LoadWithFile() error = %v, want nil", err)
	}
	if cfg.Chain.Branch != "release" {
		t.Errorf("Chain.Branch = %q, want release", cfg.Chain.Branch)
	}
}

func TestLoadWithFile_MissingFile(t *testing.T) {
	home, cleanup := setupTestHome(t)
	defer cleanup()

	cfg, err := LoadWithFile(filepath.Join(home, ".config", "cirecover", "nonexistent.yaml"))
	if err != nil {
		t.Fatalf("LoadWithFile() with missing file error = %v, want nil", err)
	}
	if cfg.Server.Port != 9191 {
		t.Errorf("Server.Port = %d, want default 9191", cfg.Server.Port)
	}
}

func TestLoadWithFile_InvalidYAML(t *testing.T) {
	home, cleanup := setupTestHome(t)
	defer cleanup()

	configPath := writeUserConfig(t, home, "chain:\n  max_iterations: [unclosed\n", 0600)

	if _, err := LoadWithFile(configPath); err == nil {
		t.Error("LoadWithFile() with invalid YAML should return error")
	}
}

func TestLoadWithFile_Validation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"too many iterations", "chain:\n  max_iterations: 21\n"},
		{"negative iterations", "chain:\n  max_iterations: -1\n"},
		{"unknown trigger", "chain:\n  trigger: webhook\n"},
		{"dispatch without workflow", "chain:\n  trigger: dispatch\n"},
		{"max wait below poll", "monitor:\n  poll_interval: 1m\n  max_wait: 10s\n"},
		{"slack without channel", "notify:\n  slack_token: xoxb-1\n"},
		{"bad port", "server:\n  port: 70000\n"},
		{"lease shorter than a poll", "chain:\n  lease_ttl: 30m\n"},
		{"max wait outgrows the lease", "monitor:\n  max_wait: 3h\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			home, cleanup := setupTestHome(t)
			defer cleanup()
			configPath := writeUserConfig(t, home, tt.yaml, 0600)

			if _, err := LoadWithFile(configPath); err == nil {
				t.Errorf("LoadWithFile() should reject %s", tt.name)
			}
		})
	}
}

func TestLoadWithFile_LeaseCoversLongestStep(t *testing.T) {
	home, cleanup := setupTestHome(t)
	defer cleanup()
	configPath := writeUserConfig(t, home, "monitor:\n  max_wait: 3h\n  grace: 1m\nchain:\n  lease_ttl: 3h17m\n", 0600)

	cfg, err := LoadWithFile(configPath)
	if err != nil {
		t.Fatalf("LoadWithFile() error = %v, want nil", err)
	}
	if cfg.Chain.LeaseTTL.Duration() != 3*time.Hour+17*time.Minute {
		t.Errorf("Chain.LeaseTTL = %v, want 3h17m", cfg.Chain.LeaseTTL.Duration())
	}
}

func TestLoadWithFile_InsecurePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission model differs on windows")
	}
	home, cleanup := setupTestHome(t)
	defer cleanup()

	for _, perm := range []os.FileMode{0666, 0620, 0602} {
		configPath := writeUserConfig(t, home, "chain:\n  branch: main\n", perm)
		if _, err := LoadWithFile(configPath); err == nil {
			t.Errorf("LoadWithFile() should reject permissions %v", perm)
		}
	}
}

func TestLoadWithFile_FileTooLarge(t *testing.T) {
	home, cleanup := setupTestHome(t)
	defer cleanup()

	content := "# " + strings.Repeat("x", maxConfigFileSize) + "\n"
	configPath := writeUserConfig(t, home, content, 0600)

	_, err := LoadWithFile(configPath)
	if err == nil || !strings.Contains(err.Error(), "too large") {
		t.Errorf("LoadWithFile() error = %v, want too large", err)
	}
}

func TestConfig_ValidateForRun(t *testing.T) {
	cfg := Default()
	err := cfg.ValidateForRun()
	if err == nil {
		t.Fatal("ValidateForRun() on empty config should fail")
	}
	for _, want := range []string{"github.token", "github.owner/github.repo", "chain.branch", "chain.id"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q should mention %s", err, want)
		}
	}
}

func TestConfig_PushToken(t *testing.T) {
	cfg := Default()
	cfg.GitHub.Token = "api"
	if cfg.PushToken().Value() != "api" {
		t.Error("PushToken should fall back to github.token")
	}
	cfg.Git.Token = "push"
	if cfg.PushToken().Value() != "push" {
		t.Error("PushToken should prefer git.token")
	}
}
