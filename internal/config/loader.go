package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "CIRECOVER_"

	// LocalConfigFile is looked up in the working directory when no path is given.
	LocalConfigFile = ".cirecover.yaml"
)

// LoadWithFile loads configuration from a YAML file, then overrides with
// environment variables.
//
// Configuration precedence (highest to lowest):
//  1. CIRECOVER_* environment variables (CIRECOVER_CHAIN_MAX_ITERATIONS, ...)
//  2. YAML config file
//  3. GitHub Actions environment (GITHUB_TOKEN, GITHUB_REPOSITORY, GITHUB_REF_NAME)
//  4. Hardcoded defaults
//
// When configPath is empty, ./.cirecover.yaml is used if present, otherwise
// ~/.config/cirecover/config.yaml. A missing file is not an error.
//
// # Security Considerations
//
// File Permissions: the file must not be group or world writable. Files that
// carry secrets should be 0600.
//
// Path Validation: only files in the working directory, ~/.config/cirecover/
// or /etc/cirecover/ are loaded. Symlinks are resolved before the check.
//
// File Size Limit: files larger than 1MB are rejected.
//
// # Environment Variable Mapping
//
// The prefix is stripped and the rest is split on the first underscore:
//
//	CIRECOVER_CHAIN_MAX_ITERATIONS -> chain.max_iterations
//	CIRECOVER_GITHUB_TOKEN         -> github.token
//	CIRECOVER_FIX_ROOTS=web,api    -> fix.roots = [web api]
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		var err error
		configPath, err = defaultConfigPath()
		if err != nil {
			return nil, err
		}
	}

	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}
	if _, err := os.Stat(configPath); err == nil {
		// Open once and validate the descriptor to avoid a TOCTOU race.
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if err := validateConfigFileProperties(info); err != nil {
			return nil, fmt.Errorf("config file validation failed: %w", err)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", transformEnv), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := defaults()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyGitHubEnv(&cfg, os.Getenv)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// transformEnv maps CIRECOVER_SECTION_FIELD_NAME to section.field_name and
// splits list values.
func transformEnv(key, value string) (string, interface{}) {
	lower := strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) != 2 || parts[1] == "" {
		return "", nil
	}
	path := parts[0] + "." + parts[1]

	switch path {
	case "fix.roots", "fix.strategies":
		var items []string
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		return path, items
	case "fix.lint_command":
		return path, strings.Fields(value)
	}
	return path, value
}

// applyGitHubEnv fills unset repository settings from the variables GitHub
// Actions exports to every job.
func applyGitHubEnv(cfg *Config, getenv func(string) string) {
	if !cfg.GitHub.Token.IsSet() {
		cfg.GitHub.Token = Secret(getenv("GITHUB_TOKEN"))
	}
	if cfg.GitHub.Owner == "" && cfg.GitHub.Repo == "" {
		if owner, repo, ok := strings.Cut(getenv("GITHUB_REPOSITORY"), "/"); ok {
			cfg.GitHub.Owner, cfg.GitHub.Repo = owner, repo
		}
	}
	if cfg.GitHub.APIURL == "" {
		cfg.GitHub.APIURL = getenv("GITHUB_API_URL")
	}
	if cfg.Chain.Branch == "" {
		// GITHUB_HEAD_REF is the source branch of a pull request.
		if head := getenv("GITHUB_HEAD_REF"); head != "" {
			cfg.Chain.Branch = head
		} else {
			cfg.Chain.Branch = getenv("GITHUB_REF_NAME")
		}
	}
	if cfg.Store.Path == "" {
		if tmp := getenv("RUNNER_TEMP"); tmp != "" {
			cfg.Store.Path = filepath.Join(tmp, "cirecover", "knowledge.db")
		}
	}
	if cfg.Chain.ID == "" {
		if runID := getenv("GITHUB_RUN_ID"); runID != "" {
			cfg.Chain.ID = "gh-" + runID
			if attempt := getenv("GITHUB_RUN_ATTEMPT"); attempt != "" {
				cfg.Chain.ID += "-" + attempt
			}
		}
	}
}

func defaultStorePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "cirecover", "knowledge.db")
}

func defaultConfigPath() (string, error) {
	if _, err := os.Stat(LocalConfigFile); err == nil {
		return LocalConfigFile, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "cirecover", "config.yaml"), nil
}

// EnsureConfigDir creates the cirecover config directory with 0700 permissions.
func EnsureConfigDir() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	configDir := filepath.Join(home, ".config", "cirecover")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", configDir, err)
	}
	return nil
}

// validateConfigPath checks if path is in allowed directories.
// This validation runs even if the file doesn't exist yet.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	// Resolve symlinks so a link cannot escape the allowed directories.
	resolvedPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		resolvedPath = absPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}

	allowedDirs := []string{
		filepath.Join(home, ".config", "cirecover"),
		"/etc/cirecover",
		cwd,
	}
	for _, dir := range allowedDirs {
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			dir = resolved
		}
		rel, err := filepath.Rel(dir, resolvedPath)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return nil
		}
	}
	return fmt.Errorf("config file must be in the working directory, ~/.config/cirecover/ or /etc/cirecover/")
}

// validateConfigFileProperties checks file permissions and size.
// Takes FileInfo from an already-opened file descriptor to avoid TOCTOU race.
func validateConfigFileProperties(info os.FileInfo) error {
	// Skip on Windows (different permission model)
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm&0022 != 0 {
			return fmt.Errorf("insecure config file permissions: %v (must not be group or world writable)", perm)
		}
	}

	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}

// applyDefaults sets default values for fields left empty after loading.
func applyDefaults(cfg *Config) {
	d := defaults()

	if cfg.GitHub.RequestsPerSecond <= 0 {
		cfg.GitHub.RequestsPerSecond = d.GitHub.RequestsPerSecond
	}
	if cfg.GitHub.Burst <= 0 {
		cfg.GitHub.Burst = d.GitHub.Burst
	}
	if cfg.GitHub.RequestTimeout == 0 {
		cfg.GitHub.RequestTimeout = d.GitHub.RequestTimeout
	}

	if cfg.Chain.Trigger == "" {
		cfg.Chain.Trigger = d.Chain.Trigger
	}
	if cfg.Chain.LeaseTTL == 0 {
		cfg.Chain.LeaseTTL = d.Chain.LeaseTTL
	}

	if cfg.Monitor.PollInterval == 0 {
		cfg.Monitor.PollInterval = d.Monitor.PollInterval
	}
	if cfg.Monitor.MaxWait == 0 {
		cfg.Monitor.MaxWait = d.Monitor.MaxWait
	}
	if cfg.Monitor.RetryAttempts <= 0 {
		cfg.Monitor.RetryAttempts = d.Monitor.RetryAttempts
	}
	if cfg.Monitor.RetryBackoff == 0 {
		cfg.Monitor.RetryBackoff = d.Monitor.RetryBackoff
	}
	if cfg.Monitor.MaxLogBytes <= 0 {
		cfg.Monitor.MaxLogBytes = d.Monitor.MaxLogBytes
	}

	if cfg.Git.Path == "" {
		cfg.Git.Path = d.Git.Path
	}
	if cfg.Git.Remote == "" {
		cfg.Git.Remote = d.Git.Remote
	}
	if cfg.Git.AuthorName == "" {
		cfg.Git.AuthorName = d.Git.AuthorName
	}
	if cfg.Git.AuthorEmail == "" {
		cfg.Git.AuthorEmail = d.Git.AuthorEmail
	}
	if cfg.Git.Username == "" {
		cfg.Git.Username = d.Git.Username
	}
	if cfg.Git.MarkerPath == "" {
		cfg.Git.MarkerPath = d.Git.MarkerPath
	}

	if len(cfg.Fix.Roots) == 0 {
		cfg.Fix.Roots = []string{"."}
	}
	if len(cfg.Fix.Strategies) == 0 {
		cfg.Fix.Strategies = []string{"lint", "known-defect", "import-repair", "error-handling", "export-validation"}
	}
	if len(cfg.Fix.LintCommand) == 0 {
		cfg.Fix.LintCommand = []string{"npx", "--no-install", "eslint", "--fix", "."}
	}
	if cfg.Fix.KnownDefects == nil {
		cfg.Fix.KnownDefects = map[string]string{"BROKEN_TEXT_BUG": ""}
	}
	if cfg.Fix.StrategyTimeout == 0 {
		cfg.Fix.StrategyTimeout = d.Fix.StrategyTimeout
	}

	if cfg.Store.Path == "" {
		cfg.Store.Path = defaultStorePath()
	}

	if cfg.Notify.Timeout == 0 {
		cfg.Notify.Timeout = d.Notify.Timeout
	}
	if cfg.Notify.NATSSubject == "" {
		cfg.Notify.NATSSubject = d.Notify.NATSSubject
	}

	if cfg.Hooks.Timeout == 0 {
		cfg.Hooks.Timeout = d.Hooks.Timeout
	}

	if cfg.Server.Host == "" {
		cfg.Server.Host = d.Server.Host
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = d.Server.Port
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Temporal.HostPort == "" {
		cfg.Temporal.HostPort = d.Temporal.HostPort
	}
	if cfg.Temporal.Namespace == "" {
		cfg.Temporal.Namespace = d.Temporal.Namespace
	}
	if cfg.Temporal.TaskQueue == "" {
		cfg.Temporal.TaskQueue = d.Temporal.TaskQueue
	}

	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = d.Observability.ServiceName
	}
	if cfg.Observability.Protocol == "" {
		cfg.Observability.Protocol = d.Observability.Protocol
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = d.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = d.Log.Format
	}
}
