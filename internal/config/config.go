// Package config provides configuration loading for cirecover.
//
// Configuration is built once at the entry point and passed down explicitly.
// Components below the command layer never read the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// MaxIterationsLimit is the largest accepted chain.max_iterations.
const MaxIterationsLimit = 20

// LeaseMargin is how much chain.lease_ttl must exceed the longest wait of a
// single chain step. The controller renews the lease between steps.
const LeaseMargin = 15 * time.Minute

// Trigger modes.
const (
	TriggerPush     = "push"
	TriggerDispatch = "dispatch"
)

// Config holds the complete cirecover configuration.
type Config struct {
	GitHub        GitHubConfig        `koanf:"github"`
	Chain         ChainConfig         `koanf:"chain"`
	Monitor       MonitorConfig       `koanf:"monitor"`
	Git           GitConfig           `koanf:"git"`
	Fix           FixConfig           `koanf:"fix"`
	Store         StoreConfig         `koanf:"store"`
	Notify        NotifyConfig        `koanf:"notify"`
	Secrets       SecretsConfig       `koanf:"secrets"`
	Hooks         HooksConfig         `koanf:"hooks"`
	Server        ServerConfig        `koanf:"server"`
	Temporal      TemporalConfig      `koanf:"temporal"`
	Observability ObservabilityConfig `koanf:"observability"`
	Log           LogConfig           `koanf:"log"`
}

// GitHubConfig identifies the repository and workflow under recovery.
type GitHubConfig struct {
	Token             Secret   `koanf:"token"`
	Owner             string   `koanf:"owner"`
	Repo              string   `koanf:"repo"`
	Workflow          string   `koanf:"workflow"` // workflow file name, e.g. ci.yml
	APIURL            string   `koanf:"api_url"`
	RequestsPerSecond float64  `koanf:"requests_per_second"`
	Burst             int      `koanf:"burst"`
	RequestTimeout    Duration `koanf:"request_timeout"`
}

// ChainConfig bounds one run chain.
type ChainConfig struct {
	ID            string   `koanf:"id"`
	Branch        string   `koanf:"branch"`
	MaxIterations int      `koanf:"max_iterations"`
	Trigger       string   `koanf:"trigger"` // push or dispatch
	LeaseTTL      Duration `koanf:"lease_ttl"`
}

// MonitorConfig controls polling of CI runs.
type MonitorConfig struct {
	PollInterval  Duration `koanf:"poll_interval"`
	MaxWait       Duration `koanf:"max_wait"`
	Grace         Duration `koanf:"grace"`
	RetryAttempts int      `koanf:"retry_attempts"`
	RetryBackoff  Duration `koanf:"retry_backoff"`
	MaxLogBytes   int64    `koanf:"max_log_bytes"`
}

// GitConfig controls the working tree and push identity.
type GitConfig struct {
	Path        string `koanf:"path"`
	Remote      string `koanf:"remote"`
	AuthorName  string `koanf:"author_name"`
	AuthorEmail string `koanf:"author_email"`
	// Username for HTTPS push. GitHub accepts any non-empty user with a token.
	Username string `koanf:"username"`
	// Token for HTTPS push. Falls back to github.token.
	Token      Secret `koanf:"token"`
	MarkerPath string `koanf:"marker_path"`
}

// FixConfig controls the fix applicator.
type FixConfig struct {
	Roots           []string          `koanf:"roots"`
	Strategies      []string          `koanf:"strategies"`
	LintCommand     []string          `koanf:"lint_command"`
	KnownDefects    map[string]string `koanf:"known_defects"`
	StrategyTimeout Duration          `koanf:"strategy_timeout"`
}

// StoreConfig locates the recovery knowledge store. The default path is
// outside the work tree: $RUNNER_TEMP/cirecover on GitHub Actions, the
// user cache directory elsewhere.
type StoreConfig struct {
	Path string `koanf:"path"`
}

// NotifyConfig selects notification transports. The log transport is always on.
type NotifyConfig struct {
	Timeout      Duration `koanf:"timeout"`
	SlackToken   Secret   `koanf:"slack_token"`
	SlackChannel string   `koanf:"slack_channel"`
	SlackAPIURL  string   `koanf:"slack_api_url"`
	NATSURL      string   `koanf:"nats_url"`
	NATSSubject  string   `koanf:"nats_subject"`
}

// SecretsConfig controls scrubbing of failure text before it is stored or
// published.
type SecretsConfig struct {
	Enabled       bool   `koanf:"enabled"`
	Gitleaks      bool   `koanf:"gitleaks"`
	AllowlistFile string `koanf:"allowlist_file"`
}

// HooksConfig lists commands run on chain lifecycle events.
type HooksConfig struct {
	Commands []HookCommand `koanf:"commands"`
	Timeout  Duration      `koanf:"timeout"`
}

// HookCommand runs Run when the On event fires (chain_start, transition,
// iteration or chain_end).
type HookCommand struct {
	On  string   `koanf:"on"`
	Run []string `koanf:"run"`
}

// ServerConfig holds guide API server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// TemporalConfig enables hosting chains as Temporal workflows.
type TemporalConfig struct {
	Enabled   bool   `koanf:"enabled"`
	HostPort  string `koanf:"host_port"`
	Namespace string `koanf:"namespace"`
	TaskQueue string `koanf:"task_queue"`
}

// ObservabilityConfig holds OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool   `koanf:"enable_telemetry"`
	Endpoint        string `koanf:"endpoint"`
	Protocol        string `koanf:"protocol"` // grpc or http/protobuf
	Insecure        bool   `koanf:"insecure"`
	TLSSkipVerify   bool   `koanf:"tls_skip_verify"`
	ServiceName     string `koanf:"service_name"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Default returns a configuration with every default applied.
func Default() Config {
	cfg := defaults()
	applyDefaults(&cfg)
	return cfg
}

// defaults returns the scalar defaults. Slices and maps are filled by
// applyDefaults after unmarshaling so configured lists replace them whole.
func defaults() Config {
	return Config{
		GitHub: GitHubConfig{
			RequestsPerSecond: 1,
			Burst:             5,
			RequestTimeout:    Duration(30 * time.Second),
		},
		Chain: ChainConfig{
			MaxIterations: 3,
			Trigger:       TriggerPush,
			LeaseTTL:      Duration(2 * time.Hour),
		},
		Monitor: MonitorConfig{
			PollInterval:  Duration(30 * time.Second),
			MaxWait:       Duration(time.Hour),
			Grace:         Duration(20 * time.Second),
			RetryAttempts: 3,
			RetryBackoff:  Duration(5 * time.Second),
			MaxLogBytes:   32 * 1024 * 1024,
		},
		Git: GitConfig{
			Path:        ".",
			Remote:      "origin",
			AuthorName:  "cirecover",
			AuthorEmail: "cirecover@users.noreply.github.com",
			Username:    "x-access-token",
			MarkerPath:  ".cirecover/version",
		},
		Fix: FixConfig{
			StrategyTimeout: Duration(5 * time.Minute),
		},
		Notify: NotifyConfig{
			Timeout:     Duration(10 * time.Second),
			NATSSubject: "cirecover.events",
		},
		Secrets: SecretsConfig{
			Enabled:       true,
			Gitleaks:      true,
			AllowlistFile: ".gitleaks.toml",
		},
		Hooks: HooksConfig{
			Timeout: Duration(30 * time.Second),
		},
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            9191,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Temporal: TemporalConfig{
			HostPort:  "localhost:7233",
			Namespace: "default",
			TaskQueue: "cirecover-chains",
		},
		Observability: ObservabilityConfig{
			Endpoint:    "localhost:4317",
			Protocol:    "grpc",
			Insecure:    true,
			ServiceName: "cirecover",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate validates the configuration shared by every command.
//
// Returns an error if:
//   - max_iterations is outside [0, 20]
//   - the trigger mode is unknown, or dispatch has no workflow
//   - a polling interval is not positive
//   - the server port is not between 1 and 65535
func (c *Config) Validate() error {
	if c.Chain.MaxIterations < 0 || c.Chain.MaxIterations > MaxIterationsLimit {
		return fmt.Errorf("chain.max_iterations must be between 0 and %d, got %d", MaxIterationsLimit, c.Chain.MaxIterations)
	}

	switch c.Chain.Trigger {
	case TriggerPush:
	case TriggerDispatch:
		if c.GitHub.Workflow == "" {
			return errors.New("chain.trigger dispatch requires github.workflow")
		}
	default:
		return fmt.Errorf("invalid chain.trigger %q (expected %s or %s)", c.Chain.Trigger, TriggerPush, TriggerDispatch)
	}

	if c.Monitor.PollInterval.Duration() <= 0 {
		return errors.New("monitor.poll_interval must be positive")
	}
	if c.Monitor.MaxWait.Duration() < c.Monitor.PollInterval.Duration() {
		return errors.New("monitor.max_wait must be at least monitor.poll_interval")
	}

	longestStep := c.Monitor.MaxWait.Duration() + 2*c.Monitor.Grace.Duration()
	if c.Chain.LeaseTTL.Duration() < longestStep+LeaseMargin {
		return fmt.Errorf("chain.lease_ttl must be at least %s (monitor.max_wait + 2*monitor.grace + %s), got %s",
			longestStep+LeaseMargin, LeaseMargin, c.Chain.LeaseTTL.Duration())
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}

	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}

	if c.Notify.SlackToken.IsSet() && c.Notify.SlackChannel == "" {
		return errors.New("notify.slack_channel required when notify.slack_token is set")
	}

	for i, h := range c.Hooks.Commands {
		if len(h.Run) == 0 {
			return fmt.Errorf("hooks.commands[%d].run is empty", i)
		}
	}

	return nil
}

// ValidateForRun checks the settings a recovery run needs on top of Validate.
func (c *Config) ValidateForRun() error {
	var missing []string
	if !c.GitHub.Token.IsSet() {
		missing = append(missing, "github.token")
	}
	if c.GitHub.Owner == "" || c.GitHub.Repo == "" {
		missing = append(missing, "github.owner/github.repo")
	}
	if c.Chain.Branch == "" {
		missing = append(missing, "chain.branch")
	}
	if c.Chain.ID == "" {
		missing = append(missing, "chain.id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}
	return nil
}

// PushToken returns the credential used for git push.
func (c *Config) PushToken() Secret {
	if c.Git.Token.IsSet() {
		return c.Git.Token
	}
	return c.GitHub.Token
}
