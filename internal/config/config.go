package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir    string `toml:"data_dir"`
	LogDir     string `toml:"log_dir"`
	WorkersDir string `toml:"workers_dir"`
	APIBind    string `toml:"api_bind"`
	APIToken   string `toml:"api_token"`
}

// Pipeline contains orchestration timing, retry, and variant settings.
type Pipeline struct {
	// Variant selects the stage graph: "full" includes the respond stage,
	// "lean" omits it.
	Variant               string `toml:"variant"`
	StageTimeout          int    `toml:"stage_timeout"`
	RetryLimit            int    `toml:"retry_limit"`
	StuckThresholdMinutes int    `toml:"stuck_threshold_minutes"`
	KillGraceSeconds      int    `toml:"kill_grace_seconds"`
}

// Budget contains quota planning settings for the discovery stage.
type Budget struct {
	// PeriodLimit is the hard external-API call limit per accounting period.
	PeriodLimit int `toml:"period_limit"`
	// SafeFraction caps planned spending at a fraction of the remaining
	// budget; the planner never commits the full remainder.
	SafeFraction       float64 `toml:"safe_fraction"`
	LedgerURL          string  `toml:"ledger_url"`
	LedgerToken        string  `toml:"ledger_token"`
	SnapshotTTLSeconds int     `toml:"snapshot_ttl_seconds"`
	CallsPerKeyword    int     `toml:"calls_per_keyword"`
	ResultsPerCall     int     `toml:"results_per_call"`
}

// Review contains draft review feedback settings.
type Review struct {
	ApproveReward     float64 `toml:"approve_reward"`
	RejectPenalty     float64 `toml:"reject_penalty"`
	TrueRejectPenalty float64 `toml:"true_reject_penalty"`
}

// Publisher contains publish-intent dispatch settings.
type Publisher struct {
	Enabled      bool   `toml:"enabled"`
	DispatchCron string `toml:"dispatch_cron"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	RunCompleted   bool   `toml:"run_completed"`
	RunFailed      bool   `toml:"run_failed"`
	ReviewNeeded   bool   `toml:"review_needed"`
}

// Workers maps each pipeline stage to its worker executable.
type Workers struct {
	Summarize string `toml:"summarize"`
	Discover  string `toml:"discover"`
	Classify  string `toml:"classify"`
	Respond   string `toml:"respond"`
	Moderate  string `toml:"moderate"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for Soundbite.
//
// Configuration sections by subsystem:
//   - Paths: directories, API bind address, and API token
//   - Pipeline: stage graph variant, timeouts, retry limits, stuck threshold
//   - Budget: quota period limit and discovery planning knobs
//   - Review: keyword penalty magnitudes for draft rejection
//   - Publisher: scheduled publish-intent dispatch
//   - Notifications: ntfy push notification settings
//   - Workers: stage worker executables
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Pipeline      Pipeline      `toml:"pipeline"`
	Budget        Budget        `toml:"budget"`
	Review        Review        `toml:"review"`
	Publisher     Publisher     `toml:"publisher"`
	Notifications Notifications `toml:"notifications"`
	Workers       Workers       `toml:"workers"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/soundbite/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized. The boolean reports
// whether a config file existed at the resolved path.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("soundbite.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// WriteSample writes the annotated sample configuration to path, refusing to
// overwrite an existing file.
func WriteSample(path string) error {
	expanded, err := expandPath(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(expanded); err == nil {
		return fmt.Errorf("config file already exists at %s", expanded)
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(expanded, []byte(sampleConfig), 0o644)
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// WorkerCommand returns the configured worker executable for a stage name,
// falling back to a conventional binary under WorkersDir.
func (c *Config) WorkerCommand(stage string) string {
	var configured string
	switch stage {
	case "summarize":
		configured = c.Workers.Summarize
	case "discover":
		configured = c.Workers.Discover
	case "classify":
		configured = c.Workers.Classify
	case "respond":
		configured = c.Workers.Respond
	case "moderate":
		configured = c.Workers.Moderate
	}
	if strings.TrimSpace(configured) != "" {
		return configured
	}
	return filepath.Join(c.Paths.WorkersDir, "soundbite-worker-"+stage)
}

func (c *Config) normalize() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.WorkersDir, err = expandPath(c.Paths.WorkersDir); err != nil {
		return fmt.Errorf("paths.workers_dir: %w", err)
	}
	c.Pipeline.Variant = strings.ToLower(strings.TrimSpace(c.Pipeline.Variant))
	if c.Pipeline.Variant == "" {
		c.Pipeline.Variant = defaultPipelineVariant
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	return nil
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}
	if trimmed == "~" || strings.HasPrefix(trimmed, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if trimmed == "~" {
			return home, nil
		}
		return filepath.Join(home, trimmed[2:]), nil
	}
	return filepath.Abs(trimmed)
}
