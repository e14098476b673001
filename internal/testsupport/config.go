package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"soundbite/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.WorkersDir = filepath.Join(base, "workers")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Notifications.NtfyTopic = ""

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithVariant selects the stage graph variant on the test config.
func WithVariant(variant string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Pipeline.Variant = variant
	}
}

// WithBudget overrides the period quota limit and safe fraction.
func WithBudget(limit int, safeFraction float64) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Budget.PeriodLimit = limit
		b.cfg.Budget.SafeFraction = safeFraction
	}
}

// WithStubWorkers writes stub worker executables for the given stages into
// the config's workers directory. Each stub echoes a fixed JSON result.
func WithStubWorkers(stages ...string) ConfigOption {
	return func(b *configBuilder) {
		if err := os.MkdirAll(b.cfg.Paths.WorkersDir, 0o755); err != nil {
			b.t.Fatalf("mkdir workers dir: %v", err)
		}
		script := []byte("#!/bin/sh\ncat >/dev/null\necho '{\"artifacts\":{},\"api_calls\":0}'\n")
		for _, stage := range stages {
			target := filepath.Join(b.cfg.Paths.WorkersDir, "soundbite-worker-"+stage)
			if err := os.WriteFile(target, script, 0o755); err != nil {
				b.t.Fatalf("write stub worker %s: %v", stage, err)
			}
		}
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
