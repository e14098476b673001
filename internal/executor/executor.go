// Package executor invokes the out-of-process stage workers. Each worker is
// an executable that reads a JSON request on stdin, does its work, and writes
// a JSON result on stdout.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"soundbite/internal/config"
	"soundbite/internal/logging"
	"soundbite/internal/proctrack"
	"soundbite/internal/services"
)

var commandContext = exec.CommandContext

// BudgetGrant tells the discover worker how many search calls it may spend
// per keyword.
type BudgetGrant struct {
	TotalCalls  int64            `json:"total_calls"`
	PerKeyword  map[string]int64 `json:"per_keyword"`
	NotSearched []string         `json:"not_searched,omitempty"`
}

// Request is the JSON contract written to the worker's stdin.
type Request struct {
	EpisodeID       int64             `json:"episode_id"`
	Stage           string            `json:"stage"`
	RunID           string            `json:"run_id"`
	Inputs          map[string]string `json:"inputs"`
	ExpectedOutputs []string          `json:"expected_outputs"`
	Options         map[string]string `json:"options,omitempty"`
	Budget          *BudgetGrant      `json:"budget,omitempty"`
}

// Usage reports what the worker consumed.
type Usage struct {
	Calls   int64   `json:"calls"`
	Tokens  int64   `json:"tokens"`
	CostUSD float64 `json:"cost_usd"`
}

// Result is the JSON contract read from the worker's stdout.
type Result struct {
	OK         bool                       `json:"ok"`
	Error      string                     `json:"error,omitempty"`
	ErrorClass string                     `json:"error_class,omitempty"`
	Artifacts  map[string]json.RawMessage `json:"artifacts"`
	Usage      Usage                      `json:"usage"`
}

// Invoker runs one stage worker to completion.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (*Result, error)
}

// Worker launches stage executables and tracks their processes.
type Worker struct {
	cfg     *config.Config
	tracker *proctrack.Tracker
	logger  *slog.Logger
}

// New constructs a Worker. tracker may be nil when process tracking is not
// wanted, e.g. in estimate previews.
func New(cfg *config.Config, tracker *proctrack.Tracker, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Worker{
		cfg:     cfg,
		tracker: tracker,
		logger:  logger.With(logging.String(logging.FieldComponent, "executor")),
	}
}

// Invoke runs the worker for req.Stage and parses its result. The launched
// process is registered with the tracker before waiting and unregistered once
// its exit is confirmed.
func (w *Worker) Invoke(ctx context.Context, req Request) (*Result, error) {
	binary := w.cfg.WorkerCommand(req.Stage)
	if strings.TrimSpace(binary) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "executor", "invoke",
			fmt.Sprintf("no worker configured for stage %s", req.Stage), nil)
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, services.Wrap(services.ErrContract, "executor", "invoke",
			"failed to encode worker request", err)
	}

	timeout := time.Duration(w.cfg.Pipeline.StageTimeout) * time.Second
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	log := w.logger.With(
		logging.Int64(logging.FieldEpisodeID, req.EpisodeID),
		logging.String(logging.FieldStage, req.Stage),
		logging.String(logging.FieldRunID, req.RunID),
	)

	var stdout, stderr bytes.Buffer
	cmd := commandContext(ctx, binary) //nolint:gosec
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "executor", "invoke",
			fmt.Sprintf("failed to start worker %s", binary), err)
	}
	log.Info("worker started", logging.String("binary", binary), logging.Int("pid", cmd.Process.Pid))

	if w.tracker != nil {
		w.tracker.Register(proctrack.Registration{
			EpisodeID: req.EpisodeID,
			Scope:     req.Stage,
			RunID:     req.RunID,
			PID:       cmd.Process.Pid,
		})
		defer w.tracker.Unregister(req.EpisodeID, req.Stage, req.RunID)
	}

	waitErr := cmd.Wait()
	if stderr.Len() > 0 {
		log.Debug("worker stderr", logging.String("output", truncate(stderr.String(), 2000)))
	}
	if waitErr != nil {
		if ctx.Err() != nil {
			return nil, services.Wrap(services.ErrTimeout, "executor", "invoke",
				fmt.Sprintf("worker %s exceeded its time budget", req.Stage), ctx.Err())
		}
		marker := services.ErrExternalTool
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) && exitErr.ExitCode() == transientExitCode {
			marker = services.ErrTransient
		}
		return nil, services.Wrap(marker, "executor", "invoke",
			fmt.Sprintf("worker %s failed: %s", req.Stage, truncate(stderr.String(), 500)), waitErr)
	}

	result, err := parseResult(stdout.Bytes())
	if err != nil {
		return nil, services.Wrap(services.ErrContract, "executor", "invoke",
			fmt.Sprintf("worker %s wrote an unparseable result", req.Stage), err)
	}
	if !result.OK {
		return nil, services.Wrap(markerForClass(result.ErrorClass), "executor", "invoke",
			workerErrorMessage(req.Stage, result.Error), nil)
	}
	if missing := missingOutputs(req.ExpectedOutputs, result.Artifacts); len(missing) != 0 {
		return nil, services.Wrap(services.ErrContract, "executor", "invoke",
			fmt.Sprintf("worker %s omitted required artifacts: %s", req.Stage, strings.Join(missing, ", ")), nil)
	}

	log.Info("worker finished",
		logging.Int64("api_calls", result.Usage.Calls),
		logging.Int64("tokens", result.Usage.Tokens))
	return result, nil
}

// Workers exit with this code to signal a retryable upstream hiccup.
const transientExitCode = 75 // mirrors EX_TEMPFAIL

func parseResult(output []byte) (*Result, error) {
	trimmed := bytes.TrimSpace(output)
	if len(trimmed) == 0 {
		return nil, errors.New("empty worker output")
	}
	var result Result
	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	if err := decoder.Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func missingOutputs(expected []string, artifacts map[string]json.RawMessage) []string {
	var missing []string
	for _, name := range expected {
		if _, ok := artifacts[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

func markerForClass(class string) error {
	switch class {
	case "transient":
		return services.ErrTransient
	case "validation":
		return services.ErrValidation
	case "budget":
		return services.ErrBudget
	case "timeout":
		return services.ErrTimeout
	default:
		return services.ErrExternalTool
	}
}

func workerErrorMessage(stage, msg string) string {
	if strings.TrimSpace(msg) == "" {
		return fmt.Sprintf("worker %s reported failure without detail", stage)
	}
	return fmt.Sprintf("worker %s: %s", stage, msg)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}

var _ Invoker = (*Worker)(nil)
