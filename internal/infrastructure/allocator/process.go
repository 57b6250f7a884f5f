package allocator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"stockdispatch/internal/bootstrap/logging"
	"stockdispatch/internal/ports"
)

const defaultProcessTimeoutSeconds = 1800

// ProcessConfig is the payload of a `process` procedure.
type ProcessConfig struct {
	Program        string   `json:"program"`
	Args           []string `json:"args,omitempty"`
	Dir            string   `json:"dir,omitempty"`
	TimeoutSeconds int      `json:"timeout_seconds,omitempty"`
}

// Process runs an external program. The request goes to stdin as JSON and the program
// prints an AllocationResult as JSON on stdout; it writes allocation records itself.
type Process struct {
	config ProcessConfig
	dsn    string
}

func NewProcess(config ProcessConfig, dsn string) *Process {
	return &Process{config: config, dsn: dsn}
}

func (p *Process) Allocate(ctx context.Context, req ports.AllocationRequest) (ports.AllocationResult, error) {
	if err := ctx.Err(); err != nil {
		return ports.AllocationResult{}, err
	}

	program := strings.TrimSpace(p.config.Program)
	if program == "" {
		return ports.AllocationResult{}, errors.New("process procedure program is required")
	}

	stdin, err := json.Marshal(req)
	if err != nil {
		return ports.AllocationResult{}, fmt.Errorf("encode allocation request: %w", err)
	}

	runCtx, cancel := withProcessTimeout(ctx, p.config.TimeoutSeconds)
	defer cancel()

	cmd := exec.CommandContext(runCtx, program, p.config.Args...)
	if dir := strings.TrimSpace(p.config.Dir); dir != "" {
		cmd.Dir = dir
	}
	cmd.Env = append(os.Environ(),
		"SD_RUN_ID="+strings.TrimSpace(req.RunID),
		"SD_PROCEDURE_NAME="+strings.TrimSpace(req.Procedure.Name),
		"SD_DATABASE_DSN="+p.dsn,
	)
	cmd.Stdin = bytes.NewReader(stdin)
	cmd.WaitDelay = time.Second

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := time.Now()
	runErr := cmd.Run()
	logging.Info(
		logging.WithAttrs(ctx, slog.String("component", "allocator.process")),
		"allocation process finished",
		slog.String("run_id", req.RunID),
		slog.String("program", program),
		slog.Duration("elapsed", time.Since(started)),
		slog.Bool("failed", runErr != nil),
	)

	if runErr != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return failed("allocation procedure timed out"), nil
	}

	raw := strings.TrimSpace(stdout.String())
	if raw != "" {
		parsed, parseErr := parseResult(raw)
		if parseErr == nil {
			return normalizeResult(parsed, runErr, stderr.String()), nil
		}
		if runErr == nil {
			return ports.AllocationResult{}, fmt.Errorf("parse allocation result: %w", parseErr)
		}
	}

	if runErr != nil {
		message := firstLine(stderr.String())
		if message == "" {
			message = runErr.Error()
		}
		return failed(message), nil
	}
	return ports.AllocationResult{}, errors.New("allocation procedure printed no result")
}

func withProcessTimeout(ctx context.Context, timeoutSeconds int) (context.Context, context.CancelFunc) {
	effective := timeoutSeconds
	if effective <= 0 {
		effective = defaultProcessTimeoutSeconds
	}
	return context.WithTimeout(ctx, time.Duration(effective)*time.Second)
}

// parseResult accepts either the whole stdout or its last line as the JSON result,
// so procedures may log progress lines before printing the result.
func parseResult(raw string) (ports.AllocationResult, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ports.AllocationResult{}, errors.New("allocation result is empty")
	}

	var out ports.AllocationResult
	err := json.Unmarshal([]byte(trimmed), &out)
	if err == nil {
		return out, nil
	}

	lines := strings.Split(trimmed, "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	if len(lines) > 1 && json.Unmarshal([]byte(last), &out) == nil {
		return out, nil
	}
	return ports.AllocationResult{}, err
}

func normalizeResult(out ports.AllocationResult, runErr error, stderr string) ports.AllocationResult {
	if runErr != nil && out.Success {
		out.Success = false
	}
	if out.Success {
		out.Error = ""
		return out
	}
	if strings.TrimSpace(out.Error) == "" {
		message := firstLine(stderr)
		if message == "" && runErr != nil {
			message = runErr.Error()
		}
		if message == "" {
			message = "allocation procedure failed"
		}
		out.Error = message
	}
	return out
}

func firstLine(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	parts := strings.SplitN(trimmed, "\n", 2)
	return strings.TrimSpace(parts[0])
}
