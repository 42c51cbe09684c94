// Package harness runs the external harness program that evaluates candidate
// configurations.
package harness

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/streamtune/pkg/engine"
)

const (
	// DefaultTimeout is the per-request budget when none is configured.
	DefaultTimeout = 5 * time.Minute

	// DefaultGracePeriod is how long a timed-out harness may take to exit
	// after SIGTERM before it is killed.
	DefaultGracePeriod = 5 * time.Second
)

// Config describes how to launch the harness.
type Config struct {
	// Command is the harness executable.
	Command string

	// Args follow the launch flags and precede the document argument.
	Args []string

	// WorkDir is the working directory of the harness.
	WorkDir string

	// Env is added to the inherited environment.
	Env map[string]string

	// Timeout is the default per-request budget.
	Timeout time.Duration

	// GracePeriod separates SIGTERM and SIGKILL on timeout.
	GracePeriod time.Duration

	// TempDir holds the document files. The system default is used when empty.
	TempDir string
}

// ExecTransport delivers documents by launching the harness as
// "<command> <launch flags...> <args...> @<document file>".
type ExecTransport struct {
	cfg    Config
	logger zerolog.Logger
}

// NewExecTransport creates a transport for cfg.
func NewExecTransport(cfg Config, logger zerolog.Logger) (*ExecTransport, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("harness command is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	return &ExecTransport{
		cfg:    cfg,
		logger: logger.With().Str("component", "harness").Logger(),
	}, nil
}

// Deliver writes the document to a temporary file and runs the harness on it.
// A harness that outlives its budget is stopped and reported with
// Response.TimedOut. A non-zero exit without error output is reported as
// error output so that the attempt classifies as a failure.
func (t *ExecTransport) Deliver(ctx context.Context, req *engine.Request) (*engine.Response, error) {
	docPath, err := t.writeDocument(req.Document)
	if err != nil {
		return nil, err
	}
	defer os.Remove(docPath)

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = t.cfg.Timeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := make([]string, 0, len(req.LaunchFlags)+len(t.cfg.Args)+1)
	args = append(args, req.LaunchFlags...)
	args = append(args, t.cfg.Args...)
	args = append(args, "@"+docPath)

	cmd := exec.CommandContext(runCtx, t.cfg.Command, args...)
	if t.cfg.WorkDir != "" {
		cmd.Dir = t.cfg.WorkDir
	}
	if len(t.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), envList(t.cfg.Env)...)
	}
	setProcessGroup(cmd)
	cmd.WaitDelay = t.cfg.GracePeriod

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	t.logger.Debug().
		Str("purpose", string(req.Purpose)).
		Strs("args", args).
		Dur("timeout", timeout).
		Msg("Launching harness")

	start := time.Now()
	err = cmd.Run()
	duration := time.Since(start)
	killProcessGroup(cmd)

	resp := &engine.Response{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: duration,
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		resp.TimedOut = true
		resp.ExitCode = -1
		t.logger.Warn().Dur("timeout", timeout).Msg("Harness exceeded its budget")
		return resp, nil
	}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("failed to run harness: %w", err)
		}
		resp.ExitCode = exitErr.ExitCode()
		if len(bytes.TrimSpace(stderr.Bytes())) == 0 {
			resp.Stderr = fmt.Sprintf("harness exited with status %d", resp.ExitCode)
		}
	}

	t.logger.Debug().
		Int("exit_code", resp.ExitCode).
		Dur("duration", duration).
		Msg("Harness finished")
	return resp, nil
}

func (t *ExecTransport) writeDocument(doc []byte) (string, error) {
	f, err := os.CreateTemp(t.cfg.TempDir, "streamtune-*.cfg")
	if err != nil {
		return "", fmt.Errorf("failed to create document file: %w", err)
	}
	if _, err := f.Write(doc); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write document file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to close document file: %w", err)
	}
	return f.Name(), nil
}

func envList(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, fmt.Sprintf("%s=%s", k, env[k]))
	}
	return out
}
