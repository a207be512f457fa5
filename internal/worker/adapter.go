// Package worker spawns the external per-stage processing programs and
// relays their progress and results. Each stage targets its own isolated
// runtime; the adapter selects the profile, writes nothing itself, and
// communicates exclusively through the request document path and the
// worker's standard streams.
package worker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/jmylchreest/dubarr/internal/config"
	"github.com/jmylchreest/dubarr/internal/models"
	"golang.org/x/sync/errgroup"
)

// maxStderrLines bounds the stderr tail kept for error reporting.
const maxStderrLines = 100

// ProgressFunc receives parsed progress events while a worker runs.
type ProgressFunc func(update ProgressUpdate)

// Result is a successful worker invocation's outcome.
type Result struct {
	// Document is the worker's final JSON output.
	Document []byte
	// Duration is the wall-clock run time.
	Duration time.Duration
}

// Adapter invokes external stage workers.
type Adapter struct {
	workers config.WorkersConfig
	logger  *slog.Logger
}

// NewAdapter creates a worker adapter with the given per-stage profiles.
func NewAdapter(workers config.WorkersConfig, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	if workers.KillGracePeriod <= 0 {
		workers.KillGracePeriod = 10 * time.Second
	}
	return &Adapter{
		workers: workers,
		logger:  logger.With("component", "worker_adapter"),
	}
}

// Timeout returns the configured wall-clock limit for a stage.
func (a *Adapter) Timeout(stage models.Stage) time.Duration {
	profile, ok := a.workers.Profile(string(stage))
	if !ok || profile.Timeout <= 0 {
		return 15 * time.Minute
	}
	return profile.Timeout
}

// Profile returns the runtime profile for a stage.
func (a *Adapter) Profile(stage models.Stage) (config.WorkerProfile, error) {
	profile, ok := a.workers.Profile(string(stage))
	if !ok {
		return config.WorkerProfile{}, fmt.Errorf("%w: no profile for stage %s", models.ErrWorkerUnavailable, stage)
	}
	if profile.Command == "" {
		return config.WorkerProfile{}, fmt.Errorf("%w: stage %s has no worker command configured", models.ErrWorkerUnavailable, stage)
	}
	return profile, nil
}

// Run invokes the stage's worker with the request document path as its sole
// trailing argument, streaming progress through onProgress until the worker
// exits. Cancel the context to terminate the child (SIGTERM, then SIGKILL
// after the grace period). The per-stage timeout is enforced here.
func (a *Adapter) Run(ctx context.Context, stage models.Stage, requestPath string, onProgress ProgressFunc) (*Result, error) {
	profile, err := a.Profile(stage)
	if err != nil {
		return nil, err
	}

	timeout := a.Timeout(stage)
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append(append([]string{}, profile.Args...), requestPath)
	cmd := exec.Command(profile.Command, args...)
	cmd.Dir = profile.WorkDir
	// The worker leads its own process group so termination signals reach
	// every process it spawned; a surviving grandchild would hold the output
	// pipes open and block the drains below.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Env = os.Environ()
	for k, v := range profile.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("getting stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("getting stderr pipe: %w", err)
	}

	started := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: starting %s worker: %v", models.ErrWorkerUnavailable, stage, err)
	}

	a.logger.Debug("worker started",
		slog.String("stage", string(stage)),
		slog.String("command", profile.Command),
		slog.Int("pid", cmd.Process.Pid),
	)

	// Terminate the worker's process group when the context ends. SIGTERM
	// first so the worker can flush; SIGKILL after the grace period.
	killDone := make(chan struct{})
	go func() {
		select {
		case <-runCtx.Done():
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
			select {
			case <-killDone:
			case <-time.After(a.workers.KillGracePeriod):
				_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
			}
		case <-killDone:
		}
	}()

	// stdout and stderr MUST be drained concurrently. Reading one stream to
	// EOF before the other deadlocks once the unread pipe's buffer fills.
	var (
		stdoutBuf  strings.Builder
		stderrMu   sync.Mutex
		stderrTail []string
	)
	var group errgroup.Group
	group.Go(func() error {
		return a.drainStdout(stdout, &stdoutBuf, onProgress)
	})
	group.Go(func() error {
		return drainStderr(stderr, &stderrMu, &stderrTail)
	})
	drainErr := group.Wait()

	waitErr := cmd.Wait()
	close(killDone)
	duration := time.Since(started)

	if ctxErr := runCtx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: %s worker exceeded %s", models.ErrTimeout, stage, timeout)
		}
		return nil, fmt.Errorf("%w: %s worker terminated by stop request", models.ErrCancelled, stage)
	}

	if waitErr != nil {
		stderrMu.Lock()
		tail := strings.Join(stderrTail, "\n")
		stderrMu.Unlock()
		if tail != "" {
			return nil, fmt.Errorf("%w: %s worker: %v\n%s", models.ErrWorkerFailed, stage, waitErr, tail)
		}
		return nil, fmt.Errorf("%w: %s worker: %v", models.ErrWorkerFailed, stage, waitErr)
	}
	if drainErr != nil {
		return nil, fmt.Errorf("%w: reading %s worker output: %v", models.ErrWorkerFailed, stage, drainErr)
	}

	document, ok := ExtractResult(stdoutBuf.String())
	if !ok {
		return nil, fmt.Errorf("%w: %s worker produced no result", models.ErrWorkerFailed, stage)
	}

	a.logger.Debug("worker finished",
		slog.String("stage", string(stage)),
		slog.Duration("duration", duration),
	)
	return &Result{Document: document, Duration: duration}, nil
}

// drainStdout scans worker stdout line by line, forwarding progress events
// and collecting the full stream for result extraction.
func (a *Adapter) drainStdout(r io.Reader, buf *strings.Builder, onProgress ProgressFunc) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.ToValidUTF8(scanner.Text(), "�")
		buf.WriteString(line)
		buf.WriteByte('\n')
		if onProgress != nil {
			if update, ok := ParseProgressLine(line); ok {
				onProgress(update)
			}
		}
	}
	return scanner.Err()
}

// drainStderr keeps the last maxStderrLines lines for error reporting.
func drainStderr(r io.Reader, mu *sync.Mutex, tail *[]string) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.ToValidUTF8(scanner.Text(), "�")
		mu.Lock()
		if len(*tail) >= maxStderrLines {
			*tail = (*tail)[1:]
		}
		*tail = append(*tail, line)
		mu.Unlock()
	}
	return scanner.Err()
}
