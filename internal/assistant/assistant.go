// Package assistant runs the external coding assistant for a task.
//
// The prompt is always written to the assistant's standard input. Process
// failures never surface as Go errors: every invocation resolves to a Result.
package assistant

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/randalmurphal/orch/internal/events"
	"github.com/randalmurphal/orch/internal/process"
	"github.com/randalmurphal/orch/internal/task"
)

// Default settings.
const (
	DefaultPath    = "claude"
	DefaultTimeout = 5 * time.Minute

	// waitDelay bounds how long Wait blocks on pipes held open by
	// grandchildren after the assistant itself has exited.
	waitDelay = 5 * time.Second
)

// Invocation flags. Edit mode lets the assistant write to the working tree
// without prompting; read-only mode restricts it to planning.
var (
	baseArgs     = []string{"--print"}
	editArgs     = []string{"--dangerously-skip-permissions"}
	readOnlyArgs = []string{"--permission-mode", "plan"}
)

// Config configures a Runner.
type Config struct {
	Path    string        // Assistant executable (default: "claude")
	Timeout time.Duration // Wall-clock limit per invocation (default: 5m)

	// KeepStdinOpen leaves stdin open after the prompt so the process can be
	// steered. Assistants that read the prompt until EOF need this off.
	KeepStdinOpen bool

	// Registry receives streaming processes. May be nil.
	Registry *process.Registry
	Logger   *slog.Logger
}

// Options selects the invocation mode.
type Options struct {
	AllowEdits bool

	// OnStart is called with the PID once the process has started and been
	// registered, before any output is read.
	OnStart func(pid int)
}

// Result is the outcome of an invocation.
type Result struct {
	Success  bool   `json:"success"`
	Output   string `json:"output"`
	Error    string `json:"error,omitempty"`
	ExitCode int    `json:"exitCode"`
	TimedOut bool   `json:"timedOut,omitempty"`
}

// Chunk is a piece of streamed output.
type Chunk struct {
	Stream events.Stream
	Text   string
}

// Tagged returns the text as it is stored in the output buffer. Stderr chunks
// carry a prefix so they stay distinguishable once merged.
func (c Chunk) Tagged() string {
	if c.Stream == events.StreamStderr {
		return "[stderr] " + c.Text
	}
	return c.Text
}

// Runner invokes the assistant.
type Runner struct {
	path          string
	timeout       time.Duration
	keepStdinOpen bool
	registry      *process.Registry
	logger        *slog.Logger
}

// New creates a Runner.
func New(cfg Config) *Runner {
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Runner{
		path:          cfg.Path,
		timeout:       cfg.Timeout,
		keepStdinOpen: cfg.KeepStdinOpen,
		registry:      cfg.Registry,
		logger:        cfg.Logger,
	}
}

// Path returns the assistant executable.
func (r *Runner) Path() string {
	return r.path
}

// Args returns the command-line flags for the given mode.
func Args(allowEdits bool) []string {
	args := append([]string(nil), baseArgs...)
	if allowEdits {
		return append(args, editArgs...)
	}
	return append(args, readOnlyArgs...)
}

// Invoke runs the assistant and collects its output in bulk.
func (r *Runner) Invoke(ctx context.Context, t *task.Task, prompt string, opts Options) Result {
	return r.run(ctx, t, prompt, opts, nil, false)
}

// InvokeStreaming runs the assistant, registering the process for the task
// and passing each output chunk to onChunk as it arrives. onChunk is never
// called concurrently, and chunks from one stream arrive in emission order.
func (r *Runner) InvokeStreaming(ctx context.Context, t *task.Task, prompt string, opts Options, onChunk func(Chunk)) Result {
	return r.run(ctx, t, prompt, opts, onChunk, true)
}

func (r *Runner) run(ctx context.Context, t *task.Task, prompt string, opts Options, onChunk func(Chunk), register bool) Result {
	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, r.path, Args(opts.AllowEdits)...)
	cmd.Dir = t.RepoPath
	process.SetProcAttr(cmd)
	cmd.WaitDelay = waitDelay

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return spawnFailure(err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return spawnFailure(err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return spawnFailure(err)
	}

	if err := cmd.Start(); err != nil {
		r.logger.Error("assistant spawn failed", "task_id", t.ID, "path", r.path, "error", err)
		return spawnFailure(err)
	}

	handle := process.NewCmdHandle(cmd, stdin)
	cmd.Cancel = handle.Kill

	if register && r.registry != nil {
		r.registry.Register(t.ID, handle)
		defer r.registry.Deregister(t.ID, handle)
	}
	if opts.OnStart != nil {
		opts.OnStart(handle.PID())
	}

	r.logger.Debug("assistant started", "task_id", t.ID, "pid", handle.PID(), "edits", opts.AllowEdits)

	go r.feedPrompt(t.ID, handle, prompt)

	var (
		outBuf, errBuf bytes.Buffer
		emitMu         sync.Mutex
		wg             sync.WaitGroup
	)
	emit := func(c Chunk) {
		if onChunk == nil {
			return
		}
		emitMu.Lock()
		defer emitMu.Unlock()
		onChunk(c)
	}
	wg.Add(2)
	go func() {
		defer wg.Done()
		pump(stdout, &outBuf, events.StreamStdout, emit)
	}()
	go func() {
		defer wg.Done()
		pump(stderr, &errBuf, events.StreamStderr, emit)
	}()
	wg.Wait()

	waitErr := cmd.Wait()
	_ = handle.CloseInput()

	res := Result{Output: outBuf.String(), ExitCode: cmd.ProcessState.ExitCode()}

	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		res.TimedOut = true
		res.Error = fmt.Sprintf("Timed out after %s", r.timeout)
	case ctx.Err() != nil:
		res.Error = "Cancelled: " + ctx.Err().Error()
	case waitErr != nil:
		res.Error = strings.TrimSpace(errBuf.String())
		if res.Error == "" {
			res.Error = exitMessage(waitErr, res.ExitCode)
		}
	default:
		res.Success = true
	}

	if !res.Success {
		r.logger.Warn("assistant failed", "task_id", t.ID, "exit_code", res.ExitCode, "error", res.Error)
	}
	return res
}

// feedPrompt writes the prompt on its own goroutine so a process that writes
// a lot of output before reading all of stdin cannot deadlock us.
func (r *Runner) feedPrompt(taskID int64, h *process.CmdHandle, prompt string) {
	text := prompt
	if r.keepStdinOpen && !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	if err := h.WriteInput(text); err != nil {
		r.logger.Debug("write prompt", "task_id", taskID, "error", err)
	}
	if !r.keepStdinOpen {
		_ = h.CloseInput()
	}
}

func pump(r io.Reader, sink *bytes.Buffer, stream events.Stream, emit func(Chunk)) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			text := string(buf[:n])
			sink.WriteString(text)
			emit(Chunk{Stream: stream, Text: text})
		}
		if err != nil {
			return
		}
	}
}

func exitMessage(err error, code int) string {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && code >= 0 {
		return fmt.Sprintf("Exit code: %d", code)
	}
	return err.Error()
}

func spawnFailure(err error) Result {
	return Result{Error: err.Error(), ExitCode: -1}
}
