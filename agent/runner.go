// Package agent supervises the provider CLI process attached to a session.
// Each session gets at most one Runner; the process is started lazily on the
// first prompt and restarted independently of the rest of the session when
// it crashes.
package agent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"
)

// errStopped is returned by Start on a Runner whose Stop has been called.
var errStopped = errors.New("runner is stopped")

const (
	// MaxRestartAttempts is how many times a crashed agent process is
	// restarted before the failure is reported as fatal.
	MaxRestartAttempts = 3
	// RestartDelay is the pause before each restart attempt.
	RestartDelay = 2 * time.Second
)

// Config describes the process to supervise.
type Config struct {
	SessionID  string
	WorkingDir string
	Binary     string
	Args       []string
	// StartupTimeout bounds how long the process may run without producing
	// any output before the start attempt is abandoned.
	StartupTimeout time.Duration
}

// Callbacks are invoked from the Runner's internal goroutines and must be
// safe for concurrent use.
type Callbacks struct {
	// OnLine is called for each stdout line, trailing newline included.
	OnLine func(line string)

	// OnReady is called once, when the process produces its first output.
	OnReady func()

	// OnProcessExit is called when the process exits unexpectedly. The
	// return value decides whether a restart is attempted.
	OnProcessExit func(err error, stderr string) bool

	// OnRestartAttempt is called before each restart, 1-indexed.
	OnRestartAttempt func(attempt int)

	// OnFatalError is called when restarts are exhausted or startup timed
	// out. No further restarts follow.
	OnFatalError func(err error)
}

// readResult carries one stdout read across the cancellation select.
type readResult struct {
	line string
	err  error
}

// Runner manages the lifecycle of one agent process: start, output routing,
// crash detection, bounded restart, and shutdown.
type Runner struct {
	config    Config
	callbacks Callbacks
	log       *slog.Logger

	mu              sync.Mutex
	cmd             *exec.Cmd
	stdin           io.WriteCloser
	stdout          *bufio.Reader
	stderr          io.ReadCloser
	stderrContent   string
	stderrDone      chan struct{}
	running         bool
	stopped         bool
	restartAttempts int

	// waitDone is closed by monitorExit when cmd.Wait() returns. Stop
	// selects on it instead of calling Wait a second time.
	waitDone chan struct{}

	// ready is closed on the first stdout line; the startup watchdog kills
	// the process if it stays open past StartupTimeout.
	ready chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner creates a Runner for the given process. Nothing is started until
// Start is called.
func NewRunner(config Config, callbacks Callbacks, log *slog.Logger) *Runner {
	return &Runner{
		config:    config,
		callbacks: callbacks,
		log:       log,
	}
}

// Start launches the agent process. Calling Start on a running Runner is a
// no-op. A stopped Runner stays stopped; the session builds a fresh Runner
// for the next start.
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return errStopped
	}
	if r.running {
		return nil
	}

	r.log.Info("starting agent process", "binary", r.config.Binary)

	cmd := exec.Command(r.config.Binary, r.config.Args...)
	cmd.Dir = r.config.WorkingDir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return fmt.Errorf("failed to get stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return fmt.Errorf("failed to start agent process: %w", err)
	}

	r.cmd = cmd
	r.stdin = stdin
	r.stdout = bufio.NewReader(stdout)
	r.stderr = stderr
	r.stderrContent = ""
	r.stderrDone = make(chan struct{})
	r.waitDone = make(chan struct{})
	r.ready = make(chan struct{})
	r.running = true

	if r.cancel != nil {
		r.cancel()
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())

	r.log.Info("agent process started", "pid", cmd.Process.Pid)

	r.wg.Add(4)
	go func() {
		defer r.wg.Done()
		r.readOutput()
	}()
	go func() {
		defer r.wg.Done()
		r.drainStderr()
	}()
	go func() {
		defer r.wg.Done()
		r.monitorExit()
	}()
	go func() {
		defer r.wg.Done()
		r.startupWatchdog()
	}()

	return nil
}

// Stop terminates the process and waits for all internal goroutines. Safe to
// call multiple times. The process is given two seconds to exit after stdin
// closes before it is killed. Stop is final: a pending crash restart is
// abandoned and later Start calls are refused, so no process outlives it.
func (r *Runner) Stop() {
	r.mu.Lock()
	wasRunning := r.running
	r.stopped = true

	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	if !wasRunning {
		r.mu.Unlock()
		return
	}

	r.running = false
	if r.stdin != nil {
		r.stdin.Close()
		r.stdin = nil
	}
	cmd := r.cmd
	waitDone := r.waitDone
	r.mu.Unlock()

	if cmd != nil && cmd.Process != nil && waitDone != nil {
		select {
		case <-waitDone:
			r.log.Debug("agent exited gracefully")
		case <-time.After(2 * time.Second):
			r.log.Debug("force killing agent process")
			cmd.Process.Kill()
			<-waitDone
		}
	}

	r.wg.Wait()

	r.mu.Lock()
	if r.stderr != nil {
		r.stderr.Close()
		r.stderr = nil
	}
	r.cmd = nil
	r.stdout = nil
	r.mu.Unlock()

	r.log.Info("agent process stopped")
}

// IsRunning reports whether the process is currently alive.
func (r *Runner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// PID returns the process id, or 0 when not running.
func (r *Runner) PID() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running || r.cmd == nil || r.cmd.Process == nil {
		return 0
	}
	return r.cmd.Process.Pid
}

// Send writes data to the process stdin.
func (r *Runner) Send(data []byte) error {
	r.mu.Lock()
	stdin := r.stdin
	running := r.running
	r.mu.Unlock()

	if !running || stdin == nil {
		return fmt.Errorf("agent process not running")
	}
	if _, err := stdin.Write(data); err != nil {
		return fmt.Errorf("failed to write to agent process: %w", err)
	}
	return nil
}

// RestartAttempts returns the restart count since the last successful
// response.
func (r *Runner) RestartAttempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.restartAttempts
}

// ResetRestartAttempts clears the restart counter. Called from readOutput
// when a (re)started process produces output, so only consecutive failures
// count against the budget.
func (r *Runner) ResetRestartAttempts() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.restartAttempts = 0
}

// readOutput routes stdout lines to the OnLine callback and closes the ready
// channel on the first line.
func (r *Runner) readOutput() {
	first := true
	for {
		select {
		case <-r.ctx.Done():
			return
		default:
		}

		r.mu.Lock()
		running := r.running
		reader := r.stdout
		ready := r.ready
		r.mu.Unlock()

		if !running || reader == nil {
			return
		}

		line, err := r.readLine(reader)
		if err != nil {
			// EOF or read failure: exit handling belongs to monitorExit.
			return
		}
		if len(line) == 0 {
			continue
		}

		if first {
			first = false
			closeOnce(ready)
			// The process is producing output again, so the crash streak is
			// over and the restart budget replenishes.
			r.ResetRestartAttempts()
			if r.callbacks.OnReady != nil {
				r.callbacks.OnReady()
			}
		}
		if r.callbacks.OnLine != nil {
			r.callbacks.OnLine(line)
		}
	}
}

// readLine blocks on one stdout read while staying cancellable. The spawned
// goroutine cannot itself be cancelled, but Stop closes stdin and kills the
// process, which unblocks the read; the buffered channel lets it exit.
func (r *Runner) readLine(reader *bufio.Reader) (string, error) {
	resultCh := make(chan readResult, 1)
	go func() {
		line, err := reader.ReadString('\n')
		resultCh <- readResult{line: line, err: err}
	}()

	select {
	case <-r.ctx.Done():
		return "", r.ctx.Err()
	case result := <-resultCh:
		return result.line, result.err
	}
}

// drainStderr captures stderr before cmd.Wait() closes the pipe.
func (r *Runner) drainStderr() {
	defer close(r.stderrDone)

	r.mu.Lock()
	stderr := r.stderr
	r.mu.Unlock()
	if stderr == nil {
		return
	}

	data, err := io.ReadAll(stderr)
	if err != nil {
		r.log.Debug("error reading agent stderr", "error", err)
		return
	}
	if len(data) > 0 {
		r.mu.Lock()
		r.stderrContent = string(data)
		r.mu.Unlock()
	}
}

// monitorExit is the sole caller of cmd.Wait(); Stop coordinates through
// waitDone instead of waiting twice.
func (r *Runner) monitorExit() {
	r.mu.Lock()
	cmd := r.cmd
	waitDone := r.waitDone
	r.mu.Unlock()

	if cmd == nil {
		if waitDone != nil {
			close(waitDone)
		}
		return
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case err := <-done:
		r.log.Debug("agent process exited", "error", err)
		if waitDone != nil {
			close(waitDone)
		}
		r.handleExit(err)
	case <-r.ctx.Done():
		<-done
		if waitDone != nil {
			close(waitDone)
		}
	}
}

// handleExit decides between restart and fatal reporting after an unexpected
// exit.
func (r *Runner) handleExit(err error) {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}

	restartAttempts := r.restartAttempts
	stderrDone := r.stderrDone
	ctxCancelled := r.ctx != nil && r.ctx.Err() != nil
	startupPending := r.ready != nil && !channelClosed(r.ready)
	r.mu.Unlock()

	if stderrDone != nil {
		<-stderrDone
	}

	r.mu.Lock()
	stderrContent := r.stderrContent
	r.cleanupLocked()
	r.mu.Unlock()

	if ctxCancelled {
		if r.callbacks.OnProcessExit != nil {
			r.callbacks.OnProcessExit(err, stderrContent)
		}
		return
	}

	// A process that died without ever producing output will almost
	// certainly die the same way again; report instead of looping.
	if startupPending {
		fatal := fmt.Errorf("agent process exited before producing output: %w", exitReason(err, stderrContent))
		r.log.Error("agent failed during startup", "error", fatal)
		if r.callbacks.OnFatalError != nil {
			r.callbacks.OnFatalError(fatal)
		}
		return
	}

	shouldRestart := true
	if r.callbacks.OnProcessExit != nil {
		shouldRestart = r.callbacks.OnProcessExit(err, stderrContent)
	}
	if !shouldRestart {
		return
	}

	if restartAttempts < MaxRestartAttempts {
		r.mu.Lock()
		r.restartAttempts = restartAttempts + 1
		r.mu.Unlock()

		r.log.Warn("agent crashed, attempting restart",
			"attempt", restartAttempts+1,
			"maxAttempts", MaxRestartAttempts)
		if r.callbacks.OnRestartAttempt != nil {
			r.callbacks.OnRestartAttempt(restartAttempts + 1)
		}

		time.Sleep(RestartDelay)

		// Stop may have landed during the delay; the contract is that no
		// process survives it.
		r.mu.Lock()
		stopped := r.stopped
		r.mu.Unlock()
		if stopped {
			r.log.Debug("restart abandoned, runner stopped")
			return
		}

		if startErr := r.Start(); startErr != nil {
			if errors.Is(startErr, errStopped) {
				r.log.Debug("restart abandoned, runner stopped")
				return
			}
			fatal := fmt.Errorf("agent crashed and restart failed: %w", startErr)
			r.log.Error("agent restart failed", "error", startErr)
			if r.callbacks.OnFatalError != nil {
				r.callbacks.OnFatalError(fatal)
			}
		} else {
			r.log.Info("agent restarted")
		}
		return
	}

	fatal := fmt.Errorf("agent crashed repeatedly (max %d restarts): %w",
		MaxRestartAttempts, exitReason(err, stderrContent))
	r.log.Error("agent restarts exhausted", "error", fatal)
	if r.callbacks.OnFatalError != nil {
		r.callbacks.OnFatalError(fatal)
	}
}

// startupWatchdog kills the process if it produces no output within the
// startup timeout. The resulting exit is reported as fatal by handleExit.
func (r *Runner) startupWatchdog() {
	r.mu.Lock()
	ready := r.ready
	timeout := r.config.StartupTimeout
	r.mu.Unlock()

	if ready == nil || timeout <= 0 {
		return
	}

	select {
	case <-ready:
		return
	case <-r.ctx.Done():
		return
	case <-time.After(timeout):
	}

	r.log.Error("agent produced no output within startup timeout", "timeout", timeout)

	r.mu.Lock()
	cmd := r.cmd
	r.mu.Unlock()
	if cmd != nil && cmd.Process != nil {
		cmd.Process.Kill()
	}
}

// cleanupLocked releases process resources. Caller holds mu.
func (r *Runner) cleanupLocked() {
	if r.stdin != nil {
		r.stdin.Close()
		r.stdin = nil
	}
	if r.stderr != nil {
		r.stderr.Close()
		r.stderr = nil
	}
	r.cmd = nil
	r.stdout = nil
	r.stderrContent = ""
	r.stderrDone = nil
	r.waitDone = nil
	r.running = false

	// Unblock the watchdog if the process died before first output.
	closeOnce(r.ready)
}

func exitReason(err error, stderr string) error {
	if stderr != "" {
		return fmt.Errorf("%s", stderr)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("process exited")
}

func closeOnce(ch chan struct{}) {
	if ch == nil {
		return
	}
	select {
	case <-ch:
	default:
		close(ch)
	}
}

func channelClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
