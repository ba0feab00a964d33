// Package executor launches the measurement subprocess in its own process
// group and manages the interrupt-and-drain shutdown sequence that lets the
// tool flush its final report.
package executor

import (
	"bytes"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// maxCapturedBytes caps the captured report. rtla hist output is small; the
// cap guards against a misbehaving binary streaming unbounded text.
const maxCapturedBytes = 50 * 1024 * 1024

// LaunchError reports a subprocess that could not be started, or that
// exited with a non-zero status before the collection window ended. It
// carries the command and captured output verbatim for diagnosis.
type LaunchError struct {
	Command  string
	ExitCode int
	Output   string
	Err      error
}

func (e *LaunchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s failed to start: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("%s failed with return code %d:\n%s", e.Command, e.ExitCode, e.Output)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// StopReason records which trigger ended the collection window.
type StopReason int

const (
	// StopElapsed means the duration bound expired.
	StopElapsed StopReason = iota
	// StopCancelled means the host delivered an early stop notification.
	StopCancelled
	// StopExited means the subprocess exited on its own before either
	// trigger fired.
	StopExited
)

// Runner starts measurement subprocesses.
type Runner struct {
	log zerolog.Logger
}

// NewRunner returns a Runner that logs subprocess lifecycle events.
func NewRunner(log zerolog.Logger) *Runner {
	return &Runner{log: log}
}

// Proc is a handle on one running subprocess. It is owned by a single
// invocation and not safe for concurrent use beyond the documented
// AwaitDone/Interrupt/Drain sequence.
type Proc struct {
	cmd    *exec.Cmd
	stdout bytes.Buffer
	stderr bytes.Buffer

	done   chan error    // receives the cmd.Wait result exactly once
	exited chan struct{} // closed after done is written

	log zerolog.Logger
}

// Start launches argv in a new process group with stdout and stderr
// captured as pipes. The process group matters: the interrupt must reach
// rtla and any worker threads or children it forks.
func (r *Runner) Start(argv []string) (*Proc, error) {
	if len(argv) == 0 {
		return nil, &LaunchError{Command: "", Err: fmt.Errorf("empty command")}
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	p := &Proc{
		cmd:    cmd,
		done:   make(chan error, 1),
		exited: make(chan struct{}),
		log:    r.log,
	}
	cmd.Stdout = &LimitedWriter{W: &p.stdout, N: maxCapturedBytes}
	cmd.Stderr = &p.stderr

	if err := cmd.Start(); err != nil {
		return nil, &LaunchError{Command: argv[0], Err: err}
	}
	r.log.Debug().
		Str("command", strings.Join(argv, " ")).
		Int("pid", cmd.Process.Pid).
		Msg("subprocess started")

	go func() {
		err := cmd.Wait()
		p.done <- err
		close(p.exited)
	}()

	return p, nil
}

// PID returns the subprocess's OS process ID.
func (p *Proc) PID() int { return p.cmd.Process.Pid }

// AwaitDone blocks until the duration elapses, cancel fires, or the
// subprocess exits on its own, whichever comes first. The race is
// single-shot: whichever trigger fires first decides the reason, and a
// later firing of the other is a no-op. A zero duration means no time
// bound.
func (p *Proc) AwaitDone(d time.Duration, cancel <-chan struct{}) StopReason {
	var timeout <-chan time.Time
	if d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case <-timeout:
		return StopElapsed
	case <-cancel:
		return StopCancelled
	case <-p.exited:
		return StopExited
	}
}

// Interrupt sends SIGINT to the subprocess's process group, never a forced
// kill, so rtla performs its own shutdown and writes the final report. If
// group delivery fails the signal is retried on the process directly;
// failure there means the process already exited, which is benign since
// the report is still drained from the captured pipe.
func (p *Proc) Interrupt() {
	pgid := p.cmd.Process.Pid
	if err := syscall.Kill(-pgid, syscall.SIGINT); err != nil {
		_ = p.cmd.Process.Signal(syscall.SIGINT)
	}
	p.log.Debug().Int("pid", pgid).Msg("interrupt delivered")
}

// Drain waits for the subprocess to exit and returns its full captured
// stdout and exit code. The wait is unbounded: if the tool ignores the
// interrupt, the read blocks until it exits on its own.
func (p *Proc) Drain() (string, int) {
	<-p.done
	exitCode := 0
	if p.cmd.ProcessState != nil {
		exitCode = p.cmd.ProcessState.ExitCode()
	}
	return p.stdout.String(), exitCode
}

// StderrText returns whatever the subprocess wrote to stderr. Only valid
// after Drain.
func (p *Proc) StderrText() string {
	return p.stderr.String()
}

// LimitedWriter wraps a buffer with a byte limit.
type LimitedWriter struct {
	W         *bytes.Buffer
	N         int64
	written   int64
	Truncated bool
}

func (lw *LimitedWriter) Write(b []byte) (int, error) {
	if lw.written >= lw.N {
		lw.Truncated = true
		// Report all bytes consumed so exec.Cmd keeps pumping the pipe;
		// Truncated records that data was discarded.
		return len(b), nil
	}
	remaining := lw.N - lw.written
	if int64(len(b)) > remaining {
		n, err := lw.W.Write(b[:remaining])
		lw.written += int64(n)
		lw.Truncated = true
		return len(b), err
	}
	n, err := lw.W.Write(b)
	lw.written += int64(n)
	return n, err
}
