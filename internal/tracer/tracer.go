// Package tracer mirrors the kernel trace pipe into a capture buffer for
// the duration of a timerlat collection window.
package tracer

import (
	"bytes"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/dustinblack/rtlacollect/internal/executor"
)

// maxTraceBytes caps the mirror's capture buffer. trace_pipe can stream
// heavily on busy systems; the cap keeps a long window from exhausting
// memory. Swappable for tests.
var maxTraceBytes int64 = 256 * 1024 * 1024

// DefaultPipePaths are the trace pipe locations probed, in preference
// order. Both tracefs mount points are checked because distros still
// differ on where tracefs lives.
var DefaultPipePaths = []string{
	"/sys/kernel/tracing/trace_pipe",
	"/sys/kernel/debug/tracing/trace_pipe",
}

// WaitForPipe polls for a readable trace pipe at any of the given paths,
// retrying every interval until the budget is exhausted. An unavailable
// pipe is reported with ok=false, not an error: the caller proceeds
// without time-series data.
func WaitForPipe(paths []string, budget, interval time.Duration) (string, bool) {
	deadline := time.Now().Add(budget)
	for {
		for _, path := range paths {
			f, err := os.Open(path)
			if err == nil {
				f.Close()
				return path, true
			}
		}
		if time.Now().After(deadline) {
			return "", false
		}
		time.Sleep(interval)
	}
}

// Mirror copies the trace pipe into a capture buffer via a cat child in its
// own process group. Reads on trace_pipe block indefinitely, so the copy is
// stopped the same way as the measurement tool: a process-group interrupt,
// delivered in lockstep with the main subprocess's.
type Mirror struct {
	cmd    *exec.Cmd
	buf    bytes.Buffer
	lw     *executor.LimitedWriter
	exited chan struct{}

	// WallStart and MonoStart are sampled once when mirroring begins;
	// their difference is the offset that converts trace timestamps
	// (monotonic seconds) into wall-clock time.
	WallStart time.Time
	MonoStart float64

	log zerolog.Logger
}

// StartMirror begins copying the trace pipe at path. The capture buffer is
// not readable until Stop returns.
func StartMirror(path string, log zerolog.Logger) (*Mirror, error) {
	cmd := exec.Command("cat", path)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	m := &Mirror{
		cmd:    cmd,
		exited: make(chan struct{}),
		log:    log,
	}
	m.lw = &executor.LimitedWriter{W: &m.buf, N: maxTraceBytes}
	cmd.Stdout = m.lw

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	m.WallStart = time.Now()
	m.MonoStart = monotonicSeconds()

	go func() {
		_ = cmd.Wait()
		close(m.exited)
	}()

	log.Debug().Str("pipe", path).Int("pid", cmd.Process.Pid).Msg("trace mirror started")
	return m, nil
}

// Stop interrupts the mirror's process group and waits for the capture to
// settle, then returns the complete trace text for the window. A failed
// group signal means the child already exited; the buffer still holds
// everything it copied.
func (m *Mirror) Stop() string {
	pgid := m.cmd.Process.Pid
	if err := syscall.Kill(-pgid, syscall.SIGINT); err != nil {
		_ = m.cmd.Process.Signal(syscall.SIGINT)
	}
	<-m.exited
	if m.lw.Truncated {
		m.log.Warn().Int64("limit", maxTraceBytes).Msg("trace capture truncated at byte limit")
	}
	m.log.Debug().Int("bytes", m.buf.Len()).Msg("trace mirror stopped")
	return m.buf.String()
}

// monotonicSeconds reads CLOCK_MONOTONIC, the clock the tracer stamps
// trace_pipe lines with.
func monotonicSeconds() float64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0
	}
	return float64(ts.Sec) + float64(ts.Nsec)/1e9
}
