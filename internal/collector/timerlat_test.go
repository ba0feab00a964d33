package collector

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/dustinblack/rtlacollect/internal/executor"
	"github.com/dustinblack/rtlacollect/internal/request"
	"github.com/dustinblack/rtlacollect/internal/timeseries"
)

// newTestCollector resolves binaries from dirs instead of the system
// paths and mirrors pipes instead of the kernel trace pipe, so tests
// control what "rtla" is and what the tracer streams.
func newTestCollector(dirs, pipes []string) *Timerlat {
	return &Timerlat{
		runner:    executor.NewRunner(zerolog.Nop()),
		resolver:  executor.NewResolverWithPaths(dirs),
		format:    timeseries.DefaultTraceFormat(),
		pipePaths: pipes,
		log:       zerolog.Nop(),
	}
}

func testdataPath(name string) string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filepath.Dir(filepath.Dir(filename))), "testdata", name)
}

// writeFakeRtla installs a shell script named rtla in a fresh directory
// and returns the directory as a resolver path list. Binary verification
// requires root ownership, so these tests only run as root.
func writeFakeRtla(t *testing.T, body string) []string {
	t.Helper()
	if os.Geteuid() != 0 {
		t.Skip("fake rtla must be root-owned to pass binary verification")
	}
	dir := t.TempDir()
	script := "#!/bin/sh\n" + body
	if err := os.WriteFile(filepath.Join(dir, "rtla"), []byte(script), 0755); err != nil {
		t.Fatal(err)
	}
	return []string{dir}
}

func TestCollect_InvalidRequest(t *testing.T) {
	c := newTestCollector([]string{t.TempDir()}, nil)
	req := &request.CollectionRequest{Entries: request.MaxEntries + 1}

	outcome := c.Collect(context.Background(), req, nil)
	if outcome.Error == nil {
		t.Fatal("expected error outcome for invalid request")
	}
	if outcome.Result != nil {
		t.Error("error outcome also carries a result")
	}
	if !strings.Contains(outcome.Error.Error, "entries") {
		t.Errorf("error %q does not name the invalid field", outcome.Error.Error)
	}
}

func TestCollect_BinaryNotFound(t *testing.T) {
	c := newTestCollector([]string{t.TempDir()}, nil)
	outcome := c.Collect(context.Background(), &request.CollectionRequest{}, nil)
	if outcome.Error == nil {
		t.Fatal("expected error outcome when rtla is absent")
	}
	if !strings.Contains(outcome.Error.Error, "rtla") {
		t.Errorf("error %q does not name the missing tool", outcome.Error.Error)
	}
}

func TestCollect_HappyPath(t *testing.T) {
	dirs := writeFakeRtla(t, fmt.Sprintf("cat %s\n", testdataPath("timerlat_hist.txt")))
	c := newTestCollector(dirs, []string{testdataPath("trace_pipe.txt")})
	req := &request.CollectionRequest{
		UserThreads:      true,
		EnableTimeseries: true,
	}

	outcome := c.Collect(context.Background(), req, nil)
	if outcome.Error != nil {
		t.Fatalf("unexpected error outcome: %s", outcome.Error.Error)
	}
	result := outcome.Result

	if result.TimeUnit != "microseconds" {
		t.Errorf("time unit = %q, want microseconds", result.TimeUnit)
	}
	if len(result.LatencyHist) != 3 {
		t.Errorf("histogram rows = %d, want 3", len(result.LatencyHist))
	}
	if result.TotalIRQLatency.Count == nil || *result.TotalIRQLatency.Count != 1999 {
		t.Errorf("irq count = %v, want 1999", result.TotalIRQLatency.Count)
	}
	if result.TotalUsrLatency == nil || *result.TotalUsrLatency.Max != 24 {
		t.Errorf("usr aggregate = %+v, want max 24", result.TotalUsrLatency)
	}

	if len(result.Timeseries) != 4 {
		t.Fatalf("series = %d, want 4 (%v)", len(result.Timeseries), result.Timeseries)
	}
	pts := result.Timeseries["cpu0_irq"]
	if len(pts) != 2 || pts[0].Latency != 828 || pts[1].Latency != 615 {
		t.Errorf("cpu0_irq points = %+v, want latencies 828, 615", pts)
	}

	meta := result.Metadata
	if meta.RunID == "" || meta.Hostname == "" {
		t.Error("run metadata incomplete")
	}
	if len(meta.Command) < 3 || meta.Command[1] != "timerlat" || meta.Command[2] != "hist" {
		t.Errorf("recorded command = %v", meta.Command)
	}
	if meta.FinishedEarly {
		t.Error("self-exited run marked finished early")
	}
	if meta.TraceNote != "" {
		t.Errorf("unexpected trace note: %q", meta.TraceNote)
	}
	if meta.EndTime.Before(meta.StartTime) {
		t.Error("end time precedes start time")
	}
}

func TestCollect_MalformedTraceKeepsHistogram(t *testing.T) {
	dirs := writeFakeRtla(t, fmt.Sprintf("cat %s\n", testdataPath("timerlat_hist.txt")))
	garbage := filepath.Join(t.TempDir(), "trace")
	if err := os.WriteFile(garbage, []byte("not a trace line at all\n"), 0600); err != nil {
		t.Fatal(err)
	}
	c := newTestCollector(dirs, []string{garbage})
	req := &request.CollectionRequest{EnableTimeseries: true}

	outcome := c.Collect(context.Background(), req, nil)
	if outcome.Error != nil {
		t.Fatalf("trace mismatch aborted the run: %s", outcome.Error.Error)
	}
	if len(outcome.Result.LatencyHist) != 3 {
		t.Errorf("histogram rows = %d, want 3", len(outcome.Result.LatencyHist))
	}
	if outcome.Result.Timeseries != nil {
		t.Error("series survived a format mismatch")
	}
	if outcome.Result.Metadata.TraceNote == "" {
		t.Error("discarded series left no advisory note")
	}
}

func TestCollect_InterruptFlushesReport(t *testing.T) {
	// The fake rtla writes its report only on SIGINT, like the real tool.
	dirs := writeFakeRtla(t, fmt.Sprintf(
		"trap 'cat %s; exit 0' INT\nsleep 30 &\nwait\n", testdataPath("timerlat_hist.txt")))
	c := newTestCollector(dirs, nil)

	cancel := make(chan struct{})
	go func() {
		time.Sleep(300 * time.Millisecond)
		close(cancel)
	}()

	outcome := c.Collect(context.Background(), &request.CollectionRequest{}, cancel)
	if outcome.Error != nil {
		t.Fatalf("unexpected error outcome: %s", outcome.Error.Error)
	}
	if !outcome.Result.Metadata.FinishedEarly {
		t.Error("cancelled run not marked finished early")
	}
	if len(outcome.Result.LatencyHist) != 3 {
		t.Errorf("interrupted tool's flushed report lost: %d rows", len(outcome.Result.LatencyHist))
	}
}

func TestCollect_NonZeroExitIsLaunchError(t *testing.T) {
	dirs := writeFakeRtla(t, "echo 'no such tracer' >&2\nexit 3\n")
	c := newTestCollector(dirs, nil)

	outcome := c.Collect(context.Background(), &request.CollectionRequest{}, nil)
	if outcome.Error == nil {
		t.Fatal("expected error outcome for non-zero exit")
	}
	if !strings.Contains(outcome.Error.Error, "return code 3") {
		t.Errorf("error %q missing exit code", outcome.Error.Error)
	}
	if !strings.Contains(outcome.Error.Error, "no such tracer") {
		t.Errorf("error %q missing captured output", outcome.Error.Error)
	}
}

func TestErrOutcome(t *testing.T) {
	outcome := errOutcome("boom")
	if outcome.Result != nil {
		t.Error("error outcome carries a result")
	}
	if outcome.Error == nil || outcome.Error.Error != "boom" {
		t.Errorf("outcome.Error = %+v, want boom", outcome.Error)
	}
}

// --- mergedCancel ---

func TestMergedCancel_NilChannelUsesContext(t *testing.T) {
	ctx, cancelCtx := context.WithCancel(context.Background())
	settled := make(chan struct{})
	defer close(settled)

	out := mergedCancel(ctx, nil, settled)
	select {
	case <-out:
		t.Fatal("fired before context cancellation")
	default:
	}
	cancelCtx()
	select {
	case <-out:
	case <-time.After(time.Second):
		t.Fatal("context cancellation did not propagate")
	}
}

func TestMergedCancel_HostChannel(t *testing.T) {
	cancel := make(chan struct{})
	settled := make(chan struct{})
	defer close(settled)

	out := mergedCancel(context.Background(), cancel, settled)
	close(cancel)
	select {
	case <-out:
	case <-time.After(time.Second):
		t.Fatal("host cancellation did not propagate")
	}
}

func TestMergedCancel_SettledReleasesFold(t *testing.T) {
	cancel := make(chan struct{})
	settled := make(chan struct{})

	out := mergedCancel(context.Background(), cancel, settled)
	close(settled)
	select {
	case <-out:
	case <-time.After(time.Second):
		t.Fatal("settle did not release the merge goroutine")
	}
}

func TestHostname(t *testing.T) {
	if hostname() == "" {
		t.Error("hostname is empty")
	}
}
