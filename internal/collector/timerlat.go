// Package collector runs one timerlat collection end to end: it drives the
// rtla subprocess and the optional trace mirror, then parses both captures
// into a CollectionOutcome.
package collector

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dustinblack/rtlacollect/internal/executor"
	"github.com/dustinblack/rtlacollect/internal/model"
	"github.com/dustinblack/rtlacollect/internal/report"
	"github.com/dustinblack/rtlacollect/internal/request"
	"github.com/dustinblack/rtlacollect/internal/timeseries"
	"github.com/dustinblack/rtlacollect/internal/tracer"
)

const (
	rtlaBinary = "rtla"

	// The trace pipe appears as soon as the tracing session opens; the
	// poll budget only covers slow tracefs mounts.
	pipePollBudget   = 5 * time.Second
	pipePollInterval = 100 * time.Millisecond
)

// Timerlat is the single operation exposed to the host orchestration
// layer: it accepts a CollectionRequest and returns a CollectionOutcome.
// Each Collect invocation owns private handles and buffers; nothing is
// shared across concurrent invocations.
type Timerlat struct {
	runner    *executor.Runner
	resolver  *executor.Resolver
	format    timeseries.TraceFormat
	pipePaths []string
	log       zerolog.Logger
}

// New returns a Timerlat collector with the default rtla resolution paths
// and trace-line format.
func New(log zerolog.Logger) *Timerlat {
	return &Timerlat{
		runner:    executor.NewRunner(log),
		resolver:  executor.NewResolver(),
		format:    timeseries.DefaultTraceFormat(),
		pipePaths: tracer.DefaultPipePaths,
		log:       log,
	}
}

// Collect runs `rtla timerlat hist` for the request's window. The cancel
// channel is the host's stop-now notification and is treated identically
// to duration expiry; ctx cancellation counts as the same signal. The
// subprocess is interrupted, never killed, so it flushes its final report.
func (t *Timerlat) Collect(ctx context.Context, req *request.CollectionRequest, cancel <-chan struct{}) model.CollectionOutcome {
	if err := req.Validate(); err != nil {
		return errOutcome(err.Error())
	}
	binary, err := t.resolver.ResolveBinary(rtlaBinary)
	if err != nil {
		return errOutcome(err.Error())
	}

	argv := append([]string{binary, "timerlat", "hist"}, req.ToFlags()...)
	start := time.Now()

	// The mirror is armed before rtla starts so no samples from the
	// measurement window are missed. Its absence is not an error: the run
	// degrades to a histogram-only result with an advisory note.
	var mirror *tracer.Mirror
	var traceNote string
	if req.EnableTimeseries {
		if pipe, ok := tracer.WaitForPipe(t.pipePaths, pipePollBudget, pipePollInterval); ok {
			m, merr := tracer.StartMirror(pipe, t.log)
			if merr != nil {
				traceNote = fmt.Sprintf("trace mirror unavailable: %v", merr)
				t.log.Warn().Err(merr).Msg("trace mirror failed to start")
			} else {
				mirror = m
			}
		} else {
			traceNote = "trace pipe never became readable"
			t.log.Warn().Strs("paths", t.pipePaths).Msg("trace pipe unavailable")
		}
	}

	proc, err := t.runner.Start(argv)
	if err != nil {
		if mirror != nil {
			mirror.Stop()
		}
		return errOutcome(err.Error())
	}

	t.log.Info().
		Str("command", strings.Join(argv, " ")).
		Msg("gathering data")

	settled := make(chan struct{})
	defer close(settled)
	reason := proc.AwaitDone(req.Duration, mergedCancel(ctx, cancel, settled))
	if reason != executor.StopExited {
		proc.Interrupt()
	}
	output, exitCode := proc.Drain()

	// The mirror stops strictly after the main interrupt, so the final
	// window's samples are captured, and before anything is parsed, so
	// both parsers see a complete snapshot.
	var traceText string
	if mirror != nil {
		traceText = mirror.Stop()
	}

	if reason == executor.StopExited && exitCode != 0 {
		lerr := &executor.LaunchError{
			Command:  rtlaBinary,
			ExitCode: exitCode,
			Output:   output + proc.StderrText(),
		}
		return errOutcome(lerr.Error())
	}

	parsed, err := report.Parse(output, req.UserThreads)
	if err != nil {
		return errOutcome(err.Error())
	}

	result := &model.TimerlatResult{
		TimeUnit:        parsed.TimeUnit,
		LatencyHist:     parsed.Histogram,
		StatsPerCol:     parsed.Stats,
		TotalIRQLatency: parsed.IRQ,
		TotalThrLatency: parsed.Thread,
		TotalUsrLatency: parsed.User,
	}

	if mirror != nil {
		off := timeseries.Offset{Wall: mirror.WallStart, Mono: mirror.MonoStart}
		series, terr := timeseries.Parse(traceText, t.format, off, req.CPUs, req.TimeseriesInterval)
		if terr != nil {
			// Format mismatch invalidates the whole series but never the
			// run; the histogram result stands on its own.
			traceNote = terr.Error()
			t.log.Warn().Err(terr).Msg("discarding time-series data")
		} else if len(series) > 0 {
			result.Timeseries = series
		}
	}

	result.Metadata = model.RunMetadata{
		RunID:         uuid.NewString(),
		Hostname:      hostname(),
		KernelVersion: kernelVersion(),
		Command:       argv,
		StartTime:     start,
		EndTime:       time.Now(),
		FinishedEarly: reason == executor.StopCancelled,
		TraceNote:     traceNote,
	}

	t.log.Info().
		Str("run_id", result.Metadata.RunID).
		Int("histogram_rows", len(result.LatencyHist)).
		Int("series", len(result.Timeseries)).
		Bool("finished_early", result.Metadata.FinishedEarly).
		Msg("collection complete")

	return model.CollectionOutcome{Result: result}
}

// mergedCancel folds ctx cancellation and the host's cancel channel into
// the single stop trigger the subprocess wait races against. The settled
// channel releases the fold once the wait has been decided some other way.
func mergedCancel(ctx context.Context, cancel <-chan struct{}, settled <-chan struct{}) <-chan struct{} {
	if cancel == nil {
		return ctx.Done()
	}
	out := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-cancel:
		case <-settled:
		}
		close(out)
	}()
	return out
}

func errOutcome(msg string) model.CollectionOutcome {
	return model.CollectionOutcome{Error: &model.ErrorOutput{Error: msg}}
}

func hostname() string {
	name, _ := os.Hostname()
	return name
}

func kernelVersion() string {
	data, err := os.ReadFile("/proc/version")
	if err != nil {
		return ""
	}
	fields := strings.Fields(string(data))
	if len(fields) >= 3 {
		return fields[2]
	}
	return ""
}
