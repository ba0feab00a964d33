// Package timeseries converts raw timerlat tracer lines from the kernel
// trace pipe into per-(CPU, context) latency series.
package timeseries

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustinblack/rtlacollect/internal/model"
)

// TraceFormat names the whitespace-separated field positions of a timerlat
// trace line, counted after the closing bracket of the CPU field. The
// layout is kernel-version dependent, so it is explicit configuration
// rather than a guess: substitute a different format when the kernel's
// field order changes.
type TraceFormat struct {
	// TimestampField holds the monotonic seconds value, suffixed with ':'.
	TimestampField int
	// ContextField holds the context tag (irq, thread, user-ret).
	ContextField int
	// LatencyField holds the integer latency in the tool-native unit.
	LatencyField int
}

// DefaultTraceFormat matches current kernels:
//
//	<idle>-0  [000] dNh1.  123.456789: #1234 context   irq timer_latency    828 ns
func DefaultTraceFormat() TraceFormat {
	return TraceFormat{
		TimestampField: 1,
		ContextField:   4,
		LatencyField:   6,
	}
}

// Offset converts monotonic trace timestamps into wall-clock time. Wall and
// Mono are sampled at the same instant when the mirror starts; absolute
// alignment is only as accurate as that one-time sample, but relative
// ordering and spacing between samples stays monotonic-clock-exact.
type Offset struct {
	Wall time.Time
	Mono float64
}

// WallClockAt maps a monotonic trace timestamp to wall-clock time.
func (o Offset) WallClockAt(mono float64) time.Time {
	return o.Wall.Add(time.Duration((mono - o.Mono) * float64(time.Second)))
}

// FormatError reports a trace line that does not match the configured
// layout. One bad line means the format is globally incompatible, not that
// the line is corrupt: the caller discards all series for the run and
// keeps the histogram result.
type FormatError struct {
	Line string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("trace line does not match expected layout: %q", e.Line)
}

// Key builds the series key for a CPU and context tag.
func Key(cpu int, context string) string {
	return fmt.Sprintf("cpu%d_%s", cpu, context)
}

// Parse converts mirrored trace text into series keyed "cpu{N}_{context}",
// samples in arrival order. Samples from CPUs outside cpuSet are dropped
// when the set is non-empty. Per series, a sample is retained only if it is
// the first, or at least minInterval after the previously retained sample
// on the monotonic clock.
func Parse(raw string, format TraceFormat, off Offset, cpuSet []int, minInterval time.Duration) (map[string][]model.TimeseriesPoint, error) {
	wanted := make(map[int]bool, len(cpuSet))
	for _, c := range cpuSet {
		wanted[c] = true
	}

	series := make(map[string][]model.TimeseriesPoint)
	lastKept := make(map[string]float64)
	minGap := minInterval.Seconds()

	for _, line := range strings.Split(raw, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		cpu, mono, context, latency, err := extract(line, format)
		if err != nil {
			return nil, err
		}
		if len(wanted) > 0 && !wanted[cpu] {
			continue
		}
		key := Key(cpu, context)
		if prev, ok := lastKept[key]; ok && mono-prev < minGap {
			continue
		}
		lastKept[key] = mono
		series[key] = append(series[key], model.TimeseriesPoint{
			Timestamp: off.WallClockAt(mono),
			Latency:   latency,
		})
	}

	return series, nil
}

// extract pulls (CPU, monotonic timestamp, context, latency) out of one
// trace line. The CPU is the bracketed field; splitting on the brackets
// keeps the parse independent of how many spaces the task-comm field
// swallows.
func extract(line string, f TraceFormat) (int, float64, string, int64, error) {
	open := strings.Index(line, "[")
	closing := strings.Index(line, "]")
	if open < 0 || closing < open {
		return 0, 0, "", 0, &FormatError{Line: line}
	}
	cpu, err := strconv.Atoi(strings.TrimSpace(line[open+1 : closing]))
	if err != nil {
		return 0, 0, "", 0, &FormatError{Line: line}
	}

	fields := strings.Fields(line[closing+1:])
	last := f.TimestampField
	if f.ContextField > last {
		last = f.ContextField
	}
	if f.LatencyField > last {
		last = f.LatencyField
	}
	if len(fields) <= last {
		return 0, 0, "", 0, &FormatError{Line: line}
	}

	mono, err := strconv.ParseFloat(strings.TrimSuffix(fields[f.TimestampField], ":"), 64)
	if err != nil {
		return 0, 0, "", 0, &FormatError{Line: line}
	}
	latency, err := strconv.ParseInt(fields[f.LatencyField], 10, 64)
	if err != nil {
		return 0, 0, "", 0, &FormatError{Line: line}
	}

	return cpu, mono, fields[f.ContextField], latency, nil
}
