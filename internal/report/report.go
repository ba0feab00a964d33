// Package report parses the columnar text report emitted by
// `rtla timerlat hist` into typed histogram, statistics, and aggregate
// summary data.
//
// The report has three sections plus headers: histogram buckets (one row
// per latency bucket, one column per CPU/context), per-column statistics
// (over/count/min/avg/max rows in the same column shape), and an ALL block
// collapsing the statistics across CPUs:
//
//	# RTLA timerlat histogram
//	# Time unit is microseconds (us)
//	Index   IRQ-001   Thr-001   Usr-001
//	0          1000       944       134
//	over:         0         0         0
//	count:     1000      1000      1000
//	...
//	ALL:        IRQ       Thr       Usr
//	count:     1000      1000      1000
package report

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dustinblack/rtlacollect/internal/model"
)

// MalformedReportError reports a report field that could not be parsed.
// The offending line is carried verbatim for operator diagnosis (tool not
// installed correctly, incompatible rtla version, and so on).
type MalformedReportError struct {
	Line string
	Err  error
}

func (e *MalformedReportError) Error() string {
	return fmt.Sprintf("malformed report line %q: %v", e.Line, e.Err)
}

func (e *MalformedReportError) Unwrap() error { return e.Err }

// statLabels are the per-column statistic rows rtla emits below the
// histogram buckets.
var statLabels = map[string]bool{
	"over":  true,
	"count": true,
	"min":   true,
	"avg":   true,
	"max":   true,
}

var timeUnitRe = regexp.MustCompile(`^# Time unit is (\w+)`)

// Parsed holds the typed contents of one report.
type Parsed struct {
	TimeUnit  string
	Histogram []model.HistogramRow
	Stats     []model.StatRow
	IRQ       model.LatencyStats
	Thread    model.LatencyStats
	User      *model.LatencyStats
}

// Parse runs a three-phase single pass over the captured rtla output.
// userThreads controls whether the user-thread aggregate is populated: when
// false it stays entirely absent even if the report carries a Usr column.
//
// An empty or header-only report parses to empty sequences and all-null
// aggregates; the measurement legitimately produced no data.
func Parse(raw string, userThreads bool) (*Parsed, error) {
	p := &Parsed{}
	if userThreads {
		p.User = &model.LatencyStats{}
	}

	lines := strings.Split(raw, "\n")
	i := 0

	// Phase 1: headers. The time-unit declaration is optional (older rtla
	// omits it); the Index header line starts the row section and fixes
	// the column names, first being the index column.
	var cols []string
	for ; i < len(lines); i++ {
		if m := timeUnitRe.FindStringSubmatch(lines[i]); m != nil {
			p.TimeUnit = m[1]
		} else if strings.HasPrefix(lines[i], "Index") {
			cols = strings.Fields(strings.ToLower(lines[i]))
			i++
			break
		}
	}
	if len(cols) == 0 {
		return p, nil
	}

	// Phase 2: histogram buckets, then per-column statistics, up to the
	// ALL summary marker. The marker line itself carries no row values.
	for ; i < len(lines); i++ {
		fields := strings.Fields(lines[i])
		if len(fields) == 0 {
			continue
		}
		if strings.HasPrefix(fields[0], "ALL") {
			i++
			break
		}

		if idx, err := strconv.ParseInt(fields[0], 10, 64); err == nil {
			values, err := zipColumns(cols, fields, lines[i])
			if err != nil {
				return nil, err
			}
			p.Histogram = append(p.Histogram, model.HistogramRow{Index: idx, Values: values})
			continue
		}

		label := strings.TrimSuffix(fields[0], ":")
		if !statLabels[label] {
			return nil, &MalformedReportError{
				Line: lines[i],
				Err:  fmt.Errorf("unknown row label %q", fields[0]),
			}
		}
		values, err := zipColumns(cols, fields, lines[i])
		if err != nil {
			return nil, err
		}
		p.Stats = append(p.Stats, model.StatRow{Label: label, Values: values})
	}

	// Phase 3: aggregate summary. The label selects the statistic; the
	// 2nd/3rd/4th tokens populate the IRQ, thread, and (when requested)
	// user aggregates respectively.
	for ; i < len(lines); i++ {
		fields := strings.Fields(lines[i])
		if len(fields) == 0 {
			continue
		}
		label := strings.TrimSuffix(fields[0], ":")
		if label == "over" {
			// over is column-local bookkeeping, never an aggregate.
			continue
		}

		targets := []*model.LatencyStats{&p.IRQ, &p.Thread}
		if p.User != nil {
			targets = append(targets, p.User)
		}
		for n, t := range targets {
			if n+1 >= len(fields) {
				break
			}
			v, err := strconv.ParseInt(fields[n+1], 10, 64)
			if err != nil {
				return nil, &MalformedReportError{Line: lines[i], Err: err}
			}
			if !t.Set(label, v) {
				return nil, &MalformedReportError{
					Line: lines[i],
					Err:  fmt.Errorf("unknown summary label %q", fields[0]),
				}
			}
		}
	}

	return p, nil
}

// zipColumns pairs column headers (after the index column) with the row's
// integer tokens. The zip stops at the shorter side, matching how the
// report itself drops trailing columns.
func zipColumns(cols, fields []string, line string) (map[string]int64, error) {
	n := len(cols)
	if len(fields) < n {
		n = len(fields)
	}
	values := make(map[string]int64, n-1)
	for j := 1; j < n; j++ {
		v, err := strconv.ParseInt(fields[j], 10, 64)
		if err != nil {
			return nil, &MalformedReportError{Line: line, Err: err}
		}
		values[cols[j]] = v
	}
	return values, nil
}
