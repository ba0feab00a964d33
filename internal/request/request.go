// Package request defines the immutable configuration for one timerlat
// collection run and its translation into rtla command-line flags.
package request

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"gopkg.in/yaml.v3"
)

// Entries bounds accepted for the histogram entry count (rtla -E).
const (
	MinEntries = 1
	MaxEntries = 1000000
)

// CollectionRequest configures a single `rtla timerlat hist` invocation.
// It is constructed once per run and never mutated afterwards.
type CollectionRequest struct {
	// Period is the timerlat period in microseconds (rtla -p).
	Period int `yaml:"period"`

	// CPUs restricts the tracer to the given CPU set (rtla -c).
	CPUs []int `yaml:"cpus"`

	// HouseKeeping pins rtla's own control threads to the given CPUs
	// (rtla -H), keeping them off the CPUs being measured.
	HouseKeeping []int `yaml:"house_keeping"`

	// Duration bounds the collection window (rtla -d, whole seconds).
	// Zero means no bound: the run ends only on cancellation.
	Duration time.Duration `yaml:"-"`

	// Nano displays latencies in nanoseconds instead of microseconds
	// (rtla -n).
	Nano bool `yaml:"nano"`

	// BucketSize sets the histogram bucket width (rtla -b).
	BucketSize int `yaml:"bucket_size"`

	// Entries sets the number of histogram entries (rtla -E, default 256).
	Entries int `yaml:"entries"`

	// UserThreads measures rtla user-space threads in addition to kernel
	// timerlat threads (rtla -u).
	UserThreads bool `yaml:"user_threads"`

	// EnableTimeseries mirrors the kernel trace pipe alongside the run and
	// attaches per-(CPU, context) latency series to the result.
	EnableTimeseries bool `yaml:"enable_timeseries"`

	// TimeseriesInterval is the minimum monotonic gap between retained
	// samples per (CPU, context) series. Zero keeps every sample.
	TimeseriesInterval time.Duration `yaml:"-"`
}

// hostCPUCount is swappable for tests.
var hostCPUCount = func() (int, error) { return cpu.Counts(true) }

// Validate checks the request invariants: the entry count, if set, lies in
// [MinEntries, MaxEntries], and CPU sets contain only non-negative indices
// that exist on this host (the host bound is skipped when the topology
// cannot be read).
func (r *CollectionRequest) Validate() error {
	if r.Entries != 0 && (r.Entries < MinEntries || r.Entries > MaxEntries) {
		return fmt.Errorf("entries %d out of range [%d, %d]", r.Entries, MinEntries, MaxEntries)
	}
	if err := validateCPUSet("cpus", r.CPUs); err != nil {
		return err
	}
	if err := validateCPUSet("house-keeping", r.HouseKeeping); err != nil {
		return err
	}
	return nil
}

func validateCPUSet(name string, set []int) error {
	count, countErr := hostCPUCount()
	for _, c := range set {
		if c < 0 {
			return fmt.Errorf("%s: CPU index %d is negative", name, c)
		}
		if countErr == nil && c >= count {
			return fmt.Errorf("%s: CPU %d does not exist on this host (%d CPUs)", name, c, count)
		}
	}
	return nil
}

// ToFlags renders the request as rtla arguments: one flag token per
// non-empty field, list values comma-joined into a single argument,
// booleans presence-only.
func (r *CollectionRequest) ToFlags() []string {
	var flags []string
	if r.Period > 0 {
		flags = append(flags, "-p", strconv.Itoa(r.Period))
	}
	if len(r.CPUs) > 0 {
		flags = append(flags, "-c", joinCPUs(r.CPUs))
	}
	if len(r.HouseKeeping) > 0 {
		flags = append(flags, "-H", joinCPUs(r.HouseKeeping))
	}
	if r.Duration > 0 {
		flags = append(flags, "-d", strconv.Itoa(int(r.Duration/time.Second)))
	}
	if r.Nano {
		flags = append(flags, "-n")
	}
	if r.BucketSize > 0 {
		flags = append(flags, "-b", strconv.Itoa(r.BucketSize))
	}
	if r.Entries > 0 {
		flags = append(flags, "-E", strconv.Itoa(r.Entries))
	}
	if r.UserThreads {
		flags = append(flags, "-u")
	}
	return flags
}

func joinCPUs(set []int) string {
	parts := make([]string, len(set))
	for i, c := range set {
		parts[i] = strconv.Itoa(c)
	}
	return strings.Join(parts, ",")
}

// ParseCPUList parses a comma-separated CPU list such as "1,2,5".
func ParseCPUList(s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var cpus []int
	for _, part := range strings.Split(s, ",") {
		c, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid CPU list %q: %w", s, err)
		}
		cpus = append(cpus, c)
	}
	return cpus, nil
}

// fileRequest mirrors CollectionRequest for yaml config files, with
// durations given as strings (e.g. "30s", "5m").
type fileRequest struct {
	Period             int    `yaml:"period"`
	CPUs               []int  `yaml:"cpus"`
	HouseKeeping       []int  `yaml:"house_keeping"`
	Duration           string `yaml:"duration"`
	Nano               bool   `yaml:"nano"`
	BucketSize         int    `yaml:"bucket_size"`
	Entries            int    `yaml:"entries"`
	UserThreads        bool   `yaml:"user_threads"`
	EnableTimeseries   bool   `yaml:"enable_timeseries"`
	TimeseriesInterval string `yaml:"timeseries_interval"`
}

// Load reads a CollectionRequest from a yaml config file.
func Load(path string) (*CollectionRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var fr fileRequest
	if err := yaml.Unmarshal(data, &fr); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	req := &CollectionRequest{
		Period:           fr.Period,
		CPUs:             fr.CPUs,
		HouseKeeping:     fr.HouseKeeping,
		Nano:             fr.Nano,
		BucketSize:       fr.BucketSize,
		Entries:          fr.Entries,
		UserThreads:      fr.UserThreads,
		EnableTimeseries: fr.EnableTimeseries,
	}
	if fr.Duration != "" {
		d, err := time.ParseDuration(fr.Duration)
		if err != nil {
			return nil, fmt.Errorf("config %s: invalid duration: %w", path, err)
		}
		req.Duration = d
	}
	if fr.TimeseriesInterval != "" {
		d, err := time.ParseDuration(fr.TimeseriesInterval)
		if err != nil {
			return nil, fmt.Errorf("config %s: invalid timeseries_interval: %w", path, err)
		}
		req.TimeseriesInterval = d
	}
	return req, nil
}
