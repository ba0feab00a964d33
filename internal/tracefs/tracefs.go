// Package tracefs probes the kernel tracing facilities rtla depends on:
// the tracefs mount, the timerlat tracer, and BPF-assisted sample
// collection support.
package tracefs

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/features"
)

// Info describes the tracing support available on this host.
type Info struct {
	TracefsMounted bool   `json:"tracefs_mounted"`
	TracefsPath    string `json:"tracefs_path,omitempty"`
	TimerlatTracer bool   `json:"timerlat_tracer"`
	TracePipe      string `json:"trace_pipe,omitempty"`
	KernelVersion  string `json:"kernel_version"`
	MajorVersion   int    `json:"major_version"`
	MinorVersion   int    `json:"minor_version"`
	// BPFSampleMode reports whether the kernel accepts tracepoint BPF
	// programs; newer rtla builds use them to collect samples without
	// copying the full trace buffer.
	BPFSampleMode bool `json:"bpf_sample_mode"`
}

// tracefsMounts are probed in preference order; older distros only expose
// tracefs under debugfs.
var tracefsMounts = []string{
	"/sys/kernel/tracing",
	"/sys/kernel/debug/tracing",
}

// Detect probes the host. It never fails: missing facilities are reported
// as unavailable, not as errors.
func Detect() *Info {
	info := &Info{}
	info.KernelVersion = readKernelVersion()
	info.MajorVersion, info.MinorVersion = parseKernelVersion(info.KernelVersion)

	for _, mount := range tracefsMounts {
		if _, err := os.Stat(filepath.Join(mount, "available_tracers")); err == nil {
			info.TracefsMounted = true
			info.TracefsPath = mount
			break
		}
	}

	if info.TracefsPath != "" {
		if data, err := os.ReadFile(filepath.Join(info.TracefsPath, "available_tracers")); err == nil {
			for _, tracer := range strings.Fields(string(data)) {
				if tracer == "timerlat" {
					info.TimerlatTracer = true
					break
				}
			}
		}
		pipe := filepath.Join(info.TracefsPath, "trace_pipe")
		if _, err := os.Stat(pipe); err == nil {
			info.TracePipe = pipe
		}
	}

	if err := features.HaveProgramType(ebpf.TracePoint); err == nil {
		info.BPFSampleMode = true
	}

	return info
}

func readKernelVersion() string {
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

func parseKernelVersion(version string) (int, int) {
	parts := strings.SplitN(version, ".", 3)
	if len(parts) < 2 {
		return 0, 0
	}
	major, _ := strconv.Atoi(parts[0])
	// Minor might contain a dash (e.g. "8-generic").
	minorStr := parts[1]
	if idx := strings.IndexAny(minorStr, "-+~"); idx >= 0 {
		minorStr = minorStr[:idx]
	}
	minor, _ := strconv.Atoi(minorStr)
	return major, minor
}

// Format returns a human-readable summary for the capabilities command.
func Format(info *Info) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Kernel: %s\n\n", info.KernelVersion))

	entries := []struct {
		name string
		ok   bool
		note string
	}{
		{"tracefs", info.TracefsMounted, info.TracefsPath},
		{"timerlat tracer", info.TimerlatTracer, ""},
		{"trace_pipe", info.TracePipe != "", info.TracePipe},
		{"BPF sample mode", info.BPFSampleMode, ""},
	}
	for _, e := range entries {
		status := "✗"
		if e.ok {
			status = "✓"
		}
		if e.note != "" {
			sb.WriteString(fmt.Sprintf("  %s %s (%s)\n", status, e.name, e.note))
		} else {
			sb.WriteString(fmt.Sprintf("  %s %s\n", status, e.name))
		}
	}

	return sb.String()
}
