package tracefs

import (
	"strings"
	"testing"
)

func TestParseKernelVersion(t *testing.T) {
	tests := []struct {
		version   string
		wantMajor int
		wantMinor int
	}{
		{"6.8.0-55-generic", 6, 8},
		{"5.14.0-284.11.1.el9_2.x86_64", 5, 14},
		{"5.9", 5, 9},
		{"6.1.0+", 6, 1},
		{"4.18.0~rc1", 4, 18},
		{"garbage", 0, 0},
		{"", 0, 0},
		{"6", 0, 0},
	}
	for _, tt := range tests {
		major, minor := parseKernelVersion(tt.version)
		if major != tt.wantMajor || minor != tt.wantMinor {
			t.Errorf("parseKernelVersion(%q) = %d.%d, want %d.%d",
				tt.version, major, minor, tt.wantMajor, tt.wantMinor)
		}
	}
}

func TestDetect(t *testing.T) {
	info := Detect()
	if info == nil {
		t.Fatal("Detect returned nil")
	}
	// Tracer availability depends on the host; only the invariants are
	// checked here.
	if info.TracePipe != "" && !info.TracefsMounted {
		t.Error("trace pipe reported without a tracefs mount")
	}
	if info.TimerlatTracer && !info.TracefsMounted {
		t.Error("timerlat tracer reported without a tracefs mount")
	}
}

func TestFormat(t *testing.T) {
	info := &Info{
		KernelVersion:  "6.8.0-55-generic",
		TracefsMounted: true,
		TracefsPath:    "/sys/kernel/tracing",
		TimerlatTracer: true,
		TracePipe:      "/sys/kernel/tracing/trace_pipe",
		BPFSampleMode:  false,
	}
	out := Format(info)

	if !strings.Contains(out, "6.8.0-55-generic") {
		t.Error("kernel version missing from summary")
	}
	for _, want := range []string{"tracefs", "timerlat tracer", "trace_pipe", "BPF sample mode"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
	if !strings.Contains(out, "✓ timerlat tracer") {
		t.Errorf("available tracer not marked:\n%s", out)
	}
	if !strings.Contains(out, "✗ BPF sample mode") {
		t.Errorf("unavailable capability not marked:\n%s", out)
	}
}
