// rtlacollect — rtla timerlat latency collector.
//
// Drives `rtla timerlat hist`, optionally mirrors the kernel trace pipe,
// and produces structured JSON reports with histogram, per-column
// statistics, aggregate latencies, and per-CPU timeseries.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dustinblack/rtlacollect/internal/collector"
	"github.com/dustinblack/rtlacollect/internal/output"
	"github.com/dustinblack/rtlacollect/internal/request"
	"github.com/dustinblack/rtlacollect/internal/tracefs"
)

var (
	version = "0.1.0"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "rtlacollect",
		Short: "Collect timer latency measurements via rtla",
		Long: `rtlacollect — single Go binary wrapping the rtla timerlat tracer.

Runs 'rtla timerlat hist' for a bounded window, interrupts it cleanly so
the kernel-side histogram is flushed, and parses the columnar report into
structured JSON. Optionally mirrors /sys/kernel/tracing/trace_pipe during
the run to attach per-CPU latency timeseries.

Requires root and a kernel with the timerlat tracer (>= 5.9).`,
		Version: version,
	}

	// --- collect command ---
	var (
		collectPeriod       int
		collectCPUs         string
		collectHouseKeeping string
		collectDuration     string
		collectNano         bool
		collectBucketSize   int
		collectEntries      int
		collectUserThreads  bool
		collectTimeseries   bool
		collectTSInterval   string
		collectConfig       string
		collectOutput       string
		collectQuiet        bool
		collectVerbose      bool
	)

	collectCmd := &cobra.Command{
		Use:   "collect",
		Short: "Run rtla timerlat hist and emit a JSON report",
		Long:  "Launch 'rtla timerlat hist' with the requested parameters and write the parsed report as JSON.",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger(collectQuiet, collectVerbose)

			req, err := buildRequest(collectConfig,
				collectPeriod, collectCPUs, collectHouseKeeping,
				collectDuration, collectNano, collectBucketSize,
				collectEntries, collectUserThreads,
				collectTimeseries, collectTSInterval)
			if err != nil {
				return err
			}

			// SIGINT/SIGTERM stop the run early; the child is
			// interrupted so it still flushes its histogram.
			cancel := make(chan struct{})
			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sig)
			go func() {
				<-sig
				log.Warn().Msg("signal received, stopping collection")
				close(cancel)
			}()

			outcome := collector.New(log).Collect(context.Background(), req, cancel)

			if err := output.WriteJSON(&outcome, collectOutput); err != nil {
				return err
			}
			if outcome.Error != nil {
				// The failure is already in the JSON output;
				// the exit code flags it for scripts.
				cmd.SilenceUsage = true
				return fmt.Errorf("collection failed: %s", outcome.Error.Error)
			}
			return nil
		},
	}

	collectCmd.Flags().IntVarP(&collectPeriod, "period", "p", 0, "Timerlat period in microseconds")
	collectCmd.Flags().StringVarP(&collectCPUs, "cpus", "c", "", "CPUs to monitor (comma-separated, e.g. 1,2,3)")
	collectCmd.Flags().StringVar(&collectHouseKeeping, "house-keeping", "", "CPUs for rtla housekeeping threads (comma-separated)")
	collectCmd.Flags().StringVarP(&collectDuration, "duration", "d", "", "Collection window (e.g. 10s, 1m); empty runs until interrupted")
	collectCmd.Flags().BoolVarP(&collectNano, "nano", "n", false, "Report latencies in nanoseconds")
	collectCmd.Flags().IntVarP(&collectBucketSize, "bucket-size", "b", 0, "Histogram bucket width")
	collectCmd.Flags().IntVarP(&collectEntries, "entries", "E", 0, "Number of histogram entries (1-1000000)")
	collectCmd.Flags().BoolVarP(&collectUserThreads, "user-threads", "u", false, "Measure user-space threads as well")
	collectCmd.Flags().BoolVar(&collectTimeseries, "timeseries", false, "Mirror the trace pipe and attach per-CPU timeseries")
	collectCmd.Flags().StringVar(&collectTSInterval, "timeseries-interval", "", "Minimum gap between retained timeseries samples (e.g. 100ms)")
	collectCmd.Flags().StringVar(&collectConfig, "config", "", "YAML request file; flags override its fields")
	collectCmd.Flags().StringVarP(&collectOutput, "output", "o", "-", "Output file path (- for stdout)")
	collectCmd.Flags().BoolVarP(&collectQuiet, "quiet", "q", false, "Suppress progress output")
	collectCmd.Flags().BoolVarP(&collectVerbose, "verbose", "v", false, "Enable debug logging")

	// --- capabilities command ---
	capabilitiesCmd := &cobra.Command{
		Use:   "capabilities",
		Short: "Show tracer availability and kernel capabilities",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Print(tracefs.Format(tracefs.Detect()))
			return nil
		},
	}

	rootCmd.AddCommand(collectCmd, capabilitiesCmd, mcpCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newLogger builds the CLI logger. JSON results go to stdout, so logs
// always go to stderr.
func newLogger(quiet, verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if quiet {
		level = zerolog.ErrorLevel
	}
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger().Level(level)
}

// buildRequest assembles the collection request from an optional YAML file
// plus command-line flags. Flags win over file fields.
func buildRequest(configPath string, period int, cpus, houseKeeping, duration string,
	nano bool, bucketSize, entries int, userThreads, timeseries bool,
	tsInterval string) (*request.CollectionRequest, error) {

	req := &request.CollectionRequest{}
	if configPath != "" {
		loaded, err := request.Load(configPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		req = loaded
	}

	if period > 0 {
		req.Period = period
	}
	if cpus != "" {
		set, err := request.ParseCPUList(cpus)
		if err != nil {
			return nil, fmt.Errorf("invalid --cpus: %w", err)
		}
		req.CPUs = set
	}
	if houseKeeping != "" {
		set, err := request.ParseCPUList(houseKeeping)
		if err != nil {
			return nil, fmt.Errorf("invalid --house-keeping: %w", err)
		}
		req.HouseKeeping = set
	}
	if duration != "" {
		d, err := time.ParseDuration(duration)
		if err != nil {
			return nil, fmt.Errorf("invalid --duration: %w", err)
		}
		req.Duration = d
	}
	if nano {
		req.Nano = true
	}
	if bucketSize > 0 {
		req.BucketSize = bucketSize
	}
	if entries > 0 {
		req.Entries = entries
	}
	if userThreads {
		req.UserThreads = true
	}
	if timeseries {
		req.EnableTimeseries = true
	}
	if tsInterval != "" {
		d, err := time.ParseDuration(tsInterval)
		if err != nil {
			return nil, fmt.Errorf("invalid --timeseries-interval: %w", err)
		}
		req.TimeseriesInterval = d
	}

	return req, nil
}
