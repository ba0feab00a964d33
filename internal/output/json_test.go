package output

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dustinblack/rtlacollect/internal/model"
)

func sampleOutcome() *model.CollectionOutcome {
	count := int64(1999)
	return &model.CollectionOutcome{
		Result: &model.TimerlatResult{
			TimeUnit:        "microseconds",
			TotalIRQLatency: model.LatencyStats{Count: &count},
			Metadata: model.RunMetadata{
				RunID:   "test-run",
				Command: []string{"/usr/bin/rtla", "timerlat", "hist", "-d", "10"},
			},
		},
	}
}

func TestWriteJSON_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	if err := WriteJSON(sampleOutcome(), path); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	var got model.CollectionOutcome
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if got.Result == nil || got.Result.TimeUnit != "microseconds" {
		t.Errorf("round-trip lost the result: %+v", got.Result)
	}
	if got.Result.TotalIRQLatency.Count == nil || *got.Result.TotalIRQLatency.Count != 1999 {
		t.Error("round-trip lost the aggregate count")
	}
	// Indented output for human inspection.
	if !strings.Contains(string(data), "\n  ") {
		t.Error("output is not indented")
	}
}

func TestWriteJSON_ErrorOutcome(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	outcome := &model.CollectionOutcome{Error: &model.ErrorOutput{Error: "rtla failed with return code 2:\nno such tracer"}}
	if err := WriteJSON(outcome, path); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	data, _ := os.ReadFile(path)
	if strings.Contains(string(data), `"result"`) {
		t.Error("error outcome serialized a result field")
	}
	if !strings.Contains(string(data), "return code 2") {
		t.Error("error text lost in serialization")
	}
}

func TestWriteJSON_NoHTMLEscaping(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	outcome := sampleOutcome()
	outcome.Result.Metadata.Command = []string{"sh", "-c", "a > b"}
	if err := WriteJSON(outcome, path); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	data, _ := os.ReadFile(path)
	if strings.Contains(string(data), "\\u003e") {
		t.Error("output HTML-escaped the command text")
	}
}

func TestWriteJSON_BadPath(t *testing.T) {
	err := WriteJSON(sampleOutcome(), filepath.Join(t.TempDir(), "missing", "out.json"))
	if err == nil {
		t.Error("expected error for unwritable path")
	}
}
