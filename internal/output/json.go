// Package output handles result serialization.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/dustinblack/rtlacollect/internal/model"
)

// WriteJSON serializes a collection outcome as indented JSON. If path is
// "-" or empty, writes to stdout. Escaping is left off so the argv in the
// run metadata stays readable.
func WriteJSON(outcome *model.CollectionOutcome, path string) error {
	var w io.Writer = os.Stdout
	if path != "" && path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(outcome); err != nil {
		return fmt.Errorf("encode JSON: %w", err)
	}
	return nil
}
