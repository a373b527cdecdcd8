package cli

import (
	"bytes"
	stdjson "encoding/json"
	"fmt"

	json "github.com/json-iterator/go"
)

// printRaw writes a raw JSON value on its own line, indented when stdout
// is a terminal and --json was not given.
func printRaw(raw []byte) error {
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	if isStdoutTTY() && !JSONOutput {
		var buf bytes.Buffer
		if err := stdjson.Indent(&buf, raw, "", "  "); err == nil {
			raw = buf.Bytes()
		}
	}
	_, err := fmt.Fprintf(stdout, "%s\n", raw)
	return err
}

// printValue marshals v and prints it with printRaw.
func printValue(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return printRaw(data)
}
