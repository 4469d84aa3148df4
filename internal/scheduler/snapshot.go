package scheduler

import (
	"bytes"

	json "github.com/goccy/go-json"
)

// encodeSnapshot renders the thread document with sorted keys and a
// four-space indent, without a trailing newline.
func encodeSnapshot(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "    ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
