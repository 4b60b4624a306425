// Package codec centralizes the JSON encoding used for corpus lines and run reports.
package codec

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
)

// Codec encodes/decodes values.
// Implementations must be safe for concurrent use.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// Default is the codec used by the corpus reader and the pipeline report.
var Default Codec = GoJSON{}

// ByName returns a built-in codec by its stable name.
func ByName(name string) (Codec, bool) {
	switch name {
	case "go-json", "json":
		return GoJSON{}, true
	default:
		return nil, false
	}
}

// MaxLineSize bounds a single JSON Lines record.
const MaxLineSize = 16 * 1024 * 1024

// DecodeLines decodes each non-blank line of r with c and passes it to fn together with
// its 1-based line number.
func DecodeLines[T any](r io.Reader, c Codec, fn func(line int, v T) error) error {
	if c == nil {
		c = Default
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), MaxLineSize)

	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}

		var v T
		if err := c.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if err := fn(line, v); err != nil {
			return err
		}
	}
	return sc.Err()
}
