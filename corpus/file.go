package corpus

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hupe1980/vecclf/codec"
)

// FileSource reads splits from <Root>/<dataset>/<split>.jsonl or <split>.csv.
//
// JSON Lines records carry the text in "content" (or "text") and the label in "label".
// CSV files need a header row with "content" (or "text") and "label" columns.
type FileSource struct {
	Root  string
	Codec codec.Codec
}

// NewFileSource creates a source rooted at dir.
func NewFileSource(dir string) *FileSource {
	return &FileSource{Root: dir, Codec: codec.Default}
}

type jsonRecord struct {
	Content *string `json:"content"`
	Text    *string `json:"text"`
	Label   *int    `json:"label"`
}

// Fetch reads the split file. JSON Lines takes precedence over CSV.
func (s *FileSource) Fetch(ctx context.Context, dataset, split string) ([]Example, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	base := filepath.Join(s.Root, dataset, split)
	for _, ext := range []string{".jsonl", ".csv"} {
		f, err := os.Open(base + ext)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("%w: %w", ErrDataSource, err)
		}

		var examples []Example
		if ext == ".jsonl" {
			examples, err = s.readJSONL(f)
		} else {
			examples, err = readCSV(f)
		}
		_ = f.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: %s%s: %w", ErrDataSource, base, ext, err)
		}
		return examples, nil
	}

	return nil, fmt.Errorf("%w: split %s/%s not found under %s", ErrDataSource, dataset, split, s.Root)
}

func (s *FileSource) readJSONL(r io.Reader) ([]Example, error) {
	var examples []Example
	err := codec.DecodeLines(r, s.Codec, func(line int, rec jsonRecord) error {
		text := rec.Content
		if text == nil {
			text = rec.Text
		}
		if text == nil {
			return fmt.Errorf("line %d: missing content", line)
		}
		if rec.Label == nil {
			return fmt.Errorf("line %d: missing label", line)
		}
		examples = append(examples, Example{Text: *text, Label: *rec.Label})
		return nil
	})
	return examples, err
}

func readCSV(r io.Reader) ([]Example, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	textCol, labelCol := -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "content", "text":
			if textCol < 0 {
				textCol = i
			}
		case "label":
			labelCol = i
		}
	}
	if textCol < 0 || labelCol < 0 {
		return nil, fmt.Errorf("header %v needs content and label columns", header)
	}

	var examples []Example
	for row := 2; ; row++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if textCol >= len(rec) || labelCol >= len(rec) {
			return nil, fmt.Errorf("row %d: too few columns", row)
		}

		label, err := strconv.Atoi(strings.TrimSpace(rec[labelCol]))
		if err != nil {
			return nil, fmt.Errorf("row %d: label: %w", row, err)
		}
		examples = append(examples, Example{Text: rec[textCol], Label: label})
	}
	return examples, nil
}
