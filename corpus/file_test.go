package corpus

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSplit(t *testing.T, root, dataset, name, content string) {
	t.Helper()
	dir := filepath.Join(root, dataset)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestFileSource_JSONL(t *testing.T) {
	root := t.TempDir()
	writeSplit(t, root, "amazon", "train.jsonl", `{"content":"great product","label":1}
{"text":"broke after a day","label":0}
`)

	got, err := NewFileSource(root).Fetch(context.Background(), "amazon", "train")
	require.NoError(t, err)
	assert.Equal(t, []Example{
		{Text: "great product", Label: 1},
		{Text: "broke after a day", Label: 0},
	}, got)
}

func TestFileSource_CSV(t *testing.T) {
	root := t.TempDir()
	writeSplit(t, root, "amazon", "test.csv", "label,content\n1,\"good, really\"\n0,bad\n")

	got, err := NewFileSource(root).Fetch(context.Background(), "amazon", "test")
	require.NoError(t, err)
	assert.Equal(t, []Example{
		{Text: "good, really", Label: 1},
		{Text: "bad", Label: 0},
	}, got)
}

func TestFileSource_Errors(t *testing.T) {
	root := t.TempDir()
	src := NewFileSource(root)
	ctx := context.Background()

	_, err := src.Fetch(ctx, "amazon", "train")
	assert.ErrorIs(t, err, ErrDataSource)

	writeSplit(t, root, "a", "nolabel.jsonl", `{"content":"x"}`)
	_, err = src.Fetch(ctx, "a", "nolabel")
	assert.ErrorIs(t, err, ErrDataSource)

	writeSplit(t, root, "a", "badjson.jsonl", `{"content":`)
	_, err = src.Fetch(ctx, "a", "badjson")
	assert.ErrorIs(t, err, ErrDataSource)

	writeSplit(t, root, "a", "header.csv", "foo,bar\n1,2\n")
	_, err = src.Fetch(ctx, "a", "header")
	assert.ErrorIs(t, err, ErrDataSource)

	writeSplit(t, root, "a", "label.csv", "content,label\nx,yes\n")
	_, err = src.Fetch(ctx, "a", "label")
	assert.ErrorIs(t, err, ErrDataSource)
}

func TestFileSource_WithLoader(t *testing.T) {
	root := t.TempDir()
	writeSplit(t, root, "ds", "train.jsonl", `{"content":"a","label":0}
{"content":"b","label":1}
{"content":"c","label":2}
`)

	_, err := NewLoader(NewFileSource(root), "ds").Load(context.Background(), "train")
	assert.ErrorIs(t, err, ErrDataSource)

	c, err := NewLoader(NewFileSource(root), "ds", WithLimit(2)).Load(context.Background(), "train")
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len())
}
