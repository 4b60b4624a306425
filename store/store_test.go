package store

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/hupe1980/vecclf/blobstore"
	"github.com/hupe1980/vecclf/internal/fs"
	"github.com/hupe1980/vecclf/tensor"
	"github.com/hupe1980/vecclf/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomMatrix(t *testing.T, rows, cols int) *tensor.Matrix {
	t.Helper()
	m, err := tensor.FromRows(testutil.NewRNG(7).GaussianVectors(rows, cols))
	require.NoError(t, err)
	return m
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()

	backends := map[string]blobstore.BlobStore{
		"memory": blobstore.NewMemoryStore(),
		"local":  blobstore.NewLocalStore(t.TempDir()),
	}

	for name, blobs := range backends {
		t.Run(name, func(t *testing.T) {
			s := New(blobs)
			m := randomMatrix(t, 25, 12)
			m.Data[3] = float32(math.Inf(-1))
			m.Data[4] = float32(math.Copysign(0, -1))
			labels := testutil.NewRNG(1).BinaryLabels(25)

			require.NoError(t, s.Save(ctx, "corpus", m, labels))

			got, err := s.LoadEmbeddings(ctx, "corpus", tensor.Shape{Rows: 25, Cols: 12})
			require.NoError(t, err)
			require.Equal(t, m.Shape(), got.Shape())
			for i := range m.Data {
				assert.Equal(t, math.Float32bits(m.Data[i]), math.Float32bits(got.Data[i]), "element %d", i)
			}

			inferred, err := s.LoadEmbeddings(ctx, "corpus", tensor.Shape{Cols: 12})
			require.NoError(t, err)
			assert.Equal(t, 25, inferred.Rows)

			gotLabels, err := s.LoadLabels(ctx, "corpus", 25)
			require.NoError(t, err)
			assert.Equal(t, labels, gotLabels)

			names, err := blobs.List(ctx, "corpus")
			require.NoError(t, err)
			assert.Equal(t, []string{"corpus_embeds", "corpus_labels"}, names)
		})
	}
}

func TestLabelsLayout(t *testing.T) {
	ctx := context.Background()
	blobs := blobstore.NewMemoryStore()
	s := New(blobs)

	require.NoError(t, s.SaveLabels(ctx, "p", []int{1, 0, 1}))

	raw, err := blobstore.ReadAll(ctx, blobs, "p_labels")
	require.NoError(t, err)
	require.Len(t, raw, 24)
	assert.Equal(t, uint64(1), binary.LittleEndian.Uint64(raw[0:]))
	assert.Equal(t, uint64(0), binary.LittleEndian.Uint64(raw[8:]))
	assert.Equal(t, uint64(1), binary.LittleEndian.Uint64(raw[16:]))
}

func TestEmbeddingsLayout(t *testing.T) {
	ctx := context.Background()
	blobs := blobstore.NewMemoryStore()
	s := New(blobs)

	m, err := tensor.FromRows([][]float32{{1, 2}, {3, 4}})
	require.NoError(t, err)
	require.NoError(t, s.SaveEmbeddings(ctx, "p", m))

	raw, err := blobstore.ReadAll(ctx, blobs, "p_embeds")
	require.NoError(t, err)
	require.Len(t, raw, 16)
	assert.Equal(t, float32(3), math.Float32frombits(binary.LittleEndian.Uint32(raw[8:])))
}

func TestFormatErrors(t *testing.T) {
	ctx := context.Background()
	blobs := blobstore.NewMemoryStore()
	s := New(blobs)

	require.NoError(t, s.SaveEmbeddings(ctx, "p", tensor.New(4, 3)))
	require.NoError(t, s.SaveLabels(ctx, "p", []int{0, 1, 0, 1}))

	tests := []struct {
		name string
		fn   func() error
	}{
		{"WrongRows", func() error { _, err := s.LoadEmbeddings(ctx, "p", tensor.Shape{Rows: 5, Cols: 3}); return err }},
		{"WrongCols", func() error { _, err := s.LoadEmbeddings(ctx, "p", tensor.Shape{Cols: 5}); return err }},
		{"ZeroCols", func() error { _, err := s.LoadEmbeddings(ctx, "p", tensor.Shape{}); return err }},
		{"WrongLabelCount", func() error { _, err := s.LoadLabels(ctx, "p", 3); return err }},
		{"NegativeCount", func() error { _, err := s.LoadLabels(ctx, "p", -1); return err }},
		{"SaveMismatch", func() error { return s.Save(ctx, "q", tensor.New(2, 2), []int{1}) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.fn(), ErrFormat)
		})
	}

	require.NoError(t, blobs.Put(ctx, "odd_labels", make([]byte, 7)))
	_, err := s.LoadLabels(ctx, "odd", 0)
	assert.ErrorIs(t, err, ErrFormat)
}

func TestIOErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("Missing", func(t *testing.T) {
		s := New(blobstore.NewMemoryStore())
		_, err := s.LoadEmbeddings(ctx, "nope", tensor.Shape{Cols: 2})
		assert.ErrorIs(t, err, ErrIO)
		assert.ErrorIs(t, err, blobstore.ErrNotFound)

		_, err = s.LoadLabels(ctx, "nope", 0)
		assert.ErrorIs(t, err, ErrIO)
	})

	t.Run("WriteFailure", func(t *testing.T) {
		injected := errors.New("no space left on device")
		ffs := fs.NewFaultyFS(nil)
		ffs.AddRule("_labels", fs.Fault{FailAfterBytes: 0, Err: injected})

		s := New(blobstore.NewLocalStore(t.TempDir(), blobstore.WithFileSystem(ffs)))
		err := s.Save(ctx, "run", tensor.New(2, 2), []int{0, 1})
		assert.ErrorIs(t, err, ErrIO)
		assert.ErrorIs(t, err, injected)
	})
}
