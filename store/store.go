// Package store persists embedding matrices and label vectors as raw little-endian
// dumps on a blob store.
//
// Artifacts for a prefix p are p+"_embeds" (float32, row-major) and p+"_labels"
// (int64). The dumps carry no header; the reader supplies the shape.
package store

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/hupe1980/vecclf/blobstore"
	"github.com/hupe1980/vecclf/internal/conv"
	"github.com/hupe1980/vecclf/tensor"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrIO is returned when the backing blob store fails.
	ErrIO = errors.New("store I/O error")
	// ErrFormat is returned when a stored artifact does not match the requested shape.
	ErrFormat = errors.New("store format error")
)

const (
	EmbedsSuffix = "_embeds"
	LabelsSuffix = "_labels"

	float32Size = 4
	int64Size   = 8
)

// Store reads and writes embedding artifacts.
type Store struct {
	blobs  blobstore.BlobStore
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New creates a store on blobs.
func New(blobs blobstore.BlobStore, optFns ...Option) *Store {
	s := &Store{blobs: blobs, logger: slog.New(slog.DiscardHandler)}
	for _, fn := range optFns {
		fn(s)
	}
	return s
}

// EmbedsName returns the blob name of the embedding dump for prefix.
func EmbedsName(prefix string) string { return prefix + EmbedsSuffix }

// LabelsName returns the blob name of the label dump for prefix.
func LabelsName(prefix string) string { return prefix + LabelsSuffix }

// SaveEmbeddings writes m as a float32 little-endian dump.
func (s *Store) SaveEmbeddings(ctx context.Context, prefix string, m *tensor.Matrix) error {
	buf := make([]byte, len(m.Data)*float32Size)
	for i, v := range m.Data {
		binary.LittleEndian.PutUint32(buf[i*float32Size:], math.Float32bits(v))
	}

	name := EmbedsName(prefix)
	if err := s.blobs.Put(ctx, name, buf); err != nil {
		return fmt.Errorf("%w: write %s: %w", ErrIO, name, err)
	}

	s.logger.Debug("embeddings saved", "blob", name, "rows", m.Rows, "cols", m.Cols, "bytes", len(buf))
	return nil
}

// SaveLabels writes labels as an int64 little-endian dump.
func (s *Store) SaveLabels(ctx context.Context, prefix string, labels []int) error {
	buf := make([]byte, len(labels)*int64Size)
	for i, l := range labels {
		binary.LittleEndian.PutUint64(buf[i*int64Size:], uint64(int64(l)))
	}

	name := LabelsName(prefix)
	if err := s.blobs.Put(ctx, name, buf); err != nil {
		return fmt.Errorf("%w: write %s: %w", ErrIO, name, err)
	}

	s.logger.Debug("labels saved", "blob", name, "count", len(labels))
	return nil
}

// Save writes both artifacts concurrently.
func (s *Store) Save(ctx context.Context, prefix string, m *tensor.Matrix, labels []int) error {
	if m.Rows != len(labels) {
		return fmt.Errorf("%w: %d embedding rows but %d labels", ErrFormat, m.Rows, len(labels))
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.SaveEmbeddings(ctx, prefix, m) })
	g.Go(func() error { return s.SaveLabels(ctx, prefix, labels) })
	return g.Wait()
}

func (s *Store) read(ctx context.Context, name string) ([]byte, error) {
	data, err := blobstore.ReadAll(ctx, s.blobs, name)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrIO, name, err)
	}
	return data, nil
}

// LoadEmbeddings reads the embedding dump for prefix as a matrix of the given shape.
// shape.Cols is required; shape.Rows == 0 infers the row count from the blob size.
func (s *Store) LoadEmbeddings(ctx context.Context, prefix string, shape tensor.Shape) (*tensor.Matrix, error) {
	if shape.Cols <= 0 || shape.Rows < 0 {
		return nil, fmt.Errorf("%w: invalid shape %s", ErrFormat, shape)
	}

	name := EmbedsName(prefix)
	data, err := s.read(ctx, name)
	if err != nil {
		return nil, err
	}

	rowBytes := shape.Cols * float32Size
	if len(data)%rowBytes != 0 {
		return nil, fmt.Errorf("%w: %s has %d bytes, not a multiple of %d-byte rows", ErrFormat, name, len(data), rowBytes)
	}
	rows := len(data) / rowBytes
	if shape.Rows != 0 && rows != shape.Rows {
		return nil, fmt.Errorf("%w: %s holds %d rows, want %d", ErrFormat, name, rows, shape.Rows)
	}

	m := tensor.New(rows, shape.Cols)
	for i := range m.Data {
		m.Data[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*float32Size:]))
	}
	return m, nil
}

// LoadLabels reads the label dump for prefix. n == 0 accepts any length.
func (s *Store) LoadLabels(ctx context.Context, prefix string, n int) ([]int, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: invalid label count %d", ErrFormat, n)
	}

	name := LabelsName(prefix)
	data, err := s.read(ctx, name)
	if err != nil {
		return nil, err
	}

	if len(data)%int64Size != 0 {
		return nil, fmt.Errorf("%w: %s has %d bytes, not a multiple of %d", ErrFormat, name, len(data), int64Size)
	}
	count := len(data) / int64Size
	if n != 0 && count != n {
		return nil, fmt.Errorf("%w: %s holds %d labels, want %d", ErrFormat, name, count, n)
	}

	labels := make([]int, count)
	for i := range labels {
		v, err := conv.Int64ToInt(int64(binary.LittleEndian.Uint64(data[i*int64Size:])))
		if err != nil {
			return nil, fmt.Errorf("%w: %s label %d: %w", ErrFormat, name, i, err)
		}
		labels[i] = v
	}
	return labels, nil
}
