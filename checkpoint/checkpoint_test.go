package checkpoint

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/hupe1980/vecclf/internal/fs"
	"github.com/hupe1980/vecclf/nn"
	"github.com/hupe1980/vecclf/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newModel(t *testing.T, in int, seed uint64) *nn.Sequential {
	t.Helper()
	m, err := nn.NewMLP(in, []int{10, 10}, 1, seed)
	require.NoError(t, err)
	return m
}

func TestRoundTrip(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZSTD} {
		t.Run(c.String(), func(t *testing.T) {
			src := newModel(t, 16, 1)
			var buf bytes.Buffer
			require.NoError(t, Write(&buf, Capture(src.Params(), 3), WithCompression(c), WithBlockSize(100)))

			st, err := Read(&buf)
			require.NoError(t, err)
			assert.Equal(t, 3, st.Epochs)

			dst := newModel(t, 16, 2)
			require.NoError(t, st.Apply(dst.Params()))
			for i, p := range dst.Params() {
				assert.Equal(t, src.Params()[i].Value.Data, p.Value.Data, p.Name)
			}
		})
	}
}

func TestCompressibleTensor(t *testing.T) {
	st := &State{Tensors: []Tensor{{
		Name:  "zeros",
		Shape: tensor.Shape{Rows: 256, Cols: 256},
		Data:  make([]float32, 256*256),
	}}}

	var raw, packed bytes.Buffer
	require.NoError(t, Write(&raw, st, WithCompression(CompressionNone)))
	require.NoError(t, Write(&packed, st, WithCompression(CompressionLZ4)))
	assert.Less(t, packed.Len(), raw.Len()/10)

	got, err := Read(&packed)
	require.NoError(t, err)
	assert.Equal(t, st.Tensors, got.Tensors)
}

func TestApply_ShapeMismatch(t *testing.T) {
	src := newModel(t, 3, 0)
	st := Capture(src.Params(), 1)

	dst := newModel(t, 5, 0)
	before := dst.Params()[0].Value.Clone()

	err := st.Apply(dst.Params())
	assert.ErrorIs(t, err, nn.ErrShapeMismatch)
	assert.Equal(t, before.Data, dst.Params()[0].Value.Data)

	other, err := nn.NewMLP(3, []int{10}, 1, 0)
	require.NoError(t, err)
	assert.ErrorIs(t, st.Apply(other.Params()), nn.ErrShapeMismatch)
}

func TestApply_ZeroDimensionRejected(t *testing.T) {
	dst := newModel(t, 3, 0)
	st := Capture(dst.Params(), 1)
	before := dst.Params()[0].Value.Clone()

	// A zero dimension must not match a non-empty parameter.
	st.Tensors[0].Shape.Rows = 0
	st.Tensors[0].Data = nil

	err := st.Apply(dst.Params())
	var se *tensor.ShapeError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, dst.Params()[0].Value.Shape(), se.Want)
	assert.Equal(t, 0, se.Got.Rows)
	assert.ErrorIs(t, err, nn.ErrShapeMismatch)
	assert.Equal(t, before.Data, dst.Params()[0].Value.Data)
}

func TestRead_Corrupt(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, Capture(newModel(t, 4, 0).Params(), 0), WithCompression(CompressionNone)))
	good := buf.Bytes()

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"bad magic", append([]byte("NOTACKPT"), good[8:]...)},
		{"truncated", good[:len(good)/2]},
		{"flipped payload bit", func() []byte {
			b := bytes.Clone(good)
			b[len(b)-20] ^= 0x01
			return b
		}()},
		{"missing checksum", good[:len(good)-4]},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Read(bytes.NewReader(tc.data))
			assert.ErrorIs(t, err, ErrCorrupt)
		})
	}
}

func TestSaveLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models", "model.ckpt")
	src := newModel(t, 8, 4)

	require.NoError(t, SaveFile(path, Capture(src.Params(), 2)))

	st, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Epochs)
	assert.Len(t, st.Tensors, len(src.Params()))
}

func TestSaveFile_FaultLeavesNoFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.ckpt")

	faulty := fs.NewFaultyFS(nil)
	faulty.AddRule("model.ckpt", fs.Fault{FailAfterBytes: -1, FailOnSync: true})

	err := SaveFile(path, Capture(newModel(t, 4, 0).Params(), 0), WithFileSystem(faulty))
	require.ErrorIs(t, err, fs.ErrInjected)

	_, err = fs.Default.Stat(path)
	assert.Error(t, err)
	_, err = fs.Default.Stat(path + ".tmp")
	assert.Error(t, err)
}

func TestParseCompression(t *testing.T) {
	for name, want := range map[string]Compression{"": CompressionNone, "none": CompressionNone, "LZ4": CompressionLZ4, "zstd": CompressionZSTD} {
		got, err := ParseCompression(name)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseCompression("gzip")
	assert.Error(t, err)
}
