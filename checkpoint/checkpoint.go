// Package checkpoint serializes model parameters to a compact binary file.
//
// Layout (little endian):
//
//	header:  magic "VCLFCKPT" | version u16 | compression u8 | reserved u8 |
//	         block size u32 | epochs u32 | tensor count u32
//	payload: per tensor: name length u16 | name | rows u32 | cols u32 | float32 data
//	         split into blocks (see compression.go), closed by an all-zero block header
//	trailer: CRC-32C of the uncompressed payload
package checkpoint

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/hupe1980/vecclf/internal/fs"
	"github.com/hupe1980/vecclf/nn"
	"github.com/hupe1980/vecclf/tensor"
)

const (
	// Version is the current format version.
	Version uint16 = 1

	maxTensors    = 1 << 16
	maxNameLen    = 1 << 10
	maxTensorSize = 1 << 28
)

var magic = [8]byte{'V', 'C', 'L', 'F', 'C', 'K', 'P', 'T'}

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// ErrCorrupt is returned when a checkpoint cannot be decoded.
var ErrCorrupt = errors.New("corrupt checkpoint")

// Tensor is one named parameter.
type Tensor struct {
	Name  string
	Shape tensor.Shape
	Data  []float32
}

// State is the decoded content of a checkpoint.
type State struct {
	// Epochs is the number of training epochs the parameters have seen.
	Epochs  int
	Tensors []Tensor
}

// Capture copies the current values of params.
func Capture(params []*nn.Param, epochs int) *State {
	st := &State{Epochs: epochs, Tensors: make([]Tensor, len(params))}
	for i, p := range params {
		st.Tensors[i] = Tensor{
			Name:  p.Name,
			Shape: p.Value.Shape(),
			Data:  p.Value.Clone().Data,
		}
	}
	return st
}

// Apply copies the stored values into params. Parameters must match in count, name
// and shape; on mismatch nothing is modified and an error wrapping
// nn.ErrShapeMismatch is returned.
func (s *State) Apply(params []*nn.Param) error {
	if len(params) != len(s.Tensors) {
		return fmt.Errorf("%w: checkpoint has %d tensors, model has %d", nn.ErrShapeMismatch, len(s.Tensors), len(params))
	}
	for i, p := range params {
		t := s.Tensors[i]
		if t.Name != p.Name {
			return fmt.Errorf("%w: tensor %d is %q, model expects %q", nn.ErrShapeMismatch, i, t.Name, p.Name)
		}
		if got := p.Value.Shape(); got != t.Shape || len(t.Data) != t.Shape.Rows*t.Shape.Cols {
			return &tensor.ShapeError{Op: "load " + p.Name, Want: got, Got: t.Shape}
		}
	}
	for i, p := range params {
		copy(p.Value.Data, s.Tensors[i].Data)
	}
	return nil
}

type options struct {
	compression Compression
	blockSize   int
	fs          fs.FileSystem
}

// Option configures writing.
type Option func(*options)

// WithCompression selects the payload codec. The default is zstd.
func WithCompression(c Compression) Option {
	return func(o *options) { o.compression = c }
}

// WithBlockSize sets the uncompressed block size.
func WithBlockSize(n int) Option {
	return func(o *options) { o.blockSize = n }
}

// WithFileSystem sets the file system used by SaveFile and LoadFile.
func WithFileSystem(fsys fs.FileSystem) Option {
	return func(o *options) { o.fs = fsys }
}

func newOptions(optFns []Option) options {
	opts := options{
		compression: CompressionZSTD,
		blockSize:   defaultBlockSize,
		fs:          fs.Default,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.blockSize <= 0 || opts.blockSize > math.MaxInt32 {
		opts.blockSize = defaultBlockSize
	}
	return opts
}

type header struct {
	Magic       [8]byte
	Version     uint16
	Compression uint8
	Reserved    uint8
	BlockSize   uint32
	Epochs      uint32
	NumTensors  uint32
}

// Write encodes st to w.
func Write(w io.Writer, st *State, optFns ...Option) error {
	opts := newOptions(optFns)
	if len(st.Tensors) > maxTensors {
		return fmt.Errorf("checkpoint: too many tensors (%d)", len(st.Tensors))
	}

	hdr := header{
		Magic:       magic,
		Version:     Version,
		Compression: uint8(opts.compression),
		BlockSize:   uint32(opts.blockSize),
		Epochs:      uint32(st.Epochs),
		NumTensors:  uint32(len(st.Tensors)),
	}
	if err := binary.Write(w, binary.LittleEndian, &hdr); err != nil {
		return err
	}

	bw := newBlockWriter(w, opts.compression, opts.blockSize)
	crc := crc32.New(crcTable)
	pw := io.MultiWriter(bw, crc)

	for _, t := range st.Tensors {
		if len(t.Name) > maxNameLen {
			return fmt.Errorf("checkpoint: tensor name too long: %q", t.Name)
		}
		if len(t.Data) != t.Shape.Size() {
			return fmt.Errorf("checkpoint: tensor %q has %d values for shape %s", t.Name, len(t.Data), t.Shape)
		}
		if err := binary.Write(pw, binary.LittleEndian, uint16(len(t.Name))); err != nil {
			return err
		}
		if _, err := io.WriteString(pw, t.Name); err != nil {
			return err
		}
		dims := [2]uint32{uint32(t.Shape.Rows), uint32(t.Shape.Cols)}
		if err := binary.Write(pw, binary.LittleEndian, dims); err != nil {
			return err
		}
		if err := binary.Write(pw, binary.LittleEndian, t.Data); err != nil {
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		return err
	}

	var end [blockHeaderSize]byte
	if _, err := w.Write(end[:]); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, crc.Sum32())
}

// Read decodes a checkpoint from r.
func Read(r io.Reader) (*State, error) {
	var hdr header
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("%w: header: %w", ErrCorrupt, err)
	}
	if hdr.Magic != magic {
		return nil, fmt.Errorf("%w: bad magic", ErrCorrupt)
	}
	if hdr.Version != Version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, hdr.Version)
	}
	c := Compression(hdr.Compression)
	if c > CompressionZSTD {
		return nil, fmt.Errorf("%w: unknown compression %d", ErrCorrupt, hdr.Compression)
	}
	if hdr.NumTensors > maxTensors {
		return nil, fmt.Errorf("%w: %d tensors", ErrCorrupt, hdr.NumTensors)
	}

	br := newBlockReader(r, c, hdr.BlockSize)
	crc := crc32.New(crcTable)
	pr := io.TeeReader(br, crc)

	st := &State{Epochs: int(hdr.Epochs), Tensors: make([]Tensor, 0, hdr.NumTensors)}
	for i := uint32(0); i < hdr.NumTensors; i++ {
		t, err := readTensor(pr)
		if err != nil {
			return nil, fmt.Errorf("%w: tensor %d: %w", ErrCorrupt, i, err)
		}
		st.Tensors = append(st.Tensors, t)
	}

	// The payload must end exactly at the terminator block.
	var extra [1]byte
	if n, err := br.Read(extra[:]); n != 0 || !errors.Is(err, io.EOF) {
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: trailing payload", ErrCorrupt)
	}

	var sum uint32
	if err := binary.Read(r, binary.LittleEndian, &sum); err != nil {
		return nil, fmt.Errorf("%w: checksum: %w", ErrCorrupt, err)
	}
	if sum != crc.Sum32() {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}
	return st, nil
}

func readTensor(r io.Reader) (Tensor, error) {
	var nameLen uint16
	if err := binary.Read(r, binary.LittleEndian, &nameLen); err != nil {
		return Tensor{}, err
	}
	if int(nameLen) > maxNameLen {
		return Tensor{}, fmt.Errorf("name length %d", nameLen)
	}
	name := make([]byte, nameLen)
	if _, err := io.ReadFull(r, name); err != nil {
		return Tensor{}, err
	}

	var dims [2]uint32
	if err := binary.Read(r, binary.LittleEndian, &dims); err != nil {
		return Tensor{}, err
	}
	size := uint64(dims[0]) * uint64(dims[1])
	if size > maxTensorSize {
		return Tensor{}, fmt.Errorf("tensor size %d", size)
	}

	data := make([]float32, size)
	if err := binary.Read(r, binary.LittleEndian, data); err != nil {
		return Tensor{}, err
	}
	return Tensor{
		Name:  string(name),
		Shape: tensor.Shape{Rows: int(dims[0]), Cols: int(dims[1])},
		Data:  data,
	}, nil
}

// SaveFile writes st to path atomically: the bytes go to a temporary file that is
// synced and renamed over path.
func SaveFile(path string, st *State, optFns ...Option) (err error) {
	opts := newOptions(optFns)

	if dir := filepath.Dir(path); dir != "" {
		if err := opts.fs.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	tmp := path + ".tmp"
	f, err := opts.fs.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = opts.fs.Remove(tmp)
		}
	}()

	bw := bufio.NewWriter(f)
	if err := Write(bw, st, optFns...); err != nil {
		_ = f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return opts.fs.Rename(tmp, path)
}

// LoadFile reads the checkpoint at path.
func LoadFile(path string, optFns ...Option) (*State, error) {
	opts := newOptions(optFns)

	f, err := opts.fs.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return Read(bufio.NewReader(f))
}
