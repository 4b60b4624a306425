package checkpoint

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects the block codec used for the checkpoint payload.
type Compression uint8

const (
	// CompressionNone stores blocks as is.
	CompressionNone Compression = 0
	// CompressionLZ4 uses LZ4 block compression.
	CompressionLZ4 Compression = 1
	// CompressionZSTD uses ZSTD block compression.
	CompressionZSTD Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(c))
	}
}

// ParseCompression maps "none", "lz4" or "zstd" to a Compression.
func ParseCompression(name string) (Compression, error) {
	switch strings.ToLower(name) {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZSTD, nil
	default:
		return 0, fmt.Errorf("unknown compression %q", name)
	}
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// Block layout: [uncompressed uint32][compressed uint32][data]. A compressed size of 0
// marks a block stored raw.
const (
	blockHeaderSize  = 8
	defaultBlockSize = 256 * 1024
)

func compressBlock(data []byte, c Compression) ([]byte, error) {
	var compressed []byte
	switch c {
	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, err
		}
		compressed = buf[:n]
	case CompressionZSTD:
		enc := getZstdEncoder()
		compressed = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	}

	// Keep the raw bytes when compression does not pay off.
	if len(compressed) == 0 || float64(len(compressed)) > float64(len(data))*0.9 {
		out := make([]byte, blockHeaderSize+len(data))
		binary.LittleEndian.PutUint32(out[0:], uint32(len(data)))
		copy(out[blockHeaderSize:], data)
		return out, nil
	}

	out := make([]byte, blockHeaderSize+len(compressed))
	binary.LittleEndian.PutUint32(out[0:], uint32(len(data)))
	binary.LittleEndian.PutUint32(out[4:], uint32(len(compressed)))
	copy(out[blockHeaderSize:], compressed)
	return out, nil
}

// blockWriter buffers payload bytes and emits them as compressed blocks.
type blockWriter struct {
	w         io.Writer
	c         Compression
	blockSize int
	buf       []byte
}

func newBlockWriter(w io.Writer, c Compression, blockSize int) *blockWriter {
	if blockSize <= 0 {
		blockSize = defaultBlockSize
	}
	return &blockWriter{w: w, c: c, blockSize: blockSize, buf: make([]byte, 0, blockSize)}
}

func (b *blockWriter) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		if len(b.buf) == b.blockSize {
			if err := b.Flush(); err != nil {
				return total, err
			}
		}
		n := min(len(p), b.blockSize-len(b.buf))
		b.buf = append(b.buf, p[:n]...)
		total += n
		p = p[n:]
	}
	return total, nil
}

// Flush writes the buffered bytes as one block.
func (b *blockWriter) Flush() error {
	if len(b.buf) == 0 {
		return nil
	}
	block, err := compressBlock(b.buf, b.c)
	if err != nil {
		return err
	}
	if _, err := b.w.Write(block); err != nil {
		return err
	}
	b.buf = b.buf[:0]
	return nil
}

// blockReader is the inverse of blockWriter.
type blockReader struct {
	r    io.Reader
	c    Compression
	max  uint32
	cur  []byte
	done bool
}

func newBlockReader(r io.Reader, c Compression, maxBlock uint32) *blockReader {
	return &blockReader{r: r, c: c, max: maxBlock}
}

func (b *blockReader) Read(p []byte) (int, error) {
	for len(b.cur) == 0 {
		if b.done {
			return 0, io.EOF
		}
		if err := b.next(); err != nil {
			if errors.Is(err, io.EOF) {
				b.done = true
				return 0, io.EOF
			}
			return 0, err
		}
	}
	n := copy(p, b.cur)
	b.cur = b.cur[n:]
	return n, nil
}

func (b *blockReader) next() error {
	var hdr [blockHeaderSize]byte
	if _, err := io.ReadFull(b.r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("%w: truncated block header", ErrCorrupt)
		}
		return err
	}
	rawSize := binary.LittleEndian.Uint32(hdr[0:])
	compSize := binary.LittleEndian.Uint32(hdr[4:])
	if rawSize == 0 && compSize == 0 {
		return io.EOF
	}
	if rawSize > b.max || compSize > b.max+b.max/4+64 {
		return fmt.Errorf("%w: block size %d/%d exceeds limit", ErrCorrupt, rawSize, compSize)
	}

	if compSize == 0 {
		data := make([]byte, rawSize)
		if _, err := io.ReadFull(b.r, data); err != nil {
			return fmt.Errorf("%w: truncated block: %w", ErrCorrupt, err)
		}
		b.cur = data
		return nil
	}

	compressed := make([]byte, compSize)
	if _, err := io.ReadFull(b.r, compressed); err != nil {
		return fmt.Errorf("%w: truncated block: %w", ErrCorrupt, err)
	}

	out := make([]byte, rawSize)
	switch b.c {
	case CompressionLZ4:
		n, err := lz4.UncompressBlock(compressed, out)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		if uint32(n) != rawSize {
			return fmt.Errorf("%w: decompressed size mismatch", ErrCorrupt)
		}
	case CompressionZSTD:
		dec := getZstdDecoder()
		decoded, err := dec.DecodeAll(compressed, out[:0])
		zstdDecoderPool.Put(dec)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		if uint32(len(decoded)) != rawSize {
			return fmt.Errorf("%w: decompressed size mismatch", ErrCorrupt)
		}
		out = decoded
	default:
		return fmt.Errorf("%w: compressed block in uncompressed checkpoint", ErrCorrupt)
	}
	b.cur = out
	return nil
}
