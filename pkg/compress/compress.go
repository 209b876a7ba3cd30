package compress

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/pierrec/lz4"
)

// Compressor compresses whole buffers.
type Compressor interface {
	Name() string
	Compress([]byte) ([]byte, error)
	UnCompress([]byte) ([]byte, error)
}

const (
	None   = "none"
	LZ4    = "lz4"
	Brotli = "brotli"
)

var compressors = map[string]Compressor{
	None:   noneCompressor{},
	LZ4:    lz4Compressor{},
	Brotli: brotliCompressor{level: brotli.DefaultCompression},
}

// Get returns the compressor registered under name. Empty means none.
func Get(name string) (Compressor, error) {
	if name == "" {
		return noneCompressor{}, nil
	}
	c, ok := compressors[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("compress: unknown compressor %q", name)
	}
	return c, nil
}

// Compress compresses data with c and keeps the result only when it is
// smaller and round-trips; ok is false when data should be stored as is.
func Compress(c Compressor, data []byte) (out []byte, ok bool, err error) {
	if len(data) == 0 {
		return data, false, nil
	}

	out, err = c.Compress(data)
	if err != nil {
		return nil, false, err
	}
	if len(out) >= len(data) {
		return data, false, nil
	}

	back, err := c.UnCompress(out)
	if err != nil {
		return nil, false, err
	}
	if !bytes.Equal(back, data) {
		return data, false, nil
	}
	return out, true, nil
}

type noneCompressor struct{}

func (noneCompressor) Name() string { return None }

func (noneCompressor) Compress(data []byte) ([]byte, error) {
	return data, nil
}

func (noneCompressor) UnCompress(data []byte) ([]byte, error) {
	return data, nil
}

type lz4Compressor struct{}

func (lz4Compressor) Name() string { return LZ4 }

func (lz4Compressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (lz4Compressor) UnCompress(data []byte) ([]byte, error) {
	return io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
}

type brotliCompressor struct {
	level int
}

func (brotliCompressor) Name() string { return Brotli }

func (b brotliCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := brotli.NewWriterLevel(&buf, b.level)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (brotliCompressor) UnCompress(data []byte) ([]byte, error) {
	return io.ReadAll(brotli.NewReader(bytes.NewReader(data)))
}
