// Package compression encodes replicated files and payloads with one of the
// supported algorithms. Writers are streaming so large log files never have
// to be held in memory.
package compression

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm represents compression algorithms
type Algorithm string

const (
	AlgorithmNone   Algorithm = "none"
	AlgorithmGzip   Algorithm = "gzip"
	AlgorithmZlib   Algorithm = "zlib"
	AlgorithmZstd   Algorithm = "zstd"
	AlgorithmLZ4    Algorithm = "lz4"
	AlgorithmSnappy Algorithm = "snappy"
)

var extensions = map[Algorithm]string{
	AlgorithmNone:   "",
	AlgorithmGzip:   ".gz",
	AlgorithmZlib:   ".zz",
	AlgorithmZstd:   ".zst",
	AlgorithmLZ4:    ".lz4",
	AlgorithmSnappy: ".sz",
}

// Parse converte o nome configurado; vazio significa sem compressão
func Parse(name string) (Algorithm, error) {
	alg := Algorithm(strings.ToLower(strings.TrimSpace(name)))
	if alg == "" {
		return AlgorithmNone, nil
	}
	if _, ok := extensions[alg]; !ok {
		return "", fmt.Errorf("unsupported compression algorithm: %s", name)
	}
	return alg, nil
}

// Extension sufixo acrescentado ao nome do arquivo de destino
func (a Algorithm) Extension() string {
	return extensions[a]
}

// ContentEncoding valor do header Content-Encoding para payloads HTTP
func (a Algorithm) ContentEncoding() string {
	switch a {
	case AlgorithmGzip:
		return "gzip"
	case AlgorithmZlib:
		return "deflate"
	case AlgorithmZstd:
		return "zstd"
	case AlgorithmLZ4:
		return "lz4"
	case AlgorithmSnappy:
		return "snappy"
	default:
		return ""
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// NewWriter returns a writer that compresses into w. Closing it flushes the
// compressed stream but does not close w.
func NewWriter(alg Algorithm, w io.Writer) (io.WriteCloser, error) {
	switch alg {
	case AlgorithmNone, "":
		return nopWriteCloser{w}, nil
	case AlgorithmGzip:
		return gzip.NewWriterLevel(w, gzip.DefaultCompression)
	case AlgorithmZlib:
		return zlib.NewWriterLevel(w, zlib.DefaultCompression)
	case AlgorithmZstd:
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	case AlgorithmLZ4:
		return lz4.NewWriter(w), nil
	case AlgorithmSnappy:
		return snappy.NewBufferedWriter(w), nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", alg)
	}
}

// NewReader returns a reader that decompresses r
func NewReader(alg Algorithm, r io.Reader) (io.ReadCloser, error) {
	switch alg {
	case AlgorithmNone, "":
		return io.NopCloser(r), nil
	case AlgorithmGzip:
		return gzip.NewReader(r)
	case AlgorithmZlib:
		return zlib.NewReader(r)
	case AlgorithmZstd:
		decoder, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return decoder.IOReadCloser(), nil
	case AlgorithmLZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	case AlgorithmSnappy:
		return io.NopCloser(snappy.NewReader(r)), nil
	default:
		return nil, fmt.Errorf("unsupported decompression algorithm: %s", alg)
	}
}

var bufferPool = sync.Pool{
	New: func() interface{} {
		return new(bytes.Buffer)
	},
}

// Compress comprime um payload em memória
func Compress(alg Algorithm, data []byte) ([]byte, error) {
	if alg == AlgorithmNone || alg == "" {
		return data, nil
	}

	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufferPool.Put(buf)

	w, err := NewWriter(alg, buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, fmt.Errorf("compression failed with %s: %w", alg, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compression failed with %s: %w", alg, err)
	}

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

// Decompress descomprime um payload em memória
func Decompress(alg Algorithm, data []byte) ([]byte, error) {
	r, err := NewReader(alg, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// CompressFile writes a compressed copy of src into a temporary file inside
// tmpDir (os.TempDir when empty). The caller removes the returned path.
func CompressFile(alg Algorithm, src, tmpDir string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	out, err := os.CreateTemp(tmpDir, filepath.Base(src)+".*"+alg.Extension())
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := out.Name()

	fail := func(err error) (string, error) {
		out.Close()
		os.Remove(tmpPath)
		return "", err
	}

	w, err := NewWriter(alg, out)
	if err != nil {
		return fail(err)
	}
	if _, err := io.Copy(w, in); err != nil {
		w.Close()
		return fail(fmt.Errorf("compression failed with %s: %w", alg, err))
	}
	if err := w.Close(); err != nil {
		return fail(fmt.Errorf("compression failed with %s: %w", alg, err))
	}
	if err := out.Close(); err != nil {
		os.Remove(tmpPath)
		return "", err
	}

	return tmpPath, nil
}
