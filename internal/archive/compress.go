package archive

import (
	"bufio"
	"bytes"
	"compress/bzip2"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/ulikunitz/xz"
)

// Compression identifies a stream format by its magic bytes.
type Compression int

const (
	CompressionNone Compression = iota
	CompressionGzip
	CompressionBzip2
	CompressionZip
	CompressionXz
	CompressionZstd
)

func (c Compression) String() string {
	switch c {
	case CompressionGzip:
		return "gzip"
	case CompressionBzip2:
		return "bzip2"
	case CompressionZip:
		return "zip"
	case CompressionXz:
		return "xz"
	case CompressionZstd:
		return "zstd"
	default:
		return "none"
	}
}

var (
	magicGzip     = []byte{0x1f, 0x8b}
	magicCompress = []byte{0x1f, 0x9d} // old compress(1), decoded by gzip
	magicPack     = []byte{0x1f, 0x1e} // pack(1), likewise
	magicBzip2    = []byte("BZh")
	magicZip      = []byte("PK\x03\x04")
	magicXz       = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}
	magicZstd     = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// Detect classifies the leading bytes of a stream.
func Detect(magic []byte) Compression {
	switch {
	case bytes.HasPrefix(magic, magicGzip),
		bytes.HasPrefix(magic, magicCompress),
		bytes.HasPrefix(magic, magicPack):
		return CompressionGzip
	case bytes.HasPrefix(magic, magicBzip2):
		return CompressionBzip2
	case bytes.HasPrefix(magic, magicZip):
		return CompressionZip
	case bytes.HasPrefix(magic, magicXz):
		return CompressionXz
	case bytes.HasPrefix(magic, magicZstd):
		return CompressionZstd
	}
	return CompressionNone
}

// DetectFile reads the first bytes of path and classifies them.
func DetectFile(path string) (Compression, error) {
	f, err := os.Open(path)
	if err != nil {
		return CompressionNone, err
	}
	defer f.Close()
	magic := make([]byte, 8)
	n, err := io.ReadFull(f, magic)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return CompressionNone, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return Detect(magic[:n]), nil
}

// NewReader wraps r in a decoder for kind. Zip is an archive, not a
// stream, and is rejected here.
func NewReader(r io.Reader, kind Compression) (io.ReadCloser, error) {
	switch kind {
	case CompressionNone:
		return io.NopCloser(r), nil
	case CompressionGzip:
		gz, err := pgzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		return gz, nil
	case CompressionBzip2:
		return io.NopCloser(bzip2.NewReader(r)), nil
	case CompressionXz:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to create xz reader: %w", err)
		}
		return io.NopCloser(xr), nil
	case CompressionZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd reader: %w", err)
		}
		return zr.IOReadCloser(), nil
	}
	return nil, fmt.Errorf("%s is not a stream compression", kind)
}

// NewAutoReader sniffs r and returns a matching decoder.
func NewAutoReader(r io.Reader) (io.ReadCloser, Compression, error) {
	br := bufio.NewReader(r)
	magic, _ := br.Peek(8)
	kind := Detect(magic)
	rc, err := NewReader(br, kind)
	return rc, kind, err
}

// ZstdCompress compresses a whole buffer.
func ZstdCompress(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil), nil
}

// ZstdDecompress reverses ZstdCompress.
func ZstdDecompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(data, nil)
}
