package filestore

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
)

// Compression selects the algorithm used to store response bodies on disk.
// It is transparent to lookups: the marker byte written ahead of the body
// tells Store which decoder to use regardless of what the Store is
// currently configured with, so changing Compression never invalidates
// entries written under a previous setting.
type Compression byte

const (
	// NoCompression stores the body byte-for-byte.
	NoCompression Compression = iota
	// GzipCompression stores the body gzip-compressed.
	GzipCompression
	// BrotliCompression stores the body brotli-compressed, trading slower
	// writes for a smaller on-disk footprint.
	BrotliCompression
)

// encodeBody wraps dst so writes are compressed per c before hitting disk,
// mirroring the one-byte-marker-then-payload framing used by the
// compresscache wrapper this is adapted from.
func encodeBody(dst io.Writer, c Compression) (io.WriteCloser, error) {
	if _, err := dst.Write([]byte{byte(c)}); err != nil {
		return nil, err
	}
	return codecWriter(dst, c)
}

// decodeBody reads the marker byte src begins with and returns a reader
// that transparently decompresses the remainder.
func decodeBody(src io.Reader) (io.Reader, error) {
	marker := make([]byte, 1)
	if _, err := io.ReadFull(src, marker); err != nil {
		return nil, fmt.Errorf("filestore: reading compression marker: %w", err)
	}
	return codecReader(src, Compression(marker[0]))
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// compressPayload compresses plain per c, with no marker byte. Used on the
// encrypted write path, where compression must run on plaintext ahead of
// sealing: a cipher's output is indistinguishable from random data, so
// compressing after encrypting only burns CPU without shrinking anything.
func compressPayload(plain []byte, c Compression) ([]byte, error) {
	var buf bytes.Buffer
	w, err := codecWriter(&buf, c)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(plain); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decompressPayload reverses compressPayload.
func decompressPayload(compressed []byte, c Compression) ([]byte, error) {
	r, err := codecReader(bytes.NewReader(compressed), c)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

func codecWriter(dst io.Writer, c Compression) (io.WriteCloser, error) {
	switch c {
	case GzipCompression:
		return gzip.NewWriter(dst), nil
	case BrotliCompression:
		return brotli.NewWriter(dst), nil
	default:
		return nopWriteCloser{dst}, nil
	}
}

func codecReader(src io.Reader, c Compression) (io.Reader, error) {
	switch c {
	case GzipCompression:
		return gzip.NewReader(src)
	case BrotliCompression:
		return brotli.NewReader(src), nil
	case NoCompression:
		return src, nil
	default:
		return nil, fmt.Errorf("filestore: unknown compression marker %d", c)
	}
}
