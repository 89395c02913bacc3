package session

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
)

// decodeBody decompresses an identity response body based on its
// Content-Encoding header. The identity endpoint often sits behind a
// compressing reverse proxy, so all common encodings are handled.
func decodeBody(headers http.Header, body []byte) ([]byte, error) {
	if len(body) == 0 {
		return body, nil
	}
	switch strings.ToLower(strings.TrimSpace(headers.Get("Content-Encoding"))) {
	case "gzip":
		return decodeGzip(body)
	case "deflate":
		return decodeDeflate(body)
	case "br":
		return io.ReadAll(brotli.NewReader(bytes.NewReader(body)))
	case "zstd":
		return decodeZstd(body)
	default:
		// No compression or an encoding we did not ask for.
		return body, nil
	}
}

func decodeGzip(data []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer func() { _ = reader.Close() }()
	return io.ReadAll(reader)
}

func decodeDeflate(data []byte) ([]byte, error) {
	reader := flate.NewReader(bytes.NewReader(data))
	defer func() { _ = reader.Close() }()
	return io.ReadAll(reader)
}

func decodeZstd(data []byte) ([]byte, error) {
	reader, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd reader: %w", err)
	}
	defer reader.Close()
	return io.ReadAll(reader)
}
