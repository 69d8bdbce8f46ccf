package blockmap

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/krisdages/electron-builder-lib-slim/internal/errcode"
)

// Compression magic bytes used to sniff the payload encoding.
var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// footerLen is the size of the big-endian length footer that trails an
// embedded block map inside a self-describing container.
const footerLen = 4

// maxPayloadSize caps decompressed payloads. A block map describing even a
// multi-gigabyte installer stays well under this.
const maxPayloadSize = 128 << 20

// Parse decodes a block-map payload from r. The payload may be raw JSON or
// gzip/zstd-compressed JSON; the encoding is sniffed from magic bytes.
func Parse(r io.Reader) (*BlockMap, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxPayloadSize))
	if err != nil {
		return nil, errcode.Wrap(errcode.InvalidBlockMap, err, "reading block map payload")
	}
	return ParseBytes(data)
}

// ParseBytes decodes a block-map payload held in memory.
func ParseBytes(data []byte) (*BlockMap, error) {
	decoded, err := decompress(data)
	if err != nil {
		return nil, errcode.Wrap(errcode.InvalidBlockMap, err, "decompressing block map payload")
	}

	var m BlockMap
	if err := json.Unmarshal(decoded, &m); err != nil {
		return nil, errcode.Wrap(errcode.InvalidBlockMap, err, "decoding block map JSON")
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// ReadEmbedded extracts the block map embedded at the tail of a container
// file. Self-describing formats append the compressed map followed by a
// 4-byte big-endian length footer, so no separate .blockmap fetch is needed.
func ReadEmbedded(ra io.ReaderAt, size int64) (*BlockMap, error) {
	if size < footerLen+1 {
		return nil, errcode.New(errcode.InvalidBlockMap, "container too small (%d bytes) to hold an embedded block map", size)
	}

	footer := make([]byte, footerLen)
	if _, err := ra.ReadAt(footer, size-footerLen); err != nil {
		return nil, errcode.Wrap(errcode.InvalidBlockMap, err, "reading embedded block map footer")
	}
	payloadLen := int64(binary.BigEndian.Uint32(footer))
	if payloadLen <= 0 || payloadLen > size-footerLen {
		return nil, errcode.New(errcode.InvalidBlockMap, "embedded block map length %d out of range for %d-byte container", payloadLen, size)
	}

	payload := make([]byte, payloadLen)
	if _, err := ra.ReadAt(payload, size-footerLen-payloadLen); err != nil {
		return nil, errcode.Wrap(errcode.InvalidBlockMap, err, "reading embedded block map payload")
	}
	return ParseBytes(payload)
}

// AppendEmbedded serializes m (zstd-compressed) and returns the bytes a
// producer appends to a container to make it self-describing: payload plus
// length footer. The test suite and local tooling use this to build fixtures
// that ReadEmbedded can consume.
func AppendEmbedded(m *BlockMap) ([]byte, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding block map: %w", err)
	}
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("creating zstd writer: %w", err)
	}
	if _, err := zw.Write(raw); err != nil {
		zw.Close()
		return nil, fmt.Errorf("compressing block map: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("flushing zstd writer: %w", err)
	}
	payload := buf.Bytes()
	out := make([]byte, 0, len(payload)+footerLen)
	out = append(out, payload...)
	out = binary.BigEndian.AppendUint32(out, uint32(len(payload)))
	return out, nil
}

func decompress(data []byte) ([]byte, error) {
	switch {
	case bytes.HasPrefix(data, gzipMagic):
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("opening gzip stream: %w", err)
		}
		defer zr.Close()
		return io.ReadAll(io.LimitReader(zr, maxPayloadSize))
	case bytes.HasPrefix(data, zstdMagic):
		zr, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("opening zstd stream: %w", err)
		}
		defer zr.Close()
		return io.ReadAll(io.LimitReader(zr.IOReadCloser(), maxPayloadSize))
	default:
		return data, nil
	}
}
