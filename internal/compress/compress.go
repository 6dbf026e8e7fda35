// Package compress wraps the producer compression codecs. Compression
// itself is an external collaborator per spec.md §1 ("the producer's
// compression codecs"); this package gives the two codecs the module
// ships a single call site, grounded on the teacher's
// CompressWithSnappy/DecompressWithSnappy in
// internal/core/protocol/encode_decode.go.
package compress

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/golang/snappy"

	"kcore/internal/config"
)

// Encode compresses data with the codec named by c. CompressionNone and
// CompressionDefault both return data unchanged (Default is rejected
// earlier, at config validation time, but Encode itself stays total).
func Encode(c config.Compression, data []byte) ([]byte, error) {
	switch c {
	case config.CompressionNone, config.CompressionDefault:
		return data, nil
	case config.CompressionSnappy:
		return snappy.Encode(nil, data), nil
	case config.CompressionGzip:
		var buf bytes.Buffer
		gw := gzip.NewWriter(&buf)
		if _, err := gw.Write(data); err != nil {
			return nil, err
		}
		if err := gw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("compress: unknown codec %v", c)
	}
}

// Decode decompresses data previously produced by Encode with the same
// codec.
func Decode(c config.Compression, data []byte) ([]byte, error) {
	switch c {
	case config.CompressionNone, config.CompressionDefault:
		return data, nil
	case config.CompressionSnappy:
		return snappy.Decode(nil, data)
	case config.CompressionGzip:
		gr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer gr.Close()
		return io.ReadAll(gr)
	default:
		return nil, fmt.Errorf("compress: unknown codec %v", c)
	}
}

// AttrCode returns the 2-bit attribute code a compressed record set
// carries in its Message.attr field (spec.md §4.5: "attr & 0b11 is the
// compression code").
func AttrCode(c config.Compression) byte {
	switch c {
	case config.CompressionSnappy:
		return 2
	case config.CompressionGzip:
		return 1
	default:
		return 0
	}
}

// FromAttrCode is the inverse of AttrCode, used by the consumer when it
// reads a record's attr byte.
func FromAttrCode(b byte) config.Compression {
	switch b & 0x03 {
	case 1:
		return config.CompressionGzip
	case 2:
		return config.CompressionSnappy
	default:
		return config.CompressionNone
	}
}
