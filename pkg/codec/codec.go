// Package codec encodes checkpoint payloads for the persistent stores.
package codec

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

// Format is a wire encoding.
type Format string

const (
	FormatJSON    Format = "json"
	FormatMsgPack Format = "msgpack"
)

// Compression is a payload compression algorithm.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionGzip Compression = "gzip"
	CompressionZstd Compression = "zstd"
)

// Codec turns values into bytes and back.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return string(FormatJSON) }

type msgpackCodec struct{}

func (msgpackCodec) Marshal(v any) ([]byte, error)      { return msgpack.Marshal(v) }
func (msgpackCodec) Unmarshal(data []byte, v any) error { return msgpack.Unmarshal(data, v) }
func (msgpackCodec) Name() string                       { return string(FormatMsgPack) }

// Serializer pairs a codec with optional compression.
type Serializer struct {
	codec       Codec
	compression Compression
	encoder     *zstd.Encoder
	decoder     *zstd.Decoder
}

// New returns a serializer for the given format and compression.
func New(format Format, compression Compression) (*Serializer, error) {
	s := &Serializer{compression: compression}

	switch format {
	case FormatJSON, "":
		s.codec = jsonCodec{}
	case FormatMsgPack:
		s.codec = msgpackCodec{}
	default:
		return nil, fmt.Errorf("unsupported codec format: %s", format)
	}

	switch compression {
	case CompressionNone, CompressionGzip, "":
	case CompressionZstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
		}
		s.encoder, s.decoder = enc, dec
	default:
		return nil, fmt.Errorf("unsupported compression: %s", compression)
	}

	return s, nil
}

// Default is plain JSON, handy for tests and the in-memory store.
func Default() *Serializer {
	return &Serializer{codec: jsonCodec{}, compression: CompressionNone}
}

// Name describes the pipeline, e.g. "msgpack+zstd".
func (s *Serializer) Name() string {
	if s.compression == CompressionNone || s.compression == "" {
		return s.codec.Name()
	}
	return s.codec.Name() + "+" + string(s.compression)
}

// Encode marshals and compresses v.
func (s *Serializer) Encode(v any) ([]byte, error) {
	data, err := s.codec.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", s.codec.Name(), err)
	}

	switch s.compression {
	case CompressionGzip:
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("failed to gzip payload: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("failed to gzip payload: %w", err)
		}
		return buf.Bytes(), nil
	case CompressionZstd:
		return s.encoder.EncodeAll(data, nil), nil
	}
	return data, nil
}

// Decode decompresses and unmarshals data into v.
func (s *Serializer) Decode(data []byte, v any) error {
	var err error

	switch s.compression {
	case CompressionGzip:
		r, gzErr := gzip.NewReader(bytes.NewReader(data))
		if gzErr != nil {
			return fmt.Errorf("failed to open gzip payload: %w", gzErr)
		}
		defer r.Close()
		if data, err = io.ReadAll(r); err != nil {
			return fmt.Errorf("failed to gunzip payload: %w", err)
		}
	case CompressionZstd:
		if data, err = s.decoder.DecodeAll(data, nil); err != nil {
			return fmt.Errorf("failed to decompress zstd payload: %w", err)
		}
	}

	if err := s.codec.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", s.codec.Name(), err)
	}
	return nil
}
