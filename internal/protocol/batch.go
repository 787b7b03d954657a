package protocol

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

const FormatGzip = "gzip"

// maxBatchBytes caps the decompressed envelope size.
const maxBatchBytes = 64 << 20

// ErrMalformedBatch wraps every batch decode failure.
var ErrMalformedBatch = errors.New("malformed batch")

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Envelope is the JSON document carried (compressed) by one batch.
type Envelope struct {
	Version  string        `json:"version"`
	Position Position      `json:"position"`
	Chunks   []ChunkUpdate `json:"chunks"`
}

type CompressedBatch struct {
	Compressed bool   `json:"compressed"`
	Format     string `json:"format"`
	Data       string `json:"data"`
}

func CompressBatch(env Envelope) (CompressedBatch, error) {
	raw, err := json.Marshal(env)
	if err != nil {
		return CompressedBatch{}, fmt.Errorf("marshal envelope: %w", err)
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		_ = zw.Close()
		return CompressedBatch{}, fmt.Errorf("gzip: %w", err)
	}
	if err := zw.Close(); err != nil {
		return CompressedBatch{}, fmt.Errorf("gzip: %w", err)
	}
	return CompressedBatch{
		Compressed: true,
		Format:     FormatGzip,
		Data:       base64.StdEncoding.EncodeToString(buf.Bytes()),
	}, nil
}

// DecompressBatch decodes a batch as a unit: either every layer and every chunk is valid
// or the whole batch is rejected.
func DecompressBatch(b CompressedBatch) (Envelope, error) {
	var env Envelope
	if b.Format != FormatGzip {
		return env, fmt.Errorf("%w: unsupported format %q", ErrMalformedBatch, b.Format)
	}
	compressed, err := base64.StdEncoding.DecodeString(b.Data)
	if err != nil {
		return env, fmt.Errorf("%w: base64: %v", ErrMalformedBatch, err)
	}
	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return env, fmt.Errorf("%w: gzip: %v", ErrMalformedBatch, err)
	}
	defer zr.Close()
	raw, err := io.ReadAll(io.LimitReader(zr, maxBatchBytes+1))
	if err != nil {
		return env, fmt.Errorf("%w: gzip: %v", ErrMalformedBatch, err)
	}
	if len(raw) > maxBatchBytes {
		return env, fmt.Errorf("%w: envelope exceeds %d bytes", ErrMalformedBatch, maxBatchBytes)
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: json: %v", ErrMalformedBatch, err)
	}
	for i := range env.Chunks {
		if err := env.Chunks[i].Validate(); err != nil {
			return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedBatch, err)
		}
	}
	return env, nil
}
