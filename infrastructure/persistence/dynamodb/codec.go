package dynamodb

import (
	"encoding/json"
	"fmt"

	"diagramsync/pkg/protocol"

	"github.com/klauspost/compress/zstd"
)

// payloadVersion tags the encoding of the stored graph
const payloadVersion = 1

// graphPayload is the stored form of a document graph. It uses the wire
// shapes so stored documents and API responses stay interchangeable.
type graphPayload struct {
	Version int             `json:"v"`
	Nodes   []protocol.Node `json:"nodes"`
	Edges   []protocol.Edge `json:"edges"`
}

// payloadCodec compresses graph payloads with zstd. Encoders and decoders
// are safe for concurrent EncodeAll/DecodeAll calls.
type payloadCodec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func newPayloadCodec() (*payloadCodec, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &payloadCodec{encoder: encoder, decoder: decoder}, nil
}

func (c *payloadCodec) encode(nodes []protocol.Node, edges []protocol.Edge) ([]byte, error) {
	raw, err := json.Marshal(graphPayload{Version: payloadVersion, Nodes: nodes, Edges: edges})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal graph payload: %w", err)
	}
	return c.encoder.EncodeAll(raw, make([]byte, 0, len(raw)/3)), nil
}

func (c *payloadCodec) decode(data []byte) (graphPayload, error) {
	var p graphPayload
	if len(data) == 0 {
		return p, nil
	}
	raw, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return p, fmt.Errorf("failed to decompress graph payload: %w", err)
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("failed to unmarshal graph payload: %w", err)
	}
	if p.Version > payloadVersion {
		return p, fmt.Errorf("unsupported graph payload version %d", p.Version)
	}
	return p, nil
}
