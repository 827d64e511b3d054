package bus

import (
	"encoding/json"
	"fmt"
)

// EnvelopeKind identifies the payload carried by an Envelope.
type EnvelopeKind string

const (
	KindUpdate    EnvelopeKind = "update"
	KindAwareness EnvelopeKind = "awareness"
)

// Envelope is the JSON object published to a document's Bus topic.
type Envelope struct {
	DocumentID string       `json:"documentId"`
	Kind       EnvelopeKind `json:"kind"`
	Payload    []byte       `json:"payload"`
	Origin     string       `json:"origin,omitempty"`
	InstanceID string       `json:"instanceId"`
	MessageID  string       `json:"messageId"`
	Timestamp  int64        `json:"timestamp"`

	// Chunked, ChunkIndex and TotalChunks are set when Payload above is one
	// piece of a larger update split by the publisher (§ chunking).
	Chunked     bool `json:"chunked,omitempty"`
	ChunkIndex  int  `json:"chunkIndex,omitempty"`
	TotalChunks int  `json:"totalChunks,omitempty"`
}

// Encode serializes an Envelope for publication.
func (e Envelope) Encode() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return b, nil
}

// DecodeEnvelope parses a published message body.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return e, nil
}

// splitChunks divides payload into chunkSize-sized pieces, in order, for
// envelopes whose payload exceeds the configured chunk threshold. The
// caller sets each piece's chunk index and total on its Envelope.
func splitChunks(payload []byte, chunkSize int) [][]byte {
	if chunkSize <= 0 || len(payload) <= chunkSize {
		return [][]byte{payload}
	}
	var chunks [][]byte
	for start := 0; start < len(payload); start += chunkSize {
		end := start + chunkSize
		if end > len(payload) {
			end = len(payload)
		}
		chunks = append(chunks, payload[start:end])
	}
	return chunks
}
