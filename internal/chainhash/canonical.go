package chainhash

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

// GenesisHash is the previous hash of the first entry in a chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Record is the digest input. Field order is part of the chain format;
// reordering or renaming fields invalidates every stored digest.
type Record struct {
	ID             string          `json:"id"`
	SequenceNumber int64           `json:"sequenceNumber"`
	Timestamp      string          `json:"timestamp"`
	Action         string          `json:"action"`
	ActorID        string          `json:"actorId"`
	ActorEmail     string          `json:"actorEmail"`
	ActorType      string          `json:"actorType"`
	EntityType     string          `json:"entityType"`
	EntityID       string          `json:"entityId"`
	Metadata       json.RawMessage `json:"metadata"`
	PreviousHash   string          `json:"previousHash"`
}

// FormatTimestamp renders t the way it enters the digest.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// Canonical returns the byte form of r that is fed to a Digester.
func Canonical(r Record) ([]byte, error) {
	meta, err := CanonicalMetadata(r.Metadata)
	if err != nil {
		return nil, err
	}
	r.Metadata = meta

	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode chain record: %w", err)
	}
	return data, nil
}

// CanonicalMetadata re-encodes a JSON document with sorted object keys
// and no insignificant whitespace. Numbers keep their literal form.
// Empty input becomes {}. The function is idempotent.
func CanonicalMetadata(raw json.RawMessage) (json.RawMessage, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return json.RawMessage("{}"), nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("invalid metadata: %w", err)
	}
	if err := dec.Decode(new(interface{})); !errors.Is(err, io.EOF) {
		return nil, errors.New("invalid metadata: trailing data after JSON value")
	}

	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	return out, nil
}
