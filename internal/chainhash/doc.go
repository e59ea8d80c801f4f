// Package chainhash computes the digests that bind audit chain entries
// together.
//
// Every entry commits to a canonical JSON rendering of its own fields
// plus the previous entry's digest. The canonical form is a struct with
// a fixed field order, and metadata is re-encoded with sorted object
// keys, so the same logical entry always produces the same bytes.
//
// Two keyed algorithms are supported:
//   - hmac-sha256: HMAC-SHA256 over the canonical bytes.
//   - blake3: BLAKE3 keyed hash, key derived from the configured secret.
//
// The first entry of a chain links to GenesisHash.
package chainhash
