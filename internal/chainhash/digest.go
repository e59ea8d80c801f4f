package chainhash

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/zeebo/blake3"
)

// Supported digest algorithms.
const (
	AlgorithmHMACSHA256 = "hmac-sha256"
	AlgorithmBLAKE3     = "blake3"
)

// blake3KeyContext is the BLAKE3 key-derivation context. Changing it
// invalidates every blake3 chain.
const blake3KeyContext = "helpdesk audit chain v1"

// ErrEmptyKey is returned when a digester is built without a secret.
var ErrEmptyKey = errors.New("chain hash key must not be empty")

// Digester turns canonical record bytes into a hex digest.
type Digester interface {
	Algorithm() string
	Sum(canonical []byte) string
}

// NewDigester returns the digester for algorithm keyed with secret.
func NewDigester(algorithm string, secret []byte) (Digester, error) {
	if len(secret) == 0 {
		return nil, ErrEmptyKey
	}

	switch algorithm {
	case AlgorithmHMACSHA256, "":
		key := make([]byte, len(secret))
		copy(key, secret)
		return &hmacDigester{key: key}, nil
	case AlgorithmBLAKE3:
		key := make([]byte, 32)
		blake3.DeriveKey(blake3KeyContext, secret, key)
		return &blake3Digester{key: key}, nil
	default:
		return nil, fmt.Errorf("unsupported chain hash algorithm %q", algorithm)
	}
}

type hmacDigester struct {
	key []byte
}

func (d *hmacDigester) Algorithm() string { return AlgorithmHMACSHA256 }

func (d *hmacDigester) Sum(canonical []byte) string {
	mac := hmac.New(sha256.New, d.key)
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil))
}

type blake3Digester struct {
	key []byte
}

func (d *blake3Digester) Algorithm() string { return AlgorithmBLAKE3 }

func (d *blake3Digester) Sum(canonical []byte) string {
	// The key is always 32 bytes, so NewKeyed cannot fail.
	h, err := blake3.NewKeyed(d.key)
	if err != nil {
		panic(fmt.Sprintf("chainhash: blake3 keyed hasher: %v", err))
	}
	_, _ = h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil))
}

// Compute returns the self hash of r using d.
func Compute(d Digester, r Record) (string, error) {
	canonical, err := Canonical(r)
	if err != nil {
		return "", err
	}
	return d.Sum(canonical), nil
}

// Equal compares two hex digests in constant time.
func Equal(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}
