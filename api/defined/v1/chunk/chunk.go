package chunk

import (
	"strconv"
	"strings"
	"time"
)

// Chunk is one partition of the remote dataset.
type Chunk struct {
	// Key is the stable partition identifier, e.g. a grid cell or a document-set id.
	Key string `json:"key" cbor:"1,keyasint"`
	// EncodedData is the producer-defined payload. Empty means tombstone.
	EncodedData []byte `json:"data" cbor:"2,keyasint"`
	// EncodedHash is the content hash of EncodedData.
	EncodedHash string `json:"hash" cbor:"3,keyasint"`
	// LastUpdate is the monotonically increasing version of the chunk.
	LastUpdate string `json:"last_update" cbor:"4,keyasint"`
}

// IsTombstone reports whether c signals deletion of its partition.
func (c *Chunk) IsTombstone() bool {
	return len(c.EncodedData) == 0
}

// Clone returns a deep copy of c.
func (c *Chunk) Clone() *Chunk {
	out := *c
	if c.EncodedData != nil {
		out.EncodedData = append([]byte(nil), c.EncodedData...)
	}
	return &out
}

// Size returns the payload length.
func (c *Chunk) Size() int {
	return len(c.EncodedData)
}

// NewerThan reports whether c carries a strictly newer version than other.
func (c *Chunk) NewerThan(other *Chunk) bool {
	return CompareVersion(c.LastUpdate, other.LastUpdate) > 0
}

// CompareVersion orders two lastUpdate values and returns -1, 0 or +1.
//
// Integers compare numerically, RFC 3339 timestamps compare as instants,
// anything else compares byte-wise.
func CompareVersion(a, b string) int {
	if a == b {
		return 0
	}

	ai, aerr := strconv.ParseInt(a, 10, 64)
	bi, berr := strconv.ParseInt(b, 10, 64)
	if aerr == nil && berr == nil {
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		}
		return 0
	}

	at, aerr := time.Parse(time.RFC3339Nano, a)
	bt, berr := time.Parse(time.RFC3339Nano, b)
	if aerr == nil && berr == nil {
		return at.Compare(bt)
	}

	return strings.Compare(a, b)
}
