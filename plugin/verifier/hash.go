package verifier

import (
	"fmt"
	"hash/crc32"
	"strings"

	"github.com/cespare/xxhash/v2"
)

const (
	AlgorithmXXHash = "xxhash"
	AlgorithmCRC32  = "crc32"
)

// Sum hashes data the way the authority encodes chunk hashes.
func Sum(algorithm string, data []byte) (string, error) {
	switch strings.ToLower(algorithm) {
	case AlgorithmXXHash, "":
		return fmt.Sprintf("%016x", xxhash.Sum64(data)), nil
	case AlgorithmCRC32:
		return fmt.Sprintf("%08x", crc32.ChecksumIEEE(data)), nil
	}
	return "", fmt.Errorf("unknown hash algorithm %q", algorithm)
}

// sampled reports whether key falls into the first ratio percent.
func sampled(key string, ratio int) bool {
	return int(crc32.ChecksumIEEE([]byte(key))%100) < ratio
}
