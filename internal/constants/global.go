package constants

const AppName = "chunksync"

// define client->authority protocol constants
const (
	RequestIDKey = "X-Request-ID"

	ChunkHashKey       = "X-Chunk-Hash"
	ChunkLastUpdateKey = "X-Chunk-Last-Update"
	ChunkStateKey      = "X-Chunk-State"

	InternalTraceKey = "i-xtrace"
)
