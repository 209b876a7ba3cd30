package event

import "time"

const (
	// ChunkChangedKey carries change sets from push sources to the listener.
	ChunkChangedKey Kind = "chunk.changed"
	// ChunkAppliedKey is emitted for every chunk that changed the store.
	ChunkAppliedKey Kind = "chunk.applied"
	// ChunkStateKey is emitted on every controller state transition.
	ChunkStateKey Kind = "chunk.state"
)

// ChunkChanged is a set of keys the authority reported as changed.
type ChunkChanged struct {
	Keys   []string
	Source string
}

// ChunkApplied describes a chunk that was stored or deleted.
type ChunkApplied struct {
	Key         string
	EncodedHash string
	LastUpdate  string
	Data        []byte
	Deleted     bool
	// Full is true when the chunk came from a full paged load.
	Full bool
}

// StateChanged describes a controller state transition. The states are
// carried as strings so this package stays free of chunk imports.
type StateChanged struct {
	From string
	To   string
	Err  error
	At   time.Time
}

var (
	ChunkChangedTopic = NewTopicKey[ChunkChanged](ChunkChangedKey)
	ChunkAppliedTopic = NewTopicKey[ChunkApplied](ChunkAppliedKey)
	ChunkStateTopic   = NewTopicKey[StateChanged](ChunkStateKey)
)
