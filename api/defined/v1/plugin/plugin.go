package plugin

import (
	"context"
	"net/http"

	"github.com/omalloc/chunksync/api/defined/v1/chunk"
	"github.com/omalloc/chunksync/api/defined/v1/event"
	"github.com/omalloc/chunksync/contrib/transport"
)

type Plugin interface {
	transport.Server

	AddRouter(router *http.ServeMux)

	HandleFunc(next http.HandlerFunc) http.HandlerFunc
}

type Option interface {
	PluginName() string    // plugin name
	Unmarshal(v any) error // plugin config unmarshal
}

// Cache is the view of the chunk cache handed to plugins.
type Cache interface {
	Lookup(key string) (*chunk.Chunk, bool)
	Keys() []string
	Len() int
	State() chunk.State
	Reload(ctx context.Context) error
	ReloadKeys(ctx context.Context, keys []string) error
	ObserveLookups(fn func(key string, hit bool))
}

// Host is what a plugin may reach in the running process.
type Host interface {
	Cache() Cache
	Bus() *event.Bus
}
