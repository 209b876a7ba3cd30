package encoding

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/omalloc/chunksync/pkg/encoding/cobr"
	"github.com/omalloc/chunksync/pkg/encoding/json"
)

const (
	CBOR = "cbor"
	JSON = "json"
)

// Codec turns values into bytes and back. Implementations must be safe
// for concurrent use; Name is stored next to the data it encoded.
type Codec interface {
	// Marshal returns the wire format of v.
	Marshal(v any) ([]byte, error)
	// Unmarshal parses the wire format into v.
	Unmarshal(data []byte, v any) error
	// Name returns the registered name of the Codec.
	Name() string
}

var (
	mu     sync.RWMutex
	codecs = map[string]Codec{
		CBOR: &cobr.CborCodec{},
		JSON: json.JSONCodec{},
	}
)

// Register adds c under its name, replacing any codec of the same name.
func Register(c Codec) {
	mu.Lock()
	defer mu.Unlock()

	codecs[strings.ToLower(c.Name())] = c
}

// Get returns the codec called name. An empty name selects CBOR.
func Get(name string) (Codec, error) {
	if name == "" {
		name = CBOR
	}

	mu.RLock()
	defer mu.RUnlock()

	c, ok := codecs[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("codec %q not registered", name)
	}
	return c, nil
}

// Names lists the registered codecs.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()

	out := make([]string, 0, len(codecs))
	for name := range codecs {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}
