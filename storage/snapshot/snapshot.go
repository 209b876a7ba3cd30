package snapshot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/omalloc/chunksync/api/defined/v1/chunk"
	"github.com/omalloc/chunksync/contrib/log"
	"github.com/omalloc/chunksync/pkg/compress"
	"github.com/omalloc/chunksync/pkg/encoding"
	"github.com/omalloc/chunksync/pkg/mapstruct"
)

// Snapshot persists the chunk store across restarts.
type Snapshot interface {
	// Persist replaces the stored snapshot with chunks.
	Persist(ctx context.Context, chunks []*chunk.Chunk) error
	// Restore calls fn for every persisted chunk.
	Restore(ctx context.Context, fn func(c *chunk.Chunk) error) error
	Close() error
}

// Factory opens a snapshot driver.
type Factory func(opt *Option) (Snapshot, error)

// Option is the snapshot configuration.
type Option struct {
	Driver   string `json:"driver" yaml:"driver"`
	Path     string `json:"path" yaml:"path"`
	Compress string `json:"compress" yaml:"compress"`
	// CodecName selects the record codec, cbor when empty.
	CodecName string         `json:"codec" yaml:"codec"`
	Options   map[string]any `json:"options" yaml:"options"`

	codec      encoding.Codec
	compressor compress.Compressor
}

// Unmarshal decodes the driver specific options into v.
func (o *Option) Unmarshal(v any) error {
	if o.Options == nil {
		return nil
	}
	return mapstruct.Decode(o.Options, v)
}

// Codec returns the record codec named by CodecName unless set by WithCodec.
func (o *Option) Codec() encoding.Codec {
	if o.codec == nil {
		c, err := encoding.Get(o.CodecName)
		if err != nil {
			c, _ = encoding.Get(encoding.CBOR)
		}
		o.codec = c
	}
	return o.codec
}

// Compressor returns the payload compressor.
func (o *Option) Compressor() compress.Compressor {
	if o.compressor == nil {
		c, _ := compress.Get(o.Compress)
		if c == nil {
			c, _ = compress.Get(compress.None)
		}
		o.compressor = c
	}
	return o.compressor
}

// WithCodec overrides the record codec.
func (o *Option) WithCodec(c encoding.Codec) *Option {
	o.codec = c
	return o
}

// Meta is stored next to the records.
type Meta struct {
	Count     int    `json:"count" cbor:"1,keyasint"`
	SavedAt   int64  `json:"saved_at" cbor:"2,keyasint"`
	Codec     string `json:"codec" cbor:"3,keyasint"`
	Compress  string `json:"compress" cbor:"4,keyasint"`
	Generator string `json:"generator" cbor:"5,keyasint"`
}

// NewMeta describes a snapshot of n chunks written with opt.
func NewMeta(opt *Option, n int) *Meta {
	return &Meta{
		Count:     n,
		SavedAt:   time.Now().Unix(),
		Codec:     opt.Codec().Name(),
		Compress:  opt.Compressor().Name(),
		Generator: "chunksync",
	}
}

type record struct {
	Key        string `cbor:"1,keyasint" json:"k"`
	Data       []byte `cbor:"2,keyasint" json:"d"`
	Hash       string `cbor:"3,keyasint" json:"h"`
	LastUpdate string `cbor:"4,keyasint" json:"u"`
	Compress   string `cbor:"5,keyasint,omitempty" json:"c,omitempty"`
}

// EncodeRecord serializes c, compressing its payload when it pays off.
func EncodeRecord(opt *Option, c *chunk.Chunk) ([]byte, error) {
	rec := record{
		Key:        c.Key,
		Data:       c.EncodedData,
		Hash:       c.EncodedHash,
		LastUpdate: c.LastUpdate,
	}

	comp := opt.Compressor()
	out, ok, err := compress.Compress(comp, c.EncodedData)
	if err != nil {
		return nil, fmt.Errorf("compress %s: %w", c.Key, err)
	}
	if ok {
		rec.Data = out
		rec.Compress = comp.Name()
	}
	return opt.Codec().Marshal(&rec)
}

// DecodeRecord is the inverse of EncodeRecord. The result does not alias buf.
func DecodeRecord(opt *Option, buf []byte) (*chunk.Chunk, error) {
	var rec record
	if err := opt.Codec().Unmarshal(buf, &rec); err != nil {
		return nil, err
	}

	data := rec.Data
	if rec.Compress != "" {
		c, err := compress.Get(rec.Compress)
		if err != nil {
			return nil, err
		}
		if data, err = c.UnCompress(rec.Data); err != nil {
			return nil, fmt.Errorf("uncompress %s: %w", rec.Key, err)
		}
	}

	return &chunk.Chunk{
		Key:         rec.Key,
		EncodedData: data,
		EncodedHash: rec.Hash,
		LastUpdate:  rec.LastUpdate,
	}, nil
}

type Registry struct {
	registry map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{
		registry: make(map[string]Factory),
	}
}

var defaultRegistry = NewRegistry()

func (r *Registry) Register(name string, factory Factory) {
	r.registry[createTypedName(name)] = factory
}

func (r *Registry) Create(opt *Option) (Snapshot, error) {
	factory, ok := r.registry[createTypedName(opt.Driver)]
	if !ok {
		return nil, fmt.Errorf("snapshot driver %s not registered", opt.Driver)
	}

	comp, err := compress.Get(opt.Compress)
	if err != nil {
		return nil, err
	}
	opt.compressor = comp

	codec, err := encoding.Get(opt.CodecName)
	if err != nil {
		return nil, err
	}
	opt.codec = codec

	log.Debugf("creating snapshot %s in path %s", opt.Driver, opt.Path)
	return factory(opt)
}

func Register(name string, factory Factory) {
	defaultRegistry.Register(name, factory)
}

func Create(opt *Option) (Snapshot, error) {
	return defaultRegistry.Create(opt)
}

func createTypedName(name string) string {
	return fmt.Sprintf("chunksync.snapshot.%s", strings.ToLower(name))
}
