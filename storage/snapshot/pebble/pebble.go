package pebble

import (
	"context"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble/v2"
	"github.com/cockroachdb/pebble/v2/vfs"

	"github.com/omalloc/chunksync/api/defined/v1/chunk"
	"github.com/omalloc/chunksync/contrib/log"
	"github.com/omalloc/chunksync/storage/snapshot"
)

var _ snapshot.Snapshot = (*PebbleDB)(nil)

var (
	recordPrefix = []byte("c/")
	recordEnd    = []byte("c0") // '0' follows '/'
	metaKey      = []byte("m/meta")
)

type dbOptions struct {
	InMemory   bool `json:"in_memory"`
	DisableWAL bool `json:"disable_wal"`
}

type PebbleDB struct {
	opt *snapshot.Option
	db  *pebble.DB
}

func init() {
	snapshot.Register("pebble", NewPebbleDB)
}

func NewPebbleDB(opt *snapshot.Option) (snapshot.Snapshot, error) {
	var dbo dbOptions
	if err := opt.Unmarshal(&dbo); err != nil {
		return nil, err
	}

	po := &pebble.Options{
		DisableWAL: dbo.DisableWAL,
		Logger:     log.NewHelper(log.NewFilter(log.GetLogger(), log.FilterLevel(log.LevelWarn))),
	}
	if dbo.InMemory {
		po.FS = vfs.NewMem()
	}

	db, err := pebble.Open(opt.Path, po)
	if err != nil {
		return nil, fmt.Errorf("open pebble %s: %w", opt.Path, err)
	}
	return &PebbleDB{opt: opt, db: db}, nil
}

func recordKey(key string) []byte {
	return append(append([]byte(nil), recordPrefix...), key...)
}

// Persist implements snapshot.Snapshot. The old records are dropped in the
// same batch, so a reader sees either snapshot but never a mix.
func (p *PebbleDB) Persist(ctx context.Context, chunks []*chunk.Chunk) error {
	batch := p.db.NewBatch()
	defer func() { _ = batch.Close() }()

	if err := batch.DeleteRange(recordPrefix, recordEnd, nil); err != nil {
		return err
	}

	for i, c := range chunks {
		if i%1024 == 0 && ctx.Err() != nil {
			return ctx.Err()
		}
		buf, err := snapshot.EncodeRecord(p.opt, c)
		if err != nil {
			return err
		}
		if err := batch.Set(recordKey(c.Key), buf, nil); err != nil {
			return err
		}
	}

	meta, err := p.opt.Codec().Marshal(snapshot.NewMeta(p.opt, len(chunks)))
	if err != nil {
		return err
	}
	if err := batch.Set(metaKey, meta, nil); err != nil {
		return err
	}

	return batch.Commit(pebble.Sync)
}

// Restore implements snapshot.Snapshot.
func (p *PebbleDB) Restore(ctx context.Context, fn func(c *chunk.Chunk) error) error {
	iter, err := p.db.NewIterWithContext(ctx, &pebble.IterOptions{
		LowerBound: recordPrefix,
		UpperBound: recordEnd,
	})
	if err != nil {
		return err
	}

	var errs []error
	for iter.First(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		val, err := iter.ValueAndErr()
		if err != nil {
			errs = append(errs, err)
			break
		}

		c, err := snapshot.DecodeRecord(p.opt, val)
		if err != nil {
			log.Warnf("snapshot: skip record %q: %v", iter.Key(), err)
			continue
		}
		if err := fn(c); err != nil {
			errs = append(errs, err)
			break
		}
	}

	errs = append(errs, iter.Close())
	return errors.Join(errs...)
}

// Meta returns the metadata of the last Persist.
func (p *PebbleDB) Meta() (*snapshot.Meta, error) {
	val, closer, err := p.db.Get(metaKey)
	if err != nil {
		return nil, err
	}
	defer func() { _ = closer.Close() }()

	var m snapshot.Meta
	if err := p.opt.Codec().Unmarshal(val, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (p *PebbleDB) Close() error {
	return p.db.Close()
}
