package nutsdb

import (
	"bytes"
	"context"
	"errors"

	"github.com/nutsdb/nutsdb"
	"github.com/samber/lo"

	"github.com/omalloc/chunksync/api/defined/v1/chunk"
	"github.com/omalloc/chunksync/contrib/log"
	"github.com/omalloc/chunksync/storage/snapshot"
)

var _ snapshot.Snapshot = (*NutsDB)(nil)

const (
	defaultBucket = "chunks"
	recordPrefix  = "c/"
)

type dbOptions struct {
	Bucket    string `json:"bucket"`
	BatchSize int    `json:"batch_size"`
}

type NutsDB struct {
	opt    *snapshot.Option
	db     *nutsdb.DB
	bucket string
	batch  int
}

func init() {
	snapshot.Register("nutsdb", NewNutsDB)
}

func NewNutsDB(opt *snapshot.Option) (snapshot.Snapshot, error) {
	dbo := dbOptions{
		Bucket:    defaultBucket,
		BatchSize: 1000,
	}
	if err := opt.Unmarshal(&dbo); err != nil {
		return nil, err
	}

	db, err := nutsdb.Open(
		nutsdb.DefaultOptions,
		nutsdb.WithDir(opt.Path),
	)
	if err != nil {
		return nil, err
	}

	return &NutsDB{
		opt:    opt,
		db:     db,
		bucket: dbo.Bucket,
		batch:  max(dbo.BatchSize, 1),
	}, nil
}

// Close implements [snapshot.Snapshot].
func (n *NutsDB) Close() error {
	return n.db.Close()
}

// Persist implements [snapshot.Snapshot].
// The bucket is recreated first and filled in transactions of BatchSize
// records to stay under the nutsdb transaction limits.
func (n *NutsDB) Persist(ctx context.Context, chunks []*chunk.Chunk) error {
	if err := n.db.Update(func(tx *nutsdb.Tx) error {
		if tx.ExistBucket(nutsdb.DataStructureBTree, n.bucket) {
			if err := tx.DeleteBucket(nutsdb.DataStructureBTree, n.bucket); err != nil {
				return err
			}
		}
		return tx.NewBucket(nutsdb.DataStructureBTree, n.bucket)
	}); err != nil {
		return err
	}

	for _, part := range lo.Chunk(chunks, n.batch) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := n.db.Update(func(tx *nutsdb.Tx) error {
			for _, c := range part {
				buf, err := snapshot.EncodeRecord(n.opt, c)
				if err != nil {
					return err
				}
				if err := tx.Put(n.bucket, []byte(recordPrefix+c.Key), buf, 0); err != nil {
					return err
				}
			}
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}

// Restore implements [snapshot.Snapshot].
func (n *NutsDB) Restore(ctx context.Context, fn func(c *chunk.Chunk) error) error {
	return n.db.View(func(tx *nutsdb.Tx) error {
		if !tx.ExistBucket(nutsdb.DataStructureBTree, n.bucket) {
			return nil
		}

		iterator := nutsdb.NewIterator(tx, n.bucket, nutsdb.IteratorOptions{Reverse: false})
		if iterator == nil {
			return nil
		}
		defer iterator.Release()

		var errs []error
		prefix := []byte(recordPrefix)
		for iterator.Seek(prefix); iterator.Valid() && bytes.HasPrefix(iterator.Key(), prefix); iterator.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			buf, err := iterator.Value()
			if err != nil {
				errs = append(errs, err)
				continue
			}

			c, err := snapshot.DecodeRecord(n.opt, buf)
			if err != nil {
				log.Warnf("snapshot: skip record %q: %v", iterator.Key(), err)
				continue
			}
			if err := fn(c); err != nil {
				return err
			}
		}
		return errors.Join(errs...)
	})
}
