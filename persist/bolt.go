// Package persist saves cuckoo filters outside the process, as the chunk
// stream produced by ScanDump. It stands in for a host's own snapshotting.
package persist

import (
	"encoding/binary"
	"iter"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/jcalabro/cuckoo"
)

var bucketFilters = []byte("filters")

// BoltStore keeps one nested bucket per filter in a bbolt database. Chunks
// are keyed by their big-endian cursor, so a bucket cursor replays them in
// load order.
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt opens or creates the database at path.
func OpenBolt(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "open bolt database %s failed", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketFilters)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "create filters bucket failed")
	}
	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	if err := s.db.Close(); err != nil {
		return errors.Wrap(err, "close bolt database failed")
	}
	return nil
}

// Save replaces the stored copy of name with f in a single transaction.
func (s *BoltStore) Save(name string, f *cuckoo.Filter) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket(bucketFilters)
		if root.Bucket([]byte(name)) != nil {
			if err := root.DeleteBucket([]byte(name)); err != nil {
				return err
			}
		}
		b, err := root.CreateBucket([]byte(name))
		if err != nil {
			return err
		}
		b.FillPercent = 1
		for cursor, chunk := range dumpAll(f) {
			if err := b.Put(cursorKey(cursor), chunk); err != nil {
				return err
			}
		}
		return nil
	})
	return errors.Wrapf(err, "save filter %q failed", name)
}

// Load rebuilds the filter stored under name. opts are passed to the
// restored filter.
func (s *BoltStore) Load(name string, opts ...cuckoo.Option) (*cuckoo.Filter, error) {
	var f *cuckoo.Filter
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFilters).Bucket([]byte(name))
		if b == nil {
			return cuckoo.ErrNotFound
		}
		var err error
		f, err = cuckoo.Load(boltChunks(b), opts...)
		return err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "load filter %q failed", name)
	}
	return f, nil
}

// Delete removes name. Deleting a missing filter is not an error.
func (s *BoltStore) Delete(name string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		err := tx.Bucket(bucketFilters).DeleteBucket([]byte(name))
		if errors.Is(err, bolt.ErrBucketNotFound) {
			return nil
		}
		return err
	})
	return errors.Wrapf(err, "delete filter %q failed", name)
}

// Names lists the stored filters in byte order.
func (s *BoltStore) Names() ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFilters).ForEach(func(k, v []byte) error {
			// Nested buckets have a nil value.
			if v == nil {
				names = append(names, string(k))
			}
			return nil
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "list filters failed")
	}
	return names, nil
}

func boltChunks(b *bolt.Bucket) iter.Seq2[int64, []byte] {
	return func(yield func(int64, []byte) bool) {
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if len(k) != 8 {
				// Let the codec reject it.
				if !yield(0, v) {
					return
				}
				continue
			}
			if !yield(int64(binary.BigEndian.Uint64(k)), v) {
				return
			}
		}
	}
}

func cursorKey(cursor int64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(cursor))
	return k
}

// dumpAll yields the header at cursor 1 followed by every data chunk. Unlike
// Filter.Chunks it also covers filters without items.
func dumpAll(f *cuckoo.Filter) iter.Seq2[int64, []byte] {
	return func(yield func(int64, []byte) bool) {
		if !yield(1, f.Header()) {
			return
		}
		cursor := int64(1)
		for {
			next, chunk, err := f.ScanDump(cursor)
			if err != nil || next == 0 {
				return
			}
			if !yield(next, chunk) {
				return
			}
			cursor = next
		}
	}
}
