package store

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.etcd.io/bbolt"
)

var _ Store[int] = &BoltStore[int]{}

// BoltStore persists JSON encoded values in a single bbolt bucket.
type BoltStore[T any] struct {
	Db       *bbolt.DB
	DbFile   string
	FileMode os.FileMode
	Bucket   string
}

func NewBoltStore[T any](file string, mode os.FileMode, bucket string) (*BoltStore[T], error) {
	db, err := bbolt.Open(file, mode, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", file, err)
	}

	b := &BoltStore[T]{
		Db:       db,
		DbFile:   file,
		FileMode: mode,
		Bucket:   bucket,
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return b, nil
}

func (b *BoltStore[T]) Count() (int, error) {
	count := 0
	err := b.Db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(b.Bucket)).ForEach(func(_, _ []byte) error {
			count++
			return nil
		})
	})
	if err != nil {
		return -1, err
	}

	return count, nil
}

func (b *BoltStore[T]) Get(key string) (v T, err error) {
	err = b.Db.View(func(tx *bbolt.Tx) error {
		buf := tx.Bucket([]byte(b.Bucket)).Get([]byte(key))
		if buf == nil {
			return fmt.Errorf("key %s: %w", key, ErrNotFound)
		}
		return json.Unmarshal(buf, &v)
	})

	return
}

func (b *BoltStore[T]) List() (vs []T, err error) {
	vs = []T{}
	err = b.Db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(b.Bucket)).ForEach(func(k, buf []byte) error {
			var v T
			if err := json.Unmarshal(buf, &v); err != nil {
				return fmt.Errorf("key %s: %w", k, err)
			}
			vs = append(vs, v)
			return nil
		})
	})

	return
}

func (b *BoltStore[T]) Put(key string, value T) error {
	buf, err := json.Marshal(value)
	if err != nil {
		return err
	}

	return b.Db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(b.Bucket)).Put([]byte(key), buf)
	})
}

func (b *BoltStore[T]) Delete(key string) error {
	return b.Db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(b.Bucket))
		if bucket.Get([]byte(key)) == nil {
			return fmt.Errorf("key %s: %w", key, ErrNotFound)
		}
		return bucket.Delete([]byte(key))
	})
}

func (b *BoltStore[T]) Close() error {
	return b.Db.Close()
}
