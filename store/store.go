package store

import "errors"

var ErrNotFound = errors.New("not found")

// Store keeps run records keyed by id.
type Store[T any] interface {
	Put(key string, value T) error
	Get(key string) (T, error)
	List() ([]T, error)
	Count() (int, error)
	Delete(key string) error
	Close() error
}
