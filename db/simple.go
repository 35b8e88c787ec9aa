package db

import (
	"bytes"
	"sync"

	"github.com/pkg/errors"
	"github.com/smallstep/nosql/database"
)

// Simple is an in-memory implementation of the nosql database interface. It
// backs the DB contract in tests and in deployments that do not need
// durability.
type Simple struct {
	mu      sync.RWMutex
	buckets map[string]map[string][]byte
}

// NewSimple returns a DB backed by an in-memory key-value store.
func NewSimple() *NoSQL {
	d, err := New(&Simple{buckets: make(map[string]map[string][]byte)})
	if err != nil {
		// CreateTable on the in-memory store cannot fail.
		panic(err)
	}
	return d
}

// Open is a noop for the in-memory store.
func (s *Simple) Open(string, ...database.Option) error { return nil }

// Close is a noop for the in-memory store.
func (s *Simple) Close() error { return nil }

// CreateTable creates a bucket if it does not exist.
func (s *Simple) CreateTable(bucket []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.buckets[string(bucket)]; !ok {
		s.buckets[string(bucket)] = make(map[string][]byte)
	}
	return nil
}

// DeleteTable removes a bucket and all its entries.
func (s *Simple) DeleteTable(bucket []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.buckets[string(bucket)]; !ok {
		return errors.Wrapf(database.ErrNotFound, "bucket %s", bucket)
	}
	delete(s.buckets, string(bucket))
	return nil
}

// Get returns the value stored under bucket/key.
func (s *Simple) Get(bucket, key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.buckets[string(bucket)]
	if !ok {
		return nil, errors.Wrapf(database.ErrNotFound, "bucket %s", bucket)
	}
	v, ok := b[string(key)]
	if !ok {
		return nil, errors.Wrapf(database.ErrNotFound, "key %s", key)
	}
	return append([]byte(nil), v...), nil
}

// Set stores value under bucket/key.
func (s *Simple) Set(bucket, key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[string(bucket)]
	if !ok {
		return errors.Wrapf(database.ErrNotFound, "bucket %s", bucket)
	}
	b[string(key)] = append([]byte(nil), value...)
	return nil
}

// CmpAndSwap sets value only if the current value equals oldValue, where a
// nil oldValue means the key must be unset.
func (s *Simple) CmpAndSwap(bucket, key, oldValue, newValue []byte) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[string(bucket)]
	if !ok {
		return nil, false, errors.Wrapf(database.ErrNotFound, "bucket %s", bucket)
	}
	current, exists := b[string(key)]
	switch {
	case oldValue == nil && exists:
		return append([]byte(nil), current...), false, nil
	case oldValue != nil && !exists:
		return nil, false, nil
	case oldValue != nil && !bytes.Equal(current, oldValue):
		return append([]byte(nil), current...), false, nil
	}
	b[string(key)] = append([]byte(nil), newValue...)
	return append([]byte(nil), newValue...), true, nil
}

// Del removes the entry under bucket/key.
func (s *Simple) Del(bucket, key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[string(bucket)]
	if !ok {
		return errors.Wrapf(database.ErrNotFound, "bucket %s", bucket)
	}
	delete(b, string(key))
	return nil
}

// List returns every entry in a bucket.
func (s *Simple) List(bucket []byte) ([]*database.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.buckets[string(bucket)]
	if !ok {
		return nil, errors.Wrapf(database.ErrNotFound, "bucket %s", bucket)
	}
	entries := make([]*database.Entry, 0, len(b))
	for k, v := range b {
		entries = append(entries, &database.Entry{
			Bucket: append([]byte(nil), bucket...),
			Key:    []byte(k),
			Value:  append([]byte(nil), v...),
		})
	}
	return entries, nil
}

// Update is not supported by the in-memory store.
func (s *Simple) Update(*database.Tx) error {
	return errors.New("transactions are not supported")
}
