/*
Copyright 2013 The Camlistore Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package kvfile provides an implementation of sorted.KeyValue on top
// of a single mutable B+tree file on disk using github.com/etcd-io/bbolt.
package kvfile

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/showermat/squashserve/pkg/jsonconfig"
	"github.com/showermat/squashserve/pkg/sorted"

	bolt "github.com/etcd-io/bbolt"
)

var bucketName = []byte("kv")

var (
	_ sorted.Wiper     = (*kvis)(nil)
	_ sorted.Mergeable = (*kvis)(nil)
)

func init() {
	sorted.RegisterKeyValue("kv", newKeyValueFromJSONConfig)
}

// NewStorage is a convenience that calls newKeyValueFromJSONConfig
// with file as the bbolt storage file.
func NewStorage(file string) (sorted.KeyValue, error) {
	return newKeyValueFromJSONConfig(jsonconfig.Obj{"file": file})
}

func openDB(path string) (*bolt.DB, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// newKeyValueFromJSONConfig returns a KeyValue implementation on top of a
// github.com/etcd-io/bbolt file.
func newKeyValueFromJSONConfig(cfg jsonconfig.Obj) (sorted.KeyValue, error) {
	file := cfg.RequiredString("file")
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	db, err := openDB(file)
	if err != nil {
		return nil, err
	}
	return &kvis{db: db, path: file}, nil
}

type kvis struct {
	path string
	db   *bolt.DB
}

func (is *kvis) Get(key string) (string, error) {
	var val string
	var found bool
	err := is.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketName).Get([]byte(key))
		if v != nil {
			found = true
			val = string(v)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if !found {
		return "", sorted.ErrNotFound
	}
	return val, nil
}

func (is *kvis) Set(key, value string) error {
	if err := sorted.CheckSizes(key, value); err != nil {
		return err
	}
	return is.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(key), []byte(value))
	})
}

func (is *kvis) Delete(key string) error {
	return is.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Delete([]byte(key))
	})
}

// Merge appends delta to the current value of key within a single bbolt
// write transaction, giving merge-append atomicity per key without a
// separate application-level lock: bbolt serializes all writers.
func (is *kvis) Merge(key, delta string) error {
	return is.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		old := b.Get([]byte(key))
		next := make([]byte, 0, len(old)+len(delta))
		next = append(next, old...)
		next = append(next, delta...)
		return b.Put([]byte(key), next)
	})
}

func (is *kvis) Find(start, end string) sorted.Iterator {
	tx, err := is.db.Begin(false)
	if err != nil {
		return &iter{err: err}
	}
	it := &iter{tx: tx, cur: tx.Bucket(bucketName).Cursor(), endKey: []byte(end)}
	it.key, it.val = it.cur.Seek([]byte(start))
	it.first = true
	return it
}

func (is *kvis) Wipe() error {
	if err := is.db.Close(); err != nil {
		return err
	}
	if err := os.Remove(is.path); err != nil {
		return err
	}
	db, err := openDB(is.path)
	if err != nil {
		return fmt.Errorf("error creating %s: %v", is.path, err)
	}
	is.db = db
	return nil
}

func (is *kvis) BeginBatch() sorted.BatchMutation {
	return sorted.NewBatchMutation()
}

type batch interface {
	Mutations() []sorted.Mutation
}

func (is *kvis) CommitBatch(bm sorted.BatchMutation) error {
	b, ok := bm.(batch)
	if !ok {
		return errors.New("invalid batch type")
	}
	return is.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketName)
		for _, m := range b.Mutations() {
			if m.IsDelete() {
				if err := bucket.Delete([]byte(m.Key())); err != nil {
					return err
				}
				continue
			}
			if err := sorted.CheckSizes(m.Key(), m.Value()); err != nil {
				return err
			}
			if err := bucket.Put([]byte(m.Key()), []byte(m.Value())); err != nil {
				return err
			}
		}
		return nil
	})
}

func (is *kvis) Close() error {
	log.Printf("Closing kvfile database %s", is.path)
	return is.db.Close()
}

type iter struct {
	tx     *bolt.Tx
	cur    *bolt.Cursor
	endKey []byte

	key, val []byte
	skey     *string
	sval     *string

	first  bool
	err    error
	closed bool
}

func (it *iter) Close() error {
	it.closed = true
	if it.tx != nil {
		it.tx.Rollback()
	}
	return it.err
}

func (it *iter) KeyBytes() []byte {
	return it.key
}

func (it *iter) ValueBytes() []byte {
	return it.val
}

func (it *iter) Key() string {
	if it.skey != nil {
		return *it.skey
	}
	s := string(it.key)
	it.skey = &s
	return s
}

func (it *iter) Value() string {
	if it.sval != nil {
		return *it.sval
	}
	s := string(it.val)
	it.sval = &s
	return s
}

func (it *iter) end() bool {
	it.key, it.val = nil, nil
	return false
}

func (it *iter) Next() bool {
	if it.err != nil || (it.key == nil && !it.first) {
		return false
	}
	if it.closed {
		panic("Next called after Close")
	}
	it.skey, it.sval = nil, nil
	if it.first {
		it.first = false
	} else {
		it.key, it.val = it.cur.Next()
	}
	if it.key == nil {
		return it.end()
	}
	if len(it.endKey) > 0 && bytes.Compare(it.key, it.endKey) >= 0 {
		return it.end()
	}
	return true
}
