/*
Copyright 2011 Google Inc.

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

package sorted

import (
	"errors"
	"sync"

	"github.com/google/btree"

	"github.com/showermat/squashserve/pkg/jsonconfig"
)

// memDegree is the branching factor passed to btree.New. It has no
// observable effect beyond performance.
const memDegree = 32

// NewMemoryKeyValue returns a KeyValue implementation that's backed only
// by memory. It's mostly useful for tests and development.
func NewMemoryKeyValue() KeyValue {
	return &memKeys{t: btree.New(memDegree)}
}

// kvItem is the btree.Item stored in memKeys' tree. Only key
// participates in ordering; value rides along.
type kvItem struct {
	key, value string
}

func (a kvItem) Less(than btree.Item) bool {
	return a.key < than.(kvItem).key
}

// memKeys is a naive in-memory implementation of KeyValue for test & development
// purposes only.
type memKeys struct {
	mu sync.Mutex // guards t
	t  *btree.BTree
}

func (mk *memKeys) Get(key string) (string, error) {
	mk.mu.Lock()
	defer mk.mu.Unlock()
	item := mk.t.Get(kvItem{key: key})
	if item == nil {
		return "", ErrNotFound
	}
	return item.(kvItem).value, nil
}

func (mk *memKeys) Set(key, value string) error {
	if err := CheckSizes(key, value); err != nil {
		return err
	}
	mk.mu.Lock()
	defer mk.mu.Unlock()
	mk.t.ReplaceOrInsert(kvItem{key: key, value: value})
	return nil
}

func (mk *memKeys) Delete(key string) error {
	mk.mu.Lock()
	defer mk.mu.Unlock()
	mk.t.Delete(kvItem{key: key})
	return nil
}

// Merge appends delta to whatever is currently stored under key while
// holding mk.mu, giving the same per-key append atomicity the disk-backed
// backends provide via a single write transaction.
func (mk *memKeys) Merge(key, delta string) error {
	mk.mu.Lock()
	defer mk.mu.Unlock()
	item := mk.t.Get(kvItem{key: key})
	old := ""
	if item != nil {
		old = item.(kvItem).value
	}
	mk.t.ReplaceOrInsert(kvItem{key: key, value: old + delta})
	return nil
}

func (mk *memKeys) Find(start, end string) Iterator {
	mk.mu.Lock()
	defer mk.mu.Unlock()
	var items []kvItem
	iterFn := func(i btree.Item) bool {
		it := i.(kvItem)
		if end != "" && it.key >= end {
			return false
		}
		items = append(items, it)
		return true
	}
	if start == "" {
		mk.t.Ascend(iterFn)
	} else {
		mk.t.AscendGreaterOrEqual(kvItem{key: start}, iterFn)
	}
	return &memIter{items: items, idx: -1}
}

func (mk *memKeys) BeginBatch() BatchMutation {
	return &batch{}
}

func (mk *memKeys) CommitBatch(bm BatchMutation) error {
	b, ok := bm.(*batch)
	if !ok {
		return errors.New("invalid batch type; not an instance returned by BeginBatch")
	}
	mk.mu.Lock()
	defer mk.mu.Unlock()
	for _, m := range b.Mutations() {
		if m.IsDelete() {
			mk.t.Delete(kvItem{key: m.Key()})
			continue
		}
		if err := CheckSizes(m.Key(), m.Value()); err != nil {
			return err
		}
		mk.t.ReplaceOrInsert(kvItem{key: m.Key(), value: m.Value()})
	}
	return nil
}

func (mk *memKeys) Close() error { return nil }

// Wipe discards every key/value pair, satisfying sorted.Wiper.
func (mk *memKeys) Wipe() error {
	mk.mu.Lock()
	defer mk.mu.Unlock()
	mk.t = btree.New(memDegree)
	return nil
}

var (
	_ Wiper     = (*memKeys)(nil)
	_ Mergeable = (*memKeys)(nil)
)

// memIter snapshots the matching key/value pairs at the time Find was
// called: mutating the tree concurrently with iteration never invalidates
// it, at the cost of copying the matched range up front.
type memIter struct {
	items []kvItem
	idx   int

	k, v *string // cached stringifications; reset on each Next
}

func (it *memIter) Next() bool {
	it.k, it.v = nil, nil
	it.idx++
	return it.idx < len(it.items)
}

func (it *memIter) Close() error {
	it.items = nil
	return nil
}

func (it *memIter) current() kvItem {
	return it.items[it.idx]
}

func (it *memIter) KeyBytes() []byte {
	return []byte(it.current().key)
}

func (it *memIter) ValueBytes() []byte {
	return []byte(it.current().value)
}

func (it *memIter) Key() string {
	if it.k != nil {
		return *it.k
	}
	s := it.current().key
	it.k = &s
	return s
}

func (it *memIter) Value() string {
	if it.v != nil {
		return *it.v
	}
	s := it.current().value
	it.v = &s
	return s
}

func init() {
	RegisterKeyValue("memory", func(cfg jsonconfig.Obj) (KeyValue, error) {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return NewMemoryKeyValue(), nil
	})
}
