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

package kvfile

import (
	"path/filepath"
	"testing"

	"github.com/showermat/squashserve/pkg/sorted/kvtest"
)

func TestSortedKV(t *testing.T) {
	file := filepath.Join(t.TempDir(), "kvfile.kv")
	kv, err := NewStorage(file)
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	defer kv.Close()
	kvtest.TestSorted(t, kv)
}

func TestMerge(t *testing.T) {
	file := filepath.Join(t.TempDir(), "kvfile-merge.kv")
	kv, err := NewStorage(file)
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	defer kv.Close()
	mergeable, ok := kv.(interface{ Merge(key, delta string) error })
	if !ok {
		t.Fatal("kvfile KeyValue does not implement Merge")
	}
	if err := mergeable.Merge("k", "a"); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if err := mergeable.Merge("k", "b"); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	v, err := kv.Get("k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v != "ab" {
		t.Fatalf("Get(k) = %q; want %q", v, "ab")
	}
}
