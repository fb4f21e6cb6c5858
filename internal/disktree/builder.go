package disktree

import (
	"encoding/binary"
	"fmt"
	"io"
	"sort"
	"sync"
	"unicode/utf8"

	"github.com/showermat/squashserve/internal/diag"
	"github.com/showermat/squashserve/pkg/sorted"
)

// Builder accumulates (key, value) pairs into a staging store and, on
// Build, streams them through a writer to produce a serialized trie. It
// is the only supported entry point for producing an index: the
// underlying streaming writer is unexported, and the suffix entries
// word-break transitions generate are only ever added here.
type Builder struct {
	staging sorted.KeyValue

	// fallbackMu serializes the Get+Set read-modify-write used when
	// staging does not implement sorted.Mergeable. It plays the role the
	// source's RwLock<bool> plays for the finalized flag, but scoped to
	// merge instead, since mu below already guards finalized.
	fallbackMu sync.Mutex

	mu        sync.RWMutex
	finalized bool
}

// NewBuilder returns a Builder that stages entries into staging. staging
// is owned by the returned Builder: Close wipes and closes it.
func NewBuilder(staging sorted.KeyValue) *Builder {
	return &Builder{staging: staging}
}

// Add normalizes key and merges value's bytes under it, then merges the
// flagged, suffix-derived entries described in §4.6. It may be called
// concurrently from multiple goroutines; correctness relies on the
// staging store's per-key merge atomicity (or, lacking that, on
// fallbackMu serializing the read-modify-write).
func (b *Builder) Add(key string, value uint64) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.finalized {
		return ErrFinalized
	}
	if err := checkRange(value); err != nil {
		return err
	}

	norm := Normalize(key)
	if err := b.merge(norm, value); err != nil {
		return fmt.Errorf("disktree: staging merge for %q: %w", norm, err)
	}
	for _, pos := range wordBreakPositions(norm) {
		suffix := norm[pos:]
		if err := b.merge(suffix, value|FlagPartial); err != nil {
			return fmt.Errorf("disktree: staging merge for suffix %q: %w", suffix, err)
		}
	}
	return nil
}

func (b *Builder) merge(key string, value uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], value)
	if m, ok := b.staging.(sorted.Mergeable); ok {
		return m.Merge(key, string(buf[:]))
	}
	b.fallbackMu.Lock()
	defer b.fallbackMu.Unlock()
	old, err := b.staging.Get(key)
	if err != nil && err != sorted.ErrNotFound {
		return err
	}
	return b.staging.Set(key, old+string(buf[:]))
}

// Build finalizes the Builder (no further Add calls are accepted),
// streams the staging store's contents in ascending key order through a
// writer, and writes the resulting trie to sink. progress, if non-nil, is
// called with strictly increasing per-mille values in [1, 1000].
func (b *Builder) Build(sink io.Writer, progress func(permille int)) (err error) {
	b.mu.Lock()
	if b.finalized {
		b.mu.Unlock()
		return ErrFinalized
	}
	b.finalized = true
	b.mu.Unlock()

	total, err := b.countKeys()
	if err != nil {
		return err
	}

	it := b.staging.Find("", "")
	defer func() {
		if cerr := it.Close(); err == nil {
			err = cerr
		}
	}()

	w := newWriter(sink)
	lastPermille := 0
	i := 0
	for it.Next() {
		key := it.KeyBytes()
		keyStr := it.Key()
		if !utf8.Valid(key) {
			return ErrUTF8
		}
		raw := it.ValueBytes()
		if len(raw)%8 != 0 {
			return fmt.Errorf("disktree: staged value for %q has length %d, not a multiple of 8", keyStr, len(raw))
		}
		values := make([]uint64, 0, len(raw)/8)
		for off := 0; off < len(raw); off += 8 {
			values = append(values, binary.BigEndian.Uint64(raw[off:off+8]))
		}
		values = dedupeSorted(sortUint64s(values))
		for _, v := range values {
			if err := w.add(keyStr, v); err != nil {
				return err
			}
		}
		i++
		if progress != nil && total > 0 {
			permille := i * 1000 / total
			if permille > lastPermille {
				lastPermille = permille
				progress(permille)
			}
		}
	}
	return w.finish()
}

// Close wipes the staging store if it supports Wipe (per §4.2's "drop"
// contract) and then closes it. A wipe failure is logged and swallowed,
// matching §7's rule that drop paths must not fail.
func (b *Builder) Close() error {
	if wiper, ok := b.staging.(sorted.Wiper); ok {
		if err := wiper.Wipe(); err != nil {
			diag.L.Printf("disktree: error wiping staging store: %v", err)
		}
	}
	return b.staging.Close()
}

func (b *Builder) countKeys() (int, error) {
	it := b.staging.Find("", "")
	n := 0
	for it.Next() {
		n++
	}
	return n, it.Close()
}

func sortUint64s(v []uint64) []uint64 {
	sort.Slice(v, func(i, j int) bool { return v[i] < v[j] })
	return v
}

func dedupeSorted(v []uint64) []uint64 {
	if len(v) == 0 {
		return v
	}
	out := v[:1]
	for _, x := range v[1:] {
		if x != out[len(out)-1] {
			out = append(out, x)
		}
	}
	return out
}

