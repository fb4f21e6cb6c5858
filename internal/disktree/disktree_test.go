package disktree

import (
	"bytes"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/showermat/squashserve/pkg/sorted"
)

// memSource adapts an in-memory byte slice to the Source interface.
type memSource struct {
	b []byte
}

func (s memSource) ReadAt(p []byte, off int64) (int, error) {
	return bytes.NewReader(s.b).ReadAt(p, off)
}

func (s memSource) Size() int64 {
	return int64(len(s.b))
}

func buildIndex(t *testing.T, entries map[string][]uint64) *Reader {
	t.Helper()
	b := NewBuilder(sorted.NewMemoryKeyValue())
	// Deterministic insertion order: sort keys, then add each key's
	// values in the order its slice lists them; the Builder sorts and
	// dedupes values per key anyway.
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range entries[k] {
			require.NoError(t, b.Add(k, v))
		}
	}
	var buf bytes.Buffer
	require.NoError(t, b.Build(&buf, nil))
	require.NoError(t, b.Close())

	r, err := Open(memSource{b: buf.Bytes()})
	require.NoError(t, err)
	return r
}

func asSet(v []uint64) map[uint64]bool {
	out := make(map[uint64]bool, len(v))
	for _, x := range v {
		out[x] = true
	}
	return out
}

// TestCanonicalScenario reproduces the worked example from the
// specification's testable-properties section.
func TestCanonicalScenario(t *testing.T) {
	r := buildIndex(t, map[string][]uint64{
		"aaa": {1, 2},
		"aab": {3},
		"ab":  {4},
		"abc": {5},
		"baa": {6},
	})

	search := func(q string) map[uint64]bool {
		v, err := r.Search(q)
		require.NoError(t, err)
		return asSet(v)
	}
	exact := func(q string) map[uint64]bool {
		v, err := r.ExactSearch(q)
		require.NoError(t, err)
		return asSet(v)
	}

	require.Equal(t, map[uint64]bool{1: true, 2: true}, search("aaa"))
	require.Equal(t, map[uint64]bool{1: true, 2: true, 3: true}, search("aa"))
	require.Equal(t, map[uint64]bool{4: true, 5: true}, search("ab"))
	require.Empty(t, search("c"))
	require.Empty(t, exact("aa"))
	require.Equal(t, map[uint64]bool{1: true, 2: true}, exact("aaa"))
	require.Equal(t, map[uint64]bool{4: true}, exact("ab"))
}

func TestWordBreakSuffixEntries(t *testing.T) {
	b := NewBuilder(sorted.NewMemoryKeyValue())
	require.NoError(t, b.Add("The Quick Brown Fox", 42))
	var buf bytes.Buffer
	require.NoError(t, b.Build(&buf, nil))
	require.NoError(t, b.Close())

	r, err := Open(memSource{b: buf.Bytes()})
	require.NoError(t, err)

	brown, err := r.Search("brown")
	require.NoError(t, err)
	require.Contains(t, asSet(brown), uint64(42))

	fox, err := r.Search("fox")
	require.NoError(t, err)
	require.Contains(t, asSet(fox), uint64(42))

	exactBrown, err := r.ExactSearch("brown")
	require.NoError(t, err)
	require.Empty(t, exactBrown)

	exactFull, err := r.ExactSearch("the quick brown fox")
	require.NoError(t, err)
	require.Equal(t, []uint64{42}, exactFull)
}

func TestAddRejectsOutOfRangeValue(t *testing.T) {
	b := NewBuilder(sorted.NewMemoryKeyValue())
	require.NoError(t, b.Add("ok", 1))
	err := b.Add("bad", FlagPartial)
	require.ErrorIs(t, err, ErrRange)

	// Preceding successful adds remain committed: Build still sees "ok".
	var buf bytes.Buffer
	require.NoError(t, b.Build(&buf, nil))
	r, err := Open(memSource{b: buf.Bytes()})
	require.NoError(t, err)
	v, err := r.ExactSearch("ok")
	require.NoError(t, err)
	require.Equal(t, []uint64{1}, v)
}

func TestAddAfterBuildIsRejected(t *testing.T) {
	b := NewBuilder(sorted.NewMemoryKeyValue())
	require.NoError(t, b.Add("a", 1))
	var buf bytes.Buffer
	require.NoError(t, b.Build(&buf, nil))
	require.ErrorIs(t, b.Add("b", 2), ErrFinalized)
}

func TestWriterRejectsOutOfOrderKeys(t *testing.T) {
	var buf bytes.Buffer
	w := newWriter(&buf)
	require.NoError(t, w.add("b", 1))
	err := w.add("a", 2)
	require.ErrorIs(t, err, ErrOrderViolation)
}

func TestNormalizeIsIdempotent(t *testing.T) {
	inputs := []string{"Hello", "WIKI VOYAGE", "MiXeD Case 123", ""}
	for _, in := range inputs {
		once := Normalize(in)
		twice := Normalize(once)
		require.Equal(t, once, twice)
	}
}

func TestProgressIsMonotonic(t *testing.T) {
	b := NewBuilder(sorted.NewMemoryKeyValue())
	for i := 0; i < 50; i++ {
		require.NoError(t, b.Add(string(rune('a'+i%26))+string(rune('0'+i/26)), uint64(i)))
	}
	var buf bytes.Buffer
	var last int
	require.NoError(t, b.Build(&buf, func(permille int) {
		require.Greater(t, permille, last)
		require.LessOrEqual(t, permille, 1000)
		last = permille
	}))
	require.Greater(t, last, 0)
}

func TestIntersectionSemantics(t *testing.T) {
	r := buildIndex(t, map[string][]uint64{
		"a b": {1},
		"a c": {2},
	})
	ab, err := r.Search("a b")
	require.NoError(t, err)
	a, err := r.Search("a")
	require.NoError(t, err)
	bOnly, err := r.Search("b")
	require.NoError(t, err)

	want := asSet(a)
	for v := range want {
		if !asSet(bOnly)[v] {
			delete(want, v)
		}
	}
	require.Equal(t, want, asSet(ab))
}

// TestPartialPrefixSplitClosesDetachedChild exercises insert's Case 4
// partial-common-prefix split (e.g. "aaa" then "aab" share prefix "aa",
// splitting the "aaa" edge's child off into a fresh intermediate node) and
// asserts the detached child is written immediately rather than carried in
// memory: once split, it must never be touched again by a later insert, so
// its edge should already report written() == true.
func TestPartialPrefixSplitClosesDetachedChild(t *testing.T) {
	var buf bytes.Buffer
	w := newWriter(&buf)
	require.NoError(t, w.add("aaa", 1))
	require.NoError(t, w.add("aab", 2))

	require.Len(t, w.root.edges, 1)
	intermediate := w.root.edges[0].node
	require.NotNil(t, intermediate)
	require.Equal(t, "aa", w.root.edges[0].label)
	require.Len(t, intermediate.edges, 2)
	require.True(t, intermediate.edges[0].written(), "detached child must be closed at split time, not carried unwritten")

	require.NoError(t, w.finish())
	r, err := Open(memSource{b: buf.Bytes()})
	require.NoError(t, err)
	v, err := r.ExactSearch("aaa")
	require.NoError(t, err)
	require.Equal(t, []uint64{1}, v)
	v, err = r.ExactSearch("aab")
	require.NoError(t, err)
	require.Equal(t, []uint64{2}, v)
}

// TestManySharedPrefixSplits builds an index where every key shares a long
// common prefix with the next, forcing repeated partial-prefix splits, and
// checks every title is exactly searchable afterward.
func TestManySharedPrefixSplits(t *testing.T) {
	entries := map[string][]uint64{}
	for i := 0; i < 200; i++ {
		entries[sharedPrefixKey(i)] = []uint64{uint64(i)}
	}
	r := buildIndex(t, entries)
	for i := 0; i < 200; i++ {
		key := sharedPrefixKey(i)
		v, err := r.ExactSearch(key)
		require.NoError(t, err)
		require.Equal(t, []uint64{uint64(i)}, v)
	}
}

func sharedPrefixKey(i int) string {
	return "wikivoyage/article/" + string(rune('a'+i%26)) + string(rune('0'+i/26))
}

func TestPrefixContainment(t *testing.T) {
	r := buildIndex(t, map[string][]uint64{
		"wikivoyage": {7},
	})
	for _, prefix := range []string{"w", "wi", "wiki", "wikivoyage"} {
		v, err := r.Search(prefix)
		require.NoError(t, err)
		require.Contains(t, asSet(v), uint64(7))
	}
}
