package disktree

import (
	"encoding/binary"
	"fmt"
	"io"
	"sort"
	"strings"
)

// Source is what Reader needs from its backing byte range: stateless
// random access plus a known size, so multiple Readers (or multiple
// goroutines sharing one Reader) can each read independently without
// coordinating a shared cursor, unlike a Read+Seek stream.
type Source interface {
	io.ReaderAt
	Size() int64
}

// Reader answers exact and prefix lookups against a trie previously
// written by a Builder, without ever materializing it in memory: each
// operation re-reads only the nodes on its own path.
type Reader struct {
	src  Source
	root uint64
}

// Open reads src's trailer and returns a Reader ready to serve queries.
func Open(src Source) (*Reader, error) {
	size := src.Size()
	if size < 8 {
		return nil, ErrShortSource
	}
	var buf [8]byte
	if _, err := src.ReadAt(buf[:], size-8); err != nil {
		return nil, fmt.Errorf("disktree: reading trailer: %w", err)
	}
	return &Reader{src: src, root: binary.BigEndian.Uint64(buf[:])}, nil
}

type nodeEdge struct {
	label  string
	offset uint64
}

// readNode parses the node at offset per §6.1's wire layout.
func (r *Reader) readNode(offset uint64) (values []uint64, edges []nodeEdge, err error) {
	c := &cursor{src: r.src, pos: int64(offset)}

	numValues, err := c.readUint32()
	if err != nil {
		return nil, nil, err
	}
	values = make([]uint64, numValues)
	for i := range values {
		v, err := c.readUint64()
		if err != nil {
			return nil, nil, err
		}
		values[i] = v
	}

	numEdges, err := c.readUint32()
	if err != nil {
		return nil, nil, err
	}
	edges = make([]nodeEdge, numEdges)
	for i := range edges {
		labelLen, err := c.readUint32()
		if err != nil {
			return nil, nil, err
		}
		label, err := c.readString(int(labelLen))
		if err != nil {
			return nil, nil, err
		}
		childOff, err := c.readUint64()
		if err != nil {
			return nil, nil, err
		}
		edges[i] = nodeEdge{label: label, offset: childOff}
	}
	return values, edges, nil
}

// find walks the trie looking for query, returning the offset of the node
// that answers it per §4.5.1: an edge whose label is a prefix of the
// remaining query (recurse with the suffix) or an extension of it (return
// that child's offset directly, without descending further).
func (r *Reader) find(query string) (offset uint64, found bool, err error) {
	return r.findAt(r.root, Normalize(query))
}

func (r *Reader) findAt(offset uint64, remaining string) (uint64, bool, error) {
	_, edges, err := r.readNode(offset)
	if err != nil {
		return 0, false, err
	}
	if remaining == "" {
		return offset, true, nil
	}
	for _, e := range edges {
		switch {
		case strings.HasPrefix(remaining, e.label):
			return r.findAt(e.offset, remaining[len(e.label):])
		case strings.HasPrefix(e.label, remaining):
			return e.offset, true, nil
		}
	}
	return 0, false, nil
}

// subtreeValues collects every value (masked to the low 60 bits) stored
// anywhere under offset, including offset's own node.
func (r *Reader) subtreeValues(offset uint64) (map[uint64]struct{}, error) {
	out := make(map[uint64]struct{})
	if err := r.collect(offset, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Reader) collect(offset uint64, out map[uint64]struct{}) error {
	values, edges, err := r.readNode(offset)
	if err != nil {
		return err
	}
	for _, v := range values {
		out[v&DEFLAG] = struct{}{}
	}
	for _, e := range edges {
		if err := r.collect(e.offset, out); err != nil {
			return err
		}
	}
	return nil
}

// ExactSearch returns the values stored at the node find reaches for query
// (after normalization), excluding any suffix-entry (FlagPartial) values.
// When query ends exactly at a node, these are the values inserted with
// key equal to query. When query ends partway along an edge label, find
// returns the node at the end of that edge, so the values of the key that
// label completes are returned.
func (r *Reader) ExactSearch(query string) ([]uint64, error) {
	offset, found, err := r.find(query)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	values, _, err := r.readNode(offset)
	if err != nil {
		return nil, err
	}
	out := make([]uint64, 0, len(values))
	for _, v := range values {
		if v&FlagPartial != 0 {
			continue
		}
		out = append(out, v&DEFLAG)
	}
	return out, nil
}

// Search splits query on whitespace and returns the intersection, across
// tokens, of each token's subtree values (§4.5.4), ascending by id. A
// single-token query is simply that token's prefix search. Ordering isn't
// required by §4.5.4, but ascending-by-id is deterministic and matches the
// BTreeSet ordering the original implementation returns.
func (r *Reader) Search(query string) ([]uint64, error) {
	tokens := strings.Fields(query)
	if len(tokens) == 0 {
		return nil, nil
	}

	var acc map[uint64]struct{}
	for i, tok := range tokens {
		offset, found, err := r.find(tok)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, nil
		}
		set, err := r.subtreeValues(offset)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			acc = set
			continue
		}
		for v := range acc {
			if _, ok := set[v]; !ok {
				delete(acc, v)
			}
		}
		if len(acc) == 0 {
			return nil, nil
		}
	}

	out := make([]uint64, 0, len(acc))
	for v := range acc {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// cursor is a sequential-read helper over a Source starting at an
// arbitrary offset; readNode uses one per call rather than holding any
// state across calls, keeping Reader itself free of per-query state.
type cursor struct {
	src Source
	pos int64
}

func (c *cursor) readUint32() (uint32, error) {
	var buf [4]byte
	if _, err := c.src.ReadAt(buf[:], c.pos); err != nil {
		return 0, err
	}
	c.pos += 4
	return binary.BigEndian.Uint32(buf[:]), nil
}

func (c *cursor) readUint64() (uint64, error) {
	var buf [8]byte
	if _, err := c.src.ReadAt(buf[:], c.pos); err != nil {
		return 0, err
	}
	c.pos += 8
	return binary.BigEndian.Uint64(buf[:]), nil
}

func (c *cursor) readString(n int) (string, error) {
	if n == 0 {
		return "", nil
	}
	buf := make([]byte, n)
	if _, err := c.src.ReadAt(buf, c.pos); err != nil {
		return "", err
	}
	c.pos += int64(n)
	return string(buf), nil
}
