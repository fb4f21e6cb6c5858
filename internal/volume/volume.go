// Package volume provides a minimal, directory-backed stand-in for the
// archive/volume container spec.md marks out of scope ("the archive/volume
// format that embeds the index as an opaque byte stream"). It exists only
// so cmd/mkvol and cmd/sqsrv have something real to build and open:
// documents live as plain files under a root directory, addressed by a
// small JSON manifest, with the disktree index as a sibling file. It does
// not attempt HTML parsing, MIME sniffing, or any of the title-extraction
// machinery that stays out of scope.
package volume

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/showermat/squashserve/internal/disktree"
	"github.com/showermat/squashserve/pkg/sorted"
)

// IndexFileName and ManifestFileName are the sibling-file names a Dir
// volume's index and manifest are stored under, exported so callers
// building a Dir layout by hand (cmd/mkvol's concurrent ingest path)
// agree with Open/Build on where to find them.
const (
	IndexFileName    = ".idx"
	ManifestFileName = ".manifest.json"
)

// Record is one document mkvol ingests: its title (fed to disktree.Builder
// exactly as written, including suffix-entry derivation), the 60-bit value
// id assigned to it, and the path to its bytes, relative to the volume
// root it will be built into.
type Record struct {
	Title string `json:"title"`
	Value uint64 `json:"value"`
	Path  string `json:"path"`
}

// ManifestEntry is what a Dir persists per id: enough to resolve a search
// result back to a title and an openable file.
type ManifestEntry struct {
	Title string `json:"title"`
	Path  string `json:"path"`
}

// Manifest maps each document's 60-bit id to its manifest entry.
type Manifest map[uint64]ManifestEntry

func loadManifest(path string) (Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("volume: opening manifest: %w", err)
	}
	defer f.Close()
	var raw map[string]ManifestEntry
	if err := json.NewDecoder(f).Decode(&raw); err != nil {
		return nil, fmt.Errorf("volume: decoding manifest: %w", err)
	}
	m := make(Manifest, len(raw))
	for k, v := range raw {
		var id uint64
		if _, err := fmt.Sscanf(k, "%d", &id); err != nil {
			return nil, fmt.Errorf("volume: manifest key %q is not a document id: %w", k, err)
		}
		m[id] = v
	}
	return m, nil
}

// Save persists m as JSON at path, keyed by decimal document id.
func (m Manifest) Save(path string) error {
	raw := make(map[string]ManifestEntry, len(m))
	for id, e := range m {
		raw[fmt.Sprintf("%d", id)] = e
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("volume: creating manifest: %w", err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(raw); err != nil {
		return fmt.Errorf("volume: encoding manifest: %w", err)
	}
	return nil
}

// fileSource adapts an *os.File, plus its known size, to disktree.Source:
// stateless ReadAt-based random access, so every Dir query re-reads the
// index independently rather than sharing a cursor.
type fileSource struct {
	f    *os.File
	size int64
}

func (s fileSource) ReadAt(p []byte, off int64) (int, error) { return s.f.ReadAt(p, off) }
func (s fileSource) Size() int64                             { return s.size }

// Dir is a directory-backed volume: root holds each document as a plain
// file, root/.manifest.json maps ids to (title, path), and root/.idx is
// the serialized disktree index built from the same titles.
type Dir struct {
	root     string
	manifest Manifest
	index    *disktree.Reader
	idxFile  *os.File
}

// Open opens an existing Dir-format volume at root.
func Open(root string) (*Dir, error) {
	manifest, err := loadManifest(filepath.Join(root, ManifestFileName))
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(root, IndexFileName))
	if err != nil {
		return nil, fmt.Errorf("volume: opening index: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("volume: statting index: %w", err)
	}
	reader, err := disktree.Open(fileSource{f: f, size: info.Size()})
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Dir{root: root, manifest: manifest, index: reader, idxFile: f}, nil
}

// Close releases the open index file. It does not remove anything on
// disk: unlike disktree.Builder's staging store, a built volume is the
// durable artifact, not scratch space.
func (d *Dir) Close() error {
	return d.idxFile.Close()
}

// ExactTitle resolves query to the single document the index's
// ExactSearch returns for it (see disktree.Reader.ExactSearch for a query
// that ends partway along an edge label), mirroring the original library's
// Volume.exact_title: ambiguous or absent matches return found=false
// rather than an error.
func (d *Dir) ExactTitle(query string) (path string, found bool, err error) {
	values, err := d.index.ExactSearch(query)
	if err != nil {
		return "", false, err
	}
	if len(values) != 1 {
		return "", false, nil
	}
	entry, ok := d.manifest[values[0]]
	if !ok {
		return "", false, nil
	}
	return entry.Path, true, nil
}

// Titles runs a (possibly multi-token) prefix search and returns the
// total page count plus the page'th slice of size pageSize, matching the
// original library's Volume.titles pagination shape: results are sliced
// into pages in the order Search returns them (ascending by id), and only
// the selected page is then sorted by title, so which documents land on
// which page depends on their ids, not their titles. page is 1-indexed, as
// in the original.
func (d *Dir) Titles(query string, page, pageSize int) (pages int, results []ManifestEntry, err error) {
	values, err := d.index.Search(query)
	if err != nil {
		return 0, nil, err
	}

	if pageSize <= 0 {
		pageSize = len(values)
		if pageSize == 0 {
			pageSize = 1
		}
	}
	pages = (len(values) + pageSize - 1) / pageSize
	start := (page - 1) * pageSize
	if start < 0 {
		start = 0
	}
	if start > len(values) {
		start = len(values)
	}
	end := start + pageSize
	if end > len(values) {
		end = len(values)
	}

	out := make([]ManifestEntry, 0, end-start)
	for _, v := range values[start:end] {
		entry, ok := d.manifest[v]
		if !ok {
			continue
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return pages, out, nil
}

// Open opens the document stored under id for reading.
func (d *Dir) Open(id uint64) (*os.File, error) {
	entry, ok := d.manifest[id]
	if !ok {
		return nil, fmt.Errorf("volume: no document with id %d", id)
	}
	return os.Open(filepath.Join(d.root, entry.Path))
}

// Build constructs a Dir-format volume at root from records, using
// staging as the disktree.Builder's staging store (caller picks the
// pkg/sorted backend; Build takes ownership and closes it). Document
// bytes are assumed to already exist at filepath.Join(root, rec.Path) for
// each record; Build only produces the index and the manifest.
func Build(root string, records []Record, staging sorted.KeyValue, progress func(permille int)) error {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("volume: creating %s: %w", root, err)
	}

	b := disktree.NewBuilder(staging)
	manifest := make(Manifest, len(records))
	for _, rec := range records {
		if err := b.Add(rec.Title, rec.Value); err != nil {
			b.Close()
			return fmt.Errorf("volume: adding %q: %w", rec.Title, err)
		}
		manifest[rec.Value] = ManifestEntry{Title: rec.Title, Path: rec.Path}
	}

	f, err := os.Create(filepath.Join(root, IndexFileName))
	if err != nil {
		b.Close()
		return fmt.Errorf("volume: creating index: %w", err)
	}
	if err := b.Build(f, progress); err != nil {
		f.Close()
		b.Close()
		return err
	}
	if err := f.Close(); err != nil {
		b.Close()
		return fmt.Errorf("volume: closing index: %w", err)
	}
	if err := b.Close(); err != nil {
		return err
	}

	return manifest.Save(filepath.Join(root, ManifestFileName))
}
