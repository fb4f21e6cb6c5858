// Command mkvol builds a squashserve volume from a JSON manifest of
// documents. The manifest is a stand-in for the title-extraction
// pipeline spec.md keeps out of scope: mkvol assumes titles have already
// been derived elsewhere and just builds the index and volume layout
// around them.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/showermat/squashserve/internal/diag"
	"github.com/showermat/squashserve/internal/disktree"
	"github.com/showermat/squashserve/internal/volume"
	"github.com/showermat/squashserve/pkg/jsonconfig"
	"github.com/showermat/squashserve/pkg/sorted"
	"github.com/showermat/squashserve/pkg/sorted/buffer"
	"github.com/showermat/squashserve/pkg/sorted/kvfile"
	"github.com/showermat/squashserve/pkg/sorted/leveldb"
)

var (
	flagManifest   = flag.String("manifest", "", "path to a JSON array of {title,value,path} records")
	flagOut        = flag.String("out", "", "output volume directory")
	flagBackend    = flag.String("backend", "leveldb", "staging store backend: mem, leveldb, bbolt, or buffered")
	flagBufferSize = flag.Int64("buffer-bytes", 4<<20, "bytes buffered in memory before flushing to the backing store, for -backend=buffered")
	flagWorkers    = flag.Int("workers", 1, "number of concurrent goroutines feeding Builder.Add")
	flagConfig     = flag.String("config", "", "optional JSON config file (overrides the flags above)")
)

var log = diag.New("mkvol")

func main() {
	flag.Parse()

	manifestPath, out, backend, workers := *flagManifest, *flagOut, *flagBackend, *flagWorkers
	bufferBytes := *flagBufferSize
	if *flagConfig != "" {
		cfg, err := jsonconfig.ReadFile(*flagConfig)
		if err != nil {
			log.Fatalf("reading config: %v", err)
		}
		manifestPath = cfg.OptionalString("manifest", manifestPath)
		out = cfg.OptionalString("out", out)
		backend = cfg.OptionalString("backend", backend)
		workers = cfg.OptionalInt("workers", workers)
		bufferBytes = int64(cfg.OptionalInt("bufferBytes", int(bufferBytes)))
		if err := cfg.Validate(); err != nil {
			log.Fatalf("invalid config: %v", err)
		}
	}

	if manifestPath == "" || out == "" {
		fmt.Fprintln(os.Stderr, "usage: mkvol -manifest records.json -out /path/to/volume")
		os.Exit(2)
	}

	records, err := readManifest(manifestPath)
	if err != nil {
		log.Fatalf("reading manifest: %v", err)
	}

	staging, cleanup, err := openStaging(backend, bufferBytes)
	if err != nil {
		log.Fatalf("opening staging store: %v", err)
	}
	defer cleanup()

	if err := build(out, records, staging, workers); err != nil {
		log.Fatalf("building volume: %v", err)
	}
	log.Printf("wrote volume to %s (%d documents)", out, len(records))
}

func readManifest(path string) ([]volume.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var records []volume.Record
	if err := json.NewDecoder(f).Decode(&records); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return records, nil
}

func openStaging(backend string, bufferBytes int64) (sorted.KeyValue, func(), error) {
	switch backend {
	case "mem":
		kv := sorted.NewMemoryKeyValue()
		return kv, func() {}, nil
	case "leveldb":
		dir, err := os.MkdirTemp("", "mkvol-staging-leveldb-")
		if err != nil {
			return nil, nil, err
		}
		kv, err := leveldb.NewStorage(filepath.Join(dir, "staging.ldb"))
		if err != nil {
			os.RemoveAll(dir)
			return nil, nil, err
		}
		return kv, func() { os.RemoveAll(dir) }, nil
	case "bbolt":
		dir, err := os.MkdirTemp("", "mkvol-staging-bbolt-")
		if err != nil {
			return nil, nil, err
		}
		kv, err := kvfile.NewStorage(filepath.Join(dir, "staging.bolt"))
		if err != nil {
			os.RemoveAll(dir)
			return nil, nil, err
		}
		return kv, func() { os.RemoveAll(dir) }, nil
	case "buffered":
		// Layers an in-memory buffer.KeyValue in front of LevelDB, the
		// reindexing-style use case its own doc comment describes: the
		// staging store only needs to be flushed and consistent once,
		// at Close, so small per-Add writes accumulate in memory and
		// reach LevelDB in batches instead of one write each.
		dir, err := os.MkdirTemp("", "mkvol-staging-buffered-")
		if err != nil {
			return nil, nil, err
		}
		back, err := leveldb.NewStorage(filepath.Join(dir, "staging.ldb"))
		if err != nil {
			os.RemoveAll(dir)
			return nil, nil, err
		}
		kv := buffer.New(sorted.NewMemoryKeyValue(), back, bufferBytes)
		return kv, func() { os.RemoveAll(dir) }, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", backend)
	}
}

// build ingests records into a disktree.Builder over -workers concurrent
// goroutines (exercising the concurrent-Add guarantee of §5; correctness
// relies on the staging store's per-key merge atomicity), then finalizes
// the index and writes the volume's manifest and document layout.
func build(out string, records []volume.Record, staging sorted.KeyValue, workers int) error {
	if workers < 1 {
		workers = 1
	}
	b := disktree.NewBuilder(staging)

	ch := make(chan volume.Record)
	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rec := range ch {
				if err := b.Add(rec.Title, rec.Value); err != nil {
					select {
					case errs <- fmt.Errorf("adding %q: %w", rec.Title, err):
					default:
					}
					return
				}
			}
		}()
	}
	for _, rec := range records {
		select {
		case ch <- rec:
		case err := <-errs:
			close(ch)
			wg.Wait()
			b.Close()
			return err
		}
	}
	close(ch)
	wg.Wait()
	select {
	case err := <-errs:
		b.Close()
		return err
	default:
	}

	if err := os.MkdirAll(out, 0o755); err != nil {
		b.Close()
		return fmt.Errorf("creating %s: %w", out, err)
	}
	idxFile, err := os.Create(filepath.Join(out, volume.IndexFileName))
	if err != nil {
		b.Close()
		return fmt.Errorf("creating index: %w", err)
	}

	lastPermille := 0
	buildErr := b.Build(idxFile, func(permille int) {
		if permille-lastPermille >= 50 || permille == 1000 {
			fmt.Fprintf(os.Stderr, "\rbuilding index... %d%%", permille/10)
			lastPermille = permille
		}
	})
	if buildErr == nil {
		fmt.Fprintln(os.Stderr)
	}
	closeErr := idxFile.Close()
	wipeErr := b.Close()
	if buildErr != nil {
		return buildErr
	}
	if closeErr != nil {
		return fmt.Errorf("closing index: %w", closeErr)
	}
	if wipeErr != nil {
		return wipeErr
	}

	manifest := make(volume.Manifest, len(records))
	for _, rec := range records {
		manifest[rec.Value] = volume.ManifestEntry{Title: rec.Title, Path: rec.Path}
	}
	return manifest.Save(filepath.Join(out, volume.ManifestFileName))
}
