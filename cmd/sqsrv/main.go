// Command sqsrv serves previously built squashserve volumes over HTTP.
// Routing and content negotiation only: no templates, no auth — the HTTP
// presentation layer is out of scope per spec.md, and this command exists
// only to give internal/disktree's Reader a concrete caller end to end.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/showermat/squashserve/internal/diag"
	"github.com/showermat/squashserve/internal/volume"
	"github.com/showermat/squashserve/pkg/jsonconfig"
)

var (
	flagVolumeDir = flag.String("volumes", "", "directory containing one subdirectory per volume")
	flagAddr      = flag.String("addr", ":8080", "address to listen on")
	flagConfig    = flag.String("config", "", "optional JSON config file (overrides the flags above)")
)

var log = diag.New("sqsrv")

func main() {
	flag.Parse()

	volumeDir, addr := *flagVolumeDir, *flagAddr
	if *flagConfig != "" {
		cfg, err := jsonconfig.ReadFile(*flagConfig)
		if err != nil {
			log.Fatalf("reading config: %v", err)
		}
		volumeDir = cfg.OptionalString("volumes", volumeDir)
		addr = cfg.OptionalString("addr", addr)
		if err := cfg.Validate(); err != nil {
			log.Fatalf("invalid config: %v", err)
		}
	}
	if volumeDir == "" {
		fmt.Fprintln(os.Stderr, "usage: sqsrv -volumes /path/to/volumes")
		os.Exit(2)
	}

	reg, err := newRegistry(volumeDir)
	if err != nil {
		log.Fatalf("scanning %s: %v", volumeDir, err)
	}
	defer reg.closeAll()

	mux := http.NewServeMux()
	mux.HandleFunc("/title/", reg.handleExactTitle)
	mux.HandleFunc("/search/", reg.handleSearch)
	mux.HandleFunc("/doc/", reg.handleDoc)

	log.Printf("listening on %s, serving volumes from %s", addr, volumeDir)
	log.Fatalf("%v", http.ListenAndServe(addr, mux))
}

// registry lazily opens each subdirectory of root as a volume.Dir on
// first request and keeps it open for reuse, guarded by mu the way the
// original library's Library type guards its loaded-volumes map.
type registry struct {
	root string

	mu      sync.Mutex
	volumes map[string]*volume.Dir
}

func newRegistry(root string) (*registry, error) {
	if _, err := os.Stat(root); err != nil {
		return nil, err
	}
	return &registry{root: root, volumes: make(map[string]*volume.Dir)}, nil
}

func (r *registry) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, v := range r.volumes {
		if err := v.Close(); err != nil {
			log.Printf("closing volume %s: %v", name, err)
		}
	}
}

func (r *registry) open(name string) (*volume.Dir, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.volumes[name]; ok {
		return v, nil
	}
	v, err := volume.Open(filepath.Join(r.root, name))
	if err != nil {
		return nil, err
	}
	r.volumes[name] = v
	return v, nil
}

// pathVolume extracts the volume name from a /prefix/{volume} request
// path, matching net/http.ServeMux's lack of built-in path parameters.
func pathVolume(prefix, path string) (string, bool) {
	rest := strings.TrimPrefix(path, prefix)
	rest = strings.Trim(rest, "/")
	if rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}

func (r *registry) handleExactTitle(w http.ResponseWriter, req *http.Request) {
	name, ok := pathVolume("/title/", req.URL.Path)
	if !ok {
		http.NotFound(w, req)
		return
	}
	v, err := r.open(name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	query := req.URL.Query().Get("q")
	path, found, err := v.ExactTitle(query)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !found {
		http.NotFound(w, req)
		return
	}
	writeJSON(w, map[string]string{"path": path})
}

func (r *registry) handleSearch(w http.ResponseWriter, req *http.Request) {
	name, ok := pathVolume("/search/", req.URL.Path)
	if !ok {
		http.NotFound(w, req)
		return
	}
	v, err := r.open(name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	query := req.URL.Query().Get("q")
	page := queryInt(req, "page", 1)
	pageSize := queryInt(req, "page_size", 20)

	pages, hits, err := v.Titles(query, page, pageSize)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"pages": pages, "results": hits})
}

func (r *registry) handleDoc(w http.ResponseWriter, req *http.Request) {
	rest := strings.TrimPrefix(req.URL.Path, "/doc/")
	parts := strings.SplitN(strings.Trim(rest, "/"), "/", 2)
	if len(parts) != 2 {
		http.NotFound(w, req)
		return
	}
	v, err := r.open(parts[0])
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	id, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		http.Error(w, "invalid document id", http.StatusBadRequest)
		return
	}
	f, err := v.Open(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	http.ServeContent(w, req, f.Name(), info.ModTime(), f)
}

func queryInt(req *http.Request, key string, def int) int {
	raw := req.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("encoding response: %v", err)
	}
}
