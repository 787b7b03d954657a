// Package tiles serves cached map tiles over HTTP.
package tiles

import (
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"voxelstream.ai/internal/tilecache"
)

const (
	PathPattern  = "/tiles/{x}/{z}.png"
	CacheControl = "public, max-age=604800"
)

// URL is the address viewers fetch for a tile. v changes with every render so that the
// long-lived browser cache is bypassed for new content.
func URL(x, z int32, version uint64) string {
	return fmt.Sprintf("/tiles/%d/%d.png?v=%d", x, z, version)
}

type Handler struct {
	cache *tilecache.Cache
	log   *log.Logger
}

func NewHandler(cache *tilecache.Cache, logger *log.Logger) *Handler {
	return &Handler{cache: cache, log: logger}
}

// Register mounts the tile route on r.
func (h *Handler) Register(r *mux.Router) {
	r.Handle(PathPattern, h).Methods(http.MethodGet, http.MethodHead)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	x, errX := parseCoord(vars["x"])
	z, errZ := parseCoord(vars["z"])
	if errX != nil || errZ != nil {
		http.Error(w, "bad tile coordinates", http.StatusBadRequest)
		return
	}

	e, ok := h.cache.Get(tilecache.Key{X: x, Z: z})
	if !ok {
		http.NotFound(w, r)
		return
	}

	hdr := w.Header()
	hdr.Set("Content-Type", e.ContentType)
	hdr.Set("Cache-Control", CacheControl)
	hdr.Set("ETag", e.ETag)
	hdr.Set("Last-Modified", e.RenderedAt.UTC().Format(http.TimeFormat))
	if match := r.Header.Get("If-None-Match"); match != "" && etagMatch(match, e.ETag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	hdr.Set("Content-Length", strconv.Itoa(len(e.Body)))
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(e.Body); err != nil && h.log != nil {
		h.log.Printf("tile %d,%d write: %v", x, z, err)
	}
}

func parseCoord(s string) (int32, error) {
	v, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, err
	}
	return int32(v), nil
}

func etagMatch(header, etag string) bool {
	for _, part := range strings.Split(header, ",") {
		p := strings.TrimSpace(part)
		p = strings.TrimPrefix(p, "W/")
		if p == "*" || p == etag {
			return true
		}
	}
	return false
}
