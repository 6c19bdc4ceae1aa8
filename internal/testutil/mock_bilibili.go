// Package testutil provides testing utilities for bicat.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// Paths served by MockBilibili.
const (
	PathView       = "/x/web-interface/view"
	PathPlayURL    = "/x/player/playurl"
	PathCollection = "/x/v3/fav/resource/ids"
	PathStream     = "/stream/"
)

// MockResponse defines a canned response for a path.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockItem describes one video known to the mock API.
type MockItem struct {
	Title string
	Owner string
	CID   int64
	Audio []byte

	// NoAudio makes the play URL lookup return an empty audio list.
	NoAudio bool

	// StreamStatus, when non-zero, is returned for every stream request.
	StreamStatus int

	// FailFirst makes the first n stream requests return 503.
	FailFirst int

	// StreamDelay delays the stream response (until the client gives up).
	StreamDelay time.Duration
}

// MockBilibili is a configurable fake of the Bilibili web API and its
// stream CDN.
type MockBilibili struct {
	server      *httptest.Server
	mu          sync.RWMutex
	handlers    map[string]http.HandlerFunc
	items       map[string]*MockItem
	collections map[string][]string

	requests    map[string]int
	streamHits  map[string]int
	lastHeaders http.Header
}

// NewMockBilibili starts a new mock server. Callers must Close it.
func NewMockBilibili() *MockBilibili {
	m := &MockBilibili{
		handlers:    make(map[string]http.HandlerFunc),
		items:       make(map[string]*MockItem),
		collections: make(map[string][]string),
		requests:    make(map[string]int),
		streamHits:  make(map[string]int),
	}

	m.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.requests[r.URL.Path]++
		m.lastHeaders = r.Header.Clone()
		handler, exists := m.handlers[r.URL.Path]
		m.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}

		switch {
		case r.URL.Path == PathView:
			m.serveView(w, r)
		case r.URL.Path == PathPlayURL:
			m.servePlayURL(w, r)
		case r.URL.Path == PathCollection:
			m.serveCollection(w, r)
		case strings.HasPrefix(r.URL.Path, PathStream):
			m.serveStream(w, r)
		default:
			http.NotFound(w, r)
		}
	}))

	return m
}

// URL returns the mock server URL.
func (m *MockBilibili) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockBilibili) Close() {
	m.server.Close()
}

// AddItem registers a video under bvid.
func (m *MockBilibili) AddItem(bvid string, item MockItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := item
	m.items[bvid] = &copied
}

// SetCollection registers the items of a favourites collection.
func (m *MockBilibili) SetCollection(mediaID string, bvids []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collections[mediaID] = append([]string{}, bvids...)
}

// SetHandler overrides the handler for a path.
func (m *MockBilibili) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a canned response for a path.
func (m *MockBilibili) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// StreamURL returns the stream URL served for bvid.
func (m *MockBilibili) StreamURL(bvid string) string {
	return m.server.URL + PathStream + bvid + ".m4s"
}

// RequestCount returns the number of requests made to path.
func (m *MockBilibili) RequestCount(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requests[path]
}

// StreamHits returns the number of stream requests made for bvid.
func (m *MockBilibili) StreamHits(bvid string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.streamHits[bvid]
}

// LastRequestHeader returns the headers of the most recent request.
func (m *MockBilibili) LastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastHeaders.Clone()
}

func (m *MockBilibili) item(bvid string) (MockItem, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.items[bvid]
	if !ok {
		return MockItem{}, false
	}
	return *item, true
}

func (m *MockBilibili) serveView(w http.ResponseWriter, r *http.Request) {
	bvid := r.URL.Query().Get("bvid")
	item, ok := m.item(bvid)
	if !ok {
		writeJSON(w, map[string]any{"code": -404, "message": "not found", "data": nil})
		return
	}

	writeJSON(w, map[string]any{
		"code":    0,
		"message": "0",
		"data": map[string]any{
			"bvid":  bvid,
			"title": item.Title,
			"cid":   item.CID,
			"owner": map[string]any{"name": item.Owner},
		},
	})
}

func (m *MockBilibili) servePlayURL(w http.ResponseWriter, r *http.Request) {
	bvid := r.URL.Query().Get("bvid")
	item, ok := m.item(bvid)
	if !ok {
		writeJSON(w, map[string]any{"code": -404, "message": "not found", "data": nil})
		return
	}
	if cid := r.URL.Query().Get("cid"); cid != fmt.Sprint(item.CID) {
		writeJSON(w, map[string]any{"code": -400, "message": "cid mismatch", "data": nil})
		return
	}

	audio := []map[string]any{}
	if !item.NoAudio {
		audio = append(audio, map[string]any{"id": 30280, "baseUrl": m.StreamURL(bvid)})
	}

	writeJSON(w, map[string]any{
		"code": 0,
		"data": map[string]any{
			"dash": map[string]any{"audio": audio},
		},
	})
}

func (m *MockBilibili) serveCollection(w http.ResponseWriter, r *http.Request) {
	mediaID := r.URL.Query().Get("media_id")

	m.mu.RLock()
	bvids, ok := m.collections[mediaID]
	m.mu.RUnlock()

	if !ok {
		writeJSON(w, map[string]any{"code": -400, "message": "request error", "data": nil})
		return
	}

	data := make([]map[string]any, 0, len(bvids))
	for i, bvid := range bvids {
		data = append(data, map[string]any{"id": i + 1, "type": 2, "bv_id": bvid, "bvid": bvid})
	}
	writeJSON(w, map[string]any{"code": 0, "message": "0", "data": data})
}

func (m *MockBilibili) serveStream(w http.ResponseWriter, r *http.Request) {
	bvid := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, PathStream), ".m4s")

	m.mu.Lock()
	m.streamHits[bvid]++
	hits := m.streamHits[bvid]
	item, ok := m.items[bvid]
	var snapshot MockItem
	if ok {
		snapshot = *item
	}
	m.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}

	if snapshot.StreamDelay > 0 {
		select {
		case <-r.Context().Done():
			return
		case <-time.After(snapshot.StreamDelay):
		}
	}

	if snapshot.StreamStatus != 0 {
		w.WriteHeader(snapshot.StreamStatus)
		return
	}
	if hits <= snapshot.FailFirst {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "audio/mp4")
	w.Write(snapshot.Audio)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}
