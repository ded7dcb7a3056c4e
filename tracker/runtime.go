package tracker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Runtime abstracts the host environment the tracker runs in: a persistent
// key-value store for the session identifier, a clock, and an HTTP transport.
// Tests substitute a fake to observe exactly what the tracker sends.
type Runtime interface {
	GetItem(key string) (string, bool)
	SetItem(key, value string) error
	Now() time.Time
	PostJSON(url string, body any) error
}

// HTTPRuntime is the default Runtime: net/http for transport and a small
// file-backed store for persistence across restarts.
type HTTPRuntime struct {
	client    *http.Client
	storePath string

	mu    sync.Mutex
	store map[string]string
}

// NewHTTPRuntime creates a runtime persisting its store at storePath.
// An empty storePath keeps the store in memory only.
func NewHTTPRuntime(storePath string) *HTTPRuntime {
	r := &HTTPRuntime{
		client:    &http.Client{Timeout: 10 * time.Second},
		storePath: storePath,
		store:     make(map[string]string),
	}
	r.load()
	return r
}

func (r *HTTPRuntime) load() {
	if r.storePath == "" {
		return
	}
	data, err := os.ReadFile(r.storePath)
	if err != nil {
		return
	}
	var stored map[string]string
	if err := json.Unmarshal(data, &stored); err != nil {
		return
	}
	r.store = stored
}

func (r *HTTPRuntime) persist() error {
	if r.storePath == "" {
		return nil
	}
	data, err := json.Marshal(r.store)
	if err != nil {
		return fmt.Errorf("failed to encode store: %w", err)
	}
	if dir := filepath.Dir(r.storePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create store directory: %w", err)
		}
	}
	return os.WriteFile(r.storePath, data, 0o600)
}

func (r *HTTPRuntime) GetItem(key string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	value, ok := r.store[key]
	return value, ok
}

func (r *HTTPRuntime) SetItem(key, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.store[key] = value
	return r.persist()
}

func (r *HTTPRuntime) Now() time.Time {
	return time.Now().UTC()
}

func (r *HTTPRuntime) PostJSON(url string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request body: %w", err)
	}

	resp, err := r.client.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("request rejected with status %d", resp.StatusCode)
	}
	return nil
}
