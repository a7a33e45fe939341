package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
)

type Store interface {
	Upload(ctx context.Context, bucket, path string, body io.Reader, size int64, contentType string) error
	PublicURL(bucket, path string) string
}

type object struct {
	data        []byte
	contentType string
}

// Memory keeps uploads in process and serves URLs under baseURL.
type Memory struct {
	mu      sync.RWMutex
	baseURL string
	objects map[string]object
}

func NewMemory(baseURL string) *Memory {
	return &Memory{baseURL: strings.TrimRight(baseURL, "/"), objects: make(map[string]object)}
}

func (m *Memory) Upload(_ context.Context, bucket, path string, body io.Reader, _ int64, contentType string) error {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, body); err != nil {
		return err
	}
	m.mu.Lock()
	m.objects[bucket+"/"+path] = object{data: buf.Bytes(), contentType: contentType}
	m.mu.Unlock()
	return nil
}

func (m *Memory) PublicURL(bucket, path string) string {
	return fmt.Sprintf("%s/%s/%s", m.baseURL, url.PathEscape(bucket), escapePath(path))
}

// Get returns a stored object; used by tests and the dev server.
func (m *Memory) Get(bucket, path string) ([]byte, string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.objects[bucket+"/"+path]
	return o.data, o.contentType, ok
}

func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, s := range parts {
		parts[i] = url.PathEscape(s)
	}
	return strings.Join(parts, "/")
}
