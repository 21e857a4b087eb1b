package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/JaimeStill/pubsync/pkg/lifecycle"
)

// Memory is an in-process System for tests and local runs. It is safe for
// concurrent use and counts the uploads it receives.
type Memory struct {
	mu      sync.Mutex
	objects map[string]memoryObject
	uploads int
	failing map[string]int
}

type memoryObject struct {
	data        []byte
	contentType string
}

var _ System = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		objects: make(map[string]memoryObject),
		failing: make(map[string]int),
	}
}

// FailNext makes the next n uploads to key fail.
func (m *Memory) FailNext(key string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing[key] = n
}

// Uploads returns the number of completed uploads.
func (m *Memory) Uploads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.uploads
}

// Object returns the stored bytes and content type for key.
func (m *Memory) Object(key string) ([]byte, string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	return obj.data, obj.contentType, ok
}

func (m *Memory) Start(lc *lifecycle.Coordinator) error {
	return nil
}

func (m *Memory) Attributes(ctx context.Context, key string) (Attributes, error) {
	if err := validateKey(key); err != nil {
		return Attributes{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	obj, ok := m.objects[key]
	if !ok {
		return Attributes{}, ErrNotFound
	}
	return Attributes{Size: int64(len(obj.data)), ContentType: obj.contentType}, nil
}

func (m *Memory) Upload(ctx context.Context, key string, reader io.Reader, contentType string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, reader); err != nil {
		return fmt.Errorf("upload object %s: %w", key, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if n := m.failing[key]; n > 0 {
		m.failing[key] = n - 1
		return fmt.Errorf("upload object %s: injected failure", key)
	}

	m.objects[key] = memoryObject{data: buf.Bytes(), contentType: contentType}
	m.uploads++
	return nil
}

func (m *Memory) URL(key string) string {
	return "mem://" + key
}

func (m *Memory) Close() error {
	return nil
}
