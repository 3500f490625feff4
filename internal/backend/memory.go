package backend

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirco-team/talky/internal/errs"
)

// Memory is an in-process ContentBackend used by tests and by throwaway
// runs. Fault injection hooks let tests drive outage and conflict
// scenarios deterministically.
type Memory struct {
	mu      sync.Mutex
	blobs   map[string]Content
	counter int

	// Fault injection: consumed one call at a time.
	readErrs  []error
	writeErrs []error
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{blobs: map[string]Content{}}
}

// FailNextRead queues errors returned by subsequent Read calls.
func (m *Memory) FailNextRead(errors ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readErrs = append(m.readErrs, errors...)
}

// FailNextWrite queues errors returned by subsequent Write calls.
func (m *Memory) FailNextWrite(errors ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErrs = append(m.writeErrs, errors...)
}

// Put overwrites the stored blob unconditionally, bumping the version.
// Tests use it to simulate a concurrent external writer.
func (m *Memory) Put(path string, data []byte) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.put(path, data)
}

func (m *Memory) put(path string, data []byte) string {
	m.counter++
	v := fmt.Sprintf("v%d", m.counter)
	m.blobs[path] = Content{Data: append([]byte(nil), data...), Version: v}
	return v
}

// Read returns the blob at path.
func (m *Memory) Read(_ context.Context, path string) (Content, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.readErrs) > 0 {
		err := m.readErrs[0]
		m.readErrs = m.readErrs[1:]
		return Content{}, err
	}

	c, ok := m.blobs[path]
	if !ok {
		return Content{}, errs.ErrNotFound
	}
	return Content{Data: append([]byte(nil), c.Data...), Version: c.Version}, nil
}

// Write replaces the blob at path if the version matches.
func (m *Memory) Write(_ context.Context, path string, data []byte, expectedVersion string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.writeErrs) > 0 {
		err := m.writeErrs[0]
		m.writeErrs = m.writeErrs[1:]
		return "", err
	}

	current, exists := m.blobs[path]
	if expectedVersion == "" {
		if exists {
			return "", errs.ErrConflict
		}
		return m.put(path, data), nil
	}
	if !exists || current.Version != expectedVersion {
		return "", errs.ErrConflict
	}
	return m.put(path, data), nil
}
