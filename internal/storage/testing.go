package storage

import (
	"testing"
)

// NewTestBackend creates an in-memory database backend for testing.
// The backend is automatically closed when the test completes.
func NewTestBackend(t testing.TB) *DatabaseBackend {
	t.Helper()

	backend, err := NewInMemoryBackend()
	if err != nil {
		t.Fatalf("create test backend: %v", err)
	}

	t.Cleanup(func() {
		_ = backend.Close()
	})

	return backend
}
