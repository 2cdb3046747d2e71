package repository

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/ceolin/mobilidade/backend/go-services/internal/document"
)

// MemoryRepo is an in-process document store used for tests and local runs.
// Versions are derived from a revision counter and the content, so every
// committed write produces a new version even when the content repeats.
type MemoryRepo struct {
	mu       sync.Mutex
	path     string
	content  []byte
	version  document.Version
	revision int
	exists   bool
}

func NewMemoryRepo(path string) *MemoryRepo {
	return &MemoryRepo{path: path}
}

func (m *MemoryRepo) Name() string { return "memory" }

func (m *MemoryRepo) Read(ctx context.Context) (*document.Blob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.exists {
		return nil, document.ErrNotFound
	}
	out := make([]byte, len(m.content))
	copy(out, m.content)
	return &document.Blob{Content: out, Version: m.version}, nil
}

func (m *MemoryRepo) WriteIfMatch(ctx context.Context, content []byte, expected document.Version, message string) (*document.WriteResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if expected != m.version {
		return nil, document.ErrConflict
	}
	m.revision++
	m.content = append([]byte(nil), content...)
	m.version = revisionVersion(m.revision, content)
	m.exists = true
	return &document.WriteResult{
		Store:       m.Name(),
		Path:        m.path,
		Version:     m.version,
		CommitID:    fmt.Sprintf("r%d", m.revision),
		Message:     message,
		CommittedAt: time.Now().UTC(),
	}, nil
}

func revisionVersion(rev int, content []byte) document.Version {
	h := sha1.New()
	fmt.Fprintf(h, "revision %d\x00", rev)
	h.Write(content)
	return document.Version(hex.EncodeToString(h.Sum(nil)))
}
