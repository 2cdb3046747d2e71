package document

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned by Store.Read when no blob has been written yet.
	ErrNotFound = errors.New("document not found")
	// ErrConflict is returned by Store.WriteIfMatch when the expected version is stale.
	ErrConflict = errors.New("document version conflict")
	// ErrInvalidContent rejects write requests whose content is not a string.
	ErrInvalidContent = errors.New(`invalid or missing "content" parameter`)
)

// Version identifies one committed state of the blob. The empty Version
// means "no blob": writing with it creates the document.
type Version string

func (v Version) IsZero() bool { return v == "" }

// Blob is the serialized document together with the version it was read at.
type Blob struct {
	Content []byte
	Version Version
}

// WriteResult is the backing store's confirmation of a committed write.
type WriteResult struct {
	Store       string    `json:"store"`
	Path        string    `json:"path"`
	Version     Version   `json:"sha"`
	CommitID    string    `json:"commit_sha,omitempty"`
	Message     string    `json:"message"`
	CommittedAt time.Time `json:"committed_at"`
}

// Store is a single-document store with compare-and-swap writes.
//
// Read returns ErrNotFound when nothing has been written. WriteIfMatch
// replaces the whole blob only when expected matches the current version
// (for an empty expected: when no blob exists) and returns ErrConflict
// otherwise. Implementations hold no document state between calls that
// callers can observe; every call is a fresh round trip.
type Store interface {
	Name() string
	Read(ctx context.Context) (*Blob, error)
	WriteIfMatch(ctx context.Context, content []byte, expected Version, message string) (*WriteResult, error)
}

// StoreError is a failure reported by the backing store, other than
// not-found and conflict.
type StoreError struct {
	Store   string
	Op      string
	Status  int    // HTTP-like status reported by the store, 0 if none
	Message string // store diagnostic message, if any
	Err     error
}

func (e *StoreError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s %s failed (status %d): %s", e.Store, e.Op, e.Status, msg)
	}
	return fmt.Sprintf("%s %s failed: %s", e.Store, e.Op, msg)
}

func (e *StoreError) Unwrap() error { return e.Err }

// StatusOf returns the status carried by a StoreError in err's chain, or 0.
func StatusOf(err error) int {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Status
	}
	return 0
}
