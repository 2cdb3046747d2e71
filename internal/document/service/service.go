package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ceolin/mobilidade/backend/go-services/internal/document"
	"github.com/ceolin/mobilidade/backend/go-services/pkg/logger"
	"github.com/ceolin/mobilidade/backend/go-services/pkg/metrics"
)

// Archiver receives every successfully written blob. Implementations must
// not retain content after returning.
type Archiver interface {
	Archive(ctx context.Context, res *document.WriteResult, content []byte) error
}

// ReadResult is the document as currently stored, or the default document
// when nothing has been written yet (Default is then true and Version empty).
type ReadResult struct {
	Content string
	Version document.Version
	Default bool
}

// WriteRequest replaces the whole document. ExpectedVersion nil means the
// current version is fetched right before the write; otherwise the given
// version is submitted as-is.
type WriteRequest struct {
	Content         string
	ExpectedVersion *document.Version
	Message         string
}

type Option func(*Service)

// WithArchiver hands each committed blob to a.
func WithArchiver(a Archiver) Option {
	return func(s *Service) { s.archiver = a }
}

// WithShapeValidation rejects writes whose content is not document-shaped.
func WithShapeValidation(enabled bool) Option {
	return func(s *Service) { s.validateShape = enabled }
}

// WithCommitPrefix sets the default commit message prefix ("CMS: update").
func WithCommitPrefix(prefix string) Option {
	return func(s *Service) {
		if prefix != "" {
			s.commitPrefix = prefix
		}
	}
}

// Service is the document gateway: a stateless pass-through to the store.
// It holds no document state between calls.
type Service struct {
	store         document.Store
	path          string
	commitPrefix  string
	validateShape bool
	archiver      Archiver
	log           *logger.Logger
}

func New(store document.Store, path string, opts ...Option) *Service {
	s := &Service{
		store:        store,
		path:         path,
		commitPrefix: "CMS: update",
		log:          logger.For("gateway"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// StoreName names the backing store in use.
func (s *Service) StoreName() string { return s.store.Name() }

// Read fetches the document. A missing blob yields the default document.
func (s *Service) Read(ctx context.Context) (*ReadResult, error) {
	blob, err := s.timedRead(ctx)
	switch {
	case errors.Is(err, document.ErrNotFound):
		metrics.DocumentReads.WithLabelValues("default").Inc()
		s.log.Infof("no document at %s yet; serving default", s.path)
		return &ReadResult{Content: document.DefaultContent(), Default: true}, nil
	case err != nil:
		metrics.DocumentReads.WithLabelValues("error").Inc()
		s.log.Errorf("read %s: %v", s.path, err)
		return nil, err
	}
	metrics.DocumentReads.WithLabelValues("ok").Inc()
	return &ReadResult{Content: string(blob.Content), Version: blob.Version}, nil
}

// Write commits req.Content as the whole document using compare-and-swap.
// A stale version yields document.ErrConflict. Nothing is retried.
func (s *Service) Write(ctx context.Context, req WriteRequest) (*document.WriteResult, error) {
	if s.validateShape {
		if err := document.ValidateShape([]byte(req.Content)); err != nil {
			metrics.DocumentWrites.WithLabelValues("invalid").Inc()
			return nil, err
		}
	}

	var expected document.Version
	if req.ExpectedVersion != nil {
		expected = *req.ExpectedVersion
	} else {
		blob, err := s.timedRead(ctx)
		switch {
		case errors.Is(err, document.ErrNotFound):
			// create
		case err != nil:
			metrics.DocumentWrites.WithLabelValues("error").Inc()
			s.log.Errorf("fetch version of %s: %v", s.path, err)
			return nil, err
		default:
			expected = blob.Version
		}
	}

	message := req.Message
	if message == "" {
		message = fmt.Sprintf("%s %s", s.commitPrefix, s.path)
	}

	start := time.Now()
	res, err := s.store.WriteIfMatch(ctx, []byte(req.Content), expected, message)
	metrics.StoreLatency.WithLabelValues(s.store.Name(), "write").Observe(time.Since(start).Seconds())
	switch {
	case errors.Is(err, document.ErrConflict):
		metrics.DocumentWrites.WithLabelValues("conflict").Inc()
		s.log.Warnf("write %s: version %q is stale", s.path, expected)
		return nil, err
	case err != nil:
		metrics.DocumentWrites.WithLabelValues("error").Inc()
		s.log.Errorf("write %s: %v", s.path, err)
		return nil, err
	}
	metrics.DocumentWrites.WithLabelValues("ok").Inc()
	s.log.Infof("wrote %s: %s -> %s", s.path, displayVersion(expected), res.Version)

	if s.archiver != nil {
		if err := s.archiver.Archive(ctx, res, []byte(req.Content)); err != nil {
			metrics.SnapshotFailures.Inc()
			s.log.Warnf("archive snapshot of %s: %v", res.Version, err)
		}
	}
	return res, nil
}

func (s *Service) timedRead(ctx context.Context) (*document.Blob, error) {
	start := time.Now()
	blob, err := s.store.Read(ctx)
	metrics.StoreLatency.WithLabelValues(s.store.Name(), "read").Observe(time.Since(start).Seconds())
	return blob, err
}

func displayVersion(v document.Version) string {
	if v.IsZero() {
		return "(new)"
	}
	return string(v)
}
