// Package client is the consumer side of the document gateway. An Accessor
// keeps the last document it loaded, reports loading and saving state, and
// turns whole-document edits into compare-and-swap writes.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ceolin/mobilidade/backend/go-services/internal/document"
	"github.com/ceolin/mobilidade/backend/go-services/pkg/logger"
	"golang.org/x/sync/singleflight"
)

const contentPath = "/api/save-content"

// ErrConflict is returned by SaveData when someone else changed the document
// since it was loaded. Callers should reload and reapply their edit.
var ErrConflict = errors.New("the document was changed by someone else; reload and try again")

// Error is any gateway failure other than a conflict.
type Error struct {
	Op      string
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("%s (status %d): %s", e.Op, e.Status, e.Message)
}

// Notifier surfaces outcomes to the user.
type Notifier interface {
	Conflict(message string)
	Failure(title, message string)
}

// Mutator derives the next document from the last one loaded. It receives a
// private copy and may modify it freely.
type Mutator func(current *document.Document) (*document.Document, error)

// Replace returns a Mutator that discards the current document in favour of doc.
func Replace(doc *document.Document) Mutator {
	return func(*document.Document) (*document.Document, error) {
		return doc.Clone(), nil
	}
}

type Option func(*Accessor)

func WithHTTPClient(c *http.Client) Option {
	return func(a *Accessor) { a.http = c }
}

func WithNotifier(n Notifier) Option {
	return func(a *Accessor) { a.notifier = n }
}

// WithBearerToken sends token on every request.
func WithBearerToken(token string) Option {
	return func(a *Accessor) { a.token = token }
}

// WithBlindWrites stops sending the loaded version with saves; the gateway
// then compares against whatever version it reads just before writing.
func WithBlindWrites() Option {
	return func(a *Accessor) { a.blind = true }
}

// Accessor is safe for concurrent use. Saves are serialized.
type Accessor struct {
	baseURL  string
	http     *http.Client
	notifier Notifier
	token    string
	blind    bool
	log      *logger.Logger

	fetches singleflight.Group
	saveMu  sync.Mutex

	mu      sync.RWMutex
	data    *document.Document
	version document.Version
	loading bool
	saving  bool
	err     error
}

func New(baseURL string, opts ...Option) *Accessor {
	a := &Accessor{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		log:     logger.For("client"),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Data returns a copy of the last document loaded or saved, nil before the first load.
func (a *Accessor) Data() *document.Document {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.data.Clone()
}

// Version is the version token the current data was read or written at.
func (a *Accessor) Version() document.Version {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.version
}

func (a *Accessor) IsLoading() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.loading
}

func (a *Accessor) IsSaving() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.saving
}

// Err is the outcome of the last FetchData or SaveData, nil on success.
func (a *Accessor) Err() error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.err
}

type readResponse struct {
	Content string `json:"content"`
	SHA     string `json:"sha"`
}

type saveResponse struct {
	Message string                `json:"message"`
	Data    *document.WriteResult `json:"data"`
}

type errorResponse struct {
	Message   string `json:"message"`
	Details   string `json:"details"`
	ErrorCode string `json:"error_code"`
}

// FetchData reloads the document. Concurrent calls share one request.
func (a *Accessor) FetchData(ctx context.Context) error {
	_, err, _ := a.fetches.Do("fetch", func() (any, error) {
		return nil, a.fetch(ctx)
	})
	return err
}

func (a *Accessor) fetch(ctx context.Context) error {
	a.setLoading(true)
	defer a.setLoading(false)

	var body readResponse
	err := a.do(ctx, http.MethodGet, nil, &body)
	var doc *document.Document
	if err == nil {
		doc, err = document.Decode(body.Content)
		if err != nil {
			err = &Error{Op: "load", Message: err.Error()}
		}
	}
	if err != nil {
		a.fail(err, "Could not load data")
		return err
	}

	a.mu.Lock()
	a.data = doc
	a.version = document.Version(body.SHA)
	a.err = nil
	a.mu.Unlock()
	return nil
}

// SaveData applies m to the last loaded document and writes the result.
// The document is loaded first when nothing has been loaded yet. On any
// failure the held document and version are left as they were.
func (a *Accessor) SaveData(ctx context.Context, m Mutator) error {
	if a.Data() == nil {
		if err := a.FetchData(ctx); err != nil {
			return err
		}
	}

	a.saveMu.Lock()
	defer a.saveMu.Unlock()
	a.setSaving(true)
	defer a.setSaving(false)

	a.mu.RLock()
	current, version := a.data.Clone(), a.version
	a.mu.RUnlock()

	next, err := m(current)
	if err != nil {
		return err
	}
	content, err := document.Encode(next)
	if err != nil {
		return err
	}

	req := map[string]any{"content": content}
	if !a.blind {
		req["sha"] = string(version)
	}
	var res saveResponse
	if err := a.do(ctx, http.MethodPost, req, &res); err != nil {
		a.fail(err, "Could not save changes")
		return err
	}

	saved, _ := document.Decode(content)
	a.mu.Lock()
	a.data = saved
	if res.Data != nil {
		a.version = res.Data.Version
	}
	a.err = nil
	a.mu.Unlock()
	return nil
}

func (a *Accessor) do(ctx context.Context, method string, in, out any) error {
	op := "load"
	var body io.Reader
	if in != nil {
		op = "save"
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+contentPath, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return &Error{Op: op, Message: err.Error()}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Op: op, Status: resp.StatusCode, Message: err.Error()}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.Unmarshal(raw, out); err != nil {
			return &Error{Op: op, Status: resp.StatusCode, Message: "malformed response: " + err.Error()}
		}
		return nil
	}

	var e errorResponse
	_ = json.Unmarshal(raw, &e)
	if resp.StatusCode == http.StatusConflict || e.ErrorCode == "CONFLICT" {
		return ErrConflict
	}
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	if e.Details != "" {
		msg += ": " + e.Details
	}
	return &Error{Op: op, Status: resp.StatusCode, Message: msg}
}

func (a *Accessor) fail(err error, title string) {
	a.mu.Lock()
	a.err = err
	a.mu.Unlock()
	a.log.Warnf("%s: %v", strings.ToLower(title), err)
	if a.notifier == nil {
		return
	}
	if errors.Is(err, ErrConflict) {
		a.notifier.Conflict(err.Error())
		return
	}
	a.notifier.Failure(title, err.Error())
}

func (a *Accessor) setLoading(v bool) {
	a.mu.Lock()
	a.loading = v
	a.mu.Unlock()
}

func (a *Accessor) setSaving(v bool) {
	a.mu.Lock()
	a.saving = v
	a.mu.Unlock()
}
