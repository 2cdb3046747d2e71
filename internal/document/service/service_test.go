package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/ceolin/mobilidade/backend/go-services/internal/document"
	"github.com/ceolin/mobilidade/backend/go-services/internal/document/repository"
	"github.com/stretchr/testify/require"
)

const testPath = "src/database/banco.json"

// countingStore records calls made to the wrapped store.
type countingStore struct {
	document.Store
	reads, writes int
	lastMessage   string
	readErr       error
}

func (c *countingStore) Read(ctx context.Context) (*document.Blob, error) {
	c.reads++
	if c.readErr != nil {
		return nil, c.readErr
	}
	return c.Store.Read(ctx)
}

func (c *countingStore) WriteIfMatch(ctx context.Context, content []byte, expected document.Version, message string) (*document.WriteResult, error) {
	c.writes++
	c.lastMessage = message
	return c.Store.WriteIfMatch(ctx, content, expected, message)
}

type recordingArchiver struct {
	got []document.Version
	err error
}

func (r *recordingArchiver) Archive(_ context.Context, res *document.WriteResult, _ []byte) error {
	r.got = append(r.got, res.Version)
	return r.err
}

func newTestService(opts ...Option) (*Service, *countingStore) {
	store := &countingStore{Store: repository.NewMemoryRepo(testPath)}
	return New(store, testPath, opts...), store
}

func TestRead_DefaultWhenMissing(t *testing.T) {
	svc, _ := newTestService()
	res, err := svc.Read(context.Background())
	require.NoError(t, err)
	require.True(t, res.Default)
	require.True(t, res.Version.IsZero())

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(res.Content), &got))
	require.Equal(t, map[string]any{
		"users":              []any{},
		"rides":              []any{},
		"documents":          []any{},
		"chats":              []any{},
		"messages":           []any{},
		"institutional_info": map[string]any{},
	}, got)
}

func TestWriteThenRead_RoundTrip(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	res, err := svc.Write(ctx, WriteRequest{Content: `{"users":[{"id":"u1"}]}`})
	require.NoError(t, err)
	require.False(t, res.Version.IsZero())
	require.Equal(t, "CMS: update "+testPath, store.lastMessage)

	got, err := svc.Read(ctx)
	require.NoError(t, err)
	require.False(t, got.Default)
	require.Equal(t, `{"users":[{"id":"u1"}]}`, got.Content)
	require.Equal(t, res.Version, got.Version)
}

func TestWrite_RepeatedWritesGetNewVersions(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	first, err := svc.Write(ctx, WriteRequest{Content: `{}`})
	require.NoError(t, err)
	second, err := svc.Write(ctx, WriteRequest{Content: `{}`})
	require.NoError(t, err)
	require.NotEqual(t, first.Version, second.Version)
}

func TestWrite_StaleVersionConflicts(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Write(ctx, WriteRequest{Content: document.DefaultContent()})
	require.NoError(t, err)
	read, err := svc.Read(ctx)
	require.NoError(t, err)
	token := read.Version

	// writer A wins
	_, err = svc.Write(ctx, WriteRequest{Content: `{"rides":[{"id":"a"}]}`, ExpectedVersion: &token})
	require.NoError(t, err)

	// writer B still holds the old token
	_, err = svc.Write(ctx, WriteRequest{Content: `{"rides":[{"id":"b"}]}`, ExpectedVersion: &token})
	require.ErrorIs(t, err, document.ErrConflict)

	after, err := svc.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, `{"rides":[{"id":"a"}]}`, after.Content)
}

func TestWrite_ShapeValidationSkipsStore(t *testing.T) {
	svc, store := newTestService(WithShapeValidation(true))
	_, err := svc.Write(context.Background(), WriteRequest{Content: `{"rides":{}}`})
	require.ErrorIs(t, err, document.ErrShape)
	require.Zero(t, store.reads)
	require.Zero(t, store.writes)
}

func TestWrite_TokenFetchFailureIsTerminal(t *testing.T) {
	svc, store := newTestService()
	store.readErr = &document.StoreError{Store: "memory", Op: "read", Status: 503, Message: "unavailable"}

	_, err := svc.Write(context.Background(), WriteRequest{Content: `{}`})
	require.Error(t, err)
	require.Equal(t, 503, document.StatusOf(err))
	require.Zero(t, store.writes)
}

func TestWrite_ArchiveFailureDoesNotFailWrite(t *testing.T) {
	arch := &recordingArchiver{err: errors.New("bucket gone")}
	svc, _ := newTestService(WithArchiver(arch), WithCommitPrefix("CMS: sync"))

	res, err := svc.Write(context.Background(), WriteRequest{Content: `{}`})
	require.NoError(t, err)
	require.Equal(t, "CMS: sync "+testPath, res.Message)
	require.Equal(t, []document.Version{res.Version}, arch.got)
}

func TestWrite_OneRideScenario(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	initial, err := svc.Read(ctx)
	require.NoError(t, err)
	doc, err := document.Decode(initial.Content)
	require.NoError(t, err)

	doc.Rides = append(doc.Rides, document.Ride{ID: "ride-1", Passenger: "u1", OriginAddress: "Centro", DestinationAddress: "Rodoviária", Status: document.RideRequested}.Record())
	content, err := document.Encode(doc)
	require.NoError(t, err)
	_, err = svc.Write(ctx, WriteRequest{Content: content, ExpectedVersion: &initial.Version})
	require.NoError(t, err)

	final, err := svc.Read(ctx)
	require.NoError(t, err)
	got, err := document.Decode(final.Content)
	require.NoError(t, err)
	require.Len(t, got.Rides, 1)
	require.Equal(t, "ride-1", got.Rides[0].ID())
}
