package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/ceolin/mobilidade/backend/go-services/internal/document"
	"github.com/ceolin/mobilidade/backend/go-services/internal/document/handler"
	"github.com/ceolin/mobilidade/backend/go-services/internal/document/repository"
	"github.com/ceolin/mobilidade/backend/go-services/internal/document/service"
	"github.com/gin-gonic/gin"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingNotifier struct {
	mu        sync.Mutex
	conflicts []string
	failures  []string
}

func (n *recordingNotifier) Conflict(message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.conflicts = append(n.conflicts, message)
}

func (n *recordingNotifier) Failure(title, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failures = append(n.failures, title+": "+message)
}

// newGateway serves the real gateway over an in-memory store.
func newGateway(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	g := gin.New()
	svc := service.New(repository.NewMemoryRepo("src/database/banco.json"), "src/database/banco.json")
	handler.New(svc, 0).Register(g)
	ts := httptest.NewServer(g)
	t.Cleanup(ts.Close)
	return ts
}

func addRide(id string) Mutator {
	return func(cur *document.Document) (*document.Document, error) {
		cur.Rides = append(cur.Rides, document.Ride{ID: id, Passenger: "u1", Status: document.RideRequested}.Record())
		return cur, nil
	}
}

func TestFetchData_DefaultDocument(t *testing.T) {
	ts := newGateway(t)
	a := New(ts.URL, WithHTTPClient(ts.Client()))
	require.Nil(t, a.Data())

	require.NoError(t, a.FetchData(context.Background()))
	require.False(t, a.IsLoading())
	require.NoError(t, a.Err())
	require.True(t, a.Version().IsZero())
	if diff := cmp.Diff(document.Default(), a.Data()); diff != "" {
		t.Fatalf("default document mismatch (-want +got):\n%s", diff)
	}
}

func TestSaveData_OneRide(t *testing.T) {
	ts := newGateway(t)
	ctx := context.Background()

	// SaveData loads first when nothing is held yet
	writer := New(ts.URL, WithHTTPClient(ts.Client()))
	require.NoError(t, writer.SaveData(ctx, addRide("ride-1")))
	require.False(t, writer.IsSaving())
	require.False(t, writer.Version().IsZero())
	require.Len(t, writer.Data().Rides, 1)

	reader := New(ts.URL, WithHTTPClient(ts.Client()))
	require.NoError(t, reader.FetchData(ctx))
	got := reader.Data()
	require.Len(t, got.Rides, 1)
	require.Equal(t, "ride-1", got.Rides[0].ID())
	require.Equal(t, writer.Version(), reader.Version())
}

func TestSaveData_KeepsFieldsWrittenByOtherClients(t *testing.T) {
	ts := newGateway(t)
	ctx := context.Background()

	seeded := `{"users":[{"id":"u1","name":"Ana","role":"Passageiro","password":"x","disabled":true}],` +
		`"rides":[{"id":"r0","fare":"25.50","created":"2024-01-15 10:30:00.123Z","scheduled_for":"2024-01-16 08:00:00Z","passenger_anonymous_name":"Visitante"}],` +
		`"documents":[],"chats":[],"messages":[],"institutional_info":{"company":"CEOLIN"},"settings":{"theme":"dark"}}`
	body, err := json.Marshal(map[string]string{"content": seeded})
	require.NoError(t, err)
	resp, err := ts.Client().Post(ts.URL+"/api/save-content", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, resp.Body.Close())

	a := New(ts.URL, WithHTTPClient(ts.Client()))
	require.NoError(t, a.FetchData(ctx))
	created, ok := a.Data().Rides[0].Time("created")
	require.True(t, ok)
	require.Equal(t, 2024, created.Year())
	require.NoError(t, a.SaveData(ctx, addRide("r1")))

	var stored struct {
		Content string `json:"content"`
	}
	resp, err = ts.Client().Get(ts.URL + "/api/save-content")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stored))

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(stored.Content), &got))
	users := got["users"].([]any)
	require.Equal(t, "x", users[0].(map[string]any)["password"])
	require.Equal(t, true, users[0].(map[string]any)["disabled"])
	rides := got["rides"].([]any)
	require.Len(t, rides, 2)
	first := rides[0].(map[string]any)
	require.Equal(t, "25.50", first["fare"])
	require.Equal(t, "2024-01-15 10:30:00.123Z", first["created"])
	require.Equal(t, "2024-01-16 08:00:00Z", first["scheduled_for"])
	require.Equal(t, "Visitante", first["passenger_anonymous_name"])
	require.Equal(t, map[string]any{"theme": "dark"}, got["settings"])
}

func TestSaveData_TwoTabsConflict(t *testing.T) {
	ts := newGateway(t)
	ctx := context.Background()
	seed := New(ts.URL, WithHTTPClient(ts.Client()))
	require.NoError(t, seed.SaveData(ctx, Replace(document.Default())))

	notes := &recordingNotifier{}
	tab1 := New(ts.URL, WithHTTPClient(ts.Client()))
	tab2 := New(ts.URL, WithHTTPClient(ts.Client()), WithNotifier(notes))
	require.NoError(t, tab1.FetchData(ctx))
	require.NoError(t, tab2.FetchData(ctx))
	require.Equal(t, tab1.Version(), tab2.Version())
	before, beforeVersion := tab2.Data(), tab2.Version()

	require.NoError(t, tab1.SaveData(ctx, addRide("from-tab1")))

	err := tab2.SaveData(ctx, addRide("from-tab2"))
	require.ErrorIs(t, err, ErrConflict)
	require.ErrorIs(t, tab2.Err(), ErrConflict)
	require.Len(t, notes.conflicts, 1)
	require.Empty(t, notes.failures)

	// nothing changed locally
	require.Empty(t, cmp.Diff(before, tab2.Data()))
	require.Equal(t, beforeVersion, tab2.Version())

	// reload and reapply
	require.NoError(t, tab2.FetchData(ctx))
	require.NoError(t, tab2.SaveData(ctx, addRide("from-tab2")))
	require.NoError(t, tab2.Err())
	require.Len(t, tab2.Data().Rides, 2)
}

func TestSaveData_BlindWritesOverwrite(t *testing.T) {
	ts := newGateway(t)
	ctx := context.Background()

	tab1 := New(ts.URL, WithHTTPClient(ts.Client()))
	tab2 := New(ts.URL, WithHTTPClient(ts.Client()), WithBlindWrites())
	require.NoError(t, tab1.FetchData(ctx))
	require.NoError(t, tab2.FetchData(ctx))

	require.NoError(t, tab1.SaveData(ctx, addRide("a")))
	require.NoError(t, tab2.SaveData(ctx, addRide("b")))
	require.Len(t, tab2.Data().Rides, 1)
	require.Equal(t, "b", tab2.Data().Rides[0].ID())
}

func TestSaveData_FailureKeepsState(t *testing.T) {
	var fail bool
	var mu sync.Mutex
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		if fail {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"message":"Failed to save the document. github write failed (status 502): Server Error"}`))
			return
		}
		_, _ = w.Write([]byte(`{"content":"{\"users\":[],\"rides\":[{\"id\":\"r1\"}]}","sha":"abc123"}`))
	}))
	t.Cleanup(ts.Close)

	notes := &recordingNotifier{}
	a := New(ts.URL, WithHTTPClient(ts.Client()), WithNotifier(notes))
	ctx := context.Background()
	require.NoError(t, a.FetchData(ctx))
	require.Equal(t, document.Version("abc123"), a.Version())

	mu.Lock()
	fail = true
	mu.Unlock()

	err := a.SaveData(ctx, addRide("r2"))
	var gwErr *Error
	require.True(t, errors.As(err, &gwErr))
	require.Equal(t, http.StatusBadGateway, gwErr.Status)
	require.Contains(t, gwErr.Message, "Server Error")
	require.NotErrorIs(t, err, ErrConflict)
	require.Len(t, notes.failures, 1)
	require.Empty(t, notes.conflicts)

	require.Len(t, a.Data().Rides, 1)
	require.Equal(t, document.Version("abc123"), a.Version())
}

func TestSaveData_MutatorErrorSkipsRequest(t *testing.T) {
	var posts int
	var mu sync.Mutex
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		if r.Method == http.MethodPost {
			posts++
		}
		mu.Unlock()
		_, _ = w.Write([]byte(`{"content":"{}","sha":"v1"}`))
	}))
	t.Cleanup(ts.Close)

	a := New(ts.URL, WithHTTPClient(ts.Client()))
	boom := errors.New("boom")
	err := a.SaveData(context.Background(), func(*document.Document) (*document.Document, error) { return nil, boom })
	require.ErrorIs(t, err, boom)
	mu.Lock()
	defer mu.Unlock()
	require.Zero(t, posts)
}

func TestFetchData_ConcurrentCallsAreSafe(t *testing.T) {
	ts := newGateway(t)
	a := New(ts.URL, WithHTTPClient(ts.Client()))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = a.FetchData(context.Background())
			_ = a.Data()
			_ = a.IsLoading()
		}()
	}
	wg.Wait()
	require.NoError(t, a.Err())
	require.NotNil(t, a.Data())
}
