package middleware_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/concierge/internal/middleware"
)

// mockStore is an in-memory middleware.ResponseStore.
type mockStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMockStore() *mockStore {
	return &mockStore{data: make(map[string][]byte)}
}

func (m *mockStore) Get(_ context.Context, key string) (jetstream.KeyValueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, jetstream.ErrKeyNotFound
	}
	return &mockEntry{key: key, value: v}, nil
}

func (m *mockStore) Put(_ context.Context, key string, value []byte) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return 1, nil
}

func (m *mockStore) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

// mockEntry implements jetstream.KeyValueEntry.
type mockEntry struct {
	key   string
	value []byte
}

func (e *mockEntry) Bucket() string                  { return "test" }
func (e *mockEntry) Key() string                     { return e.key }
func (e *mockEntry) Value() []byte                   { return e.value }
func (e *mockEntry) Revision() uint64                { return 1 }
func (e *mockEntry) Created() time.Time              { return time.Time{} }
func (e *mockEntry) Delta() uint64                   { return 0 }
func (e *mockEntry) Operation() jetstream.KeyValueOp { return jetstream.KeyValuePut }

func countingHandler(counter *int, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		*counter++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = fmt.Fprintf(w, `{"call":%d}`, *counter)
	})
}

func post(h http.Handler, tenant, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/actions/a1/confirm", http.NoBody)
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	req = req.WithContext(middleware.WithTenantID(req.Context(), tenant))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestIdempotencyNoHeader(t *testing.T) {
	counter := 0
	store := newMockStore()
	h := middleware.Idempotency(store)(countingHandler(&counter, http.StatusOK))

	post(h, "t1", "")
	post(h, "t1", "")
	if counter != 2 {
		t.Fatalf("expected 2 calls without key, got %d", counter)
	}
	if store.len() != 0 {
		t.Fatal("nothing should be stored without a key")
	}
}

func TestIdempotencySecondRequestReplays(t *testing.T) {
	counter := 0
	h := middleware.Idempotency(newMockStore())(countingHandler(&counter, http.StatusOK))

	first := post(h, "t1", "k1")
	second := post(h, "t1", "k1")

	if counter != 1 {
		t.Fatalf("expected handler called once, got %d", counter)
	}
	if second.Body.String() != first.Body.String() {
		t.Fatalf("replayed body %q differs from %q", second.Body.String(), first.Body.String())
	}
	if second.Header().Get("Idempotent-Replayed") != "true" {
		t.Fatal("expected replay marker header")
	}
}

func TestIdempotencyScopedByTenant(t *testing.T) {
	counter := 0
	h := middleware.Idempotency(newMockStore())(countingHandler(&counter, http.StatusOK))

	post(h, "t1", "same")
	post(h, "t2", "same")
	if counter != 2 {
		t.Fatalf("keys must not collide across tenants, got %d calls", counter)
	}
}

func TestIdempotencyServerErrorNotStored(t *testing.T) {
	counter := 0
	store := newMockStore()
	h := middleware.Idempotency(store)(countingHandler(&counter, http.StatusServiceUnavailable))

	post(h, "t1", "k5")
	post(h, "t1", "k5")
	if counter != 2 {
		t.Fatalf("5xx responses must not be replayed, got %d calls", counter)
	}
	if store.len() != 0 {
		t.Fatal("5xx response was stored")
	}
}

func TestIdempotencyGETIgnored(t *testing.T) {
	counter := 0
	h := middleware.Idempotency(newMockStore())(countingHandler(&counter, http.StatusOK))

	for range 2 {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/plans/p1", http.NoBody)
		req.Header.Set("Idempotency-Key", "key-get")
		h.ServeHTTP(httptest.NewRecorder(), req)
	}
	if counter != 2 {
		t.Fatalf("expected GET to bypass replay, got %d calls", counter)
	}
}
