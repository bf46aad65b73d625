package mirror

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eden-portal/eden/internal/app/slice"
	"github.com/eden-portal/eden/internal/domain"
	"github.com/eden-portal/eden/internal/infra/sqlite"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func newTestServer(t *testing.T, store domain.DocumentStore) *httptest.Server {
	t.Helper()
	cfg := DefaultServerConfig()
	cfg.Logger = quietLogger
	srv := httptest.NewServer(NewServer(store, cfg).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	cfg := DefaultClientConfig(url)
	cfg.ReconnectMin = 20 * time.Millisecond
	cfg.ReconnectMax = 100 * time.Millisecond
	cfg.Logger = quietLogger
	c, err := NewClient(cfg)
	require.NoError(t, err)
	c.Start(context.Background())
	t.Cleanup(func() { c.Close() })
	require.Eventually(t, func() bool { return c.State() == domain.MirrorConnected }, 5*time.Second, 10*time.Millisecond)
	return c
}

// recorder collects values delivered to a subscription.
type recorder struct {
	mu   sync.Mutex
	seen []string
}

func (r *recorder) on(v json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, string(v))
}

func (r *recorder) values() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.seen...)
}

// ─── HTTP Documents ─────────────────────────────────────────────────────────

func TestServer_DocumentsOverHTTP(t *testing.T) {
	srv := newTestServer(t, NewMemoryDocuments())

	resp, err := http.Get(srv.URL + "/docs/eden-v2-flats")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/docs/eden-v2-flats", bytes.NewBufferString(`{"value":[{"id":"101"}]}`))
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/docs/eden-v2-flats")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var doc Document
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	assert.JSONEq(t, `[{"id":"101"}]`, string(doc.Value))

	resp, err = http.Get(srv.URL + "/docs")
	require.NoError(t, err)
	defer resp.Body.Close()
	var list struct {
		Keys []string `json:"keys"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	assert.Equal(t, []string{"eden-v2-flats"}, list.Keys)
}

func TestServer_PutRejectsBadBody(t *testing.T) {
	srv := newTestServer(t, NewMemoryDocuments())

	for _, body := range []string{`not json`, `{}`} {
		req, _ := http.NewRequest(http.MethodPut, srv.URL+"/docs/k", bytes.NewBufferString(body))
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "body %q", body)
	}
}

func TestServer_Health(t *testing.T) {
	srv := newTestServer(t, NewMemoryDocuments())

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// ─── Websocket Client ───────────────────────────────────────────────────────

func TestClient_SubscribeReceivesExistingDocument(t *testing.T) {
	docs := NewMemoryDocuments()
	require.NoError(t, docs.PutDocument(context.Background(), "eden-v2-notices", json.RawMessage(`[{"id":"n1"}]`)))
	srv := newTestServer(t, docs)
	c := newTestClient(t, srv.URL)

	rec := &recorder{}
	c.Subscribe("eden-v2-notices", rec.on)

	require.Eventually(t, func() bool { return len(rec.values()) == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.JSONEq(t, `[{"id":"n1"}]`, rec.values()[0])
}

func TestClient_PushFansOutIncludingOrigin(t *testing.T) {
	srv := newTestServer(t, NewMemoryDocuments())
	a := newTestClient(t, srv.URL)
	b := newTestClient(t, srv.URL)

	recA, recB := &recorder{}, &recorder{}
	a.Subscribe("eden-v2-loans", recA.on)
	b.Subscribe("eden-v2-loans", recB.on)
	// Let both subscriptions reach the server before pushing.
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, a.Push(context.Background(), "eden-v2-loans", json.RawMessage(`[1]`)))

	require.Eventually(t, func() bool {
		return len(recA.values()) == 1 && len(recB.values()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "[1]", recA.values()[0], "origin sees its own echo")
	assert.Equal(t, "[1]", recB.values()[0])
}

func TestClient_UnsubscribeStopsDelivery(t *testing.T) {
	srv := newTestServer(t, NewMemoryDocuments())
	c := newTestClient(t, srv.URL)

	rec := &recorder{}
	unsub := c.Subscribe("k", rec.on)
	time.Sleep(50 * time.Millisecond)
	unsub()
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, c.Push(context.Background(), "k", json.RawMessage(`2`)))
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, rec.values())
}

func TestClient_PushWhileDisconnected(t *testing.T) {
	c, err := NewClient(DefaultClientConfig("ws://127.0.0.1:1"))
	require.NoError(t, err)

	err = c.Push(context.Background(), "k", json.RawMessage(`1`))
	assert.ErrorIs(t, err, domain.ErrOffline)
	assert.Equal(t, domain.MirrorDisconnected, c.State())
}

func TestClient_ReconnectResubscribes(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.Logger = quietLogger
	server := NewServer(NewMemoryDocuments(), cfg)
	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)

	c := newTestClient(t, srv.URL)
	rec := &recorder{}
	c.Subscribe("k", rec.on)
	time.Sleep(50 * time.Millisecond)

	// Drop every connection; the client must come back on its own and
	// resubscribe, so a later push is delivered again.
	server.Hub().Disconnect()
	require.Eventually(t, func() bool {
		_ = c.Push(context.Background(), "k", json.RawMessage(`"after"`))
		time.Sleep(20 * time.Millisecond)
		v := rec.values()
		return len(v) > 0 && v[len(v)-1] == `"after"`
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, domain.MirrorConnected, c.State())
}

// gate answers 503 on every request while down is set, so a dropped client
// cannot reconnect.
func gate(down *atomic.Bool, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if down.Load() {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func TestClient_OnConnectRunsAfterReconnect(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.Logger = quietLogger
	server := NewServer(NewMemoryDocuments(), cfg)
	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)

	c := newTestClient(t, srv.URL)
	var cancelled, kept atomic.Int32
	cancel := c.OnConnect(func() { cancelled.Add(1) })
	c.OnConnect(func() { kept.Add(1) })

	server.Hub().Disconnect()
	require.Eventually(t, func() bool { return kept.Load() == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), cancelled.Load())

	cancel()
	server.Hub().Disconnect()
	require.Eventually(t, func() bool { return kept.Load() == 2 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), cancelled.Load(), "cancelled hook no longer runs")
}

func TestClient_OfflineEditSurvivesReconnect(t *testing.T) {
	type counter struct {
		Count int `json:"count"`
	}
	const key = "eden-v2-counter"

	docs := NewMemoryDocuments()
	cfg := DefaultServerConfig()
	cfg.Logger = quietLogger
	server := NewServer(docs, cfg)
	var down atomic.Bool
	srv := httptest.NewServer(gate(&down, server.Handler()))
	t.Cleanup(srv.Close)

	c := newTestClient(t, srv.URL)
	store := slice.NewMemoryStore()
	s := slice.New("counter", key, counter{}, slice.Options{
		Store:    store,
		Mirror:   c,
		Debounce: 10 * time.Millisecond,
		Logger:   quietLogger,
	})
	t.Cleanup(s.Close)

	remote := func() string {
		v, ok, _ := docs.GetDocument(context.Background(), key)
		if !ok {
			return ""
		}
		return string(v)
	}

	s.Set(counter{Count: 1})
	require.Eventually(t, func() bool { return remote() == `{"count":1}` }, 5*time.Second, 10*time.Millisecond)

	down.Store(true)
	server.Hub().Disconnect()
	require.Eventually(t, func() bool { return c.State() != domain.MirrorConnected }, 5*time.Second, 10*time.Millisecond)

	s.Set(counter{Count: 2})
	time.Sleep(100 * time.Millisecond) // the debounced push runs and fails
	assert.Equal(t, `{"count":1}`, remote())
	_, marked, _ := store.Read(slice.UnpushedKey(key))
	require.True(t, marked)

	down.Store(false)
	require.Eventually(t, func() bool { return remote() == `{"count":2}` }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, s.Get().Count, "offline edit survives the replay of the older document")
	require.Eventually(t, func() bool {
		_, marked, _ := store.Read(slice.UnpushedKey(key))
		return !marked
	}, 5*time.Second, 10*time.Millisecond)
	stored, _, _ := store.Read(key)
	assert.JSONEq(t, `{"count":2}`, string(stored))
}

func TestSocketURL(t *testing.T) {
	tests := []struct {
		in, want string
		wantErr  bool
	}{
		{in: "http://mirror:8090", want: "ws://mirror:8090/ws"},
		{in: "https://mirror.example", want: "wss://mirror.example/ws"},
		{in: "ws://mirror:8090/custom", want: "ws://mirror:8090/custom"},
		{in: "ftp://mirror", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := socketURL(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// ─── Document Stores ────────────────────────────────────────────────────────

func TestServer_SQLiteDocuments(t *testing.T) {
	db, err := sqlite.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	srv := newTestServer(t, db)
	c := newTestClient(t, srv.URL)
	require.NoError(t, c.Push(context.Background(), "eden-v2-tx-counter", json.RawMessage(`3`)))

	require.Eventually(t, func() bool {
		v, ok, _ := db.GetDocument(context.Background(), "eden-v2-tx-counter")
		return ok && string(v) == "3"
	}, 5*time.Second, 10*time.Millisecond)
}

func TestPostgresDocuments(t *testing.T) {
	url := os.Getenv("EDEN_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("EDEN_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	p, err := OpenPostgres(ctx, url)
	require.NoError(t, err)
	defer p.Close()

	key := "eden-test-" + time.Now().Format("150405.000000")
	require.NoError(t, p.PutDocument(ctx, key, json.RawMessage(`{"a":1}`)))
	v, ok, err := p.GetDocument(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"a":1}`, string(v))

	keys, err := p.ListDocuments(ctx)
	require.NoError(t, err)
	assert.Contains(t, keys, key)
}

func TestMemoryDocuments(t *testing.T) {
	m := NewMemoryDocuments()
	ctx := context.Background()

	_, ok, err := m.GetDocument(ctx, "x")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.PutDocument(ctx, "b", json.RawMessage(`1`)))
	require.NoError(t, m.PutDocument(ctx, "a", json.RawMessage(`2`)))
	keys, _ := m.ListDocuments(ctx)
	assert.Equal(t, []string{"a", "b"}, keys)
}
