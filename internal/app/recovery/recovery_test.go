package recovery

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eden-portal/eden/internal/app/registry"
	"github.com/eden-portal/eden/internal/app/slice"
)

var errBoom = errors.New("render fault")

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func openRegistry(t *testing.T, store *slice.MemoryStore) *registry.Registry {
	t.Helper()
	cfg := registry.DefaultConfig()
	cfg.Store = store
	cfg.Logger = quiet()
	r, err := registry.New(cfg)
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r
}

func newManager(t *testing.T, r *registry.Registry, store *slice.MemoryStore, clock *fakeClock) *Manager {
	t.Helper()
	return NewManager(r, Config{Store: store, Now: clock.Now, Logger: quiet()})
}

func setPresident(r *registry.Registry, msg string) { r.PresidentMessage.Set(msg) }

// ─── Restore Points ─────────────────────────────────────────────────────────

func TestEnsureRestorePoint_CreatesOnce(t *testing.T) {
	store := slice.NewMemoryStore()
	r := openRegistry(t, store)
	m := newManager(t, r, store, &fakeClock{t: time.Now()})

	assert.False(t, m.HasRestorePoint())

	created, err := m.EnsureRestorePoint(r)
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, m.HasRestorePoint())

	created, err = m.EnsureRestorePoint(r)
	require.NoError(t, err)
	assert.False(t, created, "an existing restore point is kept")
}

func TestRestorePointKey_OutsideOwnedKeys(t *testing.T) {
	store := slice.NewMemoryStore()
	r := openRegistry(t, store)

	key := RestorePointKey(r.Namespace())
	assert.Equal(t, "eden-v2-restore-point", key)
	assert.NotContains(t, r.OwnedKeys(), key)
}

// ─── Recover ────────────────────────────────────────────────────────────────

func TestRecover_RestoresFirst(t *testing.T) {
	store := slice.NewMemoryStore()
	r := openRegistry(t, store)
	clock := &fakeClock{t: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	m := newManager(t, r, store, clock)

	setPresident(r, "before the fault")
	require.NoError(t, m.CreateRestorePoint(r))
	setPresident(r, "broken state")

	out, err := m.Recover(errBoom)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRestored, out)
	assert.True(t, m.Session().RestoreAttempted())

	reopened := openRegistry(t, store)
	assert.Equal(t, "before the fault", reopened.PresidentMessage.Get())
}

func TestRecover_WipesAfterRestoreAttempt(t *testing.T) {
	store := slice.NewMemoryStore()
	r := openRegistry(t, store)
	clock := &fakeClock{t: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	m := newManager(t, r, store, clock)

	require.NoError(t, m.CreateRestorePoint(r))
	_, err := m.Recover(errBoom)
	require.NoError(t, err)

	out, err := m.Recover(errBoom)
	require.NoError(t, err)
	assert.Equal(t, OutcomeWiped, out)
	assert.False(t, m.Session().RestoreAttempted())
	assert.Equal(t, clock.Now(), m.Session().LastReset())

	for _, k := range r.OwnedKeys() {
		_, ok, err := store.Read(k)
		require.NoError(t, err)
		assert.False(t, ok, "key %s survived the wipe", k)
	}
	assert.True(t, m.HasRestorePoint(), "restore point survives a wipe")

	reopened := openRegistry(t, store)
	assert.Len(t, reopened.Flats.Get(), 53, "reopens from seed data")
}

func TestRecover_WipesWithoutRestorePoint(t *testing.T) {
	store := slice.NewMemoryStore()
	r := openRegistry(t, store)
	m := newManager(t, r, store, &fakeClock{t: time.Now()})

	out, err := m.Recover(errBoom)
	require.NoError(t, err)
	assert.Equal(t, OutcomeWiped, out)
	assert.False(t, m.Session().RestoreAttempted())
}

func TestRecover_SuppressesLoop(t *testing.T) {
	store := slice.NewMemoryStore()
	r := openRegistry(t, store)
	clock := &fakeClock{t: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	m := newManager(t, r, store, clock)

	out, err := m.Recover(errBoom)
	require.NoError(t, err)
	require.Equal(t, OutcomeWiped, out)

	setPresident(r, "written after the wipe")
	clock.Advance(DefaultLoopWindow - time.Second)

	out, err = m.Recover(errBoom)
	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, OutcomeSuppressed, out)

	_, ok, _ := store.Read(r.PresidentMessage.Key())
	assert.True(t, ok, "a suppressed recovery leaves the store alone")

	clock.Advance(2 * time.Second)
	out, err = m.Recover(errBoom)
	require.NoError(t, err)
	assert.Equal(t, OutcomeWiped, out)
}

func TestRecover_CorruptRestorePointFallsBackToWipe(t *testing.T) {
	store := slice.NewMemoryStore()
	r := openRegistry(t, store)
	m := newManager(t, r, store, &fakeClock{t: time.Now()})

	require.NoError(t, store.Write(RestorePointKey(r.Namespace()), []byte("{not json")))
	setPresident(r, "lost")

	out, err := m.Recover(errBoom)
	require.NoError(t, err)
	assert.Equal(t, OutcomeWiped, out)

	_, ok, _ := store.Read(r.PresidentMessage.Key())
	assert.False(t, ok)
}

func TestRecover_RestoreSkipsNullFields(t *testing.T) {
	store := slice.NewMemoryStore()
	r := openRegistry(t, store)
	m := newManager(t, r, store, &fakeClock{t: time.Now()})

	setPresident(r, "current")
	require.NoError(t, store.Write(RestorePointKey(r.Namespace()), []byte(`{"presidentMessage":null,"transactionCounter":42}`)))

	out, err := m.Recover(errBoom)
	require.NoError(t, err)
	require.Equal(t, OutcomeRestored, out)

	reopened := openRegistry(t, store)
	assert.Equal(t, "current", reopened.PresidentMessage.Get())
	assert.Equal(t, int64(42), reopened.TransactionCounter.Get())
}

// ─── Session ────────────────────────────────────────────────────────────────

func TestSession_SharedAcrossManagers(t *testing.T) {
	store := slice.NewMemoryStore()
	r := openRegistry(t, store)
	session := NewSession()
	first := NewManager(r, Config{Store: store, Session: session, Logger: quiet()})

	require.NoError(t, first.CreateRestorePoint(r))
	out, err := first.Recover(errBoom)
	require.NoError(t, err)
	require.Equal(t, OutcomeRestored, out)

	// A restarted registry gets a new manager but keeps the session.
	second := NewManager(openRegistry(t, store), Config{Store: store, Session: session, Logger: quiet()})
	out, err = second.Recover(errBoom)
	require.NoError(t, err)
	assert.Equal(t, OutcomeWiped, out)

	session.Clear()
	assert.False(t, session.RestoreAttempted())
	assert.True(t, session.LastReset().IsZero())
}

func TestRecover_WipeLeavesForeignKeys(t *testing.T) {
	store := slice.NewMemoryStore()
	r := openRegistry(t, store)
	m := newManager(t, r, store, &fakeClock{t: time.Now()})

	require.NoError(t, store.Write("other-app-settings", []byte(`{}`)))
	_, err := m.Recover(errBoom)
	require.NoError(t, err)

	_, ok, _ := store.Read("other-app-settings")
	assert.True(t, ok)
}
