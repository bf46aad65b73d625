// Package slice implements the synchronized slice: one named piece of
// application state that is persisted locally on every change and mirrored
// to an optional remote document with a debounced push.
//
// Lifecycle:
//
//	Uninitialized → Hydrated → Idle ⇄ Writing
//
// A slice is hydrated synchronously from the local store inside New, so its
// first Get already reflects persisted state. Remote notifications are
// classified by Classify and only RemoteExternalChange is adopted.
//
// A local value that has not reached the mirror yet is flagged by an
// unpushed marker stored under UnpushedKey. Once a push of that value has
// failed, or the process restarted before the push ran, remote replays no
// longer overwrite it: the slice keeps its value and pushes it again when
// the mirror is reachable.
package slice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/eden-portal/eden/internal/domain"
	"github.com/eden-portal/eden/internal/infra/observability"
)

// DefaultDebounce is the push delay after the last local mutation.
const DefaultDebounce = time.Second

// maxOwnPushes bounds the remembered push history used for stale-echo detection.
const maxOwnPushes = 16

// State is the slice lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateHydrated
	StateIdle
	StateWriting
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateHydrated:
		return "hydrated"
	case StateIdle:
		return "idle"
	case StateWriting:
		return "writing"
	default:
		return "unknown"
	}
}

// UnpushedKey is the store key of the marker that flags key's local value
// as not yet pushed.
func UnpushedKey(key string) string { return key + "-unpushed" }

var markerValue = []byte("1")

// Options wires a slice to its collaborators.
type Options struct {
	Store    domain.LocalStore
	Mirror   domain.RemoteMirror // nil: local-only
	Debounce time.Duration       // default DefaultDebounce
	Clock    Clock               // default SystemClock
	Logger   *slog.Logger
}

// Slice is a synchronized value of type T. Values handed out by Get are
// copies; callers pass whole replacements to Set or an updater to Update.
type Slice[T any] struct {
	name string
	key  string

	store  domain.LocalStore
	mirror domain.RemoteMirror
	deb    *Debouncer
	logger *slog.Logger

	mu          sync.Mutex
	value       T
	enc         []byte
	state       State
	own         [][]byte
	pushing     int
	marked      bool // unpushed marker is in the store
	unpushed    bool // local value must survive remote replays
	closed      bool
	detached    bool
	unsubscribe func()
	unconnect   func()
	watchers    map[int]func(T)
	nextWatch   int
}

// New creates the slice, hydrates it from the store and subscribes to the
// mirror. initial is used when the store has no (valid) entry for key.
func New[T any](name, key string, initial T, opts Options) *Slice[T] {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Slice[T]{
		name:     name,
		key:      key,
		store:    opts.Store,
		mirror:   opts.Mirror,
		deb:      NewDebouncer(opts.Clock, opts.Debounce),
		logger:   opts.Logger.With("component", "slice", "slice", name),
		watchers: make(map[int]func(T)),
	}

	enc, err := json.Marshal(initial)
	if err != nil {
		// Initial values are compile-time literals; a failure here is a bug.
		panic(fmt.Sprintf("slice %s: initial value not serializable: %v", name, err))
	}
	s.value, s.enc = s.decodeOr(enc, initial)

	s.hydrate()
	s.state = StateHydrated

	if s.mirror != nil {
		s.unsubscribe = s.mirror.Subscribe(key, s.onRemote)
		if cn, ok := s.mirror.(domain.ConnectNotifier); ok {
			s.unconnect = cn.OnConnect(s.onConnect)
		}
	}

	s.mu.Lock()
	if s.state == StateHydrated {
		s.state = StateIdle
	}
	s.repushLocked()
	s.mu.Unlock()
	return s
}

func (s *Slice[T]) hydrate() {
	if s.store == nil {
		return
	}
	if s.mirror != nil {
		if _, ok, err := s.store.Read(UnpushedKey(s.key)); err == nil && ok {
			s.marked, s.unpushed = true, true
			s.logger.Info("local value was never pushed, keeping it over remote replays", "key", s.key)
		}
	}
	raw, ok, err := s.store.Read(s.key)
	if err != nil {
		observability.SliceStoreErrors.WithLabelValues(s.name, "read").Inc()
		s.logger.Warn("local store read failed, using initial value", "key", s.key, "err", err)
		return
	}
	if !ok {
		return
	}
	v, enc, err := canonical[T](raw)
	if err != nil {
		s.logger.Warn("stored value is corrupt, using initial value", "key", s.key, "err", err)
		return
	}
	s.value, s.enc = v, enc
}

// Name returns the slice's snapshot field name.
func (s *Slice[T]) Name() string { return s.name }

// Key returns the store/mirror key.
func (s *Slice[T]) Key() string { return s.key }

// State returns the lifecycle state.
func (s *Slice[T]) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Get returns a copy of the current value.
func (s *Slice[T]) Get() T {
	s.mu.Lock()
	enc, fallback := s.enc, s.value
	s.mu.Unlock()

	v, _ := s.decodeOr(enc, fallback)
	return v
}

// Set replaces the value. Equal values are a no-op.
func (s *Slice[T]) Set(v T) {
	s.Update(func(T) T { return v })
}

// Update replaces the value with fn(current). It reports whether the value changed.
// fn runs with the slice locked and must not call Get, Set or Update on this
// slice. A detached slice drops every mutation.
func (s *Slice[T]) Update(fn func(T) T) bool {
	s.mu.Lock()
	if s.detached {
		s.mu.Unlock()
		s.logger.Debug("mutation on detached slice dropped", "key", s.key)
		return false
	}
	cur, _ := s.decodeOr(s.enc, s.value)
	next := fn(cur)

	enc, err := json.Marshal(next)
	if err != nil {
		s.mu.Unlock()
		s.logger.Error("value not serializable, mutation dropped", "err", err)
		return false
	}
	if Classify(OriginLocal, s.enc, enc, nil) == LocalNoop {
		s.mu.Unlock()
		return false
	}

	s.value, s.enc = s.decodeOr(enc, next)
	s.persistLocked()
	observability.SliceWrites.WithLabelValues(s.name).Inc()

	if s.mirror != nil && !s.closed {
		s.markLocked()
		s.state = StateWriting
		s.deb.Schedule(s.push)
	}
	watchers := s.watchersLocked()
	v := s.value
	s.mu.Unlock()

	s.notify(watchers, v)
	return true
}

func (s *Slice[T]) persistLocked() {
	if s.store == nil {
		return
	}
	if err := s.store.Write(s.key, s.enc); err != nil {
		observability.SliceStoreErrors.WithLabelValues(s.name, "write").Inc()
		s.logger.Error("local store write failed, continuing in memory", "key", s.key, "err", err)
	}
}

func (s *Slice[T]) markLocked() {
	if s.marked || s.store == nil {
		return
	}
	if err := s.store.Write(UnpushedKey(s.key), markerValue); err != nil {
		observability.SliceStoreErrors.WithLabelValues(s.name, "write").Inc()
		s.logger.Warn("unpushed marker write failed", "key", s.key, "err", err)
		return
	}
	s.marked = true
}

// confirmLocked records that the mirror holds the current value.
func (s *Slice[T]) confirmLocked() {
	s.unpushed = false
	if !s.marked || s.store == nil {
		return
	}
	if err := s.store.Delete(UnpushedKey(s.key)); err != nil {
		observability.SliceStoreErrors.WithLabelValues(s.name, "write").Inc()
		s.logger.Warn("unpushed marker delete failed", "key", s.key, "err", err)
		return
	}
	s.marked = false
}

// repushLocked schedules a push of an unpushed value unless one is already
// waiting or in flight.
func (s *Slice[T]) repushLocked() {
	if !s.unpushed || s.mirror == nil || s.closed || s.pushing > 0 || s.deb.Pending() {
		return
	}
	s.state = StateWriting
	s.deb.Schedule(s.push)
}

// push sends the current value to the mirror. It runs on the debounce timer
// or from Flush.
func (s *Slice[T]) push() {
	s.mu.Lock()
	if s.detached {
		s.mu.Unlock()
		return
	}
	enc := s.enc
	s.own = append(s.own, enc)
	if len(s.own) > maxOwnPushes {
		s.own = s.own[len(s.own)-maxOwnPushes:]
	}
	s.pushing++
	s.mu.Unlock()

	err := s.mirror.Push(context.Background(), s.key, json.RawMessage(enc))

	s.mu.Lock()
	s.pushing--
	switch {
	case err != nil:
		s.unpushed = true
	case bytes.Equal(s.enc, enc) && !s.deb.Pending() && !s.detached:
		s.confirmLocked()
	}
	if s.pushing == 0 && !s.deb.Pending() && s.state == StateWriting {
		s.state = StateIdle
	}
	s.mu.Unlock()

	if err != nil {
		observability.SlicePushes.WithLabelValues(s.name, "error").Inc()
		s.logger.Warn("remote push failed", "key", s.key, "err", err)
		return
	}
	observability.SlicePushes.WithLabelValues(s.name, "ok").Inc()
}

// onRemote handles a mirror notification for this slice's key.
func (s *Slice[T]) onRemote(raw json.RawMessage) {
	v, enc, err := canonical[T](raw)
	if err != nil {
		s.logger.Warn("remote value rejected", "key", s.key, "err", err)
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	tr := Classify(OriginRemote, s.enc, enc, s.own)
	if tr == RemoteExternalChange && s.unpushed {
		tr = RemoteSuperseded
	}
	observability.SliceRemoteEvents.WithLabelValues(s.name, tr.String()).Inc()

	switch tr {
	case RemoteEcho:
		// Our latest push came back; anything older can no longer arrive.
		if n := len(s.own); n > 0 && bytes.Equal(s.own[n-1], enc) {
			s.own = nil
		}
		if !s.deb.Pending() {
			s.confirmLocked()
		}
		s.mu.Unlock()
		return
	case RemoteStaleEcho:
		s.repushLocked()
		s.mu.Unlock()
		return
	case RemoteSuperseded:
		s.logger.Info("remote value ignored, local value not pushed yet", "key", s.key)
		s.repushLocked()
		s.mu.Unlock()
		return
	}

	// RemoteExternalChange: remote wins by arrival.
	s.value, s.enc = v, enc
	s.own = nil
	s.confirmLocked()
	if s.deb.Cancel() {
		s.logger.Debug("pending push dropped for external change", "key", s.key)
	}
	if s.pushing == 0 && s.state == StateWriting {
		s.state = StateIdle
	}
	s.persistLocked()
	watchers := s.watchersLocked()
	s.mu.Unlock()

	s.notify(watchers, v)
}

// onConnect re-pushes an unpushed value once the mirror is reachable again.
func (s *Slice[T]) onConnect() {
	s.mu.Lock()
	s.repushLocked()
	s.mu.Unlock()
}

// Watch registers fn to be called with each new value, local or remote.
// fn runs on the mutating goroutine and must not call Set on this slice.
func (s *Slice[T]) Watch(fn func(T)) (cancel func()) {
	s.mu.Lock()
	id := s.nextWatch
	s.nextWatch++
	s.watchers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}
}

func (s *Slice[T]) watchersLocked() []func(T) {
	if len(s.watchers) == 0 {
		return nil
	}
	out := make([]func(T), 0, len(s.watchers))
	for _, fn := range s.watchers {
		out = append(out, fn)
	}
	return out
}

func (s *Slice[T]) notify(watchers []func(T), v T) {
	for _, fn := range watchers {
		c, _ := s.decodeOr(mustMarshal(v), v)
		fn(c)
	}
}

// Flush pushes a pending debounced value now. It reports whether a push ran.
func (s *Slice[T]) Flush() bool {
	return s.deb.Flush()
}

// Pending reports whether a debounced push is waiting.
func (s *Slice[T]) Pending() bool {
	return s.deb.Pending()
}

// Close flushes any pending push and unsubscribes from the mirror. Later
// local mutations are persisted but no longer pushed.
func (s *Slice[T]) Close() {
	s.Flush()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	unsub, unconnect := s.unsubscribe, s.unconnect
	s.unsubscribe, s.unconnect = nil, nil
	s.state = StateIdle
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if unconnect != nil {
		unconnect()
	}
}

// Detach abandons the slice without flushing: a pending push is dropped,
// the mirror subscription ends and later mutations are neither persisted
// nor pushed. The unpushed marker stays in the store.
func (s *Slice[T]) Detach() {
	s.deb.Cancel()

	s.mu.Lock()
	s.detached = true
	s.closed = true
	unsub, unconnect := s.unsubscribe, s.unconnect
	s.unsubscribe, s.unconnect = nil, nil
	s.state = StateIdle
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if unconnect != nil {
		unconnect()
	}
}

// ─── Entry (type-erased view) ───────────────────────────────────────────────

// Export returns the current value as JSON.
func (s *Slice[T]) Export() json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append(json.RawMessage(nil), s.enc...)
}

// Import validates raw as a T and applies it as a local mutation.
func (s *Slice[T]) Import(raw json.RawMessage) error {
	v, _, err := canonical[T](raw)
	if err != nil {
		return fmt.Errorf("slice %s: %w", s.name, err)
	}
	s.Set(v)
	return nil
}

// ─── Encoding ───────────────────────────────────────────────────────────────

// canonical decodes raw into a fresh T and re-encodes it, so values that
// differ only in formatting compare equal.
func canonical[T any](raw []byte) (T, []byte, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, nil, fmt.Errorf("decode: %w", err)
	}
	enc, err := json.Marshal(v)
	if err != nil {
		return v, nil, fmt.Errorf("encode: %w", err)
	}
	return v, enc, nil
}

// decodeOr returns a fresh copy decoded from enc, or fallback if that fails.
func (s *Slice[T]) decodeOr(enc []byte, fallback T) (T, []byte) {
	var v T
	if err := json.Unmarshal(enc, &v); err != nil {
		return fallback, enc
	}
	return v, enc
}

func mustMarshal(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}
