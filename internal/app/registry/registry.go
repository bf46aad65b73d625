// Package registry is the application state surface: every named
// synchronized slice of the portal plus the workflow operations that
// mutate them.
//
// A Registry is constructed explicitly per process (or per test) and owns
// its slices for its whole lifetime. Workflows are serialized by a single
// mutex and validate every precondition before touching any slice, so a
// rejected operation leaves no partial mutation behind.
package registry

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/eden-portal/eden/internal/app/slice"
	"github.com/eden-portal/eden/internal/domain"
	"github.com/eden-portal/eden/internal/infra/observability"
)

// DefaultNamespace prefixes every store and mirror key.
const DefaultNamespace = "eden-v2"

// Config wires a registry to its collaborators.
type Config struct {
	Namespace string // key prefix (default DefaultNamespace)
	IDPrefix  string // transaction ID prefix (default "EDEN")
	IDWidth   int    // zero-padded counter width (default 5)

	Store    domain.LocalStore
	Mirror   domain.RemoteMirror // nil: local-only
	Debounce time.Duration       // default slice.DefaultDebounce
	Clock    slice.Clock         // default slice.SystemClock
	Now      func() time.Time    // default time.Now
	Logger   *slog.Logger
	Journal  *observability.Journal // nil: operations are not journaled
}

// DefaultConfig returns production defaults. Store must still be set.
func DefaultConfig() Config {
	return Config{
		Namespace: DefaultNamespace,
		IDPrefix:  "EDEN",
		IDWidth:   5,
		Debounce:  slice.DefaultDebounce,
	}
}

// Slot names one slice: its snapshot field and its store key.
type Slot struct {
	Name string `json:"name"`
	Key  string `json:"key"`
}

// Key builds a namespaced store key.
func Key(namespace, suffix string) string {
	return namespace + "-" + suffix
}

// Registry holds the portal's synchronized slices.
type Registry struct {
	cfg     Config
	logger  *slog.Logger
	journal *observability.Journal
	now     func() time.Time

	mu sync.Mutex // serializes workflows

	Users                 *slice.Slice[[]domain.User]
	Flats                 *slice.Slice[[]domain.Flat]
	Payments              *slice.Slice[[]domain.Payment]
	Expenses              *slice.Slice[[]domain.Expense]
	RecurringExpenses     *slice.Slice[[]domain.RecurringExpense]
	Notices               *slice.Slice[[]domain.Notice]
	Messages              *slice.Slice[[]domain.Message]
	Notifications         *slice.Slice[[]domain.Notification]
	Tasks                 *slice.Slice[[]domain.Task]
	Inquiries             *slice.Slice[[]domain.Inquiry]
	TenantTransactions    *slice.Slice[[]domain.TenantTransaction]
	PersonalBudgetEntries *slice.Slice[[]domain.PersonalBudgetEntry]
	Contacts              *slice.Slice[[]domain.Contact]
	DeletedItems          *slice.Slice[[]domain.DeletedItem]
	PresidentMessage      *slice.Slice[string]
	Loans                 *slice.Slice[[]domain.Loan]
	CashTransfers         *slice.Slice[[]domain.CashTransfer]
	TransactionCounter    *slice.Slice[int64]
	BuildingInfo          *slice.Slice[domain.BuildingInfo]

	entries []slice.Entry
}

// New builds every slice, hydrating each from cfg.Store before returning.
func New(cfg Config) (*Registry, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("registry: local store is required")
	}
	def := DefaultConfig()
	if cfg.Namespace == "" {
		cfg.Namespace = def.Namespace
	}
	if cfg.IDPrefix == "" {
		cfg.IDPrefix = def.IDPrefix
	}
	if cfg.IDWidth <= 0 {
		cfg.IDWidth = def.IDWidth
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	r := &Registry{
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "registry", "namespace", cfg.Namespace),
		journal: cfg.Journal,
		now:     cfg.Now,
	}

	seed := DefaultSeed()
	r.Users = add(r, "users", "users", seed.Users)
	r.Flats = add(r, "flats", "flats", seed.Flats)
	r.Payments = add(r, "payments", "payments", []domain.Payment{})
	r.Expenses = add(r, "expenses", "expenses", []domain.Expense{})
	r.RecurringExpenses = add(r, "recurringExpenses", "recurring-expenses", seed.RecurringExpenses)
	r.Notices = add(r, "notices", "notices", []domain.Notice{})
	r.Messages = add(r, "messages", "messages", []domain.Message{})
	r.Notifications = add(r, "notifications", "notifications", []domain.Notification{})
	r.Tasks = add(r, "tasks", "tasks", []domain.Task{})
	r.Inquiries = add(r, "inquiries", "inquiries", []domain.Inquiry{})
	r.TenantTransactions = add(r, "tenantTransactions", "tenantTransactions", []domain.TenantTransaction{})
	r.PersonalBudgetEntries = add(r, "personalBudgetEntries", "personalBudgetEntries", []domain.PersonalBudgetEntry{})
	r.Contacts = add(r, "contacts", "contacts", seed.Contacts)
	r.DeletedItems = add(r, "deletedItems", "deleted-items", []domain.DeletedItem{})
	r.PresidentMessage = add(r, "presidentMessage", "president-message", seed.PresidentMessage)
	r.Loans = add(r, "loans", "loans", []domain.Loan{})
	r.CashTransfers = add(r, "cashTransfers", "cash-transfers", []domain.CashTransfer{})
	r.TransactionCounter = add(r, "transactionCounter", "tx-counter", int64(1))
	r.BuildingInfo = add(r, "buildingInfo", "building-info", seed.BuildingInfo)

	r.logger.Info("registry ready", "slices", len(r.entries), "mirrored", cfg.Mirror != nil)
	return r, nil
}

func add[T any](r *Registry, name, suffix string, initial T) *slice.Slice[T] {
	s := slice.New(name, Key(r.cfg.Namespace, suffix), initial, slice.Options{
		Store:    r.cfg.Store,
		Mirror:   r.cfg.Mirror,
		Debounce: r.cfg.Debounce,
		Clock:    r.cfg.Clock,
		Logger:   r.cfg.Logger,
	})
	r.entries = append(r.entries, s)
	return s
}

// Namespace returns the key prefix.
func (r *Registry) Namespace() string { return r.cfg.Namespace }

// Now is the registry's clock.
func (r *Registry) Now() time.Time { return r.now() }

// Store returns the local store the slices persist to.
func (r *Registry) Store() domain.LocalStore { return r.cfg.Store }

// Slots lists every slice in snapshot order.
func (r *Registry) Slots() []Slot {
	out := make([]Slot, len(r.entries))
	for i, e := range r.entries {
		out[i] = Slot{Name: e.Name(), Key: e.Key()}
	}
	return out
}

// OwnedKeys lists every store key the registry writes: slice keys, their
// unpushed markers and the automation markers.
func (r *Registry) OwnedKeys() []string {
	keys := make([]string, 0, 2*len(r.entries)+1)
	for _, e := range r.entries {
		keys = append(keys, e.Key(), slice.UnpushedKey(e.Key()))
	}
	return append(keys, r.monthlyRunKey())
}

// Entry returns the slice with the given snapshot name.
func (r *Registry) Entry(name string) (slice.Entry, bool) {
	for _, e := range r.entries {
		if e.Name() == name {
			return e, true
		}
	}
	return nil, false
}

// Flush pushes every pending debounced value now.
func (r *Registry) Flush() {
	for _, e := range r.entries {
		e.Flush()
	}
}

// Close flushes and detaches every slice from the mirror.
func (r *Registry) Close() {
	for _, e := range r.entries {
		e.Close()
	}
}

// Abandon detaches every slice without flushing pending pushes. Used when
// the store is about to be rewritten underneath the registry.
func (r *Registry) Abandon() {
	for _, e := range r.entries {
		e.Detach()
	}
}

// ─── Operation helpers ──────────────────────────────────────────────────────

// begin starts a journaled operation; call the returned func with the result.
func (r *Registry) begin(name, actor string, attrs map[string]string) func(error) {
	op := r.journal.Begin(name, actor, attrs)
	return func(err error) {
		r.journal.End(op, err)
		if err != nil {
			r.logger.Info("operation rejected", "op", name, "actor", actor, "err", err)
		}
	}
}

// NextTransactionID returns the next fixed-width transaction ID and
// advances the counter.
func (r *Registry) NextTransactionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextIDLocked()
}

func (r *Registry) nextIDLocked() string {
	n := r.TransactionCounter.Get()
	if n < 1 {
		n = 1
	}
	r.TransactionCounter.Set(n + 1)
	return fmt.Sprintf("%s%0*d", r.cfg.IDPrefix, r.cfg.IDWidth, n)
}
