package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/eden-portal/eden/internal/domain"
)

// ─── Backup ─────────────────────────────────────────────────────────────────
// A snapshot is one JSON object with a field per slice, keyed by the slice's
// snapshot name ("users", "flats", "transactionCounter", ...).

// Export encodes every slice's current value as a snapshot.
func (r *Registry) Export() ([]byte, error) {
	snap := make(map[string]json.RawMessage, len(r.entries))
	for _, e := range r.entries {
		snap[e.Name()] = e.Export()
	}
	out, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("export snapshot: %w", err)
	}
	return out, nil
}

// ParseSnapshot splits a snapshot into its fields.
func ParseSnapshot(data []byte) (map[string]json.RawMessage, error) {
	var snap map[string]json.RawMessage
	if err := json.Unmarshal(data, &snap); err != nil || snap == nil {
		return nil, domain.ErrSnapshotCorrupt
	}
	return snap, nil
}

// Import applies a snapshot. Each present field is validated and applied on
// its own: a field that fails validation is reported but does not stop the
// others. Missing, null and unknown fields are skipped. It returns the names
// of the slices that were applied.
func (r *Registry) Import(data []byte) ([]string, error) {
	snap, err := ParseSnapshot(data)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	done := r.begin("import_snapshot", "", map[string]string{"fields": fmt.Sprint(len(snap))})

	var applied []string
	var errs []error
	for _, e := range r.entries {
		raw, ok := snap[e.Name()]
		if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			continue
		}
		if err := e.Import(raw); err != nil {
			errs = append(errs, err)
			continue
		}
		applied = append(applied, e.Name())
	}
	for name := range snap {
		if _, ok := r.Entry(name); !ok {
			r.logger.Warn("snapshot field ignored", "field", name, "err", domain.ErrUnknownSlice)
		}
	}

	err = errors.Join(errs...)
	done(err)
	return applied, err
}
