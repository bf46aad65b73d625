package slice

import "encoding/json"

// Entry is the type-erased view of a slice used by backup and recovery.
type Entry interface {
	Name() string
	Key() string
	Export() json.RawMessage
	Import(raw json.RawMessage) error
	Flush() bool
	Pending() bool
	Close()
	Detach()
}

var _ Entry = (*Slice[int])(nil)
