package domain

import (
	"context"
	"encoding/json"
)

// ─── Service Interfaces ─────────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; application layer depends on them.

// LocalStore is synchronous key/value persistence that survives restarts.
// A missing key is reported with ok=false, never as an error.
type LocalStore interface {
	Read(key string) (value []byte, ok bool, err error)
	Write(key string, value []byte) error
	Delete(key string) error
}

// RemoteMirror is an optional per-key document mirror.
// Implementations without a backend are no-ops.
type RemoteMirror interface {
	// Subscribe calls onChange for every remote change of key, including the
	// first read of an existing document. The returned func unsubscribes.
	Subscribe(key string, onChange func(value json.RawMessage)) (unsubscribe func())

	// Push writes value as the remote document for key. Best-effort.
	Push(ctx context.Context, key string, value json.RawMessage) error
}

// ConnectNotifier is implemented by mirrors that know when their backend
// connection is established. fn runs after every successful (re)connect,
// once the existing subscriptions have been renewed.
type ConnectNotifier interface {
	OnConnect(fn func()) (cancel func())
}

// ConnectionState reports whether a mirror currently has a live backend.
type ConnectionState string

const (
	MirrorOffline      ConnectionState = "offline"
	MirrorConnecting   ConnectionState = "connecting"
	MirrorConnected    ConnectionState = "connected"
	MirrorDisconnected ConnectionState = "disconnected"
)

// DocumentStore persists mirror documents on the server side.
type DocumentStore interface {
	GetDocument(ctx context.Context, key string) (json.RawMessage, bool, error)
	PutDocument(ctx context.Context, key string, value json.RawMessage) error
	ListDocuments(ctx context.Context) ([]string, error)
}
