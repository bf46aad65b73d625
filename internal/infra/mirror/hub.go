package mirror

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/eden-portal/eden/internal/domain"
	"github.com/eden-portal/eden/internal/infra/observability"
)

const (
	sendBuffer = 64
	writeWait  = 10 * time.Second
)

// peer is one connected websocket client. All writes go through send so the
// connection has a single writer.
type peer struct {
	conn *websocket.Conn
	send chan Frame
	keys map[string]struct{}
}

// Hub fans document changes out to subscribed peers. Writes to one key are
// stored and broadcast under the hub lock so every peer sees them in the
// order they were accepted.
type Hub struct {
	store  domain.DocumentStore
	logger *slog.Logger

	mu    sync.Mutex
	peers map[*peer]struct{}
	subs  map[string]map[*peer]struct{}
}

// NewHub creates a hub backed by store.
func NewHub(store domain.DocumentStore, logger *slog.Logger) *Hub {
	return &Hub{
		store:  store,
		logger: logger,
		peers:  make(map[*peer]struct{}),
		subs:   make(map[string]map[*peer]struct{}),
	}
}

// Clients returns the number of connected peers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// Disconnect closes every peer connection. Peers reconnect on their own.
func (h *Hub) Disconnect() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for p := range h.peers {
		p.conn.Close()
	}
}

// Put stores value for key and broadcasts it to every subscriber.
func (h *Hub) Put(ctx context.Context, key string, value json.RawMessage, origin string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.store.PutDocument(ctx, key, value); err != nil {
		return err
	}
	observability.MirrorServerWrites.Inc()

	f := Frame{Type: FrameChange, Key: key, Doc: &Document{Value: value}, Origin: origin}
	for p := range h.subs[key] {
		h.enqueueLocked(p, f)
	}
	return nil
}

// enqueueLocked drops a peer that cannot keep up rather than blocking the hub.
func (h *Hub) enqueueLocked(p *peer, f Frame) {
	select {
	case p.send <- f:
	default:
		h.logger.Warn("peer too slow, disconnecting", "remote", p.conn.RemoteAddr().String())
		h.removeLocked(p)
	}
}

// Serve runs one peer until its connection closes.
func (h *Hub) Serve(ctx context.Context, conn *websocket.Conn) {
	p := &peer{conn: conn, send: make(chan Frame, sendBuffer), keys: make(map[string]struct{})}

	h.mu.Lock()
	h.peers[p] = struct{}{}
	observability.MirrorServerClients.Set(float64(len(h.peers)))
	h.mu.Unlock()

	go h.writeLoop(p)

	defer func() {
		h.mu.Lock()
		h.removeLocked(p)
		h.mu.Unlock()
	}()

	for {
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("peer read failed", "err", err)
			}
			return
		}
		h.handle(ctx, p, f)
	}
}

func (h *Hub) handle(ctx context.Context, p *peer, f Frame) {
	switch f.Type {
	case FrameSubscribe:
		h.subscribe(ctx, p, f.Key)
	case FrameUnsubscribe:
		h.mu.Lock()
		delete(p.keys, f.Key)
		delete(h.subs[f.Key], p)
		h.mu.Unlock()
	case FramePush:
		if f.Doc == nil || !json.Valid(f.Doc.Value) {
			h.reply(p, Frame{Type: FrameError, Key: f.Key, Error: "push requires a JSON doc.value"})
			return
		}
		if err := h.Put(ctx, f.Key, f.Doc.Value, f.Origin); err != nil {
			h.logger.Error("document write failed", "key", f.Key, "err", err)
			h.reply(p, Frame{Type: FrameError, Key: f.Key, Error: "write failed"})
		}
	default:
		h.reply(p, Frame{Type: FrameError, Key: f.Key, Error: "unknown frame type " + string(f.Type)})
	}
}

// subscribe registers p for key and sends the current document, if any.
// Holding the hub lock across the read keeps the initial value ordered
// before any later change.
func (h *Hub) subscribe(ctx context.Context, p *peer, key string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.peers[p]; !ok {
		return
	}
	if h.subs[key] == nil {
		h.subs[key] = make(map[*peer]struct{})
	}
	h.subs[key][p] = struct{}{}
	p.keys[key] = struct{}{}

	value, ok, err := h.store.GetDocument(ctx, key)
	if err != nil {
		h.logger.Error("document read failed", "key", key, "err", err)
		h.enqueueLocked(p, Frame{Type: FrameError, Key: key, Error: "read failed"})
		return
	}
	if ok {
		h.enqueueLocked(p, Frame{Type: FrameChange, Key: key, Doc: &Document{Value: value}})
	}
}

func (h *Hub) reply(p *peer, f Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.peers[p]; ok {
		h.enqueueLocked(p, f)
	}
}

func (h *Hub) removeLocked(p *peer) {
	if _, ok := h.peers[p]; !ok {
		return
	}
	delete(h.peers, p)
	for k := range p.keys {
		delete(h.subs[k], p)
		if len(h.subs[k]) == 0 {
			delete(h.subs, k)
		}
	}
	close(p.send)
	observability.MirrorServerClients.Set(float64(len(h.peers)))
}

func (h *Hub) writeLoop(p *peer) {
	defer p.conn.Close()
	for f := range p.send {
		p.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := p.conn.WriteJSON(f); err != nil {
			h.logger.Debug("peer write failed", "err", err)
			return
		}
	}
	p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = p.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
