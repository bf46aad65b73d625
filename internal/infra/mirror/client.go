package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/eden-portal/eden/internal/domain"
	"github.com/eden-portal/eden/internal/infra/observability"
)

// ClientConfig configures the websocket connector.
type ClientConfig struct {
	URL          string        // ws:// or http:// base of the mirror server
	ClientID     string        // default: random UUID
	ReconnectMin time.Duration // first retry delay (default 1s)
	ReconnectMax time.Duration // retry delay cap (default 30s)
	Logger       *slog.Logger
}

// DefaultClientConfig returns production defaults for url.
func DefaultClientConfig(url string) ClientConfig {
	return ClientConfig{
		URL:          url,
		ReconnectMin: time.Second,
		ReconnectMax: 30 * time.Second,
	}
}

// Client implements domain.RemoteMirror over one websocket connection that is
// re-established with exponential backoff. Subscriptions survive reconnects.
type Client struct {
	cfg    ClientConfig
	wsURL  string
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[string]map[int]func(json.RawMessage)
	nextID int
	hooks  map[int]func()
	conn   *websocket.Conn
	state  domain.ConnectionState

	writeMu sync.Mutex

	cancel context.CancelFunc
	done   chan struct{}
}

var (
	_ domain.RemoteMirror    = (*Client)(nil)
	_ domain.ConnectNotifier = (*Client)(nil)
)

// NewClient creates a client. Call Start to connect.
func NewClient(cfg ClientConfig) (*Client, error) {
	wsURL, err := socketURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	if cfg.ClientID == "" {
		cfg.ClientID = uuid.NewString()
	}
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = time.Second
	}
	if cfg.ReconnectMax < cfg.ReconnectMin {
		cfg.ReconnectMax = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		wsURL:  wsURL,
		logger: cfg.Logger.With("component", "mirror", "client_id", cfg.ClientID),
		subs:   make(map[string]map[int]func(json.RawMessage)),
		hooks:  make(map[int]func()),
		state:  domain.MirrorDisconnected,
	}, nil
}

// socketURL turns a base URL into the server's /ws endpoint.
func socketURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse mirror url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported mirror url scheme %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	return u.String(), nil
}

// ID returns the client ID sent as the origin of pushes.
func (c *Client) ID() string { return c.cfg.ClientID }

// State returns the connection state.
func (c *Client) State() domain.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start runs the connect loop until ctx is done or Close is called.
func (c *Client) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	go func() {
		defer close(done)
		c.run(ctx)
	}()
}

func (c *Client) run(ctx context.Context) {
	delay := c.cfg.ReconnectMin
	for {
		c.setState(domain.MirrorConnecting)
		err := c.session(ctx)
		c.setState(domain.MirrorDisconnected)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			c.logger.Warn("mirror connection lost", "err", err, "retry_in", delay)
		}

		observability.MirrorReconnects.Inc()
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
		delay *= 2
		if delay > c.cfg.ReconnectMax {
			delay = c.cfg.ReconnectMax
		}
	}
}

// session dials, resubscribes every key and reads until the connection drops.
func (c *Client) session(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	// Unblock ReadJSON on shutdown.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	c.mu.Lock()
	c.conn = conn
	keys := make([]string, 0, len(c.subs))
	for k := range c.subs {
		keys = append(keys, k)
	}
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
	}()

	for _, k := range keys {
		if err := c.write(conn, Frame{Type: FrameSubscribe, Key: k}); err != nil {
			return err
		}
	}
	c.setState(domain.MirrorConnected)
	c.logger.Info("mirror connected", "url", c.wsURL, "keys", len(keys))
	c.runHooks()

	for {
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			return fmt.Errorf("read: %w", err)
		}
		switch f.Type {
		case FrameChange:
			if f.Doc == nil {
				continue
			}
			c.dispatch(f.Key, f.Doc.Value)
		case FrameError:
			c.logger.Warn("mirror rejected request", "key", f.Key, "err", f.Error)
		}
	}
}

func (c *Client) dispatch(key string, value json.RawMessage) {
	c.mu.Lock()
	fns := make([]func(json.RawMessage), 0, len(c.subs[key]))
	for _, fn := range c.subs[key] {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(value)
	}
}

func (c *Client) setState(s domain.ConnectionState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	if s == domain.MirrorConnected {
		observability.MirrorConnected.Set(1)
	} else {
		observability.MirrorConnected.Set(0)
	}
}

func (c *Client) write(conn *websocket.Conn, f Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(f)
}

// Subscribe registers onChange for key. The server answers a subscribe with
// the current document, if any, so onChange also sees the initial value.
func (c *Client) Subscribe(key string, onChange func(json.RawMessage)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	first := len(c.subs[key]) == 0
	if first {
		c.subs[key] = make(map[int]func(json.RawMessage))
	}
	c.subs[key][id] = onChange
	conn := c.conn
	c.mu.Unlock()

	if first && conn != nil {
		if err := c.write(conn, Frame{Type: FrameSubscribe, Key: key}); err != nil {
			c.logger.Warn("subscribe failed, will retry on reconnect", "key", key, "err", err)
		}
	}

	return func() {
		c.mu.Lock()
		delete(c.subs[key], id)
		last := len(c.subs[key]) == 0
		if last {
			delete(c.subs, key)
		}
		conn := c.conn
		c.mu.Unlock()

		if last && conn != nil {
			_ = c.write(conn, Frame{Type: FrameUnsubscribe, Key: key})
		}
	}
}

// OnConnect registers fn to run after every established connection, once
// all subscriptions have been renewed.
func (c *Client) OnConnect(fn func()) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.hooks[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.hooks, id)
		c.mu.Unlock()
	}
}

func (c *Client) runHooks() {
	c.mu.Lock()
	fns := make([]func(), 0, len(c.hooks))
	for _, fn := range c.hooks {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Push sends value as the document for key. It fails with domain.ErrOffline
// while disconnected; callers do not retry.
func (c *Client) Push(ctx context.Context, key string, value json.RawMessage) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return domain.ErrOffline
	}

	if deadline, ok := ctx.Deadline(); ok {
		c.writeMu.Lock()
		conn.SetWriteDeadline(deadline)
		c.writeMu.Unlock()
		defer func() {
			c.writeMu.Lock()
			conn.SetWriteDeadline(time.Time{})
			c.writeMu.Unlock()
		}()
	}
	if err := c.write(conn, Frame{Type: FramePush, Key: key, Doc: &Document{Value: value}, Origin: c.cfg.ClientID}); err != nil {
		return fmt.Errorf("push %s: %w", key, err)
	}
	return nil
}

// Close stops the connect loop and waits for it to exit.
func (c *Client) Close() error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}
