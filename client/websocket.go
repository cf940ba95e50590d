package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// EventHandler is called for each event received over the WebSocket.
type EventHandler func(event Event)

// WSClient subscribes one agent to its project's event stream. Events for
// the whole project are delivered; agent-targeted events arrive only on the
// named agent's connections.
type WSClient struct {
	baseURL   string
	project   string
	agent     string
	apiKey    string
	reconnect bool

	mu       sync.RWMutex
	conn     *websocket.Conn
	handlers []EventHandler

	done     chan struct{}
	doneOnce sync.Once
}

// WSOption configures the WebSocket client.
type WSOption func(*WSClient)

// WithWSAPIKey sets the bearer key for remote connections.
func WithWSAPIKey(key string) WSOption {
	return func(c *WSClient) {
		c.apiKey = key
	}
}

// WithAutoReconnect toggles redialing with backoff after a dropped
// connection. On by default.
func WithAutoReconnect(enabled bool) WSOption {
	return func(c *WSClient) {
		c.reconnect = enabled
	}
}

// NewWSClient creates a subscriber for the given project and agent. Both are
// required; the gateway refuses unscoped connections.
func NewWSClient(baseURL, project, agent string, opts ...WSOption) *WSClient {
	c := &WSClient{
		baseURL:   baseURL,
		project:   project,
		agent:     agent,
		done:      make(chan struct{}),
		reconnect: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnEvent registers a handler. Register before Connect to avoid missing
// events.
func (c *WSClient) OnEvent(handler EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, handler)
}

// Connect dials the gateway and starts reading events.
func (c *WSClient) Connect(ctx context.Context) error {
	if c.project == "" || c.agent == "" {
		return fmt.Errorf("project and agent required")
	}

	wsURL, err := c.buildWSURL()
	if err != nil {
		return fmt.Errorf("build websocket url: %w", err)
	}

	header := http.Header{}
	header.Set("X-Agent-ID", c.agent)
	if c.apiKey != "" {
		header.Set("Authorization", "Bearer "+c.apiKey)
	}

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop(ctx, conn)
	return nil
}

// Close stops reading and closes the connection. Safe to call more than
// once.
func (c *WSClient) Close() error {
	c.doneOnce.Do(func() { close(c.done) })

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client closing")
	}
	return nil
}

func (c *WSClient) buildWSURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws/agents/" + c.agent
	q := u.Query()
	q.Set("project", c.project)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// readLoop reads one connection until it drops. On a drop it either hands
// off to redial, which starts a fresh loop, or returns.
func (c *WSClient) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		default:
		}

		var event Event
		if err := wsjson.Read(ctx, conn, &event); err != nil {
			if c.reconnect {
				select {
				case <-c.done:
				case <-ctx.Done():
				default:
					c.redial(ctx)
				}
			}
			return
		}
		c.dispatch(event)
	}
}

func (c *WSClient) dispatch(event Event) {
	c.mu.RLock()
	handlers := make([]EventHandler, len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}

func (c *WSClient) redial(ctx context.Context) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		if err := c.Connect(ctx); err == nil {
			return
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// EventFilter narrows a handler to matching events.
type EventFilter struct {
	Types   []string
	Project string
	Agent   string
}

// FilteredEventHandler wraps handler so it only fires for events matching
// the filter.
func FilteredEventHandler(filter EventFilter, handler EventHandler) EventHandler {
	return func(event Event) {
		if len(filter.Types) > 0 {
			matched := false
			for _, t := range filter.Types {
				if event.Type == t {
					matched = true
					break
				}
			}
			if !matched {
				return
			}
		}
		if filter.Project != "" && event.Project != filter.Project {
			return
		}
		if filter.Agent != "" && event.Agent != filter.Agent {
			return
		}
		handler(event)
	}
}
