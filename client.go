package live

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/bt-bridge/worldsend-live/shared"
	"github.com/bt-bridge/worldsend-live/tools"
	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

const (
	bidiPath = "/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	DefaultSetupTimeout = 15 * time.Second
	eventQueueSize      = 64
	closeGracePeriod    = time.Second
)

type ClientState int

const (
	ClientStateDisconnected ClientState = iota
	ClientStateConnecting
	ClientStateOpen
	ClientStateClosed
)

func (s ClientState) String() string {
	switch s {
	case ClientStateDisconnected:
		return "disconnected"
	case ClientStateConnecting:
		return "connecting"
	case ClientStateOpen:
		return "open"
	case ClientStateClosed:
		return "closed"
	default:
		return fmt.Sprintf("ClientState(%d)", int(s))
	}
}

// Transport is the live channel as the Controller sees it.
type Transport interface {
	Start(setup *Setup) error
	Events() <-chan Event
	SendRealtimeInput(chunks ...tools.Chunk) error
	SendToolResponse(responses ...*genai.FunctionResponse) error
	Close() error
}

// Client is a single-use websocket connection to the Live API.
type Client struct {
	logger       shared.LoggerAdapter
	baseURL      *url.URL
	apiKey       string
	dialer       *websocket.Dialer
	setupTimeout time.Duration

	mu    sync.Mutex
	state ClientState
	conn  *websocket.Conn

	writeMu sync.Mutex
	events  chan Event

	ctx    context.Context
	cancel context.CancelCauseFunc
}

var _ Transport = (*Client)(nil)

func NewClient(ctx context.Context, logger shared.LoggerAdapter, apikey, baseUrl string) (c *Client, err error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if apikey == "" {
		return nil, shared.ErrNoAPIKey
	}
	var baseUrl_ *url.URL
	if baseUrl != "" {
		baseUrl_, err = url.Parse(baseUrl)
		if err != nil {
			return nil, fmt.Errorf("parsing base URL: %w", err)
		}
	} else {
		baseUrl_ = &url.URL{Scheme: "wss", Host: "generativelanguage.googleapis.com"}
	}
	ctx, cancel := context.WithCancelCause(ctx)
	return &Client{
		logger:       logger,
		baseURL:      baseUrl_,
		apiKey:       apikey,
		dialer:       websocket.DefaultDialer,
		setupTimeout: DefaultSetupTimeout,
		events:       make(chan Event, eventQueueSize),
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

func (c *Client) respectCtx() error {
	select {
	case <-c.ctx.Done():
		return context.Cause(c.ctx)
	default:
	}
	return nil
}

func (c *Client) State() ClientState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(state ClientState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logger.Trace("client state changed",
		zap.Stringer("prev", c.state),
		zap.Stringer("new", state),
	)
	c.state = state
}

// Events is closed after the read loop ends; a CloseEvent precedes it unless
// the client was closed locally.
func (c *Client) Events() <-chan Event {
	return c.events
}

func (c *Client) Done() <-chan struct{} {
	return c.ctx.Done()
}

func (c *Client) endpoint() string {
	u := *c.baseURL
	u.Path = bidiPath
	q := u.Query()
	q.Set("key", c.apiKey)
	u.RawQuery = q.Encode()
	return u.String()
}

// Start dials, sends the setup payload and blocks until the server confirms
// it. The read loop starts only once the channel is open.
func (c *Client) Start(setup *Setup) error {
	c.mu.Lock()
	if c.state != ClientStateDisconnected {
		c.mu.Unlock()
		return shared.ErrSessionAlreadyRunning
	}
	if setup == nil {
		c.mu.Unlock()
		return shared.ErrNoConfig
	}
	c.mu.Unlock()
	if err := c.respectCtx(); err != nil {
		return fmt.Errorf("respecting client context: %w", err)
	}
	c.setState(ClientStateConnecting)

	conn, resp, err := c.dialer.DialContext(c.ctx, c.endpoint(), nil)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
		return c.fail(&shared.TransportError{Op: "dial", Err: err})
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	if err := c.write(&setupMessage{Setup: setup}); err != nil {
		return c.fail(err)
	}
	if err := c.awaitSetupComplete(conn); err != nil {
		return c.fail(err)
	}
	c.setState(ClientStateOpen)
	c.logger.Info("live channel open", zap.String("model", setup.Model))
	go c.readLoop(conn)
	return nil
}

func (c *Client) awaitSetupComplete(conn *websocket.Conn) error {
	if err := conn.SetReadDeadline(time.Now().Add(c.setupTimeout)); err != nil {
		return &shared.TransportError{Op: "setup", Err: err}
	}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var netErr interface{ Timeout() bool }
			if errors.As(err, &netErr) && netErr.Timeout() {
				return &shared.TransportError{Op: "setup", Err: shared.ErrSetupTimeout}
			}
			return &shared.TransportError{Op: "setup", Err: err}
		}
		events, err := ParseServerMessage(data)
		if err != nil {
			c.logger.Warn("dropping malformed frame during setup", zap.Error(err))
		}
		for _, ev := range events {
			if ev.EventType() == EventTypeSetupComplete {
				return conn.SetReadDeadline(time.Time{})
			}
		}
	}
}

func (c *Client) fail(err error) error {
	c.cancel(err)
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.state = ClientStateClosed
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	return err
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer close(c.events)
	var closeErr error
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				closeErr = &shared.TransportError{Op: "read", Err: err}
			}
			break
		}
		events, err := ParseServerMessage(data)
		if err != nil {
			c.logger.Warn("dropping malformed frame content", zap.Error(err))
		}
		for _, ev := range events {
			select {
			case c.events <- ev:
			case <-c.ctx.Done():
				return
			}
		}
	}
	c.setState(ClientStateClosed)
	if c.respectCtx() != nil {
		return
	}
	c.logger.Info("live channel closed by remote", zap.Error(closeErr))
	select {
	case c.events <- CloseEvent{Err: closeErr}:
	case <-c.ctx.Done():
	}
}

func (c *Client) write(v any) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling client message: %w", err)
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return shared.ErrSessionClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return &shared.TransportError{Op: "send", Err: err}
	}
	return nil
}

func (c *Client) SendRealtimeInput(chunks ...tools.Chunk) error {
	if c.State() != ClientStateOpen {
		return shared.ErrSessionClosed
	}
	return c.write(newRealtimeInputMessage(chunks...))
}

func (c *Client) SendToolResponse(responses ...*genai.FunctionResponse) error {
	if c.State() != ClientStateOpen {
		return shared.ErrSessionClosed
	}
	msg := new(toolResponseMessage)
	msg.ToolResponse.FunctionResponses = responses
	return c.write(msg)
}

func (c *Client) Close() error {
	c.cancel(errors.New("client closed"))
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.state = ClientStateClosed
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	c.writeMu.Lock()
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeGracePeriod),
	)
	c.writeMu.Unlock()
	if err := conn.Close(); err != nil {
		return fmt.Errorf("closing websocket: %w", err)
	}
	return nil
}
