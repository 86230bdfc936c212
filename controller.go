package live

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bt-bridge/worldsend-live/game"
	"github.com/bt-bridge/worldsend-live/settings"
	"github.com/bt-bridge/worldsend-live/shared"
	"github.com/bt-bridge/worldsend-live/tools"
	"go.uber.org/zap"
)

const (
	MicrophoneDeniedNotice = "Microphone Access Denied. Live analysis disabled."
	CameraDeniedNotice     = "Camera access denied. Object proof-of-life disabled."
	TransportFailedNotice  = "Live link failed. Continue in text."
	LinkClosedNotice       = "LINK OFFLINE. Text protocol remains active."
)

// Notice is a user-relevant message from the live path. Err is set when the
// notice reports a failure.
type Notice struct {
	Kind    shared.NoticeKind
	Message string
	Err     error
}

// Dialer creates a fresh transport for each session.
type Dialer func(ctx context.Context) (Transport, error)

type ControllerConfig struct {
	Model         string
	FrameInterval time.Duration
	OnVolume      func(float64)
	OnNotice      func(Notice)
	OnLink        func(active bool)
}

// Controller drives live sessions. Inbound events are applied to the game
// store and the settings manager in delivery order from a single goroutine.
type Controller struct {
	logger   shared.LoggerAdapter
	dial     Dialer
	devices  tools.Devices
	output   AudioOutput
	game     *game.Store
	settings *settings.Manager
	cfg      ControllerConfig

	mu      sync.Mutex
	state   ClientState
	session *Session
}

func NewController(
	logger shared.LoggerAdapter,
	dial Dialer,
	devices tools.Devices,
	output AudioOutput,
	store *game.Store,
	manager *settings.Manager,
	cfg ControllerConfig,
) (*Controller, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if dial == nil || devices == nil || output == nil {
		return nil, shared.ErrClientNotInitialized
	}
	if store == nil || manager == nil {
		return nil, shared.ErrNoStore
	}
	return &Controller{
		logger:   logger,
		dial:     dial,
		devices:  devices,
		output:   output,
		game:     store,
		settings: manager,
		cfg:      cfg,
	}, nil
}

func (c *Controller) State() ClientState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) LinkActive() bool {
	return c.State() == ClientStateOpen
}

// Session returns the open session, if any.
func (c *Controller) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *Controller) notify(n Notice) {
	if c.cfg.OnNotice != nil {
		c.cfg.OnNotice(n)
	}
}

func (c *Controller) setLink(active bool) {
	if c.cfg.OnLink != nil {
		c.cfg.OnLink(active)
	}
}

// Connect opens a live session. Every failure is logged and reported as a
// notice; the returned error is informational and never fatal to the trial.
func (c *Controller) Connect(ctx context.Context, params ConnectParams) error {
	c.mu.Lock()
	if c.state == ClientStateConnecting || c.state == ClientStateOpen {
		c.mu.Unlock()
		return shared.ErrSessionAlreadyRunning
	}
	c.state = ClientStateConnecting
	c.mu.Unlock()

	s, err := c.open(ctx, params)
	if err != nil {
		c.mu.Lock()
		c.state = ClientStateClosed
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	c.session = s
	c.state = ClientStateOpen
	c.mu.Unlock()
	c.setLink(true)

	s.Go(s.capture.RunAudio)
	s.Go(s.capture.RunVideo)
	s.Go(func(ctx context.Context) error { return c.sendLoop(ctx, s) })
	s.Go(func(ctx context.Context) error { return c.eventLoop(ctx, s) })
	go c.supervise(s)
	s.logger.Info("live session started",
		zap.String("persona", string(params.Persona)),
		zap.String("language", params.Language.Code),
		zap.Bool("video", s.capture.HasVideo()),
	)
	return nil
}

func (c *Controller) open(ctx context.Context, params ConnectParams) (*Session, error) {
	mic, err := c.devices.OpenMicrophone()
	if err != nil {
		c.logger.Error("opening microphone", err)
		c.notify(Notice{Kind: shared.NoticeWarning, Message: MicrophoneDeniedNotice, Err: err})
		return nil, err
	}
	cam, err := c.devices.OpenCamera()
	if err != nil {
		c.logger.Warn("camera unavailable, continuing without video", zap.Error(err))
		c.notify(Notice{Kind: shared.NoticeInfo, Message: CameraDeniedNotice, Err: err})
		cam = nil
	}
	closeDevices := func() {
		_ = mic.Close()
		if cam != nil {
			_ = cam.Close()
		}
	}

	capture, err := tools.NewCapture(c.logger, mic, cam, tools.CaptureConfig{
		FrameInterval: c.cfg.FrameInterval,
		OnVolume:      c.cfg.OnVolume,
	})
	if err != nil {
		closeDevices()
		return nil, fmt.Errorf("creating capture: %w", err)
	}
	playback, err := tools.NewPlayback(c.logger, c.output, tools.PlaybackSampleRate, 1)
	if err != nil {
		closeDevices()
		return nil, fmt.Errorf("creating playback: %w", err)
	}

	transport, err := c.dial(ctx)
	if err != nil {
		closeDevices()
		return nil, c.transportFailure("dial", err)
	}
	if err := transport.Start(BuildSetup(c.cfg.Model, params)); err != nil {
		_ = transport.Close()
		closeDevices()
		return nil, c.transportFailure("start", err)
	}
	return newSession(ctx, c.logger, params, transport, mic, cam, c.output, capture, playback), nil
}

func (c *Controller) transportFailure(op string, err error) error {
	var te *shared.TransportError
	if !errors.As(err, &te) {
		err = &shared.TransportError{Op: op, Err: err}
	}
	c.logger.Error("live connection failed", err)
	c.notify(Notice{Kind: shared.NoticeWarning, Message: TransportFailedNotice, Err: err})
	return err
}

// supervise tears the session down once its context ends, whether a session
// goroutine failed or the context passed to Connect was cancelled.
func (c *Controller) supervise(s *Session) {
	<-s.ctx.Done()
	c.teardown(s, context.Cause(s.ctx))
	if err := s.Wait(); err != nil {
		s.logger.Debug("session goroutines stopped", zap.Error(err))
	}
}

// Close tears down the open session, if any.
func (c *Controller) Close() {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s != nil {
		c.teardown(s, errors.New("closed locally"))
	}
}

// teardown never waits for the session goroutines, so it may run on the
// event loop itself.
func (c *Controller) teardown(s *Session, cause error) {
	c.mu.Lock()
	current := c.session == s
	if current {
		c.session = nil
		c.state = ClientStateClosed
	}
	c.mu.Unlock()
	s.release(cause)
	if current {
		c.setLink(false)
	}
}

func (c *Controller) sendLoop(ctx context.Context, s *Session) error {
	chunks := s.capture.Chunks()
	for {
		select {
		case <-ctx.Done():
			return nil
		case chunk := <-chunks:
			if err := s.transport.SendRealtimeInput(chunk); err != nil {
				if errors.Is(err, shared.ErrSessionClosed) {
					return nil
				}
				s.logger.Warn("sending realtime input", zap.Error(err), zap.String("mime_type", chunk.MIMEType))
			}
		}
	}
}

func (c *Controller) eventLoop(ctx context.Context, s *Session) error {
	events := s.transport.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				c.teardown(s, errors.New("event stream ended"))
				return nil
			}
			if closed := c.handle(ctx, s, ev); closed {
				return nil
			}
		}
	}
}

// handle applies one inbound event and reports whether the channel closed.
func (c *Controller) handle(ctx context.Context, s *Session, ev Event) bool {
	switch e := ev.(type) {
	case ToolCallEvent:
		for _, call := range e.Calls {
			c.applyToolCall(ctx, s, call)
		}
	case AudioEvent:
		if err := s.playback.Enqueue(e.Data); err != nil {
			s.logger.Warn("dropping audio chunk", zap.Error(err), zap.Int("bytes", len(e.Data)))
		}
	case TextEvent:
		c.notify(Notice{Kind: shared.NoticeArbiter, Message: e.Text})
	case TurnCompleteEvent:
		next := c.game.Update(game.State.CompleteTurn)
		s.logger.Debug("turn complete", zap.Int("turn", next.Turn), zap.String("status", string(next.Status)))
	case InterruptedEvent:
		s.playback.Interrupt()
	case ToolCallCancellationEvent:
		s.logger.Debug("tool calls cancelled", zap.Strings("ids", e.IDs))
	case GoAwayEvent:
		s.logger.Warn("server going away", zap.String("time_left", e.TimeLeft))
	case CloseEvent:
		if e.Err != nil {
			s.logger.Error("live channel closed", e.Err)
		}
		c.notify(Notice{Kind: shared.NoticeInfo, Message: LinkClosedNotice, Err: e.Err})
		c.teardown(s, e.Err)
		return true
	case SetupCompleteEvent:
	default:
		s.logger.Warn("unhandled live event", zap.String("type", string(ev.EventType())))
	}
	return false
}

// applyToolCall applies one call and acknowledges it before the next call is
// looked at, so acknowledgements keep the order of the calls.
func (c *Controller) applyToolCall(ctx context.Context, s *Session, call FunctionCall) {
	if call.Name == UpdateGameStateFunction {
		update := call.GameUpdate()
		next := c.game.Update(func(st game.State) game.State { return st.ApplyToolUpdate(update) })
		if update.XPGain != 0 {
			if _, err := c.settings.Update(ctx, func(cur settings.Settings) (settings.Settings, error) {
				return cur.AddXP(max(update.XPGain, -cur.XP)), nil
			}); err != nil {
				s.logger.Error("applying xp gain", err)
			}
		}
		s.logger.Debug("game state updated by tool call",
			zap.String("call_id", call.ID),
			zap.Int("tension", next.Tension),
			zap.String("persona", string(next.Persona)),
			zap.String("scavenge", next.ScavengeTarget),
		)
	} else {
		s.logger.Warn("unknown tool call", zap.String("name", call.Name), zap.String("call_id", call.ID))
	}
	if err := s.transport.SendToolResponse(Acknowledge(call)); err != nil {
		s.logger.Error("acknowledging tool call", err, zap.String("call_id", call.ID))
	}
}
