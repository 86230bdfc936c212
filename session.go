package live

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bt-bridge/worldsend-live/shared"
	"github.com/bt-bridge/worldsend-live/tools"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// AudioOutput is the playback sink of a session; Suspend releases the device
// when the session ends.
type AudioOutput interface {
	tools.Output
	Suspend() error
}

// Session scopes one live connection and everything it acquired: the
// transport, the microphone, the camera, the context-bound capture timers
// and the audio output. release tears all of them down exactly once on any
// exit path.
type Session struct {
	ID     uuid.UUID
	Params ConnectParams

	logger    shared.LoggerAdapter
	transport Transport
	mic       tools.AudioSource
	cam       tools.FrameSource
	output    AudioOutput
	capture   *tools.Capture
	playback  *tools.Playback

	ctx    context.Context
	cancel context.CancelCauseFunc
	group  *errgroup.Group

	releaseOnce sync.Once
	released    chan struct{}
}

func newSession(
	ctx context.Context,
	logger shared.LoggerAdapter,
	params ConnectParams,
	transport Transport,
	mic tools.AudioSource,
	cam tools.FrameSource,
	output AudioOutput,
	capture *tools.Capture,
	playback *tools.Playback,
) *Session {
	id := uuid.New()
	ctx, cancel := context.WithCancelCause(ctx)
	group, ctx := errgroup.WithContext(ctx)
	return &Session{
		ID:        id,
		Params:    params,
		logger:    logger.With(zap.String("session_id", id.String())),
		transport: transport,
		mic:       mic,
		cam:       cam,
		output:    output,
		capture:   capture,
		playback:  playback,
		ctx:       ctx,
		cancel:    cancel,
		group:     group,
		released:  make(chan struct{}),
	}
}

func (s *Session) Context() context.Context {
	return s.ctx
}

func (s *Session) Playback() *tools.Playback {
	return s.playback
}

func (s *Session) Capture() *tools.Capture {
	return s.capture
}

// Go runs fn in the session group; the first error cancels the session
// context.
func (s *Session) Go(fn func(ctx context.Context) error) {
	s.group.Go(func() error { return fn(s.ctx) })
}

// Released is closed once every resource has been released.
func (s *Session) Released() <-chan struct{} {
	return s.released
}

// Wait blocks until every session goroutine has returned. It must not be
// called from one of them.
func (s *Session) Wait() error {
	return s.group.Wait()
}

func (s *Session) release(cause error) {
	s.releaseOnce.Do(func() {
		defer close(s.released)
		if cause == nil {
			cause = errors.New("session released")
		}
		s.cancel(cause)

		var errs []error
		if err := s.transport.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing transport: %w", err))
		}
		if err := s.mic.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing microphone: %w", err))
		}
		if s.cam != nil {
			if err := s.cam.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing camera: %w", err))
			}
		}
		s.playback.Interrupt()
		if err := s.output.Suspend(); err != nil {
			errs = append(errs, fmt.Errorf("suspending audio output: %w", err))
		}
		if err := errors.Join(errs...); err != nil {
			s.logger.Error("releasing session resources", err)
		}
		s.logger.Info("session released", zap.NamedError("cause", cause))
	})
}
