package tools

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bt-bridge/worldsend-live/shared"
	"go.uber.org/zap"
)

// Output is an audio sink with its own monotonic clock. Schedule starts the
// given per-channel samples at the clock offset at.
type Output interface {
	Now() time.Duration
	Schedule(at time.Duration, channels [][]float32) (Voice, error)
}

// Voice is one scheduled buffer. Done is closed when it finishes or is stopped.
type Voice interface {
	Stop()
	Done() <-chan struct{}
}

// Playback turns inbound PCM16 chunks into gapless sequential speech.
type Playback struct {
	logger     shared.LoggerAdapter
	out        Output
	sampleRate int
	channels   int

	mu     sync.Mutex
	next   time.Duration
	active map[Voice]struct{}
}

func NewPlayback(logger shared.LoggerAdapter, out Output, sampleRate, channels int) (*Playback, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if out == nil {
		return nil, errors.New("output is required")
	}
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("invalid playback format: %d Hz, %d channel(s)", sampleRate, channels)
	}
	return &Playback{
		logger:     logger,
		out:        out,
		sampleRate: sampleRate,
		channels:   channels,
		active:     make(map[Voice]struct{}),
	}, nil
}

// Enqueue schedules payload right after everything already scheduled, and
// never earlier than the output clock.
func (p *Playback) Enqueue(payload []byte) error {
	pcm, err := PCM16ToFloat(payload, p.channels)
	if err != nil {
		return err
	}
	frames := len(pcm[0])
	if frames == 0 {
		return nil
	}
	duration := SamplesDuration(frames, p.sampleRate)

	p.mu.Lock()
	defer p.mu.Unlock()
	start := max(p.out.Now(), p.next)
	voice, err := p.out.Schedule(start, pcm)
	if err != nil {
		return fmt.Errorf("scheduling playback: %w", err)
	}
	p.next = start + duration
	p.active[voice] = struct{}{}
	go p.reap(voice)
	p.logger.Trace("scheduled playback chunk",
		zap.Duration("start", start),
		zap.Duration("duration", duration),
		zap.Int("active", len(p.active)),
	)
	return nil
}

func (p *Playback) reap(voice Voice) {
	<-voice.Done()
	p.mu.Lock()
	delete(p.active, voice)
	p.mu.Unlock()
}

// Interrupt stops every active voice and restarts scheduling from now.
func (p *Playback) Interrupt() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for voice := range p.active {
		voice.Stop()
	}
	stopped := len(p.active)
	clear(p.active)
	p.next = p.out.Now()
	p.logger.Debug("playback interrupted", zap.Int("stopped", stopped))
}

func (p *Playback) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

func (p *Playback) NextStart() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.next
}
