package tools

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

// timedVoice finishes on its own after the buffer duration unless stopped.
type timedVoice struct {
	once    sync.Once
	done    chan struct{}
	timers  []*time.Timer
	onStop  func()
	stopped bool
	mu      sync.Mutex
}

func newTimedVoice() *timedVoice {
	return &timedVoice{done: make(chan struct{})}
}

func (v *timedVoice) finish() {
	v.once.Do(func() { close(v.done) })
}

func (v *timedVoice) Stop() {
	v.mu.Lock()
	if v.stopped {
		v.mu.Unlock()
		return
	}
	v.stopped = true
	for _, t := range v.timers {
		t.Stop()
	}
	onStop := v.onStop
	v.mu.Unlock()
	if onStop != nil {
		onStop()
	}
	v.finish()
}

func (v *timedVoice) Done() <-chan struct{} {
	return v.done
}

// NullOutput keeps the output clock and voice lifetimes without producing
// sound. It backs text-only terminals where no audio device exists.
type NullOutput struct {
	start      time.Time
	sampleRate int
}

func NewNullOutput(sampleRate int) *NullOutput {
	return &NullOutput{start: time.Now(), sampleRate: sampleRate}
}

func (o *NullOutput) Now() time.Duration {
	return time.Since(o.start)
}

func (o *NullOutput) Schedule(at time.Duration, channels [][]float32) (Voice, error) {
	if len(channels) == 0 {
		return nil, fmt.Errorf("no channels to schedule")
	}
	v := newTimedVoice()
	end := at + SamplesDuration(len(channels[0]), o.sampleRate) - o.Now()
	v.mu.Lock()
	v.timers = append(v.timers, time.AfterFunc(max(end, 0), v.finish))
	v.mu.Unlock()
	return v, nil
}

func (o *NullOutput) Suspend() error { return nil }

// SpeakerOutput plays scheduled buffers through the default output device.
// oto allows a single context per process, so one SpeakerOutput is created at
// startup and suspended between sessions.
type SpeakerOutput struct {
	ctx        *oto.Context
	start      time.Time
	sampleRate int
	channels   int

	mu        sync.Mutex
	suspended bool
}

func NewSpeakerOutput(sampleRate, channels int, buffer time.Duration) (*SpeakerOutput, error) {
	otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   buffer,
	})
	if err != nil {
		return nil, fmt.Errorf("creating oto context: %w", err)
	}
	<-ready
	return &SpeakerOutput{
		ctx:        otoCtx,
		start:      time.Now(),
		sampleRate: sampleRate,
		channels:   channels,
	}, nil
}

func (o *SpeakerOutput) Now() time.Duration {
	return time.Since(o.start)
}

func (o *SpeakerOutput) Schedule(at time.Duration, channels [][]float32) (Voice, error) {
	if len(channels) != o.channels {
		return nil, fmt.Errorf("expected %d channel(s), got %d", o.channels, len(channels))
	}
	if err := o.resume(); err != nil {
		return nil, err
	}
	player := o.ctx.NewPlayer(bytes.NewReader(FloatToPCM16(Interleave(channels))))
	v := newTimedVoice()
	v.onStop = func() {
		player.Pause()
		_ = player.Close()
	}
	delay := max(at-o.Now(), 0)
	duration := SamplesDuration(len(channels[0]), o.sampleRate)
	v.mu.Lock()
	v.timers = append(v.timers,
		time.AfterFunc(delay, player.Play),
		time.AfterFunc(delay+duration, func() {
			_ = player.Close()
			v.finish()
		}),
	)
	v.mu.Unlock()
	return v, nil
}

func (o *SpeakerOutput) resume() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.suspended {
		return nil
	}
	if err := o.ctx.Resume(); err != nil {
		return fmt.Errorf("resuming oto context: %w", err)
	}
	o.suspended = false
	return nil
}

// Suspend releases the device until the next Schedule.
func (o *SpeakerOutput) Suspend() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.suspended {
		return nil
	}
	if err := o.ctx.Suspend(); err != nil {
		return fmt.Errorf("suspending oto context: %w", err)
	}
	o.suspended = true
	return nil
}
