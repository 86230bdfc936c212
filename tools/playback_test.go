package tools

import (
	"sync"
	"testing"
	"time"

	"github.com/bt-bridge/worldsend-live/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeVoice struct {
	at      time.Duration
	frames  int
	once    sync.Once
	done    chan struct{}
	stopped bool
}

func (v *fakeVoice) Stop() {
	v.stopped = true
	v.finish()
}

func (v *fakeVoice) finish() { v.once.Do(func() { close(v.done) }) }

func (v *fakeVoice) Done() <-chan struct{} { return v.done }

type fakeOutput struct {
	mu     sync.Mutex
	now    time.Duration
	voices []*fakeVoice
}

func (o *fakeOutput) Now() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now
}

func (o *fakeOutput) advance(d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.now += d
}

func (o *fakeOutput) Schedule(at time.Duration, channels [][]float32) (Voice, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	v := &fakeVoice{at: at, frames: len(channels[0]), done: make(chan struct{})}
	o.voices = append(o.voices, v)
	return v, nil
}

// pcmFor returns a mono payload lasting d at the playback rate.
func pcmFor(d time.Duration) []byte {
	return make([]byte, 2*FrameSamples(d, PlaybackSampleRate, 1))
}

func newTestPlayback(t *testing.T) (*Playback, *fakeOutput) {
	t.Helper()
	out := &fakeOutput{}
	p, err := NewPlayback(shared.NewNopLogger(), out, PlaybackSampleRate, 1)
	require.NoError(t, err)
	return p, out
}

func TestPlaybackSchedulesGapless(t *testing.T) {
	p, out := newTestPlayback(t)
	out.advance(time.Second)

	require.NoError(t, p.Enqueue(pcmFor(500*time.Millisecond)))
	require.NoError(t, p.Enqueue(pcmFor(250*time.Millisecond)))
	require.NoError(t, p.Enqueue(pcmFor(100*time.Millisecond)))

	require.Len(t, out.voices, 3)
	assert.Equal(t, time.Second, out.voices[0].at)
	assert.Equal(t, 1500*time.Millisecond, out.voices[1].at)
	assert.Equal(t, 1750*time.Millisecond, out.voices[2].at)
	assert.Equal(t, 1850*time.Millisecond, p.NextStart())
	assert.Equal(t, 3, p.Active())
}

func TestPlaybackNeverSchedulesInThePast(t *testing.T) {
	p, out := newTestPlayback(t)

	require.NoError(t, p.Enqueue(pcmFor(100*time.Millisecond)))
	out.advance(2 * time.Second)
	require.NoError(t, p.Enqueue(pcmFor(100*time.Millisecond)))

	require.Len(t, out.voices, 2)
	assert.Equal(t, time.Duration(0), out.voices[0].at)
	assert.Equal(t, 2*time.Second, out.voices[1].at)
}

func TestPlaybackRemovesFinishedVoices(t *testing.T) {
	p, out := newTestPlayback(t)
	require.NoError(t, p.Enqueue(pcmFor(100*time.Millisecond)))
	require.NoError(t, p.Enqueue(pcmFor(100*time.Millisecond)))

	out.voices[0].finish()
	assert.Eventually(t, func() bool { return p.Active() == 1 }, time.Second, time.Millisecond)
}

func TestPlaybackInterrupt(t *testing.T) {
	p, out := newTestPlayback(t)
	require.NoError(t, p.Enqueue(pcmFor(time.Second)))
	require.NoError(t, p.Enqueue(pcmFor(time.Second)))
	out.advance(300 * time.Millisecond)

	p.Interrupt()

	assert.Zero(t, p.Active())
	for _, v := range out.voices {
		assert.True(t, v.stopped)
	}
	assert.Equal(t, 300*time.Millisecond, p.NextStart())

	out.advance(50 * time.Millisecond)
	require.NoError(t, p.Enqueue(pcmFor(100*time.Millisecond)))
	last := out.voices[len(out.voices)-1]
	assert.GreaterOrEqual(t, last.at, out.Now()-1)
	assert.Equal(t, 350*time.Millisecond, last.at)
}

func TestPlaybackDropsMalformedChunk(t *testing.T) {
	p, out := newTestPlayback(t)
	var malformed *shared.MalformedAudioError
	assert.ErrorAs(t, p.Enqueue([]byte{1, 2, 3}), &malformed)
	assert.Empty(t, out.voices)

	require.NoError(t, p.Enqueue(nil))
	assert.Empty(t, out.voices)
}

func TestNullOutputVoiceFinishes(t *testing.T) {
	out := NewNullOutput(PlaybackSampleRate)
	v, err := out.Schedule(out.Now(), [][]float32{make([]float32, 240)})
	require.NoError(t, err)
	select {
	case <-v.Done():
	case <-time.After(time.Second):
		t.Fatal("voice did not finish")
	}

	v, err = out.Schedule(out.Now()+time.Hour, [][]float32{make([]float32, 240)})
	require.NoError(t, err)
	v.Stop()
	select {
	case <-v.Done():
	default:
		t.Fatal("stopped voice is not done")
	}
}
