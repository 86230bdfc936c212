package tools

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/bt-bridge/worldsend-live/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMic struct {
	mu     sync.Mutex
	reads  [][]float32
	closed bool
}

func (m *fakeMic) Read() ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || len(m.reads) == 0 {
		return nil, io.EOF
	}
	next := m.reads[0]
	m.reads = m.reads[1:]
	return next, nil
}

func (m *fakeMic) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

type fakeCam struct {
	frame image.Image
	err   error
	reads int
	mu    sync.Mutex
}

func (c *fakeCam) Read() (image.Image, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads++
	return c.frame, c.err
}

func (c *fakeCam) Close() error { return nil }

func constant(v float32, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestNewCaptureValidates(t *testing.T) {
	_, err := NewCapture(nil, &fakeMic{}, nil, CaptureConfig{})
	assert.ErrorIs(t, err, shared.ErrNoLogger)

	_, err = NewCapture(shared.NewNopLogger(), nil, nil, CaptureConfig{})
	assert.Error(t, err)
}

func TestCaptureAudioEmitsBlocks(t *testing.T) {
	mic := &fakeMic{reads: [][]float32{
		constant(0.5, 3000),
		constant(0.5, 3000),
		constant(0.25, 2192),
	}}
	var volumes []float64
	capture, err := NewCapture(shared.NewNopLogger(), mic, nil, CaptureConfig{
		OnVolume: func(v float64) { volumes = append(volumes, v) },
	})
	require.NoError(t, err)

	require.NoError(t, capture.RunAudio(context.Background()))

	var chunks []Chunk
	for len(capture.Chunks()) > 0 {
		chunks = append(chunks, <-capture.Chunks())
	}
	require.Len(t, chunks, 2)
	for _, c := range chunks {
		assert.Equal(t, AudioMIMEType, c.MIMEType)
		assert.Len(t, c.Data, 2*CaptureBlockSize)
	}
	require.Len(t, volumes, 2)
	assert.InDelta(t, 0.5, volumes[0], 1e-6)
	assert.Less(t, volumes[1], 0.5)
	assert.InDelta(t, volumes[1], capture.Volume(), 1e-12)
}

func TestCaptureNeverBlocksOnFullQueue(t *testing.T) {
	reads := make([][]float32, 10)
	for i := range reads {
		reads[i] = constant(0.1, CaptureBlockSize)
	}
	capture, err := NewCapture(shared.NewNopLogger(), &fakeMic{reads: reads}, nil, CaptureConfig{QueueSize: 2})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- capture.RunAudio(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("capture loop blocked on a full queue")
	}
	assert.Len(t, capture.Chunks(), 2)
	assert.Equal(t, int64(8), capture.Dropped())
}

func TestCaptureAudioPropagatesDeviceErrors(t *testing.T) {
	capture, err := NewCapture(shared.NewNopLogger(), errMic{}, nil, CaptureConfig{})
	require.NoError(t, err)
	assert.Error(t, capture.RunAudio(context.Background()))
}

type errMic struct{}

func (errMic) Read() ([]float32, error) { return nil, errors.New("device unplugged") }
func (errMic) Close() error             { return nil }

func TestCaptureVideoWithoutCameraReturnsImmediately(t *testing.T) {
	capture, err := NewCapture(shared.NewNopLogger(), &fakeMic{}, nil, CaptureConfig{})
	require.NoError(t, err)
	assert.False(t, capture.HasVideo())
	assert.NoError(t, capture.RunVideo(context.Background()))
	assert.Len(t, capture.Chunks(), 0)
}

func TestCaptureVideoSamplesFrames(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 640, 480))
	for y := 0; y < 480; y++ {
		for x := 0; x < 640; x++ {
			src.Set(x, y, color.RGBA{R: 200, A: 255})
		}
	}
	cam := &fakeCam{frame: src}
	capture, err := NewCapture(shared.NewNopLogger(), &fakeMic{}, cam, CaptureConfig{FrameInterval: 10 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- capture.RunVideo(ctx) }()

	var chunk Chunk
	select {
	case chunk = <-capture.Chunks():
	case <-time.After(2 * time.Second):
		t.Fatal("no frame sampled")
	}
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, ImageMIMEType, chunk.MIMEType)
	img, err := jpeg.Decode(bytes.NewReader(chunk.Data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, FrameWidth, FrameHeight), img.Bounds())
}

func TestCaptureVideoSkipsFailedFrames(t *testing.T) {
	cam := &fakeCam{err: errors.New("frame timeout")}
	capture, err := NewCapture(shared.NewNopLogger(), &fakeMic{}, cam, CaptureConfig{FrameInterval: 5 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	require.NoError(t, capture.RunVideo(ctx))

	cam.mu.Lock()
	defer cam.mu.Unlock()
	assert.Greater(t, cam.reads, 1)
	assert.Len(t, capture.Chunks(), 0)
}

func TestEncodeFrameRejectsNil(t *testing.T) {
	_, err := EncodeFrame(nil)
	assert.Error(t, err)
}
