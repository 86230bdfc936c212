package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"math"
	"sync/atomic"
	"time"

	"github.com/bt-bridge/worldsend-live/shared"
	"go.uber.org/zap"
	"golang.org/x/image/draw"
)

const (
	FrameWidth       = 320
	FrameHeight      = 240
	FrameJPEGQuality = 50

	DefaultFrameInterval = 3 * time.Second
)

// AudioSource yields mono float samples in [-1, 1] at CaptureSampleRate.
// Read returns io.EOF once the source has been closed.
type AudioSource interface {
	Read() ([]float32, error)
	Close() error
}

// FrameSource yields the current camera frame.
type FrameSource interface {
	Read() (image.Image, error)
	Close() error
}

// Chunk is one outbound realtime media payload.
type Chunk struct {
	MIMEType string
	Data     []byte
}

type CaptureConfig struct {
	BlockSize     int
	FrameInterval time.Duration
	QueueSize     int
	OnVolume      func(float64)
}

func (c CaptureConfig) withDefaults() CaptureConfig {
	if c.BlockSize <= 0 {
		c.BlockSize = CaptureBlockSize
	}
	if c.FrameInterval <= 0 {
		c.FrameInterval = DefaultFrameInterval
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 32
	}
	return c
}

// Capture samples the microphone continuously and the camera periodically,
// queueing encoded chunks for the session sender.
type Capture struct {
	logger shared.LoggerAdapter
	mic    AudioSource
	cam    FrameSource
	cfg    CaptureConfig
	buf    *BlockBuffer
	out    chan Chunk

	volume  atomic.Uint64
	dropped atomic.Int64
}

// NewCapture requires a microphone; cam may be nil, in which case no video
// is ever sampled.
func NewCapture(logger shared.LoggerAdapter, mic AudioSource, cam FrameSource, cfg CaptureConfig) (*Capture, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if mic == nil {
		return nil, errors.New("microphone source is required")
	}
	cfg = cfg.withDefaults()
	return &Capture{
		logger: logger,
		mic:    mic,
		cam:    cam,
		cfg:    cfg,
		buf:    NewBlockBuffer(cfg.BlockSize, FrameSamples(2*time.Second, CaptureSampleRate, 1)),
		out:    make(chan Chunk, cfg.QueueSize),
	}, nil
}

func (c *Capture) Chunks() <-chan Chunk {
	return c.out
}

func (c *Capture) HasVideo() bool {
	return c.cam != nil
}

func (c *Capture) Volume() float64 {
	return math.Float64frombits(c.volume.Load())
}

func (c *Capture) Dropped() int64 {
	return c.dropped.Load()
}

// RunAudio blocks until ctx is done or the microphone is closed.
func (c *Capture) RunAudio(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		samples, err := c.mic.Read()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("reading microphone: %w", err)
		}
		if dropped := c.buf.Write(samples); dropped > 0 {
			c.logger.Warn("capture buffer dropped samples", zap.Int("dropped", dropped))
		}
		for {
			block, ok := c.buf.Next()
			if !ok {
				break
			}
			c.processBlock(block)
		}
	}
}

func (c *Capture) processBlock(block []float32) {
	vol := RMS(block)
	c.volume.Store(math.Float64bits(vol))
	if c.cfg.OnVolume != nil {
		c.cfg.OnVolume(vol)
	}
	c.emit(Chunk{MIMEType: AudioMIMEType, Data: FloatToPCM16(block)})
}

// RunVideo samples one frame per interval. Without a camera it returns at once.
func (c *Capture) RunVideo(ctx context.Context) error {
	if c.cam == nil {
		return nil
	}
	ticker := time.NewTicker(c.cfg.FrameInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			frame, err := c.cam.Read()
			if err != nil {
				if errors.Is(err, io.EOF) || ctx.Err() != nil {
					return nil
				}
				c.logger.Warn("reading camera frame", zap.Error(err))
				continue
			}
			data, err := EncodeFrame(frame)
			if err != nil {
				c.logger.Warn("encoding camera frame", zap.Error(err))
				continue
			}
			c.emit(Chunk{MIMEType: ImageMIMEType, Data: data})
		}
	}
}

// emit never blocks the sampling loop; a full queue drops the chunk.
func (c *Capture) emit(chunk Chunk) {
	select {
	case c.out <- chunk:
	default:
		c.dropped.Add(1)
		c.logger.Debug("outbound queue full, dropping chunk", zap.String("mime_type", chunk.MIMEType))
	}
}

// EncodeFrame scales a frame onto a 320x240 canvas and compresses it.
func EncodeFrame(src image.Image) ([]byte, error) {
	if src == nil {
		return nil, errors.New("nil frame")
	}
	dst := image.NewRGBA(image.Rect(0, 0, FrameWidth, FrameHeight))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: FrameJPEGQuality}); err != nil {
		return nil, fmt.Errorf("encoding jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
