package tools

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/bt-bridge/worldsend-live/shared"
	"github.com/pion/mediadevices"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/io/audio"
	"github.com/pion/mediadevices/pkg/io/video"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/mediadevices/pkg/wave"
	"golang.org/x/image/draw"
)

// Devices opens the capture inputs of a live session.
type Devices interface {
	OpenMicrophone() (AudioSource, error)
	OpenCamera() (FrameSource, error)
}

// MediaDevices opens the default microphone and camera through the host
// media drivers.
type MediaDevices struct{}

var _ Devices = MediaDevices{}

func (MediaDevices) OpenMicrophone() (AudioSource, error) {
	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Audio: func(c *mediadevices.MediaTrackConstraints) {
			c.SampleRate = prop.Int(CaptureSampleRate)
			c.ChannelCount = prop.Int(1)
			c.SampleSize = prop.Int(16)
		},
	})
	if err != nil {
		return nil, &shared.PermissionDeniedError{Device: "audio", Err: err}
	}
	tracks := stream.GetAudioTracks()
	if len(tracks) == 0 {
		return nil, &shared.PermissionDeniedError{Device: "audio", Err: errors.New("no audio track in stream")}
	}
	track, ok := tracks[0].(*mediadevices.AudioTrack)
	if !ok {
		_ = tracks[0].Close()
		return nil, fmt.Errorf("unexpected audio track type %T", tracks[0])
	}
	return &microphone{track: track, reader: track.NewReader(false)}, nil
}

func (MediaDevices) OpenCamera() (FrameSource, error) {
	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Video: func(c *mediadevices.MediaTrackConstraints) {
			c.Width = prop.Int(640)
			c.Height = prop.Int(480)
		},
	})
	if err != nil {
		return nil, &shared.PermissionDeniedError{Device: "video", Err: err}
	}
	tracks := stream.GetVideoTracks()
	if len(tracks) == 0 {
		return nil, &shared.PermissionDeniedError{Device: "video", Err: errors.New("no video track in stream")}
	}
	track, ok := tracks[0].(*mediadevices.VideoTrack)
	if !ok {
		_ = tracks[0].Close()
		return nil, fmt.Errorf("unexpected video track type %T", tracks[0])
	}
	return &camera{track: track, reader: track.NewReader(false)}, nil
}

type microphone struct {
	track  *mediadevices.AudioTrack
	reader audio.Reader
	once   sync.Once
}

func (m *microphone) Read() ([]float32, error) {
	chunk, release, err := m.reader.Read()
	if err != nil {
		return nil, err
	}
	defer release()
	return monoSamples(chunk)
}

func (m *microphone) Close() (err error) {
	m.once.Do(func() { err = m.track.Close() })
	return err
}

// monoSamples keeps the first channel of an interleaved chunk.
func monoSamples(chunk wave.Audio) ([]float32, error) {
	info := chunk.ChunkInfo()
	if info.Channels < 1 {
		return nil, errors.New("audio chunk without channels")
	}
	out := make([]float32, info.Len)
	switch c := chunk.(type) {
	case *wave.Float32Interleaved:
		for i := range out {
			out[i] = c.Data[i*info.Channels]
		}
	case *wave.Int16Interleaved:
		for i := range out {
			out[i] = float32(c.Data[i*info.Channels]) / 32768
		}
	default:
		return nil, fmt.Errorf("unsupported sample format %T", chunk)
	}
	return out, nil
}

type camera struct {
	track  *mediadevices.VideoTrack
	reader video.Reader
	once   sync.Once
}

func (c *camera) Read() (image.Image, error) {
	frame, release, err := c.reader.Read()
	if err != nil {
		return nil, err
	}
	defer release()
	// the driver reuses frame memory after release
	return cloneImage(frame), nil
}

func (c *camera) Close() (err error) {
	c.once.Do(func() { err = c.track.Close() })
	return err
}

func cloneImage(src image.Image) image.Image {
	b := src.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, src, b.Min, draw.Src)
	return dst
}
