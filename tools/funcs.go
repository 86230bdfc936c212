package tools

import "time"

// Wire rates of the live session.
const (
	CaptureSampleRate  = 16000
	PlaybackSampleRate = 24000
	CaptureBlockSize   = 4096

	AudioMIMEType = "audio/pcm;rate=16000"
	ImageMIMEType = "image/jpeg"
)

func FrameSamples(duration time.Duration, rate, channels int) int {
	return int(duration.Seconds() * float64(channels) * float64(rate))
}

// SamplesDuration is how long frames samples per channel last at rate.
func SamplesDuration(frames, rate int) time.Duration {
	if rate <= 0 || frames <= 0 {
		return 0
	}
	return time.Duration(frames) * time.Second / time.Duration(rate)
}
