package tools

import (
	"encoding/base64"
	"encoding/binary"
	"math"

	"github.com/bt-bridge/worldsend-live/shared"
)

// EncodeBinary renders b as padded standard base64 for the JSON control channel.
func EncodeBinary(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func DecodeBinary(s string) ([]byte, error) {
	b, err := base64.StdEncoding.Strict().DecodeString(s)
	if err != nil {
		return nil, &shared.DecodeError{Err: err}
	}
	return b, nil
}

// FloatToPCM16 scales samples by 32768 and truncates toward zero. Values at
// or beyond the int16 range saturate, so 1.0 becomes 32767.
func FloatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := float64(s) * 32768
		switch {
		case v >= math.MaxInt16:
			v = math.MaxInt16
		case v <= math.MinInt16:
			v = math.MinInt16
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}

// PCM16ToFloat de-interleaves little-endian PCM16 into one slice per channel.
func PCM16ToFloat(b []byte, channels int) ([][]float32, error) {
	if channels < 1 || len(b)%(2*channels) != 0 {
		return nil, &shared.MalformedAudioError{Length: len(b), Channels: channels}
	}
	frames := len(b) / (2 * channels)
	out := make([][]float32, channels)
	for ch := range out {
		out[ch] = make([]float32, frames)
	}
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			off := (i*channels + ch) * 2
			out[ch][i] = float32(int16(binary.LittleEndian.Uint16(b[off:]))) / 32768
		}
	}
	return out, nil
}

// Interleave is the inverse of the channel split done by PCM16ToFloat.
// Channels shorter than the first one are padded with silence.
func Interleave(channels [][]float32) []float32 {
	if len(channels) == 0 {
		return nil
	}
	if len(channels) == 1 {
		return channels[0]
	}
	frames := len(channels[0])
	out := make([]float32, frames*len(channels))
	for i := 0; i < frames; i++ {
		for ch, data := range channels {
			if i < len(data) {
				out[i*len(channels)+ch] = data[i]
			}
		}
	}
	return out
}

// RMS is the root-mean-square volume of a block, zero for an empty one.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
