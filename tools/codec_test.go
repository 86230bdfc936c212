package tools

import (
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/bt-bridge/worldsend-live/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBinaryRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for _, n := range []int{0, 1, 2, 3, 4, 5, 255, 4096, 8193} {
		b := make([]byte, n)
		rng.Read(b)
		decoded, err := DecodeBinary(EncodeBinary(b))
		require.NoError(t, err)
		assert.Equal(t, len(b), len(decoded))
		assert.Equal(t, b, append([]byte{}, decoded...))
	}
}

func TestDecodeBinaryRejectsMalformedInput(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"non-alphabet character", "ab$d"},
		{"missing padding", "YWJjZA"},
		{"excess padding", "YWJj===="},
		{"padding in the middle", "YW=jZA=="},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeBinary(tt.input)
			var decodeErr *shared.DecodeError
			assert.ErrorAs(t, err, &decodeErr)
		})
	}
}

func TestFloatToPCM16(t *testing.T) {
	tests := []struct {
		name     string
		sample   float32
		expected int16
	}{
		{"silence", 0, 0},
		{"half scale", 0.5, 16384},
		{"negative half", -0.5, -16384},
		{"full negative", -1, -32768},
		{"full positive saturates", 1, 32767},
		{"beyond range saturates", 1.5, 32767},
		{"truncates toward zero", 0.00004, 1},
		{"negative truncation", -0.00004, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := FloatToPCM16([]float32{tt.sample})
			require.Len(t, b, 2)
			assert.Equal(t, tt.expected, int16(binary.LittleEndian.Uint16(b)))
		})
	}
}

func TestPCM16ToFloatDeinterleaves(t *testing.T) {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint16(b[0:], uint16(16384))
	binary.LittleEndian.PutUint16(b[2:], uint16(0xC000)) // -16384
	binary.LittleEndian.PutUint16(b[4:], uint16(8192))
	binary.LittleEndian.PutUint16(b[6:], uint16(0))

	channels, err := PCM16ToFloat(b, 2)
	require.NoError(t, err)
	require.Len(t, channels, 2)
	assert.Equal(t, []float32{0.5, 0.25}, channels[0])
	assert.Equal(t, []float32{-0.5, 0}, channels[1])
}

func TestPCM16ToFloatRejectsMalformedLength(t *testing.T) {
	tests := []struct {
		name     string
		length   int
		channels int
	}{
		{"odd byte count", 3, 1},
		{"not a whole stereo frame", 6, 2},
		{"zero channels", 4, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := PCM16ToFloat(make([]byte, tt.length), tt.channels)
			var malformed *shared.MalformedAudioError
			require.ErrorAs(t, err, &malformed)
			assert.Equal(t, tt.length, malformed.Length)
		})
	}
}

func TestPCMRoundTripWithinOneLSB(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for _, channels := range []int{1, 2, 3} {
		p := make([]byte, 2*channels*500)
		rng.Read(p)

		split, err := PCM16ToFloat(p, channels)
		require.NoError(t, err)
		back := FloatToPCM16(Interleave(split))
		require.Len(t, back, len(p))

		for i := 0; i < len(p); i += 2 {
			want := int(int16(binary.LittleEndian.Uint16(p[i:])))
			got := int(int16(binary.LittleEndian.Uint16(back[i:])))
			assert.InDelta(t, want, got, 1, "sample %d with %d channel(s)", i/2, channels)
		}
	}
}

func TestRMS(t *testing.T) {
	assert.Equal(t, 0.0, RMS(nil))
	assert.InDelta(t, 0.5, RMS([]float32{0.5, -0.5, 0.5, -0.5}), 1e-9)
	assert.InDelta(t, 1.0, RMS([]float32{1, 1}), 1e-9)
}
