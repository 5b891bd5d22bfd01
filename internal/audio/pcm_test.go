package audio

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestBytesToSamples(t *testing.T) {
	t.Parallel()

	pcm := []byte{0x00, 0x00, 0xff, 0x7f, 0x00, 0x80, 0x01}
	samples := BytesToSamples(pcm, nil)

	require.Len(t, samples, 3)
	assert.Equal(t, 0.0, samples[0])
	assert.InDelta(t, 1.0, samples[1], 1e-4)
	assert.Equal(t, -1.0, samples[2])
}

func TestSamplesToBytesClips(t *testing.T) {
	t.Parallel()

	out := SamplesToBytes([]float64{2, -2, math.NaN()}, nil)
	require.Len(t, out, 6)
	back := BytesToSamples(out, nil)
	assert.InDelta(t, 1.0, back[0], 1e-4)
	assert.InDelta(t, -1.0, back[1], 1e-4)
	assert.Equal(t, 0.0, back[2])
}

func TestPCMRoundTripProperty(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		samples := rapid.SliceOf(rapid.Float64Range(-1, 1)).Draw(t, "samples")
		back := BytesToSamples(SamplesToBytes(samples, nil), nil)
		if len(back) != len(samples) {
			t.Fatalf("length changed: %d -> %d", len(samples), len(back))
		}
		for i := range samples {
			if math.Abs(back[i]-samples[i]) > 1.0/16384 {
				t.Fatalf("sample %d drifted: %f -> %f", i, samples[i], back[i])
			}
		}
	})
}

func TestRMS(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0.0, RMS(nil))
	assert.InDelta(t, 0.5, RMS([]float64{0.5, -0.5, 0.5, -0.5}), 1e-12)
}

func TestStaticPermission(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{in: "granted", want: "granted"},
		{in: " DENIED ", want: "denied"},
		{in: "", want: "prompt"},
		{in: "weird", want: "prompt"},
	}
	for _, tt := range tests {
		got, err := NewStaticPermission(tt.in).MicrophonePermission(context.Background())
		require.NoError(t, err)
		assert.Equal(t, tt.want, string(got), tt.in)
	}
}
