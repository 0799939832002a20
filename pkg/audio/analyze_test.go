package audio

import (
	"math"
	"testing"
	"time"
)

// frameOf builds a mono 16 kHz frame with every sample set to value.
func frameOf(value int16, n int) Frame {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = value
	}
	return Frame{
		Samples:    samples,
		SampleRate: DefaultSampleRate,
		Channels:   DefaultChannels,
		Timestamp:  time.Now(),
	}
}

func TestAnalyze(t *testing.T) {
	t.Parallel()

	t.Run("empty frame is silent", func(t *testing.T) {
		t.Parallel()
		got := Analyze(Frame{})
		if got.Volume != 0 || got.VoiceActive {
			t.Fatalf("want {0 false}, got %+v", got)
		}
	})

	t.Run("all-zero samples are silent", func(t *testing.T) {
		t.Parallel()
		got := Analyze(frameOf(0, 1024))
		if got.Volume != 0 || got.VoiceActive {
			t.Fatalf("want {0 false}, got %+v", got)
		}
	})

	t.Run("full-scale samples clamp to 100", func(t *testing.T) {
		t.Parallel()
		got := Analyze(frameOf(math.MaxInt16, 1024))
		if got.Volume != 100 {
			t.Fatalf("want volume 100, got %d", got.Volume)
		}
		if !got.VoiceActive {
			t.Fatal("full-scale frame must be voice-active")
		}
	})

	t.Run("negative samples contribute magnitude", func(t *testing.T) {
		t.Parallel()
		pos := Analyze(frameOf(8192, 512))
		neg := Analyze(frameOf(-8192, 512))
		if pos.Volume != neg.Volume {
			t.Fatalf("RMS must be sign-invariant: +%d vs -%d", pos.Volume, neg.Volume)
		}
	})

	t.Run("threshold boundary", func(t *testing.T) {
		t.Parallel()
		// RMS of a constant signal is its magnitude: volume = round(v/32768*100).
		// v=1638 → 5.00 → not voice; v=1967 → 6.00 → voice.
		quiet := Analyze(frameOf(1638, 256))
		if quiet.VoiceActive {
			t.Fatalf("volume %d must not be voice-active", quiet.Volume)
		}
		loud := Analyze(frameOf(1967, 256))
		if !loud.VoiceActive {
			t.Fatalf("volume %d must be voice-active", loud.Volume)
		}
	})
}

func TestBytesLERoundTrip(t *testing.T) {
	t.Parallel()

	in := []int16{0, 1, -1, 32767, -32768, 1234, -4321}
	got := SamplesLE(BytesLE(in))
	if len(got) != len(in) {
		t.Fatalf("length mismatch: want %d, got %d", len(in), len(got))
	}
	for i := range in {
		if got[i] != in[i] {
			t.Fatalf("sample %d: want %d, got %d", i, in[i], got[i])
		}
	}
}

func TestSamplesLEIgnoresTrailingByte(t *testing.T) {
	t.Parallel()

	got := SamplesLE([]byte{0x01, 0x00, 0xff})
	if len(got) != 1 || got[0] != 1 {
		t.Fatalf("want [1], got %v", got)
	}
}
