package audio

import "math"

// voiceThreshold is the volume above which a frame counts as voice. The
// threshold is fixed; per-client calibration is intentionally not supported.
const voiceThreshold = 5

// fullScale is the full-scale magnitude of signed 16-bit audio.
const fullScale = 32768.0

// Analyze computes the RMS volume of a frame and classifies it as voice or
// silence. It is a pure function: no state, no I/O. A frame with zero samples
// yields volume 0 and is classified as silence.
func Analyze(frame Frame) Analysis {
	if len(frame.Samples) == 0 {
		return Analysis{}
	}

	var sum float64
	for _, s := range frame.Samples {
		v := float64(s)
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(len(frame.Samples)))

	volume := int(math.Round(rms / fullScale * 100))
	if volume > 100 {
		volume = 100
	}

	return Analysis{
		Volume:      volume,
		VoiceActive: volume > voiceThreshold,
	}
}
