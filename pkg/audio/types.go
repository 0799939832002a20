// Package audio defines the audio frame type flowing through the Vocalis
// pipeline and the volume analyzer that gates voice-activity tracking.
//
// The pipeline operates on a fixed profile: signed 16-bit little-endian PCM,
// mono, 16 000 Hz. Frames of arbitrary length are accepted; clients typically
// deliver ~64 ms (~1024 samples) per frame.
package audio

import "time"

// Default audio profile for client capture and upstream transcription.
const (
	// DefaultSampleRate is the expected sample rate in Hz.
	DefaultSampleRate = 16000

	// DefaultChannels is the expected channel count (mono).
	DefaultChannels = 1
)

// Frame represents a single frame of PCM audio received from a client.
// Frames are ephemeral: they are analyzed for voice activity and forwarded
// to the active transcription stream, then discarded.
type Frame struct {
	// Samples holds signed 16-bit PCM sample values.
	Samples []int16

	// SampleRate in Hz (e.g., 16000).
	SampleRate int

	// Channels is the number of interleaved channels. 1 = mono.
	Channels int

	// Timestamp marks the wall-clock time the frame was received.
	Timestamp time.Time
}

// Analysis is the result of analyzing a single [Frame].
type Analysis struct {
	// Volume is the RMS level of the frame scaled to 0–100.
	Volume int

	// VoiceActive reports whether the frame is classified as speech.
	VoiceActive bool
}
