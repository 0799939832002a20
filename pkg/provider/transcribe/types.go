package transcribe

import "time"

// Fragment represents a single speech-to-text hypothesis from a provider.
// Both partial (interim) and final fragments use this type.
type Fragment struct {
	// Text is the transcribed speech content.
	Text string

	// Confidence is the provider's confidence score in [0, 1]. Providers that
	// do not report confidence deliver zero; zero-confidence finals are still
	// valid results.
	Confidence float64

	// IsPartial indicates an interim hypothesis that may be superseded.
	// Final fragments (IsPartial == false) are terminal for their span.
	IsPartial bool

	// Timestamp marks when the fragment was received.
	Timestamp time.Time
}
