package session

import (
	"time"

	"github.com/vocalis-ai/vocalis/internal/turn"
)

// Telemetry receives the orchestrator's metric observations.
// *observe.Metrics satisfies it; tests and metric-less deployments use the
// no-op default.
type Telemetry interface {
	turn.Telemetry

	ObserveTranscription(d time.Duration, err error)
	RecordFragment(partial bool)
	SessionStarted()
	SessionEnded()
	TranscriptionStarted()
	TranscriptionStopped()
}

// nopTelemetry discards all observations.
type nopTelemetry struct{}

var _ Telemetry = nopTelemetry{}

func (nopTelemetry) ObserveReply(time.Duration, error)         {}
func (nopTelemetry) ObserveSynth(time.Duration, error)         {}
func (nopTelemetry) RecordTurn()                               {}
func (nopTelemetry) RecordInterruption(string)                 {}
func (nopTelemetry) ObserveTranscription(time.Duration, error) {}
func (nopTelemetry) RecordFragment(bool)                       {}
func (nopTelemetry) SessionStarted()                           {}
func (nopTelemetry) SessionEnded()                             {}
func (nopTelemetry) TranscriptionStarted()                     {}
func (nopTelemetry) TranscriptionStopped()                     {}
