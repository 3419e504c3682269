// Package pipeline owns per-session audio ingestion: it accumulates raw
// mic/speaker samples for later AEC, drives VAD off the mic channel, tracks
// smoothed amplitude for UI meters, and exposes the chunk-extraction
// variants SessionLoop drives transcription from.
package pipeline

// Mode selects which channels a Pipeline instance ingests. PushMic and
// PushSpk no-op for a channel the configured Mode excludes, so a caller
// wired to both devices but configured MicOnly still only accumulates
// mic audio. The zero value is MicAndSpeaker, matching the common dual-
// channel case so a caller building a Config without naming Mode still
// gets both channels.
type Mode int

const (
	MicAndSpeaker Mode = iota
	MicOnly
	SpeakerOnly
)

// Event is returned once per PollEvent call. MicSpeechEnded is
// level-triggered and cleared by the act of reading it.
type Event struct {
	MicSpeechEnded bool
	MicIsSpeaking  bool
	MicVADProb     float32
}

// AmplitudeSnapshot carries the two smoothed, throttled amplitude levels
// consumed by a UI meter.
type AmplitudeSnapshot struct {
	Mic     float32
	Speaker float32
}
