// Package transcription owns the ASR model lifecycle: a process-wide,
// condvar-guarded Unloaded/Loading/Loaded state machine with idle-based
// unloading, fronting a pluggable Backend so either a local whisper.cpp
// model or a remote HTTP model can satisfy Transcribe.
package transcription

import "context"

// DecodeOptions carries the per-call language and translate choices. The
// fixed decoding settings below are applied per backend: NativeBackend
// sets temperature 0, the entropy and log-probability thresholds, and
// turns token timestamps off; RemoteBackend sends temperature 0 only.
// Neither backend sets single-segment mode or non-speech token
// suppression.
type DecodeOptions struct {
	// Language is a BCP-47-ish code, or "auto". zh-Hans/zh-Hant are
	// normalized to "zh" before reaching the backend.
	Language string
	// Translate asks the backend to translate the result to English.
	Translate bool
}

const (
	decodeTemperature     = 0.0
	decodeEntropyThold    = 2.4
	decodeLogProbThold    = -1.0
	decodeSingleSegment   = true
	decodeTokenTimestamps = false
)

// Backend turns one owned sample buffer into one trimmed transcript
// string. Implementations do not need to be safe for concurrent use by
// more than one caller at a time; Engine serializes access.
type Backend interface {
	Transcribe(ctx context.Context, samples []float32, opts DecodeOptions) (string, error)
	Close() error
}

// NormalizeLanguage applies the zh-Hans/zh-Hant -> zh collapse and maps
// an empty code to "auto", passing every other code (including "auto")
// through unchanged.
func NormalizeLanguage(lang string) string {
	switch lang {
	case "zh-Hans", "zh-Hant":
		return "zh"
	case "":
		return "auto"
	default:
		return lang
	}
}
