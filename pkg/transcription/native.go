package transcription

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// NativeBackend runs ASR through the whisper.cpp CGO bindings, grounded on
// _examples/MrWong99-glyphoxa/pkg/provider/stt/whisper/native.go: the
// model is loaded once and a fresh Context is created per Transcribe call
// (a whisper.cpp Context is not safe for concurrent use, but the
// underlying Model is shared).
type NativeBackend struct {
	model whisperlib.Model
}

// NewNativeBackend loads a whisper.cpp-compatible GGML model from path.
func NewNativeBackend(modelPath string) (*NativeBackend, error) {
	if modelPath == "" {
		return nil, errors.New("transcription: native backend requires a model path")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("transcription: load whisper model %q: %w", modelPath, err)
	}
	return &NativeBackend{model: model}, nil
}

// Transcribe applies the decoding contract and returns the joined segment
// text, trimmed. Empty input returns an empty string without invoking the
// model.
func (b *NativeBackend) Transcribe(ctx context.Context, samples []float32, opts DecodeOptions) (string, error) {
	if len(samples) == 0 {
		return "", nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	wctx, err := b.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("transcription: create whisper context: %w", err)
	}

	lang := NormalizeLanguage(opts.Language)
	if err := wctx.SetLanguage(lang); err != nil {
		return "", fmt.Errorf("transcription: set language %q: %w", lang, err)
	}
	wctx.SetTranslate(opts.Translate)
	wctx.SetTemperature(decodeTemperature)
	wctx.SetSplitOnWord(false)
	wctx.SetTokenTimestamps(decodeTokenTimestamps)
	wctx.SetEntropyThold(decodeEntropyThold)
	wctx.SetLogProbThold(decodeLogProbThold)

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("transcription: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("transcription: read segment: %w", err)
		}
		text := strings.TrimSpace(segment.Text)
		if text != "" {
			parts = append(parts, text)
		}
	}

	return strings.TrimSpace(strings.Join(parts, " ")), nil
}

// Close releases the whisper.cpp model.
func (b *NativeBackend) Close() error {
	return b.model.Close()
}
