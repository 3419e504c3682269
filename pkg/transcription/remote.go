package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/noteloop/scribe-engine/pkg/audio"
)

const groqTranscriptionsURL = "https://api.groq.com/openai/v1/audio/transcriptions"

// RemoteBackend ships audio to Groq's OpenAI-compatible Whisper endpoint
// over HTTP as a multipart upload. It exists so a session can transcribe
// without a local model, trading latency and a network dependency for
// zero CPU/GPU load.
type RemoteBackend struct {
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewRemoteBackend builds a Groq-backed Backend. model defaults to
// "whisper-large-v3-turbo" when empty.
func NewRemoteBackend(apiKey, model string) *RemoteBackend {
	if model == "" {
		model = "whisper-large-v3-turbo"
	}
	return &RemoteBackend{
		apiKey: apiKey,
		model:  model,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type groqTranscriptionResponse struct {
	Text string `json:"text"`
}

// Transcribe encodes samples as a 16kHz mono WAV and uploads it as a
// multipart/form-data request, matching the OpenAI audio transcription
// API contract Groq mirrors.
func (b *RemoteBackend) Transcribe(ctx context.Context, samples []float32, opts DecodeOptions) (string, error) {
	if len(samples) == 0 {
		return "", nil
	}

	wavBytes := audio.EncodeWAV(samples, audio.TargetSampleRate)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("transcription: create multipart file field: %w", err)
	}
	if _, err := io.Copy(part, bytes.NewReader(wavBytes)); err != nil {
		return "", fmt.Errorf("transcription: write wav into multipart body: %w", err)
	}

	if err := writer.WriteField("model", b.model); err != nil {
		return "", err
	}
	if err := writer.WriteField("response_format", "json"); err != nil {
		return "", err
	}
	if err := writer.WriteField("temperature", "0"); err != nil {
		return "", err
	}

	lang := NormalizeLanguage(opts.Language)
	if lang != "auto" {
		if err := writer.WriteField("language", lang); err != nil {
			return "", err
		}
	}
	if opts.Translate {
		if err := writer.WriteField("task", "translate"); err != nil {
			return "", err
		}
	}

	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("transcription: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, groqTranscriptionsURL, &body)
	if err != nil {
		return "", fmt.Errorf("transcription: build remote request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+b.apiKey)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcription: remote backend request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("transcription: read remote response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("transcription: remote backend returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var parsed groqTranscriptionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("transcription: decode remote response: %w", err)
	}

	return strings.TrimSpace(parsed.Text), nil
}

// Close is a no-op; the remote backend holds no local resources beyond
// an *http.Client, which needs no explicit teardown.
func (b *RemoteBackend) Close() error {
	return nil
}
