package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/gen2brain/malgo"
	"github.com/joho/godotenv"

	"github.com/noteloop/scribe-engine/pkg/aec"
	"github.com/noteloop/scribe-engine/pkg/audio"
	"github.com/noteloop/scribe-engine/pkg/pipeline"
	"github.com/noteloop/scribe-engine/pkg/session"
	"github.com/noteloop/scribe-engine/pkg/text"
	"github.com/noteloop/scribe-engine/pkg/transcription"
	"github.com/noteloop/scribe-engine/pkg/vad"
)

// captureSampleRate is the rate the capture devices are opened at. malgo's
// shared-mode device on most backends will happily negotiate 16 kHz
// directly, so the resampler below is an identity pass-through in the
// common case and only does real work on backends that refuse the rate.
const captureSampleRate = 16000

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("agent: no .env file found, using process environment")
	}

	logger := slog.Default()

	model, err := buildTranscriptionEngine(logger)
	if err != nil {
		logger.Error("agent: failed to configure a transcription backend", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := model.Shutdown(); err != nil {
			logger.Warn("agent: transcription engine shutdown error", "error", err)
		}
	}()

	textProc := text.New(buildTextConfig())

	var vadModel pipeline.SpeechDetector
	if v, err := buildVAD(logger); err != nil {
		logger.Warn("agent: vad unavailable, sessions will run without speech segmentation", "error", err)
	} else {
		vadModel = v
	}

	var echoCanceller pipeline.Canceller
	if c, err := buildAEC(logger); err != nil {
		logger.Warn("agent: aec unavailable, running without echo cancellation", "error", err)
	} else {
		echoCanceller = c
	}

	pl := pipeline.New(pipeline.Config{
		Mode:          pipeline.MicAndSpeaker,
		MicSampleRate: audio.TargetSampleRate,
		SpkSampleRate: audio.TargetSampleRate,
		VAD:           vadModel,
		AEC:           echoCanceller,
		Logger:        logger,
	})

	store := newMemoryStore()
	hub := newEventHub(logger)

	events := make(chan session.Event, 256)
	go hub.pump(events)

	skipMicOnEnergy := envBool("SKIP_MIC_ON_SPEAKER_ENERGY", false)
	speakerEnergyThreshold := envFloat("SPEAKER_ENERGY_THRESHOLD", 0.1)
	decodeOpts := transcription.DecodeOptions{
		Language:  transcription.NormalizeLanguage(os.Getenv("TRANSCRIBE_LANGUAGE")),
		Translate: envBool("TRANSCRIBE_TRANSLATE", false),
	}

	mic := newRingSource(captureSampleRate)
	spk := newRingSource(captureSampleRate)

	mgr := session.NewManager("local-session", store, pl, events, logger, model, func(s *session.Session, p *pipeline.Pipeline) *session.Loop {
		return session.NewLoop(session.Config{
			Session:                s,
			Pipeline:               p,
			Engine:                 model,
			Text:                   textProc,
			Store:                  store,
			MicSource:              mic,
			SpeakerSource:          spk,
			DecodeOptions:          decodeOpts,
			SkipMicOnSpeakerEnergy: skipMicOnEnergy,
			SpeakerEnergyThreshold: speakerEnergyThreshold,
			Events:                 events,
			Logger:                 logger,
			Now:                    time.Now,
		})
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		logger.Error("agent: failed to init audio context", "error", err)
		os.Exit(1)
	}
	defer mctx.Uninit()

	micDevice, err := startMicCapture(mctx, mic, logger)
	if err != nil {
		logger.Error("agent: failed to start mic capture", "error", err)
		os.Exit(1)
	}
	defer micDevice.Uninit()

	loopbackDevice, err := startLoopbackCapture(mctx, spk, logger)
	if err != nil {
		logger.Warn("agent: speaker loopback capture unavailable, running mic-only", "error", err)
	} else {
		defer loopbackDevice.Uninit()
	}

	if err := mic.StartSessionRecording(); err != nil {
		logger.Error("agent: failed to start recording", "error", err)
		os.Exit(1)
	}
	if err := mgr.Start(); err != nil {
		logger.Error("agent: failed to start session", "error", err)
		os.Exit(1)
	}

	wsAddr := os.Getenv("EVENT_WS_ADDR")
	if wsAddr == "" {
		wsAddr = ":8787"
	}
	srv := &http.Server{Addr: wsAddr, Handler: hub}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("agent: event server stopped", "error", err)
		}
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := mgr.Loop().Run(ctx); err != nil {
			logger.Error("agent: session loop exited", "error", err)
		}
	}()

	go session.SpeakerCaptureThread(ctx, logger, "level-meter", func(ctx context.Context) error {
		printLevelMeter(ctx, pl)
		return nil
	})

	fmt.Printf("listening — transcript events at ws://%s/events, Ctrl-C to stop\n", wsAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	fmt.Println("\nshutting down...")

	mic.StopSessionRecording()
	if err := mgr.End(); err != nil {
		logger.Warn("agent: session end rejected", "error", err)
	}
	mgr.Loop().RequestStop()
	cancel()
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	close(events)
}

func buildTextConfig() text.Config {
	cfg := text.DefaultConfig()
	if words := os.Getenv("CUSTOM_WORDS"); words != "" {
		for _, w := range strings.Split(words, ",") {
			if w = strings.TrimSpace(w); w != "" {
				cfg.CustomWords = append(cfg.CustomWords, w)
			}
		}
	}
	if t := envFloat("WORD_CORRECTION_THRESHOLD", -1); t >= 0 {
		cfg.WordCorrectionThreshold = t
	}
	return cfg
}

func buildVAD(logger *slog.Logger) (*vad.VAD, error) {
	modelPath := os.Getenv("VAD_MODEL_PATH")
	if modelPath == "" {
		return nil, fmt.Errorf("VAD_MODEL_PATH not set")
	}
	return vad.New(vad.Config{
		ModelPath: modelPath,
		Logger:    logger,
	})
}

func buildAEC(logger *slog.Logger) (*aec.AEC, error) {
	m1 := os.Getenv("AEC_MODEL1_PATH")
	m2 := os.Getenv("AEC_MODEL2_PATH")
	if m1 == "" || m2 == "" {
		return nil, fmt.Errorf("AEC_MODEL1_PATH/AEC_MODEL2_PATH not set")
	}
	return aec.New(aec.Config{
		Model1Path: m1,
		Model2Path: m2,
		Logger:     logger,
	})
}

// buildTranscriptionEngine picks a native whisper.cpp backend over a
// remote Groq one when both are configured, since the native backend
// avoids a network round trip once loaded.
func buildTranscriptionEngine(logger *slog.Logger) (*transcription.Engine, error) {
	whisperModel := os.Getenv("WHISPER_MODEL_PATH")
	groqKey := os.Getenv("GROQ_API_KEY")

	var loader transcription.Loader
	switch {
	case whisperModel != "":
		loader = func() (transcription.Backend, error) {
			return transcription.NewNativeBackend(whisperModel)
		}
	case groqKey != "":
		groqModel := os.Getenv("GROQ_MODEL")
		loader = func() (transcription.Backend, error) {
			return transcription.NewRemoteBackend(groqKey, groqModel), nil
		}
	default:
		return nil, fmt.Errorf("neither WHISPER_MODEL_PATH nor GROQ_API_KEY is set")
	}

	idleTimeout := transcription.Never
	if raw := os.Getenv("MODEL_IDLE_TIMEOUT_SECONDS"); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil {
			idleTimeout = time.Duration(secs) * time.Second
		}
	}

	processor := text.New(buildTextConfig())
	engine := transcription.NewEngine(loader, idleTimeout, processor)
	go func() {
		for ev := range engine.Events() {
			logger.Info("transcription: lifecycle", "kind", ev.Kind, "error", ev.Err)
		}
	}()
	return engine, nil
}

// printLevelMeter renders the mic/speaker amplitude meters to stdout as
// ASCII bars, one per tracked channel.
func printLevelMeter(ctx context.Context, pl *pipeline.Pipeline) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap, ok := pl.GetAmplitude(time.Now())
			if !ok {
				continue
			}
			fmt.Printf("\r[MIC %-20s][SPK %-20s]", bar(snap.Mic), bar(snap.Speaker))
		}
	}
}

func bar(level float32) string {
	dots := int(level * 500)
	if dots > 20 {
		dots = 20
	}
	if dots < 0 {
		dots = 0
	}
	return strings.Repeat("|", dots)
}

func envBool(key string, def bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return b
}

func envFloat(key string, def float32) float32 {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	f, err := strconv.ParseFloat(raw, 32)
	if err != nil {
		return def
	}
	return float32(f)
}

// ringSource is the malgo-callback-fed implementation of both
// session.MicSource and session.SpeakerSource: a capture callback running
// on malgo's own thread pushes samples in, and the session loop's
// 250 ms tick drains them out. Both sides only ever touch buf under mu,
// so there is no other coordination between the two goroutines.
type ringSource struct {
	mu         sync.Mutex
	buf        []float32
	sampleRate int
	recording  bool
}

func newRingSource(sampleRate int) *ringSource {
	return &ringSource{sampleRate: sampleRate}
}

// push is called from the malgo audio thread; it must never block.
func (r *ringSource) push(samples []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		return
	}
	r.buf = append(r.buf, samples...)
}

func (r *ringSource) TakeSessionChunk() []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.buf) == 0 {
		return nil
	}
	out := r.buf
	r.buf = nil
	return out
}

func (r *ringSource) TakeBatch() ([]float32, bool) {
	out := r.TakeSessionChunk()
	return out, len(out) > 0
}

func (r *ringSource) SampleRate() int { return r.sampleRate }

func (r *ringSource) IsRecording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

func (r *ringSource) StartSessionRecording() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recording = true
	r.buf = nil
	return nil
}

func (r *ringSource) StopSessionRecording() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recording = false
}

func (r *ringSource) CancelRecording() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recording = false
	r.buf = nil
}

// pcm16ToFloat converts interleaved little-endian S16 samples to mono f32
// in [-1, 1], the format every pkg/audio consumer expects.
func pcm16ToFloat(raw []byte) []float32 {
	n := len(raw) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		s := int16(raw[2*i]) | int16(raw[2*i+1])<<8
		out[i] = float32(s) / 32768.0
	}
	return out
}

// startMicCapture opens a capture-only device at captureSampleRate and
// feeds resampled 16 kHz frames into dst.
func startMicCapture(mctx *malgo.AllocatedContext, dst *ringSource, logger *slog.Logger) (*malgo.Device, error) {
	resampler := audio.NewFrameResampler(captureSampleRate, func(frame []float32) {
		cp := make([]float32, len(frame))
		copy(cp, frame)
		dst.push(cp)
	})

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = 1
	cfg.SampleRate = captureSampleRate
	cfg.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			resampler.Push(pcm16ToFloat(input))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("mic device init: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, fmt.Errorf("mic device start: %w", err)
	}
	logger.Info("agent: mic capture started", "sample_rate", captureSampleRate)
	return device, nil
}

// startLoopbackCapture opens a system-audio loopback device so the
// speaker channel can be fed independently of the mic. Loopback capture
// is a WASAPI-only miniaudio
// feature; on backends that do not support it this returns an error and
// the caller degrades to mic-only, matching the init-error policy every
// other optional subsystem (VAD, AEC) already follows.
func startLoopbackCapture(mctx *malgo.AllocatedContext, dst *ringSource, logger *slog.Logger) (*malgo.Device, error) {
	resampler := audio.NewFrameResampler(captureSampleRate, func(frame []float32) {
		cp := make([]float32, len(frame))
		copy(cp, frame)
		dst.push(cp)
	})

	cfg := malgo.DefaultDeviceConfig(malgo.Loopback)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = 1
	cfg.SampleRate = captureSampleRate

	device, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			resampler.Push(pcm16ToFloat(input))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("loopback device init: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, fmt.Errorf("loopback device start: %w", err)
	}
	logger.Info("agent: speaker loopback capture started", "sample_rate", captureSampleRate)
	return device, nil
}

// memoryStore is the reference session.Store: an in-process, mutex-guarded
// segment log with no persistence dependency, so the CLI demo runs end to
// end without an external database.
type memoryStore struct {
	mu   sync.Mutex
	segs []session.Segment
	next int
}

func newMemoryStore() *memoryStore { return &memoryStore{} }

func (m *memoryStore) AddSegment(ctx context.Context, sessionID, text string, source session.Source, startMs, endMs int64) (session.Segment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	seg := session.Segment{
		ID:        fmt.Sprintf("seg-%d", m.next),
		SessionID: sessionID,
		Text:      text,
		Source:    source,
		StartMs:   startMs,
		EndMs:     endMs,
		CreatedAt: time.Now(),
	}
	m.segs = append(m.segs, seg)
	return seg, nil
}

func (m *memoryStore) GetRecentSegments(ctx context.Context, sessionID string, source session.Source, sinceMs int64) ([]session.Segment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []session.Segment
	for _, s := range m.segs {
		if s.SessionID == sessionID && s.Source == source && s.EndMs >= sinceMs {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memoryStore) GetSessionTimeOffset(ctx context.Context, sessionID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var maxEnd int64
	for _, s := range m.segs {
		if s.SessionID == sessionID && s.EndMs > maxEnd {
			maxEnd = s.EndMs
		}
	}
	return maxEnd, nil
}

// eventHub fans session.Event out to every connected websocket client as
// JSON: a single goroutine drains the event channel and broadcasts each
// one to every client currently connected.
type eventHub struct {
	logger *slog.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

func newEventHub(logger *slog.Logger) *eventHub {
	return &eventHub{logger: logger, clients: make(map[*websocket.Conn]struct{})}
}

func (h *eventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/events" {
		http.NotFound(w, r)
		return
	}
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("event hub: accept failed", "error", err)
		return
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		_ = c.CloseNow()
	}()

	// The connection is write-only from the server's perspective; block
	// here reading (and discarding) so we notice disconnects.
	for {
		if _, _, err := c.Read(r.Context()); err != nil {
			return
		}
	}
}

// pump broadcasts every event off ch to every connected client until ch is
// closed. One wire-shaped struct per kind keeps the payload small and
// avoids serializing the Event tagged-union's unused fields.
func (h *eventHub) pump(ch <-chan session.Event) {
	for ev := range ch {
		payload := wireEvent{SessionID: ev.SessionID, Kind: kindName(ev.Kind)}
		switch ev.Kind {
		case session.StateChanged:
			payload.State = ev.State.String()
		case session.Amplitude:
			payload.Mic = ev.Amplitude.Mic
			payload.Speaker = ev.Amplitude.Speaker
		case session.SegmentWritten:
			payload.Segment = &ev.Segment
		case session.MicDuplicateDropped:
			payload.Segment = &ev.DuplicateMic
		}
		body, err := json.Marshal(payload)
		if err != nil {
			h.logger.Warn("event hub: marshal failed", "error", err)
			continue
		}
		h.broadcast(body)
	}
}

func (h *eventHub) broadcast(body []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		if err := c.Write(ctx, websocket.MessageText, body); err != nil {
			h.logger.Warn("event hub: write failed, dropping client", "error", err)
			delete(h.clients, c)
		}
		cancel()
	}
}

type wireEvent struct {
	SessionID string           `json:"session_id"`
	Kind      string           `json:"kind"`
	State     string           `json:"state,omitempty"`
	Mic       uint16           `json:"mic,omitempty"`
	Speaker   uint16           `json:"speaker,omitempty"`
	Segment   *session.Segment `json:"segment,omitempty"`
}

func kindName(k session.EventKind) string {
	switch k {
	case session.StateChanged:
		return "state_changed"
	case session.Amplitude:
		return "amplitude"
	case session.SegmentWritten:
		return "segment_written"
	case session.MicDuplicateDropped:
		return "mic_duplicate_dropped"
	case session.FlushComplete:
		return "flush_complete"
	default:
		return "unknown"
	}
}
