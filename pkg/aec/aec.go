// Package aec implements the two-stage spectral/neural acoustic echo
// canceller: a frequency-domain gain-mask model followed by a time-domain
// refiner, both ONNX models run through github.com/yalue/onnxruntime_go.
// Algorithm shape grounded on
// _examples/original_source/src-tauri/src/aec/mod.rs.
package aec

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

const (
	blockLen   = 512
	blockShift = 128
	stateSize  = 128
	peakTarget = 0.99
)

// ErrProcess is returned by Process when either ONNX model fails to run;
// callers should log it and fall back to the un-cancelled mic buffer.
var ErrProcess = errors.New("aec: inference failed")

// session is the narrow slice of onnxruntime_go's DynamicAdvancedSession
// this package needs, so tests can substitute a deterministic stub instead
// of loading a real ONNX model.
type session interface {
	Run(inputs, outputs []ort.Value) error
	Destroy() error
}

// AEC cancels far-end (speaker) echo leaking into the near-end (mic) signal
// using two chained ONNX models. A single instance carries state across
// calls; Reset re-zeroes it.
type AEC struct {
	mu sync.Mutex

	model1, model2 session
	logger         *slog.Logger

	micIn, farIn, out *circularBuffer

	state1, state2 []float32 // flattened [1,2,stateSize,2]
}

// Config locates the two ONNX models this canceller chains.
type Config struct {
	Model1Path string
	Model2Path string
	Logger     *slog.Logger
}

// New constructs an AEC instance, loading both ONNX models. A construction
// failure (missing files, bad ONNX graph) is an init error: the caller
// should treat it as "no AEC" and continue running the pipeline without
// echo cancellation.
func New(cfg Config) (*AEC, error) {
	if cfg.Model1Path == "" || cfg.Model2Path == "" {
		return nil, fmt.Errorf("aec: both model paths are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("aec: initialize onnxruntime: %w", err)
	}

	model1, err := ort.NewDynamicAdvancedSession(cfg.Model1Path,
		[]string{"input_1", "states_1", "input_2"}, []string{"Identity", "Identity_1"}, nil)
	if err != nil {
		return nil, fmt.Errorf("aec: load model 1: %w", err)
	}
	model2, err := ort.NewDynamicAdvancedSession(cfg.Model2Path,
		[]string{"input_3", "states_2", "input_4"}, []string{"Identity", "Identity_1"}, nil)
	if err != nil {
		model1.Destroy()
		return nil, fmt.Errorf("aec: load model 2: %w", err)
	}

	return newWithSessions(model1, model2, logger), nil
}

func newWithSessions(model1, model2 session, logger *slog.Logger) *AEC {
	a := &AEC{
		model1: model1,
		model2: model2,
		logger: logger,
		micIn:  newCircularBuffer(blockLen, blockShift),
		farIn:  newCircularBuffer(blockLen, blockShift),
		out:    newCircularBuffer(blockLen, blockShift),
	}
	a.state1 = make([]float32, 2*stateSize*2)
	a.state2 = make([]float32, 2*stateSize*2)
	return a
}

// Process cancels echo from near (mic) using far (speaker reference) as the
// echo reference. Inputs of unequal length are truncated to
// min(len(near), len(far)), and the output has that length.
// On inference failure Process returns (nil, ErrProcess); the caller must
// fall back to the uncancelled near buffer.
func (a *AEC) Process(near, far []float32) ([]float32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := len(near)
	if len(far) < n {
		n = len(far)
	}
	if n == 0 {
		return nil, nil
	}

	out := make([]float32, 0, n)
	for off := 0; off+blockShift <= n || off < n; off += blockShift {
		end := off + blockShift
		var micChunk, farChunk []float32
		if end <= n {
			micChunk, farChunk = near[off:end], far[off:end]
		} else {
			micChunk, farChunk = near[off:n], far[off:n]
		}

		block, err := a.processBlock(micChunk, farChunk)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrProcess, err)
		}
		out = append(out, block...)
		if end > n {
			break
		}
	}
	if len(out) > n {
		out = out[:n]
	}
	normalizeOutput(out)
	return out, nil
}

// processBlock runs exactly one blockShift-sized hop of the two-stage
// pipeline: push into the analysis buffers, FFT both, run model 1 for a
// frequency mask, inverse-FFT, run model 2 for time-domain refinement,
// overlap-add into the output buffer.
func (a *AEC) processBlock(micChunk, farChunk []float32) ([]float32, error) {
	a.micIn.pushChunk(micChunk)
	a.farIn.pushChunk(farChunk)

	micSpec := realFFT(a.micIn.data)
	farSpec := realFFT(a.farIn.data)

	micMag := magnitudes(micSpec)
	farMag := magnitudes(farSpec)

	mask, newState1, err := a.runModel1(micMag, farMag)
	if err != nil {
		return nil, err
	}
	a.state1 = newState1

	for i := range micSpec {
		m := float64(1)
		if i < len(mask) {
			m = float64(mask[i])
		}
		micSpec[i] = cplx{micSpec[i].re * m, micSpec[i].im * m}
	}
	estimated := inverseRealFFT(micSpec, blockLen)

	refined, newState2, err := a.runModel2(estimated, a.farIn.data)
	if err != nil {
		return nil, err
	}
	a.state2 = newState2

	a.out.shiftAndAccumulate(refined)
	emitted := make([]float32, blockShift)
	copy(emitted, a.out.leading(blockShift))
	return emitted, nil
}

func magnitudes(spec []cplx) []float32 {
	out := make([]float32, len(spec))
	for i, c := range spec {
		out[i] = float32(c.norm())
	}
	return out
}

func (a *AEC) runModel1(micMag, farMag []float32) (mask, newState []float32, err error) {
	inMag, err := ort.NewTensor(ort.NewShape(1, int64(len(micMag))), micMag)
	if err != nil {
		return nil, nil, err
	}
	lpbMag, err := ort.NewTensor(ort.NewShape(1, int64(len(farMag))), farMag)
	if err != nil {
		return nil, nil, err
	}
	states, err := ort.NewTensor(ort.NewShape(1, 2, int64(stateSize), 2), a.state1)
	if err != nil {
		return nil, nil, err
	}

	maskOut, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(len(micMag))))
	if err != nil {
		return nil, nil, err
	}
	stateOut, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 2, int64(stateSize), 2))
	if err != nil {
		return nil, nil, err
	}

	if err := a.model1.Run(
		[]ort.Value{inMag, states, lpbMag},
		[]ort.Value{maskOut, stateOut},
	); err != nil {
		return nil, nil, fmt.Errorf("run model 1: %w", err)
	}

	return maskOut.GetData(), stateOut.GetData(), nil
}

func (a *AEC) runModel2(estimated, farIn []float32) (refined, newState []float32, err error) {
	block, err := ort.NewTensor(ort.NewShape(1, blockLen), estimated)
	if err != nil {
		return nil, nil, err
	}
	lpb, err := ort.NewTensor(ort.NewShape(1, blockLen), farIn)
	if err != nil {
		return nil, nil, err
	}
	states, err := ort.NewTensor(ort.NewShape(1, 2, int64(stateSize), 2), a.state2)
	if err != nil {
		return nil, nil, err
	}

	refinedOut, err := ort.NewEmptyTensor[float32](ort.NewShape(1, blockLen))
	if err != nil {
		return nil, nil, err
	}
	stateOut, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 2, int64(stateSize), 2))
	if err != nil {
		return nil, nil, err
	}

	if err := a.model2.Run(
		[]ort.Value{block, states, lpb},
		[]ort.Value{refinedOut, stateOut},
	); err != nil {
		return nil, nil, fmt.Errorf("run model 2: %w", err)
	}

	return refinedOut.GetData(), stateOut.GetData(), nil
}

// normalizeOutput rescales so peak amplitude is 0.99 whenever the block
// clips above 1.0, matching the original's normalize_output exactly.
func normalizeOutput(out []float32) {
	var peak float32
	for _, v := range out {
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}
	if peak > 1.0 {
		scale := peakTarget / peak
		for i := range out {
			out[i] *= scale
		}
	}
}

// Reset re-zeroes both model states and all three circular buffers, so the
// next Process call is deterministic for a given fixed input regardless of
// prior calls (invariant 6).
func (a *AEC) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.state1 {
		a.state1[i] = 0
	}
	for i := range a.state2 {
		a.state2[i] = 0
	}
	a.micIn.reset()
	a.farIn.reset()
	a.out.reset()
}

// Close releases both ONNX sessions.
func (a *AEC) Close() error {
	err1 := a.model1.Destroy()
	err2 := a.model2.Destroy()
	if err1 != nil {
		return err1
	}
	return err2
}
