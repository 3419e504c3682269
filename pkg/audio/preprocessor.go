package audio

import "math"

// Preprocessing constants, grounded on original_source/src-tauri/src/audio_toolkit/preprocessing.rs.
const (
	dcBlockAlpha  = 0.995
	hpfCutoffHz   = 80.0
	hpfQ          = 0.707
	targetRMS     = 0.1
	minGain       = 0.1
	maxGain       = 10.0
	softClipKnee  = 0.5
	rmsFloor      = 1e-6
)

// biquad is a direct-form-I second-order IIR section.
type biquad struct {
	b0, b1, b2 float32
	a1, a2     float32
	x1, x2     float32
	y1, y2     float32
}

// newHighpassBiquad builds an RBJ audio-EQ-cookbook high-pass section.
func newHighpassBiquad(cutoffHz, sampleRate float32, q float32) biquad {
	omega := 2 * math.Pi * float64(cutoffHz) / float64(sampleRate)
	sinOmega := math.Sin(omega)
	cosOmega := math.Cos(omega)
	alpha := sinOmega / (2 * float64(q))

	b0 := (1 + cosOmega) / 2
	b1 := -(1 + cosOmega)
	b2 := (1 + cosOmega) / 2
	a0 := 1 + alpha
	a1 := -2 * cosOmega
	a2 := 1 - alpha

	return biquad{
		b0: float32(b0 / a0),
		b1: float32(b1 / a0),
		b2: float32(b2 / a0),
		a1: float32(a1 / a0),
		a2: float32(a2 / a0),
	}
}

func (f *biquad) process(x float32) float32 {
	y := f.b0*x + f.b1*f.x1 + f.b2*f.x2 - f.a1*f.y1 - f.a2*f.y2
	f.x2, f.x1 = f.x1, x
	f.y2, f.y1 = f.y1, y
	return y
}

func (f *biquad) reset() {
	f.x1, f.x2, f.y1, f.y2 = 0, 0, 0, 0
}

// Preprocessor applies, in order, a DC blocker, an 80 Hz high-pass biquad,
// and RMS normalization with soft clipping. State (DC accumulator, biquad
// memory) persists across calls until Reset.
type Preprocessor struct {
	sampleRate float32
	hpfCutoff  float32
	targetRMS  float32

	hpf      biquad
	dcAlpha  float32
	dcOffset float32
}

// NewPreprocessor builds a preprocessor for the given sample rate (normally
// TargetSampleRate).
func NewPreprocessor(sampleRate int) *Preprocessor {
	sr := float32(sampleRate)
	return &Preprocessor{
		sampleRate: sr,
		hpfCutoff:  hpfCutoffHz,
		targetRMS:  targetRMS,
		hpf:        newHighpassBiquad(hpfCutoffHz, sr, hpfQ),
		dcAlpha:    dcBlockAlpha,
	}
}

// WithHPFCutoff reconfigures the high-pass cutoff, rebuilding the biquad.
func (p *Preprocessor) WithHPFCutoff(cutoffHz float32) *Preprocessor {
	p.hpfCutoff = cutoffHz
	p.hpf = newHighpassBiquad(cutoffHz, p.sampleRate, hpfQ)
	return p
}

// WithTargetRMS reconfigures the normalization target, clamped to [0.01, 1.0].
func (p *Preprocessor) WithTargetRMS(target float32) *Preprocessor {
	if target < 0.01 {
		target = 0.01
	} else if target > 1.0 {
		target = 1.0
	}
	p.targetRMS = target
	return p
}

// Process applies DC block -> HPF -> RMS normalize+soft-clip in place.
func (p *Preprocessor) Process(samples []float32) {
	if len(samples) == 0 {
		return
	}

	for i, s := range samples {
		p.dcOffset = p.dcAlpha*p.dcOffset + (1-p.dcAlpha)*s
		samples[i] = s - p.dcOffset
	}

	for i, s := range samples {
		samples[i] = p.hpf.process(s)
	}

	rms := calculateRMS(samples)
	if rms > rmsFloor {
		gain := p.targetRMS / rms
		if gain < minGain {
			gain = minGain
		} else if gain > maxGain {
			gain = maxGain
		}
		for i, s := range samples {
			samples[i] = softClip(s * gain)
		}
	}
}

// ProcessCopy processes a copy of samples, leaving the input untouched.
func (p *Preprocessor) ProcessCopy(samples []float32) []float32 {
	out := make([]float32, len(samples))
	copy(out, samples)
	p.Process(out)
	return out
}

// Reset clears the DC accumulator and biquad memory.
func (p *Preprocessor) Reset() {
	p.dcOffset = 0
	p.hpf.reset()
}

func calculateRMS(samples []float32) float32 {
	if len(samples) == 0 {
		return 0
	}
	var sumSq float64
	for _, s := range samples {
		sumSq += float64(s) * float64(s)
	}
	return float32(math.Sqrt(sumSq / float64(len(samples))))
}

// softClip applies sign(x)*(0.5 + 0.5*tanh(2*(|x|-0.5))) above |x|=0.5,
// and passes through unchanged below it.
func softClip(x float32) float32 {
	abs := x
	if abs < 0 {
		abs = -abs
	}
	if abs < softClipKnee {
		return x
	}
	sign := float32(1.0)
	if x < 0 {
		sign = -1.0
	}
	return sign * (0.5 + 0.5*float32(math.Tanh(2*float64(abs-softClipKnee))))
}

// RMS is exported for components (pipeline, session loop) that need the
// same "is this buffer silent" computation the preprocessor uses
// internally.
func RMS(samples []float32) float32 {
	return calculateRMS(samples)
}
