// Package audio provides the sample-stream primitives shared by the rest of
// the transcription pipeline: rate conversion to the engine's canonical
// 16 kHz mono format, DC/HPF/RMS preprocessing, and WAV encoding for
// backends that need a file-shaped payload.
package audio

const (
	// TargetSampleRate is the canonical rate every downstream component
	// (VAD, AEC, the ASR backends) expects.
	TargetSampleRate = 16000
	// FrameDurationMs is the fixed frame size the resampler emits.
	FrameDurationMs = 30
	// FrameSamples is FrameDurationMs of audio at TargetSampleRate.
	FrameSamples = TargetSampleRate * FrameDurationMs / 1000 // 480
)

// FrameSink receives a completed, fixed-size frame. The slice is only valid
// for the duration of the call; implementations that need to retain it must
// copy.
type FrameSink func(frame []float32)

// FrameResampler converts an arbitrary-rate mono f32 stream into 16 kHz
// mono, fixed-size (480-sample) frames delivered to a caller-supplied sink.
// It buffers partial frames across calls so callers may push samples in
// whatever batch sizes their source delivers them.
type FrameResampler struct {
	inputRate int
	ratio     float64 // inputRate / TargetSampleRate

	sink FrameSink

	// carry holds resampled-but-not-yet-a-full-frame samples between calls.
	carry []float32

	// linear interpolation position and last input sample, for continuity
	// across Push calls.
	pos      float64
	lastIn   float32
	haveLast bool
}

// NewFrameResampler builds a resampler converting from inputRate Hz to
// TargetSampleRate Hz, emitting frames to sink. At 16 kHz input the
// resampler is an identity pass-through.
func NewFrameResampler(inputRate int, sink FrameSink) *FrameResampler {
	if inputRate <= 0 {
		inputRate = TargetSampleRate
	}
	return &FrameResampler{
		inputRate: inputRate,
		ratio:     float64(inputRate) / float64(TargetSampleRate),
		sink:      sink,
		carry:     make([]float32, 0, FrameSamples*2),
	}
}

// Push feeds raw samples at the resampler's configured input rate. Complete
// 480-sample 16 kHz frames are emitted to the sink as they become available.
// Empty input is a silent no-op.
func (r *FrameResampler) Push(samples []float32) {
	if len(samples) == 0 {
		return
	}

	if r.inputRate == TargetSampleRate {
		r.carry = append(r.carry, samples...)
	} else {
		r.carry = append(r.carry, r.resample(samples)...)
	}

	r.drainFrames()
}

// drainFrames emits every complete frame currently buffered, retaining any
// trailing partial frame in carry.
func (r *FrameResampler) drainFrames() {
	n := len(r.carry)
	full := n - n%FrameSamples
	for off := 0; off < full; off += FrameSamples {
		r.sink(r.carry[off : off+FrameSamples])
	}
	if full > 0 {
		remaining := n - full
		copy(r.carry[:remaining], r.carry[full:n])
		r.carry = r.carry[:remaining]
	}
}

// resample performs linear interpolation from r.inputRate down (or up) to
// TargetSampleRate. Linear interpolation is explicitly acceptable for the
// VAD path and is used uniformly here; a higher-quality polyphase path is
// not required by any consumer of this resampler.
func (r *FrameResampler) resample(in []float32) []float32 {
	if !r.haveLast && len(in) > 0 {
		r.lastIn = in[0]
		r.haveLast = true
	}

	out := make([]float32, 0, int(float64(len(in))/r.ratio)+2)
	i := 0
	for i < len(in) {
		for r.pos < 1.0 && i < len(in) {
			cur := in[i]
			sample := r.lastIn + float32(r.pos)*(cur-r.lastIn)
			out = append(out, sample)
			r.pos += r.ratio
		}
		if i < len(in) {
			r.lastIn = in[i]
		}
		r.pos -= 1.0
		i++
	}
	return out
}

// Reset clears all buffered state. Call between sessions so a new session
// does not inherit interpolation phase or partial frames from the last one.
func (r *FrameResampler) Reset() {
	r.carry = r.carry[:0]
	r.pos = 0
	r.haveLast = false
}
