package aec

import "math"

// cplx is the complex value of a minimal radix-2 FFT used to turn real blockLen-sample
// windows into magnitude/phase form for the gain-mask model and back. Kept
// in-package rather than imported so the whole spectral path's numeric
// behavior is auditable against original_source/src-tauri/src/aec/mod.rs's
// use of realfft without pulling in a second FFT dependency alongside the
// ONNX runtime binding.
type cplx struct {
	re, im float64
}

func add(a, b cplx) cplx  { return cplx{a.re + b.re, a.im + b.im} }
func sub(a, b cplx) cplx  { return cplx{a.re - b.re, a.im - b.im} }
func mul(a, b cplx) cplx  { return cplx{a.re*b.re - a.im*b.im, a.re*b.im + a.im*b.re} }
func (a cplx) norm() float64 { return math.Hypot(a.re, a.im) }

// realFFT computes the FFT of a real-valued signal of length n (power of
// two) and returns the first n/2+1 complex bins (the non-redundant half for
// a real input).
func realFFT(x []float32) []cplx {
	n := len(x)
	buf := make([]cplx, n)
	for i, v := range x {
		buf[i] = cplx{float64(v), 0}
	}
	fft(buf, false)
	return buf[:n/2+1]
}

// inverseRealFFT reconstructs a length-n real signal from the n/2+1
// non-redundant complex bins produced by realFFT (or a mask applied to
// them), normalizing by 1/n as the cookbook FFT convention requires.
func inverseRealFFT(half []cplx, n int) []float32 {
	full := make([]cplx, n)
	copy(full, half)
	for i := 1; i < n-len(half)+1; i++ {
		src := half[len(half)-1-i]
		full[len(half)-1+i] = cplx{src.re, -src.im}
	}
	fft(full, true)
	out := make([]float32, n)
	for i, c := range full {
		out[i] = float32(c.re / float64(n))
	}
	return out
}

// fft is an in-place iterative Cooley-Tukey radix-2 FFT/IFFT. len(a) must
// be a power of two.
func fft(a []cplx, inverse bool) {
	n := len(a)
	for i, j := 1, 0; i < n; i++ {
		bit := n >> 1
		for ; j&bit != 0; bit >>= 1 {
			j ^= bit
		}
		j ^= bit
		if i < j {
			a[i], a[j] = a[j], a[i]
		}
	}

	for length := 2; length <= n; length <<= 1 {
		angle := 2 * math.Pi / float64(length)
		if !inverse {
			angle = -angle
		}
		wLen := cplx{math.Cos(angle), math.Sin(angle)}
		for i := 0; i < n; i += length {
			w := cplx{1, 0}
			half := length / 2
			for j := 0; j < half; j++ {
				u := a[i+j]
				v := mul(a[i+j+half], w)
				a[i+j] = add(u, v)
				a[i+j+half] = sub(u, v)
				w = mul(w, wLen)
			}
		}
	}
}
