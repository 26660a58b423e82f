package features

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// waveletSupportSamples computes the Morlet wavelet's statistical
// support in samples at the given frequency: 3.5 standard deviations of
// its Gaussian envelope, per spec.md §4.4 step 3 ("the minimum mirroring
// width used above must be >= the wavelet's statistical support at its
// lowest frequency, computed deterministically from width and min
// frequency").
func waveletSupportSamples(freqHz, widthCycles, rateHz float64) int {
	sigmaT := widthCycles / (2 * math.Pi * freqHz)
	return int(math.Ceil(3.5 * sigmaT * rateHz))
}

// morletKernel builds a complex Morlet wavelet sampled at rateHz,
// centered at index len(kernel)/2, normalized to unit energy.
func morletKernel(freqHz, widthCycles, rateHz float64) []complex128 {
	half := waveletSupportSamples(freqHz, widthCycles, rateHz)
	sigmaT := widthCycles / (2 * math.Pi * freqHz)

	n := 2*half + 1
	kernel := make([]complex128, n)
	var norm float64
	for i := 0; i < n; i++ {
		t := float64(i-half) / rateHz
		gauss := math.Exp(-(t * t) / (2 * sigmaT * sigmaT))
		phase := 2 * math.Pi * freqHz * t
		v := cmplx.Rect(gauss, phase)
		kernel[i] = v
		norm += gauss * gauss
	}
	scale := 1 / math.Sqrt(norm)
	for i := range kernel {
		kernel[i] *= complex(scale, 0)
	}
	return kernel
}

// convolveSame performs a linear convolution of a real signal with a
// complex kernel via FFT multiply (zero-padded to avoid circular
// wrap-around), returning a result the same length as signal, aligned so
// that output[i] corresponds to input sample i (the kernel is centered).
func convolveSame(signal []float64, kernel []complex128) []complex128 {
	full := len(signal) + len(kernel) - 1
	n := nextPow2(full)

	sig := make([]complex128, n)
	for i, v := range signal {
		sig[i] = complex(v, 0)
	}
	ker := make([]complex128, n)
	copy(ker, kernel)

	fft := fourier.NewCmplxFFT(n)
	sigF := fft.Coefficients(nil, sig)
	kerF := fft.Coefficients(nil, ker)

	prodF := make([]complex128, n)
	for i := range prodF {
		prodF[i] = sigF[i] * kerF[i]
	}

	full128 := fft.Sequence(nil, prodF)

	center := (len(kernel) - 1) / 2
	out := make([]complex128, len(signal))
	copy(out, full128[center:center+len(signal)])
	return out
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// morletPower computes instantaneous power |.|^2 of the Morlet
// time-frequency decomposition of signal at freqHz.
func morletPower(signal []float64, freqHz, widthCycles, rateHz float64) []float64 {
	kernel := morletKernel(freqHz, widthCycles, rateHz)
	conv := convolveSame(signal, kernel)
	power := make([]float64, len(conv))
	for i, c := range conv {
		power[i] = real(c)*real(c) + imag(c)*imag(c)
	}
	return power
}
