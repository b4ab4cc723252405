package spectral

import (
	"gonum.org/v1/gonum/dsp/fourier"

	"metareg/internal/parallel"
)

// fftND performs an in-place N-dimensional discrete Fourier transform of data
// laid out on a grid of the given size (axis 0 fastest). The transform is
// separable, so it is computed as 1-D complex transforms along every line of
// every axis. Lines of one axis are independent and are spread over workers;
// each axis is a synchronisation point for the next.
//
// Parameters:
//   - data: grid samples, transformed in place
//   - size: extent of each axis
//   - inverse: when true compute the inverse transform, scaled by 1/N
//   - workers: goroutine count, 0 for all CPUs
func fftND(data []complex128, size []int, inverse bool, workers int) {
	total := len(data)
	stride := 1
	for _, n := range size {
		if n > 1 {
			fftAxis(data, total, n, stride, inverse, workers)
		}
		stride *= n
	}

	if inverse {
		scale := complex(1/float64(total), 0)
		for i := range data {
			data[i] *= scale
		}
	}
}

// fftAxis transforms every line along one axis. A line starts at
// outer*stride*n + inner and visits n samples spaced stride apart.
func fftAxis(data []complex128, total, n, stride int, inverse bool, workers int) {
	lines := total / n
	parallel.For(workers, lines, func(start, end int) {
		// gonum plans hold scratch space and are not safe for concurrent use
		plan := fourier.NewCmplxFFT(n)
		line := make([]complex128, n)
		out := make([]complex128, n)
		for l := start; l < end; l++ {
			outer := l / stride
			inner := l % stride
			base := outer*stride*n + inner

			for j := 0; j < n; j++ {
				line[j] = data[base+j*stride]
			}
			if inverse {
				plan.Sequence(out, line)
			} else {
				plan.Coefficients(out, line)
			}
			for j := 0; j < n; j++ {
				data[base+j*stride] = out[j]
			}
		}
	})
}
