package spectral

import "metareg/internal/models"

// loadComponent copies component c of f into a complex buffer laid out on
// f's grid. The transform runs on the grid itself, so the field is treated
// as one period of a periodic signal, the same convention as wrap
// extrapolation.
func loadComponent(f *models.Field, c int, dst []complex128) []complex128 {
	n := f.NumberOfPixels()
	if len(dst) != n {
		dst = make([]complex128, n)
	}
	for i := range dst {
		dst[i] = complex(f.Data[i*f.Components+c], 0)
	}
	return dst
}

// storeComponent writes the real part of src into component c of f
func storeComponent(src []complex128, f *models.Field, c int) {
	for i, v := range src {
		f.Data[i*f.Components+c] = real(v)
	}
}
