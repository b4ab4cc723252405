package metric

import (
	"math"
	"math/rand"
	"testing"

	"github.com/pkg/errors"

	"metareg/internal/models"
)

func randomImage(geom models.Geometry, seed int64) *models.Field {
	rng := rand.New(rand.NewSource(seed))
	img := models.NewImage(geom)
	for i := range img.Data {
		img.Data[i] = rng.Float64()
	}
	return img
}

// TestMeanSquaresValue checks the energy scaling with sigma and voxel volume
func TestMeanSquaresValue(t *testing.T) {
	geom := models.NewGeometry(4, 3)
	geom.Spacing = []float64{0.5, 2}
	a := models.NewImage(geom)
	b := models.NewImage(geom)
	a.Fill(3)
	b.Fill(1)

	m := MeanSquares{Sigma: 2}
	v, err := m.Value(a, b, nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	// 12 samples * 4 * volume 1 / (2*4)
	if math.Abs(v-6) > 1e-12 {
		t.Errorf("Expected energy 6, got %v", v)
	}

	d, err := m.Derivative(a, b, nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	for i, x := range d.Data {
		if math.Abs(x-0.5) > 1e-12 {
			t.Fatalf("Expected derivative 0.5 at %d, got %v", i, x)
		}
	}
}

// TestMaskEqualsZeroedResidual checks a mask is the same as zeroing the residual outside it
func TestMaskEqualsZeroedResidual(t *testing.T) {
	geom := models.NewGeometry(10, 8)
	fixed := randomImage(geom, 1)
	moving := randomImage(geom, 2)

	mask := models.NewImage(geom)
	zeroed := moving.Clone()
	for y := 0; y < 8; y++ {
		for x := 0; x < 10; x++ {
			off := y*10 + x
			if x >= 2 && x < 7 && y >= 3 && y < 6 {
				mask.Data[off] = 1
			} else {
				zeroed.Data[off] = fixed.Data[off]
			}
		}
	}

	m := MeanSquares{Sigma: 0.7, Workers: 3}
	masked, err := m.Value(moving, fixed, mask)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	plain, err := m.Value(zeroed, fixed, nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if math.Abs(masked-plain) > 1e-12 {
		t.Errorf("Expected masked energy %v to equal zeroed-residual energy %v", masked, plain)
	}

	d, _ := m.Derivative(moving, fixed, mask)
	for i := range d.Data {
		if mask.Data[i] == 0 && d.Data[i] != 0 {
			t.Fatalf("Expected zero derivative outside the mask at %d", i)
		}
	}
}

// TestMetricRejectsMismatchedGrids checks shape errors
func TestMetricRejectsMismatchedGrids(t *testing.T) {
	a := models.NewImage(models.NewGeometry(4, 4))
	b := models.NewImage(models.NewGeometry(4, 5))
	if _, err := (MeanSquares{Sigma: 1}).Value(a, b, nil); !errors.Is(err, models.ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch, got %v", err)
	}
	if _, err := (MeanSquares{Sigma: 0}).Value(a, a, nil); err == nil {
		t.Error("Expected an error for zero sigma")
	}
}

// TestGradientOfRamp checks central differences in physical units
func TestGradientOfRamp(t *testing.T) {
	geom := models.NewGeometry(5, 4)
	geom.Spacing = []float64{2, 0.5}
	img := models.NewImage(geom)
	for y := 0; y < 4; y++ {
		for x := 0; x < 5; x++ {
			// 3 per unit along x, -1 per unit along y
			img.Data[y*5+x] = 3*float64(x)*2 - float64(y)*0.5
		}
	}
	g := Gradient(img, 2)
	for off := 0; off < geom.NumberOfPixels(); off++ {
		v := g.At(off)
		if math.Abs(v[0]-3) > 1e-12 || math.Abs(v[1]+1) > 1e-12 {
			t.Fatalf("Expected gradient (3, -1) at %d, got %v", off, v)
		}
	}
}

// TestCompareIdentical checks quality of an image against itself
func TestCompareIdentical(t *testing.T) {
	img := randomImage(models.NewGeometry(16, 16), 4)
	q, err := Compare(img, img, nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if q.RMSE != 0 || q.MeanAbsDiff != 0 {
		t.Errorf("Expected zero error, got RMSE %v MAD %v", q.RMSE, q.MeanAbsDiff)
	}
	if math.Abs(q.Correlation-1) > 1e-12 {
		t.Errorf("Expected correlation 1, got %v", q.Correlation)
	}
	if math.Abs(q.SSIM-1) > 1e-12 {
		t.Errorf("Expected SSIM 1, got %v", q.SSIM)
	}
	if q.EntropyDiff != 0 {
		t.Errorf("Expected zero entropy difference, got %v", q.EntropyDiff)
	}
}

// TestCompareOffset checks RMSE for a constant shift
func TestCompareOffset(t *testing.T) {
	geom := models.NewGeometry(8, 8)
	a := randomImage(geom, 5)
	b := a.Clone()
	for i := range b.Data {
		b.Data[i] += 0.1
	}
	q, err := Compare(a, b, nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if math.Abs(q.RMSE-0.1) > 1e-12 {
		t.Errorf("Expected RMSE 0.1, got %v", q.RMSE)
	}
	if q.SSIM >= 1 {
		t.Errorf("Expected SSIM below 1 for shifted intensities, got %v", q.SSIM)
	}

	empty := models.NewImage(geom)
	if _, err := Compare(a, b, empty); err == nil {
		t.Error("Expected an error for an empty mask")
	}
}
