package metric

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"metareg/internal/models"
)

// Quality holds agreement measures between a registered image and its target.
// They are reported alongside the energies and play no part in optimisation.
type Quality struct {
	// RMSE is the root mean square intensity difference. Lower is better.
	RMSE float64

	// MeanAbsDiff is the mean absolute intensity difference
	MeanAbsDiff float64

	// Correlation is the Pearson correlation of intensities, in [-1, 1]
	Correlation float64

	// MI approximates mutual information under a joint Gaussian model
	MI float64

	// SSIM is the global structural similarity index. 1 means identical.
	SSIM float64

	// EntropyDiff is the absolute difference of the intensity entropies in bits
	EntropyDiff float64
}

// Compare computes Quality for two scalar images on the same grid, over the
// samples where mask is non-zero (every sample for a nil mask).
func Compare(a, b, mask *models.Field) (Quality, error) {
	if err := checkImages(a, b, mask); err != nil {
		return Quality{}, err
	}
	x, y := maskedValues(a, b, mask)
	if len(x) == 0 {
		return Quality{}, errors.New("mask selects no samples")
	}

	diff := make([]float64, len(x))
	floats.SubTo(diff, x, y)

	q := Quality{
		RMSE:        floats.Norm(diff, 2) / math.Sqrt(float64(len(diff))),
		MeanAbsDiff: floats.Norm(diff, 1) / float64(len(diff)),
		SSIM:        ssim(x, y),
		MI:          gaussianMutualInformation(x, y),
		EntropyDiff: math.Abs(entropy(x) - entropy(y)),
	}
	if len(x) > 1 {
		if c := stat.Correlation(x, y, nil); !math.IsNaN(c) {
			q.Correlation = c
		}
	}
	return q, nil
}

func maskedValues(a, b, mask *models.Field) (x, y []float64) {
	if mask == nil {
		return a.Data, b.Data
	}
	for i, m := range mask.Data {
		if m != 0 {
			x = append(x, a.Data[i])
			y = append(y, b.Data[i])
		}
	}
	return x, y
}

// ssim over the whole image with the usual stabilisers for unit dynamic range
func ssim(x, y []float64) float64 {
	const (
		dynamicRange = 1.0
		k1           = 0.01
		k2           = 0.03
	)
	c1 := (k1 * dynamicRange) * (k1 * dynamicRange)
	c2 := (k2 * dynamicRange) * (k2 * dynamicRange)

	muX, varX := stat.PopMeanVariance(x, nil)
	muY, varY := stat.PopMeanVariance(y, nil)
	covXY := 0.0
	for i := range x {
		covXY += (x[i] - muX) * (y[i] - muY)
	}
	covXY /= float64(len(x))

	num := (2*muX*muY + c1) * (2*covXY + c2)
	den := (muX*muX + muY*muY + c1) * (varX + varY + c2)
	if den > 0 {
		return num / den
	}
	return 0
}

// gaussianMutualInformation is 0.5*log(varX*varY / (varX*varY - cov^2))
func gaussianMutualInformation(x, y []float64) float64 {
	if len(x) < 2 {
		return 0
	}
	varX := stat.Variance(x, nil)
	varY := stat.Variance(y, nil)
	cov := stat.Covariance(x, y, nil)
	if varX > 0 && varY > 0 {
		det := varX*varY - cov*cov
		if det > 0 {
			return 0.5 * math.Log(varX*varY/det)
		}
	}
	return 0
}

// entropy of a 256-bin intensity histogram, in bits
func entropy(data []float64) float64 {
	const numBins = 256
	lo, hi := floats.Min(data), floats.Max(data)
	if hi <= lo {
		return 0
	}

	hist := make([]float64, numBins)
	width := (hi - lo) / numBins
	for _, v := range data {
		bin := int((v - lo) / width)
		if bin >= numBins {
			bin = numBins - 1
		}
		hist[bin]++
	}

	n := float64(len(data))
	for i := range hist {
		hist[i] /= n
	}
	return stat.Entropy(hist) / math.Ln2
}
