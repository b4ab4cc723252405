// Package imageio reads and writes images as scalar fields. 2D images are
// PNG, JPEG or TIFF files; 3D volumes are directories of equally sized 2D
// slices ordered by the number in their file names.
package imageio

import (
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/image/tiff"

	"metareg/internal/models"
)

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".tif":  true,
	".tiff": true,
}

// Load reads a 2D image file or a directory of slices. spacing gives the
// physical sample spacing per axis and may be shorter than the dimension;
// missing axes use sliceGap for the stacking axis and 1 otherwise.
func Load(path string, spacing []float64, sliceGap float64) (*models.Field, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	var f *models.Field
	if info.IsDir() {
		f, err = LoadStack(path)
	} else {
		f, err = LoadImage(path)
	}
	if err != nil {
		return nil, err
	}

	for d := range f.Geometry.Spacing {
		switch {
		case d < len(spacing):
			f.Geometry.Spacing[d] = spacing[d]
		case d == 2 && sliceGap > 0:
			f.Geometry.Spacing[d] = sliceGap
		}
	}
	if err := f.Geometry.Validate(); err != nil {
		return nil, errors.Wrapf(err, "%s", path)
	}
	return f, nil
}

// LoadImage reads a single 2D image as intensities in [0,1]
func LoadImage(path string) (*models.Field, error) {
	img, err := decode(path)
	if err != nil {
		return nil, err
	}
	bounds := img.Bounds()
	f := models.NewImage(models.NewGeometry(bounds.Dx(), bounds.Dy()))
	imageToFloat(img, f.Data)
	return f, nil
}

// LoadStack reads every image in dir into a 3D field, slice order following
// the number embedded in each file name
func LoadStack(dir string) (*models.Field, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if imageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			files = append(files, e.Name())
		}
	}
	if len(files) == 0 {
		return nil, errors.Errorf("no images found in %s", dir)
	}

	sort.SliceStable(files, func(i, j int) bool {
		return extractNumber(files[i]) < extractNumber(files[j])
	})

	var out *models.Field
	var sliceSize int
	for z, name := range files {
		img, err := decode(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		bounds := img.Bounds()
		if out == nil {
			out = models.NewImage(models.NewGeometry(bounds.Dx(), bounds.Dy(), len(files)))
			sliceSize = bounds.Dx() * bounds.Dy()
		} else if bounds.Dx() != out.Geometry.Size[0] || bounds.Dy() != out.Geometry.Size[1] {
			return nil, errors.Wrapf(models.ErrShapeMismatch, "slice %s is %dx%d, expected %dx%d",
				name, bounds.Dx(), bounds.Dy(), out.Geometry.Size[0], out.Geometry.Size[1])
		}
		imageToFloat(img, out.Data[z*sliceSize:(z+1)*sliceSize])
	}
	return out, nil
}

func decode(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var img image.Image
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		img, err = png.Decode(file)
	case ".jpg", ".jpeg":
		img, err = jpeg.Decode(file)
	case ".tif", ".tiff":
		img, err = tiff.Decode(file)
	default:
		return nil, errors.Errorf("unsupported image format: %s", path)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode %s", path)
	}
	return img, nil
}

// imageToFloat writes the gray level of img into dst, scaled to [0,1]
func imageToFloat(img image.Image, dst []float64) {
	bounds := img.Bounds()
	width := bounds.Dx()
	for y := 0; y < bounds.Dy(); y++ {
		for x := 0; x < width; x++ {
			g := color.Gray16Model.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.Gray16)
			dst[y*width+x] = float64(g.Y) / 65535.0
		}
	}
}

// extractNumber returns the digits of a file name as a number, 0 without digits
func extractNumber(filename string) int {
	base := filepath.Base(filename)
	var digits strings.Builder
	for _, c := range base {
		if c >= '0' && c <= '9' {
			digits.WriteRune(c)
		}
	}
	if digits.Len() > 0 {
		if num, err := strconv.Atoi(digits.String()); err == nil {
			return num
		}
	}
	return 0
}
