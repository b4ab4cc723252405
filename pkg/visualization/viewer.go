// Package visualization renders registration inputs and results: grayscale
// slices of images and volumes, and colour heatmaps of bias and displacement.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"metareg/internal/models"
)

// Viewer extracts and saves 2D slices of a 2D or 3D scalar field
type Viewer struct {
	field *models.Field

	// dimensions of the volume, depth 1 for 2D fields
	width  int
	height int
	depth  int

	// intensity window mapped to black..white
	lo, hi float64

	colormap *Colormap
}

// NewViewer creates a viewer windowed to the data range
func NewViewer(f *models.Field) (*Viewer, error) {
	if f.Components != 1 {
		return nil, errors.Errorf("viewer needs a scalar field, got %d components", f.Components)
	}
	dim := f.Geometry.Dimension()
	if dim != 2 && dim != 3 {
		return nil, errors.Errorf("viewer needs a 2D or 3D field, got %dD", dim)
	}
	v := &Viewer{
		field:  f,
		width:  f.Geometry.Size[0],
		height: f.Geometry.Size[1],
		depth:  1,
		lo:     floats.Min(f.Data),
		hi:     floats.Max(f.Data),
	}
	if dim == 3 {
		v.depth = f.Geometry.Size[2]
	}
	return v, nil
}

// SetWindow sets the intensity range shown; lo >= hi restores the data range
func (v *Viewer) SetWindow(lo, hi float64) {
	if lo >= hi {
		lo, hi = floats.Min(v.field.Data), floats.Max(v.field.Data)
	}
	v.lo, v.hi = lo, hi
}

// SetColormap renders slices in colour; nil renders grayscale
func (v *Viewer) SetColormap(c *Colormap) {
	v.colormap = c
}

// ExtractSlice returns the 2D plane at position along axis "x", "y" or "z"
func (v *Viewer) ExtractSlice(axis string, position int) (*models.Field, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}
	data := v.field.Data

	var out *models.Field
	switch axis {
	case "x", "X":
		// YZ plane, z across
		if position >= v.width {
			return nil, fmt.Errorf("position %d exceeds width %d", position, v.width)
		}
		out = models.NewImage(models.NewGeometry(v.depth, v.height))
		for y := 0; y < v.height; y++ {
			for z := 0; z < v.depth; z++ {
				out.Data[y*v.depth+z] = data[z*v.width*v.height+y*v.width+position]
			}
		}

	case "y", "Y":
		// XZ plane, z down
		if position >= v.height {
			return nil, fmt.Errorf("position %d exceeds height %d", position, v.height)
		}
		out = models.NewImage(models.NewGeometry(v.width, v.depth))
		for z := 0; z < v.depth; z++ {
			for x := 0; x < v.width; x++ {
				out.Data[z*v.width+x] = data[z*v.width*v.height+position*v.width+x]
			}
		}

	case "z", "Z":
		if position >= v.depth {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, v.depth)
		}
		out = models.NewImage(models.NewGeometry(v.width, v.height))
		copy(out.Data, data[position*v.width*v.height:(position+1)*v.width*v.height])

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}
	return out, nil
}

// Render turns a 2D slice into an image using the viewer's window and colormap
func (v *Viewer) Render(slice *models.Field) image.Image {
	if v.colormap != nil {
		return v.colormap.Render(slice, v.lo, v.hi)
	}
	w, h := slice.Geometry.Size[0], slice.Geometry.Size[1]
	img := image.NewGray16(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			t := normalize(slice.Data[y*w+x], v.lo, v.hi)
			img.SetGray16(x, y, color.Gray16{Y: uint16(math.Round(t * 65535))})
		}
	}
	return img
}

// SaveSlice saves an image as PNG
func SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return png.Encode(file, img)
}

// SaveSliceSequence extracts and saves every slice along the specified axis
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	var maxPos int
	switch axis {
	case "x", "X":
		maxPos = v.width
	case "y", "Y":
		maxPos = v.height
	case "z", "Z":
		maxPos = v.depth
	default:
		return fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	for pos := 0; pos < maxPos; pos++ {
		slice, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}
		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.png", axis, pos))
		if err := SaveSlice(v.Render(slice), filename); err != nil {
			return err
		}
	}
	return nil
}

// Magnitude returns the per-sample Euclidean norm of a vector field
func Magnitude(f *models.Field) *models.Field {
	out := models.NewImage(f.Geometry)
	for i := range out.Data {
		out.Data[i] = floats.Norm(f.At(i), 2)
	}
	return out
}

// Colormap interpolates between colour stops in CIE L*a*b*
type Colormap struct {
	stops []colorful.Color
}

// NewColormap builds a colormap from hex colours such as "#3b4cc0"
func NewColormap(hex ...string) (*Colormap, error) {
	if len(hex) < 2 {
		return nil, errors.New("a colormap needs at least two colours")
	}
	c := &Colormap{}
	for _, h := range hex {
		col, err := colorful.Hex(h)
		if err != nil {
			return nil, errors.Wrapf(err, "colour %q", h)
		}
		c.stops = append(c.stops, col)
	}
	return c, nil
}

// Diverging is blue through white to red, for signed quantities like the bias
func Diverging() *Colormap {
	c, _ := NewColormap("#3b4cc0", "#f7f7f7", "#b40426")
	return c
}

// Sequential is black through orange to yellow, for magnitudes
func Sequential() *Colormap {
	c, _ := NewColormap("#000004", "#b53679", "#fb9b06", "#fcffa4")
	return c
}

// At returns the colour for t in [0,1]
func (c *Colormap) At(t float64) colorful.Color {
	t = math.Max(0, math.Min(1, t))
	segments := float64(len(c.stops) - 1)
	i := int(t * segments)
	if i >= len(c.stops)-1 {
		return c.stops[len(c.stops)-1]
	}
	frac := t*segments - float64(i)
	if frac == 0 {
		return c.stops[i]
	}
	return c.stops[i].BlendLab(c.stops[i+1], frac).Clamped()
}

// Render maps a 2D scalar field from [lo, hi] through the colormap
func (c *Colormap) Render(slice *models.Field, lo, hi float64) image.Image {
	w, h := slice.Geometry.Size[0], slice.Geometry.Size[1]
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b := c.At(normalize(slice.Data[y*w+x], lo, hi)).RGB255()
			img.SetRGBA(x, y, color.RGBA{R: r, G: g, B: b, A: 255})
		}
	}
	return img
}

// SymmetricWindow returns [-m, m] with m the largest absolute value
func SymmetricWindow(f *models.Field) (lo, hi float64) {
	m := math.Max(math.Abs(floats.Min(f.Data)), math.Abs(floats.Max(f.Data)))
	return -m, m
}

func normalize(v, lo, hi float64) float64 {
	if !(hi > lo) {
		return 0
	}
	return math.Max(0, math.Min(1, (v-lo)/(hi-lo)))
}
