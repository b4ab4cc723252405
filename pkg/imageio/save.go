package imageio

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/image/tiff"
	"gonum.org/v1/gonum/floats"
	"gopkg.in/yaml.v3"

	"metareg/internal/models"
)

// SaveImage writes a 2D scalar field as a 16-bit grayscale image, mapping
// [lo, hi] to black..white. lo >= hi selects the data range.
func SaveImage(path string, f *models.Field, lo, hi float64) error {
	if f.Components != 1 || f.Geometry.Dimension() != 2 {
		return errors.Errorf("can only save 2D scalar fields as images, got %d components on %v", f.Components, f.Geometry.Size)
	}
	img := floatToImage(f.Data, f.Geometry.Size[0], f.Geometry.Size[1], lo, hi)
	return encode(path, img)
}

// SaveStack writes a 3D scalar field as numbered PNG slices along the last axis
func SaveStack(dir string, f *models.Field, lo, hi float64) error {
	if f.Components != 1 || f.Geometry.Dimension() != 3 {
		return errors.Errorf("can only save 3D scalar fields as stacks, got %d components on %v", f.Components, f.Geometry.Size)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "failed to create stack directory")
	}
	if lo >= hi {
		lo, hi = floats.Min(f.Data), floats.Max(f.Data)
	}
	w, h, depth := f.Geometry.Size[0], f.Geometry.Size[1], f.Geometry.Size[2]
	for z := 0; z < depth; z++ {
		img := floatToImage(f.Data[z*w*h:(z+1)*w*h], w, h, lo, hi)
		if err := encode(filepath.Join(dir, fmt.Sprintf("slice_%03d.png", z)), img); err != nil {
			return err
		}
	}
	return nil
}

func encode(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "failed to create output directory")
	}
	file, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "failed to create image file")
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		err = png.Encode(file, img)
	case ".jpg", ".jpeg":
		err = jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
	case ".tif", ".tiff":
		err = tiff.Encode(file, img, &tiff.Options{Compression: tiff.Deflate})
	default:
		return errors.Errorf("unsupported image format: %s", path)
	}
	if err != nil {
		return errors.Wrapf(err, "failed to encode %s", path)
	}
	return nil
}

// floatToImage maps data from [lo, hi] to 16-bit gray, clamping outliers
func floatToImage(data []float64, width, height int, lo, hi float64) *image.Gray16 {
	if lo >= hi {
		lo, hi = floats.Min(data), floats.Max(data)
	}
	scale := 0.0
	if hi > lo {
		scale = 1 / (hi - lo)
	}
	img := image.NewGray16(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := (data[y*width+x] - lo) * scale
			v = math.Max(0, math.Min(1, v))
			img.SetGray16(x, y, color.Gray16{Y: uint16(math.Round(v * 65535))})
		}
	}
	return img
}

// rawHeader describes the layout of a raw field file
type rawHeader struct {
	Size       []int     `yaml:"size"`
	Spacing    []float64 `yaml:"spacing"`
	Origin     []float64 `yaml:"origin"`
	Components int       `yaml:"components"`
	ByteOrder  string    `yaml:"byteOrder"`
}

// SaveRaw writes any field as little-endian float64 samples to path and its
// geometry to path + ".yaml"
func SaveRaw(path string, f *models.Field) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "failed to create output directory")
	}

	header, err := yaml.Marshal(rawHeader{
		Size:       f.Geometry.Size,
		Spacing:    f.Geometry.Spacing,
		Origin:     f.Geometry.Origin,
		Components: f.Components,
		ByteOrder:  "little",
	})
	if err != nil {
		return errors.Wrap(err, "failed to marshal raw header")
	}
	if err := os.WriteFile(path+".yaml", header, 0644); err != nil {
		return errors.Wrap(err, "failed to write raw header")
	}

	file, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "failed to create raw file")
	}
	defer file.Close()
	w := bufio.NewWriter(file)
	if err := binary.Write(w, binary.LittleEndian, f.Data); err != nil {
		return errors.Wrap(err, "failed to write raw data")
	}
	return w.Flush()
}

// LoadRaw reads a field written by SaveRaw
func LoadRaw(path string) (*models.Field, error) {
	data, err := os.ReadFile(path + ".yaml")
	if err != nil {
		return nil, errors.Wrap(err, "failed to read raw header")
	}
	var h rawHeader
	if err := yaml.Unmarshal(data, &h); err != nil {
		return nil, errors.Wrap(err, "failed to parse raw header")
	}
	geom := models.Geometry{Size: h.Size, Spacing: h.Spacing, Origin: h.Origin}
	if err := geom.Validate(); err != nil {
		return nil, errors.Wrap(err, "raw header")
	}
	if h.Components < 1 {
		return nil, errors.Errorf("raw header has %d components", h.Components)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	f := models.NewField(geom, h.Components)
	if err := binary.Read(bufio.NewReader(file), binary.LittleEndian, f.Data); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, errors.Wrap(models.ErrShapeMismatch, "raw file is shorter than its header")
		}
		return nil, errors.Wrap(err, "failed to read raw data")
	}
	return f, nil
}
