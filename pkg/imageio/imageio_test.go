package imageio

import (
	"math"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/pkg/errors"

	"metareg/internal/models"
)

func gradientImage(w, h int) *models.Field {
	f := models.NewImage(models.NewGeometry(w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			f.Data[y*w+x] = float64(x+y) / float64(w+h-2)
		}
	}
	return f
}

// TestImageRoundTrip checks 16-bit PNG and TIFF keep intensities
func TestImageRoundTrip(t *testing.T) {
	src := gradientImage(9, 6)
	for _, ext := range []string{".png", ".tif"} {
		path := filepath.Join(t.TempDir(), "img"+ext)
		if err := SaveImage(path, src, 0, 1); err != nil {
			t.Fatalf("Unexpected error saving %s: %v", ext, err)
		}
		got, err := LoadImage(path)
		if err != nil {
			t.Fatalf("Unexpected error loading %s: %v", ext, err)
		}
		if !got.SameShape(src) {
			t.Fatalf("Expected size %v, got %v", src.Geometry.Size, got.Geometry.Size)
		}
		for i := range src.Data {
			if math.Abs(got.Data[i]-src.Data[i]) > 1.0/65535 {
				t.Fatalf("Expected %v at %d for %s, got %v", src.Data[i], i, ext, got.Data[i])
			}
		}
	}
}

// TestStackOrderFollowsFileNumbers checks slices sort numerically, not lexically
func TestStackOrderFollowsFileNumbers(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []int{10, 2, 1} {
		f := models.NewImage(models.NewGeometry(4, 3))
		f.Fill(float64(n) / 10)
		name := filepath.Join(dir, "slice"+strconv.Itoa(n)+".png")
		if err := SaveImage(name, f, 0, 1); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	vol, err := Load(dir, []float64{0.5, 0.5}, 2.5)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if vol.Geometry.Dimension() != 3 || vol.Geometry.Size[2] != 3 {
		t.Fatalf("Expected 4x3x3 volume, got %v", vol.Geometry.Size)
	}
	if vol.Geometry.Spacing[0] != 0.5 || vol.Geometry.Spacing[2] != 2.5 {
		t.Errorf("Expected spacing [0.5 0.5 2.5], got %v", vol.Geometry.Spacing)
	}
	for z, want := range []float64{0.1, 0.2, 1.0} {
		if got := vol.Data[z*12]; math.Abs(got-want) > 1e-4 {
			t.Errorf("Expected slice %d value %v, got %v", z, want, got)
		}
	}
}

// TestStackRejectsMixedSizes checks all slices must share a size
func TestStackRejectsMixedSizes(t *testing.T) {
	dir := t.TempDir()
	if err := SaveImage(filepath.Join(dir, "1.png"), gradientImage(4, 4), 0, 1); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if err := SaveImage(filepath.Join(dir, "2.png"), gradientImage(5, 4), 0, 1); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if _, err := LoadStack(dir); !errors.Is(err, models.ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch, got %v", err)
	}
}

// TestRawRoundTrip checks vector fields keep values and geometry
func TestRawRoundTrip(t *testing.T) {
	geom := models.NewGeometry(3, 4)
	geom.Spacing = []float64{0.5, 2}
	geom.Origin = []float64{-1, 3}
	f := models.NewVectorField(geom)
	for i := range f.Data {
		f.Data[i] = float64(i) * 0.125
	}

	path := filepath.Join(t.TempDir(), "disp.raw")
	if err := SaveRaw(path, f); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	got, err := LoadRaw(path)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !got.SameShape(f) {
		t.Fatalf("Expected geometry %+v, got %+v", f.Geometry, got.Geometry)
	}
	for i := range f.Data {
		if got.Data[i] != f.Data[i] {
			t.Fatalf("Expected %v at %d, got %v", f.Data[i], i, got.Data[i])
		}
	}
}

// TestUnsupportedFormat checks unknown extensions are rejected
func TestUnsupportedFormat(t *testing.T) {
	if err := SaveImage(filepath.Join(t.TempDir(), "img.bmp"), gradientImage(2, 2), 0, 1); err == nil {
		t.Error("Expected an error for .bmp")
	}
	if err := SaveImage(filepath.Join(t.TempDir(), "vec.png"), models.NewVectorField(models.NewGeometry(2, 2)), 0, 1); err == nil {
		t.Error("Expected an error for a vector field")
	}
}

// TestExtractNumber checks digits are collected from the base name
func TestExtractNumber(t *testing.T) {
	cases := map[string]int{"slice_012.png": 12, "dir9/img.png": 0, "a1b2.tif": 12}
	for name, want := range cases {
		if got := extractNumber(name); got != want {
			t.Errorf("Expected %d for %s, got %d", want, name, got)
		}
	}
}
