package visualization

import (
	"fmt"
	"image"
	"math"
	"os"
	"path/filepath"
	"testing"

	"metareg/internal/models"
)

func testVolume(width, height, depth int) *models.Field {
	f := models.NewImage(models.NewGeometry(width, height, depth))
	for z := 0; z < depth; z++ {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				f.Data[z*width*height+y*width+x] = float64(x) + 10*float64(y) + 100*float64(z)
			}
		}
	}
	return f
}

// TestNewViewer verifies dimensions and rejection of unsupported fields
func TestNewViewer(t *testing.T) {
	viewer, err := NewViewer(testVolume(6, 4, 3))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if viewer.width != 6 || viewer.height != 4 || viewer.depth != 3 {
		t.Errorf("Expected 6x4x3, got %dx%dx%d", viewer.width, viewer.height, viewer.depth)
	}

	flat, err := NewViewer(models.NewImage(models.NewGeometry(5, 5)))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if flat.depth != 1 {
		t.Errorf("Expected depth 1 for a 2D field, got %d", flat.depth)
	}

	if _, err := NewViewer(models.NewVectorField(models.NewGeometry(5, 5))); err == nil {
		t.Error("Expected error for a vector field, got nil")
	}
	if _, err := NewViewer(models.NewImage(models.NewGeometry(5))); err == nil {
		t.Error("Expected error for a 1D field, got nil")
	}
}

// TestExtractSlice verifies planes are taken along the right axes
func TestExtractSlice(t *testing.T) {
	width, height, depth := 6, 4, 3
	viewer, err := NewViewer(testVolume(width, height, depth))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	z, err := viewer.ExtractSlice("z", 2)
	if err != nil {
		t.Fatalf("Failed to extract Z slice: %v", err)
	}
	if z.Geometry.Size[0] != width || z.Geometry.Size[1] != height {
		t.Errorf("Expected Z slice %dx%d, got %v", width, height, z.Geometry.Size)
	}
	if got := z.Data[1*width+3]; got != 213 {
		t.Errorf("Expected 213 at (3,1) of Z slice, got %v", got)
	}

	x, err := viewer.ExtractSlice("x", 5)
	if err != nil {
		t.Fatalf("Failed to extract X slice: %v", err)
	}
	if x.Geometry.Size[0] != depth || x.Geometry.Size[1] != height {
		t.Errorf("Expected X slice %dx%d, got %v", depth, height, x.Geometry.Size)
	}
	if got := x.Data[2*depth+1]; got != 125 {
		t.Errorf("Expected 125 at (z=1,y=2) of X slice, got %v", got)
	}

	y, err := viewer.ExtractSlice("y", 3)
	if err != nil {
		t.Fatalf("Failed to extract Y slice: %v", err)
	}
	if y.Geometry.Size[0] != width || y.Geometry.Size[1] != depth {
		t.Errorf("Expected Y slice %dx%d, got %v", width, depth, y.Geometry.Size)
	}
	if got := y.Data[2*width+4]; got != 234 {
		t.Errorf("Expected 234 at (x=4,z=2) of Y slice, got %v", got)
	}

	if _, err := viewer.ExtractSlice("invalid", 0); err == nil {
		t.Error("Expected error for invalid axis, got nil")
	}
	if _, err := viewer.ExtractSlice("z", depth); err == nil {
		t.Error("Expected error for out of bounds position, got nil")
	}
	if _, err := viewer.ExtractSlice("x", -1); err == nil {
		t.Error("Expected error for negative position, got nil")
	}
}

// TestRenderWindow checks the window maps to black and white
func TestRenderWindow(t *testing.T) {
	f := models.NewImage(models.NewGeometry(3, 1))
	f.Data = []float64{-1, 0.5, 4}
	viewer, err := NewViewer(f)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	viewer.SetWindow(0, 1)
	slice, _ := viewer.ExtractSlice("z", 0)
	img, ok := viewer.Render(slice).(*image.Gray16)
	if !ok {
		t.Fatalf("Expected *image.Gray16")
	}
	if img.Gray16At(0, 0).Y != 0 || img.Gray16At(2, 0).Y != 65535 {
		t.Errorf("Expected clamped extremes, got %d and %d", img.Gray16At(0, 0).Y, img.Gray16At(2, 0).Y)
	}
	if mid := img.Gray16At(1, 0).Y; math.Abs(float64(mid)-32768) > 1 {
		t.Errorf("Expected mid gray, got %d", mid)
	}
}

// TestColormap checks end stops and interpolation stays in gamut
func TestColormap(t *testing.T) {
	c := Diverging()
	r, g, b := c.At(0).RGB255()
	if r != 0x3b || g != 0x4c || b != 0xc0 {
		t.Errorf("Expected first stop #3b4cc0, got %02x%02x%02x", r, g, b)
	}
	r, g, b = c.At(1).RGB255()
	if r != 0xb4 || g != 0x04 || b != 0x26 {
		t.Errorf("Expected last stop #b40426, got %02x%02x%02x", r, g, b)
	}
	for i := 0; i <= 20; i++ {
		if col := c.At(float64(i) / 20); !col.IsValid() {
			t.Errorf("Expected a valid colour at %d/20, got %v", i, col)
		}
	}

	if _, err := NewColormap("#000000"); err == nil {
		t.Error("Expected error for a single stop")
	}
	if _, err := NewColormap("#000000", "nope"); err == nil {
		t.Error("Expected error for a malformed colour")
	}
}

// TestMagnitude checks vector norms
func TestMagnitude(t *testing.T) {
	f := models.NewVectorField(models.NewGeometry(2, 1))
	f.Data = []float64{3, 4, 0, -2}
	m := Magnitude(f)
	if m.Data[0] != 5 || m.Data[1] != 2 {
		t.Errorf("Expected [5 2], got %v", m.Data)
	}
	lo, hi := SymmetricWindow(f)
	if lo != -4 || hi != 4 {
		t.Errorf("Expected window [-4 4], got [%v %v]", lo, hi)
	}
}

// TestSaveSliceSequence verifies that a sequence of slices can be saved
func TestSaveSliceSequence(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping file I/O test in short mode")
	}

	tempDir := t.TempDir()
	width, height, depth := 5, 5, 3
	viewer, err := NewViewer(testVolume(width, height, depth))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	outputDir := filepath.Join(tempDir, "slices")
	if err := viewer.SaveSliceSequence("z", outputDir); err != nil {
		t.Fatalf("Failed to save slice sequence: %v", err)
	}
	for z := 0; z < depth; z++ {
		filename := filepath.Join(outputDir, fmt.Sprintf("slice_z_%03d.png", z))
		if _, err := os.Stat(filename); os.IsNotExist(err) {
			t.Errorf("Expected slice file does not exist: %s", filename)
		}
	}

	viewer.SetColormap(Sequential())
	colourDir := filepath.Join(tempDir, "colour")
	if err := viewer.SaveSliceSequence("x", colourDir); err != nil {
		t.Fatalf("Failed to save colour sequence: %v", err)
	}
	if _, err := os.Stat(filepath.Join(colourDir, "slice_x_004.png")); os.IsNotExist(err) {
		t.Error("Expected the last x slice to be saved")
	}

	if err := viewer.SaveSliceSequence("invalid", outputDir); err == nil {
		t.Error("Expected error for invalid axis, got nil")
	}
}
