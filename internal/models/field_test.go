package models

import (
	"testing"

	"github.com/pkg/errors"
)

// TestGeometryIndexRoundTrip checks offset and index conversions agree
func TestGeometryIndexRoundTrip(t *testing.T) {
	g := NewGeometry(4, 3, 5)
	idx := make([]int, 3)
	for off := 0; off < g.NumberOfPixels(); off++ {
		idx = g.Index(off, idx)
		if got := g.Offset(idx); got != off {
			t.Fatalf("Expected offset %d, got %d (index %v)", off, got, idx)
		}
	}
	if g.Offset([]int{1, 0, 0}) != 1 {
		t.Errorf("Expected axis 0 to be the fastest varying axis")
	}
}

// TestGeometryValidate rejects zero extents and bad spacing
func TestGeometryValidate(t *testing.T) {
	if err := NewGeometry(4, 4).Validate(); err != nil {
		t.Errorf("Expected valid geometry, got %v", err)
	}

	bad := NewGeometry(4, 0)
	if err := bad.Validate(); !errors.Is(err, ErrInvalidGeometry) {
		t.Errorf("Expected ErrInvalidGeometry for zero axis, got %v", err)
	}

	spacing := NewGeometry(4, 4)
	spacing.Spacing[1] = 0
	if err := spacing.Validate(); !errors.Is(err, ErrInvalidGeometry) {
		t.Errorf("Expected ErrInvalidGeometry for zero spacing, got %v", err)
	}
}

// TestPointContinuousIndex checks the physical mapping is invertible
func TestPointContinuousIndex(t *testing.T) {
	g := NewGeometry(8, 8)
	g.Spacing = []float64{0.5, 2}
	g.Origin = []float64{-1, 3}

	p := g.Point([]int{3, 2}, nil)
	if p[0] != 0.5 || p[1] != 7 {
		t.Errorf("Expected point (0.5, 7), got %v", p)
	}
	c := g.ContinuousIndex(p, nil)
	if c[0] != 3 || c[1] != 2 {
		t.Errorf("Expected continuous index (3, 2), got %v", c)
	}
	if v := g.VoxelVolume(); v != 1 {
		t.Errorf("Expected voxel volume 1, got %v", v)
	}
}

// TestTimeVaryingFrameLookup checks the piecewise-constant time sampling
func TestTimeVaryingFrameLookup(t *testing.T) {
	tv := NewTimeVaryingField(NewGeometry(2, 2), 2, 4)

	cases := []struct {
		t    float64
		want int
	}{
		{-0.1, 0}, {0, 0}, {0.24, 0}, {0.25, 1}, {0.6, 2}, {0.99, 3}, {1, 3}, {1.5, 3},
	}
	for _, c := range cases {
		if got := tv.FrameIndex(c.t); got != c.want {
			t.Errorf("Expected frame %d at t=%v, got %d", c.want, c.t, got)
		}
	}
	if tv.FrameTime(1) != 0.375 {
		t.Errorf("Expected frame 1 centred at 0.375, got %v", tv.FrameTime(1))
	}
}

// TestAddScaledShapeMismatch rejects fields on different grids
func TestAddScaledShapeMismatch(t *testing.T) {
	a := NewImage(NewGeometry(3, 3))
	b := NewImage(NewGeometry(3, 4))
	if err := a.AddScaled(1, b); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch, got %v", err)
	}

	c := NewImage(NewGeometry(3, 3))
	c.Fill(2)
	if err := a.AddScaled(0.5, c); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if a.Data[4] != 1 {
		t.Errorf("Expected 1 after scaled add, got %v", a.Data[4])
	}
}
