package models

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// Field is a dense sampled quantity on a Geometry. Scalar images have one
// component, displacement and velocity fields have one component per axis.
type Field struct {
	Geometry Geometry

	// Components is the number of values stored per sample
	Components int

	// Data holds the samples in row-major order with components interleaved
	Data []float64
}

// NewField allocates a zero-valued field
func NewField(geometry Geometry, components int) *Field {
	return &Field{
		Geometry:   geometry.Clone(),
		Components: components,
		Data:       make([]float64, geometry.NumberOfPixels()*components),
	}
}

// NewImage allocates a zero-valued scalar field
func NewImage(geometry Geometry) *Field {
	return NewField(geometry, 1)
}

// NewVectorField allocates a zero-valued field with one component per axis
func NewVectorField(geometry Geometry) *Field {
	return NewField(geometry, geometry.Dimension())
}

// NumberOfPixels returns the number of grid samples
func (f *Field) NumberOfPixels() int {
	return f.Geometry.NumberOfPixels()
}

// At returns the components of the sample at the flat offset
func (f *Field) At(offset int) []float64 {
	return f.Data[offset*f.Components : (offset+1)*f.Components]
}

// Value returns the first component at the flat offset
func (f *Field) Value(offset int) float64 {
	return f.Data[offset*f.Components]
}

// Clone returns a deep copy
func (f *Field) Clone() *Field {
	return &Field{
		Geometry:   f.Geometry.Clone(),
		Components: f.Components,
		Data:       append([]float64(nil), f.Data...),
	}
}

// SameShape reports whether o has the same grid and component count
func (f *Field) SameShape(o *Field) bool {
	return f.Components == o.Components && f.Geometry.Equal(o.Geometry)
}

// Fill sets every component of every sample to v
func (f *Field) Fill(v float64) {
	for i := range f.Data {
		f.Data[i] = v
	}
}

// AddScaled adds alpha*o to f in place
func (f *Field) AddScaled(alpha float64, o *Field) error {
	if !f.SameShape(o) {
		return errors.Wrap(ErrShapeMismatch, "cannot add fields")
	}
	floats.AddScaled(f.Data, alpha, o.Data)
	return nil
}

// Dot returns the plain sum of component products of f and o
func (f *Field) Dot(o *Field) float64 {
	return floats.Dot(f.Data, o.Data)
}

// TimeVaryingField is a sequence of equally shaped fields sampling [0,1].
// Frame k holds the value on the time interval [k/T, (k+1)/T).
type TimeVaryingField struct {
	Frames []*Field
}

// NewTimeVaryingField allocates timeSteps zero-valued frames
func NewTimeVaryingField(geometry Geometry, components, timeSteps int) *TimeVaryingField {
	tv := &TimeVaryingField{Frames: make([]*Field, timeSteps)}
	for k := range tv.Frames {
		tv.Frames[k] = NewField(geometry, components)
	}
	return tv
}

// NumberOfTimeSteps returns the frame count
func (tv *TimeVaryingField) NumberOfTimeSteps() int {
	return len(tv.Frames)
}

// TimeStep returns the duration covered by one frame
func (tv *TimeVaryingField) TimeStep() float64 {
	return 1.0 / float64(len(tv.Frames))
}

// FrameTime returns the centre of the interval covered by frame k
func (tv *TimeVaryingField) FrameTime(k int) float64 {
	return (float64(k) + 0.5) * tv.TimeStep()
}

// FrameIndex returns the frame covering time t. Times outside [0,1) map to
// the first or last frame.
func (tv *TimeVaryingField) FrameIndex(t float64) int {
	k := int(t * float64(len(tv.Frames)))
	if k < 0 {
		return 0
	}
	if k >= len(tv.Frames) {
		return len(tv.Frames) - 1
	}
	return k
}

// At returns the frame covering time t
func (tv *TimeVaryingField) At(t float64) *Field {
	return tv.Frames[tv.FrameIndex(t)]
}

// Geometry returns the spatial grid shared by all frames
func (tv *TimeVaryingField) Geometry() Geometry {
	return tv.Frames[0].Geometry
}

// Components returns the per-sample component count
func (tv *TimeVaryingField) Components() int {
	return tv.Frames[0].Components
}

// Clone returns a deep copy
func (tv *TimeVaryingField) Clone() *TimeVaryingField {
	out := &TimeVaryingField{Frames: make([]*Field, len(tv.Frames))}
	for k, f := range tv.Frames {
		out.Frames[k] = f.Clone()
	}
	return out
}

// SameShape reports whether both fields have matching frames
func (tv *TimeVaryingField) SameShape(o *TimeVaryingField) bool {
	if len(tv.Frames) != len(o.Frames) {
		return false
	}
	for k := range tv.Frames {
		if !tv.Frames[k].SameShape(o.Frames[k]) {
			return false
		}
	}
	return true
}

// Validate checks that there is at least one frame and all frames share a shape
func (tv *TimeVaryingField) Validate() error {
	if len(tv.Frames) == 0 {
		return errors.Wrap(ErrShapeMismatch, "time-varying field has no frames")
	}
	for k, f := range tv.Frames {
		if f == nil || !f.SameShape(tv.Frames[0]) {
			return errors.Wrapf(ErrShapeMismatch, "frame %d differs from frame 0", k)
		}
	}
	return tv.Frames[0].Geometry.Validate()
}

// AddScaled adds alpha*o frame by frame
func (tv *TimeVaryingField) AddScaled(alpha float64, o *TimeVaryingField) error {
	if !tv.SameShape(o) {
		return errors.Wrap(ErrShapeMismatch, "cannot add time-varying fields")
	}
	for k := range tv.Frames {
		floats.AddScaled(tv.Frames[k].Data, alpha, o.Frames[k].Data)
	}
	return nil
}
