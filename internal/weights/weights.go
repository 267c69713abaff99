// Package weights holds the ordered parameter arrays of a policy network.
//
// A Set is treated as immutable once built: training produces a new Set per
// iteration instead of writing into the current one, so a Set can be shared
// freely between concurrent reward evaluations.
package weights

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/GoSim-25-26J-441/evolution-core/pkg/utils"
)

// ErrEmpty is returned when a Set would have no entries
var ErrEmpty = errors.New("weight set has no entries")

// Shape is the (rows, cols) of one entry
type Shape struct {
	Rows int `json:"rows"`
	Cols int `json:"cols"`
}

func (s Shape) String() string {
	return fmt.Sprintf("%dx%d", s.Rows, s.Cols)
}

// Size is the number of elements in an entry of this shape
func (s Shape) Size() int {
	return s.Rows * s.Cols
}

// ShapeMismatchError reports two weight-like values whose entries disagree.
type ShapeMismatchError struct {
	Entry int
	Want  Shape
	Got   Shape
}

func (e *ShapeMismatchError) Error() string {
	if e.Entry < 0 {
		return fmt.Sprintf("weight set has %d entries, want %d", e.Got.Rows, e.Want.Rows)
	}
	return fmt.Sprintf("weight entry %d: shape %s, want %s", e.Entry, e.Got, e.Want)
}

// Set is an ordered collection of dense matrices
type Set struct {
	entries []*mat.Dense
}

// New builds a Set that takes ownership of the given matrices.
func New(entries ...*mat.Dense) (*Set, error) {
	if len(entries) == 0 {
		return nil, ErrEmpty
	}
	for i, e := range entries {
		if e == nil || e.IsEmpty() {
			return nil, fmt.Errorf("weight entry %d is empty", i)
		}
	}
	return &Set{entries: entries}, nil
}

// FromShapes allocates a zero-valued Set with the given shapes
func FromShapes(shapes []Shape) (*Set, error) {
	entries := make([]*mat.Dense, len(shapes))
	for i, s := range shapes {
		if s.Rows <= 0 || s.Cols <= 0 {
			return nil, fmt.Errorf("weight entry %d: invalid shape %s", i, s)
		}
		entries[i] = mat.NewDense(s.Rows, s.Cols, nil)
	}
	return New(entries...)
}

// Len returns the number of entries
func (s *Set) Len() int {
	return len(s.entries)
}

// At returns entry j. Callers must not modify it.
func (s *Set) At(j int) *mat.Dense {
	return s.entries[j]
}

// Shapes returns the shape of every entry, in order
func (s *Set) Shapes() []Shape {
	shapes := make([]Shape, len(s.entries))
	for i, e := range s.entries {
		r, c := e.Dims()
		shapes[i] = Shape{Rows: r, Cols: c}
	}
	return shapes
}

// NumParams returns the total number of scalar parameters
func (s *Set) NumParams() int {
	n := 0
	for _, shape := range s.Shapes() {
		n += shape.Size()
	}
	return n
}

// Clone returns a deep copy
func (s *Set) Clone() *Set {
	entries := make([]*mat.Dense, len(s.entries))
	for i, e := range s.entries {
		entries[i] = mat.DenseCopyOf(e)
	}
	return &Set{entries: entries}
}

// CheckShapes verifies that other has the same number of entries and the same
// shape per entry.
func (s *Set) CheckShapes(other *Set) error {
	if other == nil || len(other.entries) != len(s.entries) {
		got := 0
		if other != nil {
			got = len(other.entries)
		}
		return &ShapeMismatchError{Entry: -1, Want: Shape{Rows: len(s.entries)}, Got: Shape{Rows: got}}
	}
	want := s.Shapes()
	for i, shape := range other.Shapes() {
		if shape != want[i] {
			return &ShapeMismatchError{Entry: i, Want: want[i], Got: shape}
		}
	}
	return nil
}

// SampleNoise draws a same-shaped Set of independent N(0, 1) values.
// Entries are filled in order, row-major, so a seeded source reproduces the
// exact same noise.
func (s *Set) SampleNoise(rng *utils.RandSource) *Set {
	entries := make([]*mat.Dense, len(s.entries))
	for i, e := range s.entries {
		r, c := e.Dims()
		data := make([]float64, r*c)
		rng.FillStandardNormal(data)
		entries[i] = mat.NewDense(r, c, data)
	}
	return &Set{entries: entries}
}

// Perturbed returns s + sigma*noise, entry by entry.
func (s *Set) Perturbed(noise *Set, sigma float64) (*Set, error) {
	if err := s.CheckShapes(noise); err != nil {
		return nil, err
	}
	entries := make([]*mat.Dense, len(s.entries))
	for i, e := range s.entries {
		var jittered mat.Dense
		jittered.Scale(sigma, noise.entries[i])
		jittered.Add(e, &jittered)
		entries[i] = &jittered
	}
	return &Set{entries: entries}, nil
}

// AllFinite reports whether every element of every entry is finite.
func (s *Set) AllFinite() bool {
	for _, e := range s.entries {
		r, c := e.Dims()
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				if !utils.IsFinite(e.At(i, j)) {
					return false
				}
			}
		}
	}
	return true
}

// Rows returns each entry as a slice of rows, for JSON transport.
func (s *Set) Rows() [][][]float64 {
	out := make([][][]float64, len(s.entries))
	for i, e := range s.entries {
		r, _ := e.Dims()
		rows := make([][]float64, r)
		for k := 0; k < r; k++ {
			rows[k] = mat.Row(nil, k, e)
		}
		out[i] = rows
	}
	return out
}
