package weights

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/GoSim-25-26J-441/evolution-core/pkg/utils"
)

func testSet(t *testing.T) *Set {
	t.Helper()
	s, err := New(
		mat.NewDense(2, 3, []float64{1, 2, 3, 4, 5, 6}),
		mat.NewDense(3, 3, nil),
		mat.NewDense(3, 1, []float64{1, 1, 1}),
		mat.NewDense(1, 3, []float64{0.5, 0.5, 0.5}),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestNewRejectsEmpty(t *testing.T) {
	if _, err := New(); !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
	if _, err := New(mat.NewDense(1, 1, nil), nil); err == nil {
		t.Fatal("expected error for nil entry")
	}
}

func TestShapesAndNumParams(t *testing.T) {
	s := testSet(t)
	want := []Shape{{2, 3}, {3, 3}, {3, 1}, {1, 3}}
	got := s.Shapes()
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d: shape %s, want %s", i, got[i], want[i])
		}
	}
	if n := s.NumParams(); n != 6+9+3+3 {
		t.Errorf("NumParams = %d, want 21", n)
	}
}

func TestCloneIsDeep(t *testing.T) {
	s := testSet(t)
	c := s.Clone()
	c.At(0).Set(0, 0, 100)
	if s.At(0).At(0, 0) != 1 {
		t.Fatal("mutating a clone changed the original")
	}
}

func TestCheckShapes(t *testing.T) {
	s := testSet(t)
	if err := s.CheckShapes(s.Clone()); err != nil {
		t.Fatalf("identical shapes should match: %v", err)
	}

	other, _ := New(
		mat.NewDense(2, 3, nil),
		mat.NewDense(3, 2, nil),
		mat.NewDense(3, 1, nil),
		mat.NewDense(1, 3, nil),
	)
	err := s.CheckShapes(other)
	var mismatch *ShapeMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected ShapeMismatchError, got %v", err)
	}
	if mismatch.Entry != 1 {
		t.Errorf("expected mismatch at entry 1, got %d", mismatch.Entry)
	}

	short, _ := New(mat.NewDense(2, 3, nil))
	if err := s.CheckShapes(short); !errors.As(err, &mismatch) || mismatch.Entry != -1 {
		t.Fatalf("expected entry-count mismatch, got %v", err)
	}
}

func TestSampleNoiseDeterministic(t *testing.T) {
	s := testSet(t)
	a := s.SampleNoise(utils.NewRandSource(11))
	b := s.SampleNoise(utils.NewRandSource(11))
	if err := s.CheckShapes(a); err != nil {
		t.Fatalf("noise shape mismatch: %v", err)
	}
	for j := 0; j < s.Len(); j++ {
		if !mat.Equal(a.At(j), b.At(j)) {
			t.Fatalf("entry %d differs between identically seeded draws", j)
		}
	}
}

func TestPerturbed(t *testing.T) {
	s := testSet(t)
	noise := s.Clone()
	p, err := s.Perturbed(noise, 0.5)
	if err != nil {
		t.Fatalf("Perturbed: %v", err)
	}
	// s + 0.5*s = 1.5*s
	if got := p.At(0).At(1, 2); math.Abs(got-9) > 1e-12 {
		t.Errorf("expected 9, got %f", got)
	}
	if s.At(0).At(1, 2) != 6 {
		t.Error("Perturbed must not modify the receiver")
	}

	bad, _ := New(mat.NewDense(1, 1, nil))
	if _, err := s.Perturbed(bad, 0.1); err == nil {
		t.Fatal("expected shape mismatch")
	}
}

func TestAllFinite(t *testing.T) {
	s := testSet(t)
	if !s.AllFinite() {
		t.Fatal("expected finite weights")
	}
	s.At(2).Set(1, 0, math.NaN())
	if s.AllFinite() {
		t.Fatal("expected NaN to be detected")
	}
}

func TestRows(t *testing.T) {
	rows := testSet(t).Rows()
	if len(rows) != 4 || len(rows[0]) != 2 || rows[0][1][2] != 6 {
		t.Fatalf("unexpected rows: %v", rows[0])
	}
}

func TestFromShapes(t *testing.T) {
	s, err := FromShapes([]Shape{{2, 2}, {1, 4}})
	if err != nil {
		t.Fatalf("FromShapes: %v", err)
	}
	if s.Len() != 2 || s.Shapes()[1] != (Shape{1, 4}) {
		t.Fatalf("unexpected shapes: %v", s.Shapes())
	}
	if _, err := FromShapes([]Shape{{0, 2}}); err == nil {
		t.Fatal("expected error for zero shape")
	}
}
