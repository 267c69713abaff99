package policy

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/GoSim-25-26J-441/evolution-core/internal/weights"
)

// ErrUnsupported is returned by operations a model kind does not offer,
// such as gradient fitting on an evolution-trained policy.
var ErrUnsupported = errors.New("operation not supported by this model")

// Model is a policy trained by evolution: it can be evaluated and its weights
// swapped, but it is never fitted by gradient descent.
type Model interface {
	// Predict maps a 1×window state row to (decision scores 1×actions, buy signal 1×1).
	Predict(state *mat.Dense) (decision, buy *mat.Dense, err error)
	// Weights returns the current weight set.
	Weights() *weights.Set
	// SetWeights swaps in a new weight set after validating its layout.
	SetWeights(ws *weights.Set) error
}

// Regressor is a model trained by gradient descent on (x, y) pairs.
// Implementations live outside this module.
type Regressor interface {
	Fit(x, y *mat.Dense) error
	Predict(x *mat.Dense) (*mat.Dense, error)
	Evaluate(x, y *mat.Dense) (float64, error)
}

// Positions of the policy network's entries in a weight set
const (
	EntryInput    = 0 // window × layer
	EntryDecision = 1 // layer × actions
	EntryBuy      = 2 // layer × 1
	EntryBias     = 3 // 1 × layer
	NumEntries    = 4
)

// InputShapeError reports a state row whose width does not match the input layer.
type InputShapeError struct {
	Want int
	Got  int
}

func (e *InputShapeError) Error() string {
	return fmt.Sprintf("state has %d columns, input layer expects %d", e.Got, e.Want)
}

// Layout is the shape of a policy network
type Layout struct {
	InputSize  int
	LayerSize  int
	OutputSize int
}

// Shapes returns the expected entry shapes for the layout, in entry order
func (l Layout) Shapes() []weights.Shape {
	return []weights.Shape{
		{Rows: l.InputSize, Cols: l.LayerSize},
		{Rows: l.LayerSize, Cols: l.OutputSize},
		{Rows: l.LayerSize, Cols: 1},
		{Rows: 1, Cols: l.LayerSize},
	}
}

// LayoutOf infers the layout from a weight set and checks that the four
// entries agree with each other.
func LayoutOf(ws *weights.Set) (Layout, error) {
	if ws == nil || ws.Len() != NumEntries {
		n := 0
		if ws != nil {
			n = ws.Len()
		}
		return Layout{}, &weights.ShapeMismatchError{Entry: -1, Want: weights.Shape{Rows: NumEntries}, Got: weights.Shape{Rows: n}}
	}
	shapes := ws.Shapes()
	layout := Layout{
		InputSize:  shapes[EntryInput].Rows,
		LayerSize:  shapes[EntryInput].Cols,
		OutputSize: shapes[EntryDecision].Cols,
	}
	for i, want := range layout.Shapes() {
		if shapes[i] != want {
			return Layout{}, &weights.ShapeMismatchError{Entry: i, Want: want, Got: shapes[i]}
		}
	}
	return layout, nil
}
