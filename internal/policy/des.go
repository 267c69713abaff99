package policy

import (
	"fmt"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/GoSim-25-26J-441/evolution-core/internal/weights"
	"github.com/GoSim-25-26J-441/evolution-core/pkg/models"
	"github.com/GoSim-25-26J-441/evolution-core/pkg/utils"
)

// DESModel is a single-hidden-layer linear policy with two heads: decision
// scores over hold/buy/sell and a scalar buy signal.
type DESModel struct {
	mu      sync.RWMutex
	layout  Layout
	weights *weights.Set
}

// NewDESModel creates a model with every weight drawn from N(0, 1).
func NewDESModel(layout Layout, rng *utils.RandSource) (*DESModel, error) {
	if layout.InputSize <= 0 || layout.LayerSize <= 0 || layout.OutputSize <= 0 {
		return nil, fmt.Errorf("invalid layout %+v: all sizes must be positive", layout)
	}
	zero, err := weights.FromShapes(layout.Shapes())
	if err != nil {
		return nil, err
	}
	return NewDESModelFromWeights(zero.SampleNoise(rng))
}

// NewDESModelFromWeights wraps an existing weight set, e.g. one loaded from an archive.
func NewDESModelFromWeights(ws *weights.Set) (*DESModel, error) {
	layout, err := LayoutOf(ws)
	if err != nil {
		return nil, fmt.Errorf("invalid policy weights: %w", err)
	}
	return &DESModel{layout: layout, weights: ws}, nil
}

// Layout returns the network shape
func (m *DESModel) Layout() Layout {
	return m.layout
}

// Weights returns the current weight set
func (m *DESModel) Weights() *weights.Set {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.weights
}

// SetWeights swaps in ws. The layout must not change.
func (m *DESModel) SetWeights(ws *weights.Set) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.weights.CheckShapes(ws); err != nil {
		return fmt.Errorf("set weights: %w", err)
	}
	m.weights = ws
	return nil
}

// Predict runs the network on the current weights
func (m *DESModel) Predict(state *mat.Dense) (decision, buy *mat.Dense, err error) {
	return Forward(m.Weights(), state)
}

// Fit is not available: the model is trained by the evolution strategy.
func (m *DESModel) Fit(x, y *mat.Dense) error {
	return fmt.Errorf("fit: %w (train with the evolution strategy)", ErrUnsupported)
}

// Evaluate is not available: evaluate the policy with the market simulator.
func (m *DESModel) Evaluate(x, y *mat.Dense) (float64, error) {
	return 0, fmt.Errorf("evaluate: %w (replay with the market simulator)", ErrUnsupported)
}

// Forward computes
//
//	hidden   = state·W_in + bias
//	decision = hidden·W_decision
//	buy      = hidden·W_buy
//
// for every row of state. ws is read only, so concurrent calls are safe.
func Forward(ws *weights.Set, state *mat.Dense) (decision, buy *mat.Dense, err error) {
	if _, err := LayoutOf(ws); err != nil {
		return nil, nil, err
	}
	in := ws.At(EntryInput)
	inRows, _ := in.Dims()
	rows, cols := state.Dims()
	if cols != inRows {
		return nil, nil, &InputShapeError{Want: inRows, Got: cols}
	}

	var hidden mat.Dense
	hidden.Mul(state, in)
	bias := ws.At(EntryBias).RawRowView(0)
	for i := 0; i < rows; i++ {
		floats.Add(hidden.RawRowView(i), bias)
	}

	decision = &mat.Dense{}
	decision.Mul(&hidden, ws.At(EntryDecision))
	buy = &mat.Dense{}
	buy.Mul(&hidden, ws.At(EntryBuy))
	return decision, buy, nil
}

// Act returns the argmax action (ties go to the lowest index) and the buy
// signal for the first row of state.
func Act(ws *weights.Set, state *mat.Dense) (models.Action, float64, error) {
	decision, buy, err := Forward(ws, state)
	if err != nil {
		return models.ActionHold, 0, err
	}
	action := utils.Argmax(decision.RawRowView(0))
	return models.Action(action), buy.At(0, 0), nil
}
