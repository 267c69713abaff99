package market

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// StateWindow returns the n-1 first differences of the n prices ending at t,
// as a 1×(n-1) row. When the window starts before the series, the first price
// is repeated to fill it.
func StateWindow(prices []float64, t, n int) (*mat.Dense, error) {
	if n < 2 {
		return nil, fmt.Errorf("state window needs n >= 2, got %d", n)
	}
	if t < 0 || t >= len(prices) {
		return nil, fmt.Errorf("state window at t=%d outside series of length %d", t, len(prices))
	}

	block := make([]float64, 0, n)
	d := t - n + 1
	if d >= 0 {
		block = append(block, prices[d:t+1]...)
	} else {
		for i := 0; i < -d; i++ {
			block = append(block, prices[0])
		}
		block = append(block, prices[:t+1]...)
	}

	diffs := make([]float64, n-1)
	for i := range diffs {
		diffs[i] = block[i+1] - block[i]
	}
	return mat.NewDense(1, n-1, diffs), nil
}

// Split divides a series into train and test parts, holding out the last
// testSize fraction for testing. A zero testSize uses the whole series for both.
func Split(prices []float64, testSize float64) (train, test []float64, err error) {
	if testSize < 0 || testSize >= 1 {
		return nil, nil, fmt.Errorf("test size must be in [0, 1), got %f", testSize)
	}
	if testSize == 0 {
		return prices, prices, nil
	}
	cut := int(float64(len(prices)) * (1 - testSize))
	return prices[:cut], prices[cut:], nil
}
