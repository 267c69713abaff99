package market

import (
	"testing"
)

func TestStateWindowPadding(t *testing.T) {
	prices := []float64{1, 2, 4}
	tests := []struct {
		t    int
		want []float64
	}{
		{0, []float64{0, 0}}, // block [1, 1, 1]
		{1, []float64{0, 1}}, // block [1, 1, 2]
		{2, []float64{1, 2}}, // block [1, 2, 4]
	}
	for _, tt := range tests {
		state, err := StateWindow(prices, tt.t, 3)
		if err != nil {
			t.Fatalf("t=%d: %v", tt.t, err)
		}
		r, c := state.Dims()
		if r != 1 || c != 2 {
			t.Fatalf("t=%d: shape %dx%d, want 1x2", tt.t, r, c)
		}
		for i, w := range tt.want {
			if got := state.At(0, i); got != w {
				t.Errorf("t=%d: diff[%d] = %f, want %f", tt.t, i, got, w)
			}
		}
	}
}

func TestStateWindowAlwaysNMinusOne(t *testing.T) {
	prices := []float64{5, 6, 7, 8, 9, 10, 11}
	for n := 2; n <= 10; n++ {
		for ti := range prices {
			state, err := StateWindow(prices, ti, n)
			if err != nil {
				t.Fatalf("n=%d t=%d: %v", n, ti, err)
			}
			if _, c := state.Dims(); c != n-1 {
				t.Fatalf("n=%d t=%d: %d diffs, want %d", n, ti, c, n-1)
			}
		}
	}
}

func TestStateWindowErrors(t *testing.T) {
	prices := []float64{1, 2, 3}
	if _, err := StateWindow(prices, 0, 1); err == nil {
		t.Error("expected error for n < 2")
	}
	if _, err := StateWindow(prices, 3, 2); err == nil {
		t.Error("expected error for t past the series")
	}
	if _, err := StateWindow(prices, -1, 2); err == nil {
		t.Error("expected error for negative t")
	}
}

func TestSplit(t *testing.T) {
	prices := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}

	train, test, err := Split(prices, 0.2)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(train) != 8 || len(test) != 2 || test[0] != 9 {
		t.Fatalf("unexpected split: train=%v test=%v", train, test)
	}

	train, test, err = Split(prices, 0)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(train) != 10 || len(test) != 10 {
		t.Fatalf("zero test size should use the whole series for both, got %d/%d", len(train), len(test))
	}

	if _, _, err := Split(prices, 1); err == nil {
		t.Fatal("expected error for test size 1")
	}
}
