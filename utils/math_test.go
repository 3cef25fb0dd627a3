package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuantile_LinearInterpolation(t *testing.T) {
	sorted := []float64{1, 2, 3, 4}

	assert.InDelta(t, 1.0, Quantile(sorted, 0), 1e-9)
	assert.InDelta(t, 4.0, Quantile(sorted, 1), 1e-9)
	assert.InDelta(t, 1.75, Quantile(sorted, 0.25), 1e-9)
	assert.InDelta(t, 3.25, Quantile(sorted, 0.75), 1e-9)
	assert.InDelta(t, 2.5, Quantile(sorted, 0.5), 1e-9)
}

func TestMeanVariance(t *testing.T) {
	vals := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	assert.InDelta(t, 5.0, Mean(vals), 1e-9)
	assert.InDelta(t, 4.0, Variance(vals), 1e-9)
	assert.Equal(t, 0.0, Mean(nil))
	assert.Equal(t, 0.0, Variance(nil))
}

func TestSoftmax(t *testing.T) {
	probs := Softmax([]float64{0, 0})
	assert.InDelta(t, 0.5, probs[0], 1e-9)
	assert.InDelta(t, 0.5, probs[1], 1e-9)

	probs = Softmax([]float64{10, 0})
	assert.Greater(t, probs[0], 0.99)
	assert.InDelta(t, 1.0, probs[0]+probs[1], 1e-9)
}

func TestSolveLinear(t *testing.T) {
	a := [][]float64{
		{2, 1},
		{1, 3},
	}
	b := []float64{5, 10}

	x, err := SolveLinear(a, b)
	assert.NoError(t, err)
	assert.InDelta(t, 1.0, x[0], 1e-9)
	assert.InDelta(t, 3.0, x[1], 1e-9)
}

func TestSolveLinear_Singular(t *testing.T) {
	a := [][]float64{
		{1, 2},
		{2, 4},
	}
	b := []float64{3, 6}

	_, err := SolveLinear(a, b)
	assert.Error(t, err)
}

func TestPromoteF32(t *testing.T) {
	out := PromoteF32([]float32{1.5, -2})
	assert.Equal(t, []float64{1.5, -2}, out)
	assert.Nil(t, PromoteF32(nil))
}

func TestArgMax(t *testing.T) {
	assert.Equal(t, 2, ArgMax([]float64{1, 3, 5, 2}))
	assert.Equal(t, -1, ArgMax(nil))
}
