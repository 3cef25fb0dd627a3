package config

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"gorgonia.org/tensor"
)

func TestLandmarkTensorRoundTrip(t *testing.T) {
	lmk := &FaceLandmark{
		LeftEye:    Coordinate2D{X: 30.29, Y: 51.70},
		RightEye:   Coordinate2D{X: 65.53, Y: 51.50},
		Nose:       Coordinate2D{X: 48.03, Y: 71.74},
		LeftMouth:  Coordinate2D{X: 33.55, Y: 92.37},
		RightMouth: Coordinate2D{X: 62.73, Y: 92.20},
	}

	tens := lmk.ToTensor()
	assert.Equal(t, []int{5, 2}, []int(tens.Shape()))

	back, err := LandmarkFromTensor(tens)
	assert.NoError(t, err)
	assert.Equal(t, lmk, back)
}

func TestLandmarkFromTensor_BadShape(t *testing.T) {
	bad := tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(10), tensor.WithBacking(make([]float32, 10)))

	_, err := LandmarkFromTensor(bad)
	assert.Error(t, err)
}

func TestBoundingBox_InclusiveExtent(t *testing.T) {
	box := BoundingBox{X1: 10, Y1: 20, X2: 19, Y2: 39, Score: 0.9}

	assert.Equal(t, 10.0, box.Width())
	assert.Equal(t, 20.0, box.Height())
	assert.Equal(t, 200.0, box.Area())
}

func TestLivenessVerdict_JSONOmitsAbsentDiagnostics(t *testing.T) {
	verdict := &LivenessVerdict{
		Prediction: PredictionSpoof,
		Confidence: 1.0,
	}

	raw, err := json.Marshal(verdict)
	assert.NoError(t, err)
	assert.NotContains(t, string(raw), "liveness_scores")
	assert.NotContains(t, string(raw), "occlusion_scores")
	assert.NotContains(t, string(raw), "failure_reason")

	reason := ReasonLivenessSpoof
	verdict.FailureReason = &reason
	verdict.LivenessScores = &LivenessScores{Live: 0.2, Spoof: 0.8}

	raw, err = json.Marshal(verdict)
	assert.NoError(t, err)
	assert.Contains(t, string(raw), "Liveness check failed")
	assert.Contains(t, string(raw), "\"spoof\":0.8")
}

func TestSizeMinMax(t *testing.T) {
	s := &Size{Width: 640, Height: 480}
	assert.Equal(t, 640, s.Max())
	assert.Equal(t, 480, s.Min())
}
