package config

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Prediction labels carried by a LivenessVerdict.
const (
	PredictionLive  = "Live"
	PredictionSpoof = "Spoof"
)

// Occlusion classifier labels. Anything other than "normal" counts as
// occluded.
const (
	OcclusionLabelNormal   = "normal"
	OcclusionLabelOccluded = "occluded"
)

type Coordinate2D struct {
	X float32
	Y float32
}

// FaceLandmark is the ordered 5-point constellation used for alignment.
type FaceLandmark struct {
	LeftEye    Coordinate2D
	RightEye   Coordinate2D
	Nose       Coordinate2D
	LeftMouth  Coordinate2D
	RightMouth Coordinate2D
}

// ToTensor lays the landmark out as a (5,2) matrix of [x y] rows.
func (l *FaceLandmark) ToTensor() *tensor.Dense {
	return tensor.New(
		tensor.Of(tensor.Float32),
		tensor.WithShape(5, 2),
		tensor.WithBacking(
			[]float32{
				l.LeftEye.X, l.LeftEye.Y,
				l.RightEye.X, l.RightEye.Y,
				l.Nose.X, l.Nose.Y,
				l.LeftMouth.X, l.LeftMouth.Y,
				l.RightMouth.X, l.RightMouth.Y,
			},
		),
	)
}

// LandmarkFromTensor is the inverse of ToTensor.
func LandmarkFromTensor(t *tensor.Dense) (*FaceLandmark, error) {
	shape := t.Shape()
	if len(shape) != 2 || shape[0] != 5 || shape[1] != 2 {
		return nil, errors.Errorf("expected a (5,2) landmark tensor, got shape %v", shape)
	}

	data := t.Float32s()
	return &FaceLandmark{
		LeftEye:    Coordinate2D{X: data[0], Y: data[1]},
		RightEye:   Coordinate2D{X: data[2], Y: data[3]},
		Nose:       Coordinate2D{X: data[4], Y: data[5]},
		LeftMouth:  Coordinate2D{X: data[6], Y: data[7]},
		RightMouth: Coordinate2D{X: data[8], Y: data[9]},
	}, nil
}

// BoundingBox is a detection in source-image pixel coordinates. X2 and Y2 are
// inclusive, so width is X2-X1+1.
type BoundingBox struct {
	X1    float64 `json:"x1"`
	Y1    float64 `json:"y1"`
	X2    float64 `json:"x2"`
	Y2    float64 `json:"y2"`
	Score float32 `json:"score"`
}

func (b BoundingBox) Width() float64 {
	return b.X2 - b.X1 + 1
}

func (b BoundingBox) Height() float64 {
	return b.Y2 - b.Y1 + 1
}

func (b BoundingBox) Area() float64 {
	return b.Width() * b.Height()
}

type Size struct {
	Width  int
	Height int
}

func (s *Size) Max() int {
	if s.Height > s.Width {
		return s.Height
	}
	return s.Width
}

func (s *Size) Min() int {
	if s.Height < s.Width {
		return s.Height
	}
	return s.Width
}

// LivenessScores is the averaged ensemble output of the liveness stage.
type LivenessScores struct {
	Live  float64 `json:"live"`
	Spoof float64 `json:"spoof"`
}

// OcclusionScores is the averaged two-class output of the occlusion stage.
type OcclusionScores struct {
	Occluded float64 `json:"occluded"`
	Normal   float64 `json:"normal"`
}

// LivenessVerdict is the single result of one pipeline invocation.
type LivenessVerdict struct {
	Prediction      string           `json:"prediction"`                 // Prediction is either "Live" or "Spoof".
	Confidence      float64          `json:"confidence"`                 // Confidence of the winning label in [0,1].
	FailureReason   *string          `json:"failure_reason,omitempty"`   // FailureReason names the stage that rejected the image.
	LivenessScores  *LivenessScores  `json:"liveness_scores,omitempty"`  // LivenessScores is present when the liveness stage ran.
	OcclusionScores *OcclusionScores `json:"occlusion_scores,omitempty"` // OcclusionScores is present when the occlusion stage ran.
}
