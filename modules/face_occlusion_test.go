package modules

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/KongNoraksovann/go-liveness-pipeline/config"
)

func TestOcclusion_DegradesOpenWithoutSession(t *testing.T) {
	client := NewFaceOcclusionClient(nil, nil)

	img := speckledMat(224, 224)
	defer img.Close()

	label, confidence, scores, err := client.Infer(context.Background(), img)
	assert.NoError(t, err)
	assert.Equal(t, config.OcclusionLabelNormal, label)
	assert.Equal(t, 1.0, confidence)
	assert.Equal(t, 1.0, scores.Normal)
}

func TestOcclusion_NormalFace(t *testing.T) {
	calls := 0
	session := &stubRunner{fn: func(shape []int64, data []float32) ([][]float32, error) {
		calls++
		return [][]float32{{0, 3}}, nil
	}}
	client := NewFaceOcclusionClient(session, nil)

	img := speckledMat(224, 224)
	defer img.Close()

	label, confidence, scores, err := client.Infer(context.Background(), img)
	assert.NoError(t, err)
	assert.Equal(t, config.OcclusionLabelNormal, label)
	assert.Equal(t, config.DefaultOcclusionParams.Iterations, calls)

	expectedNormal := math.Exp(3.0) / (math.Exp(3.0) + 1)
	assert.InDelta(t, expectedNormal, confidence, 1e-9)
	assert.InDelta(t, expectedNormal, scores.Normal, 1e-9)
	assert.InDelta(t, 1-expectedNormal, scores.Occluded, 1e-9)
}

func TestOcclusion_OccludedFace(t *testing.T) {
	session := &stubRunner{fn: func(shape []int64, data []float32) ([][]float32, error) {
		return [][]float32{{3, 0}}, nil
	}}
	client := NewFaceOcclusionClient(session, nil)

	img := speckledMat(224, 224)
	defer img.Close()

	label, confidence, scores, err := client.Infer(context.Background(), img)
	assert.NoError(t, err)
	assert.Equal(t, config.OcclusionLabelOccluded, label)
	assert.Greater(t, confidence, 0.9)
	assert.Equal(t, confidence, scores.Occluded)
}

func TestOcclusion_EvenSplitIsOccluded(t *testing.T) {
	// normal probability 0.5 does not clear the 0.7 gate.
	session := &stubRunner{fn: func(shape []int64, data []float32) ([][]float32, error) {
		return [][]float32{{1, 1}}, nil
	}}
	client := NewFaceOcclusionClient(session, nil)

	img := speckledMat(224, 224)
	defer img.Close()

	label, _, scores, err := client.Infer(context.Background(), img)
	assert.NoError(t, err)
	assert.Equal(t, config.OcclusionLabelOccluded, label)
	assert.InDelta(t, 0.5, scores.Normal, 1e-9)
}

func TestOcclusion_Cancellation(t *testing.T) {
	session := &stubRunner{fn: func(shape []int64, data []float32) ([][]float32, error) {
		return [][]float32{{0, 3}}, nil
	}}
	client := NewFaceOcclusionClient(session, nil)

	img := speckledMat(224, 224)
	defer img.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, _, err := client.Infer(ctx, img)
	assert.ErrorIs(t, err, context.Canceled)
}
