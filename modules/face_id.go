package modules

import (
	"context"
	"math"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/KongNoraksovann/go-liveness-pipeline/config"
	"github.com/KongNoraksovann/go-liveness-pipeline/inference"
	"github.com/KongNoraksovann/go-liveness-pipeline/utils"
)

// FaceIDClient extracts the identity embedding from an aligned face crop.
type FaceIDClient struct {
	session     inference.Runner
	ModelParams *config.FaceIDParams
}

func NewFaceIDClient(session inference.Runner, cfg *config.FaceIDParams) *FaceIDClient {
	if cfg == nil {
		cfg = config.DefaultFaceIDParams
	}
	return &FaceIDClient{
		session:     session,
		ModelParams: cfg,
	}
}

func (c *FaceIDClient) preprocess(img gocv.Mat) []float32 {
	resized := utils.ResizeMat(img, c.ModelParams.ImgSize, c.ModelParams.ImgSize, gocv.InterpolationLinear)
	defer resized.Close()

	mean := [3]float64{c.ModelParams.Mean, c.ModelParams.Mean, c.ModelParams.Mean}
	scale := [3]float64{c.ModelParams.Scale, c.ModelParams.Scale, c.ModelParams.Scale}
	return utils.MatToCHWFloats(resized, mean, scale)
}

/*
ExtractEmbedding returns the face embedding of an aligned crop, widened to
float64 for similarity math.

Inputs:

  - img (gocv.Mat): 112x112 aligned face.

Outputs:

  - embedding ([]float64): 512-dimension identity vector.
*/
func (c *FaceIDClient) ExtractEmbedding(ctx context.Context, img gocv.Mat) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.session == nil {
		return nil, errors.Wrap(config.ErrModelLoadFailed, "embedding session missing")
	}

	size := int64(c.ModelParams.ImgSize)
	outs, err := c.session.Run([]int64{1, 3, size, size}, c.preprocess(img))
	if err != nil {
		return nil, err
	}
	if len(outs) == 0 || len(outs[0]) != c.ModelParams.EmbeddingSize {
		return nil, errors.Wrapf(config.ErrInferenceFailed, "embedding output has %d values, want %d", len(outs[0]), c.ModelParams.EmbeddingSize)
	}

	return utils.PromoteF32(outs[0]), nil
}

/*
ExtractEmbeddingBatch extracts embeddings from a list of aligned crops, one
inference per image.

Inputs:

  - imgs ([]gocv.Mat): aligned face images.

Outputs:

  - embeddings ([][]float64): one identity vector per input.
*/
func (c *FaceIDClient) ExtractEmbeddingBatch(ctx context.Context, imgs []gocv.Mat) ([][]float64, error) {
	embeddings := make([][]float64, 0, len(imgs))
	for _, img := range imgs {
		embedding, err := c.ExtractEmbedding(ctx, img)
		if err != nil {
			return nil, err
		}
		embeddings = append(embeddings, embedding)
	}
	return embeddings, nil
}

// CosineSimilarity computes dot(a,b) / (|a|*|b|) in float64. The stored
// vectors are not pre-normalized.
func (c *FaceIDClient) CosineSimilarity(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, errors.New("vectors must have the same length")
	}

	var dotProduct, normA, normB float64
	for i := 0; i < len(a); i++ {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	normA = math.Sqrt(normA)
	normB = math.Sqrt(normB)
	if normA == 0 || normB == 0 {
		return 0, errors.New("zero vector encountered")
	}

	return dotProduct / (normA * normB), nil
}

// Verify reports whether two embeddings belong to the same face. The match
// gate is strictly greater-than.
func (c *FaceIDClient) Verify(a, b []float64) (bool, float64, error) {
	similarity, err := c.CosineSimilarity(a, b)
	if err != nil {
		return false, 0, err
	}
	return similarity > c.ModelParams.CosineThreshold, similarity, nil
}
