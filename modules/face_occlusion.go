package modules

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"github.com/KongNoraksovann/go-liveness-pipeline/config"
	"github.com/KongNoraksovann/go-liveness-pipeline/inference"
	"github.com/KongNoraksovann/go-liveness-pipeline/utils"
)

// FaceOcclusionClient classifies whether the face is covered. A client
// without a session degrades open: every image is reported as normal with
// full confidence.
type FaceOcclusionClient struct {
	session     inference.Runner
	ModelParams *config.OcclusionParams
	log         *logrus.Entry
}

func NewFaceOcclusionClient(session inference.Runner, cfg *config.OcclusionParams) *FaceOcclusionClient {
	if cfg == nil {
		cfg = config.DefaultOcclusionParams
	}
	return &FaceOcclusionClient{
		session:     session,
		ModelParams: cfg,
		log:         logrus.WithField("component", "face_occlusion"),
	}
}

func (c *FaceOcclusionClient) preprocess(img gocv.Mat) []float32 {
	resized := utils.ResizeMat(img, c.ModelParams.ImgSize, c.ModelParams.ImgSize, gocv.InterpolationLinear)
	defer resized.Close()
	return utils.MatToCHWFloats(resized, c.ModelParams.Mean, c.ModelParams.Scale)
}

/*
Infer classifies img, averaging the softmaxed class probabilities over the
configured number of repeated runs on the same input.

Outputs:

  - label (string): "normal" or "occluded".
  - confidence (float64): averaged probability of the predicted label.
  - scores (*config.OcclusionScores): both averaged probabilities.
*/
func (c *FaceOcclusionClient) Infer(ctx context.Context, img gocv.Mat) (string, float64, *config.OcclusionScores, error) {
	if c.session == nil {
		c.log.Warn("occlusion session not loaded, reporting normal")
		return config.OcclusionLabelNormal, 1.0, &config.OcclusionScores{Normal: 1.0}, nil
	}

	data := c.preprocess(img)
	size := int64(c.ModelParams.ImgSize)

	iterations := c.ModelParams.Iterations
	if iterations < 1 {
		iterations = 1
	}

	var sumOccluded, sumNormal float64
	for i := 0; i < iterations; i++ {
		if err := ctx.Err(); err != nil {
			return "", 0, nil, err
		}

		outs, err := c.session.Run([]int64{1, 3, size, size}, data)
		if err != nil {
			return "", 0, nil, err
		}
		if len(outs) == 0 || len(outs[0]) < 2 {
			return "", 0, nil, errors.Wrap(config.ErrInferenceFailed, "occlusion output shape mismatch")
		}

		probs := utils.Softmax([]float64{float64(outs[0][0]), float64(outs[0][1])})
		sumOccluded += probs[0]
		sumNormal += probs[1]
	}

	scores := &config.OcclusionScores{
		Occluded: sumOccluded / float64(iterations),
		Normal:   sumNormal / float64(iterations),
	}

	if scores.Normal > c.ModelParams.Threshold {
		return config.OcclusionLabelNormal, scores.Normal, scores, nil
	}
	return config.OcclusionLabelOccluded, scores.Occluded, scores, nil
}
