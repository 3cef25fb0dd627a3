package modules

import (
	"context"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/KongNoraksovann/go-liveness-pipeline/config"
	"github.com/KongNoraksovann/go-liveness-pipeline/inference"
	"github.com/KongNoraksovann/go-liveness-pipeline/utils"
)

// FaceLivenessClient combines two backbone variants into a weighted ensemble.
// Both models emit already-softmaxed (live, spoof) probabilities.
type FaceLivenessClient struct {
	primary     inference.Runner
	secondary   inference.Runner
	ModelParams *config.LivenessParams
}

func NewFaceLivenessClient(primary, secondary inference.Runner, cfg *config.LivenessParams) *FaceLivenessClient {
	if cfg == nil {
		cfg = config.DefaultLivenessParams
	}
	return &FaceLivenessClient{
		primary:     primary,
		secondary:   secondary,
		ModelParams: cfg,
	}
}

func (c *FaceLivenessClient) preprocess(img gocv.Mat) []float32 {
	resized := utils.ResizeMat(img, c.ModelParams.ImgSize, c.ModelParams.ImgSize, gocv.InterpolationLinear)
	defer resized.Close()
	return utils.MatToCHWFloats(resized, c.ModelParams.Mean, c.ModelParams.Scale)
}

func (c *FaceLivenessClient) runOnce(data []float32) (float64, float64, error) {
	size := int64(c.ModelParams.ImgSize)
	shape := []int64{1, 3, size, size}

	var live, spoof float64
	for i, session := range []inference.Runner{c.primary, c.secondary} {
		if session == nil {
			return 0, 0, errors.Wrap(config.ErrModelLoadFailed, "liveness session missing")
		}

		outs, err := session.Run(shape, data)
		if err != nil {
			return 0, 0, err
		}
		if len(outs) == 0 || len(outs[0]) < 2 {
			return 0, 0, errors.Wrap(config.ErrInferenceFailed, "liveness output shape mismatch")
		}

		live += c.ModelParams.Weights[i] * float64(outs[0][0])
		spoof += c.ModelParams.Weights[i] * float64(outs[0][1])
	}
	return live, spoof, nil
}

// InferSingle runs both models once and returns the weighted combined
// (live, spoof) scores.
func (c *FaceLivenessClient) InferSingle(ctx context.Context, img gocv.Mat) (float64, float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	return c.runOnce(c.preprocess(img))
}

/*
Infer runs the averaging protocol: the ensemble is evaluated for the
configured number of rounds, each round is labeled against the liveness
threshold (strict greater-than), the final label is the first label whose
running count reaches a strict majority (an even split falls to the first
round's label), and the confidence is the mean combined score of the winning
label across rounds.

Outputs:

  - label (string): "Live" or "Spoof".
  - confidence (float64): averaged score of the winning label.
  - scores (*config.LivenessScores): both averaged combined scores.
*/
func (c *FaceLivenessClient) Infer(ctx context.Context, img gocv.Mat) (string, float64, *config.LivenessScores, error) {
	data := c.preprocess(img)

	iterations := c.ModelParams.Iterations
	if iterations < 1 {
		iterations = 1
	}

	labels := make([]string, 0, iterations)
	var sumLive, sumSpoof float64
	for i := 0; i < iterations; i++ {
		if err := ctx.Err(); err != nil {
			return "", 0, nil, err
		}

		live, spoof, err := c.runOnce(data)
		if err != nil {
			return "", 0, nil, err
		}
		sumLive += live
		sumSpoof += spoof

		if live > c.ModelParams.Threshold {
			labels = append(labels, config.PredictionLive)
		} else {
			labels = append(labels, config.PredictionSpoof)
		}
	}

	scores := &config.LivenessScores{
		Live:  sumLive / float64(iterations),
		Spoof: sumSpoof / float64(iterations),
	}

	winner := majorityLabel(labels)
	confidence := scores.Spoof
	if winner == config.PredictionLive {
		confidence = scores.Live
	}
	return winner, confidence, scores, nil
}

// majorityLabel returns the first label whose running count reaches a strict
// majority; an even split falls back to the first round's label.
func majorityLabel(labels []string) string {
	needed := len(labels)/2 + 1
	counts := make(map[string]int, 2)
	for _, label := range labels {
		counts[label]++
		if counts[label] >= needed {
			return label
		}
	}
	return labels[0]
}
