package modules

import (
	"gocv.io/x/gocv"

	"github.com/KongNoraksovann/go-liveness-pipeline/config"
)

// FaceQualityClient gates blurry captures out of the pipeline using the
// variance of the Laplacian response.
type FaceQualityClient struct {
	ModelParams *config.FaceQualityParams
}

func NewFaceQualityClient(cfg *config.FaceQualityParams) *FaceQualityClient {
	if cfg == nil {
		cfg = config.DefaultFaceQualityParams
	}
	return &FaceQualityClient{ModelParams: cfg}
}

// SharpnessScore converts img to grayscale with luma weights and returns the
// mean squared 3x3 Laplacian response over all pixels. Samples outside the
// image are treated as zero, so border pixels contribute too.
func (c *FaceQualityClient) SharpnessScore(img gocv.Mat) float64 {
	dims := img.Size()
	h, w := dims[0], dims[1]
	if h == 0 || w == 0 {
		return 0
	}

	gray := make([]float64, h*w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			px := img.GetVecbAt(y, x)
			gray[y*w+x] = 0.299*float64(px[0]) + 0.587*float64(px[1]) + 0.114*float64(px[2])
		}
	}

	at := func(y, x int) float64 {
		if y < 0 || y >= h || x < 0 || x >= w {
			return 0
		}
		return gray[y*w+x]
	}

	var sum float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			resp := at(y-1, x) + at(y+1, x) + at(y, x-1) + at(y, x+1) - 4*gray[y*w+x]
			sum += resp * resp
		}
	}
	return sum / float64(h*w)
}

// Check reports whether img passes the sharpness gate, along with the score.
func (c *FaceQualityClient) Check(img gocv.Mat) (bool, float64) {
	score := c.SharpnessScore(img)
	return score >= c.ModelParams.SharpnessThreshold, score
}
