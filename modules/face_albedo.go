package modules

import (
	"math"
	"sort"

	"gocv.io/x/gocv"

	"github.com/KongNoraksovann/go-liveness-pipeline/config"
	"github.com/KongNoraksovann/go-liveness-pipeline/utils"
)

// AlbedoResult carries the channel reflectance statistics behind the
// live/spoof decision.
type AlbedoResult struct {
	IsLive          bool       `json:"is_live"`          // IsLive is the overall decision.
	Overexposed     bool       `json:"overexposed"`      // Overexposed is set when brightness exceeds the limit.
	Brightness      float64    `json:"brightness"`       // Brightness is the mean of the per-channel means.
	Contrast        float64    `json:"contrast"`         // Contrast is the luma standard deviation.
	ChannelVariance [3]float64 `json:"channel_variance"` // ChannelVariance is per R,G,B channel.
	OutlierCounts   [3]int     `json:"outlier_counts"`   // OutlierCounts is the number of pixels above each upper bound.
	UpperBounds     [3]float64 `json:"upper_bounds"`     // UpperBounds is mean + factor*IQR per channel.
	IQR             [3]float64 `json:"iqr"`              // IQR is Q75-Q25 per channel.
}

// FaceAlbedoClient runs the channel-statistics spoof check. Printed and
// screen-replayed faces flatten the reflectance distribution; a live face
// keeps bright outliers in the green and blue channels.
type FaceAlbedoClient struct {
	ModelParams *config.AlbedoParams
}

func NewFaceAlbedoClient(cfg *config.AlbedoParams) *FaceAlbedoClient {
	if cfg == nil {
		cfg = config.DefaultAlbedoParams
	}
	return &FaceAlbedoClient{ModelParams: cfg}
}

// Check analyzes img at the configured working size and returns the decision
// with its diagnostics.
func (c *FaceAlbedoClient) Check(img gocv.Mat) (*AlbedoResult, error) {
	resized := utils.ResizeMat(img, c.ModelParams.ImgSize, c.ModelParams.ImgSize, gocv.InterpolationLinear)
	defer resized.Close()

	dims := resized.Size()
	h, w := dims[0], dims[1]
	n := h * w

	channels := [3][]float64{
		make([]float64, 0, n),
		make([]float64, 0, n),
		make([]float64, 0, n),
	}
	luma := make([]float64, 0, n)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			px := resized.GetVecbAt(y, x)
			r, g, b := float64(px[0]), float64(px[1]), float64(px[2])
			channels[0] = append(channels[0], r)
			channels[1] = append(channels[1], g)
			channels[2] = append(channels[2], b)
			luma = append(luma, 0.299*r+0.587*g+0.114*b)
		}
	}

	result := &AlbedoResult{
		Contrast: math.Sqrt(utils.Variance(luma)),
	}

	var meanSum float64
	for z := 0; z < 3; z++ {
		mean := utils.Mean(channels[z])
		meanSum += mean
		result.ChannelVariance[z] = utils.Variance(channels[z])

		sorted := append([]float64(nil), channels[z]...)
		sort.Float64s(sorted)
		q25 := utils.Quantile(sorted, 0.25)
		q75 := utils.Quantile(sorted, 0.75)
		result.IQR[z] = q75 - q25
		result.UpperBounds[z] = mean + c.ModelParams.OutlierIQRFactor*result.IQR[z]

		count := 0
		for _, v := range channels[z] {
			if v > result.UpperBounds[z] {
				count++
			}
		}
		result.OutlierCounts[z] = count
	}
	result.Brightness = meanSum / 3

	// Overexposure (flash against a print or screen) trumps the outlier
	// analysis; the gate is strictly greater-than.
	if result.Brightness > c.ModelParams.BrightnessLimit {
		result.Overexposed = true
		result.IsLive = false
		return result, nil
	}

	result.IsLive = result.OutlierCounts[1] > 0 && result.OutlierCounts[2] > 0
	return result, nil
}
