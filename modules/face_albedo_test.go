package modules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gocv.io/x/gocv"
)

func TestAlbedoCheck_PureWhiteIsOverexposed(t *testing.T) {
	img := uniformMat(224, 224, 255, 255, 255)
	defer img.Close()

	client := NewFaceAlbedoClient(nil)
	res, err := client.Check(img)
	assert.NoError(t, err)
	assert.False(t, res.IsLive)
	assert.True(t, res.Overexposed)
	assert.InDelta(t, 255.0, res.Brightness, 1e-9)
}

func TestAlbedoCheck_BrightnessBoundaryIsStrict(t *testing.T) {
	// Exactly 200 must not trip the overexposure gate.
	img := uniformMat(224, 224, 200, 200, 200)
	defer img.Close()

	client := NewFaceAlbedoClient(nil)
	res, err := client.Check(img)
	assert.NoError(t, err)
	assert.InDelta(t, 200.0, res.Brightness, 1e-9)
	assert.False(t, res.Overexposed)
}

func TestAlbedoCheck_UniformFieldIsSpoof(t *testing.T) {
	img := uniformMat(224, 224, 128, 128, 128)
	defer img.Close()

	client := NewFaceAlbedoClient(nil)
	res, err := client.Check(img)
	assert.NoError(t, err)
	assert.False(t, res.IsLive)
	assert.False(t, res.Overexposed)
	assert.Equal(t, 0, res.OutlierCounts[1])
	assert.Equal(t, 0, res.OutlierCounts[2])
}

func TestAlbedoCheck_BrightTailIsLive(t *testing.T) {
	img := speckledMat(224, 224)
	defer img.Close()

	client := NewFaceAlbedoClient(nil)
	res, err := client.Check(img)
	assert.NoError(t, err)
	assert.True(t, res.IsLive)
	assert.Greater(t, res.OutlierCounts[1], 0)
	assert.Greater(t, res.OutlierCounts[2], 0)
}

func TestAlbedoCheck_FlipInvariance(t *testing.T) {
	// At the working size the resize is an identity, so a flip only permutes
	// pixels and the channel statistics must not move.
	img := matFromFunc(224, 224, func(x, y int) [3]byte {
		base := byte(40 + (x*200)/224)
		if (y*224+x)%719 == 0 {
			return [3]byte{255, 250, 245}
		}
		return [3]byte{base, base / 2, base / 3}
	})
	defer img.Close()

	client := NewFaceAlbedoClient(nil)
	base, err := client.Check(img)
	assert.NoError(t, err)

	for _, flipCode := range []int{0, 1} {
		flipped := gocv.NewMat()
		gocv.Flip(img, &flipped, flipCode)

		res, err := client.Check(flipped)
		flipped.Close()
		assert.NoError(t, err)
		assert.Equal(t, base.OutlierCounts, res.OutlierCounts)
		assert.InDelta(t, base.Brightness, res.Brightness, 1e-9)
	}
}
