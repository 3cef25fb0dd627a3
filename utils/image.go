package utils

import (
	"bytes"
	"image"
	"image/jpeg"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
	"gorgonia.org/tensor"

	"github.com/KongNoraksovann/go-liveness-pipeline/config"
)

// Accepted raster bounds. 64x64 is rejected, 4095x4095 is the largest
// accepted square.
const (
	MinImageDim = 64
	MaxImageDim = 4096
)

// ValidateImageSize rejects rasters outside the accepted bounds.
func ValidateImageSize(width, height int) error {
	if width <= MinImageDim || height <= MinImageDim {
		return errors.Wrapf(config.ErrInvalidImage, "image %dx%d is below the minimum dimension %d", width, height, MinImageDim)
	}
	if width >= MaxImageDim || height >= MaxImageDim {
		return errors.Wrapf(config.ErrInvalidImage, "image %dx%d exceeds the maximum dimension %d", width, height, MaxImageDim)
	}
	return nil
}

// NewMatFromRGBA wraps decoded RGBA bytes into a 3-channel RGB Mat. The alpha
// channel is dropped; no numeric stage reads it.
func NewMatFromRGBA(data []byte, width, height int) (*gocv.Mat, error) {
	if width <= 0 || height <= 0 || len(data) != width*height*4 {
		return nil, errors.Wrapf(config.ErrInvalidImage, "rgba buffer length %d does not match %dx%d", len(data), width, height)
	}

	rgb := make([]byte, width*height*3)
	for i := 0; i < width*height; i++ {
		rgb[i*3] = data[i*4]
		rgb[i*3+1] = data[i*4+1]
		rgb[i*3+2] = data[i*4+2]
	}

	m, err := gocv.NewMatFromBytes(height, width, gocv.MatTypeCV8UC3, rgb)
	if err != nil {
		return nil, errors.Wrap(err, "failed to wrap rgba buffer")
	}
	return &m, nil
}

// ConvertImageToMat decodes an encoded image (JPEG/PNG) into an RGB Mat.
func ConvertImageToMat(bImage []byte) (*gocv.Mat, error) {
	dstMat := gocv.NewMat()
	srcMat, err := gocv.IMDecode(bImage, gocv.IMReadColor)
	if err != nil {
		return &dstMat, err
	}
	defer srcMat.Close()

	gocv.CvtColor(srcMat, &dstMat, gocv.ColorBGRToRGB)
	return &dstMat, nil
}

// ResizeMat returns a resized copy of src. Resizing to the current size is an
// identity copy.
func ResizeMat(src gocv.Mat, width, height int, interp gocv.InterpolationFlags) gocv.Mat {
	dims := src.Size()
	if dims[0] == height && dims[1] == width {
		return src.Clone()
	}

	dst := gocv.NewMat()
	gocv.Resize(src, &dst, image.Point{X: width, Y: height}, 0, 0, interp)
	return dst
}

// CropMat extracts rect from src, clipped to the image bounds. A crop with
// zero area is an invalid-image error.
func CropMat(src gocv.Mat, rect image.Rectangle) (gocv.Mat, error) {
	dims := src.Size()
	clipped := rect.Intersect(image.Rect(0, 0, dims[1], dims[0]))
	if clipped.Dx() == 0 || clipped.Dy() == 0 {
		return gocv.Mat{}, errors.Wrapf(config.ErrInvalidImage, "crop %v has zero area", rect)
	}

	roi := src.Region(clipped)
	defer roi.Close()
	return roi.Clone(), nil
}

// MatToCHWFloats flattens an RGB Mat to CHW float32 order, normalizing each
// channel as (pixel - mean[c]) * scale[c].
func MatToCHWFloats(img gocv.Mat, mean, scale [3]float64) []float32 {
	dims := img.Size()
	h, w := dims[0], dims[1]

	out := make([]float32, 3*h*w)
	for z := 0; z < 3; z++ {
		plane := out[z*h*w:]
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				plane[y*w+x] = float32((float64(img.GetVecbAt(y, x)[z]) - mean[z]) * scale[z])
			}
		}
	}
	return out
}

// ToCHWTensor normalizes img with per-channel statistics in pixel scale and
// lays it out as an NCHW tensor of shape (1,3,H,W).
func ToCHWTensor(img gocv.Mat, mean, scale [3]float64) (*tensor.Dense, error) {
	dims := img.Size()
	h, w := dims[0], dims[1]

	t := tensor.New(
		tensor.Of(tensor.Float32),
		tensor.WithShape(1, 3, h, w),
		tensor.WithBacking(MatToCHWFloats(img, mean, scale)),
	)
	return t, nil
}

// ToCHWTensorMTCNN applies the cascade detector's normalization,
// (pixel - 127.5) * 0.0078125, identically on every channel.
func ToCHWTensorMTCNN(img gocv.Mat) (*tensor.Dense, error) {
	return ToCHWTensor(
		img,
		[3]float64{127.5, 127.5, 127.5},
		[3]float64{0.0078125, 0.0078125, 0.0078125},
	)
}

// MatToJPEG encodes img as JPEG at the given quality.
func MatToJPEG(img gocv.Mat, jpegQuality int) ([]byte, error) {
	outImg, err := img.ToImage()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	opt := jpeg.Options{
		Quality: jpegQuality,
	}
	if err := jpeg.Encode(&buf, outImg, &opt); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
