package modules

import (
	"context"
	"image"
	"image/color"
	"math"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
	"gorgonia.org/tensor"

	"github.com/KongNoraksovann/go-liveness-pipeline/config"
	"github.com/KongNoraksovann/go-liveness-pipeline/utils"
)

// Affine2x3 is a row-major 2x3 affine transform mapping source pixels into
// the aligned-face frame.
type Affine2x3 struct {
	M [2][3]float64
}

// Apply maps (x, y) through the transform.
func (a Affine2x3) Apply(x, y float64) (float64, float64) {
	return a.M[0][0]*x + a.M[0][1]*y + a.M[0][2],
		a.M[1][0]*x + a.M[1][1]*y + a.M[1][2]
}

// Invert returns the inverse transform.
func (a Affine2x3) Invert() (Affine2x3, error) {
	det := a.M[0][0]*a.M[1][1] - a.M[0][1]*a.M[1][0]
	if math.Abs(det) < 1e-12 {
		return Affine2x3{}, errors.New("affine transform is singular")
	}

	inv := Affine2x3{}
	inv.M[0][0] = a.M[1][1] / det
	inv.M[0][1] = -a.M[0][1] / det
	inv.M[1][0] = -a.M[1][0] / det
	inv.M[1][1] = a.M[0][0] / det
	inv.M[0][2] = -(inv.M[0][0]*a.M[0][2] + inv.M[0][1]*a.M[1][2])
	inv.M[1][2] = -(inv.M[1][0]*a.M[0][2] + inv.M[1][1]*a.M[1][2])
	return inv, nil
}

// ToMat converts the transform into the CV64F matrix warpAffine expects.
func (a Affine2x3) ToMat() gocv.Mat {
	m := gocv.NewMatWithSize(2, 3, gocv.MatTypeCV64F)
	for r := 0; r < 2; r++ {
		for c := 0; c < 3; c++ {
			m.SetDoubleAt(r, c, a.M[r][c])
		}
	}
	return m
}

// FaceHelperClient owns the alignment geometry and the default face-crop
// protocol used ahead of the spoof checks.
type FaceHelperClient struct {
	faceSize     [2]int
	cropSize     int
	faceTemplate *tensor.Dense
	faceDet      *FaceDetectionClient
}

// NewFaceHelperClient initializes a new FaceHelperClient. faceTemplate
// defaults to the 112x112 reference constellation.
func NewFaceHelperClient(faceDet *FaceDetectionClient, faceSize int, faceTemplate *tensor.Dense) (*FaceHelperClient, error) {
	if faceSize == 0 {
		faceSize = 112
	}

	if faceTemplate == nil {
		faceTemplate = tensor.New(
			tensor.Of(tensor.Float32),
			tensor.WithShape(5, 2),
			tensor.WithBacking([]float32{
				30.29, 51.70,
				65.53, 51.50,
				48.03, 71.74,
				33.55, 92.37,
				62.73, 92.20,
			}),
		)
	}

	return &FaceHelperClient{
		faceSize:     [2]int{faceSize, faceSize},
		cropSize:     224,
		faceTemplate: faceTemplate,
		faceDet:      faceDet,
	}, nil
}

/*
SimilarityTransform solves for the rotation + isotropic scale + translation
mapping the landmark constellation onto the reference template.

The least-squares system is built from rows [x y 1 0] and [y -x 0 1] per
source point against the stacked [u v ...] targets, solved in float64 through
the normal equations. A second solve against y-mirrored targets yields the
reflective candidate; whichever fits the original targets with the smaller
Euclidean residual wins. The winner must place every landmark within one
pixel of its reference position or the alignment fails.
*/
func (c *FaceHelperClient) SimilarityTransform(landmark *tensor.Dense) (Affine2x3, error) {
	src, err := tensorToPoints(landmark)
	if err != nil {
		return Affine2x3{}, err
	}
	dst, err := tensorToPoints(c.faceTemplate)
	if err != nil {
		return Affine2x3{}, err
	}

	direct, err := solveSimilarity(src, dst)
	if err != nil {
		return Affine2x3{}, err
	}

	mirrored := make([][2]float64, len(dst))
	for i, p := range dst {
		mirrored[i] = [2]float64{p[0], -p[1]}
	}
	best := direct
	bestRes := transformResidual(direct, src, dst)
	if reflectedBase, err := solveSimilarity(src, mirrored); err == nil {
		// Un-mirror to get the reflective candidate in the target frame.
		reflected := reflectedBase
		reflected.M[1][0] = -reflectedBase.M[1][0]
		reflected.M[1][1] = -reflectedBase.M[1][1]
		reflected.M[1][2] = -reflectedBase.M[1][2]
		if res := transformResidual(reflected, src, dst); res < bestRes {
			best = reflected
			bestRes = res
		}
	}

	// The winning transform must land every landmark within one pixel of its
	// reference position, or the constellation was not a face we can align.
	if res := maxPointResidual(best, src, dst); res > alignResidualLimit {
		return Affine2x3{}, errors.Errorf("alignment residual %.2fpx exceeds the %.0fpx tolerance", res, alignResidualLimit)
	}
	return best, nil
}

/*
AlignWarpFace warps img so the landmark constellation lands on the reference
template.

Inputs:

  - img (gocv.Mat): source face image.
  - landmark (*tensor.Dense): (5,2) landmark matrix in source pixels.

Outputs:

  - aligned (gocv.Mat): 112x112 aligned face, black outside the source domain.
  - transform (Affine2x3): the applied source-to-aligned transform.
*/
func (c *FaceHelperClient) AlignWarpFace(img gocv.Mat, landmark *tensor.Dense, borderMode *gocv.BorderType) (gocv.Mat, Affine2x3, error) {
	defaultBorderMode := gocv.BorderConstant
	if borderMode == nil {
		borderMode = &defaultBorderMode
	}

	transform, err := c.SimilarityTransform(landmark)
	if err != nil {
		return gocv.Mat{}, Affine2x3{}, err
	}

	affineMatrix := transform.ToMat()
	defer affineMatrix.Close()

	aligned := gocv.NewMat()
	gocv.WarpAffineWithParams(
		img,
		&aligned,
		affineMatrix,
		image.Point{
			X: c.faceSize[0],
			Y: c.faceSize[1],
		},
		gocv.InterpolationLinear,
		*borderMode,
		color.RGBA{
			R: 0,
			G: 0,
			B: 0,
			A: 0,
		},
	)
	return aligned, transform, nil
}

/*
AlignWarpFaces aligns a batch of images using their landmarks and the shared
reference template.

Inputs:

  - inputImgs ([]gocv.Mat): list of face images.
  - landmarks ([]*tensor.Dense): list of (5,2) landmark matrices.

Outputs:

  - croppedFaces ([]gocv.Mat): list of aligned faces.
  - transforms ([]Affine2x3): list of applied transforms.
*/
func (c *FaceHelperClient) AlignWarpFaces(inputImgs []gocv.Mat, landmarks []*tensor.Dense, borderMode *gocv.BorderType) ([]gocv.Mat, []Affine2x3, error) {
	if len(inputImgs) != len(landmarks) {
		return nil, nil, errors.New("number of input images and landmarks must be equal")
	}

	croppedFaces := make([]gocv.Mat, 0, len(inputImgs))
	transforms := make([]Affine2x3, 0, len(inputImgs))
	for i := range inputImgs {
		aligned, transform, err := c.AlignWarpFace(inputImgs[i], landmarks[i], borderMode)
		if err != nil {
			for _, m := range croppedFaces {
				m.Close()
			}
			return nil, nil, err
		}
		croppedFaces = append(croppedFaces, aligned)
		transforms = append(transforms, transform)
	}
	return croppedFaces, transforms, nil
}

/*
Crop emulates the capture-side crop used ahead of the spoof checks: a tight
box around the largest detected face, shorter side resized to 256, then a
centered 224 crop.
*/
func (c *FaceHelperClient) Crop(ctx context.Context, img gocv.Mat) (gocv.Mat, error) {
	if c.faceDet == nil {
		return gocv.Mat{}, errors.Wrap(config.ErrNoFaceDetected, "no detector attached")
	}

	faces, err := c.faceDet.DetectFaces(ctx, img)
	if err != nil {
		return gocv.Mat{}, err
	}

	dims := img.Size()
	h, w := dims[0], dims[1]
	best, _, err := LargestFace(faces, w, h)
	if err != nil {
		return gocv.Mat{}, err
	}

	tight, err := utils.CropMat(img, image.Rect(
		int(best.Box.X1),
		int(best.Box.Y1),
		int(best.Box.X2)+1,
		int(best.Box.Y2)+1,
	))
	if err != nil {
		return gocv.Mat{}, err
	}
	defer tight.Close()

	tDims := tight.Size()
	th, tw := tDims[0], tDims[1]
	short := th
	if tw < th {
		short = tw
	}
	scale := 256.0 / float64(short)
	rw := int(math.Round(float64(tw) * scale))
	rh := int(math.Round(float64(th) * scale))
	resized := utils.ResizeMat(tight, rw, rh, gocv.InterpolationLinear)
	defer resized.Close()

	x0 := (rw - c.cropSize) / 2
	y0 := (rh - c.cropSize) / 2
	return utils.CropMat(resized, image.Rect(x0, y0, x0+c.cropSize, y0+c.cropSize))
}

// solveSimilarity fits [sc ss tx ty] so that u = sc*x + ss*y + tx and
// v = sc*y - ss*x + ty for every point pair, via the 4x4 normal equations.
func solveSimilarity(src, dst [][2]float64) (Affine2x3, error) {
	if len(src) != len(dst) || len(src) < 2 {
		return Affine2x3{}, errors.New("need at least two matching point pairs")
	}

	rows := make([][4]float64, 0, len(src)*2)
	targets := make([]float64, 0, len(src)*2)
	for i := range src {
		x, y := src[i][0], src[i][1]
		rows = append(rows, [4]float64{x, y, 1, 0})
		targets = append(targets, dst[i][0])
		rows = append(rows, [4]float64{y, -x, 0, 1})
		targets = append(targets, dst[i][1])
	}

	ata := make([][]float64, 4)
	atb := make([]float64, 4)
	for i := range ata {
		ata[i] = make([]float64, 4)
	}
	for r, row := range rows {
		for i := 0; i < 4; i++ {
			for j := 0; j < 4; j++ {
				ata[i][j] += row[i] * row[j]
			}
			atb[i] += row[i] * targets[r]
		}
	}

	r, err := utils.SolveLinear(ata, atb)
	if err != nil {
		return Affine2x3{}, errors.Wrap(err, "failed to solve similarity system")
	}

	sc, ss, tx, ty := r[0], r[1], r[2], r[3]
	return Affine2x3{
		M: [2][3]float64{
			{sc, ss, tx},
			{-ss, sc, ty},
		},
	}, nil
}

// alignResidualLimit is the per-landmark error bound the winning transform
// must meet.
const alignResidualLimit = 1.0

// transformResidual is the total Euclidean error of t(src) against dst.
func transformResidual(t Affine2x3, src, dst [][2]float64) float64 {
	var sum float64
	for i := range src {
		x, y := t.Apply(src[i][0], src[i][1])
		sum += math.Hypot(x-dst[i][0], y-dst[i][1])
	}
	return sum
}

// maxPointResidual is the worst single-point Euclidean error of t(src)
// against dst.
func maxPointResidual(t Affine2x3, src, dst [][2]float64) float64 {
	var worst float64
	for i := range src {
		x, y := t.Apply(src[i][0], src[i][1])
		if d := math.Hypot(x-dst[i][0], y-dst[i][1]); d > worst {
			worst = d
		}
	}
	return worst
}

func tensorToPoints(t *tensor.Dense) ([][2]float64, error) {
	shape := t.Shape()
	if len(shape) != 2 || shape[1] != 2 {
		return nil, errors.Errorf("expected an (n,2) point tensor, got shape %v", shape)
	}

	data := t.Float32s()
	points := make([][2]float64, shape[0])
	for i := range points {
		points[i] = [2]float64{float64(data[i*2]), float64(data[i*2+1])}
	}
	return points, nil
}
