package modules

import (
	"context"
	"image"
	"math"
	"sort"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
	"gorgonia.org/tensor"

	"github.com/KongNoraksovann/go-liveness-pipeline/config"
	"github.com/KongNoraksovann/go-liveness-pipeline/inference"
	"github.com/KongNoraksovann/go-liveness-pipeline/utils"
)

const (
	pnetCellSize = 12
	pnetStride   = 2
	rnetSize     = 24
	onetSize     = 48
)

// FaceDetectionOutput is one detected face in source-image pixel coordinates.
type FaceDetectionOutput struct {
	Box      config.BoundingBox
	Landmark *tensor.Dense // (5,2) matrix of [x y] rows
}

// FaceDetectionClient runs the three-stage cascade detector. Each stage
// consumes every survivor of the previous one; an empty stage output means no
// face.
type FaceDetectionClient struct {
	pnet, rnet, onet inference.Runner
	ModelParams      *config.FaceDetectionParams
}

func NewFaceDetectionClient(pnet, rnet, onet inference.Runner, cfg *config.FaceDetectionParams) *FaceDetectionClient {
	if cfg == nil {
		cfg = config.DefaultFaceDetectionParams
	}
	return &FaceDetectionClient{
		pnet:        pnet,
		rnet:        rnet,
		onet:        onet,
		ModelParams: cfg,
	}
}

// candidate is a working box with its regression offsets. Coordinates are
// inclusive source pixels; width is x2-x1+1.
type candidate struct {
	x1, y1, x2, y2 float64
	score          float32
	reg            [4]float64
}

func (c candidate) width() float64 {
	return c.x2 - c.x1 + 1
}

func (c candidate) height() float64 {
	return c.y2 - c.y1 + 1
}

func (c candidate) area() float64 {
	return c.width() * c.height()
}

/*
DetectFaces runs the full cascade on img and returns every surviving face
with its 5-point landmark.

Inputs:

  - ctx (context.Context): cancellation token, checked before every scale and
    every stage inference.
  - img (gocv.Mat): source RGB image.

Outputs:

  - faces ([]FaceDetectionOutput): surviving detections in source pixels.
*/
func (c *FaceDetectionClient) DetectFaces(ctx context.Context, img gocv.Mat) ([]FaceDetectionOutput, error) {
	cands, err := c.stage1(ctx, img)
	if err != nil {
		return nil, err
	}

	cands, err = c.stage2(ctx, img, cands)
	if err != nil {
		return nil, err
	}

	return c.stage3(ctx, img, cands)
}

// BestFace selects the strongest detection: highest score, larger area on
// score ties.
func BestFace(faces []FaceDetectionOutput) (FaceDetectionOutput, error) {
	if len(faces) == 0 {
		return FaceDetectionOutput{}, errors.Wrap(config.ErrNoFaceDetected, "empty detection list")
	}

	best := faces[0]
	for _, f := range faces[1:] {
		if f.Box.Score > best.Box.Score ||
			(f.Box.Score == best.Box.Score && f.Box.Area() > best.Box.Area()) {
			best = f
		}
	}
	return best, nil
}

// LargestFace returns the face whose clipped box covers the biggest area.
func LargestFace(faces []FaceDetectionOutput, w, h int) (FaceDetectionOutput, int, error) {
	if len(faces) == 0 {
		return FaceDetectionOutput{}, 0, errors.Wrap(config.ErrNoFaceDetected, "empty detection list")
	}

	clip := func(v, hi float64) float64 {
		return math.Max(0, math.Min(v, hi))
	}

	maxIdx := 0
	maxArea := -1.0
	for idx, f := range faces {
		left := clip(f.Box.X1, float64(w-1))
		right := clip(f.Box.X2, float64(w-1))
		top := clip(f.Box.Y1, float64(h-1))
		bottom := clip(f.Box.Y2, float64(h-1))
		area := (right - left) * (bottom - top)
		if area > maxArea {
			maxArea = area
			maxIdx = idx
		}
	}
	return faces[maxIdx], maxIdx, nil
}

// scalePyramid generates the stage-1 scales: s_k = m * factor^k while the
// scaled shorter side still exceeds one cell.
func (c *FaceDetectionClient) scalePyramid(w, h int) []float64 {
	m := float64(c.ModelParams.MinFaceSize) / float64(pnetCellSize)
	minSide := float64(w)
	if h < w {
		minSide = float64(h)
	}

	var scales []float64
	f := 1.0
	for minSide*m*f > float64(pnetCellSize) {
		scales = append(scales, m*f)
		f *= c.ModelParams.ScaleFactor
	}
	return scales
}

func (c *FaceDetectionClient) chwMean() [3]float64 {
	return [3]float64{c.ModelParams.Mean, c.ModelParams.Mean, c.ModelParams.Mean}
}

func (c *FaceDetectionClient) chwScale() [3]float64 {
	return [3]float64{c.ModelParams.Scale, c.ModelParams.Scale, c.ModelParams.Scale}
}

func (c *FaceDetectionClient) stage1(ctx context.Context, img gocv.Mat) ([]candidate, error) {
	dims := img.Size()
	h, w := dims[0], dims[1]

	var all []candidate
	for _, s := range c.scalePyramid(w, h) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		sw := int(math.Ceil(float64(w) * s))
		sh := int(math.Ceil(float64(h) * s))
		if sw < pnetCellSize || sh < pnetCellSize {
			continue
		}

		scaled := utils.ResizeMat(img, sw, sh, gocv.InterpolationNearestNeighbor)
		cands, err := c.runPNetScale(scaled, s)
		scaled.Close()
		if err != nil {
			return nil, err
		}
		all = append(all, cands...)
	}

	if len(all) == 0 {
		return nil, errors.Wrap(config.ErrNoFaceDetected, "stage 1 kept no candidates")
	}

	all = nms(all, c.ModelParams.NMSThresholds[0], nmsUnion)
	calibrate(all)
	squareRound(all)
	return all, nil
}

// runPNetScale slides a 12x12 window with stride 2 over the scaled image,
// batches every cell through P-Net, and back-projects the surviving cells to
// source coordinates.
func (c *FaceDetectionClient) runPNetScale(scaled gocv.Mat, s float64) ([]candidate, error) {
	dims := scaled.Size()
	sh, sw := dims[0], dims[1]

	rows := (sh-pnetCellSize)/pnetStride + 1
	cols := (sw-pnetCellSize)/pnetStride + 1
	if rows <= 0 || cols <= 0 {
		return nil, nil
	}

	n := rows * cols
	data := make([]float32, 0, n*3*pnetCellSize*pnetCellSize)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			patch := scaled.Region(image.Rect(
				j*pnetStride,
				i*pnetStride,
				j*pnetStride+pnetCellSize,
				i*pnetStride+pnetCellSize,
			))
			data = append(data, utils.MatToCHWFloats(patch, c.chwMean(), c.chwScale())...)
			patch.Close()
		}
	}

	outs, err := c.pnet.Run([]int64{int64(n), 3, pnetCellSize, pnetCellSize}, data)
	if err != nil {
		return nil, err
	}
	if len(outs) < 2 || len(outs[0]) < n*4 || len(outs[1]) < n*2 {
		return nil, errors.Wrap(config.ErrInferenceFailed, "pnet output shape mismatch")
	}
	offsets, probs := outs[0], outs[1]

	var cands []candidate
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			idx := i*cols + j
			p := probs[idx*2+1]
			if p <= c.ModelParams.StageThresholds[0] {
				continue
			}

			cands = append(cands, candidate{
				x1:    math.Round(float64(pnetStride*j+1) / s),
				y1:    math.Round(float64(pnetStride*i+1) / s),
				x2:    math.Round(float64(pnetStride*j+1+pnetCellSize) / s),
				y2:    math.Round(float64(pnetStride*i+1+pnetCellSize) / s),
				score: p,
				reg: [4]float64{
					float64(offsets[idx*4]),
					float64(offsets[idx*4+1]),
					float64(offsets[idx*4+2]),
					float64(offsets[idx*4+3]),
				},
			})
		}
	}
	return cands, nil
}

func (c *FaceDetectionClient) stage2(ctx context.Context, img gocv.Mat, cands []candidate) ([]candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := c.batchCrops(img, cands, rnetSize)
	if err != nil {
		return nil, err
	}

	n := len(cands)
	outs, err := c.rnet.Run([]int64{int64(n), 3, rnetSize, rnetSize}, data)
	if err != nil {
		return nil, err
	}
	if len(outs) < 2 || len(outs[0]) < n*4 || len(outs[1]) < n*2 {
		return nil, errors.Wrap(config.ErrInferenceFailed, "rnet output shape mismatch")
	}
	offsets, probs := outs[0], outs[1]

	var kept []candidate
	for i, cand := range cands {
		p := probs[i*2+1]
		if p <= c.ModelParams.StageThresholds[1] {
			continue
		}
		cand.score = p
		cand.reg = [4]float64{
			float64(offsets[i*4]),
			float64(offsets[i*4+1]),
			float64(offsets[i*4+2]),
			float64(offsets[i*4+3]),
		}
		kept = append(kept, cand)
	}

	if len(kept) == 0 {
		return nil, errors.Wrap(config.ErrNoFaceDetected, "stage 2 kept no candidates")
	}

	kept = nms(kept, c.ModelParams.NMSThresholds[1], nmsUnion)
	calibrate(kept)
	squareRound(kept)
	return kept, nil
}

func (c *FaceDetectionClient) stage3(ctx context.Context, img gocv.Mat, cands []candidate) ([]FaceDetectionOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := c.batchCrops(img, cands, onetSize)
	if err != nil {
		return nil, err
	}

	n := len(cands)
	outs, err := c.onet.Run([]int64{int64(n), 3, onetSize, onetSize}, data)
	if err != nil {
		return nil, err
	}
	if len(outs) < 3 || len(outs[0]) < n*10 || len(outs[1]) < n*4 || len(outs[2]) < n*2 {
		return nil, errors.Wrap(config.ErrInferenceFailed, "onet output shape mismatch")
	}
	landmarks, offsets, probs := outs[0], outs[1], outs[2]

	type scored struct {
		cand candidate
		lmk  [10]float64
	}

	var kept []scored
	for i, cand := range cands {
		p := probs[i*2+1]
		if p <= c.ModelParams.StageThresholds[2] {
			continue
		}
		cand.score = p
		cand.reg = [4]float64{
			float64(offsets[i*4]),
			float64(offsets[i*4+1]),
			float64(offsets[i*4+2]),
			float64(offsets[i*4+3]),
		}

		// The network emits box-relative landmarks laid out [x0..x4, y0..y4].
		var lmk [10]float64
		bw, bh := cand.width(), cand.height()
		for k := 0; k < 5; k++ {
			lmk[k] = cand.x1 + bw*float64(landmarks[i*10+k])
			lmk[5+k] = cand.y1 + bh*float64(landmarks[i*10+5+k])
		}
		kept = append(kept, scored{cand: cand, lmk: lmk})
	}

	if len(kept) == 0 {
		return nil, errors.Wrap(config.ErrNoFaceDetected, "stage 3 kept no candidates")
	}

	boxes := make([]candidate, len(kept))
	for i := range kept {
		boxes[i] = kept[i].cand
	}
	calibrate(boxes)
	for i := range kept {
		kept[i].cand = boxes[i]
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].cand.score > kept[j].cand.score
	})
	surviving := make([]candidate, len(kept))
	for i := range kept {
		surviving[i] = kept[i].cand
	}
	keepIdx := nmsIndices(surviving, c.ModelParams.NMSThresholds[2], nmsMin)

	dims := img.Size()
	h, w := dims[0], dims[1]

	var results []FaceDetectionOutput
	for _, idx := range keepIdx {
		cand := kept[idx].cand
		cand.x1 = math.Max(0, cand.x1)
		cand.y1 = math.Max(0, cand.y1)
		cand.x2 = math.Min(float64(w-1), cand.x2)
		cand.y2 = math.Min(float64(h-1), cand.y2)
		if cand.x1 >= cand.x2 || cand.y1 >= cand.y2 {
			continue
		}

		lmk := kept[idx].lmk
		backing := make([]float32, 10)
		for k := 0; k < 5; k++ {
			backing[k*2] = float32(lmk[k])
			backing[k*2+1] = float32(lmk[5+k])
		}

		results = append(results, FaceDetectionOutput{
			Box: config.BoundingBox{
				X1:    cand.x1,
				Y1:    cand.y1,
				X2:    cand.x2,
				Y2:    cand.y2,
				Score: cand.score,
			},
			Landmark: tensor.New(
				tensor.Of(tensor.Float32),
				tensor.WithShape(5, 2),
				tensor.WithBacking(backing),
			),
		})
	}

	if len(results) == 0 {
		return nil, errors.Wrap(config.ErrNoFaceDetected, "stage 3 kept no valid boxes")
	}
	return results, nil
}

// batchCrops extracts every candidate's square patch, zero-filling regions
// outside the image, resizes each to size and packs the batch in NCHW order.
func (c *FaceDetectionClient) batchCrops(img gocv.Mat, cands []candidate, size int) ([]float32, error) {
	data := make([]float32, 0, len(cands)*3*size*size)
	for _, cand := range cands {
		patch, err := padCrop(img, cand)
		if err != nil {
			return nil, err
		}
		resized := utils.ResizeMat(patch, size, size, gocv.InterpolationLinear)
		patch.Close()
		data = append(data, utils.MatToCHWFloats(resized, c.chwMean(), c.chwScale())...)
		resized.Close()
	}
	return data, nil
}

// padCrop copies the candidate's rectangle into a black canvas so regions
// that fall outside the source image read as zero.
func padCrop(img gocv.Mat, cand candidate) (gocv.Mat, error) {
	dims := img.Size()
	h, w := dims[0], dims[1]

	bx1, by1 := int(cand.x1), int(cand.y1)
	bw, bh := int(cand.width()), int(cand.height())
	if bw <= 0 || bh <= 0 {
		return gocv.Mat{}, errors.Wrapf(config.ErrInvalidImage, "degenerate box %dx%d", bw, bh)
	}

	patch := gocv.NewMatWithSizesWithScalar(
		[]int{bh, bw},
		gocv.MatTypeCV8UC3,
		gocv.NewScalar(0, 0, 0, 0),
	)

	sx1 := maxInt(bx1, 0)
	sy1 := maxInt(by1, 0)
	sx2 := minInt(bx1+bw, w)
	sy2 := minInt(by1+bh, h)
	if sx1 < sx2 && sy1 < sy2 {
		srcROI := img.Region(image.Rect(sx1, sy1, sx2, sy2))
		dstROI := patch.Region(image.Rect(sx1-bx1, sy1-by1, sx2-bx1, sy2-by1))
		srcROI.CopyTo(&dstROI)
		srcROI.Close()
		dstROI.Close()
	}
	return patch, nil
}

// calibrate applies each candidate's regression offsets in place and clears
// them.
func calibrate(cands []candidate) {
	for i := range cands {
		w := cands[i].width()
		h := cands[i].height()
		cands[i].x1 += w * cands[i].reg[0]
		cands[i].y1 += h * cands[i].reg[1]
		cands[i].x2 += w * cands[i].reg[2]
		cands[i].y2 += h * cands[i].reg[3]
		cands[i].reg = [4]float64{}
	}
}

// squareRound expands each candidate's shorter side about the center and
// rounds the result to integer pixels.
func squareRound(cands []candidate) {
	for i := range cands {
		w := cands[i].width()
		h := cands[i].height()
		side := math.Max(w, h)

		cx := (cands[i].x1 + cands[i].x2) / 2
		cy := (cands[i].y1 + cands[i].y2) / 2
		sideInt := math.Round(side)
		cands[i].x1 = math.Round(cx - (side-1)/2)
		cands[i].y1 = math.Round(cy - (side-1)/2)
		cands[i].x2 = cands[i].x1 + sideInt - 1
		cands[i].y2 = cands[i].y1 + sideInt - 1
	}
}

type nmsMode int

const (
	nmsUnion nmsMode = iota
	nmsMin
)

// nms suppresses overlapping candidates, keeping the higher scoring ones.
func nms(cands []candidate, overlap float64, mode nmsMode) []candidate {
	sorted := append([]candidate(nil), cands...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].score > sorted[j].score
	})

	keep := nmsIndices(sorted, overlap, mode)
	out := make([]candidate, 0, len(keep))
	for _, idx := range keep {
		out = append(out, sorted[idx])
	}
	return out
}

// nmsIndices runs suppression over candidates already sorted by descending
// score and returns the kept indices in order.
func nmsIndices(sorted []candidate, overlap float64, mode nmsMode) []int {
	suppressed := make([]bool, len(sorted))
	keep := make([]int, 0, len(sorted))

	for i := range sorted {
		if suppressed[i] {
			continue
		}
		keep = append(keep, i)
		for j := i + 1; j < len(sorted); j++ {
			if suppressed[j] {
				continue
			}
			if boxOverlap(sorted[i], sorted[j], mode) > overlap {
				suppressed[j] = true
			}
		}
	}
	return keep
}

// boxOverlap is IoU in union mode, intersection over the smaller area in min
// mode. Areas use the inclusive-pixel convention.
func boxOverlap(a, b candidate, mode nmsMode) float64 {
	ix1 := math.Max(a.x1, b.x1)
	iy1 := math.Max(a.y1, b.y1)
	ix2 := math.Min(a.x2, b.x2)
	iy2 := math.Min(a.y2, b.y2)

	iw := ix2 - ix1 + 1
	ih := iy2 - iy1 + 1
	if iw <= 0 || ih <= 0 {
		return 0
	}
	inter := iw * ih

	switch mode {
	case nmsMin:
		return inter / math.Min(a.area(), b.area())
	default:
		return inter / (a.area() + b.area() - inter)
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
