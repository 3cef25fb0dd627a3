package go_liveness_pipeline

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"github.com/KongNoraksovann/go-liveness-pipeline/config"
	"github.com/KongNoraksovann/go-liveness-pipeline/inference"
	"github.com/KongNoraksovann/go-liveness-pipeline/modules"
	"github.com/KongNoraksovann/go-liveness-pipeline/store"
	"github.com/KongNoraksovann/go-liveness-pipeline/utils"
)

// FaceCropProvider supplies the tight face crop used ahead of the spoof
// checks. Implementations must be replaceable by external collaborators.
type FaceCropProvider interface {
	Crop(ctx context.Context, img gocv.Mat) (gocv.Mat, error)
}

// LivenessPipeline sequences the quality, albedo, occlusion, liveness, and
// identity stages over a single still image. A handle serves one call at a
// time; run several handles for parallel traffic. Sessions are shared
// immutable handles and lock their own scratch buffers.
type LivenessPipeline struct {
	FaceDet       *modules.FaceDetectionClient
	FaceHelper    *modules.FaceHelperClient
	FaceQuality   *modules.FaceQualityClient
	FaceAlbedo    *modules.FaceAlbedoClient
	FaceOcclusion *modules.FaceOcclusionClient
	FaceLiveness  *modules.FaceLivenessClient
	FaceID        *modules.FaceIDClient

	CropProvider FaceCropProvider
	Embeddings   store.EmbeddingStore

	cfg *config.PipelineConfig
	log *logrus.Entry
}

// NewLivenessPipeline loads every model session from the store and assembles
// the pipeline. A missing occlusion model degrades open; every other load
// failure is fatal.
func NewLivenessPipeline(models *inference.ModelStore, embeddings store.EmbeddingStore, cfg *config.PipelineConfig) (*LivenessPipeline, error) {
	if cfg == nil {
		cfg = config.DefaultPipelineConfig()
	}

	pipeline := &LivenessPipeline{
		Embeddings: embeddings,
		cfg:        cfg,
		log:        logrus.WithField("component", "liveness_pipeline"),
	}

	pnet, err := models.Load(inference.ModelPNet)
	if err != nil {
		return nil, err
	}
	rnet, err := models.Load(inference.ModelRNet)
	if err != nil {
		return nil, err
	}
	onet, err := models.Load(inference.ModelONet)
	if err != nil {
		return nil, err
	}
	pipeline.FaceDet = modules.NewFaceDetectionClient(pnet, rnet, onet, cfg.Detection)

	faceHelper, err := modules.NewFaceHelperClient(pipeline.FaceDet, 0, nil)
	if err != nil {
		return nil, err
	}
	pipeline.FaceHelper = faceHelper
	pipeline.CropProvider = faceHelper

	pipeline.FaceQuality = modules.NewFaceQualityClient(cfg.Quality)
	pipeline.FaceAlbedo = modules.NewFaceAlbedoClient(cfg.Albedo)

	var occlusion inference.Runner
	if !cfg.SkipOcclusionCheck {
		session, err := models.Load(inference.ModelOcclusion)
		switch {
		case err == nil:
			occlusion = session
		case errors.Is(err, config.ErrModelNotFound):
			pipeline.log.WithError(err).Warn("occlusion model unavailable, degrading open")
		default:
			return nil, err
		}
	}
	pipeline.FaceOcclusion = modules.NewFaceOcclusionClient(occlusion, cfg.Occlusion)

	liveness1, err := models.Load(inference.ModelLiveness10x)
	if err != nil {
		return nil, err
	}
	liveness2, err := models.Load(inference.ModelLiveness05x)
	if err != nil {
		return nil, err
	}
	pipeline.FaceLiveness = modules.NewFaceLivenessClient(liveness1, liveness2, cfg.Liveness)

	embedding, err := models.Load(inference.ModelEmbedding)
	if err != nil {
		return nil, err
	}
	pipeline.FaceID = modules.NewFaceIDClient(embedding, cfg.FaceID)

	return pipeline, nil
}

/*
DetectLiveness decides whether img shows a live, unobstructed, in-focus face.
Exactly one verdict is returned for every accepted image; stages run in a
fixed order and the first failing gate terminates the call with its reason.

Inputs:

  - ctx (context.Context): cancellation token, honored at every inference
    boundary.
  - img (gocv.Mat): source RGB image.

Outputs:

  - verdict (*config.LivenessVerdict): the decision with diagnostic scores
    for each stage that ran.
*/
func (p *LivenessPipeline) DetectLiveness(ctx context.Context, img gocv.Mat) (*config.LivenessVerdict, error) {
	dims := img.Size()
	if err := utils.ValidateImageSize(dims[1], dims[0]); err != nil {
		return nil, err
	}

	work := img
	if !p.cfg.SkipFaceCropping && p.CropProvider != nil {
		cropped, err := p.CropProvider.Crop(ctx, img)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			p.log.WithError(err).Warn("face crop failed, continuing with original image")
		} else {
			defer cropped.Close()
			work = cropped
		}
	}

	if ok, score := p.FaceQuality.Check(work); !ok {
		p.log.WithField("sharpness", score).Debug("sharpness gate rejected image")
		return spoofVerdict(p.FaceQuality.ModelParams.FailureReason, 1.0), nil
	}

	if !p.cfg.SkipAlbedoCheck {
		albedo, err := p.FaceAlbedo.Check(work)
		if err != nil {
			return nil, err
		}
		if !albedo.IsLive {
			p.log.WithField("brightness", albedo.Brightness).Debug("albedo gate rejected image")
			return spoofVerdict(config.ReasonAlbedoSpoof, 1.0), nil
		}
	}

	var occlusionScores *config.OcclusionScores
	if !p.cfg.SkipOcclusionCheck {
		label, confidence, scores, err := p.FaceOcclusion.Infer(ctx, work)
		if err != nil {
			return nil, err
		}
		occlusionScores = scores
		if label != config.OcclusionLabelNormal {
			verdict := spoofVerdict(fmt.Sprintf("Face is occluded: %s", label), confidence)
			verdict.OcclusionScores = occlusionScores
			return verdict, nil
		}
	}

	label, confidence, livenessScores, err := p.FaceLiveness.Infer(ctx, work)
	if err != nil {
		return nil, err
	}

	verdict := &config.LivenessVerdict{
		Prediction:      label,
		Confidence:      confidence,
		LivenessScores:  livenessScores,
		OcclusionScores: occlusionScores,
	}
	if label == config.PredictionSpoof {
		reason := config.ReasonLivenessSpoof
		verdict.FailureReason = &reason
	}
	return verdict, nil
}

// DetectLivenessRGBA wraps DetectLiveness for callers holding decoded RGBA
// bytes.
func (p *LivenessPipeline) DetectLivenessRGBA(ctx context.Context, data []byte, width, height int) (*config.LivenessVerdict, error) {
	if err := utils.ValidateImageSize(width, height); err != nil {
		return nil, err
	}

	img, err := utils.NewMatFromRGBA(data, width, height)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	return p.DetectLiveness(ctx, *img)
}

/*
ExtractFaceEmbedding detects the strongest face in img, aligns it, and
returns its identity embedding.
*/
func (p *LivenessPipeline) ExtractFaceEmbedding(ctx context.Context, img gocv.Mat) ([]float64, error) {
	dims := img.Size()
	if err := utils.ValidateImageSize(dims[1], dims[0]); err != nil {
		return nil, err
	}

	faces, err := p.FaceDet.DetectFaces(ctx, img)
	if err != nil {
		return nil, err
	}
	best, err := modules.BestFace(faces)
	if err != nil {
		return nil, err
	}

	aligned, _, err := p.FaceHelper.AlignWarpFace(img, best.Landmark, nil)
	if err != nil {
		return nil, err
	}
	defer aligned.Close()

	return p.FaceID.ExtractEmbedding(ctx, aligned)
}

// VerifyResult pairs the liveness verdict with the identity comparison.
type VerifyResult struct {
	Verdict    *config.LivenessVerdict `json:"verdict"`
	IsMatch    bool                    `json:"is_match"`
	Similarity float64                 `json:"similarity"`
}

/*
VerifyFace runs the full liveness gate and, when the image passes, matches
the face embedding against the enrolled record for userID. A successful match
bumps the store's match counter.
*/
func (p *LivenessPipeline) VerifyFace(ctx context.Context, img gocv.Mat, userID string) (*VerifyResult, error) {
	if p.Embeddings == nil {
		return nil, errors.New("no embedding store attached")
	}

	verdict, err := p.DetectLiveness(ctx, img)
	if err != nil {
		return nil, err
	}
	result := &VerifyResult{Verdict: verdict}
	if verdict.Prediction != config.PredictionLive {
		return result, nil
	}

	embedding, err := p.ExtractFaceEmbedding(ctx, img)
	if err != nil {
		if errors.Is(err, config.ErrNoFaceDetected) {
			verdict.Prediction = config.PredictionSpoof
			reason := config.ReasonNoFace
			verdict.FailureReason = &reason
			return result, nil
		}
		return nil, err
	}

	record, err := p.Embeddings.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	isMatch, similarity, err := p.FaceID.Verify(embedding, record.Embedding)
	if err != nil {
		return nil, err
	}
	result.IsMatch = isMatch
	result.Similarity = similarity

	if isMatch {
		if _, err := p.Embeddings.IncrementMatch(ctx, userID); err != nil {
			p.log.WithError(err).WithField("user_id", userID).Warn("failed to record match")
		}
	}
	return result, nil
}

/*
EnrollFace runs the full liveness gate and stores the face embedding for
userID on success. The returned verdict explains a rejection.
*/
func (p *LivenessPipeline) EnrollFace(ctx context.Context, img gocv.Mat, userID, name string) (*config.LivenessVerdict, error) {
	if p.Embeddings == nil {
		return nil, errors.New("no embedding store attached")
	}

	verdict, err := p.DetectLiveness(ctx, img)
	if err != nil {
		return nil, err
	}
	if verdict.Prediction != config.PredictionLive {
		return verdict, nil
	}

	embedding, err := p.ExtractFaceEmbedding(ctx, img)
	if err != nil {
		if errors.Is(err, config.ErrNoFaceDetected) {
			verdict.Prediction = config.PredictionSpoof
			reason := config.ReasonNoFace
			verdict.FailureReason = &reason
			return verdict, nil
		}
		return nil, err
	}

	var imageBlob []byte
	if aligned := p.alignedJPEG(ctx, img); aligned != nil {
		imageBlob = aligned
	}
	if _, err := p.Embeddings.Put(ctx, userID, name, embedding, imageBlob); err != nil {
		return nil, err
	}
	return verdict, nil
}

// SamePerson compares the strongest faces of two images and reports whether
// they pass the identity gate.
func (p *LivenessPipeline) SamePerson(ctx context.Context, a, b gocv.Mat) (bool, float64, error) {
	embA, err := p.ExtractFaceEmbedding(ctx, a)
	if err != nil {
		return false, 0, err
	}
	embB, err := p.ExtractFaceEmbedding(ctx, b)
	if err != nil {
		return false, 0, err
	}
	return p.FaceID.Verify(embA, embB)
}

// alignedJPEG best-effort encodes the aligned face for storage alongside the
// embedding. Failures only cost the stored thumbnail.
func (p *LivenessPipeline) alignedJPEG(ctx context.Context, img gocv.Mat) []byte {
	faces, err := p.FaceDet.DetectFaces(ctx, img)
	if err != nil {
		return nil
	}
	best, err := modules.BestFace(faces)
	if err != nil {
		return nil
	}
	aligned, _, err := p.FaceHelper.AlignWarpFace(img, best.Landmark, nil)
	if err != nil {
		return nil
	}
	defer aligned.Close()

	blob, err := utils.MatToJPEG(aligned, 90)
	if err != nil {
		p.log.WithError(err).Debug("failed to encode aligned face")
		return nil
	}
	return blob
}

func spoofVerdict(reason string, confidence float64) *config.LivenessVerdict {
	return &config.LivenessVerdict{
		Prediction:    config.PredictionSpoof,
		Confidence:    confidence,
		FailureReason: &reason,
	}
}
