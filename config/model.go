package config

// Per-channel statistics shared by the 224x224 classifier heads. Means are in
// pixel scale; scales fold the 1/255 into the per-channel divisor.
var (
	ImageNetMean  = [3]float64{0.485 * 255.0, 0.456 * 255.0, 0.406 * 255.0}
	ImageNetScale = [3]float64{1 / (0.229 * 255.0), 1 / (0.224 * 255.0), 1 / (0.225 * 255.0)}
)

type FaceDetectionParams struct {
	MinFaceSize     int        `json:"min_face_size"`
	ScaleFactor     float64    `json:"scale_factor"`
	StageThresholds [3]float32 `json:"stage_thresholds"`
	NMSThresholds   [3]float64 `json:"nms_thresholds"`
	Mean            float64    `json:"mean"`
	Scale           float64    `json:"scale"`
}

func NewFaceDetectionParams(minFaceSize int, scaleFactor float64, stageThresholds [3]float32, nmsThresholds [3]float64, mean, scale float64) *FaceDetectionParams {
	return &FaceDetectionParams{
		MinFaceSize:     minFaceSize,
		ScaleFactor:     scaleFactor,
		StageThresholds: stageThresholds,
		NMSThresholds:   nmsThresholds,
		Mean:            mean,
		Scale:           scale,
	}
}

var DefaultFaceDetectionParams = &FaceDetectionParams{
	MinFaceSize:     12,
	ScaleFactor:     0.709,
	StageThresholds: [3]float32{0.1, 0.7, 0.9},
	NMSThresholds:   [3]float64{0.7, 0.7, 0.7},
	Mean:            127.5,
	Scale:           0.0078125,
}

type FaceQualityParams struct {
	SharpnessThreshold float64 `json:"sharpness_threshold"`
	FailureReason      string  `json:"failure_reason"`
}

func NewFaceQualityParams(sharpnessThreshold float64, failureReason string) *FaceQualityParams {
	return &FaceQualityParams{
		SharpnessThreshold: sharpnessThreshold,
		FailureReason:      failureReason,
	}
}

// DefaultFaceQualityParams is the batch-capture gate. RealTimeFaceQualityParams
// is the stricter gate used against live camera frames.
var DefaultFaceQualityParams = &FaceQualityParams{
	SharpnessThreshold: 45.0,
	FailureReason:      ReasonBlurry,
}

var RealTimeFaceQualityParams = &FaceQualityParams{
	SharpnessThreshold: 100.0,
	FailureReason:      ReasonTooBlurry,
}

type AlbedoParams struct {
	ImgSize          int     `json:"img_size"`
	BrightnessLimit  float64 `json:"brightness_limit"`
	OutlierIQRFactor float64 `json:"outlier_iqr_factor"`
}

func NewAlbedoParams(imgSize int, brightnessLimit, outlierIQRFactor float64) *AlbedoParams {
	return &AlbedoParams{
		ImgSize:          imgSize,
		BrightnessLimit:  brightnessLimit,
		OutlierIQRFactor: outlierIQRFactor,
	}
}

var DefaultAlbedoParams = &AlbedoParams{
	ImgSize:          224,
	BrightnessLimit:  200.0,
	OutlierIQRFactor: 1.5,
}

type OcclusionParams struct {
	ModelName  string     `json:"model_name"`
	Mean       [3]float64 `json:"mean"`
	Scale      [3]float64 `json:"scale"`
	Threshold  float64    `json:"threshold"`
	Iterations int        `json:"iterations"`
	ImgSize    int        `json:"img_size"`
}

func NewOcclusionParams(modelName string, mean, scale [3]float64, threshold float64, iterations, imgSize int) *OcclusionParams {
	return &OcclusionParams{
		ModelName:  modelName,
		Mean:       mean,
		Scale:      scale,
		Threshold:  threshold,
		Iterations: iterations,
		ImgSize:    imgSize,
	}
}

var DefaultOcclusionParams = &OcclusionParams{
	ModelName:  "occlusion",
	Mean:       ImageNetMean,
	Scale:      ImageNetScale,
	Threshold:  0.7,
	Iterations: 3,
	ImgSize:    224,
}

type LivenessParams struct {
	ModelNames [2]string  `json:"model_names"`
	Weights    [2]float64 `json:"weights"`
	Threshold  float64    `json:"threshold"`
	Iterations int        `json:"iterations"`
	Mean       [3]float64 `json:"mean"`
	Scale      [3]float64 `json:"scale"`
	ImgSize    int        `json:"img_size"`
}

func NewLivenessParams(modelNames [2]string, weights [2]float64, threshold float64, iterations int, mean, scale [3]float64, imgSize int) *LivenessParams {
	return &LivenessParams{
		ModelNames: modelNames,
		Weights:    weights,
		Threshold:  threshold,
		Iterations: iterations,
		Mean:       mean,
		Scale:      scale,
		ImgSize:    imgSize,
	}
}

var DefaultLivenessParams = &LivenessParams{
	ModelNames: [2]string{"liveness_1_0x", "liveness_0_5x"},
	Weights:    [2]float64{0.5, 0.5},
	Threshold:  0.75,
	Iterations: 3,
	Mean:       ImageNetMean,
	Scale:      ImageNetScale,
	ImgSize:    224,
}

type FaceIDParams struct {
	ModelName       string  `json:"model_name"`
	Mean            float64 `json:"mean"`
	Scale           float64 `json:"scale"`
	CosineThreshold float64 `json:"cosine_threshold"`
	EmbeddingSize   int     `json:"embedding_size"`
	ImgSize         int     `json:"img_size"`
}

func NewFaceIDParams(modelName string, mean, scale, cosineThreshold float64, embeddingSize, imgSize int) *FaceIDParams {
	return &FaceIDParams{
		ModelName:       modelName,
		Mean:            mean,
		Scale:           scale,
		CosineThreshold: cosineThreshold,
		EmbeddingSize:   embeddingSize,
		ImgSize:         imgSize,
	}
}

var DefaultFaceIDParams = &FaceIDParams{
	ModelName:       "embedding",
	Mean:            127.5,
	Scale:           0.0078125,
	CosineThreshold: 0.7,
	EmbeddingSize:   512,
	ImgSize:         112,
}

// PipelineConfig is the immutable per-run configuration of the whole
// verification flow.
type PipelineConfig struct {
	SkipOcclusionCheck bool `json:"skip_occlusion_check"`
	SkipAlbedoCheck    bool `json:"skip_albedo_check"`
	SkipFaceCropping   bool `json:"skip_face_cropping"`

	Detection *FaceDetectionParams `json:"detection"`
	Quality   *FaceQualityParams   `json:"quality"`
	Albedo    *AlbedoParams        `json:"albedo"`
	Occlusion *OcclusionParams     `json:"occlusion"`
	Liveness  *LivenessParams      `json:"liveness"`
	FaceID    *FaceIDParams        `json:"face_id"`
}

func DefaultPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		Detection: DefaultFaceDetectionParams,
		Quality:   DefaultFaceQualityParams,
		Albedo:    DefaultAlbedoParams,
		Occlusion: DefaultOcclusionParams,
		Liveness:  DefaultLivenessParams,
		FaceID:    DefaultFaceIDParams,
	}
}
