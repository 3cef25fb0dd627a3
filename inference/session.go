package inference

import (
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/KongNoraksovann/go-liveness-pipeline/config"
)

// Runner is the inference surface the pipeline modules consume.
type Runner interface {
	Run(shape []int64, data []float32) ([][]float32, error)
}

// Session wraps one ONNX inference session. The session is shared by
// immutable handle; Run serializes access so a call owns the input and output
// buffers from preprocess through postprocess.
type Session struct {
	name        string
	inputNames  []string
	outputNames []string
	session     *ort.DynamicAdvancedSession
	mu          sync.Mutex
}

func (s *Session) Name() string {
	return s.name
}

// InputNames returns the ordered input tensor names.
func (s *Session) InputNames() []string {
	out := make([]string, len(s.inputNames))
	copy(out, s.inputNames)
	return out
}

// OutputNames returns the ordered output tensor names.
func (s *Session) OutputNames() []string {
	out := make([]string, len(s.outputNames))
	copy(out, s.outputNames)
	return out
}

// Run feeds one float32 tensor of the given shape through the model and
// returns every output flattened, in declared output order.
func (s *Session) Run(shape []int64, data []float32) ([][]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	input, err := ort.NewTensor(ort.NewShape(shape...), data)
	if err != nil {
		return nil, errors.Wrapf(config.ErrInferenceFailed, "model %s: %v", s.name, err)
	}
	defer input.Destroy()

	outputs := make([]ort.Value, len(s.outputNames))
	if err := s.session.Run([]ort.Value{input}, outputs); err != nil {
		return nil, errors.Wrapf(config.ErrInferenceFailed, "model %s: %v", s.name, err)
	}

	results := make([][]float32, len(outputs))
	for i, out := range outputs {
		t, ok := out.(*ort.Tensor[float32])
		if !ok {
			for _, o := range outputs {
				if o != nil {
					o.Destroy()
				}
			}
			return nil, errors.Wrapf(config.ErrInferenceFailed, "model %s: output %s is not float32", s.name, s.outputNames[i])
		}
		results[i] = append([]float32(nil), t.GetData()...)
		out.Destroy()
	}
	return results, nil
}

// Close releases the underlying session.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return nil
	}
	err := s.session.Destroy()
	s.session = nil
	return err
}
