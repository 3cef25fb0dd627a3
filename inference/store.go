package inference

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/KongNoraksovann/go-liveness-pipeline/config"
)

// Names of the models the pipeline can load.
const (
	ModelPNet        = "pnet"
	ModelRNet        = "rnet"
	ModelONet        = "onet"
	ModelEmbedding   = "embedding"
	ModelOcclusion   = "occlusion"
	ModelLiveness10x = "liveness_1_0x"
	ModelLiveness05x = "liveness_0_5x"
)

// modelIO fixes the ordered input/output tensor names for every known model.
var modelIO = map[string]struct {
	inputs  []string
	outputs []string
}{
	ModelPNet:        {inputs: []string{"input"}, outputs: []string{"offsets", "probs"}},
	ModelRNet:        {inputs: []string{"input"}, outputs: []string{"offsets", "probs"}},
	ModelONet:        {inputs: []string{"input"}, outputs: []string{"landmarks", "offsets", "probs"}},
	ModelEmbedding:   {inputs: []string{"input"}, outputs: []string{"embedding"}},
	ModelOcclusion:   {inputs: []string{"input"}, outputs: []string{"scores"}},
	ModelLiveness10x: {inputs: []string{"input"}, outputs: []string{"probs"}},
	ModelLiveness05x: {inputs: []string{"input"}, outputs: []string{"probs"}},
}

// ModelStore decrypts model binaries and hands out shared inference sessions.
// Sessions are created lazily and cached for the life of the store.
type ModelStore struct {
	bytes    ByteSource
	keys     KeySource
	mu       sync.Mutex
	sessions map[string]*Session
	log      *logrus.Entry
}

func NewModelStore(bytes ByteSource, keys KeySource) *ModelStore {
	return &ModelStore{
		bytes:    bytes,
		keys:     keys,
		sessions: make(map[string]*Session),
		log:      logrus.WithField("component", "model_store"),
	}
}

// Load returns the shared session for name, constructing it on first use.
// Missing model bytes surface as ErrModelNotFound; every other failure is
// ErrModelLoadFailed.
func (m *ModelStore) Load(name string) (*Session, error) {
	io, ok := modelIO[name]
	if !ok {
		return nil, errors.Wrapf(config.ErrModelLoadFailed, "unknown model %q", name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[name]; ok {
		return s, nil
	}

	ciphertext, err := m.bytes.Get(name)
	if err != nil {
		if errors.Is(err, config.ErrModelNotFound) {
			return nil, err
		}
		return nil, errors.Wrapf(config.ErrModelLoadFailed, "model %s: %v", name, err)
	}

	key, err := m.keys.Get()
	if err != nil {
		return nil, errors.Wrapf(config.ErrModelLoadFailed, "model %s: %v", name, err)
	}

	plaintext, err := DecryptModel(ciphertext, key)
	if err != nil {
		return nil, errors.Wrapf(config.ErrModelLoadFailed, "model %s: %v", name, err)
	}

	session, err := newSessionFromBytes(name, io.inputs, io.outputs, plaintext)
	if err != nil {
		return nil, errors.Wrapf(config.ErrModelLoadFailed, "model %s: %v", name, err)
	}

	m.log.WithField("model", name).Debug("session created")
	m.sessions[name] = session
	return session, nil
}

// Close destroys every cached session.
func (m *ModelStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for name, s := range m.sessions {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "failed to close session %s", name)
		}
		delete(m.sessions, name)
	}
	return firstErr
}

// newSessionFromBytes builds a session from decrypted model bytes. The
// runtime loader wants a file path, so the plaintext touches disk only in a
// private 0600 temp file that is removed as soon as the session exists.
func newSessionFromBytes(name string, inputs, outputs []string, model []byte) (*Session, error) {
	tmpPath := filepath.Join(os.TempDir(), "model-"+uuid.NewString())
	if err := os.WriteFile(tmpPath, model, 0600); err != nil {
		return nil, errors.Wrap(err, "failed to stage model file")
	}
	defer os.Remove(tmpPath)

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create session options")
	}
	defer options.Destroy()

	// One intra-op thread keeps per-call CPU cost predictable and bounds the
	// time the session lock is held.
	if err := options.SetIntraOpNumThreads(1); err != nil {
		return nil, errors.Wrap(err, "failed to pin intra-op threads")
	}

	session, err := ort.NewDynamicAdvancedSession(tmpPath, inputs, outputs, options)
	if err != nil {
		return nil, errors.Wrap(err, "failed to construct session")
	}

	return &Session{
		name:        name,
		inputNames:  inputs,
		outputNames: outputs,
		session:     session,
	}, nil
}
