package inference

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/KongNoraksovann/go-liveness-pipeline/config"
)

// ByteSource yields encrypted model bytes by model name. The first 16 bytes
// of the returned blob must be the IV.
type ByteSource interface {
	Get(name string) ([]byte, error)
}

// KeySource yields the 32-byte model decryption key.
type KeySource interface {
	Get() ([KeySize]byte, error)
}

// FileByteSource reads encrypted models from "<dir>/<name>.onnx.enc".
type FileByteSource struct {
	Dir string
}

func NewFileByteSource(dir string) *FileByteSource {
	return &FileByteSource{Dir: dir}
}

func (s *FileByteSource) Get(name string) ([]byte, error) {
	path := filepath.Join(s.Dir, name+".onnx.enc")
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(config.ErrModelNotFound, "no model file at %s", path)
		}
		return nil, errors.Wrapf(err, "failed to read model %s", name)
	}
	return b, nil
}

// FileKeySource reads a raw 32-byte key from a side file.
type FileKeySource struct {
	Path string
}

func NewFileKeySource(path string) *FileKeySource {
	return &FileKeySource{Path: path}
}

func (s *FileKeySource) Get() ([KeySize]byte, error) {
	var key [KeySize]byte

	b, err := os.ReadFile(s.Path)
	if err != nil {
		return key, errors.Wrap(err, "failed to read key file")
	}
	if len(b) != KeySize {
		return key, errors.Errorf("key file holds %d bytes, want %d", len(b), KeySize)
	}

	copy(key[:], b)
	return key, nil
}

// StaticKeySource serves a fixed in-memory key, for callers that fetch the
// key from platform secret storage themselves.
type StaticKeySource struct {
	Key [KeySize]byte
}

func (s *StaticKeySource) Get() ([KeySize]byte, error) {
	return s.Key, nil
}
