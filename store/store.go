// Package store persists enrolled face embeddings behind an asynchronous
// key/value interface.
package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ErrUserNotFound is returned when the user is not enrolled.
var ErrUserNotFound = errors.New("user not found")

// Record is one enrolled identity.
type Record struct {
	UserID      string    `json:"user_id"`
	Name        string    `json:"name"`
	Embedding   []float64 `json:"embedding"` // 512 values, stored as a JSON array.
	Image       []byte    `json:"image,omitempty"`
	EnrolledAt  time.Time `json:"enrolled_at"`
	LastMatchAt time.Time `json:"last_match_at,omitempty"`
	MatchCount  int64     `json:"match_count"`
}

// EmbeddingStore is the persistence interface the pipeline consumes. Every
// call honors context cancellation.
type EmbeddingStore interface {
	Put(ctx context.Context, userID, name string, embedding []float64, image []byte) (bool, error)
	Get(ctx context.Context, userID string) (*Record, error)
	List(ctx context.Context) (map[string]*Record, error)
	Delete(ctx context.Context, userID string) (bool, error)
	IncrementMatch(ctx context.Context, userID string) (bool, error)
}

// FileStore implements EmbeddingStore with one JSON file per user.
type FileStore struct {
	dataDir string
	mu      sync.Mutex
	log     *logrus.Entry
}

// NewFileStore creates the store directory if needed.
func NewFileStore(dataDir string) (*FileStore, error) {
	usersDir := filepath.Join(dataDir, "users")
	if err := os.MkdirAll(usersDir, 0700); err != nil {
		return nil, errors.Wrap(err, "failed to create users directory")
	}

	return &FileStore{
		dataDir: dataDir,
		log:     logrus.WithField("component", "embedding_store"),
	}, nil
}

func (fs *FileStore) userPath(userID string) string {
	return filepath.Join(fs.dataDir, "users", userID+".json")
}

func (fs *FileStore) readUser(userID string) (*Record, error) {
	data, err := os.ReadFile(fs.userPath(userID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrUserNotFound
		}
		return nil, errors.Wrap(err, "failed to read user record")
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal user record")
	}
	return &rec, nil
}

func (fs *FileStore) writeUser(rec *Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal user record")
	}
	if err := os.WriteFile(fs.userPath(rec.UserID), data, 0600); err != nil {
		return errors.Wrap(err, "failed to write user record")
	}
	return nil
}

// Put stores or replaces the record for userID.
func (fs *FileStore) Put(ctx context.Context, userID, name string, embedding []float64, image []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	rec := &Record{
		UserID:     userID,
		Name:       name,
		Embedding:  append([]float64(nil), embedding...),
		Image:      image,
		EnrolledAt: time.Now().UTC(),
	}
	if prev, err := fs.readUser(userID); err == nil {
		rec.EnrolledAt = prev.EnrolledAt
		rec.LastMatchAt = prev.LastMatchAt
		rec.MatchCount = prev.MatchCount
	}

	if err := fs.writeUser(rec); err != nil {
		return false, err
	}
	fs.log.WithField("user_id", userID).Debug("stored embedding")
	return true, nil
}

// Get loads the record for userID, ErrUserNotFound if absent.
func (fs *FileStore) Get(ctx context.Context, userID string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.readUser(userID)
}

// List returns every enrolled record keyed by user id.
func (fs *FileStore) List(ctx context.Context) (map[string]*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	entries, err := os.ReadDir(filepath.Join(fs.dataDir, "users"))
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]*Record{}, nil
		}
		return nil, errors.Wrap(err, "failed to list users")
	}

	out := make(map[string]*Record, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		userID := strings.TrimSuffix(entry.Name(), ".json")
		rec, err := fs.readUser(userID)
		if err != nil {
			fs.log.WithError(err).WithField("user_id", userID).Warn("skipping unreadable record")
			continue
		}
		out[userID] = rec
	}
	return out, nil
}

// Delete removes the record for userID. Returns false when nothing was
// enrolled.
func (fs *FileStore) Delete(ctx context.Context, userID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := os.Remove(fs.userPath(userID)); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.Wrap(err, "failed to delete user record")
	}
	return true, nil
}

// IncrementMatch bumps the match counter and stamps the last-match time in
// one step under the store lock.
func (fs *FileStore) IncrementMatch(ctx context.Context, userID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	rec, err := fs.readUser(userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return false, nil
		}
		return false, err
	}

	rec.MatchCount++
	rec.LastMatchAt = time.Now().UTC()
	if err := fs.writeUser(rec); err != nil {
		return false, err
	}
	return true, nil
}
