package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func serveResponse(t *testing.T, status int, payload map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "user-1", r.FormValue("user_id"))
		_, _, err := r.FormFile("face")
		assert.NoError(t, err)

		w.WriteHeader(status)
		assert.NoError(t, json.NewEncoder(w).Encode(payload))
	}))
}

func TestVerify_Match(t *testing.T) {
	server := serveResponse(t, http.StatusOK, map[string]any{
		"status":  "success",
		"code":    200,
		"message": "verified",
		"details": map[string]any{"similarity": 0.91},
	})
	defer server.Close()

	client := NewClient(server.URL, "", server.Client())
	res, err := client.Verify(context.Background(), "user-1", []byte{0xff, 0xd8})
	assert.NoError(t, err)
	assert.Equal(t, OutcomeMatch, res.Outcome)
	assert.InDelta(t, 0.91, res.Similarity, 1e-9)
}

func TestVerify_Spoof(t *testing.T) {
	server := serveResponse(t, http.StatusBadRequest, map[string]any{
		"status":  "error",
		"code":    400,
		"message": "spoof detected",
		"details": map[string]any{"spoof_label": "spoof"},
	})
	defer server.Close()

	client := NewClient(server.URL, "", server.Client())
	res, err := client.Verify(context.Background(), "user-1", []byte{0xff, 0xd8})
	assert.NoError(t, err)
	assert.Equal(t, OutcomeSpoof, res.Outcome)
	assert.Equal(t, "spoof", res.SpoofLabel)
}

func TestVerify_NotEnrolled(t *testing.T) {
	server := serveResponse(t, http.StatusNotFound, map[string]any{
		"status": "error",
		"code":   404,
	})
	defer server.Close()

	client := NewClient(server.URL, "", server.Client())
	res, err := client.Verify(context.Background(), "user-1", []byte{0xff, 0xd8})
	assert.NoError(t, err)
	assert.Equal(t, OutcomeNotEnrolled, res.Outcome)
}

func TestVerify_Mismatch(t *testing.T) {
	server := serveResponse(t, http.StatusProxyAuthRequired, map[string]any{
		"status":  "error",
		"code":    407,
		"message": "face mismatch",
		"details": map[string]any{"similarity": 0.42},
	})
	defer server.Close()

	client := NewClient(server.URL, "", server.Client())
	res, err := client.Verify(context.Background(), "user-1", []byte{0xff, 0xd8})
	assert.NoError(t, err)
	assert.Equal(t, OutcomeMismatch, res.Outcome)
	assert.InDelta(t, 0.42, res.Similarity, 1e-9)
}

func TestVerify_UnexpectedCode(t *testing.T) {
	server := serveResponse(t, http.StatusTeapot, map[string]any{
		"status": "error",
		"code":   418,
	})
	defer server.Close()

	client := NewClient(server.URL, "", server.Client())
	_, err := client.Verify(context.Background(), "user-1", []byte{0xff, 0xd8})
	assert.Error(t, err)
}

func TestRegister_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "user-1", r.FormValue("user_id"))
		assert.Equal(t, "Alice", r.FormValue("name"))
		_, _, err := r.FormFile("face")
		assert.NoError(t, err)

		assert.NoError(t, json.NewEncoder(w).Encode(map[string]any{
			"status": "success",
			"code":   200,
		}))
	}))
	defer server.Close()

	client := NewClient("", server.URL, server.Client())
	err := client.Register(context.Background(), "user-1", "Alice", []byte{0xff, 0xd8})
	assert.NoError(t, err)
}

func TestRegister_Rejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		assert.NoError(t, json.NewEncoder(w).Encode(map[string]any{
			"status":  "error",
			"code":    409,
			"message": "already registered",
		}))
	}))
	defer server.Close()

	client := NewClient("", server.URL, server.Client())
	err := client.Register(context.Background(), "user-1", "Alice", []byte{0xff, 0xd8})
	assert.ErrorContains(t, err, "already registered")
}

func TestRegister_NoEndpoint(t *testing.T) {
	client := NewClient("", "", nil)
	err := client.Register(context.Background(), "user-1", "Alice", []byte{0xff, 0xd8})
	assert.Error(t, err)
}

func TestVerify_BadPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>gateway error</html>"))
	}))
	defer server.Close()

	client := NewClient(server.URL, "", server.Client())
	_, err := client.Verify(context.Background(), "user-1", []byte{0xff, 0xd8})
	assert.Error(t, err)
}
