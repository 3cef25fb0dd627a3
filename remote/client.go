// Package remote talks to the optional server-side registration and
// verification endpoints.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Outcome is the mapped verification result.
type Outcome int

const (
	OutcomeMatch Outcome = iota
	OutcomeMismatch
	OutcomeNotEnrolled
	OutcomeSpoof
)

func (o Outcome) String() string {
	switch o {
	case OutcomeMatch:
		return "match"
	case OutcomeMismatch:
		return "mismatch"
	case OutcomeNotEnrolled:
		return "not_enrolled"
	case OutcomeSpoof:
		return "spoof"
	default:
		return "unknown"
	}
}

// Result is the mapped server response.
type Result struct {
	Outcome        Outcome `json:"outcome"`
	Similarity     float64 `json:"similarity"`
	Message        string  `json:"message"`
	SpoofLabel     string  `json:"spoof_label"`
	OcclusionLabel string  `json:"occlusion_label"`
}

type apiResponse struct {
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details struct {
		Similarity     float64 `json:"similarity"`
		SpoofLabel     string  `json:"spoof_label"`
		OcclusionLabel string  `json:"occlusion_label"`
	} `json:"details"`
}

// Client posts aligned-face JPEGs to the registration and verification
// endpoints.
type Client struct {
	verifyURL   string
	registerURL string
	httpClient  *http.Client
	log         *logrus.Entry
}

func NewClient(verifyURL, registerURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		verifyURL:   verifyURL,
		registerURL: registerURL,
		httpClient:  httpClient,
		log:         logrus.WithField("component", "remote_verify"),
	}
}

// postFace uploads faceJPEG plus the given form fields and decodes the JSON
// payload regardless of the HTTP status.
func (c *Client) postFace(ctx context.Context, url string, fields map[string]string, faceJPEG []byte) (*apiResponse, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("face", "face.jpg")
	if err != nil {
		return nil, errors.Wrap(err, "failed to build multipart body")
	}
	if _, err := part.Write(faceJPEG); err != nil {
		return nil, errors.Wrap(err, "failed to write face payload")
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, errors.Wrapf(err, "failed to write field %s", key)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, errors.Wrap(err, "failed to finalize multipart body")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "request failed")
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response body")
	}

	var parsed apiResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, errors.Wrapf(err, "unparseable response (http %d)", resp.StatusCode)
	}
	return &parsed, nil
}

/*
Verify uploads the aligned-face JPEG for userID and maps the response payload
onto an Outcome:

  - code 400 with spoof_label "spoof" is a Spoof.
  - code 404 means the user is not enrolled.
  - code 407 is an identity mismatch; the similarity is preserved.
  - code 200 or status "success" is a match.
*/
func (c *Client) Verify(ctx context.Context, userID string, faceJPEG []byte) (*Result, error) {
	parsed, err := c.postFace(ctx, c.verifyURL, map[string]string{"user_id": userID}, faceJPEG)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Similarity:     parsed.Details.Similarity,
		Message:        parsed.Message,
		SpoofLabel:     parsed.Details.SpoofLabel,
		OcclusionLabel: parsed.Details.OcclusionLabel,
	}

	switch {
	case parsed.Code == 400 && parsed.Details.SpoofLabel == "spoof":
		result.Outcome = OutcomeSpoof
	case parsed.Code == 404:
		result.Outcome = OutcomeNotEnrolled
	case parsed.Code == 407:
		result.Outcome = OutcomeMismatch
	case parsed.Code == 200 || parsed.Status == "success":
		result.Outcome = OutcomeMatch
	default:
		c.log.WithField("code", parsed.Code).Warn("unexpected verification response")
		return nil, errors.Errorf("unexpected verification response code %d: %s", parsed.Code, parsed.Message)
	}
	return result, nil
}

// Register enrolls the aligned-face JPEG under userID on the server. Any
// response other than success is an error carrying the server's message.
func (c *Client) Register(ctx context.Context, userID, name string, faceJPEG []byte) error {
	if c.registerURL == "" {
		return errors.New("no registration endpoint configured")
	}

	parsed, err := c.postFace(ctx, c.registerURL, map[string]string{
		"user_id": userID,
		"name":    name,
	}, faceJPEG)
	if err != nil {
		return err
	}

	if parsed.Code == 200 || parsed.Status == "success" {
		return nil
	}
	return errors.Errorf("registration rejected with code %d: %s", parsed.Code, parsed.Message)
}
