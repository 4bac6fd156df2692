// Package vision connects camera frames to the identification service and
// turns visitor presence into session start/stop decisions. The face
// matching algorithm itself lives behind the service boundary.
package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hearthside/keepsake/internal/errors"
)

// BoundingBox is the detected face location in frame coordinates.
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Detection is one recognized (or unknown) face in a frame.
type Detection struct {
	SubjectID string      `json:"subject_id,omitempty"`
	Box       BoundingBox `json:"box"`
	Score     float64     `json:"score"`
	Known     bool        `json:"known"`
}

// Identifier supplies recognized subjects per video frame.
type Identifier interface {
	Identify(ctx context.Context, frame []byte) ([]Detection, error)
}

// HTTPIdentifier calls the identification service over HTTP with a JPEG
// frame body.
type HTTPIdentifier struct {
	url    string
	client *http.Client
}

// NewHTTPIdentifier creates an identification service client.
func NewHTTPIdentifier(url string, timeout time.Duration) *HTTPIdentifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPIdentifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

type identifyResponse struct {
	Detections []Detection `json:"detections"`
}

// Identify posts the frame and returns the service's detections.
func (h *HTTPIdentifier) Identify(ctx context.Context, frame []byte) ([]Detection, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(frame))
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "building identify request")
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeUnavailable, "identification service unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Wrap(fmt.Errorf("status %d", resp.StatusCode),
			errors.CodeUnavailable, "identification service error")
	}

	var out identifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "decoding identify response")
	}
	return out.Detections, nil
}
