package face

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"classattend/internal/metrics"
)

// ErrNoFace is returned when the extractor finds no face in the image.
var ErrNoFace = errors.New("no face detected")

// Extraction is the result of turning an image into a descriptor.
type Extraction struct {
	Descriptor []float32
	Confidence float64
}

// Extractor calls the external face-embedding service. The core never parses
// raw images itself; everything image-related happens behind this boundary.
type Extractor struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// NewExtractor creates a client with the given per-request timeout.
func NewExtractor(baseURL string, timeout time.Duration, skip bool) *Extractor {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Extractor{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// Extract requests a face descriptor for the image bytes.
// Returns ErrNoFace when the service reports no detectable face; a deadline
// error from the context or client timeout is passed through so callers can
// classify it separately.
func (e *Extractor) Extract(ctx context.Context, image []byte) (Extraction, error) {
	if e.Skip {
		return Extraction{Descriptor: []float32{0.1, 0.2, 0.3}, Confidence: 0.95}, nil
	}
	if len(image) == 0 {
		return Extraction{}, fmt.Errorf("image required")
	}

	body, _ := json.Marshal(map[string]string{
		"image": base64.StdEncoding.EncodeToString(image),
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.BaseURL+"/extract", bytes.NewReader(body))
	if err != nil {
		return Extraction{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := e.HTTP.Do(req)
	metrics.ExtractorDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return Extraction{}, fmt.Errorf("extractor request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return Extraction{}, fmt.Errorf("extractor error %s: %s", resp.Status, string(respBody))
	}

	var out struct {
		Descriptor []float32 `json:"descriptor"`
		Confidence float64   `json:"confidence"`
		Error      string    `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Extraction{}, fmt.Errorf("failed to decode extractor response: %w", err)
	}
	if out.Error != "" || len(out.Descriptor) == 0 {
		return Extraction{}, ErrNoFace
	}

	return Extraction{Descriptor: out.Descriptor, Confidence: out.Confidence}, nil
}

// Health checks if the extractor service is reachable.
func (e *Extractor) Health(ctx context.Context) error {
	if e.Skip {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.BaseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := e.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("extractor unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("extractor unhealthy: %s", resp.Status)
	}
	return nil
}
