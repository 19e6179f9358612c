package hardware

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// StaticRecognizer always answers Plate.
type StaticRecognizer struct {
	Plate string
}

func (r StaticRecognizer) Recognize(context.Context, []byte) (string, error) {
	if r.Plate == "" {
		return PlateUnknown, nil
	}
	return r.Plate, nil
}

// HTTPRecognizer posts the frame to an OCR service that answers
// {"plate": "..."}.
type HTTPRecognizer struct {
	url    string
	client *http.Client
}

func NewHTTPRecognizer(url string, timeout time.Duration) *HTTPRecognizer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPRecognizer{url: url, client: &http.Client{Timeout: timeout}}
}

type recognizeResponse struct {
	Plate string `json:"plate"`
}

func (r *HTTPRecognizer) Recognize(ctx context.Context, jpeg []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(jpeg))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "image/jpeg")
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("recognize: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("recognize: status %d", resp.StatusCode)
	}
	var out recognizeResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&out); err != nil {
		return "", fmt.Errorf("recognize decode: %w", err)
	}
	if out.Plate == "" {
		return PlateUnknown, nil
	}
	return out.Plate, nil
}
