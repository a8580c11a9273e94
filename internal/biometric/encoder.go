package biometric

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
)

type encodeResponse struct {
	Embedding []float32 `json:"embedding"`
}

// HTTPEncoder calls an external embedding model over HTTP. The model receives
// the raw image bytes and answers with {"embedding": [...]}.
type HTTPEncoder struct {
	url     string
	timeout time.Duration
}

// NewHTTPEncoder builds an encoder for the model served at url.
func NewHTTPEncoder(url string, timeout time.Duration) *HTTPEncoder {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPEncoder{url: url, timeout: timeout}
}

// Encode posts the image and returns its embedding. A 4xx answer means the
// model rejected the image; transport errors and 5xx answers are model failures.
func (e *HTTPEncoder) Encode(ctx context.Context, image []byte) ([]float32, error) {
	if len(image) == 0 {
		return nil, ErrBadInput
	}

	timeout := e.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("encode face: %w: %v", ErrModelFailure, context.DeadlineExceeded)
	}

	agent := fiber.Post(e.url)
	agent.Timeout(timeout)
	agent.ContentType("application/octet-stream")
	agent.Body(image)

	var resp encodeResponse
	code, _, errs := agent.Struct(&resp)
	switch {
	case code >= 400 && code < 500:
		return nil, fmt.Errorf("encode face: status %d: %w", code, ErrBadInput)
	case code >= 500:
		return nil, fmt.Errorf("encode face: status %d: %w", code, ErrModelFailure)
	case len(errs) > 0:
		return nil, fmt.Errorf("encode face: %w: %v", ErrModelFailure, errs[0])
	case len(resp.Embedding) == 0:
		return nil, fmt.Errorf("encode face: empty embedding: %w", ErrBadInput)
	}
	return resp.Embedding, nil
}
