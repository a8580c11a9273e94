// Package biometric matches a probe face image against enrolled users.
package biometric

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/gestpay/gestpay/internal/identity"
)

var (
	// ErrNotFound means no enrolled face scored above the match threshold.
	ErrNotFound = errors.New("no matching face found")
	// ErrModelFailure means the embedding model could not be reached or failed.
	ErrModelFailure = errors.New("face model failure")
	// ErrBadInput means the image was rejected, e.g. no face was detected.
	ErrBadInput = errors.New("invalid face image")
)

// Match is the best enrolled identity for a probe image.
type Match struct {
	UserID string
	Score  float64
}

// Matcher finds the enrolled user for a face image.
type Matcher interface {
	Match(ctx context.Context, image []byte) (Match, error)
}

// Enrollments lists users with a face embedding on file.
type Enrollments interface {
	Enrollments(ctx context.Context) ([]identity.User, error)
}

// IndexMatcher encodes the probe and scans the enrolled embeddings for the
// closest one by cosine similarity.
type IndexMatcher struct {
	encoder   identity.FaceEncoder
	enrolled  Enrollments
	threshold float64
}

// NewIndexMatcher builds a matcher accepting scores at or above threshold.
func NewIndexMatcher(encoder identity.FaceEncoder, enrolled Enrollments, threshold float64) *IndexMatcher {
	return &IndexMatcher{encoder: encoder, enrolled: enrolled, threshold: threshold}
}

// Match returns the best-scoring enrolled user.
func (m *IndexMatcher) Match(ctx context.Context, image []byte) (Match, error) {
	if len(image) == 0 {
		return Match{}, ErrBadInput
	}
	probe, err := m.encoder.Encode(ctx, image)
	if err != nil {
		return Match{}, err
	}

	users, err := m.enrolled.Enrollments(ctx)
	if err != nil {
		return Match{}, fmt.Errorf("load enrollments: %w: %v", ErrModelFailure, err)
	}

	best := Match{Score: math.Inf(-1)}
	for _, user := range users {
		if len(user.FaceEmbedding) != len(probe) {
			continue
		}
		if score := Cosine(probe, user.FaceEmbedding); score > best.Score {
			best = Match{UserID: user.ID, Score: score}
		}
	}
	if best.UserID == "" || best.Score < m.threshold {
		return Match{}, ErrNotFound
	}
	return best, nil
}

// Cosine returns the cosine similarity of two equal-length vectors, or 0 when
// either has zero magnitude.
func Cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Unavailable is the matcher used when no embedding model is configured.
type Unavailable struct{}

// Match always fails with ErrModelFailure.
func (Unavailable) Match(context.Context, []byte) (Match, error) {
	return Match{}, fmt.Errorf("no face encoder configured: %w", ErrModelFailure)
}
