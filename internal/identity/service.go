package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrWeakPIN            = errors.New("PIN must be at least 4 digits")
	ErrInvalidCredentials = errors.New("invalid phone number or PIN")
)

// FaceEncoder turns a face image into an embedding vector.
type FaceEncoder interface {
	Encode(ctx context.Context, image []byte) ([]float32, error)
}

// Service manages identity lifecycle.
type Service struct {
	repo    Repository
	encoder FaceEncoder
	now     func() time.Time
}

// NewService creates a new identity service. encoder may be nil, in which case
// face images supplied at registration are ignored.
func NewService(repo Repository, encoder FaceEncoder) *Service {
	return &Service{repo: repo, encoder: encoder, now: func() time.Time { return time.Now().UTC() }}
}

// Register creates a user with a hashed PIN and, when an image is supplied, an
// enrolled face embedding. Payment settings start at the permissive-but-confirming
// defaults: face payments on, confirmation always required.
func (s *Service) Register(ctx context.Context, reg Registration) (User, error) {
	if len(reg.PIN) < 4 || strings.Trim(reg.PIN, "0123456789") != "" {
		return User{}, ErrWeakPIN
	}
	phone := strings.TrimSpace(reg.Phone)
	if phone == "" {
		return User{}, fmt.Errorf("phone number is required")
	}
	if _, err := s.repo.FindByPhone(ctx, phone); err == nil {
		return User{}, ErrUserExists
	} else if !errors.Is(err, ErrUserNotFound) {
		return User{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(reg.PIN), bcrypt.DefaultCost)
	if err != nil {
		return User{}, err
	}

	role := reg.Role
	if role != RoleMerchant {
		role = RoleUser
	}

	user := User{
		ID:                   uuid.New().String(),
		FirstName:            strings.TrimSpace(reg.FirstName),
		LastName:             strings.TrimSpace(reg.LastName),
		Email:                strings.ToLower(strings.TrimSpace(reg.Email)),
		Phone:                phone,
		Role:                 role,
		PINHash:              hash,
		Latitude:             reg.Latitude,
		Longitude:            reg.Longitude,
		AllowFacePayments:    true,
		AlwaysConfirmPayment: true,
		CreatedAt:            s.now(),
	}

	// A failed encoding leaves the user without an embedding; they can still
	// use every non-biometric feature.
	if len(reg.FaceImage) > 0 && s.encoder != nil {
		if embedding, err := s.encoder.Encode(ctx, reg.FaceImage); err == nil {
			user.FaceEmbedding = embedding
		}
	}

	if err := s.repo.Create(ctx, user); err != nil {
		return User{}, err
	}

	return user, nil
}

// Authenticate verifies a phone number and PIN.
func (s *Service) Authenticate(ctx context.Context, phone, pin string) (User, error) {
	user, err := s.repo.FindByPhone(ctx, strings.TrimSpace(phone))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return User{}, ErrInvalidCredentials
		}
		return User{}, err
	}

	if err := bcrypt.CompareHashAndPassword(user.PINHash, []byte(pin)); err != nil {
		return User{}, ErrInvalidCredentials
	}

	return user, nil
}

// Get returns a user by id.
func (s *Service) Get(ctx context.Context, id string) (User, error) {
	return s.repo.FindByID(ctx, id)
}

// UpdatePolicy applies a settings change and returns the updated user.
func (s *Service) UpdatePolicy(ctx context.Context, userID string, update PolicyUpdate) (User, error) {
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return User{}, err
	}
	if update.AllowFacePayments != nil {
		user.AllowFacePayments = *update.AllowFacePayments
	}
	if update.AlwaysConfirmPayment != nil {
		user.AlwaysConfirmPayment = *update.AlwaysConfirmPayment
	}
	if err := s.repo.UpdatePolicy(ctx, user.ID, user.AllowFacePayments, user.AlwaysConfirmPayment); err != nil {
		return User{}, err
	}
	return user, nil
}
