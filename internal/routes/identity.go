package routes

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/gestpay/gestpay/internal/identity"
	"github.com/gestpay/gestpay/internal/wallet"
)

const maxFaceImageBytes = 5 << 20

type registerRequest struct {
	FirstName string  `json:"first_name" form:"first_name"`
	LastName  string  `json:"last_name" form:"last_name"`
	Email     string  `json:"email" form:"email"`
	Phone     string  `json:"phone" form:"phone"`
	PIN       string  `json:"pin" form:"pin"`
	Role      string  `json:"role" form:"role"`
	Latitude  float64 `json:"latitude" form:"latitude"`
	Longitude float64 `json:"longitude" form:"longitude"`
}

// RegisterIdentityRoutes wires onboarding and auto-provisions a wallet on registration.
// The request may be JSON or multipart; a multipart face_image enrolls the user
// for face payments.
func RegisterIdentityRoutes(r fiber.Router, ids *identity.Service, wallets *wallet.Service, logger *slog.Logger) {
	r.Post("/identity/register", func(c *fiber.Ctx) error {
		var req registerRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		image, err := faceImage(c)
		if err != nil {
			return err
		}

		user, err := ids.Register(c.UserContext(), identity.Registration{
			FirstName: req.FirstName,
			LastName:  req.LastName,
			Email:     req.Email,
			Phone:     req.Phone,
			PIN:       req.PIN,
			Role:      req.Role,
			Latitude:  req.Latitude,
			Longitude: req.Longitude,
			FaceImage: image,
		})
		if err != nil {
			if errors.Is(err, identity.ErrUserExists) {
				return fiber.NewError(http.StatusConflict, err.Error())
			}
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}

		w, err := wallets.Create(c.UserContext(), wallet.CreateInput{OwnerID: user.ID})
		if err != nil {
			logger.Error("identity.register wallet provisioning failed",
				slog.String("user_id", user.ID),
				slog.String("error", err.Error()),
			)
			return fiber.NewError(http.StatusInternalServerError, "could not provision wallet")
		}
		logger.Info("identity.register completed",
			slog.String("user_id", user.ID),
			slog.String("wallet_id", w.ID),
			slog.Bool("face_enrolled", user.Enrolled()),
		)
		return c.Status(http.StatusCreated).JSON(fiber.Map{
			"success":   true,
			"message":   "Registration successful",
			"user":      identity.Profile(user),
			"wallet_id": w.ID,
		})
	})
}

// faceImage returns the optional face_image upload, or nil for JSON requests.
func faceImage(c *fiber.Ctx) ([]byte, error) {
	fh, err := c.FormFile("face_image")
	if err != nil {
		return nil, nil
	}
	if fh.Size > maxFaceImageBytes {
		return nil, fiber.NewError(http.StatusRequestEntityTooLarge, "face image exceeds 5MB")
	}
	f, err := fh.Open()
	if err != nil {
		return nil, fiber.NewError(http.StatusBadRequest, err.Error())
	}
	defer f.Close()
	image, err := io.ReadAll(f)
	if err != nil {
		return nil, fiber.NewError(http.StatusBadRequest, err.Error())
	}
	return image, nil
}

// RegisterProfileRoutes wires the caller's profile and payment settings.
func RegisterProfileRoutes(r fiber.Router, h *identity.Handler) {
	r.Get("/me", h.Me)
	r.Patch("/me/settings", h.UpdateSettings)
}
