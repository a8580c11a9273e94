package identity

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes the authenticated user's profile and payment settings.
type Handler struct {
	service *Service
}

// NewHandler constructs an identity HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type settingsRequest struct {
	AllowFacePayments    *bool `json:"allow_face_payments"`
	AlwaysConfirmPayment *bool `json:"always_confirm_payment"`
}

// ProfileResponse is the public view of a user.
type ProfileResponse struct {
	UserID               string  `json:"user_id"`
	FirstName            string  `json:"first_name"`
	LastName             string  `json:"last_name"`
	Email                string  `json:"email"`
	Phone                string  `json:"phone"`
	Role                 string  `json:"role"`
	FaceEnrolled         bool    `json:"face_enrolled"`
	Latitude             float64 `json:"latitude"`
	Longitude            float64 `json:"longitude"`
	AllowFacePayments    bool    `json:"allow_face_payments"`
	AlwaysConfirmPayment bool    `json:"always_confirm_payment"`
}

// Profile builds the public view of a user.
func Profile(user User) ProfileResponse {
	return ProfileResponse{
		UserID:               user.ID,
		FirstName:            user.FirstName,
		LastName:             user.LastName,
		Email:                user.Email,
		Phone:                user.Phone,
		Role:                 user.Role,
		FaceEnrolled:         user.Enrolled(),
		Latitude:             user.Latitude,
		Longitude:            user.Longitude,
		AllowFacePayments:    user.AllowFacePayments,
		AlwaysConfirmPayment: user.AlwaysConfirmPayment,
	}
}

// Me returns the authenticated user's profile.
func (h *Handler) Me(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	user, err := h.service.Get(c.UserContext(), uid)
	if err != nil {
		return fiber.NewError(http.StatusNotFound, err.Error())
	}
	return c.Status(http.StatusOK).JSON(Profile(user))
}

// UpdateSettings toggles face payments and the always-confirm flag.
func (h *Handler) UpdateSettings(c *fiber.Ctx) error {
	var req settingsRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	uid, _ := c.Locals("user_id").(string)
	user, err := h.service.UpdatePolicy(c.UserContext(), uid, PolicyUpdate{
		AllowFacePayments:    req.AllowFacePayments,
		AlwaysConfirmPayment: req.AlwaysConfirmPayment,
	})
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return fiber.NewError(http.StatusNotFound, err.Error())
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusOK).JSON(Profile(user))
}
