package notification

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes the authenticated user's inbox.
type Handler struct {
	repo Repository
}

// NewHandler constructs a notification handler.
func NewHandler(repo Repository) *Handler {
	return &Handler{repo: repo}
}

type notificationResponse struct {
	ID            string    `json:"id"`
	TransactionID string    `json:"transaction_id,omitempty"`
	Type          string    `json:"type"`
	Content       string    `json:"content"`
	IsRead        bool      `json:"is_read"`
	CreatedAt     time.Time `json:"created_at"`
}

// List returns the user's notifications. Query: unread=true, limit=N (max 100).
func (h *Handler) List(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	limit := c.QueryInt("limit", 20)
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	items, err := h.repo.ListByUser(c.UserContext(), uid, ListOptions{Limit: limit, UnreadOnly: c.QueryBool("unread", false)})
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}

	data := make([]notificationResponse, 0, len(items))
	for _, n := range items {
		data = append(data, notificationResponse{
			ID:            n.ID,
			TransactionID: n.TransactionID,
			Type:          n.Kind,
			Content:       n.Content,
			IsRead:        n.Read,
			CreatedAt:     n.CreatedAt,
		})
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"success": true, "data": data})
}

// MarkRead flags a single notification as read.
func (h *Handler) MarkRead(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	if err := h.repo.MarkRead(c.UserContext(), uid, c.Params("id")); err != nil {
		if errors.Is(err, ErrNotFound) {
			return fiber.NewError(http.StatusNotFound, err.Error())
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"success": true})
}

// MarkAllRead flags every unread notification as read.
func (h *Handler) MarkAllRead(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	changed, err := h.repo.MarkAllRead(c.UserContext(), uid)
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"success": true, "updated": changed})
}
