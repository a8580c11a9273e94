package payments

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/gestpay/gestpay/internal/ledger"
)

// maxFaceImageBytes bounds the uploaded probe image.
const maxFaceImageBytes = 5 << 20

// Handler exposes payment endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a payment handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type transactionData struct {
	Amount        string `json:"amount"`
	Description   string `json:"description"`
	TransactionID string `json:"transaction_id"`
	Timestamp     string `json:"timestamp"`
	Status        string `json:"status"`
}

type paymentResponse struct {
	Success              bool             `json:"success"`
	Message              string           `json:"message"`
	Reference            string           `json:"reference,omitempty"`
	VerificationRequired bool             `json:"verification_required"`
	Data                 *transactionData `json:"data,omitempty"`
}

type referenceRequest struct {
	Reference string `json:"reference"`
	Method    string `json:"method"`
}

type transferRequest struct {
	PhoneNumber string          `json:"phone_number"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

// FacePay handles the multipart face-pay request from a merchant device.
func (h *Handler) FacePay(c *fiber.Ctx) error {
	amount, err := decimal.NewFromString(strings.TrimSpace(c.FormValue("amount")))
	if err != nil {
		return badRequest(c, "amount must be a decimal number")
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(c.FormValue("latitude")), 64)
	if err != nil {
		return badRequest(c, "latitude must be a number")
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(c.FormValue("longitude")), 64)
	if err != nil {
		return badRequest(c, "longitude must be a number")
	}
	image, err := readFaceImage(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	outcome, err := h.service.Initiate(c.UserContext(), InitiateInput{
		RecipientPhone: strings.TrimSpace(c.FormValue("phone_number")),
		Amount:         amount,
		Description:    c.FormValue("description"),
		FaceImage:      image,
		Latitude:       lat,
		Longitude:      lon,
	})
	if err != nil {
		return failure(c, err)
	}
	return respond(c, outcome)
}

// VerifyPayment returns the current state of a transaction.
func (h *Handler) VerifyPayment(c *fiber.Ctx) error {
	var req referenceRequest
	if err := c.BodyParser(&req); err != nil || req.Reference == "" {
		return badRequest(c, "reference is required")
	}
	outcome, err := h.service.Status(c.UserContext(), req.Reference)
	if err != nil {
		return failure(c, err)
	}
	return respond(c, outcome)
}

// ApprovePayment settles a pending or flagged transaction on behalf of the caller.
func (h *Handler) ApprovePayment(c *fiber.Ctx) error {
	var req referenceRequest
	if err := c.BodyParser(&req); err != nil || req.Reference == "" {
		return badRequest(c, "reference is required")
	}
	uid, _ := c.Locals("user_id").(string)
	if uid == "" {
		return fiber.NewError(http.StatusUnauthorized, "missing user context")
	}

	outcome, err := h.service.Approve(c.UserContext(), ApproveInput{
		Reference:  req.Reference,
		Method:     req.Method,
		ApproverID: uid,
	})
	if err != nil {
		return failure(c, err)
	}
	return respond(c, outcome)
}

// Transfer moves funds from the caller to a phone number.
func (h *Handler) Transfer(c *fiber.Ctx) error {
	var req transferRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	uid, _ := c.Locals("user_id").(string)
	if uid == "" {
		return fiber.NewError(http.StatusUnauthorized, "missing user context")
	}

	outcome, err := h.service.Transfer(c.UserContext(), TransferInput{
		SenderID:       uid,
		RecipientPhone: strings.TrimSpace(req.PhoneNumber),
		Amount:         req.Amount,
		Description:    req.Description,
	})
	if err != nil {
		return failure(c, err)
	}
	return respond(c, outcome)
}

type historyItem struct {
	Description string `json:"description"`
	Amount      string `json:"amount"`
	Type        string `json:"type"`
	Date        string `json:"date"`
	Reference   string `json:"reference"`
	Status      string `json:"status"`
	Feature     string `json:"feature"`
}

// Transactions lists the caller's transaction history.
func (h *Handler) Transactions(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	if uid == "" {
		return fiber.NewError(http.StatusUnauthorized, "missing user context")
	}
	q := ledger.Query{
		SentOnly: c.QueryBool("sent", false),
		Limit:    c.QueryInt("limit", 50),
	}

	entries, err := h.service.History(c.UserContext(), uid, q)
	if err != nil {
		return err
	}
	items := make([]historyItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, historyItem{
			Description: e.Description,
			Amount:      e.Amount.StringFixed(2),
			Type:        string(e.Direction),
			Date:        e.UpdatedAt.Format(time.RFC3339),
			Reference:   e.Reference,
			Status:      string(e.Status),
			Feature:     string(e.Feature),
		})
	}
	message := "Successful"
	if len(items) == 0 {
		message = "No transactions found"
	}
	return c.JSON(fiber.Map{"success": true, "message": message, "data": items})
}

func respond(c *fiber.Ctx, outcome Outcome) error {
	status := http.StatusOK
	if outcome.VerificationRequired {
		status = http.StatusAccepted
	}
	return c.Status(status).JSON(paymentResponse{
		Success:              outcome.Kind == OutcomeSettled || outcome.Kind == OutcomeRetrieved,
		Message:              outcome.Message,
		Reference:            outcome.Transaction.Reference,
		VerificationRequired: outcome.VerificationRequired,
		Data:                 dataFor(outcome.Transaction),
	})
}

func failure(c *fiber.Ctx, err error) error {
	var rejection *RejectionError
	if !errors.As(err, &rejection) {
		return err
	}
	return c.Status(statusFor(err)).JSON(paymentResponse{
		Success:   false,
		Message:   rejection.Message,
		Reference: rejection.Reference,
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrAlreadySettled), errors.Is(err, ErrAlreadyHandled):
		return http.StatusOK
	case errors.Is(err, ErrInsufficientFunds), errors.Is(err, ErrBadInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrFeatureDisabled), errors.Is(err, ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, ErrIdentityNotRecognized), errors.Is(err, ErrRecipientNotFound), errors.Is(err, ErrTransactionNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(http.StatusBadRequest).JSON(paymentResponse{Success: false, Message: message})
}

func dataFor(tx ledger.Transaction) *transactionData {
	if tx.Reference == "" {
		return nil
	}
	return &transactionData{
		Amount:        tx.Amount.StringFixed(2),
		Description:   tx.Description,
		TransactionID: tx.ID,
		Timestamp:     tx.UpdatedAt.Format(time.RFC3339),
		Status:        string(tx.Status),
	}
}

func readFaceImage(c *fiber.Ctx) ([]byte, error) {
	header, err := c.FormFile("face_image")
	if err != nil {
		return nil, errors.New("face_image is required")
	}
	if header.Size > maxFaceImageBytes {
		return nil, errors.New("face_image is too large")
	}
	f, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, maxFaceImageBytes))
}
