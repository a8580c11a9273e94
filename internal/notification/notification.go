package notification

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

const (
	KindGeneral  = "general"
	KindWallet   = "wallet"
	KindSecurity = "security"
)

// ErrNotFound is returned when a notification does not exist for the user.
var ErrNotFound = errors.New("notification not found")

// Notification is an advisory record shown in the user's inbox.
type Notification struct {
	ID            string
	UserID        string
	TransactionID string
	Kind          string
	Content       string
	Read          bool
	CreatedAt     time.Time
}

// Message describes a notification payload.
type Message struct {
	UserID        string
	TransactionID string
	Kind          string
	Content       string
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes notifications to the logger only.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification",
		slog.String("kind", message.Kind),
		slog.String("user_id", message.UserID),
		slog.String("transaction_id", message.TransactionID),
	)
	return nil
}
