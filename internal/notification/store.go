package notification

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ListOptions filters a user's inbox.
type ListOptions struct {
	Limit      int
	UnreadOnly bool
}

// Repository persists notifications.
type Repository interface {
	Create(ctx context.Context, n Notification) error
	ListByUser(ctx context.Context, userID string, opts ListOptions) ([]Notification, error)
	MarkRead(ctx context.Context, userID, id string) error
	MarkAllRead(ctx context.Context, userID string) (int, error)
}

// StoreNotifier persists every message to the user's inbox and logs it.
type StoreNotifier struct {
	repo   Repository
	logger *slog.Logger
	now    func() time.Time
}

// NewStoreNotifier builds a notifier writing to repo.
func NewStoreNotifier(repo Repository, logger *slog.Logger) *StoreNotifier {
	return &StoreNotifier{repo: repo, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Send stores the message as an unread notification.
func (n *StoreNotifier) Send(ctx context.Context, message Message) error {
	kind := message.Kind
	if kind == "" {
		kind = KindGeneral
	}
	record := Notification{
		ID:            uuid.NewString(),
		UserID:        message.UserID,
		TransactionID: message.TransactionID,
		Kind:          kind,
		Content:       message.Content,
		CreatedAt:     n.now(),
	}
	if err := n.repo.Create(ctx, record); err != nil {
		if n.logger != nil {
			n.logger.Warn("notification not stored", slog.String("user_id", message.UserID), slog.Any("error", err))
		}
		return err
	}
	if n.logger != nil {
		n.logger.Debug("notification stored", slog.String("id", record.ID), slog.String("kind", kind), slog.String("user_id", record.UserID))
	}
	return nil
}

// PostgresRepository stores notifications in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a notification.
func (r *PostgresRepository) Create(ctx context.Context, n Notification) error {
	userID, err := uuid.Parse(n.UserID)
	if err != nil {
		return err
	}
	var txID any
	if n.TransactionID != "" {
		if parsed, err := uuid.Parse(n.TransactionID); err == nil {
			txID = parsed
		}
	}
	_, err = r.db.Exec(ctx, `INSERT INTO notifications (id, user_id, transaction_id, type, content, is_read, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`, uuid.MustParse(n.ID), userID, txID, n.Kind, n.Content, n.Read, n.CreatedAt.UTC())
	return err
}

// ListByUser returns the user's notifications, newest first.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string, opts ListOptions) ([]Notification, error) {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return nil, err
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.Query(ctx, `SELECT id::text, user_id::text, COALESCE(transaction_id::text, ''), type, content, is_read, created_at
        FROM notifications WHERE user_id = $1 AND (NOT $2 OR is_read = false)
        ORDER BY created_at DESC LIMIT $3`, uid, opts.UnreadOnly, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Notification, 0)
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.TransactionID, &n.Kind, &n.Content, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.CreatedAt = n.CreatedAt.UTC()
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkRead flags one of the user's notifications as read.
func (r *PostgresRepository) MarkRead(ctx context.Context, userID, id string) error {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return ErrNotFound
	}
	nid, err := uuid.Parse(id)
	if err != nil {
		return ErrNotFound
	}
	cmd, err := r.db.Exec(ctx, `UPDATE notifications SET is_read = true WHERE id = $1 AND user_id = $2`, nid, uid)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkAllRead flags every unread notification of the user and returns how many changed.
func (r *PostgresRepository) MarkAllRead(ctx context.Context, userID string) (int, error) {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return 0, err
	}
	cmd, err := r.db.Exec(ctx, `UPDATE notifications SET is_read = true WHERE user_id = $1 AND is_read = false`, uid)
	if err != nil {
		return 0, err
	}
	return int(cmd.RowsAffected()), nil
}
