package identity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrUserExists   = errors.New("user already exists")
	ErrUserNotFound = errors.New("user not found")
)

// Repository persists users.
type Repository interface {
	Create(ctx context.Context, user User) error
	FindByID(ctx context.Context, id string) (User, error)
	FindByPhone(ctx context.Context, phone string) (User, error)
	// Enrollments lists every user with a face embedding on file.
	Enrollments(ctx context.Context) ([]User, error)
	UpdateTokenVersion(ctx context.Context, id string, version int) error
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
	UpdatePolicy(ctx context.Context, id string, allowFacePayments, alwaysConfirm bool) error
}

const userColumns = `id::text, first_name, last_name, email, phone, role, pin_hash, face_embedding,
        latitude, longitude, allow_face_payments, always_confirm_payment, token_version, created_at, last_login`

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed identity repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a new user.
func (r *PostgresRepository) Create(ctx context.Context, user User) error {
	userID, err := uuid.Parse(user.ID)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO users (id, first_name, last_name, email, phone, role, pin_hash, face_embedding,
            latitude, longitude, allow_face_payments, always_confirm_payment, token_version, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		userID, user.FirstName, user.LastName, user.Email, user.Phone, user.Role, user.PINHash, user.FaceEmbedding,
		user.Latitude, user.Longitude, user.AllowFacePayments, user.AlwaysConfirmPayment, user.TokenVersion, user.CreatedAt.UTC())
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrUserExists
	}
	return err
}

// FindByID fetches a user by identifier.
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (User, error) {
	userID, err := uuid.Parse(id)
	if err != nil {
		return User{}, ErrUserNotFound
	}
	return scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID))
}

// FindByPhone fetches a user by phone number.
func (r *PostgresRepository) FindByPhone(ctx context.Context, phone string) (User, error) {
	return scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE phone = $1`, phone))
}

// Enrollments returns all users with a stored face embedding.
func (r *PostgresRepository) Enrollments(ctx context.Context) ([]User, error) {
	rows, err := r.db.Query(ctx, `SELECT `+userColumns+` FROM users WHERE cardinality(face_embedding) > 0`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// UpdateTokenVersion stores a new token version, invalidating older tokens.
func (r *PostgresRepository) UpdateTokenVersion(ctx context.Context, id string, version int) error {
	return r.update(ctx, id, `UPDATE users SET token_version = $1 WHERE id = $2`, version)
}

// UpdateLastLogin records the time of the latest successful login.
func (r *PostgresRepository) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	return r.update(ctx, id, `UPDATE users SET last_login = $1 WHERE id = $2`, at.UTC())
}

// UpdatePolicy stores the user's payment settings.
func (r *PostgresRepository) UpdatePolicy(ctx context.Context, id string, allowFacePayments, alwaysConfirm bool) error {
	return r.update(ctx, id, `UPDATE users SET allow_face_payments = $1, always_confirm_payment = $2 WHERE id = $3`,
		allowFacePayments, alwaysConfirm)
}

// update runs query with the parsed user id appended as its last parameter.
func (r *PostgresRepository) update(ctx context.Context, id, query string, args ...any) error {
	userID, err := uuid.Parse(id)
	if err != nil {
		return ErrUserNotFound
	}
	cmd, err := r.db.Exec(ctx, query, append(args, userID)...)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func scanUser(row pgx.Row) (User, error) {
	var (
		user      User
		lastLogin *time.Time
	)
	if err := row.Scan(&user.ID, &user.FirstName, &user.LastName, &user.Email, &user.Phone, &user.Role, &user.PINHash,
		&user.FaceEmbedding, &user.Latitude, &user.Longitude, &user.AllowFacePayments, &user.AlwaysConfirmPayment,
		&user.TokenVersion, &user.CreatedAt, &lastLogin); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, err
	}
	user.CreatedAt = user.CreatedAt.UTC()
	if lastLogin != nil {
		user.LastLogin = lastLogin.UTC()
	}
	return user, nil
}
