package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgNumericOutOfRange   = "22003"
)

const transactionColumns = `id::text, reference, COALESCE(sender_wallet_id::text, ''), COALESCE(receiver_wallet_id::text, ''),
        amount::text, feature, type, status, COALESCE(description, ''), COALESCE(client_tx_id, ''), created_at, updated_at`

// PostgresLedger keeps wallet balances in the wallets table and moves funds
// under explicit row locks inside a single database transaction.
type PostgresLedger struct {
	db *pgxpool.Pool
}

// NewPostgresLedger constructs a Postgres-backed ledger implementation.
func NewPostgresLedger(db *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// EnsureAccount verifies the wallet row exists. Wallet rows are created by the
// wallet repository with a zero balance.
func (l *PostgresLedger) EnsureAccount(ctx context.Context, walletID string) error {
	id, err := uuid.Parse(walletID)
	if err != nil {
		return ErrAccountNotFound
	}
	var exists bool
	if err := l.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM wallets WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrAccountNotFound
	}
	return nil
}

// Balance returns the current balance of a wallet.
func (l *PostgresLedger) Balance(ctx context.Context, walletID string) (decimal.Decimal, error) {
	id, err := uuid.Parse(walletID)
	if err != nil {
		return decimal.Zero, ErrAccountNotFound
	}
	var raw string
	if err := l.db.QueryRow(ctx, `SELECT balance::text FROM wallets WHERE id = $1`, id).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, ErrAccountNotFound
		}
		return decimal.Zero, err
	}
	return decimal.NewFromString(raw)
}

// Record inserts a new transaction in the pending state.
func (l *PostgresLedger) Record(ctx context.Context, tx Transaction) (Transaction, error) {
	if err := ValidateAmount(tx.Amount); err != nil {
		return Transaction{}, err
	}
	senderID, err := uuid.Parse(tx.SenderWalletID)
	if err != nil {
		return Transaction{}, ErrAccountNotFound
	}
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.Reference == "" {
		tx.Reference = NewReference()
	}
	if tx.Type == "" {
		tx.Type = TypeDebit
	}
	tx.Status = StatusPending
	tx.CreatedAt = time.Now().UTC()
	tx.UpdatedAt = tx.CreatedAt

	_, err = l.db.Exec(ctx, `INSERT INTO transactions
        (id, reference, sender_wallet_id, receiver_wallet_id, amount, feature, type, status, description, client_tx_id, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10, $11, $12)`,
		uuid.MustParse(tx.ID), tx.Reference, senderID, nullableUUID(tx.ReceiverWalletID), tx.Amount.String(),
		string(tx.Feature), string(tx.Type), string(tx.Status), nullableString(tx.Description), nullableString(tx.ClientTxID),
		tx.CreatedAt, tx.UpdatedAt)
	if err != nil {
		return Transaction{}, translate(err)
	}
	return tx, nil
}

// Get fetches a transaction by its reference.
func (l *PostgresLedger) Get(ctx context.Context, reference string) (Transaction, error) {
	row := l.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE reference = $1`, reference)
	tx, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrTransactionNotFound
		}
		return Transaction{}, err
	}
	return tx, nil
}

// Transition changes the status of a transaction under a row lock without moving funds.
func (l *PostgresLedger) Transition(ctx context.Context, reference string, to Status, allowedFrom ...Status) (Transaction, error) {
	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Transaction{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	current, err := lockTransaction(ctx, tx, reference)
	if err != nil {
		return Transaction{}, err
	}
	if !allowed(current.Status, allowedFrom) {
		return current, ErrInvalidTransition
	}

	current.Status = to
	current.UpdatedAt = time.Now().UTC()
	if _, err := tx.Exec(ctx, `UPDATE transactions SET status = $1, updated_at = $2 WHERE reference = $3`,
		string(to), current.UpdatedAt, reference); err != nil {
		return Transaction{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Transaction{}, err
	}
	return current, nil
}

// Settle debits the sender, credits the receiver and marks the transaction
// successful as one unit. The transaction row and both wallet rows stay locked
// until commit, so concurrent settlements of the same reference or wallet
// serialise and re-check the balance.
func (l *PostgresLedger) Settle(ctx context.Context, reference string) (SettlementResult, error) {
	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return SettlementResult{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	current, err := lockTransaction(ctx, tx, reference)
	if err != nil {
		return SettlementResult{}, err
	}
	switch {
	case current.Status == StatusSuccessful:
		return SettlementResult{Transaction: current}, ErrAlreadySettled
	case !current.Status.Settleable():
		return SettlementResult{Transaction: current}, ErrNotSettleable
	}
	if current.ReceiverWalletID == "" {
		return SettlementResult{}, ErrAccountNotFound
	}

	balances, err := lockWallets(ctx, tx, current.SenderWalletID, current.ReceiverWalletID)
	if err != nil {
		return SettlementResult{}, err
	}
	senderBalance := balances[current.SenderWalletID]
	if senderBalance.LessThan(current.Amount) {
		return SettlementResult{Transaction: current}, ErrInsufficientFunds
	}

	const move = `UPDATE wallets SET balance = balance + $1::numeric, updated_at = now() WHERE id = $2`
	if _, err := tx.Exec(ctx, move, current.Amount.Neg().String(), uuid.MustParse(current.SenderWalletID)); err != nil {
		return SettlementResult{}, err
	}
	if _, err := tx.Exec(ctx, move, current.Amount.String(), uuid.MustParse(current.ReceiverWalletID)); err != nil {
		return SettlementResult{}, err
	}

	current.Status = StatusSuccessful
	current.UpdatedAt = time.Now().UTC()
	if _, err := tx.Exec(ctx, `UPDATE transactions SET status = $1, updated_at = $2 WHERE reference = $3`,
		string(current.Status), current.UpdatedAt, reference); err != nil {
		return SettlementResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return SettlementResult{}, err
	}

	return SettlementResult{
		Transaction:     current,
		SenderBalance:   senderBalance.Sub(current.Amount),
		ReceiverBalance: balances[current.ReceiverWalletID].Add(current.Amount),
	}, nil
}

// Deposit credits a wallet from an external funding source, once per client transaction id.
func (l *PostgresLedger) Deposit(ctx context.Context, walletID, clientTxID string, amount decimal.Decimal) (DepositResult, error) {
	if err := ValidateAmount(amount); err != nil {
		return DepositResult{}, err
	}

	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return DepositResult{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	balances, err := lockWallets(ctx, tx, walletID)
	if err != nil {
		return DepositResult{}, err
	}
	balance := balances[walletID]

	row := tx.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE feature = $1 AND client_tx_id = $2`,
		string(FeatureWallet), clientTxID)
	if existing, err := scanTransaction(row); err == nil {
		return DepositResult{Transaction: existing, WalletBalance: balance}, ErrDuplicateTransaction
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return DepositResult{}, err
	}

	now := time.Now().UTC()
	record := Transaction{
		ID:               uuid.NewString(),
		Reference:        NewReference(),
		ReceiverWalletID: walletID,
		Amount:           amount,
		Feature:          FeatureWallet,
		Type:             TypeCredit,
		Status:           StatusSuccessful,
		Description:      "Wallet funding",
		ClientTxID:       clientTxID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if _, err := tx.Exec(ctx, `INSERT INTO transactions
        (id, reference, receiver_wallet_id, amount, feature, type, status, description, client_tx_id, created_at, updated_at)
        VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9, $10, $11)`,
		uuid.MustParse(record.ID), record.Reference, uuid.MustParse(walletID), amount.String(),
		string(record.Feature), string(record.Type), string(record.Status), record.Description, clientTxID, now, now); err != nil {
		return DepositResult{}, translate(err)
	}
	if _, err := tx.Exec(ctx, `UPDATE wallets SET balance = balance + $1::numeric, updated_at = now() WHERE id = $2`,
		amount.String(), uuid.MustParse(walletID)); err != nil {
		return DepositResult{}, translate(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return DepositResult{}, err
	}
	return DepositResult{Transaction: record, WalletBalance: balance.Add(amount)}, nil
}

// List returns the wallet's transactions, newest first.
func (l *PostgresLedger) List(ctx context.Context, walletID string, q Query) ([]Transaction, error) {
	id, err := uuid.Parse(walletID)
	if err != nil {
		return nil, ErrAccountNotFound
	}

	var (
		where = []string{"sender_wallet_id = $1"}
		args  = []any{id}
	)
	if !q.SentOnly {
		where[0] = "(sender_wallet_id = $1 OR receiver_wallet_id = $1)"
	}
	if !q.Since.IsZero() {
		args = append(args, q.Since.UTC())
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !q.Until.IsZero() {
		args = append(args, q.Until.UTC())
		where = append(where, fmt.Sprintf("created_at < $%d", len(args)))
	}
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE ` + strings.Join(where, " AND ") + ` ORDER BY created_at DESC`
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := l.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Transaction, 0)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func lockTransaction(ctx context.Context, tx pgx.Tx, reference string) (Transaction, error) {
	row := tx.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE reference = $1 FOR UPDATE`, reference)
	current, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrTransactionNotFound
		}
		return Transaction{}, err
	}
	return current, nil
}

// lockWallets takes FOR UPDATE locks on the given wallets in id order so two
// settlements touching the same pair cannot deadlock.
func lockWallets(ctx context.Context, tx pgx.Tx, walletIDs ...string) (map[string]decimal.Decimal, error) {
	ids := make([]string, 0, len(walletIDs))
	for _, w := range walletIDs {
		id, err := uuid.Parse(w)
		if err != nil {
			return nil, ErrAccountNotFound
		}
		ids = append(ids, id.String())
	}

	rows, err := tx.Query(ctx, `SELECT id::text, balance::text FROM wallets WHERE id = ANY($1::uuid[]) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	balances := make(map[string]decimal.Decimal, len(ids))
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("parse balance of wallet %s: %w", id, err)
		}
		balances[id] = amount
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, w := range walletIDs {
		if _, ok := balances[w]; !ok {
			return nil, fmt.Errorf("wallet %s: %w", w, ErrAccountNotFound)
		}
	}
	return balances, nil
}

func scanTransaction(row pgx.Row) (Transaction, error) {
	var (
		tx                   Transaction
		amount               string
		feature, typ, status string
	)
	if err := row.Scan(&tx.ID, &tx.Reference, &tx.SenderWalletID, &tx.ReceiverWalletID, &amount,
		&feature, &typ, &status, &tx.Description, &tx.ClientTxID, &tx.CreatedAt, &tx.UpdatedAt); err != nil {
		return Transaction{}, err
	}
	parsed, err := decimal.NewFromString(amount)
	if err != nil {
		return Transaction{}, fmt.Errorf("parse amount of %s: %w", tx.Reference, err)
	}
	tx.Amount = parsed
	tx.Feature = Feature(feature)
	tx.Type = Type(typ)
	tx.Status = Status(status)
	tx.CreatedAt = tx.CreatedAt.UTC()
	tx.UpdatedAt = tx.UpdatedAt.UTC()
	return tx, nil
}

func translate(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return ErrDuplicateTransaction
		case pgForeignKeyViolation:
			return ErrAccountNotFound
		case pgNumericOutOfRange:
			return ErrInvalidAmount
		}
	}
	return err
}

func nullableUUID(s string) any {
	if s == "" {
		return nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return nil
	}
	return id
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
