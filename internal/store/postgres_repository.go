/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * Account balances are mutated only inside a pgx transaction that holds
 * `SELECT ... FOR UPDATE` row locks; lock waits are bounded with a transaction-local
 * `lock_timeout`.
 *
 * @dependencies
 * - context, errors, fmt, strconv, strings, time: Standard Go libraries.
 * - github.com/jackc/pgx/v5 (+pgconn, pgxpool): The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/transfa/transfer-service/internal/domain"
)

const (
	pgCodeLockNotAvailable = "55P03"
	pgCodeQueryCanceled    = "57014"

	defaultListLimit = 50
	maxListLimit     = 200
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db          *pgxpool.Pool
	lockTimeout time.Duration
}

// NewPostgresRepository creates a new instance of PostgresRepository.
// A zero lockTimeout leaves the server default (wait forever) in place.
func NewPostgresRepository(db *pgxpool.Pool, lockTimeout time.Duration) *PostgresRepository {
	return &PostgresRepository{db: db, lockTimeout: lockTimeout}
}

// BeginUnit opens a transaction that will hold the row locks for one transfer.
func (r *PostgresRepository) BeginUnit(ctx context.Context) (AccountUnit, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("begin unit: %w", err)
	}

	if r.lockTimeout > 0 {
		ms := strconv.FormatInt(r.lockTimeout.Milliseconds(), 10)
		if _, err := tx.Exec(ctx, "SELECT set_config('lock_timeout', $1, true)", ms); err != nil {
			_ = tx.Rollback(ctx)
			return nil, fmt.Errorf("set lock_timeout: %w", err)
		}
	}

	return &postgresUnit{tx: tx, locked: make(map[int64]struct{}, 2)}, nil
}

type postgresUnit struct {
	tx     pgx.Tx
	locked map[int64]struct{}
	closed bool
}

func (u *postgresUnit) LockedRead(ctx context.Context, accountID int64) (*domain.Account, error) {
	if u.closed {
		return nil, ErrUnitClosed
	}

	var account domain.Account
	query := `
		SELECT id, name, email, balance, created_at, updated_at
		FROM accounts
		WHERE id = $1
		FOR UPDATE
	`
	err := u.tx.QueryRow(ctx, query, accountID).Scan(
		&account.ID,
		&account.Name,
		&account.Email,
		&account.Balance,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		if isLockTimeout(err) {
			return nil, ErrLockTimeout
		}
		return nil, fmt.Errorf("lock account %d: %w", accountID, err)
	}

	u.locked[accountID] = struct{}{}
	return &account, nil
}

func (u *postgresUnit) Write(ctx context.Context, account *domain.Account) error {
	if u.closed {
		return ErrUnitClosed
	}
	if _, ok := u.locked[account.ID]; !ok {
		return ErrLockNotHeld
	}

	query := `UPDATE accounts SET balance = $1, updated_at = NOW() WHERE id = $2`
	tag, err := u.tx.Exec(ctx, query, account.Balance, account.ID)
	if err != nil {
		return fmt.Errorf("write account %d: %w", account.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (u *postgresUnit) CreateTransfer(ctx context.Context, transfer *domain.Transfer) error {
	if u.closed {
		return ErrUnitClosed
	}

	query := `
		INSERT INTO transfers (origin_account_id, destination_account_id, amount, status, description, created_at)
		VALUES ($1, $2, $3, $4, $5, clock_timestamp())
		RETURNING id, created_at
	`
	err := u.tx.QueryRow(ctx, query,
		transfer.OriginAccountID,
		transfer.DestinationAccountID,
		transfer.Amount,
		transfer.Status,
		transfer.Description,
	).Scan(&transfer.ID, &transfer.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert transfer: %w", err)
	}
	return nil
}

func (u *postgresUnit) Commit(ctx context.Context) error {
	if u.closed {
		return ErrUnitClosed
	}
	u.closed = true
	if err := u.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit unit: %w", err)
	}
	return nil
}

func (u *postgresUnit) Abort(ctx context.Context) error {
	if u.closed {
		return nil
	}
	u.closed = true
	if err := u.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("rollback unit: %w", err)
	}
	return nil
}

func isLockTimeout(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	// statement_timeout also surfaces while waiting on a row lock.
	return pgErr.Code == pgCodeLockNotAvailable || pgErr.Code == pgCodeQueryCanceled
}

// FindAccountByID reads an account without locking it.
func (r *PostgresRepository) FindAccountByID(ctx context.Context, accountID int64) (*domain.Account, error) {
	var account domain.Account
	query := `SELECT id, name, email, balance, created_at, updated_at FROM accounts WHERE id = $1`
	err := r.db.QueryRow(ctx, query, accountID).Scan(
		&account.ID,
		&account.Name,
		&account.Email,
		&account.Balance,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

const transferColumns = `id, origin_account_id, destination_account_id, amount, status, description, created_at`

func scanTransfer(row pgx.Row, t *domain.Transfer) error {
	return row.Scan(
		&t.ID,
		&t.OriginAccountID,
		&t.DestinationAccountID,
		&t.Amount,
		&t.Status,
		&t.Description,
		&t.CreatedAt,
	)
}

// FindTransferByID retrieves a committed transfer.
func (r *PostgresRepository) FindTransferByID(ctx context.Context, transferID int64) (*domain.Transfer, error) {
	var transfer domain.Transfer
	query := `SELECT ` + transferColumns + ` FROM transfers WHERE id = $1`
	if err := scanTransfer(r.db.QueryRow(ctx, query, transferID), &transfer); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransferNotFound
		}
		return nil, err
	}
	return &transfer, nil
}

// ListTransfersByAccount returns transfers where the account was either side, newest first.
func (r *PostgresRepository) ListTransfersByAccount(ctx context.Context, accountID int64, opts domain.TransferListOptions) ([]domain.Transfer, error) {
	limit := normalizeLimit(opts.Limit)
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT ` + transferColumns + `
		FROM transfers
		WHERE origin_account_id = $1 OR destination_account_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Query(ctx, query, accountID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transfers := make([]domain.Transfer, 0)
	for rows.Next() {
		var t domain.Transfer
		if err := scanTransfer(rows, &t); err != nil {
			return nil, err
		}
		transfers = append(transfers, t)
	}
	return transfers, rows.Err()
}

// CreateNotifications inserts all events with one multi-row INSERT.
func (r *PostgresRepository) CreateNotifications(ctx context.Context, events []domain.NotificationEvent) error {
	if len(events) == 0 {
		return nil
	}
	for _, e := range events {
		if !e.Category.Valid() {
			return fmt.Errorf("%w: %q", ErrInvalidCategory, e.Category)
		}
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO notifications (account_id, transfer_id, message, category, sent) VALUES `)
	args := make([]interface{}, 0, len(events)*5)
	for i, event := range events {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 5
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d)", base+1, base+2, base+3, base+4, base+5)
		args = append(args, event.AccountID, event.TransferID, event.Message, string(event.Category), event.Sent)
	}
	sb.WriteString(` RETURNING id, created_at`)

	rows, err := r.db.Query(ctx, sb.String(), args...)
	if err != nil {
		return fmt.Errorf("insert notifications: %w", err)
	}
	defer rows.Close()

	i := 0
	for rows.Next() {
		if i >= len(events) {
			break
		}
		if err := rows.Scan(&events[i].ID, &events[i].CreatedAt); err != nil {
			return fmt.Errorf("scan notification id: %w", err)
		}
		i++
	}
	return rows.Err()
}

const notificationColumns = `id, account_id, transfer_id, message, category, sent, attempts, last_attempt_at, created_at`

func collectNotifications(rows pgx.Rows) ([]domain.NotificationEvent, error) {
	defer rows.Close()

	events := make([]domain.NotificationEvent, 0)
	for rows.Next() {
		var (
			e        domain.NotificationEvent
			category string
		)
		if err := rows.Scan(&e.ID, &e.AccountID, &e.TransferID, &e.Message, &category, &e.Sent, &e.Attempts, &e.LastAttemptAt, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Category = domain.NotificationCategory(category)
		events = append(events, e)
	}
	return events, rows.Err()
}

// ListNotificationsByAccount returns an account's notifications, newest first.
func (r *PostgresRepository) ListNotificationsByAccount(ctx context.Context, accountID int64, opts domain.NotificationListOptions) ([]domain.NotificationEvent, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE account_id = $1 AND ($2 = FALSE OR sent = FALSE)
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`
	rows, err := r.db.Query(ctx, query, accountID, opts.UnsentOnly, normalizeLimit(opts.Limit))
	if err != nil {
		return nil, err
	}
	return collectNotifications(rows)
}

// FindUnsentNotifications returns never-attempted rows oldest first, then the least recently
// attempted ones.
func (r *PostgresRepository) FindUnsentNotifications(ctx context.Context, category domain.NotificationCategory, createdBefore time.Time, limit int) ([]domain.NotificationEvent, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE sent = FALSE AND category = $1 AND created_at <= $2
		ORDER BY last_attempt_at ASC NULLS FIRST, id ASC
		LIMIT $3
	`
	rows, err := r.db.Query(ctx, query, string(category), createdBefore, normalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	return collectNotifications(rows)
}

// RecordNotificationAttempt moves a row behind every row not yet tried in this rotation.
func (r *PostgresRepository) RecordNotificationAttempt(ctx context.Context, notificationID int64) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE notifications
		SET attempts = attempts + 1, last_attempt_at = clock_timestamp()
		WHERE id = $1
	`, notificationID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

// MarkNotificationSent flips the sent flag. Marking an already-sent row is a no-op.
func (r *PostgresRepository) MarkNotificationSent(ctx context.Context, notificationID int64) error {
	tag, err := r.db.Exec(ctx, `UPDATE notifications SET sent = TRUE WHERE id = $1`, notificationID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
