package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/iprofit-labs/refpay/internal/idgen"
	"github.com/iprofit-labs/refpay/internal/txn"
)

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgreSQL-backed ledger store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the ledger tables if they don't exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS bonus_transactions (
			id           VARCHAR(64) PRIMARY KEY,
			user_id      VARCHAR(64) NOT NULL,
			referral_id  VARCHAR(64) NOT NULL DEFAULT '',
			amount       NUMERIC(20,6) NOT NULL CHECK (amount > 0),
			status       VARCHAR(20) NOT NULL DEFAULT 'approved',
			metadata     JSONB,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_bonus_tx_user ON bonus_transactions(user_id, created_at DESC);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_bonus_tx_referral
			ON bonus_transactions(referral_id) WHERE referral_id <> '';

		CREATE TABLE IF NOT EXISTS balances (
			user_id     VARCHAR(64) PRIMARY KEY,
			available   NUMERIC(20,6) NOT NULL DEFAULT 0,
			total_in    NUMERIC(20,6) NOT NULL DEFAULT 0,
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (p *PostgresStore) execer(tx txn.Tx) execer {
	if sqlTx := txn.SQL(tx); sqlTx != nil {
		return sqlTx
	}
	return p.db
}

func (p *PostgresStore) CreateBonusTransaction(ctx context.Context, bt *BonusTransaction, tx txn.Tx) (string, error) {
	if !AmountPositive(bt.Amount) {
		return "", ErrInvalidAmount
	}

	id := bt.ID
	if id == "" {
		id = idgen.WithPrefix("btx_")
	}
	status := bt.Status
	if status == "" {
		status = TxApproved
	}
	createdAt := bt.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	meta, err := marshalMeta(bt.Metadata)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = p.execer(tx).ExecContext(ctx, `
		INSERT INTO bonus_transactions (id, user_id, referral_id, amount, status, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, id, bt.UserID, bt.ReferralID, bt.Amount, string(status), meta, createdAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return "", ErrDuplicateReferralPay
		}
		return "", fmt.Errorf("create bonus transaction: %w", err)
	}
	return id, nil
}

func (p *PostgresStore) IncrementBalance(ctx context.Context, userID, amount string, tx txn.Tx) error {
	if _, ok := ParseAmount(amount); !ok {
		return ErrInvalidAmount
	}

	_, err := p.execer(tx).ExecContext(ctx, `
		INSERT INTO balances (user_id, available, total_in, updated_at)
		VALUES ($1, $2, GREATEST($2::NUMERIC, 0), NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			available = balances.available + EXCLUDED.available,
			total_in = balances.total_in + GREATEST($2::NUMERIC, 0),
			updated_at = NOW()
	`, userID, amount)
	if err != nil {
		return fmt.Errorf("increment balance: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetBalance(ctx context.Context, userID string) (*Balance, error) {
	b := &Balance{UserID: userID, Available: "0.000000", TotalIn: "0.000000"}
	err := p.db.QueryRowContext(ctx, `
		SELECT available, total_in, updated_at FROM balances WHERE user_id = $1
	`, userID).Scan(&b.Available, &b.TotalIn, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return b, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}
	return b, nil
}

func (p *PostgresStore) GetTransaction(ctx context.Context, id string) (*BonusTransaction, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, user_id, referral_id, amount, status, metadata, created_at
		FROM bonus_transactions WHERE id = $1
	`, id)
	bt, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	return bt, nil
}

func (p *PostgresStore) History(ctx context.Context, userID string, limit int) ([]*BonusTransaction, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, user_id, referral_id, amount, status, metadata, created_at
		FROM bonus_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	defer rows.Close()

	var result []*BonusTransaction
	for rows.Next() {
		bt, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		result = append(result, bt)
	}
	return result, rows.Err()
}

func (p *PostgresStore) HasTransactionForReferral(ctx context.Context, referralID string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM bonus_transactions WHERE referral_id = $1)
	`, referralID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check referral transaction: %w", err)
	}
	return exists, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*BonusTransaction, error) {
	var bt BonusTransaction
	var status string
	var meta []byte
	err := row.Scan(&bt.ID, &bt.UserID, &bt.ReferralID, &bt.Amount, &status, &meta, &bt.CreatedAt)
	if err != nil {
		return nil, err
	}
	bt.Status = TransactionStatus(status)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &bt.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &bt, nil
}

func marshalMeta(meta map[string]any) ([]byte, error) {
	if meta == nil {
		return nil, nil
	}
	return json.Marshal(meta)
}
