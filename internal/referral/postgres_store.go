package referral

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/iprofit-labs/refpay/internal/txn"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed referral store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// execer routes writes through the caller's transaction when one is supplied.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (p *PostgresStore) execer(tx txn.Tx) execer {
	if sqlTx := txn.SQL(tx); sqlTx != nil {
		return sqlTx
	}
	return p.db
}

// Migrate creates the referrals table if it doesn't exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS referrals (
			id              VARCHAR(36) PRIMARY KEY,
			referrer_id     VARCHAR(64) NOT NULL,
			referee_id      VARCHAR(64) NOT NULL,
			bonus_amount    NUMERIC(20,6) NOT NULL DEFAULT 0,
			profit_bonus    NUMERIC(20,6) NOT NULL DEFAULT 0,
			bonus_type      VARCHAR(20) NOT NULL,
			status          VARCHAR(20) NOT NULL DEFAULT 'pending',
			metadata        JSONB NOT NULL DEFAULT '{}',
			ip_address      VARCHAR(45) NOT NULL DEFAULT '',
			transaction_id  VARCHAR(64),
			paid_at         TIMESTAMPTZ,
			claimed_at      TIMESTAMPTZ,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_referrals_referrer ON referrals(referrer_id);
		CREATE INDEX IF NOT EXISTS idx_referrals_status ON referrals(status);
		CREATE INDEX IF NOT EXISTS idx_referrals_ip ON referrals(ip_address) WHERE ip_address <> '';
		CREATE UNIQUE INDEX IF NOT EXISTS idx_referrals_pending_pair
			ON referrals(referrer_id, referee_id) WHERE status = 'pending';
	`)
	return err
}

// Create inserts a new referral. The partial unique index enforces one
// pending referral per referrer/referee pair.
func (p *PostgresStore) Create(ctx context.Context, r *Referral) error {
	meta, err := marshalMeta(r.Metadata)
	if err != nil {
		return err
	}

	bonus := r.BonusAmount
	if bonus == "" {
		bonus = "0"
	}
	profit := r.ProfitBonus
	if profit == "" {
		profit = "0"
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO referrals (
			id, referrer_id, referee_id, bonus_amount, profit_bonus,
			bonus_type, status, metadata, ip_address, created_at, updated_at
		) VALUES ($1, $2, $3, $4::NUMERIC(20,6), $5::NUMERIC(20,6), $6, $7, $8, $9, $10, $11)
	`,
		r.ID, r.ReferrerID, r.RefereeID, bonus, profit,
		string(r.BonusType), string(r.Status), meta, r.IPAddress, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicatePending
		}
		return fmt.Errorf("insert referral: %w", err)
	}
	return nil
}

// Get retrieves a referral by ID.
func (p *PostgresStore) Get(ctx context.Context, id string) (*Referral, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, referrer_id, referee_id, bonus_amount, profit_bonus,
			bonus_type, status, metadata, ip_address, transaction_id,
			paid_at, created_at, updated_at
		FROM referrals WHERE id = $1
	`, id)

	r, err := scanReferral(row)
	if err == sql.ErrNoRows {
		return nil, ErrReferralNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get referral: %w", err)
	}
	return r, nil
}

// Update persists a referral's mutable fields, through the supplied
// transaction when given.
func (p *PostgresStore) Update(ctx context.Context, r *Referral, tx txn.Tx) error {
	r.UpdatedAt = time.Now()

	meta, err := marshalMeta(r.Metadata)
	if err != nil {
		return err
	}

	result, err := p.execer(tx).ExecContext(ctx, `
		UPDATE referrals SET
			status = $2,
			metadata = $3,
			transaction_id = $4,
			paid_at = $5,
			updated_at = $6
		WHERE id = $1
	`, r.ID, string(r.Status), meta, nullString(r.TransactionID), nullTime(r.PaidAt), r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update referral: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrReferralNotFound
	}
	return nil
}

// ClaimForEvaluation performs the conditional update that claims a pending
// referral. Stale claims (older than ClaimTTL) are taken over.
func (p *PostgresStore) ClaimForEvaluation(ctx context.Context, id string) (bool, error) {
	result, err := p.db.ExecContext(ctx, `
		UPDATE referrals SET claimed_at = NOW()
		WHERE id = $1
		  AND status = 'pending'
		  AND (claimed_at IS NULL OR claimed_at < NOW() - $2::INTERVAL)
	`, id, fmt.Sprintf("%d seconds", int(ClaimTTL.Seconds())))
	if err != nil {
		return false, fmt.Errorf("claim referral: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}

	// Distinguish "lost the race" from "no such referral".
	var exists bool
	err = p.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM referrals WHERE id = $1)`, id,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check referral exists: %w", err)
	}
	if !exists {
		return false, ErrReferralNotFound
	}
	return false, nil
}

// ReleaseClaim clears the evaluation claim so the referral can be
// re-evaluated (queued outcomes).
func (p *PostgresStore) ReleaseClaim(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE referrals SET claimed_at = NULL WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("release claim: %w", err)
	}
	return nil
}

// CountByReferrerSince counts referrals created by a referrer after the
// given instant.
func (p *PostgresStore) CountByReferrerSince(ctx context.Context, referrerID string, since time.Time) (int, error) {
	var count int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM referrals WHERE referrer_id = $1 AND created_at > $2
	`, referrerID, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count referrals by referrer: %w", err)
	}
	return count, nil
}

// CountFromIP counts referrals whose signup originated from the given IP.
func (p *PostgresStore) CountFromIP(ctx context.Context, ip string) (int, error) {
	if ip == "" {
		return 0, nil
	}
	var count int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM referrals WHERE ip_address = $1
	`, ip).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count referrals from ip: %w", err)
	}
	return count, nil
}

// HasPendingPair reports whether a pending referral already links the pair.
func (p *PostgresStore) HasPendingPair(ctx context.Context, referrerID, refereeID string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM referrals
			WHERE referrer_id = $1 AND referee_id = $2 AND status = 'pending'
		)
	`, referrerID, refereeID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check pending pair: %w", err)
	}
	return exists, nil
}

// ListByStatus returns referrals in a given status, newest first.
func (p *PostgresStore) ListByStatus(ctx context.Context, status Status, limit int) ([]*Referral, error) {
	return p.list(ctx, `
		SELECT id, referrer_id, referee_id, bonus_amount, profit_bonus,
			bonus_type, status, metadata, ip_address, transaction_id,
			paid_at, created_at, updated_at
		FROM referrals WHERE status = $1
		ORDER BY created_at DESC LIMIT $2
	`, string(status), normalizeLimit(limit))
}

// ListByReferrer returns a referrer's referrals, newest first.
func (p *PostgresStore) ListByReferrer(ctx context.Context, referrerID string, limit int) ([]*Referral, error) {
	return p.list(ctx, `
		SELECT id, referrer_id, referee_id, bonus_amount, profit_bonus,
			bonus_type, status, metadata, ip_address, transaction_id,
			paid_at, created_at, updated_at
		FROM referrals WHERE referrer_id = $1
		ORDER BY created_at DESC LIMIT $2
	`, referrerID, normalizeLimit(limit))
}

// ListQueued returns pending referrals annotated as queued for review.
func (p *PostgresStore) ListQueued(ctx context.Context, limit int) ([]*Referral, error) {
	return p.list(ctx, `
		SELECT id, referrer_id, referee_id, bonus_amount, profit_bonus,
			bonus_type, status, metadata, ip_address, transaction_id,
			paid_at, created_at, updated_at
		FROM referrals
		WHERE status = 'pending' AND (metadata->>'queued_for_review')::BOOLEAN IS TRUE
		ORDER BY created_at DESC LIMIT $1
	`, normalizeLimit(limit))
}

func (p *PostgresStore) list(ctx context.Context, query string, args ...any) ([]*Referral, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list referrals: %w", err)
	}
	defer rows.Close()

	var result []*Referral
	for rows.Next() {
		r, err := scanReferral(rows)
		if err != nil {
			return nil, fmt.Errorf("scan referral: %w", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanReferral(row scannable) (*Referral, error) {
	var r Referral
	var bonusType, status string
	var meta []byte
	var transactionID sql.NullString
	var paidAt sql.NullTime

	err := row.Scan(
		&r.ID, &r.ReferrerID, &r.RefereeID, &r.BonusAmount, &r.ProfitBonus,
		&bonusType, &status, &meta, &r.IPAddress, &transactionID,
		&paidAt, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.BonusType = BonusType(bonusType)
	r.Status = Status(status)
	if transactionID.Valid {
		r.TransactionID = transactionID.String
	}
	if paidAt.Valid {
		r.PaidAt = paidAt.Time
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &r.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &r, nil
}

func marshalMeta(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return b, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	return limit
}

// isUniqueViolation matches the postgres unique_violation error code.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
