package user

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed profile store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the users and user_ips tables if they don't exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			id               VARCHAR(64) PRIMARY KEY,
			name             TEXT NOT NULL DEFAULT '',
			email            TEXT NOT NULL DEFAULT '',
			phone            TEXT NOT NULL DEFAULT '',
			device_id        VARCHAR(128) NOT NULL DEFAULT '',
			kyc_status       VARCHAR(20) NOT NULL DEFAULT 'pending',
			email_verified   BOOLEAN NOT NULL DEFAULT FALSE,
			phone_verified   BOOLEAN NOT NULL DEFAULT FALSE,
			total_deposits   NUMERIC(20,6) NOT NULL DEFAULT 0,
			last_ip_address  VARCHAR(45) NOT NULL DEFAULT '',
			last_login_at    TIMESTAMPTZ,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_users_device ON users(device_id) WHERE device_id <> '';

		CREATE TABLE IF NOT EXISTS user_ips (
			user_id     VARCHAR(64) NOT NULL REFERENCES users(id),
			ip_address  VARCHAR(45) NOT NULL,
			seen_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (user_id, ip_address)
		);
		CREATE INDEX IF NOT EXISTS idx_user_ips_seen ON user_ips(user_id, seen_at DESC);
	`)
	return err
}

// Get retrieves a profile by user ID.
func (p *PostgresStore) Get(ctx context.Context, id string) (*Profile, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, name, email, phone, device_id, kyc_status,
			email_verified, phone_verified, total_deposits,
			last_ip_address, last_login_at, created_at
		FROM users WHERE id = $1
	`, id)

	var prof Profile
	var kyc string
	var lastLogin sql.NullTime
	err := row.Scan(
		&prof.ID, &prof.Name, &prof.Email, &prof.Phone, &prof.DeviceID, &kyc,
		&prof.EmailVerified, &prof.PhoneVerified, &prof.TotalDeposits,
		&prof.LastIPAddress, &lastLogin, &prof.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	prof.KYCStatus = KYCStatus(kyc)
	if lastLogin.Valid {
		prof.LastLoginAt = lastLogin.Time
	}
	return &prof, nil
}

// CountAccountsByDevice counts distinct users sharing a device fingerprint.
func (p *PostgresStore) CountAccountsByDevice(ctx context.Context, deviceID string) (int, error) {
	if deviceID == "" {
		return 0, nil
	}
	var count int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM users WHERE device_id = $1
	`, deviceID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count accounts by device: %w", err)
	}
	return count, nil
}

// RecentIPs returns up to n most-recent IPs seen for a user, newest first.
func (p *PostgresStore) RecentIPs(ctx context.Context, userID string, n int) ([]string, error) {
	if n <= 0 {
		n = 3
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT ip_address FROM user_ips
		WHERE user_id = $1
		ORDER BY seen_at DESC
		LIMIT $2
	`, userID, n)
	if err != nil {
		return nil, fmt.Errorf("recent ips: %w", err)
	}
	defer rows.Close()

	var ips []string
	for rows.Next() {
		var ip string
		if err := rows.Scan(&ip); err != nil {
			return nil, fmt.Errorf("scan ip: %w", err)
		}
		ips = append(ips, ip)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Fall back to the profile's last-seen IP when no log rows exist.
	if len(ips) == 0 {
		var last string
		err := p.db.QueryRowContext(ctx,
			`SELECT last_ip_address FROM users WHERE id = $1`, userID,
		).Scan(&last)
		if err == nil && last != "" {
			ips = append(ips, last)
		}
	}
	return ips, nil
}

// Put upserts a profile and records its last-seen IP.
func (p *PostgresStore) Put(ctx context.Context, prof *Profile) error {
	createdAt := prof.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO users (
			id, name, email, phone, device_id, kyc_status,
			email_verified, phone_verified, total_deposits,
			last_ip_address, last_login_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			phone = EXCLUDED.phone,
			device_id = EXCLUDED.device_id,
			kyc_status = EXCLUDED.kyc_status,
			email_verified = EXCLUDED.email_verified,
			phone_verified = EXCLUDED.phone_verified,
			total_deposits = EXCLUDED.total_deposits,
			last_ip_address = EXCLUDED.last_ip_address,
			last_login_at = EXCLUDED.last_login_at
	`,
		prof.ID, prof.Name, prof.Email, prof.Phone, prof.DeviceID, string(prof.KYCStatus),
		prof.EmailVerified, prof.PhoneVerified, prof.TotalDeposits,
		prof.LastIPAddress, nullTime(prof.LastLoginAt), createdAt,
	)
	if err != nil {
		return fmt.Errorf("put profile: %w", err)
	}

	if prof.LastIPAddress != "" {
		_, err = p.db.ExecContext(ctx, `
			INSERT INTO user_ips (user_id, ip_address, seen_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (user_id, ip_address) DO UPDATE SET seen_at = NOW()
		`, prof.ID, prof.LastIPAddress)
		if err != nil {
			return fmt.Errorf("record ip: %w", err)
		}
	}
	return nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
