// Package user provides read access to user profile context.
//
// Profiles are mastered by the platform's identity service; the payout engine
// only reads them. The store also answers the fan-in questions the risk
// checkers ask (how many accounts share a device, which IPs a user was seen
// on recently).
package user

import (
	"context"
	"errors"
	"time"
)

var ErrProfileNotFound = errors.New("profile not found")

// KYCStatus is the identity verification state of a user.
type KYCStatus string

const (
	KYCPending  KYCStatus = "pending"
	KYCApproved KYCStatus = "approved"
	KYCRejected KYCStatus = "rejected"
)

// Profile is the referral engine's view of a user.
type Profile struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	Phone         string    `json:"phone,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	LastLoginAt   time.Time `json:"lastLoginAt,omitempty"`
	DeviceID      string    `json:"deviceId,omitempty"`
	KYCStatus     KYCStatus `json:"kycStatus"`
	EmailVerified bool      `json:"emailVerified"`
	PhoneVerified bool      `json:"phoneVerified"`
	TotalDeposits float64   `json:"totalDeposits"`
	LastIPAddress string    `json:"lastIpAddress,omitempty"`
}

// Store reads profile context.
type Store interface {
	Get(ctx context.Context, id string) (*Profile, error)
	// CountAccountsByDevice returns how many distinct users share a device
	// fingerprint. Empty device IDs count as zero.
	CountAccountsByDevice(ctx context.Context, deviceID string) (int, error)
	// RecentIPs returns up to n most-recent IP addresses seen for a user,
	// newest first. The minimal contract is the single last-seen IP.
	RecentIPs(ctx context.Context, userID string, n int) ([]string, error)
	// Put inserts or replaces a profile. Used by the intake endpoint and by
	// the identity sync job; the engine itself never writes profiles.
	Put(ctx context.Context, p *Profile) error
}
