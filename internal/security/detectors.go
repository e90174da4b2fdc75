package security

import (
	"context"
	"net"
)

// VPNDetector classifies an IP address as proxy/VPN traffic. Implementations
// may call out to reputation services; errors are treated as "unknown" by the
// VPN checker, not as findings.
type VPNDetector interface {
	IsVPN(ctx context.Context, ip string) (bool, error)
}

// ActivityComparator scores how similar two users' platform activity looks,
// in [0,1]. The default deployment has no activity feed and uses
// NoopActivityComparator.
type ActivityComparator interface {
	ActivitySimilarity(ctx context.Context, userA, userB string) (float64, error)
}

// HeuristicVPNDetector flags addresses in private, loopback, and
// carrier-grade NAT ranges. Referral traffic from such ranges reaching a
// public API means the reported client address was spoofed or proxied.
type HeuristicVPNDetector struct{}

var cgnRange = mustCIDR("100.64.0.0/10")

func (HeuristicVPNDetector) IsVPN(ctx context.Context, ip string) (bool, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false, nil
	}
	if parsed.IsPrivate() || parsed.IsLoopback() || parsed.IsUnspecified() {
		return true, nil
	}
	return cgnRange.Contains(parsed), nil
}

// NoopActivityComparator reports zero similarity for every pair.
type NoopActivityComparator struct{}

func (NoopActivityComparator) ActivitySimilarity(ctx context.Context, userA, userB string) (float64, error) {
	return 0, nil
}

func mustCIDR(cidr string) *net.IPNet {
	_, n, err := net.ParseCIDR(cidr)
	if err != nil {
		panic(err)
	}
	return n
}

// IsPrivateIP reports whether the address is in a private or loopback range.
// Used by the IP checker for its own (milder) private-range finding.
func IsPrivateIP(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	return parsed.IsPrivate() || parsed.IsLoopback()
}
