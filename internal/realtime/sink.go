package realtime

import (
	"context"
	"time"

	"github.com/iprofit-labs/refpay/internal/approval"
)

// OutcomeSink adapts the hub to the decision engine's event interface.
type OutcomeSink struct {
	Hub *Hub
}

// EvaluationCompleted broadcasts an evaluation outcome. Payouts additionally
// emit a payout event so dashboards can watch money movement alone.
func (s OutcomeSink) EvaluationCompleted(ctx context.Context, o *approval.Outcome) {
	if s.Hub == nil || o == nil {
		return
	}

	data := map[string]any{
		"referralId": o.ReferralID,
		"decision":   string(o.Decision),
		"approved":   o.Approved,
		"riskScore":  o.RiskScore,
		"riskLevel":  string(o.RiskLevel),
	}
	s.Hub.Broadcast(&Event{
		Type:      EventEvaluation,
		Timestamp: time.Now(),
		Data:      data,
	})

	if o.Approved {
		s.Hub.Broadcast(&Event{
			Type:      EventPayout,
			Timestamp: time.Now(),
			Data: map[string]any{
				"referralId":    o.ReferralID,
				"transactionId": o.TransactionID,
			},
		})
	}
}
