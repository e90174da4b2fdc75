package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func findMetric(t *testing.T, name string) *dto.MetricFamily {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func TestMiddlewareRecordsRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(Middleware())
	r.GET("/v1/referrals/:id", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/referrals/ref_1", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	mf := findMetric(t, "refpay_http_requests_total")
	if mf == nil {
		t.Fatal("refpay_http_requests_total not registered")
	}

	// The label must be the route pattern, not the raw URL.
	found := false
	for _, m := range mf.GetMetric() {
		for _, lp := range m.GetLabel() {
			if lp.GetName() == "path" && lp.GetValue() == "/v1/referrals/:id" {
				found = true
			}
			if lp.GetName() == "path" && lp.GetValue() == "/v1/referrals/ref_1" {
				t.Error("raw URL leaked into the path label")
			}
		}
	}
	if !found {
		t.Error("expected a sample labeled with the route pattern")
	}
}

func TestEvaluationCountersRegistered(t *testing.T) {
	EvaluationsTotal.WithLabelValues("auto_approved").Inc()
	RiskScores.Observe(42)

	if findMetric(t, "refpay_evaluations_total") == nil {
		t.Error("refpay_evaluations_total not registered")
	}
	if findMetric(t, "refpay_risk_score") == nil {
		t.Error("refpay_risk_score not registered")
	}
}
