package referral

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iprofit-labs/refpay/internal/user"
)

func newTestRouter(t *testing.T) (*gin.Engine, *Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	profiles := user.NewMemoryStore()
	ctx := context.Background()
	for _, id := range []string{"alice", "bob"} {
		require.NoError(t, profiles.Put(ctx, &user.Profile{ID: id, CreatedAt: time.Now()}))
	}

	svc := NewService(NewMemoryStore(), profiles)
	h := NewHandlers(svc)

	r := gin.New()
	v1 := r.Group("/v1")
	h.RegisterRoutes(v1)
	h.RegisterAdminRoutes(v1.Group("/admin"))
	return r, svc
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCreateReferralEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/v1/referrals", CreateInput{
		ReferrerID:  "alice",
		RefereeID:   "bob",
		BonusAmount: "25.000000",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created Referral
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, StatusPending, created.Status)
	assert.NotEmpty(t, created.ID)

	// Duplicate pending pair is a conflict.
	w = doJSON(t, router, http.MethodPost, "/v1/referrals", CreateInput{
		ReferrerID:  "alice",
		RefereeID:   "bob",
		BonusAmount: "25.000000",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	// Round-trip through GET.
	w = doJSON(t, router, http.MethodGet, "/v1/referrals/"+created.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestCreateReferralEndpointRejectsBadInput(t *testing.T) {
	router, _ := newTestRouter(t)

	tests := []struct {
		name string
		in   CreateInput
		code int
	}{
		{"self referral", CreateInput{ReferrerID: "alice", RefereeID: "alice", BonusAmount: "1"}, http.StatusBadRequest},
		{"unknown user", CreateInput{ReferrerID: "alice", RefereeID: "ghost", BonusAmount: "1"}, http.StatusNotFound},
		{"bad amount", CreateInput{ReferrerID: "alice", RefereeID: "bob", BonusAmount: "1.0000001"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, router, http.MethodPost, "/v1/referrals", tt.in)
			assert.Equal(t, tt.code, w.Code, w.Body.String())
		})
	}
}

func TestGetReferralNotFound(t *testing.T) {
	router, _ := newTestRouter(t)
	w := doJSON(t, router, http.MethodGet, "/v1/referrals/ref_missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListUserReferralsEndpoint(t *testing.T) {
	router, svc := newTestRouter(t)
	_, err := svc.Create(context.Background(), CreateInput{
		ReferrerID: "alice", RefereeID: "bob", BonusAmount: "25.000000",
	})
	require.NoError(t, err)

	w := doJSON(t, router, http.MethodGet, "/v1/users/alice/referrals", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Referrals []*Referral `json:"referrals"`
		Count     int         `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
}

func TestReviewEndpoint(t *testing.T) {
	router, svc := newTestRouter(t)
	r, err := svc.Create(context.Background(), CreateInput{
		ReferrerID: "alice", RefereeID: "bob", BonusAmount: "25.000000",
	})
	require.NoError(t, err)

	w := doJSON(t, router, http.MethodPost, "/v1/admin/referrals/"+r.ID+"/review",
		map[string]any{"approve": false, "note": "synthetic pair"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var reviewed Referral
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reviewed))
	assert.Equal(t, StatusRejected, reviewed.Status)
}
