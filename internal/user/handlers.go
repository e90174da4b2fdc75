package user

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/iprofit-labs/refpay/internal/validation"
)

// Handlers exposes profile intake and lookup over HTTP. In production the
// identity service pushes profiles here; in demo mode the endpoint doubles
// as a convenient way to seed test users.
type Handlers struct {
	store Store
}

// NewHandlers creates user HTTP handlers.
func NewHandlers(store Store) *Handlers {
	return &Handlers{store: store}
}

// RegisterRoutes mounts the user routes.
func (h *Handlers) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/users", h.put)
	rg.GET("/users/:id", h.get)
}

type putRequest struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Email         string  `json:"email"`
	Phone         string  `json:"phone"`
	DeviceID      string  `json:"deviceId"`
	KYCStatus     string  `json:"kycStatus"`
	EmailVerified bool    `json:"emailVerified"`
	PhoneVerified bool    `json:"phoneVerified"`
	TotalDeposits float64 `json:"totalDeposits"`
	LastIPAddress string  `json:"lastIpAddress"`
	CreatedAt     string  `json:"createdAt"`   // RFC3339, optional
	LastLoginAt   string  `json:"lastLoginAt"` // RFC3339, optional
}

func (h *Handlers) put(c *gin.Context) {
	var req putRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Malformed JSON body",
		})
		return
	}
	if !validation.ValidID(req.ID) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_id",
			"message": "id must be 1-64 characters of [a-zA-Z0-9_-]",
		})
		return
	}
	if req.Email != "" && !validation.ValidEmail(req.Email) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_email",
			"message": "email must be a valid address",
		})
		return
	}

	kyc := KYCStatus(req.KYCStatus)
	switch kyc {
	case "", KYCPending:
		kyc = KYCPending
	case KYCApproved, KYCRejected:
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_kyc_status",
			"message": "kycStatus must be pending, approved, or rejected",
		})
		return
	}

	prof := &Profile{
		ID:            req.ID,
		Name:          req.Name,
		Email:         validation.NormalizeEmail(req.Email),
		Phone:         req.Phone,
		DeviceID:      req.DeviceID,
		KYCStatus:     kyc,
		EmailVerified: req.EmailVerified,
		PhoneVerified: req.PhoneVerified,
		TotalDeposits: req.TotalDeposits,
		LastIPAddress: req.LastIPAddress,
		CreatedAt:     parseTime(req.CreatedAt),
		LastLoginAt:   parseTime(req.LastLoginAt),
	}
	if prof.CreatedAt.IsZero() {
		prof.CreatedAt = time.Now()
	}

	if err := h.store.Put(c.Request.Context(), prof); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal",
			"message": "Failed to store profile",
		})
		return
	}
	c.JSON(http.StatusOK, prof)
}

func (h *Handlers) get(c *gin.Context) {
	prof, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrProfileNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Profile not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal",
			"message": "Failed to load profile",
		})
		return
	}
	c.JSON(http.StatusOK, prof)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
