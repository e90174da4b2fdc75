package referral

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/iprofit-labs/refpay/internal/user"
)

// Handlers exposes referral intake and admin review over HTTP.
type Handlers struct {
	service *Service
}

// NewHandlers creates referral HTTP handlers.
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// RegisterRoutes mounts the public referral routes.
func (h *Handlers) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/referrals", h.create)
	rg.GET("/referrals/:id", h.get)
	rg.GET("/users/:id/referrals", h.listByReferrer)
}

// RegisterAdminRoutes mounts the review routes behind the admin guard.
func (h *Handlers) RegisterAdminRoutes(rg *gin.RouterGroup) {
	rg.GET("/referrals", h.listByStatus)
	rg.GET("/review-queue", h.reviewQueue)
	rg.POST("/referrals/:id/review", h.review)
}

func (h *Handlers) create(c *gin.Context) {
	var in CreateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Malformed JSON body",
		})
		return
	}
	if in.IPAddress == "" {
		in.IPAddress = c.ClientIP()
	}

	r, err := h.service.Create(c.Request.Context(), in)
	if err != nil {
		switch {
		case errors.Is(err, ErrDuplicatePending):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "duplicate_referral",
				"message": "A pending referral already exists for this pair",
			})
		case errors.Is(err, ErrSelfReferral):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "self_referral",
				"message": "Referrer and referee must be different users",
			})
		case errors.Is(err, user.ErrProfileNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "user_not_found",
				"message": err.Error(),
			})
		default:
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": err.Error(),
			})
		}
		return
	}
	c.JSON(http.StatusCreated, r)
}

func (h *Handlers) get(c *gin.Context) {
	r, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrReferralNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Referral not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal",
			"message": "Failed to load referral",
		})
		return
	}
	c.JSON(http.StatusOK, r)
}

func (h *Handlers) listByReferrer(c *gin.Context) {
	rs, err := h.service.ListByReferrer(c.Request.Context(), c.Param("id"), limitParam(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal",
			"message": "Failed to list referrals",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"referrals": rs, "count": len(rs)})
}

func (h *Handlers) listByStatus(c *gin.Context) {
	status := Status(c.DefaultQuery("status", string(StatusPending)))
	rs, err := h.service.ListByStatus(c.Request.Context(), status, limitParam(c))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"referrals": rs, "count": len(rs)})
}

func (h *Handlers) reviewQueue(c *gin.Context) {
	rs, err := h.service.ReviewQueue(c.Request.Context(), limitParam(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal",
			"message": "Failed to load review queue",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"referrals": rs, "count": len(rs)})
}

func (h *Handlers) review(c *gin.Context) {
	var in struct {
		Approve bool   `json:"approve"`
		Note    string `json:"note"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Malformed JSON body",
		})
		return
	}

	r, err := h.service.Review(c.Request.Context(), c.Param("id"), in.Approve, in.Note)
	if err != nil {
		switch {
		case errors.Is(err, ErrReferralNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Referral not found",
			})
		case errors.Is(err, ErrNotPending):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "already_paid",
				"message": "Paid referrals cannot be reviewed",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal",
				"message": "Failed to review referral",
			})
		}
		return
	}
	c.JSON(http.StatusOK, r)
}

func limitParam(c *gin.Context) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 || limit > 200 {
		return 50
	}
	return limit
}
