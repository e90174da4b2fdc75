package ledger

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handlers exposes balance and bonus-history reads over HTTP.
type Handlers struct {
	store Store
}

// NewHandlers creates ledger HTTP handlers.
func NewHandlers(store Store) *Handlers {
	return &Handlers{store: store}
}

// RegisterRoutes mounts the ledger routes.
func (h *Handlers) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/users/:id/balance", h.balance)
	rg.GET("/users/:id/bonuses", h.history)
	rg.GET("/transactions/:id", h.transaction)
}

func (h *Handlers) balance(c *gin.Context) {
	b, err := h.store.GetBalance(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal",
			"message": "Failed to load balance",
		})
		return
	}
	c.JSON(http.StatusOK, b)
}

func (h *Handlers) history(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 || limit > 200 {
		limit = 50
	}

	txs, err := h.store.History(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal",
			"message": "Failed to load bonus history",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs, "count": len(txs)})
}

func (h *Handlers) transaction(c *gin.Context) {
	bt, err := h.store.GetTransaction(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrTransactionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Transaction not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal",
			"message": "Failed to load transaction",
		})
		return
	}
	c.JSON(http.StatusOK, bt)
}
