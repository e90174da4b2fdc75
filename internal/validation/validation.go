// Package validation provides request field validation helpers.
package validation

import (
	"fmt"
	"net/http"
	"net/mail"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize caps request bodies at 1MB.
const MaxRequestSize = 1 << 20

var (
	idPattern     = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)
	amountPattern = regexp.MustCompile(`^\d{1,14}(\.\d{1,6})?$`)
)

// ValidID reports whether s is a well-formed record ID (idgen output or an
// externally issued user ID).
func ValidID(s string) bool {
	return idPattern.MatchString(s)
}

// ValidEmail reports whether s parses as an RFC 5322 address.
func ValidEmail(s string) bool {
	if s == "" {
		return false
	}
	_, err := mail.ParseAddress(s)
	return err == nil
}

// ValidAmount reports whether s is a non-negative decimal amount with at most
// six fractional digits, the ledger's fixed-point format.
func ValidAmount(s string) bool {
	return amountPattern.MatchString(s)
}

// CheckAmount returns a descriptive error for an invalid amount string.
func CheckAmount(field, s string) error {
	if !ValidAmount(s) {
		return fmt.Errorf("%s must be a decimal amount with up to 6 fractional digits, got %q", field, s)
	}
	return nil
}

// RequestSizeMiddleware rejects request bodies larger than limit bytes.
func RequestSizeMiddleware(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > limit {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"error":   "request_too_large",
				"message": "Request body exceeds the maximum allowed size",
			})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}

// IDParamMiddleware validates the :id URL param on routes that carry one.
func IDParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if id != "" && !ValidID(id) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_id",
				"message": "Malformed identifier in URL",
			})
			return
		}
		c.Next()
	}
}

// NormalizeEmail lowercases and trims an email address for comparison.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
