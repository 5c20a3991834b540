// Package validation provides request parsing and error mapping shared by
// the ledger's HTTP handlers.
package validation

import (
	"net/http"
	"regexp"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/mbd888/computeledger/internal/chain"
	"github.com/mbd888/computeledger/internal/logging"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

var (
	// ethAddressRegex validates account addresses
	ethAddressRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
	// hashRegex validates 32-byte task and batch identities
	hashRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{64}$`)
)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidEthAddress checks if a string is a valid account address
func IsValidEthAddress(addr string) bool {
	return ethAddressRegex.MatchString(addr)
}

// IsValidHash checks if a string is a 0x-prefixed 32-byte hex hash
func IsValidHash(s string) bool {
	return hashRegex.MatchString(s)
}

// AddressParamMiddleware validates the :address URL parameter on routes that use it.
func AddressParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		addr := c.Param("address")
		if addr != "" && !IsValidEthAddress(addr) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_address",
				"message": "address must be 0x + 40 hex chars",
			})
			return
		}
		c.Next()
	}
}

// ParamAddress reads an address path parameter, writing a 400 when it is malformed.
func ParamAddress(c *gin.Context, name string) (common.Address, bool) {
	raw := c.Param(name)
	if !IsValidEthAddress(raw) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_address",
			"message": name + " must be 0x + 40 hex chars",
		})
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

// ParamHash reads a task or batch id path parameter, writing a 400 when it is malformed.
func ParamHash(c *gin.Context, name string) (common.Hash, bool) {
	raw := c.Param(name)
	if !IsValidHash(raw) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_id",
			"message": name + " must be 0x + 64 hex chars",
		})
		return common.Hash{}, false
	}
	return common.HexToHash(raw), true
}

// BindJSON decodes the request body into v, writing a 400 on failure.
func BindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body: " + err.Error(),
		})
		return false
	}
	return true
}

// Limit parses the ?limit query parameter, falling back to def and capping at max.
func Limit(c *gin.Context, def, max int) int {
	limit := def
	if l := c.Query("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > max {
		limit = max
	}
	return limit
}

// WriteError maps a ledger error onto a JSON error response.
func WriteError(c *gin.Context, err error) {
	status, code := chain.Classify(err)
	if status >= http.StatusInternalServerError {
		logging.L(c.Request.Context()).Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}
