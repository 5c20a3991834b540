package auth

import (
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/mbd888/computeledger/internal/chain"
)

const (
	// ContextKeyOrigin is the key for storing the request Origin in gin context
	ContextKeyOrigin = "ledgerOrigin"
	// HeaderCaller carries the authenticated caller address, set by the gateway in front of the node
	HeaderCaller = "X-Caller"
)

// Middleware resolves the request Origin.
// A bearer token matching the authority secret yields the root origin; an
// X-Caller address yields a signed origin; otherwise the origin is None.
func Middleware(authority *Authority) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token := bearerToken(c.GetHeader("Authorization")); token != "" {
			if !authority.Verify(token) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error":   "unauthorized",
					"message": "Invalid authority token",
				})
				return
			}
			c.Set(ContextKeyOrigin, authority.Origin())
			c.Next()
			return
		}

		if caller := c.GetHeader(HeaderCaller); caller != "" {
			if !common.IsHexAddress(caller) {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
					"error":   "invalid_caller",
					"message": "X-Caller must be a 0x-prefixed account address",
				})
				return
			}
			addr := common.HexToAddress(caller)
			if chain.IsModuleAccount(addr) {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
					"error":   "forbidden",
					"message": "X-Caller must not be a module account",
				})
				return
			}
			c.Set(ContextKeyOrigin, Signed(addr))
		}

		c.Next()
	}
}

// RequireSigned rejects requests without a caller account.
func RequireSigned() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := OriginFrom(c).Account(); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Caller required. Include the 'X-Caller: 0x...' header.",
			})
			return
		}
		c.Next()
	}
}

// RequireAuthority rejects requests that do not carry the authority token.
func RequireAuthority() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !OriginFrom(c).IsRoot() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "System authority required.",
			})
			return
		}
		c.Next()
	}
}

// OriginFrom returns the Origin resolved by Middleware.
func OriginFrom(c *gin.Context) Origin {
	if v, ok := c.Get(ContextKeyOrigin); ok {
		if o, ok := v.(Origin); ok {
			return o
		}
	}
	return None()
}

func bearerToken(h string) string {
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}
