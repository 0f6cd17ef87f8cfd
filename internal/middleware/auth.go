package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const fidContextKey = "fid"

// Auth resolves the calling player's fid from a bearer token, falling back
// to the X-User-FID header for trusted internal calls.
func Auth(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if fid, ok := fidFromToken(c, jwtSecret); ok {
			c.Set(fidContextKey, fid)
			c.Next()
			return
		}

		if header := c.GetHeader("X-User-FID"); header != "" {
			fid, err := strconv.ParseInt(header, 10, 64)
			if err == nil && fid > 0 {
				c.Set(fidContextKey, fid)
				c.Next()
				return
			}
		}

		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
	}
}

func fidFromToken(c *gin.Context, jwtSecret string) (int64, bool) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return 0, false
	}
	tokenString := strings.TrimPrefix(header, "Bearer ")

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(jwtSecret), nil
	})
	if err != nil || !token.Valid {
		return 0, false
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, false
	}
	raw, ok := claims["fid"]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return int64(v), true
	case string:
		fid, err := strconv.ParseInt(v, 10, 64)
		return fid, err == nil
	default:
		return 0, false
	}
}

// FID returns the authenticated player's fid, or 0 when the request was not
// authenticated.
func FID(c *gin.Context) int64 {
	if v, ok := c.Get(fidContextKey); ok {
		if fid, ok := v.(int64); ok {
			return fid
		}
	}
	return 0
}
