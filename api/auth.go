package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/osmcha/osmcha/errs"
	"github.com/osmcha/osmcha/store"
)

const userKey = "user"

// authenticate resolves a bearer token to a store user. Requests
// without a token stay anonymous; unknown tokens are rejected.
func (s *Server) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Next()
			return
		}
		token := strings.TrimPrefix(header, "Bearer ")
		token = strings.TrimPrefix(token, "Token ")
		user, err := s.store.GetUserByToken(c.Request.Context(), token)
		if err != nil {
			if errs.Is(err, errs.KindNotFound) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "invalid token"})
				return
			}
			apiError(c, err)
			return
		}
		c.Set(userKey, user)
		c.Next()
	}
}

func currentUser(c *gin.Context) *store.User {
	if v, ok := c.Get(userKey); ok {
		return v.(*store.User)
	}
	return nil
}

func (s *Server) requireAuth(c *gin.Context) {
	if currentUser(c) == nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "authentication required"})
	}
}

func (s *Server) requireStaff(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "authentication required"})
		return
	}
	if !user.IsStaff {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"detail": "staff only"})
	}
}
