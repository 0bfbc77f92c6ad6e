package server

import (
	"net/http"

	"github.com/cloudstore/cloudstore-go/pkg/middleware"
	"github.com/gin-gonic/gin"
)

// me records the caller's profile from its token claims and returns it.
func (s *Server) me(c *gin.Context) {
	claims := middleware.Claims(c)
	u, err := s.users.UpsertFromClaims(c.Request.Context(), claims)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if u == nil {
		c.JSON(http.StatusOK, gin.H{"claims": claims})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u})
}
