package rest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/KevinKickass/OpenTransportCore/internal/auth"
	"github.com/KevinKickass/OpenTransportCore/internal/types"
)

// POST /api/v1/auth/token
func (s *Server) issueToken(c *gin.Context) {
	if !s.authService.Enabled() {
		c.JSON(http.StatusNotFound, types.NewErrorResponse(types.CodeAuth, "Authentication is disabled", nil))
		return
	}

	var req types.TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	token, expiresAt, err := s.authService.IssueToken(req.Client, req.Secret)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, types.NewErrorResponse(types.CodeAuth, "Invalid client credentials", nil))
			return
		}
		s.respondError(c, "Failed to issue token", err)
		return
	}

	c.JSON(http.StatusOK, types.TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   expiresAt.Unix(),
	})
}
