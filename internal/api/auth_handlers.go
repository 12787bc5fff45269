package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nexasecurity/nexasec/internal/auth"
	"github.com/nexasecurity/nexasec/internal/data/model"
)

type registerRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	FullName string `json:"full_name"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenResponse struct {
	User *model.User `json:"user,omitempty"`
	auth.TokenPair
}

func bind(c *gin.Context, v interface{}) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		writeError(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return false
	}
	return true
}

func (s *Server) register(c *gin.Context) {
	var req registerRequest
	if !bind(c, &req) {
		return
	}
	user, err := s.deps.Auth.Register(c.Request.Context(), req.Email, req.Password, req.FullName)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

func (s *Server) login(c *gin.Context) {
	var req loginRequest
	if !bind(c, &req) {
		return
	}
	user, pair, err := s.deps.Auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		writeError(c, err)
		return
	}
	setAccessCookie(c, pair.AccessToken, pair.ExpiresAt, s.deps.SecureCookies)
	c.JSON(http.StatusOK, tokenResponse{User: user, TokenPair: pair})
}

func (s *Server) refresh(c *gin.Context) {
	var req refreshRequest
	if !bind(c, &req) {
		return
	}
	pair, err := s.deps.Auth.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		writeError(c, err)
		return
	}
	setAccessCookie(c, pair.AccessToken, pair.ExpiresAt, s.deps.SecureCookies)
	c.JSON(http.StatusOK, tokenResponse{TokenPair: pair})
}

// logout revokes whatever tokens the client presents. It succeeds without any.
func (s *Server) logout(c *gin.Context) {
	var req logoutRequest
	if c.Request.ContentLength > 0 && !bind(c, &req) {
		return
	}
	if err := s.deps.Auth.Logout(c.Request.Context(), accessToken(c), req.RefreshToken); err != nil {
		writeError(c, err)
		return
	}
	clearAccessCookie(c, s.deps.SecureCookies)
	c.Status(http.StatusNoContent)
}

func (s *Server) me(c *gin.Context) {
	c.JSON(http.StatusOK, currentUser(c))
}
