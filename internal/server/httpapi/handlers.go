package httpapi

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/akarpov87/schoolauth/internal/common"
	"github.com/akarpov87/schoolauth/internal/server/models"
	"github.com/akarpov87/schoolauth/internal/server/services"
)

type loginRequest struct {
	Username   string `json:"username" binding:"required"`
	Password   string `json:"password" binding:"required"`
	RememberMe bool   `json:"rememberMe"`
}

type registerRequest struct {
	Username  string `json:"username" binding:"required"`
	Email     string `json:"email" binding:"required,email"`
	Password  string `json:"password" binding:"required"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type refreshRequest struct {
	AccessToken  string `json:"accessToken" binding:"required"`
	RefreshToken string `json:"refreshToken" binding:"required"`
}

type logoutRequest struct {
	RefreshToken string `json:"refreshToken"`
	Scope        string `json:"scope"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" binding:"required"`
	NewPassword     string `json:"newPassword" binding:"required"`
	ConfirmPassword string `json:"confirmPassword" binding:"required"`
}

type userResponse struct {
	ID        string   `json:"id"`
	Username  string   `json:"username"`
	Email     string   `json:"email"`
	FirstName string   `json:"firstName"`
	LastName  string   `json:"lastName"`
	FullName  string   `json:"fullName"`
	Roles     []string `json:"roles"`
}

type authResponse struct {
	AccessToken           string       `json:"accessToken"`
	RefreshToken          string       `json:"refreshToken"`
	ExpiresIn             int          `json:"expiresIn"`
	RefreshTokenExpiresIn int          `json:"refreshTokenExpiresIn"`
	TokenType             string       `json:"tokenType"`
	User                  userResponse `json:"user"`
}

func newAuthResponse(res *services.AuthResult) authResponse {
	return authResponse{
		AccessToken:           res.AccessToken,
		RefreshToken:          res.RefreshToken,
		ExpiresIn:             res.ExpiresIn,
		RefreshTokenExpiresIn: res.RefreshTokenExpiresIn,
		TokenType:             res.TokenType,
		User: userResponse{
			ID:        res.User.ID,
			Username:  res.User.Username,
			Email:     res.User.Email,
			FirstName: res.User.FirstName,
			LastName:  res.User.LastName,
			FullName:  res.User.FullName(),
			Roles:     res.User.Roles,
		},
	}
}

func meta(c *gin.Context) services.RequestMeta {
	return services.RequestMeta{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
}

// statusFromKind maps the service error taxonomy onto HTTP status codes.
func statusFromKind(err error) int {
	switch common.KindOf(err) {
	case common.KindUnauthorized:
		return http.StatusUnauthorized
	case common.KindBadRequest:
		return http.StatusBadRequest
	case common.KindNotFound:
		return http.StatusNotFound
	case common.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusFromKind(err)
	if status == http.StatusInternalServerError {
		s.logger.Error(c.Request.Context(), "request failed", "path", c.FullPath(), "error", err.Error())
		c.JSON(status, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	res, err := s.auth.Login(c.Request.Context(), req.Username, req.Password, req.RememberMe, meta(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newAuthResponse(res))
}

func (s *Server) handleRegister(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	res, err := s.auth.Register(c.Request.Context(), services.RegisterRequest{
		Username:  req.Username,
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	}, meta(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newAuthResponse(res))
}

func (s *Server) handleRefresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	res, err := s.auth.Refresh(c.Request.Context(), req.AccessToken, req.RefreshToken, meta(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newAuthResponse(res))
}

func (s *Server) handleLogout(c *gin.Context) {
	claims := claimsFrom(c)

	// body is optional: no scope means CurrentBrowser
	var req logoutRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	err := s.auth.Logout(c.Request.Context(), claims.Subject, req.RefreshToken, models.LogoutScope(req.Scope))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "logged out successfully"})
}

func (s *Server) handleSessions(c *gin.Context) {
	claims := claimsFrom(c)

	sessions, err := s.auth.ActiveSessions(c.Request.Context(), claims.Subject, claims.ID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sessions)
}

func (s *Server) handleRevokeSession(c *gin.Context) {
	claims := claimsFrom(c)

	if err := s.auth.RevokeSession(c.Request.Context(), c.Param("id"), claims.Subject); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "session revoked"})
}

func (s *Server) handleChangePassword(c *gin.Context) {
	claims := claimsFrom(c)

	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if req.NewPassword != req.ConfirmPassword {
		c.JSON(http.StatusBadRequest, gin.H{"error": "passwords do not match"})
		return
	}

	err := s.auth.ChangePassword(c.Request.Context(), claims.Subject, req.CurrentPassword, req.NewPassword)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "password changed successfully, please log in again"})
}

func (s *Server) handleMe(c *gin.Context) {
	claims := claimsFrom(c)
	c.JSON(http.StatusOK, gin.H{
		"id":       claims.Subject,
		"username": claims.Username,
		"email":    claims.Email,
		"roles":    claims.Roles,
	})
}

func (s *Server) handleCheckUsername(c *gin.Context) {
	available, err := s.auth.IsUsernameAvailable(c.Request.Context(), c.Param("username"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"isAvailable": available})
}

func (s *Server) handleCheckEmail(c *gin.Context) {
	available, err := s.auth.IsEmailAvailable(c.Request.Context(), c.Param("email"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"isAvailable": available})
}
