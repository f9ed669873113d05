package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"taskpilot/internal/service"
)

// AuthHandler expone el ciclo de registro, verificacion, login y reseteo.
type AuthHandler struct {
	logger *zap.Logger
	auth   *service.AuthService
}

func NewAuthHandler(logger *zap.Logger, auth *service.AuthService) *AuthHandler {
	return &AuthHandler{
		logger: logger,
		auth:   auth,
	}
}

// Register maneja POST /auth/register.
func (h *AuthHandler) Register(c *gin.Context) {
	var req struct {
		Name     string `json:"name" binding:"required,min=3,max=40"`
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required,min=8,max=40"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, "register", err)
		return
	}

	err := h.auth.Register(c.Request.Context(), service.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		if errors.Is(err, service.ErrDuplicateEmail) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "email address already in use"})
			return
		}
		respondError(c, h.logger, "register", err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": "verification email sent, please check your inbox"})
}

// VerifyEmail maneja POST /auth/verify-email.
func (h *AuthHandler) VerifyEmail(c *gin.Context) {
	var req struct {
		Token string `json:"token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, "verify email", err)
		return
	}

	if err := h.auth.VerifyEmail(c.Request.Context(), req.Token); err != nil {
		if errors.Is(err, service.ErrInvalidToken) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid token"})
			return
		}
		respondError(c, h.logger, "verify email", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "email verified successfully"})
}

// Login maneja POST /auth/login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, "login", err)
		return
	}

	res, err := h.auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidCredentials):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		case errors.Is(err, service.ErrEmailNotVerified):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "please verify your email address"})
		default:
			respondError(c, h.logger, "login", err)
		}
		return
	}
	if res.VerificationResent {
		c.JSON(http.StatusOK, gin.H{"message": "verification resent"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":      "login successful",
		"sessionToken": res.SessionToken,
		"user":         res.User,
	})
}

// RequestPasswordReset maneja POST /auth/reset-password-request.
func (h *AuthHandler) RequestPasswordReset(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required,email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, "reset password request", err)
		return
	}

	if err := h.auth.RequestPasswordReset(c.Request.Context(), req.Email); err != nil {
		switch {
		case errors.Is(err, service.ErrUserNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		case errors.Is(err, service.ErrUnverified):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "please verify your email address"})
		case errors.Is(err, service.ErrAlreadyPending):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "a password reset email was already sent"})
		default:
			respondError(c, h.logger, "reset password request", err)
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "password reset email sent"})
}

// ResetPassword maneja POST /auth/reset-password.
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req struct {
		Password string `json:"password" binding:"required,min=8,max=40"`
		Token    string `json:"token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, "reset password", err)
		return
	}

	if err := h.auth.ResetPassword(c.Request.Context(), req.Password, req.Token); err != nil {
		switch {
		case errors.Is(err, service.ErrUnauthorized), errors.Is(err, service.ErrUnverified):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		case errors.Is(err, service.ErrUserNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		case errors.Is(err, service.ErrSamePassword):
			c.JSON(http.StatusBadRequest, gin.H{"error": "new password cannot be the same as the old one"})
		default:
			respondError(c, h.logger, "reset password", err)
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "password reset successfully"})
}

// ResendVerification maneja POST /auth/resend-verification.
func (h *AuthHandler) ResendVerification(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required,email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, "resend verification", err)
		return
	}

	if err := h.auth.ResendVerification(c.Request.Context(), req.Email); err != nil {
		if errors.Is(err, service.ErrAlreadyPending) {
			c.JSON(http.StatusConflict, gin.H{"error": "another request is already pending"})
			return
		}
		respondError(c, h.logger, "resend verification", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "verification email sent"})
}

// Logout maneja POST /auth/logout. Requiere SessionAuthMiddleware.
func (h *AuthHandler) Logout(c *gin.Context) {
	token, _ := GetSessionToken(c)
	if err := h.auth.Logout(c.Request.Context(), token); err != nil {
		respondError(c, h.logger, "logout", err)
		return
	}
	c.Status(http.StatusNoContent)
}
