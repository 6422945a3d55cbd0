package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/aman-churiwal/intelligent-api-gateway/internal/metrics"
	"github.com/aman-churiwal/intelligent-api-gateway/internal/middleware"
	"github.com/aman-churiwal/intelligent-api-gateway/internal/service"
	"github.com/gin-gonic/gin"
)

// AuthHandler serves the login and identity endpoints. The service is nil
// when no user store is configured; login then answers 503.
type AuthHandler struct {
	service *service.AuthService
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewAuthHandler(svc *service.AuthService, m *metrics.Metrics, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{
		service: svc,
		metrics: m,
		logger:  logger.With("component", "auth-handler"),
	}
}

type loginRequest struct {
	Username string `form:"username" json:"username" binding:"required"`
	Password string `form:"password" json:"password" binding:"required"`
}

// Token exchanges a username and password for an access token. It accepts
// a form post or a JSON body.
func (h *AuthHandler) Token(c *gin.Context) {
	if h.service == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "login is not configured"})
		return
	}

	var req loginRequest
	if err := c.ShouldBind(&req); err != nil {
		h.observe("invalid_request")
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}

	token, err := h.service.Login(c.Request.Context(), req.Username, req.Password)
	if errors.Is(err, service.ErrInvalidCredentials) {
		h.observe("rejected")
		c.Header("WWW-Authenticate", "Bearer")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Incorrect username or password"})
		return
	}
	if err != nil {
		h.observe("error")
		h.logger.Error("Login failed", "username", req.Username, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}

	h.observe("success")
	c.JSON(http.StatusOK, token)
}

// Me returns the caller. With a user store it is the stored user record,
// otherwise the validated token claims.
func (h *AuthHandler) Me(c *gin.Context) {
	identity, ok := middleware.GetIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Could not validate credentials"})
		return
	}

	if h.service == nil {
		c.JSON(http.StatusOK, gin.H{
			"username":   identity.Subject,
			"claims":     identity.Claims,
			"expires_at": identity.ExpiresAt,
		})
		return
	}

	user, err := h.service.GetUser(c.Request.Context(), identity.Subject)
	if err != nil {
		h.logger.Error("User lookup failed", "username", identity.Subject, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "user lookup failed"})
		return
	}
	if user == nil || !user.IsActive {
		c.Header("WWW-Authenticate", "Bearer")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Could not validate credentials"})
		return
	}

	c.JSON(http.StatusOK, user)
}

func (h *AuthHandler) observe(result string) {
	if h.metrics != nil {
		h.metrics.LoginAttempts.WithLabelValues(result).Inc()
	}
}
