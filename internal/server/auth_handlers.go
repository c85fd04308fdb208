package server

import (
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/greenhouse/internal/auth"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (h *httpHandler) handleLogin(c *gin.Context) {
	storage, ok := browserStorage(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "browser_storage_failed"})
		return
	}
	authURL, err := h.gateway.BeginLogin(c.Request.Context(), storage, h.origin)
	if err != nil {
		status, code := authErrorStatus(err)
		if status == http.StatusBadGateway {
			h.logger.Error("failed to begin login", zap.Error(err))
		}
		c.JSON(status, gin.H{"error": code})
		return
	}
	c.Redirect(http.StatusFound, authURL)
}

func (h *httpHandler) handleCallback(c *gin.Context) {
	storage, ok := browserStorage(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "browser_storage_failed"})
		return
	}
	ctx := c.Request.Context()
	session, err := h.gateway.CompleteLogin(ctx, storage, h.origin, c.Request.URL.Query())
	if errors.Is(err, auth.ErrNoCallback) {
		c.Redirect(http.StatusFound, h.origin+"/")
		return
	}
	if err != nil {
		status, code := authErrorStatus(err)
		h.logger.Info("login callback rejected", zap.String("reason", code), zap.Error(err))
		c.JSON(status, gin.H{"error": code})
		return
	}

	userID := session.UserID()
	if _, err := h.users.RecordLogin(ctx, h.providerName, session.Record); err != nil {
		h.logger.Warn("failed to record login", zap.String("user_id", userID), zap.Error(err))
	}
	h.registry.Forget(userID)
	c.Redirect(http.StatusFound, h.origin+"/")
}

func (h *httpHandler) handleLogout(c *gin.Context) {
	storage, ok := browserStorage(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "browser_storage_failed"})
		return
	}
	ctx := c.Request.Context()
	if session, ok := h.gateway.Restore(ctx, storage); ok {
		h.registry.Forget(session.UserID())
	}
	redirect := h.gateway.Logout(ctx, storage, h.origin)
	c.JSON(http.StatusOK, gin.H{"redirect": redirect})
}

type sessionResponse struct {
	Authenticated bool             `json:"authenticated"`
	User          *auth.UserRecord `json:"user,omitempty"`
}

func (h *httpHandler) handleSession(c *gin.Context) {
	storage, ok := browserStorage(c)
	if !ok {
		c.JSON(http.StatusOK, sessionResponse{})
		return
	}
	session, ok := h.gateway.Restore(c.Request.Context(), storage)
	if !ok {
		c.JSON(http.StatusOK, sessionResponse{})
		return
	}
	record := session.Record
	c.JSON(http.StatusOK, sessionResponse{Authenticated: true, User: &record})
}

func authErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrStateMismatch):
		return http.StatusUnauthorized, "state_mismatch"
	case errors.Is(err, auth.ErrMissingProvider):
		return http.StatusUnauthorized, "missing_provider"
	case errors.Is(err, auth.ErrProviderNotConfigured):
		return http.StatusUnauthorized, "provider_not_configured"
	case errors.Is(err, auth.ErrInvalidAuthURL):
		return http.StatusUnauthorized, "invalid_auth_url"
	case errors.Is(err, auth.ErrCodeExchange):
		return http.StatusUnauthorized, "code_exchange_failed"
	default:
		return http.StatusBadGateway, "identity_provider_unavailable"
	}
}
