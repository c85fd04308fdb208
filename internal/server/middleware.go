package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/greenhouse/internal/auth"
	"github.com/MarcoPoloResearchLab/greenhouse/internal/greenhouses"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// resolveBrowser attaches the browser's storage, issuing a fresh browser cookie when
// the request carries none or an invalid one.
func (h *httpHandler) resolveBrowser(c *gin.Context) {
	browserID := ""
	claims, err := h.validator.ValidateRequest(c.Request)
	switch {
	case err == nil:
		browserID = claims.BrowserID
	case errors.Is(err, auth.ErrMissingSessionToken), errors.Is(err, auth.ErrExpiredSessionToken):
		h.logger.Debug("issuing browser cookie", zap.Error(err))
	default:
		h.logger.Warn("browser cookie rejected", zap.Error(err))
	}

	if browserID == "" {
		browserID = uuid.NewString()
		token, expiresAt, err := h.tokens.IssueBrowserToken(c.Request.Context(), browserID)
		if err != nil {
			h.logger.Error("failed to issue browser cookie", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "browser_cookie_failed"})
			return
		}
		maxAge := int(expiresAt.Sub(h.clock()) / time.Second)
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(h.validator.CookieName(), token, maxAge, "/", "", h.secureCookies, true)
	}

	storage, err := h.browsers.ForBrowser(browserID)
	if err != nil {
		h.logger.Error("failed to open browser storage", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "browser_storage_failed"})
		return
	}
	c.Set(storageContextKey, storage)
	c.Next()
}

// requireSession restores the browser's session and attaches it to the request
// context for the record store client.
func (h *httpHandler) requireSession(c *gin.Context) {
	storage, ok := browserStorage(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	session, ok := h.gateway.Restore(c.Request.Context(), storage)
	if !ok || session.UserID() == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Request = c.Request.WithContext(auth.ContextWithSession(c.Request.Context(), session))
	c.Set(userIDContextKey, session.UserID())
	c.Next()
}

func browserStorage(c *gin.Context) (auth.Storage, bool) {
	value, exists := c.Get(storageContextKey)
	if !exists {
		return nil, false
	}
	storage, ok := value.(auth.Storage)
	return storage, ok
}

// userCollection returns the signed-in user's collection, loading it from the record
// store on first use.
func (h *httpHandler) userCollection(c *gin.Context) (*greenhouses.Collection, bool) {
	collection, err := h.registry.ForUser(c.GetString(userIDContextKey))
	if err != nil {
		h.logger.Error("failed to resolve collection", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "collection_unavailable"})
		return nil, false
	}
	if collection.Loaded() {
		return collection, true
	}
	if _, err := collection.Load(c.Request.Context()); err != nil {
		writeServiceError(c, h.logger, err)
		return nil, false
	}
	return collection, true
}
