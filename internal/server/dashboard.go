package server

import (
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/greenhouse/internal/greenhouses"
	"github.com/MarcoPoloResearchLab/greenhouse/internal/users"
	"github.com/MarcoPoloResearchLab/greenhouse/internal/weather"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type locationView struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	City      string  `json:"city,omitempty"`
}

type dashboardResponse struct {
	Greenhouses  []greenhouses.Greenhouse `json:"greenhouses"`
	Location     *locationView            `json:"location"`
	Weather      *weather.Reading         `json:"weather"`
	WeatherError string                   `json:"weather_error,omitempty"`
}

// handleDashboard returns the greenhouse list alongside current weather for the
// user's saved location. Weather failures degrade to an error string.
func (h *httpHandler) handleDashboard(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	collection, err := h.registry.ForUser(userID)
	if err != nil {
		h.logger.Error("failed to resolve collection", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "collection_unavailable"})
		return
	}

	var response dashboardResponse
	group, ctx := errgroup.WithContext(c.Request.Context())
	group.Go(func() error {
		if !collection.Loaded() {
			if _, err := collection.Load(ctx); err != nil {
				return err
			}
		}
		response.Greenhouses = collection.List()
		return nil
	})
	group.Go(func() error {
		prefs, found, err := h.users.Preferences(ctx, userID)
		if err != nil {
			h.logger.Warn("failed to load preferences", zap.String("user_id", userID), zap.Error(err))
			response.WeatherError = "preferences_unavailable"
			return nil
		}
		if !found || !prefs.HasLocation() {
			return nil
		}
		response.Location = &locationView{Latitude: *prefs.Latitude, Longitude: *prefs.Longitude, City: prefs.City}
		if h.weather == nil {
			return nil
		}
		reading, err := h.weather.Current(ctx, *prefs.Latitude, *prefs.Longitude)
		if err != nil {
			h.logger.Warn("weather lookup failed", zap.String("user_id", userID), zap.Error(err))
			response.WeatherError = weatherErrorCode(err)
			return nil
		}
		response.Weather = &reading
		return nil
	})
	if err := group.Wait(); err != nil {
		writeServiceError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, response)
}

func weatherErrorCode(err error) string {
	if errors.Is(err, weather.ErrNoCurrentData) {
		return "no_current_data"
	}
	return "weather_unavailable"
}

type preferencesPayload struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	City      string   `json:"city"`
}

func (h *httpHandler) handleGetPreferences(c *gin.Context) {
	prefs, found, err := h.users.Preferences(c.Request.Context(), c.GetString(userIDContextKey))
	if err != nil {
		h.logger.Error("failed to load preferences", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "preferences_unavailable"})
		return
	}
	if !found {
		c.JSON(http.StatusOK, gin.H{"preferences": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"preferences": prefs})
}

func (h *httpHandler) handleSavePreferences(c *gin.Context) {
	var payload preferencesPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	saved, err := h.users.SavePreferences(c.Request.Context(), c.GetString(userIDContextKey), users.Preferences{
		Latitude:  payload.Latitude,
		Longitude: payload.Longitude,
		City:      payload.City,
	})
	if err != nil {
		if errors.Is(err, users.ErrInvalidPreferences) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "validation_failed", "message": err.Error()})
			return
		}
		h.logger.Error("failed to save preferences", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "preferences_unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"preferences": saved})
}
