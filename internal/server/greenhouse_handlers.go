package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/greenhouse/internal/greenhouses"
	"github.com/MarcoPoloResearchLab/greenhouse/internal/layout"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type greenhousePayload struct {
	Title       *string             `json:"title"`
	Description *string             `json:"description"`
	Order       *int                `json:"order"`
	GrafanaURL  string              `json:"grafana_url"`
	Panels      []greenhouses.Panel `json:"panels"`
}

// input converts the payload, taking omitted text fields from current.
func (p greenhousePayload) input(current greenhouses.Greenhouse) greenhouses.Input {
	input := greenhouses.Input{
		Title:       current.Title,
		Description: current.Description,
		Order:       p.Order,
		GrafanaURL:  p.GrafanaURL,
		Panels:      p.Panels,
	}
	if p.Title != nil {
		input.Title = *p.Title
	}
	if p.Description != nil {
		input.Description = *p.Description
	}
	return input
}

type panelPayload struct {
	DisplayName string  `json:"display_name"`
	URL         *string `json:"url"`
	Width       *int    `json:"width"`
	Height      *int    `json:"height"`
}

func (p panelPayload) empty() bool {
	return p.URL == nil && strings.TrimSpace(p.DisplayName) == "" && p.Width == nil && p.Height == nil
}

// mutationResponse renders local state after a mutation. Degraded marks a change the
// record store did not accept.
type mutationResponse struct {
	Greenhouse     *greenhouses.Greenhouse `json:"greenhouse,omitempty"`
	Degraded       bool                    `json:"degraded"`
	SwapIncomplete bool                    `json:"swap_incomplete,omitempty"`
}

func newMutationResponse(greenhouse *greenhouses.Greenhouse, outcome greenhouses.Outcome) mutationResponse {
	return mutationResponse{
		Greenhouse:     greenhouse,
		Degraded:       !outcome.IsConfirmed(),
		SwapIncomplete: errors.Is(outcome.Reason(), greenhouses.ErrSwapIncomplete),
	}
}

func (h *httpHandler) handleListGreenhouses(c *gin.Context) {
	collection, ok := h.userCollection(c)
	if !ok {
		return
	}
	if c.Query("refresh") == "true" {
		if _, err := collection.Load(c.Request.Context()); err != nil {
			writeServiceError(c, h.logger, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"greenhouses": collection.List()})
}

func (h *httpHandler) handleCreateGreenhouse(c *gin.Context) {
	var payload greenhousePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	collection, ok := h.userCollection(c)
	if !ok {
		return
	}
	created, outcome, err := collection.Create(c.Request.Context(), payload.input(greenhouses.Greenhouse{}))
	if err != nil {
		writeServiceError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, newMutationResponse(&created, outcome))
}

func (h *httpHandler) handleGetGreenhouse(c *gin.Context) {
	collection, ok := h.userCollection(c)
	if !ok {
		return
	}
	id := c.Param("id")
	greenhouse, err := collection.Get(c.Request.Context(), id)
	if err == nil {
		c.JSON(http.StatusOK, gin.H{"greenhouse": greenhouse, "degraded": false})
		return
	}
	if !errors.Is(err, greenhouses.ErrGreenhouseNotFound) {
		if local, found := collection.Find(id); found {
			h.logger.Warn("serving greenhouse from local state", zap.String("greenhouse_id", id), zap.Error(err))
			c.JSON(http.StatusOK, gin.H{"greenhouse": local, "degraded": true})
			return
		}
	}
	writeServiceError(c, h.logger, err)
}

func (h *httpHandler) handleUpdateGreenhouse(c *gin.Context) {
	var payload greenhousePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	collection, ok := h.userCollection(c)
	if !ok {
		return
	}
	id := c.Param("id")
	current, found := collection.Find(id)
	if !found {
		writeServiceError(c, h.logger, greenhouses.ErrGreenhouseNotFound)
		return
	}
	updated, outcome, err := collection.Update(c.Request.Context(), id, payload.input(current))
	if err != nil {
		writeServiceError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, newMutationResponse(&updated, outcome))
}

func (h *httpHandler) handleDeleteGreenhouse(c *gin.Context) {
	if c.Query("confirm") != "true" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "confirmation_required"})
		return
	}
	collection, ok := h.userCollection(c)
	if !ok {
		return
	}
	outcome, err := collection.Delete(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeServiceError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, newMutationResponse(nil, outcome))
}

func (h *httpHandler) handleAvailableOrders(c *gin.Context) {
	collection, ok := h.userCollection(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": collection.AvailableOrders()})
}

func (h *httpHandler) handleLayout(c *gin.Context) {
	width := layout.DefaultRowWidth
	if raw := c.Query("width"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_width"})
			return
		}
		width = parsed
	}
	collection, ok := h.userCollection(c)
	if !ok {
		return
	}
	rows, err := collection.Layout(c.Param("id"), width)
	if err != nil {
		writeServiceError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"width": width, "rows": rows})
}

func (h *httpHandler) handleAddPanel(c *gin.Context) {
	var payload panelPayload
	if err := c.ShouldBindJSON(&payload); err != nil || payload.URL == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	collection, ok := h.userCollection(c)
	if !ok {
		return
	}
	updated, outcome, err := collection.AddPanel(c.Request.Context(), c.Param("id"), *payload.URL)
	if err != nil {
		writeServiceError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, newMutationResponse(&updated, outcome))
}

// handleEditPanel edits a panel when a URL or name is supplied and only resizes it
// otherwise. Omitted fields keep their current values.
func (h *httpHandler) handleEditPanel(c *gin.Context) {
	index, ok := panelIndex(c)
	if !ok {
		return
	}
	var payload panelPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if payload.empty() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty_panel_edit"})
		return
	}
	collection, ok := h.userCollection(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	id := c.Param("id")

	var (
		updated greenhouses.Greenhouse
		outcome greenhouses.Outcome
		err     error
	)
	if payload.URL == nil && strings.TrimSpace(payload.DisplayName) == "" {
		updated, outcome, err = collection.ResizePanel(ctx, id, index, payload.Width, payload.Height)
	} else {
		updated, outcome, err = collection.EditPanel(ctx, id, index, greenhouses.PanelEdit{
			DisplayName: payload.DisplayName,
			URL:         payload.URL,
			Width:       payload.Width,
			Height:      payload.Height,
		})
	}
	if err != nil {
		writeServiceError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, newMutationResponse(&updated, outcome))
}

func (h *httpHandler) handleRemovePanel(c *gin.Context) {
	index, ok := panelIndex(c)
	if !ok {
		return
	}
	collection, ok := h.userCollection(c)
	if !ok {
		return
	}
	updated, outcome, err := collection.RemovePanel(c.Request.Context(), c.Param("id"), index)
	if err != nil {
		writeServiceError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, newMutationResponse(&updated, outcome))
}

func panelIndex(c *gin.Context) (int, bool) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_panel_index"})
		return 0, false
	}
	return index, true
}

// writeServiceError maps collection errors onto HTTP responses.
func writeServiceError(c *gin.Context, logger *zap.Logger, err error) {
	var validation *greenhouses.ValidationError
	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "validation_failed",
			"field":   validation.Field,
			"message": validation.Message,
		})
	case errors.Is(err, greenhouses.ErrGreenhouseNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "greenhouse_not_found"})
	case errors.Is(err, greenhouses.ErrPanelNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "panel_not_found"})
	case errors.Is(err, greenhouses.ErrOperationInFlight):
		c.JSON(http.StatusConflict, gin.H{"error": "operation_in_flight"})
	default:
		code := "record_store_failed"
		var serviceErr *greenhouses.ServiceError
		if errors.As(err, &serviceErr) {
			code = serviceErr.Code()
		}
		logger.Error("greenhouse request failed", zap.String("code", code), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": code})
	}
}
