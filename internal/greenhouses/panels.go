package greenhouses

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"
)

// AddPanel appends a panel built from a URL or iframe snippet.
func (c *Collection) AddPanel(ctx context.Context, id string, rawURL string) (Greenhouse, Outcome, error) {
	panelURL, err := normalizePanelURL("url", rawURL)
	if err != nil {
		return Greenhouse{}, Outcome{}, err
	}
	return c.mutatePanels(ctx, opAddPanel, id, "Panel added", "Failed to save panel", func(panels []Panel) ([]Panel, error) {
		return append(panels, Panel{
			URL:         panelURL,
			DisplayName: DefaultPanelName(len(panels)),
			Width:       DefaultPanelWidth,
			Height:      DefaultPanelHeight,
		}), nil
	})
}

// EditPanel changes the supplied attributes of one panel. A nil URL or size keeps
// the current value, as does a blank name. Supplied sizes are clamped to the
// configured bounds.
func (c *Collection) EditPanel(ctx context.Context, id string, index int, edit PanelEdit) (Greenhouse, Outcome, error) {
	panelURL := ""
	if edit.URL != nil {
		normalized, err := normalizePanelURL("url", *edit.URL)
		if err != nil {
			return Greenhouse{}, Outcome{}, err
		}
		panelURL = normalized
	}
	return c.mutatePanels(ctx, opEditPanel, id, "Panel updated", "Failed to update panel", func(panels []Panel) ([]Panel, error) {
		if index < 0 || index >= len(panels) {
			return nil, fmt.Errorf("%w: %d", ErrPanelNotFound, index)
		}
		panel := panels[index]
		if name := strings.TrimSpace(edit.DisplayName); name != "" {
			panel.DisplayName = name
		}
		if edit.URL != nil {
			panel.URL = panelURL
		}
		if edit.Width != nil {
			panel.Width = clampDimension(*edit.Width, c.limits.MaxWidth)
		}
		if edit.Height != nil {
			panel.Height = clampDimension(*edit.Height, c.limits.MaxHeight)
		}
		panels[index] = panel
		return panels, nil
	})
}

// ResizePanel sets the supplied dimensions of a panel, raising values below the
// minimum. A nil dimension keeps the current one.
func (c *Collection) ResizePanel(ctx context.Context, id string, index int, width, height *int) (Greenhouse, Outcome, error) {
	if width == nil && height == nil {
		return Greenhouse{}, Outcome{}, newValidationError("size", "Width or height is required.")
	}
	return c.mutatePanels(ctx, opResizePanel, id, "", "Failed to save panel sizes", func(panels []Panel) ([]Panel, error) {
		if index < 0 || index >= len(panels) {
			return nil, fmt.Errorf("%w: %d", ErrPanelNotFound, index)
		}
		if width != nil {
			panels[index].Width = max(*width, MinPanelDimension)
		}
		if height != nil {
			panels[index].Height = max(*height, MinPanelDimension)
		}
		return panels, nil
	})
}

// RemovePanel drops a panel; later panels shift down one index with their sizes.
// Positional default names follow the new index.
func (c *Collection) RemovePanel(ctx context.Context, id string, index int) (Greenhouse, Outcome, error) {
	return c.mutatePanels(ctx, opRemovePanel, id, "Panel removed", "Failed to remove panel", func(panels []Panel) ([]Panel, error) {
		if index < 0 || index >= len(panels) {
			return nil, fmt.Errorf("%w: %d", ErrPanelNotFound, index)
		}
		panels = slices.Delete(panels, index, index+1)
		for position := index; position < len(panels); position++ {
			if panels[position].DisplayName == DefaultPanelName(position+1) {
				panels[position].DisplayName = DefaultPanelName(position)
			}
		}
		return panels, nil
	})
}

// mutatePanels persists the greenhouse with change applied to its panels. A store
// failure still applies the change locally.
func (c *Collection) mutatePanels(
	ctx context.Context,
	operation string,
	id string,
	successMessage string,
	failureMessage string,
	change func([]Panel) ([]Panel, error),
) (Greenhouse, Outcome, error) {
	release, err := c.acquire(id)
	if err != nil {
		return Greenhouse{}, Outcome{}, err
	}
	defer release()

	current, found := c.Find(id)
	if !found {
		return Greenhouse{}, Outcome{}, fmt.Errorf("%w: %s", ErrGreenhouseNotFound, id)
	}
	panels, err := change(slices.Clone(current.Panels))
	if err != nil {
		return Greenhouse{}, Outcome{}, err
	}
	next := current.Clone()
	next.Panels = panels

	record, err := c.store.Update(ctx, c.name, id, next.fullPatch())
	if err != nil {
		c.mu.Lock()
		c.upsertLocked(next)
		c.mu.Unlock()

		c.logDegraded(operation, err, zap.String("greenhouse_id", id))
		c.notify(NoticeError, failureMessage)
		outcome := LocalOnly(backendUnavailable(err))
		c.observe(operation, outcome)
		return next.Clone(), outcome, nil
	}

	stored := c.fromRecord(operation, record)
	c.mu.Lock()
	c.upsertLocked(stored)
	c.sortLocked()
	c.mu.Unlock()

	if successMessage != "" {
		c.notify(NoticeSuccess, successMessage)
	}
	outcome := Confirmed(record)
	c.observe(operation, outcome)
	return stored.Clone(), outcome, nil
}
