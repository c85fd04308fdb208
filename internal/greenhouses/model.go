package greenhouses

import (
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/MarcoPoloResearchLab/greenhouse/internal/grafanaurl"
	"github.com/MarcoPoloResearchLab/greenhouse/internal/layout"
)

const (
	// MaxDescriptionLength bounds a greenhouse description in characters.
	MaxDescriptionLength = 100
	// MinPanelDimension is the smallest accepted panel width or height in pixels.
	MinPanelDimension = 200
	// DefaultPanelWidth is assigned to newly added panels.
	DefaultPanelWidth = 350
	// DefaultPanelHeight is assigned to newly added panels.
	DefaultPanelHeight = 200
	// DefaultMaxPanelWidth caps edited panel widths unless configured otherwise.
	DefaultMaxPanelWidth = 1920
	// DefaultMaxPanelHeight caps edited panel heights unless configured otherwise.
	DefaultMaxPanelHeight = 1080

	primaryPanelName = "Primary Panel"
)

// Greenhouse is a user's dashboard card with its embedded panels.
type Greenhouse struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Order       int     `json:"order"`
	Panels      []Panel `json:"panels"`
}

// OrderID exposes the identity used by the ordering package.
func (g Greenhouse) OrderID() string {
	return g.ID
}

// OrderValue exposes the order slot used by the ordering package.
func (g Greenhouse) OrderValue() int {
	return g.Order
}

// Clone returns a copy that shares no panel storage with the receiver.
func (g Greenhouse) Clone() Greenhouse {
	clone := g
	clone.Panels = slices.Clone(g.Panels)
	return clone
}

// PanelSizes lists panel dimensions in panel order for the layout planner.
func (g Greenhouse) PanelSizes() []layout.Size {
	sizes := make([]layout.Size, 0, len(g.Panels))
	for _, panel := range g.Panels {
		sizes = append(sizes, layout.Size{Width: panel.Width, Height: panel.Height})
	}
	return sizes
}

// Panel is an embedded dashboard panel.
type Panel struct {
	URL         string `json:"url"`
	DisplayName string `json:"display_name"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
}

// DefaultPanelName returns the positional name of the panel at index.
func DefaultPanelName(index int) string {
	if index == 0 {
		return primaryPanelName
	}
	return fmt.Sprintf("Panel %d", index+1)
}

// Input carries user-supplied greenhouse fields for create and update.
type Input struct {
	Title       string
	Description string
	// Order is only honoured by Update; Create always appends.
	Order *int
	// GrafanaURL optionally sets the primary panel from a URL or iframe snippet.
	GrafanaURL string
	// Panels replaces the whole panel list when non-nil.
	Panels []Panel
}

// PanelEdit carries the editable attributes of one panel. Nil fields are left as they are.
type PanelEdit struct {
	DisplayName string
	URL         *string
	Width       *int
	Height      *int
}

// PanelLimits caps edited panel dimensions.
type PanelLimits struct {
	MaxWidth  int
	MaxHeight int
}

func (l PanelLimits) withDefaults() PanelLimits {
	if l.MaxWidth < MinPanelDimension {
		l.MaxWidth = DefaultMaxPanelWidth
	}
	if l.MaxHeight < MinPanelDimension {
		l.MaxHeight = DefaultMaxPanelHeight
	}
	return l
}

// ValidationError reports a user input problem detected before any store call.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("greenhouses: invalid %s: %s", e.Field, e.Message)
}

func newValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

func validateTitle(title string) (string, error) {
	trimmed := strings.TrimSpace(title)
	if trimmed == "" {
		return "", newValidationError("title", "Title is required.")
	}
	return trimmed, nil
}

func validateDescription(description string) (string, error) {
	if utf8.RuneCountInString(description) > MaxDescriptionLength {
		return "", newValidationError("description", fmt.Sprintf("Description must be at most %d characters.", MaxDescriptionLength))
	}
	return description, nil
}

func normalizePanelURL(field, raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", newValidationError(field, "Please enter a panel URL.")
	}
	normalized, ok := grafanaurl.Normalize(raw, grafanaurl.Options{AddTimeRange: true})
	if !ok {
		return "", newValidationError(field, "Invalid URL. Paste the iframe src or a full URL.")
	}
	return normalized, nil
}

func validatePanels(panels []Panel) ([]Panel, error) {
	out := make([]Panel, 0, len(panels))
	for index, panel := range panels {
		normalized, err := normalizePanelURL(fmt.Sprintf("panels[%d].url", index), panel.URL)
		if err != nil {
			return nil, err
		}
		name := strings.TrimSpace(panel.DisplayName)
		if name == "" {
			name = DefaultPanelName(index)
		}
		out = append(out, Panel{
			URL:         normalized,
			DisplayName: name,
			Width:       atLeastMinimum(panel.Width, DefaultPanelWidth),
			Height:      atLeastMinimum(panel.Height, DefaultPanelHeight),
		})
	}
	return out, nil
}

// atLeastMinimum substitutes fallback for unset values and raises the rest to the minimum.
func atLeastMinimum(value, fallback int) int {
	if value == 0 {
		value = fallback
	}
	return max(value, MinPanelDimension)
}

func clampDimension(value, upper int) int {
	if value <= 0 {
		value = MinPanelDimension
	}
	return min(max(value, MinPanelDimension), upper)
}
