package greenhouses

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const collectionSuffix = "_greenhouses"

// ErrRecordNotFound is returned (or wrapped) by record stores for unknown identifiers.
var ErrRecordNotFound = errors.New("greenhouses: record not found")

// RecordStore is the external record API, addressed by collection name.
type RecordStore interface {
	List(ctx context.Context, collection string, sort string) ([]Record, error)
	Get(ctx context.Context, collection string, id string) (Record, error)
	Create(ctx context.Context, collection string, fields RecordFields) (Record, error)
	Update(ctx context.Context, collection string, id string, patch RecordPatch) (Record, error)
	Delete(ctx context.Context, collection string, id string) error
}

// CollectionName returns the per-user collection holding greenhouse records.
func CollectionName(userID string) string {
	return strings.TrimSpace(userID) + collectionSuffix
}

// Record is a greenhouse as stored by the record store. GrafanaData holds the panel
// list either as a JSON array or as a JSON string containing one.
type Record struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Order       int             `json:"order"`
	GrafanaData json.RawMessage `json:"grafanadata,omitempty"`
}

// RecordFields is the create payload. The order key is always lowercase "order".
type RecordFields struct {
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Order       int           `json:"order"`
	GrafanaData []PanelRecord `json:"grafanadata"`
}

// RecordPatch is a partial update; nil fields are left untouched.
type RecordPatch struct {
	Title       *string        `json:"title,omitempty"`
	Description *string        `json:"description,omitempty"`
	Order       *int           `json:"order,omitempty"`
	GrafanaData *[]PanelRecord `json:"grafanadata,omitempty"`
}

// PanelRecord is the stored shape of one panel.
type PanelRecord struct {
	GrafanaURL  string `json:"grafanaURL"`
	PanelWidth  int    `json:"panel_width"`
	PanelHeight int    `json:"panel_height"`
	PanelName   string `json:"panel_name,omitempty"`
}

type panelRecordWire struct {
	GrafanaURL       string `json:"grafanaURL"`
	LegacyGrafanaURL string `json:"grafanaUrl"`
	PanelWidth       *int   `json:"panel_width"`
	PanelHeight      *int   `json:"panel_height"`
	PanelName        string `json:"panel_name"`
}

// UnmarshalJSON accepts the legacy grafanaUrl key and fills missing sizes.
func (p *PanelRecord) UnmarshalJSON(data []byte) error {
	var wire panelRecordWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	url := wire.GrafanaURL
	if url == "" {
		url = wire.LegacyGrafanaURL
	}
	width := DefaultPanelWidth
	if wire.PanelWidth != nil {
		width = *wire.PanelWidth
	}
	height := DefaultPanelHeight
	if wire.PanelHeight != nil {
		height = *wire.PanelHeight
	}
	*p = PanelRecord{GrafanaURL: url, PanelWidth: width, PanelHeight: height, PanelName: wire.PanelName}
	return nil
}

// DecodePanelRecords parses stored panel data. Callers fall back to an empty list
// when an error is returned.
func DecodePanelRecords(raw json.RawMessage) ([]PanelRecord, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []PanelRecord{}, nil
	}
	if trimmed[0] == '"' {
		var encoded string
		if err := json.Unmarshal(trimmed, &encoded); err != nil {
			return []PanelRecord{}, fmt.Errorf("decode panel string: %w", err)
		}
		trimmed = bytes.TrimSpace([]byte(encoded))
		if len(trimmed) == 0 {
			return []PanelRecord{}, nil
		}
	}
	var records []PanelRecord
	if err := json.Unmarshal(trimmed, &records); err != nil {
		return []PanelRecord{}, fmt.Errorf("decode panel list: %w", err)
	}
	if records == nil {
		records = []PanelRecord{}
	}
	return records, nil
}

// EncodePanelRecords renders panels in their stored shape. Names equal to the
// positional default are omitted.
func EncodePanelRecords(panels []Panel) []PanelRecord {
	records := make([]PanelRecord, 0, len(panels))
	for _, panel := range panels {
		if panel.URL == "" {
			continue
		}
		record := PanelRecord{
			GrafanaURL:  panel.URL,
			PanelWidth:  panel.Width,
			PanelHeight: panel.Height,
		}
		if record.PanelWidth == 0 {
			record.PanelWidth = DefaultPanelWidth
		}
		if record.PanelHeight == 0 {
			record.PanelHeight = DefaultPanelHeight
		}
		if panel.DisplayName != DefaultPanelName(len(records)) {
			record.PanelName = panel.DisplayName
		}
		records = append(records, record)
	}
	return records
}

// PanelsFromRecords converts stored panels, skipping entries without a URL.
func PanelsFromRecords(records []PanelRecord) []Panel {
	panels := make([]Panel, 0, len(records))
	for _, record := range records {
		if strings.TrimSpace(record.GrafanaURL) == "" {
			continue
		}
		name := strings.TrimSpace(record.PanelName)
		if name == "" {
			name = DefaultPanelName(len(panels))
		}
		panels = append(panels, Panel{
			URL:         record.GrafanaURL,
			DisplayName: name,
			Width:       record.PanelWidth,
			Height:      record.PanelHeight,
		})
	}
	return panels
}

func (g Greenhouse) fields() RecordFields {
	return RecordFields{
		Title:       g.Title,
		Description: g.Description,
		Order:       g.Order,
		GrafanaData: EncodePanelRecords(g.Panels),
	}
}

func (g Greenhouse) fullPatch() RecordPatch {
	title := g.Title
	description := g.Description
	order := g.Order
	panels := EncodePanelRecords(g.Panels)
	return RecordPatch{
		Title:       &title,
		Description: &description,
		Order:       &order,
		GrafanaData: &panels,
	}
}

func orderPatch(order int) RecordPatch {
	return RecordPatch{Order: &order}
}
