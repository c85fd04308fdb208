// Package sqlstore implements the greenhouse record store on a local SQL database.
package sqlstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/greenhouse/internal/greenhouses"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	// ErrUnsupportedSort rejects sort expressions naming unknown fields.
	ErrUnsupportedSort = errors.New("sqlstore: unsupported sort field")
)

var _ greenhouses.RecordStore = (*Store)(nil)

var sortColumns = map[string]string{
	"order":   "sort_order",
	"title":   "title",
	"created": "created_at_s",
	"updated": "updated_at_s",
}

const (
	opStoreNew = "sqlstore.new"
	opList     = "sqlstore.list"
	opGet      = "sqlstore.get"
	opCreate   = "sqlstore.create"
	opUpdate   = "sqlstore.update"
	opDelete   = "sqlstore.delete"
)

// StoreError tags a failure with the operation and reason that produced it.
type StoreError struct {
	code string
	err  error
}

func (e *StoreError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *StoreError) Unwrap() error {
	return e.err
}

func newStoreError(operation, reason string, cause error) error {
	return &StoreError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// Config describes the dependencies of a Store.
type Config struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider greenhouses.IDProvider
	Logger     *zap.Logger
}

// Store persists greenhouse records in the greenhouse_records table.
type Store struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider greenhouses.IDProvider
	logger     *zap.Logger
}

// NewStore validates the configuration.
func NewStore(cfg Config) (*Store, error) {
	if cfg.Database == nil {
		return nil, newStoreError(opStoreNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newStoreError(opStoreNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: cfg.Database, clock: clock, idProvider: cfg.IDProvider, logger: logger}, nil
}

// List returns every record in the collection ordered by the sort expression, a
// comma separated list of fields where a leading "-" sorts descending.
func (s *Store) List(ctx context.Context, collection string, sort string) ([]greenhouses.Record, error) {
	orderClause, err := parseSort(sort)
	if err != nil {
		return nil, newStoreError(opList, "invalid_sort", err)
	}
	var rows []GreenhouseRecord
	if err := s.db.WithContext(ctx).
		Where("collection = ?", collection).
		Order(orderClause).
		Find(&rows).Error; err != nil {
		s.logError(opList, "query_failed", err, zap.String("collection", collection))
		return nil, newStoreError(opList, "query_failed", err)
	}
	records := make([]greenhouses.Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, toRecord(row))
	}
	return records, nil
}

// Get returns one record or an error wrapping greenhouses.ErrRecordNotFound.
func (s *Store) Get(ctx context.Context, collection string, id string) (greenhouses.Record, error) {
	row, err := s.take(s.db.WithContext(ctx), collection, id)
	if err != nil {
		return greenhouses.Record{}, s.wrapLookup(opGet, collection, id, err)
	}
	return toRecord(row), nil
}

// Create inserts a record under a fresh identifier.
func (s *Store) Create(ctx context.Context, collection string, fields greenhouses.RecordFields) (greenhouses.Record, error) {
	recordID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err, zap.String("collection", collection))
		return greenhouses.Record{}, newStoreError(opCreate, "id_generation_failed", err)
	}
	payload, err := encodePanels(fields.GrafanaData)
	if err != nil {
		return greenhouses.Record{}, newStoreError(opCreate, "encode_failed", err)
	}
	now := s.clock().UTC().Unix()
	row := GreenhouseRecord{
		Collection:       collection,
		RecordID:         recordID,
		Title:            fields.Title,
		Description:      fields.Description,
		SortOrder:        fields.Order,
		GrafanaData:      payload,
		CreatedAtSeconds: now,
		UpdatedAtSeconds: now,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		s.logError(opCreate, "insert_failed", err, zap.String("collection", collection))
		return greenhouses.Record{}, newStoreError(opCreate, "insert_failed", err)
	}
	return toRecord(row), nil
}

// Update applies the non-nil fields of patch.
func (s *Store) Update(ctx context.Context, collection string, id string, patch greenhouses.RecordPatch) (greenhouses.Record, error) {
	var updated GreenhouseRecord
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := s.take(tx, collection, id)
		if err != nil {
			return err
		}
		if patch.Title != nil {
			row.Title = *patch.Title
		}
		if patch.Description != nil {
			row.Description = *patch.Description
		}
		if patch.Order != nil {
			row.SortOrder = *patch.Order
		}
		if patch.GrafanaData != nil {
			payload, err := encodePanels(*patch.GrafanaData)
			if err != nil {
				return err
			}
			row.GrafanaData = payload
		}
		row.UpdatedAtSeconds = s.clock().UTC().Unix()
		if err := tx.Save(&row).Error; err != nil {
			return err
		}
		updated = row
		return nil
	})
	if txErr != nil {
		return greenhouses.Record{}, s.wrapLookup(opUpdate, collection, id, txErr)
	}
	return toRecord(updated), nil
}

// Delete removes a record or reports greenhouses.ErrRecordNotFound.
func (s *Store) Delete(ctx context.Context, collection string, id string) error {
	result := s.db.WithContext(ctx).
		Where("collection = ? AND record_id = ?", collection, id).
		Delete(&GreenhouseRecord{})
	if result.Error != nil {
		s.logError(opDelete, "delete_failed", result.Error,
			zap.String("collection", collection),
			zap.String("record_id", id))
		return newStoreError(opDelete, "delete_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", greenhouses.ErrRecordNotFound, id)
	}
	return nil
}

func (s *Store) take(db *gorm.DB, collection, id string) (GreenhouseRecord, error) {
	var row GreenhouseRecord
	err := db.Where("collection = ? AND record_id = ?", collection, id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return GreenhouseRecord{}, fmt.Errorf("%w: %s", greenhouses.ErrRecordNotFound, id)
	}
	return row, err
}

func (s *Store) wrapLookup(operation, collection, id string, err error) error {
	if errors.Is(err, greenhouses.ErrRecordNotFound) {
		return err
	}
	s.logError(operation, "query_failed", err,
		zap.String("collection", collection),
		zap.String("record_id", id))
	return newStoreError(operation, "query_failed", err)
}

func (s *Store) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("record store error", attrs...)
}

func parseSort(sort string) (string, error) {
	clauses := make([]string, 0, 3)
	for _, field := range strings.Split(sort, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		direction := "ASC"
		switch {
		case strings.HasPrefix(field, "-"):
			direction = "DESC"
			field = field[1:]
		case strings.HasPrefix(field, "+"):
			field = field[1:]
		}
		column, ok := sortColumns[field]
		if !ok {
			return "", fmt.Errorf("%w: %q", ErrUnsupportedSort, field)
		}
		clauses = append(clauses, column+" "+direction)
	}
	clauses = append(clauses, "created_at_s ASC", "record_id ASC")
	return strings.Join(clauses, ", "), nil
}

func encodePanels(panels []greenhouses.PanelRecord) (string, error) {
	if panels == nil {
		panels = []greenhouses.PanelRecord{}
	}
	payload, err := json.Marshal(panels)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

func toRecord(row GreenhouseRecord) greenhouses.Record {
	var data json.RawMessage
	if strings.TrimSpace(row.GrafanaData) != "" {
		data = json.RawMessage(row.GrafanaData)
	}
	return greenhouses.Record{
		ID:          row.RecordID,
		Title:       row.Title,
		Description: row.Description,
		Order:       row.SortOrder,
		GrafanaData: data,
	}
}
