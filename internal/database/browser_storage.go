package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/greenhouse/internal/auth"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errMissingBrowserID = errors.New("database: browser id is required")

// BrowserEntry is one key of one browser's storage.
type BrowserEntry struct {
	BrowserID        string `gorm:"column:browser_id;primaryKey;size:64;not null"`
	StorageKey       string `gorm:"column:storage_key;primaryKey;size:64;not null"`
	Value            string `gorm:"column:value;type:text;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (BrowserEntry) TableName() string {
	return "browser_storage"
}

// BrowserStorage keeps per-browser key/value state on the server.
type BrowserStorage struct {
	db    *gorm.DB
	clock func() time.Time
}

// NewBrowserStorage constructs a BrowserStorage.
func NewBrowserStorage(db *gorm.DB, clock func() time.Time) (*BrowserStorage, error) {
	if db == nil {
		return nil, fmt.Errorf("database: connection required")
	}
	if clock == nil {
		clock = time.Now
	}
	return &BrowserStorage{db: db, clock: clock}, nil
}

// ForBrowser returns the storage scoped to one browser.
func (s *BrowserStorage) ForBrowser(browserID string) (auth.Storage, error) {
	trimmed := strings.TrimSpace(browserID)
	if trimmed == "" {
		return nil, errMissingBrowserID
	}
	return &browserScope{storage: s, browserID: trimmed}, nil
}

type browserScope struct {
	storage   *BrowserStorage
	browserID string
}

func (b *browserScope) Get(ctx context.Context, key string) (string, bool, error) {
	var entry BrowserEntry
	err := b.storage.db.WithContext(ctx).
		Where("browser_id = ? AND storage_key = ?", b.browserID, key).
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return entry.Value, true, nil
}

func (b *browserScope) Set(ctx context.Context, key, value string) error {
	entry := BrowserEntry{
		BrowserID:        b.browserID,
		StorageKey:       key,
		Value:            value,
		UpdatedAtSeconds: b.storage.clock().UTC().Unix(),
	}
	return b.storage.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "browser_id"}, {Name: "storage_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at_s"}),
	}).Create(&entry).Error
}

func (b *browserScope) Delete(ctx context.Context, key string) error {
	return b.storage.db.WithContext(ctx).
		Where("browser_id = ? AND storage_key = ?", b.browserID, key).
		Delete(&BrowserEntry{}).Error
}
