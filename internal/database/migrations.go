package database

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/greenhouse/internal/greenhouses"
	"github.com/MarcoPoloResearchLab/greenhouse/internal/recordstore/sqlstore"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationCanonicalPanelKeys = "2026-06-01_canonical_panel_keys"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB, *zap.Logger) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationCanonicalPanelKeys, apply: canonicalizePanelKeys},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db, logger); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// canonicalizePanelKeys rewrites stored panel lists that use the legacy grafanaUrl key
// or a string-wrapped array into the canonical array shape. Rows that cannot be decoded
// are left untouched.
func canonicalizePanelKeys(db *gorm.DB, logger *zap.Logger) error {
	var rows []sqlstore.GreenhouseRecord
	if err := db.Where("grafana_data LIKE ? OR grafana_data LIKE ?", "%grafanaUrl%", `"%`).Find(&rows).Error; err != nil {
		return err
	}
	for _, row := range rows {
		panels, err := greenhouses.DecodePanelRecords(json.RawMessage(row.GrafanaData))
		if err != nil {
			if logger != nil {
				logger.Warn("panel data left unmigrated",
					zap.String("collection", row.Collection),
					zap.String("record_id", row.RecordID),
					zap.Error(err))
			}
			continue
		}
		payload, err := json.Marshal(panels)
		if err != nil {
			return err
		}
		if err := db.Model(&sqlstore.GreenhouseRecord{}).
			Where("collection = ? AND record_id = ?", row.Collection, row.RecordID).
			Update("grafana_data", string(payload)).Error; err != nil {
			return err
		}
	}
	return nil
}
