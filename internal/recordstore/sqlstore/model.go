package sqlstore

// GreenhouseRecord is the row backing one greenhouse in a named collection.
type GreenhouseRecord struct {
	Collection       string `gorm:"column:collection;primaryKey;size:190;not null;index:idx_greenhouse_records_order,priority:1"`
	RecordID         string `gorm:"column:record_id;primaryKey;size:190;not null"`
	Title            string `gorm:"column:title;size:190;not null"`
	Description      string `gorm:"column:description;type:text;not null"`
	SortOrder        int    `gorm:"column:sort_order;not null;default:0;index:idx_greenhouse_records_order,priority:2"`
	GrafanaData      string `gorm:"column:grafana_data;type:text;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (GreenhouseRecord) TableName() string {
	return "greenhouse_records"
}
