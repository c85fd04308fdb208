package users

import (
	"strings"
	"time"
)

// Identity maps an identity-provider login to the record store user it authenticated.
type Identity struct {
	Provider    string    `gorm:"column:provider;primaryKey;size:32;not null"`
	Subject     string    `gorm:"column:subject;primaryKey;size:190;not null"`
	UserID      string    `gorm:"column:user_id;size:190;not null;index"`
	Email       string    `gorm:"column:user_email;size:320"`
	DisplayName string    `gorm:"column:user_display_name;size:320"`
	AvatarURL   string    `gorm:"column:user_avatar_url;size:512"`
	LastSeenAt  time.Time `gorm:"column:last_seen_at"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing user identities.
func (Identity) TableName() string {
	return "user_identities"
}

// Preferences holds the weather location of one user.
type Preferences struct {
	UserID    string    `gorm:"column:user_id;primaryKey;size:190;not null" json:"-"`
	Latitude  *float64  `gorm:"column:latitude" json:"latitude"`
	Longitude *float64  `gorm:"column:longitude" json:"longitude"`
	City      string    `gorm:"column:city;size:190" json:"city"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName exposes the table backing user preferences.
func (Preferences) TableName() string {
	return "user_preferences"
}

// HasLocation reports whether both coordinates are set.
func (p Preferences) HasLocation() bool {
	return p.Latitude != nil && p.Longitude != nil
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
