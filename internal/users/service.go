package users

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/greenhouse/internal/auth"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrInvalidIdentity indicates the user record did not contain a usable identifier.
	ErrInvalidIdentity = errors.New("users: invalid identity")
	// ErrInvalidPreferences indicates coordinates outside their valid ranges.
	ErrInvalidPreferences = errors.New("users: invalid preferences")
)

const defaultProvider = "oidc"

// ServiceConfig describes the dependencies required for user bookkeeping.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service records provider identities and per-user preferences.
type Service struct {
	db    *gorm.DB
	now   func() time.Time
	cache sync.Map
}

// NewService constructs the user service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{db: cfg.Database, now: clock}, nil
}

// RecordLogin upserts the identity behind a completed login and returns the user id.
// Preferences carried by the record seed local preferences the first time they are seen.
func (s *Service) RecordLogin(ctx context.Context, provider string, record auth.UserRecord) (string, error) {
	provider = normalize(provider)
	if provider == "" {
		provider = defaultProvider
	}
	userID := normalize(record.ID)
	if userID == "" {
		return "", ErrInvalidIdentity
	}

	displayName := normalize(record.Name)
	if displayName == "" {
		displayName = normalize(record.Username)
	}
	identity := Identity{
		Provider:    provider,
		Subject:     userID,
		UserID:      userID,
		Email:       normalize(record.Email),
		DisplayName: displayName,
		AvatarURL:   normalize(record.Avatar),
		LastSeenAt:  s.now().UTC(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider"}, {Name: "subject"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_email", "user_display_name", "user_avatar_url", "last_seen_at", "updated_at"}),
	}).Create(&identity).Error
	if err != nil {
		return "", err
	}

	if record.Preferences != nil && record.Preferences.Latitude != nil && record.Preferences.Longitude != nil {
		seed := Preferences{
			UserID:    userID,
			Latitude:  record.Preferences.Latitude,
			Longitude: record.Preferences.Longitude,
			City:      record.Preferences.City,
		}
		if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
			return "", err
		}
	}
	return userID, nil
}

// Preferences returns the stored preferences; found is false when none exist.
func (s *Service) Preferences(ctx context.Context, userID string) (Preferences, bool, error) {
	userID = normalize(userID)
	if cached, ok := s.cache.Load(userID); ok {
		if prefs, ok := cached.(Preferences); ok {
			return prefs, true, nil
		}
	}
	var prefs Preferences
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&prefs).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Preferences{}, false, nil
	}
	if err != nil {
		return Preferences{}, false, err
	}
	s.cache.Store(userID, prefs)
	return prefs, true, nil
}

// SavePreferences validates and stores the user's preferences.
func (s *Service) SavePreferences(ctx context.Context, userID string, prefs Preferences) (Preferences, error) {
	userID = normalize(userID)
	if userID == "" {
		return Preferences{}, ErrInvalidIdentity
	}
	if prefs.Latitude != nil && (*prefs.Latitude < -90 || *prefs.Latitude > 90) {
		return Preferences{}, fmt.Errorf("%w: latitude must be within [-90, 90]", ErrInvalidPreferences)
	}
	if prefs.Longitude != nil && (*prefs.Longitude < -180 || *prefs.Longitude > 180) {
		return Preferences{}, fmt.Errorf("%w: longitude must be within [-180, 180]", ErrInvalidPreferences)
	}
	if (prefs.Latitude == nil) != (prefs.Longitude == nil) {
		return Preferences{}, fmt.Errorf("%w: latitude and longitude must be set together", ErrInvalidPreferences)
	}
	prefs.UserID = userID
	prefs.City = normalize(prefs.City)
	prefs.UpdatedAt = s.now().UTC()
	if err := s.db.WithContext(ctx).Save(&prefs).Error; err != nil {
		return Preferences{}, err
	}
	s.cache.Store(userID, prefs)
	return prefs, nil
}
