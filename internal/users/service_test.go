package users

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/greenhouse/internal/auth"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func mustService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:users_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Identity{}, &Preferences{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	service, err := NewService(ServiceConfig{
		Database: db,
		Clock: func() time.Time {
			return time.Unix(1700000000, 0)
		},
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service, db
}

func floatPointer(value float64) *float64 {
	return &value
}

func TestRecordLoginUpsertsIdentity(t *testing.T) {
	service, db := mustService(t)
	ctx := context.Background()

	userID, err := service.RecordLogin(ctx, "", auth.UserRecord{ID: " user-1 ", Email: "a@example.com", Username: "grower"})
	if err != nil {
		t.Fatalf("record login failed: %v", err)
	}
	if userID != "user-1" {
		t.Fatalf("unexpected user id %q", userID)
	}
	if _, err := service.RecordLogin(ctx, "", auth.UserRecord{ID: "user-1", Email: "b@example.com", Name: "Grower"}); err != nil {
		t.Fatalf("second login failed: %v", err)
	}

	var identities []Identity
	if err := db.Find(&identities).Error; err != nil {
		t.Fatalf("load identities: %v", err)
	}
	if len(identities) != 1 {
		t.Fatalf("expected a single identity, got %d", len(identities))
	}
	if identities[0].Provider != "oidc" || identities[0].Email != "b@example.com" || identities[0].DisplayName != "Grower" {
		t.Fatalf("unexpected identity %+v", identities[0])
	}

	if _, err := service.RecordLogin(ctx, "oidc", auth.UserRecord{}); !errors.Is(err, ErrInvalidIdentity) {
		t.Fatalf("expected invalid identity, got %v", err)
	}
}

func TestRecordLoginSeedsPreferencesOnce(t *testing.T) {
	service, _ := mustService(t)
	ctx := context.Background()
	record := auth.UserRecord{ID: "user-1", Preferences: &auth.UserPreferences{
		Latitude: floatPointer(52.5), Longitude: floatPointer(13.4), City: "Berlin",
	}}
	if _, err := service.RecordLogin(ctx, "oidc", record); err != nil {
		t.Fatalf("record login failed: %v", err)
	}
	prefs, found, err := service.Preferences(ctx, "user-1")
	if err != nil || !found {
		t.Fatalf("expected seeded preferences, got %v %v", found, err)
	}
	if prefs.City != "Berlin" || !prefs.HasLocation() {
		t.Fatalf("unexpected preferences %+v", prefs)
	}

	if _, err := service.SavePreferences(ctx, "user-1", Preferences{Latitude: floatPointer(48.1), Longitude: floatPointer(11.6), City: "Munich"}); err != nil {
		t.Fatalf("save preferences failed: %v", err)
	}
	if _, err := service.RecordLogin(ctx, "oidc", record); err != nil {
		t.Fatalf("second login failed: %v", err)
	}
	prefs, _, err = service.Preferences(ctx, "user-1")
	if err != nil {
		t.Fatalf("load preferences: %v", err)
	}
	if prefs.City != "Munich" {
		t.Fatalf("expected saved preferences to win over the record, got %q", prefs.City)
	}
}

func TestSavePreferencesValidatesCoordinates(t *testing.T) {
	service, _ := mustService(t)
	ctx := context.Background()
	tests := []struct {
		name  string
		prefs Preferences
	}{
		{name: "latitude range", prefs: Preferences{Latitude: floatPointer(91), Longitude: floatPointer(0)}},
		{name: "longitude range", prefs: Preferences{Latitude: floatPointer(0), Longitude: floatPointer(-181)}},
		{name: "half set", prefs: Preferences{Latitude: floatPointer(10)}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if _, err := service.SavePreferences(ctx, "user-1", test.prefs); !errors.Is(err, ErrInvalidPreferences) {
				t.Fatalf("expected invalid preferences, got %v", err)
			}
		})
	}

	if _, found, err := service.Preferences(ctx, "user-2"); err != nil || found {
		t.Fatalf("expected no preferences for unknown user, got %v %v", found, err)
	}
	saved, err := service.SavePreferences(ctx, "user-2", Preferences{City: "  Nowhere "})
	if err != nil {
		t.Fatalf("save city only: %v", err)
	}
	if saved.City != "Nowhere" || saved.HasLocation() {
		t.Fatalf("unexpected saved preferences %+v", saved)
	}
}
