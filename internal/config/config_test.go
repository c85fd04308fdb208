package config

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestLoadAppliesDefaults(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "secret")
	configViper.Set("store.base_url", "https://pb.example.com")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := AppConfig{
		HTTPAddress:     defaultHTTPAddress,
		PublicOrigin:    defaultPublicOrigin,
		AllowedOrigins:  []string{defaultPublicOrigin},
		DatabasePath:    defaultDatabasePath,
		LogLevel:        defaultLogLevel,
		LogFormat:       defaultLogFormat,
		StoreDriver:     StoreDriverPocketBase,
		StoreBaseURL:    "https://pb.example.com",
		StoreTimeout:    10 * time.Second,
		SigningSecret:   "secret",
		CookieName:      defaultCookieName,
		ProviderName:    defaultProviderName,
		WeatherEndpoint: defaultWeatherEndpoint,
		MaxPanelWidth:   defaultMaxPanelWidth,
		MaxPanelHeight:  defaultMaxPanelHeight,
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("unexpected config (-want +got):\n%s", diff)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("GREENHOUSE_AUTH_SIGNING_SECRET", "env-secret")
	t.Setenv("GREENHOUSE_STORE_DRIVER", "SQLite")
	t.Setenv("GREENHOUSE_STORE_BASE_URL", "http://pocketbase:8090")
	t.Setenv("GREENHOUSE_HTTP_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")

	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SigningSecret != "env-secret" || cfg.StoreDriver != StoreDriverSQLite {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if diff := cmp.Diff([]string{"https://a.example.com", "https://b.example.com"}, cfg.AllowedOrigins); diff != "" {
		t.Fatalf("unexpected origins (-want +got):\n%s", diff)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name     string
		settings map[string]any
		want     string
	}{
		{name: "missing secret", settings: map[string]any{"store.driver": "sqlite"}, want: "auth.signing_secret"},
		{name: "unknown driver", settings: map[string]any{"auth.signing_secret": "s", "store.driver": "mongo"}, want: "store.driver"},
		{name: "missing store url", settings: map[string]any{"auth.signing_secret": "s", "store.driver": "sqlite"}, want: "store.base_url"},
		{name: "relative origin", settings: map[string]any{"auth.signing_secret": "s", "store.driver": "sqlite", "http.public_origin": "/app"}, want: "http.public_origin"},
		{name: "small panel cap", settings: map[string]any{"auth.signing_secret": "s", "store.driver": "sqlite", "store.base_url": "http://pb:8090", "layout.max_panel_width": 100}, want: "layout panel caps"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			configViper := NewViper()
			for key, value := range test.settings {
				configViper.Set(key, value)
			}
			_, err := Load(configViper)
			if err == nil || !strings.Contains(err.Error(), test.want) {
				t.Fatalf("expected error mentioning %q, got %v", test.want, err)
			}
		})
	}
}
