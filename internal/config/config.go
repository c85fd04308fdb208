// Package config loads runtime settings from flags, environment and config files.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix = "GREENHOUSE"

	// StoreDriverPocketBase talks to a remote PocketBase-style record store.
	StoreDriverPocketBase = "pocketbase"
	// StoreDriverSQLite keeps greenhouse records in the local database while logins
	// still go through the record store.
	StoreDriverSQLite = "sqlite"

	defaultHTTPAddress     = "0.0.0.0:8080"
	defaultPublicOrigin    = "http://localhost:8080"
	defaultDatabasePath    = "greenhouse.db"
	defaultLogLevel        = "info"
	defaultLogFormat       = "json"
	defaultStoreDriver     = StoreDriverPocketBase
	defaultStoreTimeout    = 10
	defaultCookieName      = "greenhouse_browser"
	defaultProviderName    = "oidc"
	defaultWeatherEndpoint = "https://api.open-meteo.com/v1/forecast"
	defaultMaxPanelWidth   = 1920
	defaultMaxPanelHeight  = 1080
	minPanelDimension      = 200
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress     string
	PublicOrigin    string
	AllowedOrigins  []string
	DatabasePath    string
	LogLevel        string
	LogFormat       string
	StoreDriver     string
	StoreBaseURL    string
	StoreTimeout    time.Duration
	SigningSecret   string
	CookieName      string
	ProviderName    string
	WeatherEndpoint string
	MaxPanelWidth   int
	MaxPanelHeight  int
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.public_origin", defaultPublicOrigin)
	configViper.SetDefault("http.allowed_origins", []string{})
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("store.driver", defaultStoreDriver)
	configViper.SetDefault("store.timeout_seconds", defaultStoreTimeout)
	configViper.SetDefault("auth.cookie_name", defaultCookieName)
	configViper.SetDefault("auth.provider_name", defaultProviderName)
	configViper.SetDefault("weather.endpoint", defaultWeatherEndpoint)
	configViper.SetDefault("layout.max_panel_width", defaultMaxPanelWidth)
	configViper.SetDefault("layout.max_panel_height", defaultMaxPanelHeight)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:     configViper.GetString("http.address"),
		PublicOrigin:    strings.TrimRight(strings.TrimSpace(configViper.GetString("http.public_origin")), "/"),
		AllowedOrigins:  splitList(configViper.GetStringSlice("http.allowed_origins")),
		DatabasePath:    configViper.GetString("database.path"),
		LogLevel:        configViper.GetString("log.level"),
		LogFormat:       configViper.GetString("log.format"),
		StoreDriver:     strings.ToLower(strings.TrimSpace(configViper.GetString("store.driver"))),
		StoreBaseURL:    strings.TrimSpace(configViper.GetString("store.base_url")),
		StoreTimeout:    time.Duration(configViper.GetInt("store.timeout_seconds")) * time.Second,
		SigningSecret:   configViper.GetString("auth.signing_secret"),
		CookieName:      configViper.GetString("auth.cookie_name"),
		ProviderName:    configViper.GetString("auth.provider_name"),
		WeatherEndpoint: configViper.GetString("weather.endpoint"),
		MaxPanelWidth:   configViper.GetInt("layout.max_panel_width"),
		MaxPanelHeight:  configViper.GetInt("layout.max_panel_height"),
	}
	if len(cfg.AllowedOrigins) == 0 && cfg.PublicOrigin != "" {
		cfg.AllowedOrigins = []string{cfg.PublicOrigin}
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.CookieName) == "" {
		return fmt.Errorf("auth.cookie_name is required")
	}
	if !isAbsoluteURL(c.PublicOrigin) {
		return fmt.Errorf("http.public_origin must be an absolute url")
	}
	if c.StoreDriver != StoreDriverPocketBase && c.StoreDriver != StoreDriverSQLite {
		return fmt.Errorf("store.driver must be %q or %q", StoreDriverPocketBase, StoreDriverSQLite)
	}
	// The users collection of the record store authenticates logins for both drivers.
	if !isAbsoluteURL(c.StoreBaseURL) {
		return fmt.Errorf("store.base_url must be an absolute url")
	}
	if c.StoreTimeout <= 0 {
		return fmt.Errorf("store.timeout_seconds must be positive")
	}
	if c.MaxPanelWidth < minPanelDimension || c.MaxPanelHeight < minPanelDimension {
		return fmt.Errorf("layout panel caps must be at least %d", minPanelDimension)
	}
	return nil
}

func isAbsoluteURL(raw string) bool {
	parsed, err := url.Parse(raw)
	return err == nil && parsed.Scheme != "" && parsed.Host != ""
}

func splitList(values []string) []string {
	result := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				result = append(result, trimmed)
			}
		}
	}
	return result
}
