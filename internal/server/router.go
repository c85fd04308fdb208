// Package server exposes the greenhouse dashboard over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/greenhouse/internal/auth"
	"github.com/MarcoPoloResearchLab/greenhouse/internal/greenhouses"
	"github.com/MarcoPoloResearchLab/greenhouse/internal/metrics"
	"github.com/MarcoPoloResearchLab/greenhouse/internal/users"
	"github.com/MarcoPoloResearchLab/greenhouse/internal/weather"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	userIDContextKey  = "greenhouse_user_id"
	storageContextKey = "greenhouse_browser_storage"
)

var (
	errMissingGateway        = errors.New("session gateway dependency required")
	errMissingBrowserStorage = errors.New("browser storage dependency required")
	errMissingTokenIssuer    = errors.New("browser token issuer dependency required")
	errMissingTokenValidator = errors.New("browser token validator dependency required")
	errMissingRegistry       = errors.New("greenhouse registry dependency required")
	errMissingUsers          = errors.New("user directory dependency required")
	errInvalidPublicOrigin   = errors.New("public origin must be an absolute url")
)

// SessionGateway runs the OAuth handshake against a browser's storage.
type SessionGateway interface {
	Restore(ctx context.Context, storage auth.Storage) (auth.Session, bool)
	BeginLogin(ctx context.Context, storage auth.Storage, origin string) (string, error)
	CompleteLogin(ctx context.Context, storage auth.Storage, origin string, query url.Values) (auth.Session, error)
	Logout(ctx context.Context, storage auth.Storage, origin string) string
}

// BrowserStorageProvider scopes server-side storage to one browser.
type BrowserStorageProvider interface {
	ForBrowser(browserID string) (auth.Storage, error)
}

// BrowserTokenIssuer signs the browser cookie.
type BrowserTokenIssuer interface {
	IssueBrowserToken(ctx context.Context, browserID string) (string, time.Time, error)
}

// BrowserTokenValidator validates the browser cookie.
type BrowserTokenValidator interface {
	ValidateRequest(r *http.Request) (auth.BrowserClaims, error)
	CookieName() string
}

// UserDirectory records logins and owns user preferences.
type UserDirectory interface {
	RecordLogin(ctx context.Context, provider string, record auth.UserRecord) (string, error)
	Preferences(ctx context.Context, userID string) (users.Preferences, bool, error)
	SavePreferences(ctx context.Context, userID string, prefs users.Preferences) (users.Preferences, error)
}

// WeatherSource reads current conditions for a coordinate.
type WeatherSource interface {
	Current(ctx context.Context, latitude, longitude float64) (weather.Reading, error)
}

// Dependencies wires the HTTP handler. Weather, Notices and Metrics are optional.
type Dependencies struct {
	PublicOrigin   string
	AllowedOrigins []string
	ProviderName   string
	Gateway        SessionGateway
	BrowserStorage BrowserStorageProvider
	TokenIssuer    BrowserTokenIssuer
	TokenValidator BrowserTokenValidator
	Registry       *greenhouses.Registry
	Users          UserDirectory
	Weather        WeatherSource
	Notices        *NoticeDispatcher
	NoticeInterval time.Duration
	Metrics        *metrics.Recorder
	Logger         *zap.Logger
	Clock          func() time.Time
}

// NewHTTPHandler validates the dependencies and builds the gin router.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Gateway == nil {
		return nil, errMissingGateway
	}
	if deps.BrowserStorage == nil {
		return nil, errMissingBrowserStorage
	}
	if deps.TokenIssuer == nil {
		return nil, errMissingTokenIssuer
	}
	if deps.TokenValidator == nil {
		return nil, errMissingTokenValidator
	}
	if deps.Registry == nil {
		return nil, errMissingRegistry
	}
	if deps.Users == nil {
		return nil, errMissingUsers
	}
	origin := strings.TrimRight(strings.TrimSpace(deps.PublicOrigin), "/")
	parsedOrigin, err := url.Parse(origin)
	if err != nil || parsedOrigin.Scheme == "" || parsedOrigin.Host == "" {
		return nil, errInvalidPublicOrigin
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	noticeInterval := deps.NoticeInterval
	if noticeInterval <= 0 {
		noticeInterval = defaultNoticeInterval
	}
	allowedOrigins := deps.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{origin}
	}

	handler := &httpHandler{
		origin:         origin,
		secureCookies:  parsedOrigin.Scheme == "https",
		providerName:   deps.ProviderName,
		gateway:        deps.Gateway,
		browsers:       deps.BrowserStorage,
		tokens:         deps.TokenIssuer,
		validator:      deps.TokenValidator,
		registry:       deps.Registry,
		users:          deps.Users,
		weather:        deps.Weather,
		notices:        deps.Notices,
		noticeInterval: noticeInterval,
		metrics:        deps.Metrics,
		logger:         logger,
		clock:          clock,
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(handler.observeRequest)
	router.Use(corsMiddleware(allowedOrigins))

	router.GET("/healthz", handler.handleHealth)
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	browser := router.Group("/")
	browser.Use(handler.resolveBrowser)
	browser.GET("/auth/login", handler.handleLogin)
	browser.GET("/callback", handler.handleCallback)
	browser.POST("/auth/logout", handler.handleLogout)
	browser.GET("/auth/session", handler.handleSession)

	protected := browser.Group("/")
	protected.Use(handler.requireSession)
	protected.GET("/greenhouses", handler.handleListGreenhouses)
	protected.POST("/greenhouses", handler.handleCreateGreenhouse)
	protected.GET("/greenhouses/orders", handler.handleAvailableOrders)
	protected.GET("/greenhouses/:id", handler.handleGetGreenhouse)
	protected.PATCH("/greenhouses/:id", handler.handleUpdateGreenhouse)
	protected.DELETE("/greenhouses/:id", handler.handleDeleteGreenhouse)
	protected.GET("/greenhouses/:id/layout", handler.handleLayout)
	protected.POST("/greenhouses/:id/panels", handler.handleAddPanel)
	protected.PATCH("/greenhouses/:id/panels/:index", handler.handleEditPanel)
	protected.DELETE("/greenhouses/:id/panels/:index", handler.handleRemovePanel)
	protected.GET("/dashboard", handler.handleDashboard)
	protected.GET("/preferences", handler.handleGetPreferences)
	protected.PUT("/preferences", handler.handleSavePreferences)
	protected.GET("/notices/stream", handler.handleNoticeStream)

	return router, nil
}

type httpHandler struct {
	origin         string
	secureCookies  bool
	providerName   string
	gateway        SessionGateway
	browsers       BrowserStorageProvider
	tokens         BrowserTokenIssuer
	validator      BrowserTokenValidator
	registry       *greenhouses.Registry
	users          UserDirectory
	weather        WeatherSource
	notices        *NoticeDispatcher
	noticeInterval time.Duration
	metrics        *metrics.Recorder
	logger         *zap.Logger
	clock          func() time.Time
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Content-Type", "Last-Event-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) observeRequest(c *gin.Context) {
	started := h.clock()
	c.Next()
	if h.metrics != nil {
		h.metrics.ObserveRequest(c.FullPath(), c.Request.Method, c.Writer.Status(), h.clock().Sub(started))
	}
}
