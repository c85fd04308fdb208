package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// ProviderStorageKey holds the OAuth provider descriptor between redirect and callback.
	ProviderStorageKey = "oauth_provider"
	// SessionStorageKey holds the persisted session.
	SessionStorageKey = "greenhouse_auth"

	defaultProviderName = "oidc"
	callbackPath        = "/callback"
	logoutPath          = "/grafana/logout"
)

var (
	// ErrNoCallback means the request carries no code and state; it is not an auth failure.
	ErrNoCallback = errors.New("auth: no oauth callback parameters")
	// ErrMissingProvider means the callback arrived without a stored provider descriptor.
	ErrMissingProvider = errors.New("auth: missing oauth provider context")
	// ErrStateMismatch means the callback state differs from the stored descriptor.
	ErrStateMismatch = errors.New("auth: oauth state mismatch")
	// ErrProviderNotConfigured means the identity provider offers no matching provider.
	ErrProviderNotConfigured = errors.New("auth: oauth provider not configured")
	// ErrCodeExchange wraps failures of the authorization code exchange.
	ErrCodeExchange = errors.New("auth: oauth code exchange failed")
	// ErrInvalidAuthURL means the provider descriptor carries an unusable auth URL.
	ErrInvalidAuthURL = errors.New("auth: invalid provider auth url")

	errMissingIdentityProvider = errors.New("identity provider is required")
)

// Storage is the key/value store of one browser.
type Storage interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// GatewayConfig describes the dependencies of a Gateway.
type GatewayConfig struct {
	Provider     IdentityProvider
	ProviderName string
	Clock        func() time.Time
	Logger       *zap.Logger
}

// Gateway runs the OAuth2 redirect handshake and keeps the session in browser storage.
type Gateway struct {
	provider     IdentityProvider
	providerName string
	clock        func() time.Time
	logger       *zap.Logger
}

// NewGateway validates the configuration.
func NewGateway(cfg GatewayConfig) (*Gateway, error) {
	if cfg.Provider == nil {
		return nil, errMissingIdentityProvider
	}
	name := strings.TrimSpace(cfg.ProviderName)
	if name == "" {
		name = defaultProviderName
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{provider: cfg.Provider, providerName: name, clock: clock, logger: logger}, nil
}

// Restore returns the persisted session when it is still valid.
func (g *Gateway) Restore(ctx context.Context, storage Storage) (Session, bool) {
	session, found := g.loadSession(ctx, storage)
	if !found || !session.Valid(g.clock()) {
		return Session{}, false
	}
	return session, true
}

// BeginLogin stores the provider descriptor and returns the URL to redirect the
// browser to.
func (g *Gateway) BeginLogin(ctx context.Context, storage Storage, origin string) (string, error) {
	methods, err := g.provider.ListAuthMethods(ctx)
	if err != nil {
		g.logger.Error("list auth methods failed", zap.Error(err))
		return "", err
	}
	var selected *OAuthProvider
	for index := range methods.Providers {
		if strings.EqualFold(methods.Providers[index].Name, g.providerName) {
			selected = &methods.Providers[index]
			break
		}
	}
	if selected == nil {
		return "", fmt.Errorf("%w: %s", ErrProviderNotConfigured, g.providerName)
	}

	authURL, err := url.Parse(strings.TrimSpace(selected.AuthURL))
	if err != nil || authURL.Scheme == "" || authURL.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidAuthURL, selected.AuthURL)
	}
	query := authURL.Query()
	query.Set("redirect_uri", redirectURI(origin))
	authURL.RawQuery = query.Encode()

	descriptor, err := json.Marshal(selected)
	if err != nil {
		return "", err
	}
	if err := storage.Set(ctx, ProviderStorageKey, string(descriptor)); err != nil {
		g.logger.Error("persist oauth provider failed", zap.Error(err))
		return "", err
	}
	return authURL.String(), nil
}

// CompleteLogin exchanges the callback code for a session.
func (g *Gateway) CompleteLogin(ctx context.Context, storage Storage, origin string, query url.Values) (Session, error) {
	code := query.Get("code")
	state := query.Get("state")
	if code == "" || state == "" {
		return Session{}, ErrNoCallback
	}

	descriptor, err := g.loadProvider(ctx, storage)
	if err != nil {
		return Session{}, err
	}
	if descriptor.State != state {
		return Session{}, ErrStateMismatch
	}

	result, err := g.provider.AuthWithOAuth2Code(ctx, descriptor.Name, code, descriptor.CodeVerifier, redirectURI(origin))
	if err != nil {
		if statusOf(err) == http.StatusBadRequest {
			if existing, ok := g.Restore(ctx, storage); ok {
				g.logger.Info("oauth code already exchanged", zap.String("user_id", existing.UserID()))
				g.deleteKey(ctx, storage, ProviderStorageKey)
				return existing, nil
			}
		}
		g.logger.Warn("oauth code exchange failed", zap.Error(err))
		return Session{}, fmt.Errorf("%w: %w", ErrCodeExchange, err)
	}

	session := Session{Token: result.Token, Record: result.Record}
	payload, err := json.Marshal(session)
	if err != nil {
		return Session{}, err
	}
	if err := storage.Set(ctx, SessionStorageKey, string(payload)); err != nil {
		g.logger.Error("persist session failed", zap.Error(err))
		return Session{}, err
	}
	g.deleteKey(ctx, storage, ProviderStorageKey)
	return session, nil
}

// Logout clears the session and provider keys and returns the post-logout redirect.
func (g *Gateway) Logout(ctx context.Context, storage Storage, origin string) string {
	g.deleteKey(ctx, storage, ProviderStorageKey)
	g.deleteKey(ctx, storage, SessionStorageKey)
	return strings.TrimRight(origin, "/") + logoutPath
}

func (g *Gateway) loadSession(ctx context.Context, storage Storage) (Session, bool) {
	raw, found, err := storage.Get(ctx, SessionStorageKey)
	if err != nil {
		g.logger.Warn("restore session failed", zap.Error(err))
		return Session{}, false
	}
	if !found {
		return Session{}, false
	}
	var session Session
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		g.logger.Warn("stored session malformed", zap.Error(err))
		return Session{}, false
	}
	return session, true
}

func (g *Gateway) loadProvider(ctx context.Context, storage Storage) (OAuthProvider, error) {
	raw, found, err := storage.Get(ctx, ProviderStorageKey)
	if err != nil {
		return OAuthProvider{}, fmt.Errorf("%w: %w", ErrMissingProvider, err)
	}
	if !found || strings.TrimSpace(raw) == "" {
		return OAuthProvider{}, ErrMissingProvider
	}
	var descriptor OAuthProvider
	if err := json.Unmarshal([]byte(raw), &descriptor); err != nil {
		return OAuthProvider{}, fmt.Errorf("%w: %w", ErrMissingProvider, err)
	}
	return descriptor, nil
}

func (g *Gateway) deleteKey(ctx context.Context, storage Storage, key string) {
	if err := storage.Delete(ctx, key); err != nil {
		g.logger.Warn("browser storage delete failed", zap.String("key", key), zap.Error(err))
	}
}

func redirectURI(origin string) string {
	return strings.TrimRight(origin, "/") + callbackPath
}

func statusOf(err error) int {
	var coded interface{ StatusCode() int }
	if errors.As(err, &coded) {
		return coded.StatusCode()
	}
	return 0
}
