package auth

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// OAuthProvider is the descriptor returned by the identity provider for one OAuth2
// integration. It is persisted between login start and the callback.
type OAuthProvider struct {
	Name                string `json:"name"`
	DisplayName         string `json:"displayName,omitempty"`
	State               string `json:"state"`
	AuthURL             string `json:"authURL"`
	CodeVerifier        string `json:"codeVerifier"`
	CodeChallenge       string `json:"codeChallenge,omitempty"`
	CodeChallengeMethod string `json:"codeChallengeMethod,omitempty"`
}

// UnmarshalJSON accepts the legacy "authUrl" key when "authURL" is absent.
func (p *OAuthProvider) UnmarshalJSON(data []byte) error {
	type plain OAuthProvider
	var decoded struct {
		plain
		LegacyAuthURL string `json:"authUrl"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*p = OAuthProvider(decoded.plain)
	if p.AuthURL == "" {
		p.AuthURL = decoded.LegacyAuthURL
	}
	return nil
}

// AuthMethods lists the OAuth2 providers offered for the users collection.
type AuthMethods struct {
	Providers []OAuthProvider
}

// UserRecord is the authenticated user as described by the identity provider.
type UserRecord struct {
	ID       string `json:"id"`
	Email    string `json:"email,omitempty"`
	Name     string `json:"name,omitempty"`
	Username string `json:"username,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
	// Preferences is the record store's preferences field, when set.
	Preferences *UserPreferences `json:"preferences,omitempty"`
}

// UserPreferences carries the weather location chosen by the user.
type UserPreferences struct {
	Latitude  *float64 `json:"lat"`
	Longitude *float64 `json:"lon"`
	City      string   `json:"city,omitempty"`
}

// UnmarshalJSON accepts coordinates as numbers or numeric strings; anything else
// leaves the coordinate unset.
func (p *UserPreferences) UnmarshalJSON(data []byte) error {
	var wire struct {
		Latitude  any    `json:"lat"`
		Longitude any    `json:"lon"`
		City      string `json:"city"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*p = UserPreferences{
		Latitude:  coordinate(wire.Latitude),
		Longitude: coordinate(wire.Longitude),
		City:      strings.TrimSpace(wire.City),
	}
	return nil
}

func coordinate(value any) *float64 {
	switch typed := value.(type) {
	case float64:
		return &typed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(typed), 64)
		if err != nil {
			return nil
		}
		return &parsed
	default:
		return nil
	}
}

// AuthResult is a successful code exchange.
type AuthResult struct {
	Token  string
	Record UserRecord
}

// IdentityProvider is the OAuth2 surface of the record store.
type IdentityProvider interface {
	ListAuthMethods(ctx context.Context) (AuthMethods, error)
	AuthWithOAuth2Code(ctx context.Context, provider, code, codeVerifier, redirectURI string) (AuthResult, error)
}

// Session is the persisted authentication state of one browser.
type Session struct {
	Token  string     `json:"token"`
	Record UserRecord `json:"record"`
}

// UserID returns the authenticated user's record identifier.
func (s Session) UserID() string {
	return strings.TrimSpace(s.Record.ID)
}

// Valid reports whether the session holds a token whose exp claim lies after now.
// Tokens without exp are accepted; tokens that cannot be parsed are not.
func (s Session) Valid(now time.Time) bool {
	token := strings.TrimSpace(s.Token)
	if token == "" {
		return false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	expiresAt, err := claims.GetExpirationTime()
	if err != nil {
		return false
	}
	if expiresAt == nil {
		return true
	}
	return expiresAt.After(now)
}

type sessionContextKey struct{}

// ContextWithSession attaches the session so downstream clients can authenticate.
func ContextWithSession(ctx context.Context, session Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, session)
}

// SessionFromContext returns the session attached by ContextWithSession.
func SessionFromContext(ctx context.Context) (Session, bool) {
	if ctx == nil {
		return Session{}, false
	}
	session, ok := ctx.Value(sessionContextKey{}).(Session)
	return session, ok
}

// TokenFromContext returns the record store token of the attached session.
func TokenFromContext(ctx context.Context) string {
	session, ok := SessionFromContext(ctx)
	if !ok {
		return ""
	}
	return session.Token
}
