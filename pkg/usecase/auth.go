package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/iris/pkg/domain/interfaces"
	"github.com/secmon-lab/iris/pkg/domain/model"
	"github.com/secmon-lab/iris/pkg/domain/types"
	"github.com/secmon-lab/iris/pkg/service/graph"
	"github.com/secmon-lab/iris/pkg/utils/logging"
	"github.com/secmon-lab/iris/pkg/utils/safe"
	"golang.org/x/sync/singleflight"
)

const (
	defaultRefreshMargin = 60 * time.Second
	defaultHTTPTimeout   = 10 * time.Second
)

type AuthUseCase struct {
	repo         interfaces.Repository
	clientID     string
	clientSecret string
	callbackURL  string
	stateSecret  []byte

	authorizeURL    string
	tokenURL        string
	openidConfigURL string
	profileURL      string

	scopes        []string
	refreshMargin time.Duration
	httpClient    *http.Client

	// One refresh per user at a time; concurrent callers share the result
	refreshGroup singleflight.Group
}

var _ interfaces.TokenSource = &AuthUseCase{}

// AuthOption is a functional option for AuthUseCase
type AuthOption func(*AuthUseCase)

// WithAuthEndpoints overrides the authorize and token endpoints
func WithAuthEndpoints(authorizeURL, tokenURL string) AuthOption {
	return func(uc *AuthUseCase) {
		uc.authorizeURL = authorizeURL
		uc.tokenURL = tokenURL
	}
}

// WithOpenIDConfigURL overrides the OpenID Connect discovery endpoint
func WithOpenIDConfigURL(configURL string) AuthOption {
	return func(uc *AuthUseCase) {
		uc.openidConfigURL = configURL
	}
}

// WithProfileURL overrides the profile endpoint used when no usable ID
// token comes back from the token exchange
func WithProfileURL(profileURL string) AuthOption {
	return func(uc *AuthUseCase) {
		uc.profileURL = profileURL
	}
}

// WithScopes overrides the requested OAuth scopes
func WithScopes(scopes ...string) AuthOption {
	return func(uc *AuthUseCase) {
		uc.scopes = scopes
	}
}

// WithRefreshMargin sets how long before expiry a token is refreshed
func WithRefreshMargin(margin time.Duration) AuthOption {
	return func(uc *AuthUseCase) {
		uc.refreshMargin = margin
	}
}

// WithAuthHTTPClient overrides the HTTP client for identity platform calls
func WithAuthHTTPClient(client *http.Client) AuthOption {
	return func(uc *AuthUseCase) {
		uc.httpClient = client
	}
}

func NewAuthUseCase(repo interfaces.Repository, clientID, clientSecret, tenantID, callbackURL string, stateSecret []byte, options ...AuthOption) *AuthUseCase {
	uc := &AuthUseCase{
		repo:         repo,
		clientID:     clientID,
		clientSecret: clientSecret,
		callbackURL:  callbackURL,
		stateSecret:  stateSecret,

		authorizeURL:    fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/authorize", tenantID),
		tokenURL:        fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", tenantID),
		openidConfigURL: fmt.Sprintf("https://login.microsoftonline.com/%s/v2.0/.well-known/openid-configuration", tenantID),
		profileURL:      "https://graph.microsoft.com/v1.0/me",

		scopes: []string{
			"openid", "profile", "email", "offline_access",
			"ChannelMessage.Read.All", "User.Read",
		},
		refreshMargin: defaultRefreshMargin,
		httpClient:    &http.Client{Timeout: defaultHTTPTimeout},
	}

	for _, opt := range options {
		opt(uc)
	}

	return uc
}

// AuthURL returns the URL to start the authorization code flow
func (uc *AuthUseCase) AuthURL(state string) string {
	params := url.Values{}
	params.Set("client_id", uc.clientID)
	params.Set("response_type", "code")
	params.Set("response_mode", "query")
	params.Set("redirect_uri", uc.callbackURL)
	params.Set("scope", strings.Join(uc.scopes, " "))
	params.Set("state", state)

	return uc.authorizeURL + "?" + params.Encode()
}

// OpenIDConfiguration is the subset of the OpenID Connect discovery
// document the callback flow needs
type OpenIDConfiguration struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	JWKSURI               string `json:"jwks_uri"`
}

type tokenResponse struct {
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
	ExpiresIn    int    `json:"expires_in"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	IDToken      string `json:"id_token"`
	Error        string `json:"error"`
	ErrorDesc    string `json:"error_description"`
}

type userIdentity struct {
	Sub   string
	Email string
	Name  string
}

// HandleCallback exchanges the authorization code and stores the session
func (uc *AuthUseCase) HandleCallback(ctx context.Context, code string) (*model.Session, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", uc.callbackURL)

	tokenResp, err := uc.requestToken(ctx, form)
	if err != nil {
		return nil, goerr.Wrap(ErrTokenExchangeFailed, "code exchange failed", goerr.V("cause", err))
	}

	identity, err := uc.resolveIdentity(ctx, tokenResp)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to resolve user identity")
	}

	expiresAt := time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second).UTC()
	session := model.NewSession(types.UserID(identity.Sub), identity.Email, tokenResp.AccessToken, tokenResp.RefreshToken, expiresAt)
	if err := uc.repo.PutSession(ctx, session); err != nil {
		return nil, goerr.Wrap(err, "failed to store session", goerr.V("user_id", session.UserID))
	}

	logging.From(ctx).Info("authorization completed",
		"user_id", session.UserID,
		"email", session.Email,
		"expires_at", session.ExpiresAt,
	)

	return session, nil
}

// GetValidToken returns an access token for the user, refreshing it first
// when it expires inside the safety margin
func (uc *AuthUseCase) GetValidToken(ctx context.Context, userID types.UserID) (string, error) {
	session, err := uc.repo.GetSession(ctx, userID)
	if err != nil {
		return "", goerr.Wrap(ErrNoSession, "failed to load session", goerr.V("user_id", userID), goerr.V("cause", err))
	}

	if !session.ExpiresWithin(uc.refreshMargin) {
		return session.AccessToken, nil
	}

	return uc.refresh(ctx, userID)
}

// ForceRefresh refreshes the token even when the stored one has not
// expired. The fetch client calls this after an upstream 401.
func (uc *AuthUseCase) ForceRefresh(ctx context.Context, userID types.UserID) (string, error) {
	return uc.refresh(ctx, userID)
}

func (uc *AuthUseCase) refresh(ctx context.Context, userID types.UserID) (string, error) {
	token, err, _ := uc.refreshGroup.Do(userID.String(), func() (any, error) {
		return uc.refreshSession(ctx, userID)
	})
	if err != nil {
		return "", err
	}
	return token.(string), nil
}

func (uc *AuthUseCase) refreshSession(ctx context.Context, userID types.UserID) (string, error) {
	session, err := uc.repo.GetSession(ctx, userID)
	if err != nil {
		return "", goerr.Wrap(ErrNoSession, "failed to load session for refresh", goerr.V("user_id", userID), goerr.V("cause", err))
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", session.RefreshToken)

	tokenResp, err := uc.requestToken(ctx, form)
	if err != nil {
		var oauthErr *oauthError
		if errors.As(err, &oauthErr) && oauthErr.Code == "invalid_grant" {
			// The grant is revoked upstream. Drop the session so the user
			// gets sent back through authorization instead of looping here.
			if delErr := uc.repo.DeleteSession(ctx, userID); delErr != nil {
				logging.From(ctx).Error("failed to delete revoked session", "error", delErr, "user_id", userID)
			}
			return "", goerr.Wrap(ErrRefreshFailed, "refresh grant revoked", goerr.V("user_id", userID), goerr.V("cause", err))
		}
		return "", goerr.Wrap(ErrRefreshFailed, "refresh request failed", goerr.V("user_id", userID), goerr.V("cause", err))
	}

	session.AccessToken = tokenResp.AccessToken
	if tokenResp.RefreshToken != "" {
		session.RefreshToken = tokenResp.RefreshToken
	}
	session.ExpiresAt = time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second).UTC()

	if err := uc.repo.PutSession(ctx, session); err != nil {
		return "", goerr.Wrap(err, "failed to store refreshed session", goerr.V("user_id", userID))
	}

	logging.From(ctx).Debug("access token refreshed", "user_id", userID, "expires_at", session.ExpiresAt)

	return session.AccessToken, nil
}

// Logout deletes the user's session
func (uc *AuthUseCase) Logout(ctx context.Context, userID types.UserID) error {
	return uc.repo.DeleteSession(ctx, userID)
}

type oauthError struct {
	Code        string
	Description string
	StatusCode  int
}

func (e *oauthError) Error() string {
	return fmt.Sprintf("oauth error %s (status %d): %s", e.Code, e.StatusCode, e.Description)
}

func (uc *AuthUseCase) requestToken(ctx context.Context, form url.Values) (*tokenResponse, error) {
	form.Set("client_id", uc.clientID)
	form.Set("client_secret", uc.clientSecret)

	encoded := form.Encode()
	req, err := http.NewRequestWithContext(ctx, "POST", uc.tokenURL, strings.NewReader(encoded))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.ContentLength = int64(len(encoded))

	resp, err := uc.httpClient.Do(req)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to make token request")
	}
	defer safe.Close(ctx, resp.Body)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read token response")
	}

	var tokenResp tokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, goerr.Wrap(err, "failed to parse token response", goerr.V("status", resp.StatusCode))
	}

	if resp.StatusCode != http.StatusOK || tokenResp.Error != "" {
		return nil, &oauthError{
			Code:        tokenResp.Error,
			Description: tokenResp.ErrorDesc,
			StatusCode:  resp.StatusCode,
		}
	}
	if tokenResp.AccessToken == "" {
		return nil, goerr.New("token response has no access token")
	}

	return &tokenResp, nil
}

func (uc *AuthUseCase) resolveIdentity(ctx context.Context, tokenResp *tokenResponse) (*userIdentity, error) {
	if tokenResp.IDToken != "" {
		identity, err := uc.decodeIDToken(ctx, tokenResp.IDToken)
		if err == nil {
			return identity, nil
		}
		logging.From(ctx).Warn("ID token verification failed, falling back to profile endpoint", "error", err)
	}

	return uc.fetchProfile(ctx, tokenResp.AccessToken)
}

func (uc *AuthUseCase) getOpenIDConfiguration(ctx context.Context) (*OpenIDConfiguration, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", uc.openidConfigURL, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create request")
	}

	resp, err := uc.httpClient.Do(req)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to fetch OpenID configuration")
	}
	defer safe.Close(ctx, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, goerr.New("failed to fetch OpenID configuration", goerr.V("status", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read OpenID configuration response")
	}

	var config OpenIDConfiguration
	if err := json.Unmarshal(body, &config); err != nil {
		return nil, goerr.Wrap(err, "failed to parse OpenID configuration")
	}

	return &config, nil
}

// decodeIDToken verifies the ID token against the identity platform's
// published keys and extracts the user identity
func (uc *AuthUseCase) decodeIDToken(ctx context.Context, idToken string) (*userIdentity, error) {
	config, err := uc.getOpenIDConfiguration(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get OpenID configuration")
	}

	keySet, err := jwk.Fetch(ctx, config.JWKSURI)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to fetch public keys", goerr.V("jwks_uri", config.JWKSURI))
	}

	// Allow 10 seconds of clock skew to handle time synchronization differences
	token, err := jwt.Parse([]byte(idToken), jwt.WithKeySet(keySet), jwt.WithValidate(true), jwt.WithAudience(uc.clientID), jwt.WithAcceptableSkew(10*time.Second))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to parse or verify ID token")
	}

	identity := &userIdentity{}

	// "oid" is the stable directory object ID; "sub" is only unique per app
	if oid, ok := token.Get("oid"); ok {
		if s, ok := oid.(string); ok {
			identity.Sub = s
		}
	}
	if identity.Sub == "" {
		identity.Sub = token.Subject()
	}
	if identity.Sub == "" {
		return nil, goerr.New("ID token has no subject")
	}

	if email, ok := token.Get("email"); ok {
		if s, ok := email.(string); ok {
			identity.Email = s
		}
	}
	if identity.Email == "" {
		if upn, ok := token.Get("preferred_username"); ok {
			if s, ok := upn.(string); ok {
				identity.Email = s
			}
		}
	}

	if name, ok := token.Get("name"); ok {
		if s, ok := name.(string); ok {
			identity.Name = s
		}
	}

	return identity, nil
}

func (uc *AuthUseCase) fetchProfile(ctx context.Context, accessToken string) (*userIdentity, error) {
	profile, err := graph.FetchProfile(ctx, uc.httpClient, uc.profileURL, accessToken)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to fetch user profile")
	}

	email := profile.Mail
	if email == "" {
		email = profile.UserPrincipalName
	}

	return &userIdentity{
		Sub:   profile.ID,
		Email: email,
		Name:  profile.DisplayName,
	}, nil
}
