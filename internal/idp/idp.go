package idp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/opendataworks/sso-front/internal/config"
	"github.com/opendataworks/sso-front/internal/ioutil"
	"github.com/opendataworks/sso-front/internal/session"
	"golang.org/x/oauth2"
)

// Failure taxonomy. Both are recoverable: the flow degrades to a redirect
// with no identity established, never a 5xx to the browser.
var (
	ErrExchangeFailed      = errors.New("authorization code exchange failed")
	ErrUserInfoUnavailable = errors.New("user info unavailable")
)

// exchangeScope is the scope sent with the code exchange. The provider
// contract fixes this to "openid email" independent of the configured
// login scope; the two are intentionally not unified.
const exchangeScope = "openid email"

const requestTimeout = 30 * time.Second

// UserInfo represents the claims returned by the provider's user-info
// endpoint. Sub is the provider's stable identity; CustomUserID is a
// Cognito-style extension attribute used as the local-lookup key when set.
type UserInfo struct {
	Sub          string `json:"sub"`
	Email        string `json:"email"`
	Username     string `json:"username"`
	Name         string `json:"name"`
	CustomUserID string `json:"custom:userid,omitempty"`
}

// LookupKey returns the claim used to find the local user record
func (u UserInfo) LookupKey() string {
	if u.CustomUserID != "" {
		return u.CustomUserID
	}
	return u.Sub
}

// Client performs the outbound calls of the authorization code flow:
// building the login redirect, exchanging the code, and fetching user info.
type Client struct {
	provider   config.ProviderConfig
	oauth      oauth2.Config
	httpClient *http.Client
}

// New creates a provider client from validated configuration
func New(cfg config.ProviderConfig) *Client {
	return &Client{
		provider: cfg,
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: string(cfg.ClientSecret),
			RedirectURL:  cfg.RedirectURL,
			Scopes:       strings.Fields(cfg.Scope),
			Endpoint: oauth2.Endpoint{
				// The hosted login page, not the bare authorization
				// endpoint: Cognito-style providers drive the flow
				// through their login UI.
				AuthURL:  strings.TrimSuffix(cfg.LoginURL, "?"),
				TokenURL: cfg.AccessTokenURL,
			},
		},
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

// AuthCodeURL builds the provider login redirect. The query carries
// client_id, response_type, scope, redirect_uri, and identity_provider,
// all straight from configuration.
func (c *Client) AuthCodeURL() string {
	return c.oauth.AuthCodeURL("",
		oauth2.SetAuthURLParam("response_type", c.provider.ResponseType),
		oauth2.SetAuthURLParam("identity_provider", c.provider.IdentityProvider),
	)
}

// ExchangeCode exchanges an authorization code for the provider tokens.
//
// The request is built by hand rather than through oauth2.Config.Exchange:
// the provider expects the client credentials both in a Basic auth header
// and in the form body, which the oauth2 package cannot emit at the same
// time. Any transport, status, or decode failure wraps ErrExchangeFailed.
func (c *Client) ExchangeCode(ctx context.Context, code string) (session.TokenSet, error) {
	form := url.Values{
		"client_id":     {c.provider.ClientID},
		"client_secret": {string(c.provider.ClientSecret)},
		"code":          {code},
		"grant_type":    {"authorization_code"},
		"redirect_uri":  {c.provider.RedirectURL},
		"scope":         {exchangeScope},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.provider.AccessTokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return session.TokenSet{}, fmt.Errorf("%w: building request: %w", ErrExchangeFailed, err)
	}
	req.SetBasicAuth(c.provider.ClientID, string(c.provider.ClientSecret))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return session.TokenSet{}, fmt.Errorf("%w: %w", ErrExchangeFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body := ioutil.ReadLimited(resp.Body, 1024)
		return session.TokenSet{}, fmt.Errorf("%w: status %d: %s", ErrExchangeFailed, resp.StatusCode, body)
	}

	var tokens session.TokenSet
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		return session.TokenSet{}, fmt.Errorf("%w: decoding response: %w", ErrExchangeFailed, err)
	}

	return tokens, nil
}

// FetchUserInfo fetches the provider claims for an access token.
// Non-2xx responses and decode failures wrap ErrUserInfoUnavailable.
func (c *Client) FetchUserInfo(ctx context.Context, accessToken string) (UserInfo, error) {
	client := c.oauth.Client(ctx, &oauth2.Token{AccessToken: accessToken})
	client.Timeout = requestTimeout

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.provider.UserInfoURL, nil)
	if err != nil {
		return UserInfo{}, fmt.Errorf("%w: building request: %w", ErrUserInfoUnavailable, err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return UserInfo{}, fmt.Errorf("%w: %w", ErrUserInfoUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body := ioutil.ReadLimited(resp.Body, 1024)
		return UserInfo{}, fmt.Errorf("%w: status %d: %s", ErrUserInfoUnavailable, resp.StatusCode, body)
	}

	var info UserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return UserInfo{}, fmt.Errorf("%w: decoding response: %w", ErrUserInfoUnavailable, err)
	}

	return info, nil
}
