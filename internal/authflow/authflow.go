package authflow

import (
	"context"
	"fmt"

	"github.com/opendataworks/sso-front/internal/config"
	"github.com/opendataworks/sso-front/internal/directory"
	"github.com/opendataworks/sso-front/internal/idp"
	"github.com/opendataworks/sso-front/internal/log"
	"github.com/opendataworks/sso-front/internal/session"
)

// Endpoint classifies the incoming request for the state machine
type Endpoint string

const (
	EndpointLogin  Endpoint = "user.login"
	EndpointLogout Endpoint = "user.logout"
	EndpointOther  Endpoint = "other"
)

// Request is the per-request snapshot the state machine runs on. Tokens
// in flight live here, never on the flow itself, so concurrent requests
// cannot leak state into each other.
type Request struct {
	Endpoint Endpoint
	Code     string               // authorization code from the callback query
	Tokens   session.TokenSet     // token cookies present on the request
	User     *directory.LocalUser // identity already established, if any
}

// DecisionKind says whether the flow wants to answer the request itself
type DecisionKind int

const (
	// DecisionNone passes the request through unauthenticated
	DecisionNone DecisionKind = iota
	// DecisionRedirect answers with a 302
	DecisionRedirect
)

// Decision is the flow's verdict on one request. The host adapter applies
// it: writes or clears cookies, attaches the identity, emits the
// redirect. The flow itself never touches the response.
type Decision struct {
	Kind        DecisionKind
	RedirectURL string

	Identity         *directory.LocalUser
	Tokens           session.TokenSet // written as cookies when non-empty
	EstablishSession bool             // mint the local auth ticket
	ClearTokens      bool
	ClearSession     bool
}

// Authenticator is the contract a host adapter drives. Implementations
// are safe for concurrent use after Configure.
type Authenticator interface {
	Configure(cfg config.Config) error
	Identify(ctx context.Context, req Request) Decision
	Login(ctx context.Context, req Request) Decision
	Logout(ctx context.Context, req Request) Decision
}

// ProviderClient is the slice of the identity provider client the flow
// needs
type ProviderClient interface {
	AuthCodeURL() string
	ExchangeCode(ctx context.Context, code string) (session.TokenSet, error)
	FetchUserInfo(ctx context.Context, accessToken string) (idp.UserInfo, error)
}

// UserProvisioner is the slice of the provisioner the flow needs
type UserProvisioner interface {
	GetOrCreate(ctx context.Context, info idp.UserInfo) (*directory.LocalUser, error)
	ProcessUser(ctx context.Context, info idp.UserInfo) (*directory.LocalUser, error)
}

// Flow is the authentication state machine. Configuration is set once at
// startup and read-only afterwards; everything request-specific arrives
// through Request and leaves through Decision.
type Flow struct {
	provider ProviderClient
	users    UserProvisioner

	redirectURL string
	mode        config.ProvisioningMode
	configured  bool
}

var _ Authenticator = (*Flow)(nil)

// New creates an unconfigured flow. Configure must succeed before the
// flow handles requests.
func New(provider ProviderClient, users UserProvisioner) *Flow {
	return &Flow{provider: provider, users: users}
}

// Configure validates the provider settings and captures the pieces the
// state machine needs. A missing required setting is an error; callers
// treat it as fatal at startup.
func (f *Flow) Configure(cfg config.Config) error {
	if result := config.ValidateConfig(&cfg); len(result.Errors) > 0 {
		return fmt.Errorf("invalid configuration: %s", result.Errors[0])
	}

	f.redirectURL = cfg.Provider.RedirectURL
	f.mode = cfg.Provisioning
	f.configured = true
	return nil
}

// Identify runs the per-request state machine. Transitions are checked
// in priority order; the first match is terminal for the request.
func (f *Flow) Identify(ctx context.Context, req Request) Decision {
	if !f.configured {
		log.LogError("Identify called before Configure")
		return Decision{}
	}

	switch {
	case req.Endpoint == EndpointLogin && req.User == nil:
		log.LogInfoWithFields("authflow", "Redirecting to provider login page", nil)
		return Decision{
			Kind:        DecisionRedirect,
			RedirectURL: f.provider.AuthCodeURL(),
		}

	case req.Endpoint == EndpointLogout:
		return f.Logout(ctx, req)

	case req.Code != "" && req.User == nil:
		return f.identifyFromCode(ctx, req.Code)

	default:
		return Decision{Kind: DecisionNone}
	}
}

// identifyFromCode is the callback path: exchange the code, fetch the
// claims, provision the local user, establish the session. Every provider
// or directory failure degrades to a redirect with no identity; the
// browser never sees a 5xx from here.
func (f *Flow) identifyFromCode(ctx context.Context, code string) Decision {
	softFailure := Decision{Kind: DecisionRedirect, RedirectURL: f.redirectURL}

	tokens, err := f.provider.ExchangeCode(ctx, code)
	if err != nil {
		log.LogErrorWithFields("authflow", "Code exchange failed", map[string]any{
			"error": err.Error(),
		})
		return softFailure
	}

	info, err := f.provider.FetchUserInfo(ctx, tokens.AccessToken)
	if err != nil {
		log.LogErrorWithFields("authflow", "User info fetch failed", map[string]any{
			"error": err.Error(),
		})
		return softFailure
	}

	user, err := f.provisionUser(ctx, info)
	if err != nil {
		log.LogErrorWithFields("authflow", "User provisioning failed", map[string]any{
			"subject": info.Sub,
			"error":   err.Error(),
		})
		return softFailure
	}

	log.LogInfoWithFields("authflow", "User authenticated", map[string]any{
		"name": user.Name,
	})

	return Decision{
		Kind:             DecisionRedirect,
		RedirectURL:      f.redirectURL,
		Identity:         user,
		Tokens:           tokens,
		EstablishSession: true,
	}
}

func (f *Flow) provisionUser(ctx context.Context, info idp.UserInfo) (*directory.LocalUser, error) {
	if f.mode == config.ProvisioningByEmail {
		return f.users.ProcessUser(ctx, info)
	}
	return f.users.GetOrCreate(ctx, info)
}

// Login is the pre-check hook: the presence of any token cookie means a
// login flow already completed, so the host's login view should fall
// through to its local session machinery instead of re-deriving the user.
func (f *Flow) Login(_ context.Context, req Request) Decision {
	if !req.Tokens.HasAny() {
		return Decision{Kind: DecisionNone}
	}

	log.LogDebugWithFields("authflow", "Token cookies present, short-circuiting to local session login", nil)
	return Decision{
		Kind:             DecisionNone,
		Identity:         req.User,
		EstablishSession: true,
	}
}

// Logout clears the local identity and every session cookie, then sends
// the browser to the configured landing URL.
func (f *Flow) Logout(_ context.Context, _ Request) Decision {
	log.LogInfoWithFields("authflow", "User logout", nil)
	return Decision{
		Kind:         DecisionRedirect,
		RedirectURL:  f.redirectURL,
		ClearTokens:  true,
		ClearSession: true,
	}
}
