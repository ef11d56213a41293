package authflow

import (
	"context"
	"errors"
	"testing"

	"github.com/opendataworks/sso-front/internal/config"
	"github.com/opendataworks/sso-front/internal/directory"
	"github.com/opendataworks/sso-front/internal/idp"
	"github.com/opendataworks/sso-front/internal/provision"
	"github.com/opendataworks/sso-front/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	authCodeURL string

	exchangeErr error
	tokens      session.TokenSet

	userInfoErr error
	info        idp.UserInfo

	exchangedCode string
	fetchedToken  string
}

func (f *fakeProvider) AuthCodeURL() string { return f.authCodeURL }

func (f *fakeProvider) ExchangeCode(_ context.Context, code string) (session.TokenSet, error) {
	f.exchangedCode = code
	if f.exchangeErr != nil {
		return session.TokenSet{}, f.exchangeErr
	}
	return f.tokens, nil
}

func (f *fakeProvider) FetchUserInfo(_ context.Context, accessToken string) (idp.UserInfo, error) {
	f.fetchedToken = accessToken
	if f.userInfoErr != nil {
		return idp.UserInfo{}, f.userInfoErr
	}
	return f.info, nil
}

type recordingUsers struct {
	*provision.Provisioner
	getOrCreateCalls int
	processCalls     int
}

func (r *recordingUsers) GetOrCreate(ctx context.Context, info idp.UserInfo) (*directory.LocalUser, error) {
	r.getOrCreateCalls++
	return r.Provisioner.GetOrCreate(ctx, info)
}

func (r *recordingUsers) ProcessUser(ctx context.Context, info idp.UserInfo) (*directory.LocalUser, error) {
	r.processCalls++
	return r.Provisioner.ProcessUser(ctx, info)
}

func testConfig() config.Config {
	return config.Config{
		Provider: config.ProviderConfig{
			AuthorizationEndpoint: "https://auth.example.com",
			LoginURL:              "https://auth.example.com/login",
			AccessTokenURL:        "https://auth.example.com/oauth2/token",
			UserInfoURL:           "https://auth.example.com/oauth2/userInfo",
			RedirectURL:           "https://portal.example.com/",
			ResponseType:          "code",
			Scope:                 "openid email profile",
			IdentityProvider:      "AzureAD",
			ClientID:              "client-123",
			ClientSecret:          "s3cret",
		},
		Directory:    config.DirectoryConfig{Backend: config.DirectoryBackendMemory},
		Provisioning: config.ProvisioningBySubject,
	}
}

func newTestFlow(t *testing.T, provider *fakeProvider, users UserProvisioner, cfg config.Config) *Flow {
	t.Helper()
	f := New(provider, users)
	require.NoError(t, f.Configure(cfg))
	return f
}

func TestConfigureRejectsIncompleteConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Provider.ClientID = ""

	f := New(&fakeProvider{}, provision.New(directory.NewMemoryDirectory()))
	err := f.Configure(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider.clientId")
}

func TestIdentifyLoginRedirectsToProvider(t *testing.T) {
	provider := &fakeProvider{authCodeURL: "https://auth.example.com/login?client_id=client-123"}
	f := newTestFlow(t, provider, provision.New(directory.NewMemoryDirectory()), testConfig())

	d := f.Identify(context.Background(), Request{Endpoint: EndpointLogin})

	assert.Equal(t, DecisionRedirect, d.Kind)
	assert.Equal(t, provider.authCodeURL, d.RedirectURL)
	assert.Nil(t, d.Identity)
	assert.False(t, d.Tokens.HasAny())
}

func TestIdentifyLoginSkipsAuthenticatedUser(t *testing.T) {
	f := newTestFlow(t, &fakeProvider{}, provision.New(directory.NewMemoryDirectory()), testConfig())

	d := f.Identify(context.Background(), Request{
		Endpoint: EndpointLogin,
		User:     &directory.LocalUser{Name: "jane"},
	})

	assert.Equal(t, DecisionNone, d.Kind)
}

func TestIdentifyCallbackEstablishesSession(t *testing.T) {
	provider := &fakeProvider{
		tokens: session.TokenSet{
			AccessToken:  "at",
			IDToken:      "idt",
			RefreshToken: "rt",
		},
		info: idp.UserInfo{
			Sub:      "u1",
			Email:    "a@b.com",
			Username: "a@b.com",
			Name:     "A B",
		},
	}
	f := newTestFlow(t, provider, provision.New(directory.NewMemoryDirectory()), testConfig())

	d := f.Identify(context.Background(), Request{Endpoint: EndpointOther, Code: "code-1"})

	assert.Equal(t, "code-1", provider.exchangedCode)
	assert.Equal(t, "at", provider.fetchedToken)

	assert.Equal(t, DecisionRedirect, d.Kind)
	assert.Equal(t, "https://portal.example.com/", d.RedirectURL)
	require.NotNil(t, d.Identity)
	assert.Equal(t, "a", d.Identity.Name)
	assert.Equal(t, provider.tokens, d.Tokens)
	assert.True(t, d.EstablishSession)
	assert.False(t, d.ClearTokens)
	assert.False(t, d.ClearSession)
}

func TestIdentifyCallbackIgnoredWhenAlreadyAuthenticated(t *testing.T) {
	provider := &fakeProvider{}
	f := newTestFlow(t, provider, provision.New(directory.NewMemoryDirectory()), testConfig())

	d := f.Identify(context.Background(), Request{
		Endpoint: EndpointOther,
		Code:     "code-1",
		User:     &directory.LocalUser{Name: "jane"},
	})

	assert.Equal(t, DecisionNone, d.Kind)
	assert.Empty(t, provider.exchangedCode, "no exchange for an established identity")
}

func TestIdentifyFailedExchangeIsSoftFailure(t *testing.T) {
	provider := &fakeProvider{exchangeErr: idp.ErrExchangeFailed}
	f := newTestFlow(t, provider, provision.New(directory.NewMemoryDirectory()), testConfig())

	d := f.Identify(context.Background(), Request{Endpoint: EndpointOther, Code: "bad-code"})

	assert.Equal(t, DecisionRedirect, d.Kind)
	assert.Equal(t, "https://portal.example.com/", d.RedirectURL)
	assert.Nil(t, d.Identity)
	assert.False(t, d.Tokens.HasAny(), "no cookies may be written on a failed exchange")
	assert.False(t, d.EstablishSession)
}

func TestIdentifyFailedUserInfoIsSoftFailure(t *testing.T) {
	provider := &fakeProvider{
		tokens:      session.TokenSet{AccessToken: "at"},
		userInfoErr: idp.ErrUserInfoUnavailable,
	}
	f := newTestFlow(t, provider, provision.New(directory.NewMemoryDirectory()), testConfig())

	d := f.Identify(context.Background(), Request{Endpoint: EndpointOther, Code: "code-1"})

	assert.Equal(t, DecisionRedirect, d.Kind)
	assert.Nil(t, d.Identity)
	assert.False(t, d.EstablishSession)
}

func TestIdentifyFailedProvisioningIsSoftFailure(t *testing.T) {
	provider := &fakeProvider{
		tokens: session.TokenSet{AccessToken: "at"},
		// No subject claims at all, so provisioning must fail
		info: idp.UserInfo{},
	}
	f := newTestFlow(t, provider, provision.New(directory.NewMemoryDirectory()), testConfig())

	d := f.Identify(context.Background(), Request{Endpoint: EndpointOther, Code: "code-1"})

	assert.Equal(t, DecisionRedirect, d.Kind)
	assert.Nil(t, d.Identity)
	assert.False(t, d.EstablishSession)
}

func TestIdentifyLogoutClearsEverything(t *testing.T) {
	f := newTestFlow(t, &fakeProvider{}, provision.New(directory.NewMemoryDirectory()), testConfig())

	d := f.Identify(context.Background(), Request{
		Endpoint: EndpointLogout,
		User:     &directory.LocalUser{Name: "jane"},
	})

	assert.Equal(t, DecisionRedirect, d.Kind)
	assert.Equal(t, "https://portal.example.com/", d.RedirectURL)
	assert.Nil(t, d.Identity)
	assert.True(t, d.ClearTokens)
	assert.True(t, d.ClearSession)
}

func TestIdentifyPassesThroughOrdinaryRequests(t *testing.T) {
	f := newTestFlow(t, &fakeProvider{}, provision.New(directory.NewMemoryDirectory()), testConfig())

	d := f.Identify(context.Background(), Request{Endpoint: EndpointOther})

	assert.Equal(t, Decision{Kind: DecisionNone}, d)
}

func TestIdentifyEmailModeUsesProcessUser(t *testing.T) {
	provider := &fakeProvider{
		tokens: session.TokenSet{AccessToken: "at"},
		info: idp.UserInfo{
			Sub:   "u1",
			Email: "jane@example.com",
			Name:  "Jane Doe",
		},
	}
	users := &recordingUsers{Provisioner: provision.New(directory.NewMemoryDirectory())}

	cfg := testConfig()
	cfg.Provisioning = config.ProvisioningByEmail
	f := newTestFlow(t, provider, users, cfg)

	d := f.Identify(context.Background(), Request{Endpoint: EndpointOther, Code: "code-1"})

	assert.Equal(t, 1, users.processCalls)
	assert.Equal(t, 0, users.getOrCreateCalls)
	require.NotNil(t, d.Identity)
	assert.Equal(t, "jane-doe", d.Identity.Name)
}

func TestLoginShortCircuitsOnTokenCookies(t *testing.T) {
	f := newTestFlow(t, &fakeProvider{}, provision.New(directory.NewMemoryDirectory()), testConfig())

	d := f.Login(context.Background(), Request{
		Tokens: session.TokenSet{AccessToken: "at"},
		User:   &directory.LocalUser{Name: "jane"},
	})

	assert.Equal(t, DecisionNone, d.Kind)
	assert.True(t, d.EstablishSession)
	require.NotNil(t, d.Identity)
	assert.Equal(t, "jane", d.Identity.Name)
}

func TestLoginWithoutTokensDoesNothing(t *testing.T) {
	f := newTestFlow(t, &fakeProvider{}, provision.New(directory.NewMemoryDirectory()), testConfig())

	d := f.Login(context.Background(), Request{})

	assert.Equal(t, Decision{Kind: DecisionNone}, d)
}

func TestProvisioningErrorsDoNotPanicOnWrappedErrors(t *testing.T) {
	provider := &fakeProvider{exchangeErr: errors.New("connection refused")}
	f := newTestFlow(t, provider, provision.New(directory.NewMemoryDirectory()), testConfig())

	d := f.Identify(context.Background(), Request{Endpoint: EndpointOther, Code: "code-1"})
	assert.Equal(t, DecisionRedirect, d.Kind)
}
