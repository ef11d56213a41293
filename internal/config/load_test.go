package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const validConfig = `{
  "front": {"addr": ":8080", "baseURL": "https://portal.example.com"},
  "provider": {
    "authorizationEndpoint": "https://idp.example.com/oauth2/authorize",
    "loginUrl": "https://idp.example.com/login?",
    "accessTokenUrl": "https://idp.example.com/oauth2/token",
    "userInfoUrl": "https://idp.example.com/oauth2/userInfo",
    "redirectUrl": "https://portal.example.com/",
    "responseType": "code",
    "scope": "openid email profile",
    "identityProvider": "example-idp",
    "clientId": "client-123",
    "clientSecret": {"$env": "SSO_CLIENT_SECRET"}
  },
  "directory": {"backend": "memory"},
  "session": {"ticketSecret": {"$env": "SSO_TICKET_SECRET"}, "ticketTtl": "12h"}
}`

func TestLoadValidConfig(t *testing.T) {
	t.Setenv("SSO_CLIENT_SECRET", "s3cret")
	t.Setenv("SSO_TICKET_SECRET", "ticket-key")

	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	assert.Equal(t, "client-123", cfg.Provider.ClientID)
	assert.Equal(t, Secret("s3cret"), cfg.Provider.ClientSecret)
	assert.Equal(t, "example-idp", cfg.Provider.IdentityProvider)
	assert.Equal(t, DirectoryBackendMemory, cfg.Directory.Backend)
	assert.Equal(t, ProvisioningBySubject, cfg.Provisioning)
	assert.Equal(t, "12h0m0s", cfg.Session.TicketTTL.String())
	assert.Equal(t, "sso-front", cfg.Front.Name)
}

func TestSecretRedaction(t *testing.T) {
	s := Secret("hunter2")
	assert.Equal(t, "***", s.String())

	data, err := s.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"***"`, string(data))

	assert.Equal(t, "", Secret("").String())
}

func TestLoadMissingEnvVar(t *testing.T) {
	t.Setenv("SSO_TICKET_SECRET", "ticket-key")
	os.Unsetenv("SSO_CLIENT_SECRET")

	_, err := Load(writeConfig(t, validConfig))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SSO_CLIENT_SECRET")
}

func TestLoadMissingRequiredKeyIsFatal(t *testing.T) {
	t.Setenv("SSO_CLIENT_SECRET", "s3cret")
	t.Setenv("SSO_TICKET_SECRET", "ticket-key")

	// No identityProvider
	path := writeConfig(t, `{
	  "provider": {
	    "authorizationEndpoint": "https://idp.example.com/oauth2/authorize",
	    "loginUrl": "https://idp.example.com/login?",
	    "accessTokenUrl": "https://idp.example.com/oauth2/token",
	    "userInfoUrl": "https://idp.example.com/oauth2/userInfo",
	    "redirectUrl": "https://portal.example.com/",
	    "responseType": "code",
	    "scope": "openid email",
	    "clientId": "client-123",
	    "clientSecret": {"$env": "SSO_CLIENT_SECRET"}
	  }
	}`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider.identityProvider")
}

func TestValidateConfigCollectsAllMissingKeys(t *testing.T) {
	var cfg Config
	cfg.Directory.Backend = DirectoryBackendMemory
	cfg.Provisioning = ProvisioningBySubject

	result := ValidateConfig(&cfg)
	assert.Len(t, result.Errors, 10, "every required provider key should be reported")
}

func TestValidateFirestoreBackendRequiresProject(t *testing.T) {
	t.Setenv("SSO_CLIENT_SECRET", "s3cret")
	t.Setenv("SSO_TICKET_SECRET", "ticket-key")

	path := writeConfig(t, `{
	  "provider": {
	    "authorizationEndpoint": "a", "loginUrl": "b", "accessTokenUrl": "c",
	    "userInfoUrl": "d", "redirectUrl": "e", "responseType": "code",
	    "scope": "openid email", "identityProvider": "idp", "clientId": "id",
	    "clientSecret": {"$env": "SSO_CLIENT_SECRET"}
	  },
	  "directory": {"backend": "firestore"}
	}`)

	result, err := ValidateFile(path)
	require.NoError(t, err)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "directory.firestoreProject", result.Errors[0].Path)
}

func TestValidateFileWarnsOnMissingTicketSecret(t *testing.T) {
	t.Setenv("SSO_CLIENT_SECRET", "s3cret")

	path := writeConfig(t, `{
	  "provider": {
	    "authorizationEndpoint": "a", "loginUrl": "b", "accessTokenUrl": "c",
	    "userInfoUrl": "d", "redirectUrl": "e", "responseType": "code",
	    "scope": "openid email", "identityProvider": "idp", "clientId": "id",
	    "clientSecret": {"$env": "SSO_CLIENT_SECRET"}
	  }
	}`)

	result, err := ValidateFile(path)
	require.NoError(t, err)
	assert.Empty(t, result.Errors)
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, "session.ticketSecret", result.Warnings[0].Path)
}

func TestParseConfigValueRejectsUnknownRef(t *testing.T) {
	_, err := ParseConfigValue([]byte(`{"$vault": "secret/foo"}`))
	require.Error(t, err)

	_, err = ParseConfigValue([]byte(`42`))
	require.Error(t, err)
}
