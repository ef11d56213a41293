package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Secret is a string type that redacts itself when printed
type Secret string

// String implements fmt.Stringer to redact the secret
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "***"
}

// MarshalJSON implements json.Marshaler to prevent secrets in JSON logs
func (s Secret) MarshalJSON() ([]byte, error) {
	if s == "" {
		return json.Marshal("")
	}
	return json.Marshal("***")
}

// DirectoryBackend selects the user directory implementation
type DirectoryBackend string

const (
	DirectoryBackendMemory    DirectoryBackend = "memory"
	DirectoryBackendFirestore DirectoryBackend = "firestore"
)

// ProvisioningMode selects how provider identities are matched to local users
type ProvisioningMode string

const (
	// ProvisioningBySubject keys local users on the provider's stable
	// subject id (custom:userid / sub claim)
	ProvisioningBySubject ProvisioningMode = "subject"

	// ProvisioningByEmail keys local users on the email claim, for
	// providers that do not expose a stable subject
	ProvisioningByEmail ProvisioningMode = "email"
)

// ProviderConfig holds the identity provider settings. All fields are
// required; Configure refuses to start when any is missing.
type ProviderConfig struct {
	AuthorizationEndpoint string          `json:"authorizationEndpoint"`
	LoginURL              string          `json:"loginUrl"`
	AccessTokenURL        string          `json:"accessTokenUrl"`
	UserInfoURL           string          `json:"userInfoUrl"`
	RedirectURL           string          `json:"redirectUrl"`
	ResponseType          string          `json:"responseType"`
	Scope                 string          `json:"scope"`
	IdentityProvider      string          `json:"identityProvider"`
	ClientID              string          `json:"clientId"`
	ClientSecretRaw       json.RawMessage `json:"clientSecret,omitempty"`

	// Computed fields
	ClientSecret Secret `json:"-"`
}

// DirectoryConfig selects and configures the local user directory
type DirectoryConfig struct {
	Backend             DirectoryBackend `json:"backend"`
	FirestoreProject    string           `json:"firestoreProject,omitempty"`
	FirestoreDatabase   string           `json:"firestoreDatabase,omitempty"`
	FirestoreCollection string           `json:"firestoreCollection,omitempty"`
}

// SessionConfig configures the local auth ticket
type SessionConfig struct {
	TicketSecretRaw json.RawMessage `json:"ticketSecret,omitempty"`
	TicketTTL       time.Duration   `json:"-"`
	TicketTTLRaw    string          `json:"ticketTtl,omitempty"`

	// Computed fields
	TicketSecret Secret `json:"-"`
}

// FrontConfig holds the HTTP surface settings
type FrontConfig struct {
	Addr    string `json:"addr"`
	BaseURL string `json:"baseUrl"`
	Name    string `json:"name"`
}

// Config represents the config structure with resolved values
type Config struct {
	Front        FrontConfig      `json:"front"`
	Provider     ProviderConfig   `json:"provider"`
	Directory    DirectoryConfig  `json:"directory"`
	Session      SessionConfig    `json:"session"`
	Provisioning ProvisioningMode `json:"provisioning,omitempty"`
}

// ParseConfigValue parses a JSON value that is either a plain string or an
// environment reference object of the form {"$env": "VAR_NAME"}.
//
// The explicit JSON syntax is used instead of bash-like $VAR substitution so
// config files stay inert in shell contexts and references are validated at
// parse time.
func ParseConfigValue(raw json.RawMessage) (string, error) {
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str, nil
	}

	var ref map[string]string
	if err := json.Unmarshal(raw, &ref); err != nil {
		return "", fmt.Errorf("config value must be string or reference object")
	}

	envVar, ok := ref["$env"]
	if !ok {
		return "", fmt.Errorf("unknown reference type in config value")
	}

	value := os.Getenv(envVar)
	if value == "" {
		return "", fmt.Errorf("environment variable %s not set", envVar)
	}
	// Strip surrounding quotes if present (only matching pairs)
	if len(value) >= 2 {
		if (value[0] == '"' && value[len(value)-1] == '"') ||
			(value[0] == '\'' && value[len(value)-1] == '\'') {
			value = value[1 : len(value)-1]
		}
	}
	return value, nil
}
