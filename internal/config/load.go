package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

const defaultTicketTTL = 24 * time.Hour

// Load reads, resolves, and validates a config file. A validation failure
// here is fatal at startup: the front refuses to run half-configured.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config JSON: %w", err)
	}

	if err := resolve(&cfg); err != nil {
		return Config{}, fmt.Errorf("resolving config: %w", err)
	}

	if result := ValidateConfig(&cfg); len(result.Errors) > 0 {
		return Config{}, fmt.Errorf("config validation failed: %s", result.Errors[0])
	}

	return cfg, nil
}

// resolve expands env references and fills computed fields
func resolve(cfg *Config) error {
	if len(cfg.Provider.ClientSecretRaw) > 0 {
		secret, err := ParseConfigValue(cfg.Provider.ClientSecretRaw)
		if err != nil {
			return fmt.Errorf("provider.clientSecret: %w", err)
		}
		cfg.Provider.ClientSecret = Secret(secret)
	}

	if len(cfg.Session.TicketSecretRaw) > 0 {
		secret, err := ParseConfigValue(cfg.Session.TicketSecretRaw)
		if err != nil {
			return fmt.Errorf("session.ticketSecret: %w", err)
		}
		cfg.Session.TicketSecret = Secret(secret)
	}

	cfg.Session.TicketTTL = defaultTicketTTL
	if cfg.Session.TicketTTLRaw != "" {
		ttl, err := time.ParseDuration(cfg.Session.TicketTTLRaw)
		if err != nil {
			return fmt.Errorf("session.ticketTtl: %w", err)
		}
		cfg.Session.TicketTTL = ttl
	}

	if cfg.Directory.Backend == "" {
		cfg.Directory.Backend = DirectoryBackendMemory
	}
	if cfg.Provisioning == "" {
		cfg.Provisioning = ProvisioningBySubject
	}
	if cfg.Front.Addr == "" {
		cfg.Front.Addr = ":8080"
	}
	if cfg.Front.Name == "" {
		cfg.Front.Name = "sso-front"
	}

	return nil
}

// ValidationError describes a single config problem
type ValidationError struct {
	Path    string
	Message string
}

func (e ValidationError) String() string {
	if e.Path == "" {
		return e.Message
	}
	return e.Path + ": " + e.Message
}

// ValidationResult collects errors and warnings from config validation
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// ValidateConfig checks that every required provider setting is present.
// Missing keys are collected rather than failing fast so an operator sees
// the full list in one run.
func ValidateConfig(cfg *Config) ValidationResult {
	var result ValidationResult

	required := []struct {
		path  string
		value string
	}{
		{"provider.authorizationEndpoint", cfg.Provider.AuthorizationEndpoint},
		{"provider.loginUrl", cfg.Provider.LoginURL},
		{"provider.accessTokenUrl", cfg.Provider.AccessTokenURL},
		{"provider.userInfoUrl", cfg.Provider.UserInfoURL},
		{"provider.redirectUrl", cfg.Provider.RedirectURL},
		{"provider.responseType", cfg.Provider.ResponseType},
		{"provider.scope", cfg.Provider.Scope},
		{"provider.identityProvider", cfg.Provider.IdentityProvider},
		{"provider.clientId", cfg.Provider.ClientID},
		{"provider.clientSecret", string(cfg.Provider.ClientSecret)},
	}
	for _, req := range required {
		if req.value == "" {
			result.Errors = append(result.Errors, ValidationError{
				Path:    req.path,
				Message: "required configuration option not found",
			})
		}
	}

	switch cfg.Directory.Backend {
	case DirectoryBackendMemory:
		// No further settings
	case DirectoryBackendFirestore:
		if cfg.Directory.FirestoreProject == "" {
			result.Errors = append(result.Errors, ValidationError{
				Path:    "directory.firestoreProject",
				Message: "required when backend is firestore",
			})
		}
	default:
		result.Errors = append(result.Errors, ValidationError{
			Path:    "directory.backend",
			Message: fmt.Sprintf("unknown backend %q", cfg.Directory.Backend),
		})
	}

	switch cfg.Provisioning {
	case ProvisioningBySubject, ProvisioningByEmail:
	default:
		result.Errors = append(result.Errors, ValidationError{
			Path:    "provisioning",
			Message: fmt.Sprintf("unknown mode %q", cfg.Provisioning),
		})
	}

	if cfg.Session.TicketSecret == "" {
		result.Warnings = append(result.Warnings, ValidationError{
			Path:    "session.ticketSecret",
			Message: "not set; a process-local random key will be generated and tickets will not survive restarts",
		})
	}

	return result
}

// ValidateFile loads and validates a config file without starting anything.
// Used by the -validate CLI mode.
func ValidateFile(path string) (ValidationResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ValidationResult{}, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return ValidationResult{}, fmt.Errorf("parsing config JSON: %w", err)
	}

	if err := resolve(&cfg); err != nil {
		return ValidationResult{
			Errors: []ValidationError{{Message: err.Error()}},
		}, nil
	}

	return ValidateConfig(&cfg), nil
}
