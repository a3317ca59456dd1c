package connector

import (
	"fmt"
	"net/url"
	"time"

	"github.com/fyrsmithlabs/rerankd/internal/config"
)

// CredentialType selects how the transport authenticates against the
// remote scoring service.
type CredentialType string

const (
	// CredentialNone sends no credentials.
	CredentialNone CredentialType = "none"
	// CredentialAPIKey sends a static key in a configurable header.
	CredentialAPIKey CredentialType = "api_key"
	// CredentialBearer sends a static bearer token.
	CredentialBearer CredentialType = "bearer"
	// CredentialBasic sends HTTP basic auth.
	CredentialBasic CredentialType = "basic"
	// CredentialOAuth2 obtains tokens via the client-credentials flow.
	CredentialOAuth2 CredentialType = "oauth2"
)

// Credentials holds connector credential material. Secret values are
// wrapped in config.Secret so serialized views and logs never leak them.
type Credentials struct {
	Type CredentialType `json:"type"`

	// Header is the header name for api_key credentials. Defaults to
	// "X-Api-Key" with the raw key as value when empty.
	Header string        `json:"header,omitempty"`
	APIKey config.Secret `json:"api_key,omitempty"`

	Token config.Secret `json:"token,omitempty"`

	Username string        `json:"username,omitempty"`
	Password config.Secret `json:"password,omitempty"`

	TokenURL     string        `json:"token_url,omitempty"`
	ClientID     string        `json:"client_id,omitempty"`
	ClientSecret config.Secret `json:"client_secret,omitempty"`
	Scopes       []string      `json:"scopes,omitempty"`
}

// Validate checks that the credential material required by Type is
// present.
func (c Credentials) Validate() error {
	switch c.Type {
	case "", CredentialNone:
		return nil
	case CredentialAPIKey:
		if !c.APIKey.IsSet() {
			return fmt.Errorf("%w: api_key credentials require api_key", ErrInvalidConfig)
		}
	case CredentialBearer:
		if !c.Token.IsSet() {
			return fmt.Errorf("%w: bearer credentials require token", ErrInvalidConfig)
		}
	case CredentialBasic:
		if c.Username == "" || !c.Password.IsSet() {
			return fmt.Errorf("%w: basic credentials require username and password", ErrInvalidConfig)
		}
	case CredentialOAuth2:
		if c.TokenURL == "" || c.ClientID == "" || !c.ClientSecret.IsSet() {
			return fmt.Errorf("%w: oauth2 credentials require token_url, client_id and client_secret", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown credential type %q", ErrInvalidConfig, c.Type)
	}
	return nil
}

// Config is a named, versioned connector description: where the remote
// scoring service lives and how to translate requests and responses for
// it.
type Config struct {
	ID          string `json:"connector_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Version     int    `json:"version"`

	// Endpoint is the full URL of the remote scoring endpoint.
	Endpoint string `json:"endpoint"`

	// Model is the provider-side model name passed to the pre-process
	// transform. Optional for single-model deployments.
	Model string `json:"model,omitempty"`

	// PreProcess and PostProcess name registered transforms. The pair
	// must keep index alignment: response index i refers to submitted
	// document i.
	PreProcess  string `json:"pre_process"`
	PostProcess string `json:"post_process"`

	// Timeout bounds a single scoring call. Zero falls back to the
	// transport default.
	Timeout config.Duration `json:"timeout,omitempty"`

	Credentials Credentials `json:"credentials"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy. Resolve hands out clones so callers can never
// mutate registry state.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	out := *c
	if c.Credentials.Scopes != nil {
		out.Credentials.Scopes = append([]string(nil), c.Credentials.Scopes...)
	}
	return &out
}

// validateEndpoint checks the transport target is a well-formed http(s)
// URL.
func validateEndpoint(endpoint string) error {
	if endpoint == "" {
		return fmt.Errorf("%w: endpoint is required", ErrInvalidConfig)
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("%w: endpoint %q: %v", ErrInvalidConfig, endpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: endpoint scheme must be http or https, got %q", ErrInvalidConfig, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: endpoint %q has no host", ErrInvalidConfig, endpoint)
	}
	return nil
}

// Binding ties a deployed model identifier to a registered connector.
// Pipeline definitions reference models, not connectors, so a connector
// can be re-deployed without touching pipelines.
type Binding struct {
	ModelID     string    `json:"model_id"`
	Name        string    `json:"name"`
	ConnectorID string    `json:"connector_id"`
	CreatedAt   time.Time `json:"created_at"`
}
