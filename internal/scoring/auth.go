package scoring

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/fyrsmithlabs/rerankd/internal/connector"
)

// defaultAPIKeyHeader carries api_key credentials when the connector does
// not name a header.
const defaultAPIKeyHeader = "X-Api-Key"

// tokenCache caches OAuth2 client-credentials token sources per connector
// version, so tokens are reused across scoring calls instead of fetched
// per request.
type tokenCache struct {
	mu      sync.Mutex
	sources map[string]oauth2.TokenSource
}

func newTokenCache() *tokenCache {
	return &tokenCache{sources: make(map[string]oauth2.TokenSource)}
}

func (c *tokenCache) source(cfg *connector.Config) oauth2.TokenSource {
	// Key includes the version so a credential rotation invalidates the
	// cached source.
	key := cfg.ID + "/" + strconv.Itoa(cfg.Version)

	c.mu.Lock()
	defer c.mu.Unlock()

	if ts, ok := c.sources[key]; ok {
		return ts
	}

	cc := clientcredentials.Config{
		ClientID:     cfg.Credentials.ClientID,
		ClientSecret: cfg.Credentials.ClientSecret.Value(),
		TokenURL:     cfg.Credentials.TokenURL,
		Scopes:       cfg.Credentials.Scopes,
	}
	// Background context: token refresh outlives any single scoring call.
	ts := cc.TokenSource(context.Background())
	c.sources[key] = ts
	return ts
}

// applyCredentials attaches the connector's credentials to an outbound
// request.
func (a *Adapter) applyCredentials(req *http.Request, cfg *connector.Config) error {
	switch cfg.Credentials.Type {
	case "", connector.CredentialNone:
		return nil
	case connector.CredentialAPIKey:
		header := cfg.Credentials.Header
		if header == "" {
			header = defaultAPIKeyHeader
		}
		req.Header.Set(header, cfg.Credentials.APIKey.Value())
	case connector.CredentialBearer:
		req.Header.Set("Authorization", "Bearer "+cfg.Credentials.Token.Value())
	case connector.CredentialBasic:
		req.SetBasicAuth(cfg.Credentials.Username, cfg.Credentials.Password.Value())
	case connector.CredentialOAuth2:
		token, err := a.tokens.source(cfg).Token()
		if err != nil {
			return fmt.Errorf("fetching oauth2 token: %w", err)
		}
		token.SetAuthHeader(req)
	default:
		return fmt.Errorf("unsupported credential type %q", cfg.Credentials.Type)
	}
	return nil
}
