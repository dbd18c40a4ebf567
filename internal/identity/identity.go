// Package identity acquires bearer tokens with the OAuth2 client-credential
// flow against the Microsoft identity platform.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"

	"relaybot/internal/domain"
)

// expiryDelta refreshes cached tokens slightly before they expire.
const expiryDelta = 60 * time.Second

// fetchTimeout bounds a shared token request. It outlives the caller that
// started it so other callers of the same scope are not cut short.
const fetchTimeout = 30 * time.Second

var ErrMissingCredentials = errors.New("identity: tenant id, client id and client secret are required")

type Config struct {
	TenantID      string
	ClientID      string
	ClientSecret  string
	AuthorityHost string // e.g. https://login.microsoftonline.com
	HTTPClient    *http.Client
	Logger        *slog.Logger
}

// ClientCredentials implements domain.TokenProvider. Tokens are cached per
// scope and shared by concurrent callers until shortly before expiry. At most
// one request per scope is in flight; scopes never wait on each other.
type ClientCredentials struct {
	tenantID     string
	clientID     string
	clientSecret string
	tokenURL     string
	client       *http.Client
	logger       *slog.Logger

	group  singleflight.Group
	mu     sync.Mutex
	tokens map[string]*oauth2.Token
}

var _ domain.TokenProvider = (*ClientCredentials)(nil)

func New(cfg Config) (*ClientCredentials, error) {
	if cfg.TenantID == "" || cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, ErrMissingCredentials
	}
	if cfg.AuthorityHost == "" {
		cfg.AuthorityHost = "https://login.microsoftonline.com"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &ClientCredentials{
		tenantID:     cfg.TenantID,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		tokenURL:     TokenURL(cfg.AuthorityHost, cfg.TenantID),
		client:       cfg.HTTPClient,
		logger:       cfg.Logger,
		tokens:       make(map[string]*oauth2.Token),
	}, nil
}

// TokenURL returns the v2.0 token endpoint of a tenant.
func TokenURL(authorityHost, tenantID string) string {
	return strings.TrimRight(authorityHost, "/") + "/" + tenantID + "/oauth2/v2.0/token"
}

// GetToken returns a bearer token for scope. The caller stops waiting when ctx
// is done, even if a request started by another caller is still running.
func (c *ClientCredentials) GetToken(ctx context.Context, scope string) (domain.Token, error) {
	if scope == "" {
		return domain.Token{}, errors.New("identity: empty scope")
	}
	if err := ctx.Err(); err != nil {
		return domain.Token{}, fmt.Errorf("acquire token for %s: %w", scope, err)
	}
	if tok := c.cached(scope); tok != nil {
		return toDomain(tok), nil
	}

	ch := c.group.DoChan(scope, func() (any, error) {
		return c.fetch(context.WithoutCancel(ctx), scope)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return domain.Token{}, res.Err
		}
		return toDomain(res.Val.(*oauth2.Token)), nil
	case <-ctx.Done():
		return domain.Token{}, fmt.Errorf("acquire token for %s: %w", scope, ctx.Err())
	}
}

func (c *ClientCredentials) cached(scope string) *oauth2.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tok, ok := c.tokens[scope]; ok && fresh(tok) {
		return tok
	}
	return nil
}

func (c *ClientCredentials) fetch(ctx context.Context, scope string) (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	cc := clientcredentials.Config{
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
		TokenURL:     c.tokenURL,
		Scopes:       []string{scope},
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	start := time.Now()
	tok, err := cc.Token(context.WithValue(ctx, oauth2.HTTPClient, c.client))

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		delete(c.tokens, scope)
		return nil, fmt.Errorf("acquire token for %s: %w", scope, err)
	}
	c.tokens[scope] = tok

	c.logger.Debug("token acquired",
		"scope", scope,
		"expires_at", tok.Expiry,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return tok, nil
}

func fresh(tok *oauth2.Token) bool {
	if tok.AccessToken == "" {
		return false
	}
	if tok.Expiry.IsZero() {
		return true
	}
	return time.Now().Add(expiryDelta).Before(tok.Expiry)
}

func toDomain(tok *oauth2.Token) domain.Token {
	return domain.Token{Value: tok.AccessToken, ExpiresAt: tok.Expiry}
}
