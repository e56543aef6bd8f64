// Package token exchanges stored refresh tokens for fresh access tokens at an
// issuer's token endpoint.
package token

import (
	"context"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/jrsteele09/go-wallet-refresh/credential"
	"github.com/jrsteele09/go-wallet-refresh/internal/errors"
)

// Grant is the usable result of a refresh-token exchange.
type Grant struct {
	AccessToken  string
	TokenType    string
	Expiry       time.Time
	RefreshToken string // rotated token when the issuer returned one, else ""
}

// Rotated reports whether the issuer rotated the refresh token relative to the
// one that was presented. A rotation must be persisted before any re-issuance
// attempt: a failed re-issuance must not lose the only valid refresh token.
func (g *Grant) Rotated(previous string) bool {
	return g.RefreshToken != "" && g.RefreshToken != previous
}

// Refresher performs single refresh-token grants against issuer token
// endpoints. When a credential's metadata has no cached token endpoint, the
// endpoint is discovered from the issuer id via OIDC discovery.
type Refresher struct {
	client *http.Client
	logger zerolog.Logger
}

type RefresherOption func(*Refresher)

// WithHTTPClient overrides the HTTP client used for discovery and the token
// exchange.
func WithHTTPClient(client *http.Client) RefresherOption {
	return func(r *Refresher) {
		r.client = client
	}
}

func NewRefresher(logger zerolog.Logger, options ...RefresherOption) *Refresher {
	r := &Refresher{
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

// Refresh performs one refresh-token exchange for the credential behind meta.
// An absent refresh token is terminal for the session and surfaced as
// errors.ErrNoRefreshToken.
func (r *Refresher) Refresh(ctx context.Context, meta *credential.RefreshMetadata) (*Grant, error) {
	if meta == nil {
		return nil, errors.ErrNoRefreshMetadata
	}
	if meta.RefreshToken == "" {
		return nil, errors.ErrNoRefreshToken
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, r.client)

	endpoint := meta.TokenEndpoint
	if endpoint == "" {
		discovered, err := r.discoverTokenEndpoint(ctx, meta.IssuerID)
		if err != nil {
			return nil, err
		}
		endpoint = discovered
	}

	conf := &oauth2.Config{
		ClientID: meta.ClientID,
		Endpoint: oauth2.Endpoint{TokenURL: endpoint},
	}

	r.logger.Info().Str("issuer", meta.IssuerID).Str("tokenEndpoint", endpoint).Msg("refresh token exchange")

	tok, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: meta.RefreshToken}).Token()
	if err != nil {
		return nil, errors.Wrapf(errors.ErrInvalidTokenGrant, "%v", err)
	}
	if tok.AccessToken == "" {
		return nil, errors.ErrNoAccessToken
	}

	grant := &Grant{
		AccessToken: tok.AccessToken,
		TokenType:   tok.Type(),
		Expiry:      tok.Expiry,
	}
	if tok.RefreshToken != "" && tok.RefreshToken != meta.RefreshToken {
		grant.RefreshToken = tok.RefreshToken
		r.logger.Info().Str("issuer", meta.IssuerID).Msg("issuer rotated refresh token")
	}
	return grant, nil
}

func (r *Refresher) discoverTokenEndpoint(ctx context.Context, issuerID string) (string, error) {
	if issuerID == "" {
		return "", errors.ErrNoTokenEndpoint
	}
	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, r.client), issuerID)
	if err != nil {
		return "", errors.Wrapf(err, "discover issuer %s", issuerID)
	}
	endpoint := provider.Endpoint().TokenURL
	if endpoint == "" {
		return "", errors.ErrNoTokenEndpoint
	}
	return endpoint, nil
}
