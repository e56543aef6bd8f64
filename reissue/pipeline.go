// Package reissue requests brand-new credential instances from an issuer,
// superseding invalid ones, over the OpenID4VCI credential endpoint.
package reissue

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-wallet-refresh/credential"
	"github.com/jrsteele09/go-wallet-refresh/internal/errors"
	"github.com/jrsteele09/go-wallet-refresh/internal/utils"
	"github.com/jrsteele09/go-wallet-refresh/token"
)

// BindingRequest is what a BindingResolver needs to produce a proof of
// possession for the issuer.
type BindingRequest struct {
	Issuer                    string
	CredentialConfigurationID string
	Nonce                     string
}

// BindingResolver produces the holder's key-binding proof for a credential
// request. How the holder proves possession (which key, which proof type) is
// a host decision, so the strategy is injected.
type BindingResolver interface {
	Proof(ctx context.Context, req BindingRequest) (string, error)
}

// Pipeline requests exactly one new credential instance of the same
// configuration as an invalid original. It never mutates or discards the
// original; demotion happens only through the replacement workflow after
// explicit user acceptance.
type Pipeline struct {
	client   *http.Client
	resolver BindingResolver
	logger   zerolog.Logger
	nowTime  func() time.Time
}

type PipelineOption func(*Pipeline)

// WithHTTPClient overrides the HTTP client used for credential requests.
func WithHTTPClient(client *http.Client) PipelineOption {
	return func(p *Pipeline) {
		p.client = client
	}
}

// WithNowTime sets the clock (primarily for testing)
func WithNowTime(nowFunc func() time.Time) PipelineOption {
	return func(p *Pipeline) {
		p.nowTime = nowFunc
	}
}

func NewPipeline(resolver BindingResolver, logger zerolog.Logger, options ...PipelineOption) (*Pipeline, error) {
	if resolver == nil {
		return nil, fmt.Errorf("[NewPipeline] binding resolver is required")
	}
	p := &Pipeline{
		client:   &http.Client{Timeout: 30 * time.Second},
		resolver: resolver,
		logger:   logger,
		nowTime:  time.Now,
	}
	for _, opt := range options {
		opt(p)
	}
	return p, nil
}

// credentialRequest is the OpenID4VCI credential request body.
type credentialRequest struct {
	CredentialConfigurationID string       `json:"credential_configuration_id"`
	Format                    string       `json:"format"`
	Proof                     requestProof `json:"proof"`
}

type requestProof struct {
	ProofType string `json:"proof_type"`
	JWT       string `json:"jwt"`
}

// credentialResponse covers both the single-credential and batch response
// shapes issuers return.
type credentialResponse struct {
	Credential  string `json:"credential,omitempty"`
	Credentials []any  `json:"credentials,omitempty"`
	CNonce      string `json:"c_nonce,omitempty"`
}

// Reissue requests one new credential of the original's configuration,
// authorized by grant. The returned credential carries fresh provenance: the
// current refresh token, last-checked now, and check result reset to valid.
func (p *Pipeline) Reissue(ctx context.Context, original credential.Credential, grant *token.Grant) (credential.Credential, error) {
	meta := original.RefreshMetadata()
	if meta == nil {
		return nil, errors.ErrNoRefreshMetadata
	}
	if meta.CredentialConfigurationID == "" {
		return nil, errors.ErrNoCredentialConfig
	}
	if meta.CredentialEndpoint == "" {
		return nil, errors.ErrNoCredentialEndpoint
	}
	if grant == nil || grant.AccessToken == "" {
		return nil, errors.ErrNoAccessToken
	}

	oldRef := original.Ref()
	p.logger.Info().Str("credentialId", oldRef.ID).Str("configuration", meta.CredentialConfigurationID).
		Msg("requesting re-issued credential")

	binding := BindingRequest{
		Issuer:                    meta.IssuerID,
		CredentialConfigurationID: meta.CredentialConfigurationID,
	}
	proof, err := p.resolver.Proof(ctx, binding)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve binding proof")
	}

	raw, nonce, err := p.requestCredential(ctx, meta, oldRef.Format, grant, proof)
	if err != nil && nonce != "" {
		// the issuer demands a nonce-bound proof; retry once with it
		binding.Nonce = nonce
		proof, err = p.resolver.Proof(ctx, binding)
		if err != nil {
			return nil, errors.Wrapf(err, "resolve nonce-bound binding proof")
		}
		raw, _, err = p.requestCredential(ctx, meta, oldRef.Format, grant, proof)
	}
	if err != nil {
		return nil, err
	}

	newCred, err := buildCredential(original, meta, raw, p.nowTime(), grant)
	if err != nil {
		return nil, err
	}

	p.logger.Info().Str("credentialId", oldRef.ID).Str("newCredentialId", newCred.Ref().ID).
		Msg("re-issued credential received")
	return newCred, nil
}

// requestCredential returns the raw credential, or a non-empty nonce alongside
// the error when the issuer rejected the proof for lacking one.
func (p *Pipeline) requestCredential(ctx context.Context, meta *credential.RefreshMetadata, format credential.Format, grant *token.Grant, proof string) (string, string, error) {
	body, err := json.Marshal(credentialRequest{
		CredentialConfigurationID: meta.CredentialConfigurationID,
		Format:                    string(format),
		Proof:                     requestProof{ProofType: "jwt", JWT: proof},
	})
	if err != nil {
		return "", "", errors.Wrapf(err, "marshal credential request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, meta.CredentialEndpoint, bytes.NewReader(body))
	if err != nil {
		return "", "", errors.Wrapf(err, "build credential request")
	}
	req.Header.Set("Content-Type", "application/json")
	tokenType := grant.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	req.Header.Set("Authorization", tokenType+" "+grant.AccessToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", "", errors.Wrapf(err, "credential request to %s", meta.CredentialEndpoint)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", errors.Wrapf(err, "read credential response")
	}
	if resp.StatusCode != http.StatusOK {
		var rejected credentialResponse
		if json.Unmarshal(payload, &rejected) == nil && rejected.CNonce != "" {
			return "", rejected.CNonce, fmt.Errorf("credential endpoint requires nonce-bound proof")
		}
		return "", "", fmt.Errorf("credential endpoint returned %d: %s", resp.StatusCode, payload)
	}

	var parsed credentialResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return "", "", errors.Wrapf(err, "decode credential response")
	}

	if creds := utils.ToStringSlice(parsed.Credentials); len(creds) > 0 {
		return creds[0], "", nil
	}
	if parsed.Credential != "" {
		return parsed.Credential, "", nil
	}
	return "", "", errors.ErrEmptyCredentialResponse
}

// buildCredential normalizes the issuer's raw credential into the original's
// format case, with fresh provenance metadata.
func buildCredential(original credential.Credential, meta *credential.RefreshMetadata, raw string, now time.Time, grant *token.Grant) (credential.Credential, error) {
	newMeta := *meta
	if grant.RefreshToken != "" {
		newMeta.RefreshToken = grant.RefreshToken
	}
	newMeta.LastCheckedAt = now
	newMeta.LastCheckResult = credential.CheckValid
	newMeta.AttemptCount = 0

	fields := credential.Fields{
		ID:        uuid.NewString(),
		Issuer:    meta.IssuerID,
		CreatedAt: now,
		Metadata:  &newMeta,
	}

	switch original.(type) {
	case *credential.SDJWT:
		return credential.NewSDJWT(fields, raw), nil
	case *credential.W3C:
		return credential.NewW3C(fields, raw), nil
	case *credential.Mdoc:
		issuerSigned, err := base64.RawURLEncoding.DecodeString(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "decode mdoc credential")
		}
		return credential.NewMdoc(fields, issuerSigned), nil
	default:
		return nil, errors.ErrUnsupportedFormat
	}
}
