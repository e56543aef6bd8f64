// Package status checks credentials against issuer-published status lists.
package status

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-wallet-refresh/credential"
	"github.com/jrsteele09/go-wallet-refresh/internal/errors"
)

// Verifier resolves a credential's status-list entry and reports whether the
// credential is still valid. Any failure to reach a verdict is reported as
// invalid (fail-closed): triggering a refresh attempt is preferred over
// silently trusting a credential that cannot be verified.
type Verifier struct {
	client  *http.Client
	retries uint64
	logger  zerolog.Logger
}

type VerifierOption func(*Verifier)

// WithHTTPClient overrides the HTTP client used for status list fetches.
func WithHTTPClient(client *http.Client) VerifierOption {
	return func(v *Verifier) {
		v.client = client
	}
}

// WithRetries sets how many times a status list fetch is retried before the
// verifier fails closed.
func WithRetries(retries uint64) VerifierOption {
	return func(v *Verifier) {
		v.retries = retries
	}
}

func NewVerifier(logger zerolog.Logger, options ...VerifierOption) *Verifier {
	v := &Verifier{
		client:  &http.Client{Timeout: 30 * time.Second},
		retries: 2,
		logger:  logger,
	}
	for _, opt := range options {
		opt(v)
	}
	return v
}

// Verify reports whether cred is still valid. Formats without a
// machine-checkable status mechanism are valid unconditionally; status
// checking is opt-in per format.
func (v *Verifier) Verify(ctx context.Context, cred credential.Credential) bool {
	id := cred.Ref().ID

	switch cred.(type) {
	case *credential.Mdoc:
		return true
	case *credential.SDJWT, *credential.W3C:
	default:
		v.logger.Warn().Str("credentialId", id).Msg("unknown credential case, treating as valid")
		return true
	}

	claim := cred.StatusClaim()
	if claim == nil {
		return true
	}

	revoked, err := v.checkStatusList(ctx, claim)
	if err != nil {
		v.logger.Error().Err(err).Str("credentialId", id).Str("statusList", claim.ListURI).
			Msg("status check failed, failing closed")
		return false
	}
	if revoked {
		v.logger.Info().Str("credentialId", id).Msg("credential revoked on status list")
	}
	return !revoked
}

// statusListResponse is the issuer's status list document. The bitstring is
// base64url-encoded gzip-compressed bytes, leftmost bit first.
type statusListResponse struct {
	StatusList struct {
		Bits int    `json:"bits"`
		Lst  string `json:"lst"`
	} `json:"status_list"`
}

func (v *Verifier) checkStatusList(ctx context.Context, claim *credential.StatusClaim) (bool, error) {
	var body []byte
	fetch := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, claim.ListURI, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		resp, err := v.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("status list fetch returned %d", resp.StatusCode)
		}
		body, err = io.ReadAll(resp.Body)
		return err
	}

	boff := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Second), v.retries), ctx)
	if err := backoff.Retry(fetch, boff); err != nil {
		return false, errors.Wrapf(err, "fetch status list %s", claim.ListURI)
	}

	var doc statusListResponse
	if err := json.Unmarshal(body, &doc); err != nil {
		return false, errors.Wrapf(err, "decode status list document")
	}

	bits, err := decodeBitstring(doc.StatusList.Lst)
	if err != nil {
		return false, errors.Wrapf(err, "decode status list bitstring")
	}

	return statusAt(bits, claim.Index)
}

func decodeBitstring(encoded string) ([]byte, error) {
	compressed, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}
	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

// statusAt tests the bit at index, leftmost (most significant) bit of the
// first byte being index zero.
func statusAt(bits []byte, index int) (bool, error) {
	if index < 0 || index >= len(bits)*8 {
		return false, errors.ErrStatusListIndex
	}
	b := bits[index/8]
	mask := byte(1) << (7 - uint(index%8))
	return b&mask != 0, nil
}
