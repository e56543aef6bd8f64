package reissue_test

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-wallet-refresh/credential"
	"github.com/jrsteele09/go-wallet-refresh/internal/errors"
	"github.com/jrsteele09/go-wallet-refresh/reissue"
	"github.com/jrsteele09/go-wallet-refresh/token"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type staticResolver struct {
	proof string
	calls []reissue.BindingRequest
	err   error
}

func (s *staticResolver) Proof(_ context.Context, req reissue.BindingRequest) (string, error) {
	s.calls = append(s.calls, req)
	return s.proof, s.err
}

func originalSDJWT(endpoint string) credential.Credential {
	return credential.NewSDJWT(credential.Fields{
		ID:        "c1",
		Issuer:    "https://issuer.example.com",
		CreatedAt: testNow.Add(-24 * time.Hour),
		Metadata: &credential.RefreshMetadata{
			IssuerID:                  "https://issuer.example.com",
			CredentialEndpoint:        endpoint,
			CredentialConfigurationID: "org.example.idcard",
			RefreshToken:              "rt-current",
			LastCheckResult:           credential.CheckInvalid,
			AttemptCount:              3,
		},
	}, "eyJ.old.sig")
}

func grant() *token.Grant {
	return &token.Grant{AccessToken: "at-123", TokenType: "Bearer"}
}

func TestReissueRequestsNewCredential(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(map[string]any{"credential": "eyJ.new.sig"})
	}))
	defer srv.Close()

	resolver := &staticResolver{proof: "proof-jwt"}
	p, err := reissue.NewPipeline(resolver, zerolog.Nop(), reissue.WithNowTime(func() time.Time { return testNow }))
	require.NoError(t, err)

	original := originalSDJWT(srv.URL)
	newCred, err := p.Reissue(context.Background(), original, grant())
	require.NoError(t, err)

	require.Equal(t, "Bearer at-123", gotAuth)
	require.Equal(t, "org.example.idcard", gotBody["credential_configuration_id"])
	require.Equal(t, "vc+sd-jwt", gotBody["format"])
	proof := gotBody["proof"].(map[string]any)
	require.Equal(t, "jwt", proof["proof_type"])
	require.Equal(t, "proof-jwt", proof["jwt"])

	require.Len(t, resolver.calls, 1)
	require.Equal(t, "https://issuer.example.com", resolver.calls[0].Issuer)

	sdjwt, ok := newCred.(*credential.SDJWT)
	require.True(t, ok)
	require.Equal(t, "eyJ.new.sig", sdjwt.Compact)
	require.NotEqual(t, "c1", newCred.Ref().ID)
	require.Equal(t, credential.FormatSDJWTVC, newCred.Ref().Format)
}

func TestReissueStampsFreshProvenance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"credentials": []string{"eyJ.new.sig"}})
	}))
	defer srv.Close()

	p, err := reissue.NewPipeline(&staticResolver{proof: "p"}, zerolog.Nop(), reissue.WithNowTime(func() time.Time { return testNow }))
	require.NoError(t, err)

	original := originalSDJWT(srv.URL)
	newCred, err := p.Reissue(context.Background(), original, grant())
	require.NoError(t, err)

	meta := newCred.RefreshMetadata()
	require.Equal(t, "rt-current", meta.RefreshToken)
	require.Equal(t, credential.CheckValid, meta.LastCheckResult)
	require.Equal(t, testNow, meta.LastCheckedAt)
	require.Zero(t, meta.AttemptCount)

	// original untouched
	require.Equal(t, credential.CheckInvalid, original.RefreshMetadata().LastCheckResult)
	require.Equal(t, 3, original.RefreshMetadata().AttemptCount)
}

func TestReissueCarriesRotatedRefreshToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"credential": "eyJ.new.sig"})
	}))
	defer srv.Close()

	p, err := reissue.NewPipeline(&staticResolver{proof: "p"}, zerolog.Nop())
	require.NoError(t, err)

	g := grant()
	g.RefreshToken = "rt-rotated"
	newCred, err := p.Reissue(context.Background(), originalSDJWT(srv.URL), g)
	require.NoError(t, err)
	require.Equal(t, "rt-rotated", newCred.RefreshMetadata().RefreshToken)
}

func TestReissueEmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"c_nonce": "abc"})
	}))
	defer srv.Close()

	p, err := reissue.NewPipeline(&staticResolver{proof: "p"}, zerolog.Nop())
	require.NoError(t, err)

	_, err = p.Reissue(context.Background(), originalSDJWT(srv.URL), grant())
	require.ErrorIs(t, err, errors.ErrEmptyCredentialResponse)
}

func TestReissueRetriesWithNonceBoundProof(t *testing.T) {
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": "invalid_proof", "c_nonce": "nonce-42"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"credential": "eyJ.new.sig"})
	}))
	defer srv.Close()

	resolver := &staticResolver{proof: "p"}
	p, err := reissue.NewPipeline(resolver, zerolog.Nop())
	require.NoError(t, err)

	newCred, err := p.Reissue(context.Background(), originalSDJWT(srv.URL), grant())
	require.NoError(t, err)
	require.Equal(t, 2, attempts)
	require.Len(t, resolver.calls, 2)
	require.Empty(t, resolver.calls[0].Nonce)
	require.Equal(t, "nonce-42", resolver.calls[1].Nonce)
	require.Equal(t, "eyJ.new.sig", newCred.(*credential.SDJWT).Compact)
}

func TestReissueIssuerRejects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_proof"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	p, err := reissue.NewPipeline(&staticResolver{proof: "p"}, zerolog.Nop())
	require.NoError(t, err)

	_, err = p.Reissue(context.Background(), originalSDJWT(srv.URL), grant())
	require.Error(t, err)
	require.Contains(t, err.Error(), "400")
}

func TestReissueRequiresMetadata(t *testing.T) {
	p, err := reissue.NewPipeline(&staticResolver{proof: "p"}, zerolog.Nop())
	require.NoError(t, err)

	bare := credential.NewSDJWT(credential.Fields{ID: "c1"}, "eyJ.old.sig")
	_, err = p.Reissue(context.Background(), bare, grant())
	require.ErrorIs(t, err, errors.ErrNoRefreshMetadata)
}

func TestKeyProofResolver(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	resolver, err := reissue.NewKeyProofResolver(priv, reissue.WithProofNowTime(func() time.Time { return testNow }))
	require.NoError(t, err)

	signed, err := resolver.Proof(context.Background(), reissue.BindingRequest{
		Issuer:                    "https://issuer.example.com",
		CredentialConfigurationID: "org.example.idcard",
		Nonce:                     "nonce-1",
	})
	require.NoError(t, err)

	parsed, err := jwt.Parse(signed, func(tok *jwt.Token) (any, error) {
		require.Equal(t, "EdDSA", tok.Method.Alg())
		return pub, nil
	}, jwt.WithValidMethods([]string{"EdDSA"}), jwt.WithAudience("https://issuer.example.com"), jwt.WithIssuedAt())
	require.NoError(t, err)
	require.True(t, parsed.Valid)

	require.Equal(t, "openid4vci-proof+jwt", parsed.Header["typ"])
	jwk := parsed.Header["jwk"].(map[string]any)
	require.Equal(t, "OKP", jwk["kty"])
	require.Equal(t, "Ed25519", jwk["crv"])

	claims := parsed.Claims.(jwt.MapClaims)
	require.Equal(t, "nonce-1", claims["nonce"])
	require.NotEmpty(t, claims["jti"])
}
