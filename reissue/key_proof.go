package reissue

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const proofJWTType = "openid4vci-proof+jwt"

// KeyProofResolver is the default BindingResolver: an ed25519 key-binding JWT
// proof with the public key carried in the header as a JWK.
type KeyProofResolver struct {
	key     ed25519.PrivateKey
	nowTime func() time.Time
}

type KeyProofOption func(*KeyProofResolver)

// WithProofNowTime sets the clock (primarily for testing)
func WithProofNowTime(nowFunc func() time.Time) KeyProofOption {
	return func(r *KeyProofResolver) {
		r.nowTime = nowFunc
	}
}

func NewKeyProofResolver(key ed25519.PrivateKey, options ...KeyProofOption) (*KeyProofResolver, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("[NewKeyProofResolver] ed25519 private key is required")
	}
	r := &KeyProofResolver{key: key, nowTime: time.Now}
	for _, opt := range options {
		opt(r)
	}
	return r, nil
}

var _ BindingResolver = (*KeyProofResolver)(nil)

// Proof builds and signs the key-binding JWT for one credential request.
func (r *KeyProofResolver) Proof(_ context.Context, req BindingRequest) (string, error) {
	now := r.nowTime()
	claims := jwt.MapClaims{
		"aud": req.Issuer,
		"iat": now.Unix(),
		"jti": uuid.NewString(),
	}
	if req.Nonce != "" {
		claims["nonce"] = req.Nonce
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	tok.Header["typ"] = proofJWTType
	tok.Header["jwk"] = publicJWK(r.key.Public().(ed25519.PublicKey))

	signed, err := tok.SignedString(r.key)
	if err != nil {
		return "", fmt.Errorf("sign key proof: %w", err)
	}
	return signed, nil
}

func publicJWK(pub ed25519.PublicKey) map[string]string {
	return map[string]string{
		"kty": "OKP",
		"crv": "Ed25519",
		"x":   base64.RawURLEncoding.EncodeToString(pub),
	}
}
