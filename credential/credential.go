package credential

import (
	"time"
)

// Format identifies the on-wire shape of a credential held by the wallet.
type Format string

const (
	FormatSDJWTVC Format = "vc+sd-jwt"
	FormatJWTVC   Format = "jwt_vc_json"
	FormatMsoMdoc Format = "mso_mdoc"
)

// CheckResult is the outcome of the most recent status verification.
type CheckResult string

const (
	CheckValid   CheckResult = "valid"
	CheckInvalid CheckResult = "invalid"
	CheckError   CheckResult = "error"
)

// Ref is a lightweight, serializable descriptor of a credential. It never holds
// secret material. A ref is created when the orchestrator first sees a credential
// and superseded (not mutated) when a replacement is accepted.
type Ref struct {
	ID        string    `json:"id"`
	Format    Format    `json:"format"`
	CreatedAt time.Time `json:"createdAt"`
	Issuer    string    `json:"issuer,omitempty"`
}

// StatusClaim points at an issuer-published status list entry for one credential.
// Extracted from the credential at issuance time. Formats without a revocation
// mechanism carry none.
type StatusClaim struct {
	ListURI string `json:"uri"`
	Index   int    `json:"idx"`
}

// RefreshMetadata is the per-credential record driving silent re-issuance.
// The refresh token is the only secret here; it stays inside the encrypted
// record store and is rotated whenever the issuer returns a replacement.
type RefreshMetadata struct {
	IssuerID                  string      `json:"issuerId"`
	TokenEndpoint             string      `json:"tokenEndpoint,omitempty"`
	CredentialEndpoint        string      `json:"credentialEndpoint,omitempty"`
	CredentialConfigurationID string      `json:"credentialConfigurationId"`
	RefreshToken              string      `json:"refreshToken,omitempty"`
	ClientID                  string      `json:"clientId,omitempty"`
	LastCheckedAt             time.Time   `json:"lastCheckedAt,omitempty"`
	LastCheckResult           CheckResult `json:"lastCheckResult,omitempty"`
	AttemptCount              int         `json:"attemptCount,omitempty"`
}

// Credential is the sum type over the credential record shapes the wallet holds.
// Consumers type-switch on the concrete case rather than probing for fields.
type Credential interface {
	Ref() Ref
	RefreshMetadata() *RefreshMetadata
	StatusClaim() *StatusClaim
}

// base carries the fields shared by every credential case.
type base struct {
	ID        string
	Issuer    string
	CreatedAt time.Time
	Metadata  *RefreshMetadata
	Status    *StatusClaim
}

// SDJWT is an IETF SD-JWT VC credential case.
type SDJWT struct {
	base
	Compact string // the compact serialization, disclosures included
}

// W3C is a W3C VC credential case (JWT-secured).
type W3C struct {
	base
	JWT string
}

// Mdoc is an ISO mdoc credential case. It carries no machine-checkable status
// mechanism, so the verifier treats it as valid unconditionally.
type Mdoc struct {
	base
	IssuerSigned []byte // CBOR IssuerSigned structure, opaque to this subsystem
}

func (b base) Ref() Ref {
	return Ref{ID: b.ID, CreatedAt: b.CreatedAt, Issuer: b.Issuer}
}

func (b base) RefreshMetadata() *RefreshMetadata { return b.Metadata }
func (b base) StatusClaim() *StatusClaim         { return b.Status }

func (c *SDJWT) Ref() Ref {
	r := c.base.Ref()
	r.Format = FormatSDJWTVC
	return r
}

func (c *W3C) Ref() Ref {
	r := c.base.Ref()
	r.Format = FormatJWTVC
	return r
}

func (c *Mdoc) Ref() Ref {
	r := c.base.Ref()
	r.Format = FormatMsoMdoc
	return r
}

// Mdocs never expose a status claim even if one was recorded by mistake.
func (c *Mdoc) StatusClaim() *StatusClaim { return nil }

// Fields groups the common constructor arguments for the credential cases.
type Fields struct {
	ID        string
	Issuer    string
	CreatedAt time.Time
	Metadata  *RefreshMetadata
	Status    *StatusClaim
}

func NewSDJWT(f Fields, compact string) *SDJWT {
	return &SDJWT{base: newBase(f), Compact: compact}
}

func NewW3C(f Fields, jwt string) *W3C {
	return &W3C{base: newBase(f), JWT: jwt}
}

func NewMdoc(f Fields, issuerSigned []byte) *Mdoc {
	return &Mdoc{base: newBase(f), IssuerSigned: issuerSigned}
}

func newBase(f Fields) base {
	return base{
		ID:        f.ID,
		Issuer:    f.Issuer,
		CreatedAt: f.CreatedAt,
		Metadata:  f.Metadata,
		Status:    f.Status,
	}
}
