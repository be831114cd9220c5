package did

import (
	"errors"
	"time"
)

const (
	// Method is the DID method served by this registry.
	Method = "hedera"

	rootKeyFragment      = "#did-root-key"
	keyType              = "Ed25519VerificationKey2018"
	proofType            = "Ed25519Signature2018"
	proofPurpose         = "assertionMethod"
	didContext           = "https://www.w3.org/ns/did/v1"
	credentialContext    = "https://www.w3.org/2018/credentials/v1"
	verifiableCredential = "VerifiableCredential"
)

var (
	ErrNotFound           = errors.New("did not found")
	ErrMalformed          = errors.New("malformed did")
	ErrInvalidPublicKey   = errors.New("public key must be 32 bytes of hex")
	ErrInvalidAccount     = errors.New("invalid hedera account id")
	ErrAlreadyExists      = errors.New("user already has an active did")
	ErrDeactivated        = errors.New("did is deactivated")
	ErrForbidden          = errors.New("did is controlled by another user")
	ErrCredentialNotFound = errors.New("credential not found")
	ErrInvalidCredential  = errors.New("invalid credential")
)

// Document is a W3C DID document.
type Document struct {
	Context            []string             `json:"@context"`
	ID                 string               `json:"id"`
	Controller         string               `json:"controller"`
	AlsoKnownAs        []string             `json:"alsoKnownAs,omitempty"`
	VerificationMethod []VerificationMethod `json:"verificationMethod"`
	Authentication     []string             `json:"authentication"`
	AssertionMethod    []string             `json:"assertionMethod"`
	Service            []ServiceEndpoint    `json:"service,omitempty"`
	Created            time.Time            `json:"created"`
	Updated            time.Time            `json:"updated"`
	Deactivated        bool                 `json:"deactivated,omitempty"`
}

type VerificationMethod struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	Controller      string `json:"controller"`
	PublicKeyBase58 string `json:"publicKeyBase58"`
}

type ServiceEndpoint struct {
	ID              string `json:"id" validate:"required"`
	Type            string `json:"type" validate:"required"`
	ServiceEndpoint string `json:"serviceEndpoint" validate:"required,url"`
}

// Record is a stored document together with the user that controls it.
type Record struct {
	DID       string
	UserID    string
	Document  Document
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Credential is a W3C verifiable credential.
type Credential struct {
	Context           []string       `json:"@context"`
	ID                string         `json:"id"`
	Type              []string       `json:"type"`
	Issuer            string         `json:"issuer"`
	IssuanceDate      time.Time      `json:"issuanceDate"`
	ExpirationDate    *time.Time     `json:"expirationDate,omitempty"`
	CredentialSubject map[string]any `json:"credentialSubject"`
	Proof             *Proof         `json:"proof,omitempty"`
}

// Subject returns the DID the credential was issued to.
func (c Credential) Subject() string {
	id, _ := c.CredentialSubject["id"].(string)
	return id
}

type Proof struct {
	Type               string    `json:"type"`
	Created            time.Time `json:"created"`
	VerificationMethod string    `json:"verificationMethod"`
	ProofPurpose       string    `json:"proofPurpose"`
	ProofValue         string    `json:"proofValue"`
}

// StoredCredential tracks revocation alongside the issued credential.
type StoredCredential struct {
	Credential Credential `json:"credential"`
	RevokedAt  *time.Time `json:"revokedAt,omitempty"`
}

// Verification is the outcome of checking a presented credential.
type Verification struct {
	Valid   bool   `json:"valid"`
	Reason  string `json:"reason,omitempty"`
	Issuer  string `json:"issuer"`
	Subject string `json:"subject"`
}
