package did

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/mr-tron/base58"
)

// issuerAccount stands in for the platform's Hedera account in its own DID.
const issuerAccount = "0.0.0"

var (
	accountPattern = regexp.MustCompile(`^\d+\.\d+\.\d+$`)
	didPattern     = regexp.MustCompile(`^did:hedera:([a-z]+):([1-9A-HJ-NP-Za-km-z]+)_(\d+\.\d+\.\d+)$`)
)

// Identifier derives the DID for an Ed25519 public key bound to a Hedera account.
func Identifier(network string, pub ed25519.PublicKey, accountID string) string {
	sum := sha256.Sum256(pub)
	return fmt.Sprintf("did:%s:%s:%s_%s", Method, network, base58.Encode(sum[:]), accountID)
}

// Parse splits a DID into its network, key fingerprint and account id.
func Parse(did string) (network, fingerprint, accountID string, err error) {
	m := didPattern.FindStringSubmatch(did)
	if m == nil {
		return "", "", "", ErrMalformed
	}
	return m[1], m[2], m[3], nil
}

func newDocument(id string, pub ed25519.PublicKey) Document {
	keyID := id + rootKeyFragment
	return Document{
		Context:    []string{didContext},
		ID:         id,
		Controller: id,
		VerificationMethod: []VerificationMethod{{
			ID:              keyID,
			Type:            keyType,
			Controller:      id,
			PublicKeyBase58: base58.Encode(pub),
		}},
		Authentication:  []string{keyID},
		AssertionMethod: []string{keyID},
	}
}

// Issuer signs credentials with the platform key.
type Issuer struct {
	DID  string
	key  ed25519.PrivateKey
	pub  ed25519.PublicKey
	root string
}

// NewIssuer derives the platform signing key from seed. The same seed always
// yields the same issuer DID.
func NewIssuer(seed, network string) (*Issuer, error) {
	if strings.TrimSpace(seed) == "" {
		return nil, errors.New("issuer seed must not be empty")
	}
	sum := sha256.Sum256([]byte(seed))
	key := ed25519.NewKeyFromSeed(sum[:])
	pub := key.Public().(ed25519.PublicKey)
	id := Identifier(network, pub, issuerAccount)
	return &Issuer{DID: id, key: key, pub: pub, root: id + rootKeyFragment}, nil
}

// Document returns the issuer's own DID document so verifiers can resolve its key.
func (i *Issuer) Document() Document {
	return newDocument(i.DID, i.pub)
}

// canonical is the signing payload: the credential encoded without its proof.
// Struct fields encode in declaration order and map keys sorted.
func canonical(c Credential) ([]byte, error) {
	c.Proof = nil
	return json.Marshal(c)
}

func (i *Issuer) sign(c Credential) (string, error) {
	payload, err := canonical(c)
	if err != nil {
		return "", err
	}
	return base58.Encode(ed25519.Sign(i.key, payload)), nil
}

func (i *Issuer) verify(c Credential) bool {
	if c.Proof == nil || c.Proof.VerificationMethod != i.root {
		return false
	}
	sig, err := base58.Decode(c.Proof.ProofValue)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	payload, err := canonical(c)
	if err != nil {
		return false
	}
	return ed25519.Verify(i.pub, payload, sig)
}

func normalize(c Credential) (Credential, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return Credential{}, err
	}
	var out Credential
	if err := json.Unmarshal(raw, &out); err != nil {
		return Credential{}, err
	}
	return out, nil
}
