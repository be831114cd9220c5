package did

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"

	"github.com/kelo-pay/kelo/internal/logging"
)

// Profiles records the active DID on the user profile.
type Profiles interface {
	SetDID(ctx context.Context, userID, did string) error
}

// Service manages DID documents and platform-issued credentials.
type Service struct {
	repo     Repository
	issuer   *Issuer
	profiles Profiles
	network  string
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(repo Repository, issuer *Issuer, profiles Profiles, network string, logger *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		issuer:   issuer,
		profiles: profiles,
		network:  network,
		logger:   logging.OrDiscard(logger),
		now:      time.Now,
	}
}

// IssuerDID is the DID credentials are issued under.
func (s *Service) IssuerDID() string { return s.issuer.DID }

func decodeKey(publicKeyHex string) (ed25519.PublicKey, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(publicKeyHex), "0x"))
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return nil, ErrInvalidPublicKey
	}
	return ed25519.PublicKey(raw), nil
}

type CreateInput struct {
	UserID       string
	AccountID    string
	PublicKeyHex string
}

// Create registers a DID for the user's Hedera account key.
func (s *Service) Create(ctx context.Context, in CreateInput) (Document, error) {
	if !accountPattern.MatchString(in.AccountID) {
		return Document{}, ErrInvalidAccount
	}
	pub, err := decodeKey(in.PublicKeyHex)
	if err != nil {
		return Document{}, err
	}
	if _, err := s.repo.ActiveForUser(ctx, in.UserID); err == nil {
		return Document{}, ErrAlreadyExists
	} else if !errors.Is(err, ErrNotFound) {
		return Document{}, err
	}

	now := s.now().UTC().Truncate(time.Second)
	id := Identifier(s.network, pub, in.AccountID)
	doc := newDocument(id, pub)
	doc.Created, doc.Updated = now, now
	rec := Record{DID: id, UserID: in.UserID, Document: doc, CreatedAt: now, UpdatedAt: now}
	if err := s.repo.Create(ctx, rec); err != nil {
		return Document{}, err
	}
	if err := s.profiles.SetDID(ctx, in.UserID, id); err != nil {
		rec.Document.Deactivated = true
		if rerr := s.repo.Update(ctx, rec); rerr != nil {
			s.logger.Error("did rollback failed", "did", id, "error", rerr)
		}
		return Document{}, fmt.Errorf("link did: %w", err)
	}
	s.logger.Info("did created", "user_id", in.UserID, "did", id)
	return doc, nil
}

// Resolve returns the document for did, including deactivated ones.
func (s *Service) Resolve(ctx context.Context, did string) (Document, error) {
	if did == s.issuer.DID {
		return s.issuer.Document(), nil
	}
	if _, _, _, err := Parse(did); err != nil {
		return Document{}, err
	}
	rec, err := s.repo.Get(ctx, did)
	if err != nil {
		return Document{}, err
	}
	return rec.Document, nil
}

// Mine returns the caller's active DID document.
func (s *Service) Mine(ctx context.Context, userID string) (Document, error) {
	rec, err := s.repo.ActiveForUser(ctx, userID)
	if err != nil {
		return Document{}, err
	}
	return rec.Document, nil
}

// HasActiveDID feeds the identity factor of the credit score.
func (s *Service) HasActiveDID(ctx context.Context, userID string) (bool, error) {
	_, err := s.repo.ActiveForUser(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *Service) controlled(ctx context.Context, userID, did string) (Record, error) {
	rec, err := s.repo.Get(ctx, did)
	if err != nil {
		return Record{}, err
	}
	if rec.UserID != userID {
		return Record{}, ErrForbidden
	}
	if rec.Document.Deactivated {
		return Record{}, ErrDeactivated
	}
	return rec, nil
}

type KeyInput struct {
	Fragment     string `json:"fragment" validate:"required,alphanum"`
	PublicKeyHex string `json:"public_key" validate:"required"`
}

type UpdateInput struct {
	UserID      string
	DID         string
	Keys        []KeyInput
	Services    []ServiceEndpoint
	AlsoKnownAs []string
}

// Update replaces the additional keys, services and aliases of a document.
// The root key always stays and every key is usable for authentication and
// assertions.
func (s *Service) Update(ctx context.Context, in UpdateInput) (Document, error) {
	rec, err := s.controlled(ctx, in.UserID, in.DID)
	if err != nil {
		return Document{}, err
	}
	doc := rec.Document
	root := doc.VerificationMethod[0]
	methods := []VerificationMethod{root}
	refs := []string{root.ID}
	for _, k := range in.Keys {
		pub, err := decodeKey(k.PublicKeyHex)
		if err != nil {
			return Document{}, err
		}
		id := doc.ID + "#" + k.Fragment
		if slices.Contains(refs, id) {
			return Document{}, fmt.Errorf("%w: duplicate key %s", ErrMalformed, k.Fragment)
		}
		methods = append(methods, VerificationMethod{ID: id, Type: keyType, Controller: doc.ID, PublicKeyBase58: base58.Encode(pub)})
		refs = append(refs, id)
	}
	doc.VerificationMethod = methods
	doc.Authentication = refs
	doc.AssertionMethod = slices.Clone(refs)
	doc.Service = in.Services
	doc.AlsoKnownAs = in.AlsoKnownAs

	now := s.now().UTC().Truncate(time.Second)
	if !now.After(doc.Updated) {
		now = doc.Updated.Add(time.Second)
	}
	doc.Updated = now
	rec.Document, rec.UpdatedAt = doc, now
	if err := s.repo.Update(ctx, rec); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// Deactivate retires a DID and clears it from the profile.
func (s *Service) Deactivate(ctx context.Context, userID, did string) error {
	rec, err := s.controlled(ctx, userID, did)
	if err != nil {
		return err
	}
	now := s.now().UTC().Truncate(time.Second)
	rec.Document.Deactivated = true
	rec.Document.Updated, rec.UpdatedAt = now, now
	if err := s.repo.Update(ctx, rec); err != nil {
		return err
	}
	if err := s.profiles.SetDID(ctx, userID, ""); err != nil {
		return err
	}
	s.logger.Info("did deactivated", "user_id", userID, "did", did)
	return nil
}

type IssueInput struct {
	SubjectDID string
	Types      []string
	Claims     map[string]any
	ExpiresAt  *time.Time
}

// Issue signs a credential about an active subject DID.
func (s *Service) Issue(ctx context.Context, in IssueInput) (Credential, error) {
	subject, err := s.repo.Get(ctx, in.SubjectDID)
	if err != nil {
		return Credential{}, err
	}
	if subject.Document.Deactivated {
		return Credential{}, ErrDeactivated
	}
	now := s.now().UTC().Truncate(time.Second)
	if in.ExpiresAt != nil {
		exp := in.ExpiresAt.UTC().Truncate(time.Second)
		if !exp.After(now) {
			return Credential{}, fmt.Errorf("%w: expiration must be in the future", ErrInvalidCredential)
		}
		in.ExpiresAt = &exp
	}

	types := []string{verifiableCredential}
	for _, t := range in.Types {
		if t != "" && !slices.Contains(types, t) {
			types = append(types, t)
		}
	}
	claims := make(map[string]any, len(in.Claims)+1)
	for k, v := range in.Claims {
		claims[k] = v
	}
	claims["id"] = in.SubjectDID

	c := Credential{
		Context:           []string{credentialContext},
		ID:                "urn:uuid:" + uuid.NewString(),
		Type:              types,
		Issuer:            s.issuer.DID,
		IssuanceDate:      now,
		ExpirationDate:    in.ExpiresAt,
		CredentialSubject: claims,
	}
	// Signed bytes must match the JSON a verifier decodes.
	c, err = normalize(c)
	if err != nil {
		return Credential{}, err
	}
	sig, err := s.issuer.sign(c)
	if err != nil {
		return Credential{}, err
	}
	c.Proof = &Proof{
		Type:               proofType,
		Created:            now,
		VerificationMethod: s.issuer.root,
		ProofPurpose:       proofPurpose,
		ProofValue:         sig,
	}
	if err := s.repo.SaveCredential(ctx, c); err != nil {
		return Credential{}, err
	}
	s.logger.Info("credential issued", "id", c.ID, "subject", in.SubjectDID)
	return c, nil
}

// Verify checks a presented credential. Invalid credentials are reported in
// the result, errors are reserved for storage failures.
func (s *Service) Verify(ctx context.Context, c Credential) (Verification, error) {
	out := Verification{Issuer: c.Issuer, Subject: c.Subject()}
	switch {
	case c.Issuer != s.issuer.DID:
		out.Reason = "unknown issuer"
		return out, nil
	case !s.issuer.verify(c):
		out.Reason = "signature mismatch"
		return out, nil
	case c.ExpirationDate != nil && !s.now().Before(*c.ExpirationDate):
		out.Reason = "expired"
		return out, nil
	}
	stored, err := s.repo.GetCredential(ctx, c.ID)
	if errors.Is(err, ErrCredentialNotFound) {
		out.Reason = "unknown credential"
		return out, nil
	}
	if err != nil {
		return Verification{}, err
	}
	if stored.RevokedAt != nil {
		out.Reason = "revoked"
		return out, nil
	}
	out.Valid = true
	return out, nil
}

// Revoke marks a credential revoked. Revoking twice keeps the first timestamp.
func (s *Service) Revoke(ctx context.Context, id string) error {
	if err := s.repo.Revoke(ctx, id, s.now().UTC()); err != nil {
		return err
	}
	s.logger.Info("credential revoked", "id", id)
	return nil
}

// List returns the credentials issued to did, newest first.
func (s *Service) List(ctx context.Context, did string) ([]StoredCredential, error) {
	return s.repo.ListCredentials(ctx, did)
}

// Credentials lists credentials for did on behalf of a user. An empty did means
// the user's active DID. Only admins may list credentials of other users.
func (s *Service) Credentials(ctx context.Context, userID string, admin bool, did string) ([]StoredCredential, error) {
	var rec Record
	var err error
	if did == "" {
		rec, err = s.repo.ActiveForUser(ctx, userID)
	} else {
		rec, err = s.repo.Get(ctx, did)
	}
	if err != nil {
		return nil, err
	}
	if !admin && rec.UserID != userID {
		return nil, ErrForbidden
	}
	return s.List(ctx, rec.DID)
}
