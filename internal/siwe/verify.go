package siwe

import (
	"context"
	"time"
)

// Verifier checks signed messages against a domain and a nonce store.
type Verifier struct {
	domain string
	nonces NonceStore
	now    func() time.Time
}

// NewVerifier builds a verifier bound to domain. An empty domain skips the domain check.
func NewVerifier(domain string, nonces NonceStore) *Verifier {
	return &Verifier{domain: domain, nonces: nonces, now: time.Now}
}

// Nonce issues a nonce for address.
func (v *Verifier) Nonce(ctx context.Context, address string) (string, error) {
	return v.nonces.Issue(ctx, address)
}

// Verify parses text, validates it, checks the signature and burns the nonce.
func (v *Verifier) Verify(ctx context.Context, text, signature string) (Message, error) {
	msg, err := Parse(text)
	if err != nil {
		return Message{}, err
	}
	if err := msg.Validate(v.domain, v.now()); err != nil {
		return Message{}, err
	}
	if err := VerifySignature(text, signature, msg.Address); err != nil {
		return Message{}, err
	}
	if err := v.nonces.Consume(ctx, msg.Address.Hex(), msg.Nonce); err != nil {
		return Message{}, err
	}
	return msg, nil
}
