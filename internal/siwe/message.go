// Package siwe verifies Sign-In with Ethereum (EIP-4361) messages.
package siwe

import (
	"bufio"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const headerSuffix = " wants you to sign in with your Ethereum account:"

var (
	ErrMalformedMessage = errors.New("malformed sign-in message")
	ErrDomainMismatch   = errors.New("sign-in message domain mismatch")
	ErrExpired          = errors.New("sign-in message expired")
	ErrNotYetValid      = errors.New("sign-in message not yet valid")
	ErrBadSignature     = errors.New("signature does not match address")
	ErrInvalidNonce     = errors.New("invalid or expired nonce")
)

// Message is a parsed EIP-4361 message.
type Message struct {
	Domain         string
	Address        common.Address
	Statement      string
	URI            string
	Version        string
	ChainID        int64
	Nonce          string
	IssuedAt       time.Time
	ExpirationTime *time.Time
	NotBefore      *time.Time
}

// Parse reads the EIP-4361 plain-text layout.
func Parse(text string) (Message, error) {
	var msg Message
	sc := bufio.NewScanner(strings.NewReader(strings.ReplaceAll(text, "\r\n", "\n")))

	if !sc.Scan() || !strings.HasSuffix(sc.Text(), headerSuffix) {
		return Message{}, fmt.Errorf("%w: missing header", ErrMalformedMessage)
	}
	msg.Domain = strings.TrimSuffix(sc.Text(), headerSuffix)

	if !sc.Scan() || !common.IsHexAddress(strings.TrimSpace(sc.Text())) {
		return Message{}, fmt.Errorf("%w: missing address", ErrMalformedMessage)
	}
	msg.Address = common.HexToAddress(strings.TrimSpace(sc.Text()))

	var statement []string
	for sc.Scan() {
		line := sc.Text()
		key, value, ok := strings.Cut(line, ": ")
		if !ok {
			if strings.TrimSpace(line) != "" {
				statement = append(statement, line)
			}
			continue
		}
		if err := msg.set(key, value); err != nil {
			return Message{}, err
		}
	}
	msg.Statement = strings.Join(statement, "\n")

	if msg.Nonce == "" || msg.URI == "" || msg.Version == "" {
		return Message{}, fmt.Errorf("%w: nonce, uri and version are required", ErrMalformedMessage)
	}
	return msg, nil
}

func (m *Message) set(key, value string) error {
	var err error
	switch key {
	case "URI":
		m.URI = value
	case "Version":
		m.Version = value
	case "Chain ID":
		m.ChainID, err = strconv.ParseInt(value, 10, 64)
	case "Nonce":
		m.Nonce = value
	case "Issued At":
		m.IssuedAt, err = time.Parse(time.RFC3339, value)
	case "Expiration Time":
		var t time.Time
		if t, err = time.Parse(time.RFC3339, value); err == nil {
			m.ExpirationTime = &t
		}
	case "Not Before":
		var t time.Time
		if t, err = time.Parse(time.RFC3339, value); err == nil {
			m.NotBefore = &t
		}
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedMessage, key, err)
	}
	return nil
}

// Validate checks the domain binding and the validity window.
func (m Message) Validate(domain string, now time.Time) error {
	if domain != "" && !strings.EqualFold(m.Domain, domain) {
		return ErrDomainMismatch
	}
	if m.ExpirationTime != nil && !now.Before(*m.ExpirationTime) {
		return ErrExpired
	}
	if m.NotBefore != nil && now.Before(*m.NotBefore) {
		return ErrNotYetValid
	}
	return nil
}

// String renders the message back into EIP-4361 text. Used to build messages for clients and tests.
func (m Message) String() string {
	var b strings.Builder
	b.WriteString(m.Domain + headerSuffix + "\n")
	b.WriteString(m.Address.Hex() + "\n\n")
	if m.Statement != "" {
		b.WriteString(m.Statement + "\n\n")
	}
	fmt.Fprintf(&b, "URI: %s\nVersion: %s\nChain ID: %d\nNonce: %s\nIssued At: %s",
		m.URI, m.Version, m.ChainID, m.Nonce, m.IssuedAt.UTC().Format(time.RFC3339))
	if m.ExpirationTime != nil {
		fmt.Fprintf(&b, "\nExpiration Time: %s", m.ExpirationTime.UTC().Format(time.RFC3339))
	}
	if m.NotBefore != nil {
		fmt.Fprintf(&b, "\nNot Before: %s", m.NotBefore.UTC().Format(time.RFC3339))
	}
	return b.String()
}
