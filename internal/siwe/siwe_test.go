package siwe

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func signText(t *testing.T, text string) (string, string) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	sig, err := crypto.Sign(accounts.TextHash([]byte(text)), key)
	require.NoError(t, err)
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), crypto.PubkeyToAddress(key.PublicKey).Hex()
}

func buildMessage(address, nonce string, exp *time.Time) Message {
	msg := Message{
		Domain:         "kelo.app",
		Statement:      "Sign in to Kelo",
		URI:            "https://kelo.app",
		Version:        "1",
		ChainID:        1,
		Nonce:          nonce,
		IssuedAt:       time.Now().UTC().Truncate(time.Second),
		ExpirationTime: exp,
	}
	if address != "" {
		msg.Address = common.HexToAddress(address)
	}
	return msg
}

func TestParseRoundTrip(t *testing.T) {
	exp := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	msg := buildMessage("0x000000000000000000000000000000000000dEaD", "abc12345", &exp)

	parsed, err := Parse(msg.String())
	require.NoError(t, err)
	require.Equal(t, "kelo.app", parsed.Domain)
	require.Equal(t, msg.Address, parsed.Address)
	require.Equal(t, "Sign in to Kelo", parsed.Statement)
	require.Equal(t, int64(1), parsed.ChainID)
	require.Equal(t, "abc12345", parsed.Nonce)
	require.True(t, parsed.ExpirationTime.Equal(exp))
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse("hello world")
	require.ErrorIs(t, err, ErrMalformedMessage)
}

func TestVerifierHappyPathBurnsNonce(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryNonceStore(time.Minute)
	v := NewVerifier("kelo.app", store)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.PubkeyToAddress(key.PublicKey)

	nonce, err := v.Nonce(ctx, addr.Hex())
	require.NoError(t, err)

	msg := buildMessage("", nonce, nil)
	msg.Address = addr
	text := msg.String()
	sig, err := crypto.Sign(accounts.TextHash([]byte(text)), key)
	require.NoError(t, err)
	sigHex := hexutil.Encode(sig)

	got, err := v.Verify(ctx, text, sigHex)
	require.NoError(t, err)
	require.Equal(t, addr, got.Address)

	_, err = v.Verify(ctx, text, sigHex)
	require.ErrorIs(t, err, ErrInvalidNonce)
}

func TestVerifierRejectsWrongSigner(t *testing.T) {
	ctx := context.Background()
	v := NewVerifier("kelo.app", NewMemoryNonceStore(time.Minute))
	victim := "0x000000000000000000000000000000000000bEEF"
	nonce, _ := v.Nonce(ctx, victim)
	text := buildMessage(victim, nonce, nil).String()

	sig, _ := signText(t, text)
	_, err := v.Verify(ctx, text, sig)
	require.ErrorIs(t, err, ErrBadSignature)
}

func TestVerifierRejectsDomainAndExpiry(t *testing.T) {
	ctx := context.Background()
	v := NewVerifier("other.app", NewMemoryNonceStore(time.Minute))
	text := buildMessage("0x000000000000000000000000000000000000bEEF", "n1234567", nil).String()
	_, err := v.Verify(ctx, text, "0x00")
	require.ErrorIs(t, err, ErrDomainMismatch)

	past := time.Now().Add(-time.Minute)
	v = NewVerifier("kelo.app", NewMemoryNonceStore(time.Minute))
	text = buildMessage("0x000000000000000000000000000000000000bEEF", "n1234567", &past).String()
	_, err = v.Verify(ctx, text, "0x00")
	require.ErrorIs(t, err, ErrExpired)
}

func TestRedisNonceStoreSingleUse(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer cache.Close()

	ctx := context.Background()
	store := NewRedisNonceStore(cache, time.Minute)
	nonce, err := store.Issue(ctx, "0xAA")
	require.NoError(t, err)

	require.True(t, errors.Is(store.Consume(ctx, "0xaa", "wrong"), ErrInvalidNonce))
	// The failed attempt burned the nonce.
	require.ErrorIs(t, store.Consume(ctx, "0xAA", nonce), ErrInvalidNonce)

	nonce, _ = store.Issue(ctx, "0xAA")
	require.NoError(t, store.Consume(ctx, "0xaa", nonce))
}

func TestMemoryNonceStoreExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryNonceStore(time.Minute)
	now := time.Now()
	store.now = func() time.Time { return now }
	nonce, _ := store.Issue(ctx, "0xAA")
	store.now = func() time.Time { return now.Add(2 * time.Minute) }
	require.ErrorIs(t, store.Consume(ctx, "0xAA", nonce), ErrInvalidNonce)
}
