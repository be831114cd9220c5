package siwe

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// RecoverAddress returns the signer of an EIP-191 personal_sign signature over text.
func RecoverAddress(text, signatureHex string) (common.Address, error) {
	raw, err := hexutil.Decode(signatureHex)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if len(raw) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: signature must be %d bytes", ErrBadSignature, crypto.SignatureLength)
	}
	sig := make([]byte, len(raw))
	copy(sig, raw)
	// Wallets emit v as 27/28; SigToPub expects 0/1.
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(text)), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// VerifySignature checks that text was signed by address.
func VerifySignature(text, signatureHex string, address common.Address) error {
	signer, err := RecoverAddress(text, signatureHex)
	if err != nil {
		return err
	}
	if signer != address {
		return ErrBadSignature
	}
	return nil
}
