package payments

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	mpesaPhone  = regexp.MustCompile(`^\+?2547\d{8}$`)
	cryptoHash  = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)
	accountNum  = regexp.MustCompile(`^\d{6,20}$`)
	bankCodeFmt = regexp.MustCompile(`^[0-9A-Za-z]{2,11}$`)
	expiryFmt   = regexp.MustCompile(`^(0[1-9]|1[0-2])/\d{2}$`)
	cvvFmt      = regexp.MustCompile(`^\d{3,4}$`)
)

// validateDetails checks the fields each method needs.
func validateDetails(method string, d Details) error {
	switch method {
	case MethodMpesa:
		if !mpesaPhone.MatchString(strings.ReplaceAll(d.Phone, " ", "")) {
			return fmt.Errorf("%w: phone must look like 2547XXXXXXXX", ErrInvalidDetails)
		}
	case MethodBankTransfer:
		if !accountNum.MatchString(d.AccountNumber) {
			return fmt.Errorf("%w: account number must be 6 to 20 digits", ErrInvalidDetails)
		}
		if !bankCodeFmt.MatchString(d.BankCode) {
			return fmt.Errorf("%w: bank code is required", ErrInvalidDetails)
		}
	case MethodCrypto:
		if !cryptoHash.MatchString(d.TxHash) {
			return fmt.Errorf("%w: tx hash must be 0x followed by 64 hex characters", ErrInvalidDetails)
		}
		if strings.TrimSpace(d.Network) == "" {
			return fmt.Errorf("%w: network is required", ErrInvalidDetails)
		}
	case MethodCard:
		if err := validateCardNumber(d.CardNumber); err != nil {
			return err
		}
		if d.Expiry != "" && !expiryFmt.MatchString(d.Expiry) {
			return fmt.Errorf("%w: expiry must be MM/YY", ErrInvalidDetails)
		}
		if d.CVV != "" && !cvvFmt.MatchString(d.CVV) {
			return fmt.Errorf("%w: cvv must be 3 or 4 digits", ErrInvalidDetails)
		}
	case MethodWallet:
	default:
		return ErrInvalidMethod
	}
	return nil
}

func validateCardNumber(card string) error {
	digits := strings.ReplaceAll(card, " ", "")
	if len(digits) < 12 || len(digits) > 19 {
		return fmt.Errorf("%w: card number must be between 12 and 19 digits", ErrInvalidDetails)
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return fmt.Errorf("%w: card number must be numeric", ErrInvalidDetails)
		}
	}
	if !luhn(digits) {
		return fmt.Errorf("%w: card number failed checksum", ErrInvalidDetails)
	}
	return nil
}

func luhn(digits string) bool {
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}
