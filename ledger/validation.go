package ledger

import (
	"fmt"
	"regexp"
)

var (
	addressPattern   = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)
	signaturePattern = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{87,88}$`)
)

func IsValidAddress(address string) bool {
	return addressPattern.MatchString(address)
}

func IsValidSignature(signature string) bool {
	return signaturePattern.MatchString(signature)
}

func ValidateAddress(address string) error {
	if !IsValidAddress(address) {
		return fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	return nil
}

func ValidateSignature(signature string) error {
	if !IsValidSignature(signature) {
		return fmt.Errorf("%w: %q", ErrInvalidSignature, signature)
	}
	return nil
}
