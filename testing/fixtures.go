package testing

import (
	"github.com/gagliardetto/solana-go"
)

// Address returns a deterministic, valid base58 public key for n.
func Address(n byte) string {
	var b [32]byte
	for i := range b {
		b[i] = byte(i*13) + n
	}
	b[0] |= 0x80
	return solana.PublicKeyFromBytes(b[:]).String()
}

// Signature returns a deterministic, valid base58 transaction signature for n.
func Signature(n byte) string {
	var s solana.Signature
	for i := range s {
		s[i] = byte(i*7) + n
	}
	s[0] |= 0x80
	return s.String()
}
