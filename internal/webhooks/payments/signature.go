package paymentwebhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-Payment-Signature"

var (
	ErrSignatureMissing = errors.New("payment signature missing")
	ErrSignatureInvalid = errors.New("payment signature invalid")
	errSecretMissing    = errors.New("payment signing secret not configured")
)

// Sign returns the header value the gateway would send for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks header against body. The "sha256=" prefix is
// optional.
func VerifySignature(secret string, body []byte, header string) error {
	if secret == "" {
		return errSecretMissing
	}
	header = strings.TrimSpace(header)
	if header == "" {
		return ErrSignatureMissing
	}
	got, err := hex.DecodeString(strings.TrimPrefix(header, "sha256="))
	if err != nil {
		return ErrSignatureInvalid
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrSignatureInvalid
	}
	return nil
}
