package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
)

// SignatureHeader is the header Typeform signs deliveries with.
const SignatureHeader = "Typeform-Signature"

const signaturePrefix = "sha256="

var (
	ErrMissingSignature  = errors.New("missing signature")
	ErrSignatureMismatch = errors.New("signature mismatch")
)

// Sign returns the header value for payload: sha256=<base64 HMAC-SHA256>.
func Sign(secret string, payload []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return signaturePrefix + base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// Verify checks header against payload in constant time.
func Verify(secret string, payload []byte, header string) error {
	header = strings.TrimSpace(header)
	if header == "" {
		return ErrMissingSignature
	}
	if !strings.HasPrefix(header, signaturePrefix) {
		return ErrSignatureMismatch
	}
	if !hmac.Equal([]byte(header), []byte(Sign(secret, payload))) {
		return ErrSignatureMismatch
	}
	return nil
}
