package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"
)

// HeaderSignature carries the HMAC-SHA256 of the request body for signed
// event ingestion.
const HeaderSignature = "X-Toolgate-Signature"

const maxWebhookBody = 1 << 20

// WebhookHMAC validates an HMAC-SHA256 body signature in header, given as
// raw hex or "sha256=<hex>". The body is restored for the next handler.
func WebhookHMAC(secret Secret, header string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			secret := secret.Value()
			if secret == "" {
				writeJSONError(w, http.StatusServiceUnavailable, "webhook secret not configured")
				return
			}

			sig := r.Header.Get(header)
			if sig == "" {
				writeJSONError(w, http.StatusUnauthorized, "missing webhook signature")
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
			if err != nil {
				writeJSONError(w, http.StatusBadRequest, "failed to read body")
				return
			}
			if len(body) > maxWebhookBody {
				writeJSONError(w, http.StatusRequestEntityTooLarge, "body too large")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			if !VerifyHMAC(body, sig, secret) {
				writeJSONError(w, http.StatusForbidden, "invalid webhook signature")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// VerifyHMAC checks an HMAC-SHA256 signature of payload.
func VerifyHMAC(payload []byte, signature, secret string) bool {
	sigBytes, err := hex.DecodeString(strings.TrimPrefix(signature, "sha256="))
	if err != nil {
		return false
	}
	return hmac.Equal(sigBytes, Sign(payload, secret))
}

// Sign returns the HMAC-SHA256 of payload under secret.
func Sign(payload []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return mac.Sum(nil)
}
