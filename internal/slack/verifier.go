// Package slack implements the inbound Slack boundary: request signature
// verification, event deduplication, the Web API client, and the OAuth
// install flow.
package slack

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"socialtracker/backend/internal/logging"
)

const (
	signatureVersion = "v0"
	// maxRequestAge bounds the replay window. Requests older (or further
	// in the future) than this are rejected even with a valid signature.
	maxRequestAge = 300 * time.Second
)

// SignatureVerifier authenticates that a request truly originates from
// Slack. Slack signs every request with HMAC-SHA256 over
// "v0:{timestamp}:{body}" using the app's signing secret.
type SignatureVerifier struct {
	signingSecret []byte
	logger        *logging.Logger
}

// NewSignatureVerifier creates a verifier bound to one signing secret.
func NewSignatureVerifier(signingSecret string, logger *logging.Logger) *SignatureVerifier {
	return &SignatureVerifier{signingSecret: []byte(signingSecret), logger: logger}
}

// Verify reports whether the signature matches the timestamp and raw body.
// It never returns an error: any malformed input is a rejection.
func (v *SignatureVerifier) Verify(timestamp, signature, body string) bool {
	if timestamp == "" || signature == "" || body == "" {
		v.logger.Warn("Missing required parameters for signature verification")
		return false
	}

	if !v.isTimestampValid(timestamp) {
		v.logger.Warn("Request timestamp is too old or invalid: %s", timestamp)
		return false
	}

	expected := v.ComputeSignature(timestamp, body)

	// Constant-time comparison mitigates timing side-channels.
	valid := hmac.Equal([]byte(expected), []byte(signature))
	if !valid {
		v.logger.Warn("Invalid Slack signature for timestamp %s", timestamp)
	}
	return valid
}

// ComputeSignature returns the expected signature for a timestamp and raw
// body, in Slack's "v0={hex}" format.
func (v *SignatureVerifier) ComputeSignature(timestamp, body string) string {
	mac := hmac.New(sha256.New, v.signingSecret)
	mac.Write([]byte(signatureVersion + ":" + timestamp + ":" + body))
	return signatureVersion + "=" + hex.EncodeToString(mac.Sum(nil))
}

func (v *SignatureVerifier) isTimestampValid(timestamp string) bool {
	requestTime, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		v.logger.Warn("Invalid timestamp format: %s", timestamp)
		return false
	}

	age := time.Now().Unix() - requestTime
	if age < 0 {
		age = -age
	}
	return time.Duration(age)*time.Second <= maxRequestAge
}
