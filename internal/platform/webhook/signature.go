package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

const (
	SignatureHeader = "X-Webhook-Signature"
	TimestampHeader = "X-Webhook-Timestamp"

	// SignatureTolerance bounds the clock skew accepted on a signed request.
	SignatureTolerance = 5 * time.Minute
)

var (
	ErrMissingTimestamp = errors.New("missing webhook timestamp")
	ErrStaleTimestamp   = errors.New("webhook timestamp outside tolerance")
	ErrBadSignature     = errors.New("invalid webhook signature")
)

// SignPayload returns the hex HMAC-SHA256 of payload under secret.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a "sha256=<hex>" header value (the prefix is optional).
func VerifySignature(payload []byte, secret, signature string) bool {
	if len(signature) > 7 && signature[:7] == "sha256=" {
		signature = signature[7:]
	}
	return hmac.Equal([]byte(SignPayload(payload, secret)), []byte(signature))
}

// SignTimestamped signs "<timestamp>.<payload>", binding the signature to
// the value sent in TimestampHeader.
func SignTimestamped(timestamp string, payload []byte, secret string) string {
	return SignPayload(timestampedMessage(timestamp, payload), secret)
}

// VerifyTimestamped checks a signature produced by SignTimestamped and
// rejects RFC 3339 timestamps further than SignatureTolerance from now.
func VerifyTimestamped(timestamp string, payload []byte, secret, signature string, now time.Time) error {
	if timestamp == "" {
		return ErrMissingTimestamp
	}
	ts, err := time.Parse(time.RFC3339, timestamp)
	if err != nil {
		return ErrStaleTimestamp
	}
	if skew := now.Sub(ts); skew > SignatureTolerance || skew < -SignatureTolerance {
		return ErrStaleTimestamp
	}
	if !VerifySignature(timestampedMessage(timestamp, payload), secret, signature) {
		return ErrBadSignature
	}
	return nil
}

func timestampedMessage(timestamp string, payload []byte) []byte {
	msg := make([]byte, 0, len(timestamp)+1+len(payload))
	msg = append(msg, timestamp...)
	msg = append(msg, '.')
	return append(msg, payload...)
}
