// Package webhook authenticates signed webhook callbacks.
//
// Platforms that sign their deliveries compute
// v0=hex(HMAC-SHA256(secret, "v0:" + timestamp + ":" + body)) and send the
// result alongside a unix timestamp header. Verification recomputes the
// signature, compares in constant time, and rejects deliveries older than
// the replay window.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ReplayWindow is the maximum accepted age of a signed delivery.
const ReplayWindow = 5 * time.Minute

const signaturePrefix = "v0="

var (
	// ErrMissingHeader means the signature or timestamp header was absent.
	ErrMissingHeader = errors.New("missing signature or timestamp header")
	// ErrStaleTimestamp means the delivery is older than the replay window.
	ErrStaleTimestamp = errors.New("timestamp outside replay window")
	// ErrBadSignature means the recomputed signature did not match.
	ErrBadSignature = errors.New("signature mismatch")
)

// Sign computes the expected signature for a body and timestamp.
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("v0:" + timestamp + ":"))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signed delivery. now is injected so the replay window is
// testable.
func Verify(body []byte, signature, timestamp, secret string, now time.Time) error {
	signature = strings.TrimSpace(signature)
	timestamp = strings.TrimSpace(timestamp)
	if signature == "" || timestamp == "" {
		return ErrMissingHeader
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMissingHeader, err)
	}
	if now.Sub(time.Unix(ts, 0)) > ReplayWindow {
		return ErrStaleTimestamp
	}

	expected := Sign(secret, timestamp, body)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrBadSignature
	}
	return nil
}
