// Package webhook authenticates provider callbacks signed with the
// Standard Webhooks HMAC scheme used by Replicate.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	HeaderID        = "webhook-id"
	HeaderTimestamp = "webhook-timestamp"
	HeaderSignature = "webhook-signature"

	// Tolerance bounds how far a signed timestamp may drift from the local clock.
	Tolerance = 300 * time.Second
)

var (
	ErrMissingHeaders    = errors.New("webhook: missing signature headers")
	ErrStaleTimestamp    = errors.New("webhook: timestamp outside tolerance")
	ErrSignatureMismatch = errors.New("webhook: signature mismatch")
	ErrSecretUnavailable = errors.New("webhook: signing secret unavailable")
)

// SecretSource yields the decoded HMAC key.
type SecretSource interface {
	Key(ctx context.Context) ([]byte, error)
}

// Verifier checks inbound webhook requests.
type Verifier struct {
	secrets SecretSource
	now     func() time.Time
}

func NewVerifier(secrets SecretSource) *Verifier {
	return &Verifier{secrets: secrets, now: time.Now}
}

// WithClock replaces the clock used for the timestamp check.
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	v.now = now
	return v
}

// Verify authenticates body against the signature headers. Header and
// timestamp checks run before the secret is fetched.
func (v *Verifier) Verify(ctx context.Context, header http.Header, body []byte) error {
	id := strings.TrimSpace(header.Get(HeaderID))
	ts := strings.TrimSpace(header.Get(HeaderTimestamp))
	sig := strings.TrimSpace(header.Get(HeaderSignature))
	if id == "" || ts == "" || sig == "" {
		return ErrMissingHeaders
	}
	if !IsTimestampValid(ts, v.now()) {
		return ErrStaleTimestamp
	}
	key, err := v.secrets.Key(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSecretUnavailable, err)
	}
	if !VerifySignature(id, ts, body, sig, key) {
		return ErrSignatureMismatch
	}
	return nil
}

// IsTimestampValid reports whether ts (unix seconds) lies within Tolerance
// of now. Unparseable values are never valid.
func IsTimestampValid(ts string, now time.Time) bool {
	sec, err := strconv.ParseInt(strings.TrimSpace(ts), 10, 64)
	if err != nil {
		return false
	}
	diff := now.Unix() - sec
	if diff < 0 {
		diff = -diff
	}
	return diff <= int64(Tolerance/time.Second)
}

// Sign computes the base64 HMAC-SHA256 of "{id}.{ts}.{body}".
func Sign(id, ts string, body, key []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(id))
	mac.Write([]byte{'.'})
	mac.Write([]byte(ts))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether any space-separated candidate in header
// matches the expected signature. Candidates may carry a "v1," style prefix.
func VerifySignature(id, ts string, body []byte, header string, key []byte) bool {
	expected := []byte(Sign(id, ts, body, key))
	for _, candidate := range strings.Fields(header) {
		if _, value, ok := strings.Cut(candidate, ","); ok {
			candidate = value
		}
		// ConstantTimeCompare returns 0 for unequal lengths.
		if subtle.ConstantTimeCompare([]byte(candidate), expected) == 1 {
			return true
		}
	}
	return false
}

// SignedHeaders builds a valid header set for body, as the provider would send it.
func SignedHeaders(id string, at time.Time, body, key []byte) http.Header {
	ts := strconv.FormatInt(at.Unix(), 10)
	h := http.Header{}
	h.Set(HeaderID, id)
	h.Set(HeaderTimestamp, ts)
	h.Set(HeaderSignature, "v1,"+Sign(id, ts, body, key))
	return h
}
