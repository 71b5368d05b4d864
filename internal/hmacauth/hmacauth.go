// Package hmacauth implements pagewave's request-signing scheme (spec §6):
// HMAC-SHA512 over a 5-second time window, method, path, query string, and
// body, plus the oneclick email-claim URL signature built on the same
// primitive.
package hmacauth

import (
	"crypto/hmac"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// windowSeconds is the size of the time bucket HMAC digests are computed
// over. A digest is valid for the current window and the one before it.
const windowSeconds = 5

// Signer computes and verifies HMAC-SHA512 request signatures for one
// application key.
type Signer struct {
	key []byte
}

// NewSigner returns a Signer bound to an application's shared secret.
func NewSigner(key string) *Signer {
	return &Signer{key: []byte(key)}
}

// window returns the 5-second time bucket for t, per spec §6's `time/5`.
func window(t time.Time) int64 {
	return t.Unix() / windowSeconds
}

// canonicalString builds `"<window> <method> <path>[?qs] <body>"`.
func canonicalString(w int64, method, path, query string, body []byte) string {
	target := path
	if query != "" {
		target = path + "?" + query
	}
	return fmt.Sprintf("%d %s %s %s", w, method, target, body)
}

// digest computes the base64url HMAC-SHA512 digest of msg under s.key.
func (s *Signer) digest(msg string) string {
	mac := hmac.New(sha512.New, s.key)
	mac.Write([]byte(msg))
	return base64.URLEncoding.EncodeToString(mac.Sum(nil))
}

// Sign produces the digest for the current time window — used by callers
// constructing an `Authorization: hmac <app>:<digest>` header.
func (s *Signer) Sign(method, path, query string, body []byte) string {
	return s.digest(canonicalString(window(time.Now()), method, path, query, body))
}

// SignAt produces the digest for an explicit time, primarily for tests.
func (s *Signer) SignAt(at time.Time, method, path, query string, body []byte) string {
	return s.digest(canonicalString(window(at), method, path, query, body))
}

// Verify reports whether digest matches the current or previous time
// window's signature of the request, per §8's "accepted for at most 5
// seconds after window t begins" invariant. Comparison is constant-time.
func (s *Signer) Verify(digest, method, path, query string, body []byte) bool {
	now := window(time.Now())
	for _, w := range [2]int64{now, now - 1} {
		expect := s.digest(canonicalString(w, method, path, query, body))
		if subtle.ConstantTimeCompare([]byte(expect), []byte(digest)) == 1 {
			return true
		}
	}
	return false
}

// ParseAuthorizationHeader splits an `Authorization: hmac <app>:<digest>`
// header value into the application key name and digest.
func ParseAuthorizationHeader(header string) (app, digest string, ok bool) {
	const prefix = "hmac "
	if !strings.HasPrefix(header, prefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(header, prefix)
	app, digest, found := strings.Cut(rest, ":")
	if !found || app == "" || digest == "" {
		return "", "", false
	}
	return app, digest, true
}

// FormatWindow renders the window a timestamp falls in, useful for logging
// replay-window diagnostics.
func FormatWindow(t time.Time) string {
	return strconv.FormatInt(window(t), 10)
}
