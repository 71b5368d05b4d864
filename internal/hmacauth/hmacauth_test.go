package hmacauth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestVerify_AcceptsCurrentAndPreviousWindow(t *testing.T) {
	s := NewSigner("super-secret-app-key")
	body := []byte(`{"incident_id":"abc"}`)

	// windowSeconds=5, so window 1000 spans unix [5000,5005).
	t0 := time.Unix(1000*windowSeconds, 0)
	digest := s.SignAt(t0, "POST", "/v0/notifications", "", body)

	require.True(t, s.verifyAt(t0, digest, "POST", "/v0/notifications", "", body))
	require.True(t, s.verifyAt(t0.Add(windowSeconds*time.Second), digest, "POST", "/v0/notifications", "", body))
}

func TestVerify_RejectsTwoWindowsLater(t *testing.T) {
	s := NewSigner("super-secret-app-key")
	body := []byte(`{}`)

	t0 := time.Unix(1000*windowSeconds, 0)
	digest := s.SignAt(t0, "GET", "/v0/stats", "", body)

	require.False(t, s.verifyAt(t0.Add(2*windowSeconds*time.Second), digest, "GET", "/v0/stats", "", body))
}

func TestVerify_RejectsTamperedBody(t *testing.T) {
	s := NewSigner("super-secret-app-key")
	digest := s.Sign("POST", "/v0/notifications", "", []byte(`{"a":1}`))

	require.False(t, s.Verify(digest, "POST", "/v0/notifications", "", []byte(`{"a":2}`)))
}

func TestParseAuthorizationHeader(t *testing.T) {
	app, digest, ok := ParseAuthorizationHeader("hmac billing:abc123==")
	require.True(t, ok)
	require.Equal(t, "billing", app)
	require.Equal(t, "abc123==", digest)

	_, _, ok = ParseAuthorizationHeader("Bearer abc")
	require.False(t, ok)
}

func TestOneclick_RoundTrip(t *testing.T) {
	s := NewSigner("oneclick-secret")
	claim := OneclickClaim{MessageID: "msg-1", Email: "oncall@example.com", Cmd: "ack"}

	u, err := s.BuildOneclickURL("https://pagewave.example.com/oneclick", claim)
	require.NoError(t, err)
	require.Contains(t, u, "msg_id=msg-1")

	sig := s.SignClaim(claim)
	require.True(t, s.VerifyClaim(claim, sig))
	require.False(t, s.VerifyClaim(claim, sig+"x"))
}

// verifyAt is a test-only variant of Verify that treats "now" as an
// explicit time rather than time.Now(), so window-boundary behaviour can
// be tested deterministically.
func (s *Signer) verifyAt(now time.Time, digest, method, path, query string, body []byte) bool {
	w := window(now)
	for _, candidate := range [2]int64{w, w - 1} {
		if s.digest(canonicalString(candidate, method, path, query, body)) == digest {
			return true
		}
	}
	return false
}
