package hmacauth

import (
	"crypto/subtle"
	"fmt"
	"net/url"
)

// OneclickClaim is the {msg_id, email_address, cmd} tuple signed into a
// oneclick email claim URL (spec §6).
type OneclickClaim struct {
	MessageID string
	Email     string
	Cmd       string // e.g. "ack", "resolve"
}

// stableEncoding produces the same byte sequence a claim produces every
// time, so the webhook-side verifier can recompute the digest.
func (c OneclickClaim) stableEncoding() string {
	return fmt.Sprintf("%s|%s|%s", c.MessageID, c.Email, c.Cmd)
}

// SignClaim computes the digest for a oneclick claim tuple.
func (s *Signer) SignClaim(c OneclickClaim) string {
	return s.digest(c.stableEncoding())
}

// BuildOneclickURL builds a fully-formed claim URL under baseURL, with the
// claim fields and digest as query parameters.
func (s *Signer) BuildOneclickURL(baseURL string, c OneclickClaim) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parsing oneclick base URL: %w", err)
	}

	q := u.Query()
	q.Set("msg_id", c.MessageID)
	q.Set("email", c.Email)
	q.Set("cmd", c.Cmd)
	q.Set("sig", s.SignClaim(c))
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// VerifyClaim checks a claim tuple against a digest supplied by the
// response webhook, in constant time.
func (s *Signer) VerifyClaim(c OneclickClaim, digest string) bool {
	expect := s.SignClaim(c)
	return subtle.ConstantTimeCompare([]byte(expect), []byte(digest)) == 1
}
