package whatsapp

import (
	"crypto/subtle"
	"fmt"

	gh "github.com/google/go-github/v60/github"

	perrors "github.com/p-blackswan/checkin-agent/internal/errors"
)

// SignatureHeader carries the HMAC-SHA256 of the body keyed with the app
// secret, in the same "sha256=<hex>" form GitHub uses.
const SignatureHeader = "X-Hub-Signature-256"

// VerifySignature checks a webhook body against its SignatureHeader value.
// An empty secret disables the check.
func VerifySignature(secret, signature string, body []byte) error {
	if secret == "" {
		return nil
	}
	if signature == "" {
		return fmt.Errorf("%w: missing %s", perrors.ErrAuthFailure, SignatureHeader)
	}
	if err := gh.ValidateSignature(signature, body, []byte(secret)); err != nil {
		return fmt.Errorf("%w: %v", perrors.ErrAuthFailure, err)
	}
	return nil
}

// VerifyChallenge answers the subscription handshake: it returns the
// challenge to echo when mode is "subscribe" and token matches.
func VerifyChallenge(mode, token, challenge, expected string) (string, bool) {
	if mode != "subscribe" || expected == "" {
		return "", false
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
		return "", false
	}
	return challenge, true
}
