package webhooks

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"hash"
	"strconv"
	"strings"
	"time"
)

const (
	ProviderGitHub  = "github"
	ProviderStripe  = "stripe"
	ProviderSlack   = "slack"
	ProviderGeneric = "generic"
)

// Verifier checks a raw request body against a provider signature header.
// Implementations must be pure: no I/O, no panics past the boundary.
type Verifier interface {
	Verify(body []byte, signature string, secret string, algorithm string, provider string) bool
}

// SignatureVerifier implements the per-provider HMAC schemes:
//
//	github   "sha256=" + hex(HMAC-SHA256(secret, body))
//	stripe   "t=<ts>,v1=<hex>" over "<ts>.<body>"
//	slack    "v0=" + hex(HMAC-SHA256(secret, body))
//	generic  hex HMAC over the body, hash picked by algorithm
//
// A missing signature, unknown provider, or mismatch verifies false.
type SignatureVerifier struct {
	// ReplayWindow, when positive, rejects stripe signatures whose embedded
	// timestamp falls outside the window. The scheme otherwise accepts
	// replayed captures; zero keeps that behavior.
	ReplayWindow time.Duration
	Now          func() time.Time
}

func (v SignatureVerifier) Verify(body []byte, signature string, secret string, algorithm string, provider string) bool {
	signature = strings.TrimSpace(signature)
	if signature == "" || strings.TrimSpace(secret) == "" {
		return false
	}

	switch strings.ToLower(strings.TrimSpace(provider)) {
	case ProviderGitHub:
		value, ok := strings.CutPrefix(signature, "sha256=")
		if !ok {
			return false
		}
		return hexDigestEqual(value, hmacSum(sha256.New, secret, body))
	case ProviderStripe:
		return v.verifyStripe(body, signature, secret)
	case ProviderSlack:
		value, ok := strings.CutPrefix(signature, "v0=")
		if !ok {
			return false
		}
		return hexDigestEqual(value, hmacSum(sha256.New, secret, body))
	case ProviderGeneric:
		algo, ok := genericHash(algorithm)
		if !ok {
			return false
		}
		return hexDigestEqual(signature, hmacSum(algo, secret, body))
	default:
		return false
	}
}

func (v SignatureVerifier) verifyStripe(body []byte, signature string, secret string) bool {
	timestamp := ""
	candidate := ""
	for _, part := range strings.Split(signature, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			timestamp = value
		case "v1":
			candidate = value
		}
	}
	if timestamp == "" || candidate == "" {
		return false
	}

	if v.ReplayWindow > 0 {
		seconds, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			return false
		}
		now := time.Now().UTC()
		if v.Now != nil {
			now = v.Now().UTC()
		}
		delta := now.Sub(time.Unix(seconds, 0))
		if delta < 0 {
			delta = -delta
		}
		if delta > v.ReplayWindow {
			return false
		}
	}

	signed := make([]byte, 0, len(timestamp)+1+len(body))
	signed = append(signed, timestamp...)
	signed = append(signed, '.')
	signed = append(signed, body...)
	return hexDigestEqual(candidate, hmacSum(sha256.New, secret, signed))
}

func hmacSum(algo func() hash.Hash, secret string, payload []byte) []byte {
	mac := hmac.New(algo, []byte(secret))
	_, _ = mac.Write(payload)
	return mac.Sum(nil)
}

func hexDigestEqual(candidate string, expected []byte) bool {
	decoded, err := hex.DecodeString(strings.TrimSpace(candidate))
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(decoded, expected) == 1
}

func genericHash(algorithm string) (func() hash.Hash, bool) {
	switch strings.ToLower(strings.TrimSpace(algorithm)) {
	case "sha1", "sha-1", "hmac-sha1":
		return sha1.New, true
	case "", "sha256", "sha-256", "hmac-sha256":
		return sha256.New, true
	case "sha512", "sha-512", "hmac-sha512":
		return sha512.New, true
	default:
		return nil, false
	}
}

var _ Verifier = SignatureVerifier{}
