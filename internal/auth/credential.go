package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	apperrors "intake/pkg/errors"
)

const (
	Scheme         = "HMAC-SHA256"
	PeerIDHeader   = "X-Peer-ID"
	maxNonceLength = 256
)

// Credential is the parsed form of the Authorization header.
type Credential struct {
	Signature string
	Timestamp int64 // unix milliseconds
	Nonce     string
	PeerID    string
}

// ParseAuthorization parses
//
//	HMAC-SHA256 signature=<hex>, timestamp=<unix_ms>, nonce=<random>[, peer=<id>]
func ParseAuthorization(header string) (Credential, error) {
	var cred Credential

	scheme, params, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, Scheme) {
		return cred, apperrors.ErrMissingCredentials.WithDetail("reason", "unsupported authorization scheme")
	}

	var rawTimestamp string
	for _, part := range strings.Split(params, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), `"`)
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "signature":
			cred.Signature = value
		case "timestamp":
			rawTimestamp = value
		case "nonce":
			cred.Nonce = value
		case "peer":
			cred.PeerID = value
		}
	}

	if cred.Signature == "" || rawTimestamp == "" || cred.Nonce == "" {
		return cred, apperrors.ErrMissingCredentials.WithDetail("reason", "signature, timestamp and nonce are required")
	}

	if len(cred.Nonce) > maxNonceLength {
		return cred, apperrors.ErrMissingCredentials.WithDetail("reason", "nonce too long")
	}

	ts, err := strconv.ParseInt(rawTimestamp, 10, 64)
	if err != nil || ts <= 0 {
		return cred, apperrors.ErrMissingCredentials.WithDetail("reason", "timestamp must be unix milliseconds")
	}
	cred.Timestamp = ts

	return cred, nil
}

// Sign returns lowercase hex HMAC-SHA256(secret, timestamp || nonce || body).
func Sign(secret string, timestamp int64, nonce string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte(nonce))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// FormatAuthorization renders a header value that ParseAuthorization accepts.
func FormatAuthorization(signature string, timestamp int64, nonce string) string {
	return fmt.Sprintf("%s signature=%s, timestamp=%d, nonce=%s", Scheme, signature, timestamp, nonce)
}

func verifySignature(secret string, cred Credential, body []byte) bool {
	provided, err := hex.DecodeString(cred.Signature)
	if err != nil {
		return false
	}
	expected, _ := hex.DecodeString(Sign(secret, cred.Timestamp, cred.Nonce, body))
	return hmac.Equal(provided, expected)
}

// signaturePrefix is the only part of a signature that may be logged.
func signaturePrefix(sig string) string {
	if len(sig) <= 8 {
		return sig
	}
	return sig[:8] + "..."
}
