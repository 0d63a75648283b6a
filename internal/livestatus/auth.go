package livestatus

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

const signaturePrefix = "sha256="

// VerifyToken reports whether the presented shared-secret token matches
// secret. The comparison is constant-time over the presented bytes so the
// running time does not reveal where the first mismatching byte occurs.
// An absent token or an unconfigured secret never matches.
func VerifyToken(presented, secret string) bool {
	if presented == "" || secret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(secret)) == 1
}

// VerifySignature checks an X-Hub-Signature-256 header of the form
// "sha256=<hex>" against the raw request body: HMAC-SHA256 over body with
// secret, rendered as lowercase hex. An empty header is accepted; the
// signature is a supplementary check on top of the mandatory shared-secret
// token.
func VerifySignature(header string, body []byte, secret string) bool {
	if header == "" {
		return true
	}
	hexSig, ok := strings.CutPrefix(header, signaturePrefix)
	if !ok {
		return false
	}
	presented, err := hex.DecodeString(strings.ToLower(hexSig))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(presented, mac.Sum(nil))
}
