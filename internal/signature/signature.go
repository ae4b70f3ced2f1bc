// Package signature implements the app request signature: a base64 HMAC-SHA256
// over "appId:deviceId:timestamp:METHOD:/path" keyed with the shared app secret.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

// Payload builds the signed request payload. Only the method and route are
// bound, query parameters are not.
func Payload(method, path string) string {
	return strings.ToUpper(method) + ":" + path
}

// Message builds the canonical signed message.
func Message(appID, deviceID, timestamp, payload string) string {
	return appID + ":" + deviceID + ":" + timestamp + ":" + payload
}

// Sign returns the base64 signature a client must send for the given request.
func Sign(secret []byte, appID, deviceID, timestamp, payload string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(Message(appID, deviceID, timestamp, payload)))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Verifier checks request signatures against a shared secret. It holds no
// other state and never touches storage.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a verifier for the shared secret.
func NewVerifier(secret []byte) *Verifier {
	s := make([]byte, len(secret))
	copy(s, secret)
	return &Verifier{secret: s}
}

// Verify reports whether signature was produced with the verifier's secret
// over the canonical message. The comparison is constant-time.
func (v *Verifier) Verify(appID, deviceID, timestamp, payload, signature string) bool {
	expected := Sign(v.secret, appID, deviceID, timestamp, payload)
	return hmac.Equal([]byte(signature), []byte(expected))
}
