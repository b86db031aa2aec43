package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// Header names carried by signed settlement requests.
const (
	HeaderKeyID     = "X-Cardpay-Key"
	HeaderTimestamp = "X-Cardpay-Timestamp"
	HeaderSignature = "X-Cardpay-Signature"
)

// RequestSigner authenticates calls to the payment service with
// HMAC-SHA256(secret, timestamp+method+path+body), base64 encoded.
type RequestSigner struct {
	KeyID  string
	Secret string
}

// Headers returns the signing headers for a request sent now.
func (s *RequestSigner) Headers(method, path, body string) map[string]string {
	return s.HeadersAt(method, path, body, time.Now().Unix())
}

// HeadersAt is Headers with a caller-supplied Unix timestamp.
func (s *RequestSigner) HeadersAt(method, path, body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	return map[string]string{
		HeaderKeyID:     s.KeyID,
		HeaderTimestamp: ts,
		HeaderSignature: hmacSHA256Base64([]byte(s.Secret), ts+method+path+body),
	}
}

// Verify checks a signature produced by HeadersAt.
func (s *RequestSigner) Verify(method, path, body, ts, signature string) bool {
	want := hmacSHA256Base64([]byte(s.Secret), ts+method+path+body)
	return hmac.Equal([]byte(want), []byte(signature))
}

// String returns a redacted representation suitable for logging.
func (s *RequestSigner) String() string {
	redact := func(v string) string {
		if len(v) <= 4 {
			return "****"
		}
		return v[:4] + "****"
	}
	return fmt.Sprintf("RequestSigner{key=%s, secret=%s}", redact(s.KeyID), redact(s.Secret))
}

func hmacSHA256Base64(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
