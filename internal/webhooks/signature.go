package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// Header names carried on every signed delivery.
const (
	HeaderSignature = "X-Signature"
	HeaderTimestamp = "X-Signature-Timestamp"
)

// SignHMAC returns lowercase hex of HMAC-SHA256 over "<unix ts>.<body>".
func SignHMAC(secret string, ts time.Time, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts.Unix(), 10)))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyHMAC checks a signature produced by SignHMAC. Timestamps further than
// tolerance from now are rejected; tolerance <= 0 skips the age check.
func VerifyHMAC(secret, tsHeader string, body []byte, provided string, tolerance time.Duration) bool {
	sec, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		return false
	}
	ts := time.Unix(sec, 0)
	if tolerance > 0 {
		age := time.Since(ts)
		if age > tolerance || age < -tolerance {
			return false
		}
	}
	b, err := hex.DecodeString(provided)
	if err != nil {
		return false
	}
	expected, _ := hex.DecodeString(SignHMAC(secret, ts, body))
	return hmac.Equal(expected, b)
}
