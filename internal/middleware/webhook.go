package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// HeaderPaymentSignature carries the payment provider's signature in the
// form "t=<unix seconds>,v1=<hex hmac-sha256>".
const HeaderPaymentSignature = "X-Payment-Signature"

const (
	maxWebhookBody          = 256 << 10 // 256 KB
	defaultWebhookTolerance = 5 * time.Minute
)

// PaymentSignature returns middleware that validates payment webhook
// signatures. The MAC covers "<t>.<body>"; timestamps further than
// tolerance from now are rejected to limit replay of captured requests.
// secret is read per request so a reloaded secret applies immediately.
func PaymentSignature(secret func() string, tolerance time.Duration) func(http.Handler) http.Handler {
	if tolerance <= 0 {
		tolerance = defaultWebhookTolerance
	}
	return paymentSignature(secret, tolerance, time.Now)
}

func paymentSignature(secretFn func() string, tolerance time.Duration, now func() time.Time) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			secret := secretFn()
			if secret == "" {
				http.Error(w, `{"error":"webhook secret not configured"}`, http.StatusServiceUnavailable)
				return
			}

			ts, sig, ok := parseSignatureHeader(r.Header.Get(HeaderPaymentSignature))
			if !ok {
				http.Error(w, `{"error":"missing or malformed webhook signature"}`, http.StatusUnauthorized)
				return
			}
			if d := now().Sub(time.Unix(ts, 0)); d > tolerance || d < -tolerance {
				http.Error(w, `{"error":"webhook timestamp outside tolerance"}`, http.StatusUnauthorized)
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
			if err != nil {
				http.Error(w, `{"error":"failed to read body"}`, http.StatusBadRequest)
				return
			}
			if len(body) > maxWebhookBody {
				http.Error(w, `{"error":"body too large"}`, http.StatusRequestEntityTooLarge)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			if !verifyHMAC(signedPayload(ts, body), sig, secret) {
				http.Error(w, `{"error":"invalid webhook signature"}`, http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// SignPayment returns the header value a sender would attach for body at ts.
func SignPayment(secret string, ts time.Time, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(signedPayload(ts.Unix(), body))
	return "t=" + strconv.FormatInt(ts.Unix(), 10) + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}

func signedPayload(ts int64, body []byte) []byte {
	prefix := strconv.FormatInt(ts, 10) + "."
	out := make([]byte, 0, len(prefix)+len(body))
	return append(append(out, prefix...), body...)
}

func parseSignatureHeader(v string) (ts int64, sig string, ok bool) {
	var haveTS bool
	for part := range strings.SplitSeq(v, ",") {
		k, val, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch k {
		case "t":
			n, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return 0, "", false
			}
			ts, haveTS = n, true
		case "v1":
			sig = val
		}
	}
	return ts, sig, haveTS && sig != ""
}

// verifyHMAC checks a hex HMAC-SHA256 signature in constant time.
func verifyHMAC(payload []byte, signature, secret string) bool {
	sigBytes, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(sigBytes, mac.Sum(nil))
}
