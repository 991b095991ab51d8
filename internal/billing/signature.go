package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidSignature means the webhook signature header failed
// verification. This is a security boundary: the request body must be
// treated as untrusted and no state may change.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// VerifySignature checks a processor signature header of the form
// "t=<unix>,v1=<hex>[,v1=<hex>...]" against the raw request body. The
// signed payload is "<t>.<body>" and the scheme is HMAC-SHA256 with the
// shared endpoint secret. Multiple v1 entries are accepted so the
// processor can rotate secrets. Timestamps outside tolerance are rejected
// to blunt replay of captured deliveries.
func VerifySignature(body []byte, header, secret string, tolerance time.Duration, now time.Time) error {
	if header == "" {
		return fmt.Errorf("%w: missing signature header", ErrInvalidSignature)
	}

	var ts int64
	var candidates [][]byte

	for _, part := range strings.Split(header, ",") {
		k, v, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch k {
		case "t":
			parsed, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return fmt.Errorf("%w: malformed timestamp", ErrInvalidSignature)
			}
			ts = parsed
		case "v1":
			sig, err := hex.DecodeString(v)
			if err != nil {
				continue
			}
			candidates = append(candidates, sig)
		}
	}

	if ts == 0 || len(candidates) == 0 {
		return fmt.Errorf("%w: header missing timestamp or signature", ErrInvalidSignature)
	}

	age := now.Sub(time.Unix(ts, 0))
	if age > tolerance || age < -tolerance {
		return fmt.Errorf("%w: timestamp outside tolerance", ErrInvalidSignature)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := mac.Sum(nil)

	for _, candidate := range candidates {
		if hmac.Equal(candidate, expected) {
			return nil
		}
	}
	return fmt.Errorf("%w: signature mismatch", ErrInvalidSignature)
}

// ComputeSignatureHeader produces a header VerifySignature accepts.
// Exported for tests and local webhook simulation.
func ComputeSignatureHeader(body []byte, secret string, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	return fmt.Sprintf("t=%s,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}
