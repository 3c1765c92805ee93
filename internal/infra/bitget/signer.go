package bitget

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"time"
)

// Signer handles Bitget V2 API authentication signatures
type Signer struct {
	accessKey  string
	secretKey  string
	passphrase string
	now        func() time.Time
}

// NewSigner creates a new Signer instance
func NewSigner(accessKey, secretKey, passphrase string) *Signer {
	return &Signer{
		accessKey:  accessKey,
		secretKey:  secretKey,
		passphrase: passphrase,
		now:        time.Now,
	}
}

// GenerateHeaders creates the necessary headers for a request
// method: GET, POST, etc.
// path: /api/v2/mix/order/orders-pending (no host)
// query: productType=USDT-FUTURES&symbol=BTCUSDT (empty if none)
// body: json string (empty if none)
func (s *Signer) GenerateHeaders(method, path, query, body string) map[string]string {
	// REST timestamps are Unix milliseconds
	timestamp := strconv.FormatInt(s.now().UnixMilli(), 10)

	return map[string]string{
		"ACCESS-KEY":        s.accessKey,
		"ACCESS-SIGN":       s.Sign(timestamp, method, path, query, body),
		"ACCESS-TIMESTAMP":  timestamp,
		"ACCESS-PASSPHRASE": s.passphrase,
		"Content-Type":      "application/json",
		"locale":            "en-US",
	}
}

// Sign returns base64(HMAC-SHA256(timestamp + method + path[?query] + body)).
func (s *Signer) Sign(timestamp, method, path, query, body string) string {
	fullPath := path
	if query != "" {
		fullPath = path + "?" + query
	}
	return computeHmacSha256(timestamp+method+fullPath+body, s.secretKey)
}

// LoginArg builds the private WebSocket login payload.
// WS login uses a seconds timestamp and the fixed path /user/verify.
func (s *Signer) LoginArg() loginArg {
	timestamp := strconv.FormatInt(s.now().Unix(), 10)
	return loginArg{
		APIKey:     s.accessKey,
		Passphrase: s.passphrase,
		Timestamp:  timestamp,
		Sign:       s.Sign(timestamp, "GET", "/user/verify", "", ""),
	}
}

// HasCredentials reports whether private endpoints can be used.
func (s *Signer) HasCredentials() bool {
	return s.accessKey != "" && s.secretKey != "" && s.passphrase != ""
}

func computeHmacSha256(message string, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
