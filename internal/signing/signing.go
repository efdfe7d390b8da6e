// Package signing produces and checks HMAC signatures for object URLs served
// by the local object store.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// Signer generates and validates HMAC based signatures.
type Signer struct {
	secret []byte
	now    func() time.Time
}

// NewSigner creates a Signer.
func NewSigner(secret []byte) *Signer {
	return &Signer{secret: secret, now: time.Now}
}

// Sign returns the hex signature binding method, key and expiry together.
func (s *Signer) Sign(method, key string, expiresUnix int64) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(fmt.Sprintf("%s:%s:%d", method, key, expiresUnix)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Validate checks the signature and rejects expired URLs.
func (s *Signer) Validate(method, key, expires, signature string) bool {
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return false
	}
	if s.now().Unix() > exp {
		return false
	}
	expected := s.Sign(method, key, exp)
	return hmac.Equal([]byte(expected), []byte(signature))
}
