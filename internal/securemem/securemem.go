// Package securemem keeps bearer tokens in memguard-protected memory so
// they do not end up in swap or core dumps.
package securemem

import (
	"crypto/subtle"
	"sync"

	"github.com/awnumar/memguard"
)

// Token holds a workspace bearer token in an encrypted enclave. A Token is
// replaced wholesale on re-authentication; the old one must be destroyed.
type Token struct {
	mu      sync.RWMutex
	enclave *memguard.Enclave
}

// NewToken seals plaintext into a new Token. An empty plaintext yields an
// empty token.
func NewToken(plaintext string) *Token {
	if plaintext == "" {
		return &Token{}
	}
	return &Token{enclave: memguard.NewEnclave([]byte(plaintext))}
}

// Bearer returns the value for an Authorization header. The returned string
// lives in regular memory; keep it on the stack of a single request.
func (t *Token) Bearer() string {
	value := t.reveal()
	if value == "" {
		return ""
	}
	return "Bearer " + value
}

// Reveal returns the plaintext token.
func (t *Token) Reveal() string {
	return t.reveal()
}

func (t *Token) reveal() string {
	if t == nil {
		return ""
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.enclave == nil {
		return ""
	}
	buf, err := t.enclave.Open()
	if err != nil {
		return ""
	}
	defer buf.Destroy()
	return string(buf.Bytes())
}

// IsEmpty reports whether the token carries no value (never set or destroyed).
func (t *Token) IsEmpty() bool {
	if t == nil {
		return true
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.enclave == nil
}

// Equal compares the token against plaintext in constant time.
func (t *Token) Equal(other string) bool {
	value := t.reveal()
	return subtle.ConstantTimeCompare([]byte(value), []byte(other)) == 1
}

// Destroy drops the enclave. Idempotent.
func (t *Token) Destroy() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enclave = nil
}

// String never prints the secret.
func (t *Token) String() string {
	if t.IsEmpty() {
		return "<empty>"
	}
	return "<redacted>"
}
