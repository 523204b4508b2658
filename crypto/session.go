package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"io"

	"lair-chat/server/errs"
)

// nonceSize is the AES-GCM standard 96-bit nonce (spec.md §4.3).
const nonceSize = 12

// Session wraps an established AES-256-GCM AEAD and provides Seal/Open over
// the nonce||ciphertext||tag envelope, Base64-encoded for transport as the
// whole payload of a frame (see SealEnvelope in envelope.go). The key lives only in
// process memory for the lifetime of the Session; callers must drop their
// reference when the connection closes.
type Session struct {
	aead cipher.AEAD
}

// NewSession builds a Session from a 32-byte AES-256 key (as produced by
// the HKDF derivation in handshake.go).
func NewSession(key []byte) (*Session, error) {
	if len(key) != 32 {
		return nil, errs.New(errs.EncryptionFailed, "session key must be 32 bytes")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errs.Wrap(errs.EncryptionFailed, err, "construct AES cipher")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errs.Wrap(errs.EncryptionFailed, err, "construct GCM")
	}
	return &Session{aead: aead}, nil
}

// Seal encrypts plaintext with a fresh random nonce and returns
// nonce||ciphertext (ciphertext includes the GCM tag).
func (s *Session) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errs.Wrap(errs.EncryptionFailed, err, "generate nonce")
	}
	sealed := s.aead.Seal(nil, nonce, plaintext, nil)
	return append(nonce, sealed...), nil
}

// Open reverses Seal: it splits the nonce back off and verifies+decrypts
// the remainder. Any malformed input or failed tag verification is an
// EncryptionFailed error; callers must close the connection on failure
// (spec.md §4.3 Failure modes).
func (s *Session) Open(envelope []byte) ([]byte, error) {
	if len(envelope) < nonceSize {
		return nil, errs.New(errs.EncryptionFailed, "ciphertext shorter than nonce")
	}
	nonce, ciphertext := envelope[:nonceSize], envelope[nonceSize:]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errs.Wrap(errs.EncryptionFailed, err, "AEAD verification failed")
	}
	return plaintext, nil
}

// SealToString is Seal followed by standard Base64 encoding, the shape in
// which ciphertext travels as a frame payload (see SealEnvelope).
func (s *Session) SealToString(plaintext []byte) (string, error) {
	envelope, err := s.Seal(plaintext)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(envelope), nil
}

// OpenFromString reverses SealToString: Base64-decode then Open. Invalid
// Base64 and wrong key length both surface as EncryptionFailed, matching
// spec.md §4.3's unified failure-mode list.
func (s *Session) OpenFromString(encoded string) ([]byte, error) {
	envelope, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errs.Wrap(errs.EncryptionFailed, err, "invalid base64 ciphertext")
	}
	return s.Open(envelope)
}
