// Package crypto implements the per-connection X25519 key exchange and the
// AES-256-GCM authenticated symmetric channel layered on top of it
// (spec.md §4.3). The legacy MD5-based key derivation found in the archive
// is intentionally not reproduced here; HKDF-SHA-256 replaces it.
package crypto

import (
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"io"

	"golang.org/x/crypto/hkdf"

	"lair-chat/server/errs"
	"lair-chat/server/wire"
)

// hkdfInfo binds the derived key to this protocol, so the same shared
// secret could never be reused verbatim by an unrelated application.
const hkdfInfo = "lair-chat/server-client-session-v1"

// keyExchange runs one side's half of the ephemeral X25519 exchange: it
// generates a keypair, returns the public key to send, and a function that
// finishes the exchange once the peer's public key bytes have arrived.
type keyExchange struct {
	priv *ecdh.PrivateKey
}

func newKeyExchange() (*keyExchange, error) {
	priv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, errs.Wrap(errs.HandshakeFailed, err, "generate ephemeral key")
	}
	return &keyExchange{priv: priv}, nil
}

func (k *keyExchange) publicKeyBase64() string {
	return base64.StdEncoding.EncodeToString(k.priv.PublicKey().Bytes())
}

// deriveKey computes the raw X25519 shared secret with the peer's public
// key (given as standard Base64, per spec.md §4.3 step 1/2) and derives a
// 32-byte AES-256 key from it via HKDF-SHA-256.
func (k *keyExchange) deriveKey(peerPublicKeyB64 string) ([]byte, error) {
	peerBytes, err := base64.StdEncoding.DecodeString(peerPublicKeyB64)
	if err != nil {
		return nil, errs.Wrap(errs.HandshakeFailed, err, "invalid peer public key base64")
	}
	if len(peerBytes) != 32 {
		return nil, errs.New(errs.HandshakeFailed, "peer public key must be 32 bytes")
	}

	peerPub, err := ecdh.X25519().NewPublicKey(peerBytes)
	if err != nil {
		return nil, errs.Wrap(errs.HandshakeFailed, err, "invalid peer public key point")
	}

	sharedSecret, err := k.priv.ECDH(peerPub)
	if err != nil {
		return nil, errs.Wrap(errs.HandshakeFailed, err, "compute shared secret")
	}

	kdf := hkdf.New(nil, sharedSecret, nil, []byte(hkdfInfo))
	key := make([]byte, 32)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, errs.Wrap(errs.HandshakeFailed, err, "derive session key")
	}
	return key, nil
}

const welcomeMessage = "Welcome to Lair-Chat! Please login or register."

// ServerHandshake performs the server's half of the handshake described in
// spec.md §4.3: send our public key, receive the client's, derive the
// session key, then send an encrypted welcome frame so the client can
// verify it derived the same key. fr/fw are the connection's single shared
// FrameReader/FrameWriter pair (spec.md §4.1 framing applies to key frames
// too — each key is its own frame).
func ServerHandshake(fr *wire.FrameReader, fw *wire.FrameWriter) (*Session, error) {
	kx, err := newKeyExchange()
	if err != nil {
		return nil, err
	}
	if err := fw.WriteFrame([]byte(kx.publicKeyBase64())); err != nil {
		return nil, errs.Wrap(errs.HandshakeFailed, err, "send server public key")
	}

	clientKeyFrame, err := fr.ReadFrame()
	if err != nil {
		return nil, errs.Wrap(errs.HandshakeFailed, err, "read client public key")
	}

	key, err := kx.deriveKey(string(clientKeyFrame))
	if err != nil {
		return nil, err
	}

	sess, err := NewSession(key)
	if err != nil {
		return nil, err
	}

	welcome, err := sess.SealToString([]byte(welcomeMessage))
	if err != nil {
		return nil, errs.Wrap(errs.HandshakeFailed, err, "seal welcome message")
	}
	if err := fw.WriteFrame([]byte(welcome)); err != nil {
		return nil, errs.Wrap(errs.HandshakeFailed, err, "send welcome message")
	}

	return sess, nil
}

// ClientHandshake performs the client's half: receive the server's public
// key, reply with ours, derive the key, then verify it by decrypting the
// server's welcome frame (spec.md §4.3 step 5).
func ClientHandshake(fr *wire.FrameReader, fw *wire.FrameWriter) (*Session, error) {
	kx, err := newKeyExchange()
	if err != nil {
		return nil, err
	}

	serverKeyFrame, err := fr.ReadFrame()
	if err != nil {
		return nil, errs.Wrap(errs.HandshakeFailed, err, "read server public key")
	}

	if err := fw.WriteFrame([]byte(kx.publicKeyBase64())); err != nil {
		return nil, errs.Wrap(errs.HandshakeFailed, err, "send client public key")
	}

	key, err := kx.deriveKey(string(serverKeyFrame))
	if err != nil {
		return nil, err
	}

	sess, err := NewSession(key)
	if err != nil {
		return nil, err
	}

	welcomeFrame, err := fr.ReadFrame()
	if err != nil {
		return nil, errs.Wrap(errs.HandshakeFailed, err, "read welcome message")
	}
	if _, err := sess.OpenFromString(string(welcomeFrame)); err != nil {
		return nil, errs.Wrap(errs.HandshakeFailed, err, "decrypt welcome message: handshake key mismatch")
	}

	return sess, nil
}
