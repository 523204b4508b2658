package crypto

import (
	"encoding/json"

	"lair-chat/server/errs"
	"lair-chat/server/wire"
)

// SealEnvelope marshals env to JSON, seals it under sess, and returns the
// Base64 ciphertext ready to hand to a FrameWriter as a frame payload.
// Every application-layer frame after the handshake is an opaque encrypted
// blob at the framing layer (spec.md §4.3): the type discriminator inside
// env is only visible once decrypted.
func SealEnvelope(sess *Session, env wire.Envelope) ([]byte, error) {
	plaintext, err := json.Marshal(env)
	if err != nil {
		return nil, errs.Wrap(errs.ProtocolError, err, "marshal envelope")
	}
	ciphertext, err := sess.SealToString(plaintext)
	if err != nil {
		return nil, err
	}
	return []byte(ciphertext), nil
}

// OpenEnvelope reverses SealEnvelope: frame is the Base64 ciphertext read
// from one frame payload; it is opened under sess and JSON-decoded.
func OpenEnvelope(sess *Session, frame []byte) (wire.Envelope, error) {
	var env wire.Envelope
	plaintext, err := sess.OpenFromString(string(frame))
	if err != nil {
		return env, err
	}
	if jsonErr := json.Unmarshal(plaintext, &env); jsonErr != nil {
		return env, errs.Wrap(errs.InvalidJSON, jsonErr, "decode decrypted envelope")
	}
	return env, nil
}
