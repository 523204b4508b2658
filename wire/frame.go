package wire

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"lair-chat/server/errs"
)

// MaxFrameSize is the maximum payload size of a single frame (spec.md §4.1).
const MaxFrameSize = 1 << 20 // 1 MiB

// FrameReader decodes the u32be-length-prefixed stream one frame at a time.
// It is not safe for concurrent use — each connection owns exactly one
// FrameReader, read from a single goroutine, matching the teacher's
// single-bufio.Reader-per-connection shape in client.go.
type FrameReader struct {
	r *bufio.Reader
}

func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: bufio.NewReader(r)}
}

// ReadFrame reads exactly one frame and returns its raw payload bytes. An
// EOF before any byte of the length prefix is reported as ConnectionClosed,
// matching spec.md §4.1's "clean" EOF rule; a short read anywhere else is
// fatal (ProtocolError).
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(fr.r, lenBuf[:]); err != nil {
		if err == io.EOF {
			return nil, errs.New(errs.ConnectionClosed, "connection closed before frame length")
		}
		return nil, errs.Wrap(errs.ProtocolError, err, "short read on frame length")
	}

	length := binary.BigEndian.Uint32(lenBuf[:])
	if length > MaxFrameSize {
		return nil, errs.New(errs.MessageTooLarge, fmt.Sprintf("frame length %d exceeds cap %d", length, MaxFrameSize))
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(fr.r, payload); err != nil {
		return nil, errs.Wrap(errs.ProtocolError, err, "short read on frame payload")
	}
	return payload, nil
}

// ReadEnvelope reads one frame and decodes it as an Envelope. Malformed JSON
// is non-fatal: it is reported via a distinct (ok=false) return so the
// caller can log and continue reading the next frame, per spec.md §4.1.
func (fr *FrameReader) ReadEnvelope() (env Envelope, ok bool, err error) {
	payload, err := fr.ReadFrame()
	if err != nil {
		return Envelope{}, false, err
	}
	if jsonErr := json.Unmarshal(payload, &env); jsonErr != nil {
		return Envelope{}, false, errs.Wrap(errs.InvalidJSON, jsonErr, "malformed frame payload")
	}
	return env, true, nil
}

// FrameWriter encodes values as length-prefixed JSON frames. It is safe for
// concurrent use: writes are serialized behind a mutex so two goroutines
// (e.g. a response and a broadcast) never interleave partial frames,
// matching the teacher's ctrlMu-guarded sendRaw in client.go.
type FrameWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w}
}

// WriteFrame writes a single length-prefixed frame atomically: on any
// partial-write failure, the caller must treat the connection as closed —
// no partial frame is ever observably flushed twice.
func (fw *FrameWriter) WriteFrame(payload []byte) error {
	if len(payload) > MaxFrameSize {
		return errs.New(errs.MessageTooLarge, fmt.Sprintf("payload length %d exceeds cap %d", len(payload), MaxFrameSize))
	}

	fw.mu.Lock()
	defer fw.mu.Unlock()

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))

	buf := make([]byte, 0, 4+len(payload))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, payload...)

	if _, err := fw.w.Write(buf); err != nil {
		return errs.Wrap(errs.ConnectionClosed, err, "frame write failed")
	}
	if f, ok := fw.w.(interface{ Flush() error }); ok {
		if err := f.Flush(); err != nil {
			return errs.Wrap(errs.ConnectionClosed, err, "frame flush failed")
		}
	}
	return nil
}

// WriteEnvelope marshals env and writes it as one frame.
func (fw *FrameWriter) WriteEnvelope(env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return errs.Wrap(errs.ProtocolError, err, "marshal envelope")
	}
	return fw.WriteFrame(payload)
}

// EncodeFrame length-prefixes payload as given (no JSON marshalling) and
// returns the full wire bytes.
func EncodeFrame(payload []byte) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	out := make([]byte, 0, 4+len(payload))
	out = append(out, lenBuf[:]...)
	out = append(out, payload...)
	return out
}
