package wire

import (
	"bufio"
	"fmt"
	"io"
)

// MaxPayloadSize bounds a single payload frame, guarding against a
// corrupt or hostile size field turning into an unbounded allocation.
const MaxPayloadSize = 512 << 20 // 512 MiB: largest is a JobResult's output blob.

// Frame is a fully decoded message plus its optional payload.
type Frame struct {
	Message Message
	Payload []byte // nil unless Message.HasPayload()
}

// WriteFrame writes the header, fixed fields, and (if present) the
// length-prefixed payload as the framing layer's two framed units
// (spec.md §4.A: "the framing layer delivers the header first, then the
// payload").
func WriteFrame(w io.Writer, msg Message, payload []byte) error {
	fields := msg.fieldBytes()
	h := Header{
		Type:       msg.Tag(),
		Size:       uint32(len(fields)),
		HasPayload: msg.HasPayload(),
	}
	if _, err := w.Write(h.marshal()); err != nil {
		return fmt.Errorf("wire: write header: %w", err)
	}
	if len(fields) > 0 {
		if _, err := w.Write(fields); err != nil {
			return fmt.Errorf("wire: write fields: %w", err)
		}
	}
	if h.HasPayload {
		if err := writePayload(w, payload); err != nil {
			return err
		}
	}
	return nil
}

func writePayload(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	nativePutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("wire: write payload length: %w", err)
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("wire: write payload: %w", err)
	}
	return nil
}

// ReadFrame reads one complete message (header, fixed fields, and payload
// if present) from r. r should be buffered; ReadFrame issues several small
// reads per call.
func ReadFrame(r *bufio.Reader) (Frame, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return Frame{}, err
	}
	h, err := unmarshalHeader(headerBuf)
	if err != nil {
		return Frame{}, err
	}

	fields := make([]byte, h.Size)
	if h.Size > 0 {
		if _, err := io.ReadFull(r, fields); err != nil {
			return Frame{}, fmt.Errorf("wire: read fields: %w", err)
		}
	}
	msg, err := decodeFields(h, fields)
	if err != nil {
		return Frame{}, err
	}

	var payload []byte
	if h.HasPayload {
		payload, err = readPayload(r)
		if err != nil {
			return Frame{}, err
		}
	}
	return Frame{Message: msg, Payload: payload}, nil
}

func readPayload(r *bufio.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("wire: read payload length: %w", err)
	}
	size := nativeUint32(lenBuf[:])
	if size > MaxPayloadSize {
		return nil, fmt.Errorf("wire: payload size %d exceeds maximum %d", size, MaxPayloadSize)
	}
	if size == 0 {
		return []byte{}, nil
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("wire: read payload: %w", err)
	}
	return payload, nil
}
