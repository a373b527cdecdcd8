package cdp

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/gobwas/ws"
)

// errRemoteClose is returned by the framer when the peer sends a close frame.
var errRemoteClose = errors.New("remote sent close frame")

// framer is an incremental WebSocket frame decoder. Raw socket bytes are
// fed in arbitrary chunks; onMessage runs synchronously once for every
// complete data message, with fragments already joined.
type framer struct {
	buf      []byte
	fragment []byte
	inFrag   bool
	limit    int64

	onMessage func([]byte)
	onPing    func([]byte)
}

func newFramer(limit int64, onMessage, onPing func([]byte)) *framer {
	return &framer{
		limit:     limit,
		onMessage: onMessage,
		onPing:    onPing,
	}
}

// feed appends p to the decode buffer and emits every complete frame.
// Incomplete trailing bytes stay buffered for the next call.
func (f *framer) feed(p []byte) error {
	f.buf = append(f.buf, p...)
	for {
		r := bytes.NewReader(f.buf)
		h, err := ws.ReadHeader(r)
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read frame header: %w", err)
		}
		if h.Length > f.limit || int64(len(f.fragment))+h.Length > f.limit {
			return fmt.Errorf("frame of %d bytes exceeds limit %d", h.Length, f.limit)
		}

		headerLen := len(f.buf) - r.Len()
		if int64(r.Len()) < h.Length {
			return nil
		}
		end := headerLen + int(h.Length)
		payload := make([]byte, h.Length)
		copy(payload, f.buf[headerLen:end])
		f.buf = append(f.buf[:0], f.buf[end:]...)

		if h.Masked {
			ws.Cipher(payload, h.Mask, 0)
		}
		if err := f.frame(h, payload); err != nil {
			return err
		}
	}
}

func (f *framer) frame(h ws.Header, payload []byte) error {
	switch h.OpCode {
	case ws.OpText, ws.OpBinary:
		if f.inFrag {
			return errors.New("new data frame inside fragmented message")
		}
		if h.Fin {
			f.onMessage(payload)
			return nil
		}
		f.inFrag = true
		f.fragment = append(f.fragment[:0], payload...)
	case ws.OpContinuation:
		if !f.inFrag {
			return errors.New("continuation frame without message start")
		}
		f.fragment = append(f.fragment, payload...)
		if h.Fin {
			msg := f.fragment
			f.fragment = nil
			f.inFrag = false
			f.onMessage(msg)
		}
	case ws.OpPing:
		if f.onPing != nil {
			f.onPing(payload)
		}
	case ws.OpPong:
	case ws.OpClose:
		return errRemoteClose
	default:
		return fmt.Errorf("unexpected opcode %#x", h.OpCode)
	}
	return nil
}

// buffered returns the number of undecoded bytes held.
func (f *framer) buffered() int {
	return len(f.buf)
}
