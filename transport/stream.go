package transport

import (
	"context"
	"encoding/binary"
	"io"
	"sync"

	"github.com/pkg/errors"

	"go.viam.com/switchbus/logging"
	"go.viam.com/switchbus/pio"
	"go.viam.com/switchbus/schan"
	"go.viam.com/switchbus/utils"
)

// Frame layout on a stream. A request is unit, response words, a big-endian payload length and
// the command words. A response is a big-endian payload length and the response words.
const (
	requestHeaderLen  = 4
	responseHeaderLen = 2
	maxPayload        = schan.MaxWords * schan.WordBytes
)

// Stream sends S-Channel messages over a byte stream shared by all units. One message is in
// flight at a time.
type Stream struct {
	mu     sync.Mutex
	rw     io.ReadWriter
	logger logging.Logger
}

// NewStream returns an exchanger over rw.
func NewStream(rw io.ReadWriter, logger logging.Logger) *Stream {
	return &Stream{rw: rw, logger: logger}
}

// Op implements pio.Exchanger.
func (s *Stream) Op(ctx context.Context, unit int, msg *schan.Message, writeWords, readWords int) error {
	if unit < 0 || unit > 0xff {
		return utils.NewParamError("unit %d cannot be addressed on a stream", unit)
	}
	if readWords < 0 || readWords > schan.MaxWords {
		return utils.NewParamError("%d response words exceed message size %d", readWords, schan.MaxWords)
	}
	payload, err := msg.Bytes(writeWords)
	if err != nil {
		return err
	}
	frame := make([]byte, requestHeaderLen, requestHeaderLen+len(payload))
	frame[0] = byte(unit)
	frame[1] = byte(readWords)
	binary.BigEndian.PutUint16(frame[2:], uint16(len(payload)))
	frame = append(frame, payload...)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.rw.Write(frame); err != nil {
		return errors.Wrap(err, "cannot write request frame")
	}
	resp, err := readFrame(s.rw, responseHeaderLen)
	if err != nil {
		return errors.Wrap(err, "cannot read response frame")
	}
	if len(resp) != readWords*schan.WordBytes {
		return errors.Errorf("unit %d: response of %d bytes, want %d", unit, len(resp), readWords*schan.WordBytes)
	}
	s.logger.CDebugw(ctx, "stream op", "unit", unit, "write", len(payload), "read", len(resp))

	msg.Clear()
	return msg.SetBytes(resp)
}

// Close closes the underlying stream if it can be closed.
func (s *Stream) Close() error {
	if c, ok := s.rw.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func readFrame(r io.Reader, headerLen int) ([]byte, error) {
	hdr := make([]byte, headerLen)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, err
	}
	n := int(binary.BigEndian.Uint16(hdr[headerLen-2:]))
	if n > maxPayload || n%schan.WordBytes != 0 {
		return nil, errors.Errorf("bad frame length %d", n)
	}
	payload := make([]byte, headerLen+n)
	copy(payload, hdr)
	if _, err := io.ReadFull(r, payload[headerLen:]); err != nil {
		return nil, err
	}
	return payload[headerLen:], nil
}

// Serve answers request frames read from rw with ex until rw is exhausted or ctx is done. It is
// the device side of a Stream, as run by a debug bridge. Exchange failures are logged and
// answered with an empty response.
func Serve(ctx context.Context, rw io.ReadWriter, ex pio.Exchanger, logger logging.Logger) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr := make([]byte, requestHeaderLen)
		if _, err := io.ReadFull(rw, hdr); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		unit, readWords := int(hdr[0]), int(hdr[1])
		n := int(binary.BigEndian.Uint16(hdr[2:]))
		if n > maxPayload || n%schan.WordBytes != 0 || readWords > schan.MaxWords {
			return errors.Errorf("bad request frame length=%d read=%d", n, readWords)
		}
		payload := make([]byte, n)
		if _, err := io.ReadFull(rw, payload); err != nil {
			return err
		}

		var msg schan.Message
		if err := msg.SetBytes(payload); err != nil {
			return err
		}
		resp, err := msg.Bytes(readWords)
		if err == nil {
			err = ex.Op(ctx, unit, &msg, n/schan.WordBytes, readWords)
			resp, _ = msg.Bytes(readWords)
		}
		if err != nil {
			logger.Warnw("bridge op failed", "unit", unit, "error", err)
			resp = nil
		}

		out := make([]byte, responseHeaderLen, responseHeaderLen+len(resp))
		binary.BigEndian.PutUint16(out, uint16(len(resp)))
		if _, err := rw.Write(append(out, resp...)); err != nil {
			return err
		}
	}
}
