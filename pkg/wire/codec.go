package wire

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/transwacom/transwacomd/pkg/xerrors"
)

// Encoder writes newline-delimited JSON frames to an underlying stream.
// It mirrors the line-oriented JSON encode idiom used for the audit log,
// generalized to also decode.
type Encoder struct {
	w io.Writer
}

// NewEncoder wraps w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode marshals msg and writes it as one newline-terminated frame.
// Each frame goes out in a single Write call on w, so concurrent Encode
// calls do not interleave frames when w's Write is itself safe for
// concurrent use, as a net.Conn's is; the Session Engine relies on this
// for its capture sink, keepalive and Stop, which share one Encoder.
func (e *Encoder) Encode(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	if len(data) > MaxFrameSize {
		return fmt.Errorf("message of %d bytes exceeds %d byte frame cap: %w", len(data), MaxFrameSize, xerrors.ErrProtocol)
	}
	data = append(data, '\n')
	if _, err := e.w.Write(data); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// Decoder reads newline-delimited JSON frames from an underlying stream,
// enforcing the frame size cap and dispatching by the message's type
// field.
type Decoder struct {
	scanner *bufio.Scanner
}

// NewDecoder wraps r.
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 4096), MaxFrameSize+1)
	return &Decoder{scanner: scanner}
}

// Decode reads the next frame and returns the concrete decoded message:
// Handshake, AuthResponse, EventBatch, or Bye. An unknown type is a
// protocol error; unknown fields within a known type are ignored by the
// standard JSON decoder's default behavior, which is what keeps the
// protocol forward-compatible.
func (d *Decoder) Decode() (interface{}, error) {
	if !d.scanner.Scan() {
		if err := d.scanner.Err(); err != nil {
			if err == bufio.ErrTooLong {
				return nil, fmt.Errorf("frame exceeds %d bytes: %w", MaxFrameSize, xerrors.ErrProtocol)
			}
			return nil, fmt.Errorf("reading frame: %w", err)
		}
		return nil, io.EOF
	}

	line := d.scanner.Bytes()
	if len(line) > MaxFrameSize {
		return nil, fmt.Errorf("frame of %d bytes exceeds %d byte cap: %w", len(line), MaxFrameSize, xerrors.ErrProtocol)
	}

	var t typeOnly
	if err := json.Unmarshal(line, &t); err != nil {
		return nil, fmt.Errorf("malformed frame: %w: %v", xerrors.ErrProtocol, err)
	}

	switch t.Type {
	case TypeHandshake:
		var m Handshake
		if err := json.Unmarshal(line, &m); err != nil {
			return nil, fmt.Errorf("malformed handshake: %w: %v", xerrors.ErrProtocol, err)
		}
		return m, nil
	case TypeAuthResponse:
		var m AuthResponse
		if err := json.Unmarshal(line, &m); err != nil {
			return nil, fmt.Errorf("malformed auth_response: %w: %v", xerrors.ErrProtocol, err)
		}
		return m, nil
	case TypeEvent:
		var m EventBatch
		if err := json.Unmarshal(line, &m); err != nil {
			return nil, fmt.Errorf("malformed event: %w: %v", xerrors.ErrProtocol, err)
		}
		return m, nil
	case TypeBye:
		var m Bye
		if err := json.Unmarshal(line, &m); err != nil {
			return nil, fmt.Errorf("malformed bye: %w: %v", xerrors.ErrProtocol, err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown message type %q: %w", t.Type, xerrors.ErrProtocol)
	}
}
