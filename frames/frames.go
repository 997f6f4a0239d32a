// Package frames implements the Mercurial command server wire framing.
//
// The command server multiplexes several logical streams over its stdout.
// Every unit it emits is a frame with a fixed 5-byte header:
//
//	┌─────────────────────────────────────────────────────────┐
//	│  Channel (1 byte) - ASCII letter identifying the stream │
//	├─────────────────────────────────────────────────────────┤
//	│  Length (4 bytes) - big-endian unsigned integer         │
//	├─────────────────────────────────────────────────────────┤
//	│  Payload (Length bytes, data channels only)             │
//	└─────────────────────────────────────────────────────────┘
//
// On the data channels ('o', 'e', 'd', 'r') exactly Length payload bytes
// follow the header and must be fully consumed. On the request channels
// ('I', 'L') no payload follows; Length is the number of bytes the server
// is willing to receive on its stdin.
//
// # Byte Order (Endianness)
//
// ALL multi-byte integer fields use BIG-ENDIAN (network byte order),
// including the signed exit code carried by the result frame.
//
// # Client To Server
//
// The client writes two message kinds on the server's stdin:
//
//   - command submission: the literal "runcommand\n", a 4-byte big-endian
//     length, then the command arguments joined by single NUL bytes with
//     no terminating NUL
//   - input reply: a 4-byte big-endian length followed by that many bytes;
//     a zero length tells the server there is no more input
//
// Argument bytes are transmitted verbatim. Callers are responsible for
// producing bytes in the session's negotiated encoding.
//
// # Reference
//
// https://wiki.mercurial-scm.org/CommandServer
package frames

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
)

// HeaderSize is the frame header size in bytes.
const HeaderSize = 5

// Channel identifies one logical stream multiplexed over the command
// server's stdout. The set is fixed by the Mercurial protocol.
type Channel byte

const (
	// ChannelInput requests raw input bytes from the client.
	ChannelInput Channel = 'I'
	// ChannelLineInput requests a single line of input from the client.
	ChannelLineInput Channel = 'L'
	// ChannelOutput carries command standard output.
	ChannelOutput Channel = 'o'
	// ChannelError carries command standard error.
	ChannelError Channel = 'e'
	// ChannelResult terminates a command; its payload is the exit code.
	ChannelResult Channel = 'r'
	// ChannelDebug carries debug output.
	ChannelDebug Channel = 'd'
)

var (
	// ErrProtocolViolation is returned when the byte stream does not
	// conform to the command server framing.
	ErrProtocolViolation = errors.New("protocol violation")
	// ErrUnknownChannel is returned when the server emits a channel
	// letter outside the known set and the letter marks it mandatory.
	ErrUnknownChannel = fmt.Errorf("%w: unknown channel", ErrProtocolViolation)
)

// String returns the channel letter as a string.
func (c Channel) String() string {
	return string(rune(c))
}

// Known reports whether the channel is part of the protocol's fixed set.
func (c Channel) Known() bool {
	switch c {
	case ChannelInput, ChannelLineInput, ChannelOutput, ChannelError, ChannelResult, ChannelDebug:
		return true
	}
	return false
}

// IsRequest reports whether the channel requests data from the client
// rather than delivering data to it. Request-channel frames carry no
// payload.
func (c Channel) IsRequest() bool {
	return c == ChannelInput || c == ChannelLineInput
}

// Mandatory reports whether a frame on this channel must be understood.
// Mercurial defines unknown uppercase channels as mandatory (the client
// must abort) and unknown lowercase channels as optional (the payload
// may be discarded).
func (c Channel) Mandatory() bool {
	return c >= 'A' && c <= 'Z'
}

// Frame is one channel-tagged, length-prefixed unit of the server to
// client protocol.
type Frame struct {
	Channel Channel
	// Length is the advertised byte count: the payload size on data
	// channels, the requested input size on request channels.
	Length uint32
	// Data is the payload. Nil on request channels.
	Data []byte
}

// ExitCode decodes the frame as a result frame: a 4-byte big-endian
// signed exit code.
func (f *Frame) ExitCode() (int32, error) {
	if f.Channel != ChannelResult {
		return 0, fmt.Errorf("%w: exit code on channel %q", ErrProtocolViolation, f.Channel)
	}
	if len(f.Data) != 4 {
		return 0, fmt.Errorf("%w: result payload is %d bytes, want 4", ErrProtocolViolation, len(f.Data))
	}
	return int32(binary.BigEndian.Uint32(f.Data)), nil
}

// Encode serializes the frame in the server's wire format. Request
// channels produce a bare header.
func (f *Frame) Encode() []byte {
	buf := make([]byte, HeaderSize, HeaderSize+len(f.Data))
	buf[0] = byte(f.Channel)
	binary.BigEndian.PutUint32(buf[1:5], f.Length)
	if !f.Channel.IsRequest() {
		buf = append(buf, f.Data...)
	}
	return buf
}

// maxChunk bounds a single read or write handed to the underlying
// stream. Payload lengths may exceed the signed 32-bit range that some
// host I/O primitives are limited to, so transfers are split rather
// than truncated.
const maxChunk = 1 << 30

// Decoder reads frames from the server's stdout.
type Decoder struct {
	r io.Reader
}

// NewDecoder creates a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

// Next reads one frame. It blocks until the header and, on data
// channels, the full advertised payload have arrived. A stream that
// ends cleanly between frames yields io.EOF; a stream that ends inside
// a frame is a protocol violation.
//
// Unknown channel letters are decoded as data channels so that the
// stream stays framed; enforcement of the mandatory/optional rule is
// the caller's concern.
func (d *Decoder) Next() (*Frame, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(d.r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: short frame header", ErrProtocolViolation)
		}
		return nil, fmt.Errorf("read frame header: %w", err)
	}

	f := &Frame{
		Channel: Channel(header[0]),
		Length:  binary.BigEndian.Uint32(header[1:5]),
	}
	if f.Channel.IsRequest() {
		return f, nil
	}

	data, err := readFull(d.r, f.Length)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: stream ended inside %d-byte payload on channel %q",
				ErrProtocolViolation, f.Length, f.Channel)
		}
		return nil, fmt.Errorf("read frame payload: %w", err)
	}
	f.Data = data
	return f, nil
}

// readFull reads exactly n bytes, looping over short reads and chunking
// so counts above maxChunk never reach the reader in one call.
func readFull(r io.Reader, n uint32) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	for off := 0; off < len(buf); {
		chunk := len(buf) - off
		if chunk > maxChunk {
			chunk = maxChunk
		}
		m, err := io.ReadFull(r, buf[off:off+chunk])
		off += m
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// Encoder writes client to server messages on the command server's
// stdin. It performs no locking; the session serializes access.
type Encoder struct {
	w io.Writer
}

// NewEncoder creates an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// WriteCommand writes a command submission: the literal "runcommand\n",
// a 4-byte big-endian length, and the arguments joined by single NUL
// bytes with no terminating NUL.
func (e *Encoder) WriteCommand(args []string) error {
	if len(args) == 0 {
		return errors.New("empty argument vector")
	}
	payload := strings.Join(args, "\x00")

	buf := make([]byte, 0, len("runcommand\n")+4+len(payload))
	buf = append(buf, "runcommand\n"...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(payload)))
	buf = append(buf, payload...)
	return writeFull(e.w, buf)
}

// WriteInput writes an input reply chunk in response to a request
// frame. An empty chunk signals end of input.
func (e *Encoder) WriteInput(data []byte) error {
	buf := make([]byte, 0, 4+len(data))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(data)))
	buf = append(buf, data...)
	return writeFull(e.w, buf)
}

// writeFull writes all of buf, chunking so counts above maxChunk never
// reach the writer in one call.
func writeFull(w io.Writer, buf []byte) error {
	for off := 0; off < len(buf); {
		chunk := len(buf) - off
		if chunk > maxChunk {
			chunk = maxChunk
		}
		m, err := w.Write(buf[off : off+chunk])
		off += m
		if err != nil {
			return err
		}
	}
	return nil
}

// ReadUint reads a 4-byte big-endian unsigned integer.
func ReadUint(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

// ReadInt reads a 4-byte big-endian signed integer.
func ReadInt(r io.Reader) (int32, error) {
	u, err := ReadUint(r)
	if err != nil {
		return 0, err
	}
	return int32(u), nil
}
