package frames

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

func TestChannelClassification(t *testing.T) {
	tests := []struct {
		name      string
		ch        Channel
		known     bool
		request   bool
		mandatory bool
	}{
		{name: "input", ch: ChannelInput, known: true, request: true, mandatory: true},
		{name: "line input", ch: ChannelLineInput, known: true, request: true, mandatory: true},
		{name: "output", ch: ChannelOutput, known: true},
		{name: "error", ch: ChannelError, known: true},
		{name: "result", ch: ChannelResult, known: true},
		{name: "debug", ch: ChannelDebug, known: true},
		{name: "unknown uppercase", ch: Channel('X'), mandatory: true},
		{name: "unknown lowercase", ch: Channel('x')},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ch.Known(); got != tt.known {
				t.Errorf("Known() = %v, want %v", got, tt.known)
			}
			if got := tt.ch.IsRequest(); got != tt.request {
				t.Errorf("IsRequest() = %v, want %v", got, tt.request)
			}
			if got := tt.ch.Mandatory(); got != tt.mandatory {
				t.Errorf("Mandatory() = %v, want %v", got, tt.mandatory)
			}
		})
	}
}

func TestDecoderDataFrames(t *testing.T) {
	tests := []struct {
		name    string
		wire    []byte
		channel Channel
		data    []byte
	}{
		{
			name:    "output frame",
			wire:    append([]byte{'o', 0, 0, 0, 5}, "hello"...),
			channel: ChannelOutput,
			data:    []byte("hello"),
		},
		{
			name:    "empty payload",
			wire:    []byte{'e', 0, 0, 0, 0},
			channel: ChannelError,
			data:    nil,
		},
		{
			name:    "result frame",
			wire:    []byte{'r', 0, 0, 0, 4, 0, 0, 0, 0},
			channel: ChannelResult,
			data:    []byte{0, 0, 0, 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDecoder(bytes.NewReader(tt.wire))
			f, err := d.Next()
			if err != nil {
				t.Fatalf("Next failed: %v", err)
			}
			if f.Channel != tt.channel {
				t.Errorf("channel = %q, want %q", f.Channel, tt.channel)
			}
			if !bytes.Equal(f.Data, tt.data) {
				t.Errorf("data = %q, want %q", f.Data, tt.data)
			}
			if f.Length != uint32(len(tt.data)) {
				t.Errorf("length = %d, want %d", f.Length, len(tt.data))
			}
		})
	}
}

func TestDecoderRequestFrames(t *testing.T) {
	// Request frames carry no payload; the length is the requested
	// byte count and the following bytes belong to the next frame.
	wire := []byte{'I', 0, 0, 16, 0}
	wire = append(wire, 'o', 0, 0, 0, 2, 'h', 'i')

	d := NewDecoder(bytes.NewReader(wire))

	f, err := d.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if f.Channel != ChannelInput {
		t.Fatalf("channel = %q, want I", f.Channel)
	}
	if f.Length != 4096 {
		t.Errorf("requested size = %d, want 4096", f.Length)
	}
	if f.Data != nil {
		t.Errorf("request frame carried payload %q", f.Data)
	}

	f, err = d.Next()
	if err != nil {
		t.Fatalf("Next failed on following frame: %v", err)
	}
	if f.Channel != ChannelOutput || string(f.Data) != "hi" {
		t.Errorf("following frame = %q %q, want o \"hi\"", f.Channel, f.Data)
	}
}

func TestDecoderFullFrameBeforeNextHeader(t *testing.T) {
	// Two frames back to back: the first payload must be fully
	// consumed before the second header is interpreted.
	var wire bytes.Buffer
	first := bytes.Repeat([]byte{'r'}, 3000) // payload bytes that look like headers
	wire.Write((&Frame{Channel: ChannelOutput, Length: uint32(len(first)), Data: first}).Encode())
	wire.Write((&Frame{Channel: ChannelError, Length: 3, Data: []byte("err")}).Encode())

	d := NewDecoder(iotest(&wire, 7)) // force short reads

	f, err := d.Next()
	if err != nil {
		t.Fatalf("first Next failed: %v", err)
	}
	if f.Channel != ChannelOutput || !bytes.Equal(f.Data, first) {
		t.Fatalf("first frame corrupted: channel %q, %d bytes", f.Channel, len(f.Data))
	}

	f, err = d.Next()
	if err != nil {
		t.Fatalf("second Next failed: %v", err)
	}
	if f.Channel != ChannelError || string(f.Data) != "err" {
		t.Errorf("second frame = %q %q, want e \"err\"", f.Channel, f.Data)
	}
}

// iotest wraps r so every Read returns at most n bytes.
func iotest(r io.Reader, n int) io.Reader {
	return &shortReader{r: r, n: n}
}

type shortReader struct {
	r io.Reader
	n int
}

func (s *shortReader) Read(p []byte) (int, error) {
	if len(p) > s.n {
		p = p[:s.n]
	}
	return s.r.Read(p)
}

func TestDecoderErrors(t *testing.T) {
	tests := []struct {
		name string
		wire []byte
		want error
	}{
		{name: "clean EOF", wire: nil, want: io.EOF},
		{name: "short header", wire: []byte{'o', 0, 0}, want: ErrProtocolViolation},
		{name: "truncated payload", wire: []byte{'o', 0, 0, 0, 10, 'x'}, want: ErrProtocolViolation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDecoder(bytes.NewReader(tt.wire))
			_, err := d.Next()
			if !errors.Is(err, tt.want) {
				t.Errorf("Next() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name    string
		frame   *Frame
		want    int32
		wantErr bool
	}{
		{
			name:  "zero",
			frame: &Frame{Channel: ChannelResult, Data: []byte{0, 0, 0, 0}},
			want:  0,
		},
		{
			name:  "one",
			frame: &Frame{Channel: ChannelResult, Data: []byte{0, 0, 0, 1}},
			want:  1,
		},
		{
			name:  "negative",
			frame: &Frame{Channel: ChannelResult, Data: []byte{0xFF, 0xFF, 0xFF, 0xFF}},
			want:  -1,
		},
		{
			name:    "wrong channel",
			frame:   &Frame{Channel: ChannelOutput, Data: []byte{0, 0, 0, 0}},
			wantErr: true,
		},
		{
			name:    "malformed length",
			frame:   &Frame{Channel: ChannelResult, Data: []byte{0, 0, 0}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, err := tt.frame.ExitCode()
			if tt.wantErr {
				if !errors.Is(err, ErrProtocolViolation) {
					t.Fatalf("ExitCode() error = %v, want ErrProtocolViolation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ExitCode failed: %v", err)
			}
			if code != tt.want {
				t.Errorf("ExitCode() = %d, want %d", code, tt.want)
			}
		})
	}
}

func TestWriteCommand(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want []byte
	}{
		{
			name: "single argument",
			args: []string{"root"},
			want: append([]byte("runcommand\n\x00\x00\x00\x04"), "root"...),
		},
		{
			name: "NUL joined arguments",
			args: []string{"log", "-l", "5"},
			want: append([]byte("runcommand\n\x00\x00\x00\x08"), "log\x00-l\x005"...),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := NewEncoder(&buf).WriteCommand(tt.args); err != nil {
				t.Fatalf("WriteCommand failed: %v", err)
			}
			if !bytes.Equal(buf.Bytes(), tt.want) {
				t.Errorf("wire = %q, want %q", buf.Bytes(), tt.want)
			}
		})
	}

	t.Run("empty argv", func(t *testing.T) {
		var buf bytes.Buffer
		if err := NewEncoder(&buf).WriteCommand(nil); err == nil {
			t.Error("WriteCommand(nil) succeeded, want error")
		}
	})
}

func TestWriteInput(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want []byte
	}{
		{
			name: "chunk",
			data: []byte("abc"),
			want: []byte{0, 0, 0, 3, 'a', 'b', 'c'},
		},
		{
			name: "EOF reply",
			data: nil,
			want: []byte{0, 0, 0, 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := NewEncoder(&buf).WriteInput(tt.data); err != nil {
				t.Fatalf("WriteInput failed: %v", err)
			}
			if !bytes.Equal(buf.Bytes(), tt.want) {
				t.Errorf("wire = %q, want %q", buf.Bytes(), tt.want)
			}
		})
	}
}

func TestReadIntRoundTrip(t *testing.T) {
	values := []int32{0, 1, -1, 255, -255, 1 << 30, -(1 << 30), 2147483647, -2147483648}

	for _, v := range values {
		var buf [4]byte
		binary.BigEndian.PutUint32(buf[:], uint32(v))

		got, err := ReadInt(bytes.NewReader(buf[:]))
		if err != nil {
			t.Fatalf("ReadInt(%d) failed: %v", v, err)
		}
		if got != v {
			t.Errorf("ReadInt round trip = %d, want %d", got, v)
		}
	}
}

func TestReadUintRoundTrip(t *testing.T) {
	values := []uint32{0, 1, 4096, 1 << 31, 4294967295}

	for _, v := range values {
		var buf [4]byte
		binary.BigEndian.PutUint32(buf[:], v)

		got, err := ReadUint(bytes.NewReader(buf[:]))
		if err != nil {
			t.Fatalf("ReadUint(%d) failed: %v", v, err)
		}
		if got != v {
			t.Errorf("ReadUint round trip = %d, want %d", got, v)
		}
	}
}
