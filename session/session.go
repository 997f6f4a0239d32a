package session

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/smnsjas/go-hgcmd/frames"
	"github.com/smnsjas/go-hgcmd/objects"
)

var (
	// ErrInvalidState is returned when an operation is attempted in an
	// invalid session state.
	ErrInvalidState = errors.New("invalid session state")
	// ErrClosed is returned when the session has been closed.
	ErrClosed = errors.New("session closed")
	// ErrHandshakeFailed is returned when the hello frame is missing,
	// malformed, or lacks a required field.
	ErrHandshakeFailed = errors.New("handshake failed")
	// ErrTransportFailed is returned when a pipe read or write fails or
	// the stream ends mid-command. The session is closed.
	ErrTransportFailed = errors.New("transport failed")
	// ErrEmptyCommand is returned when RunCommand is called with no
	// arguments.
	ErrEmptyCommand = errors.New("empty command")
)

// CommandError reports a command that exited non-zero where zero was
// expected. The session remains usable.
type CommandError struct {
	Args   []string
	Code   int32
	Stdout string
	Stderr string
}

func (e *CommandError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		msg = strings.TrimSpace(e.Stdout)
	}
	if msg == "" {
		return fmt.Sprintf("hg %s: exit status %d", strings.Join(e.Args, " "), e.Code)
	}
	return fmt.Sprintf("hg %s: exit status %d: %s", strings.Join(e.Args, " "), e.Code, msg)
}

// CommandResult is the captured outcome of one command.
type CommandResult struct {
	Stdout string
	Stderr string
	Code   int32
}

// InputFunc supplies bytes for an input request frame. It receives the
// number of bytes the server is willing to accept and returns the
// chunk to send; an empty return signals end of input. It runs inline
// on the command loop's goroutine while the session lock is held.
type InputFunc func(size uint32) []byte

// Logger is an optional interface for debug logging.
// If not set, no logging is performed.
type Logger interface {
	// Printf formats and logs a debug message.
	Printf(format string, v ...interface{})
}

// State represents the current state of a Session.
type State int

const (
	// StateSpawned is the initial state: subprocess running, hello
	// frame not yet read.
	StateSpawned State = iota
	// StateHandshaking indicates the hello frame is being read.
	StateHandshaking
	// StateReady indicates the session is idle and usable.
	StateReady
	// StateInCommand indicates a command is in flight.
	StateInCommand
	// StateClosed is terminal: the subprocess is gone.
	StateClosed
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateSpawned:
		return "Spawned"
	case StateHandshaking:
		return "Handshaking"
	case StateReady:
		return "Ready"
	case StateInCommand:
		return "InCommand"
	case StateClosed:
		return "Closed"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// Session drives the command server protocol over a transport. One
// session owns one server; the transport is never shared.
type Session struct {
	// mu guards the transport pipes and the session state as a unit.
	// It is held for the entire duration of a command.
	mu sync.Mutex

	id        uuid.UUID
	transport io.ReadWriteCloser
	enc       *frames.Encoder
	dec       *frames.Decoder
	state     State

	// Handshake results. Set once, never mutated.
	encoding     string
	capabilities []string
	capSet       map[string]bool

	// Memoized accessors.
	root       string
	rootKnown  bool
	config     map[string]string
	versionStr string

	// Loggers are configured before Handshake and immutable after, so
	// logf may read them without the lock.
	logger     Logger
	slogLogger *slog.Logger
}

// New creates a Session over an already-started transport, typically a
// server.Process. The session starts in StateSpawned; call Handshake
// before submitting commands.
func New(transport io.ReadWriteCloser) *Session {
	return &Session{
		id:        uuid.New(),
		transport: transport,
		enc:       frames.NewEncoder(transport),
		dec:       frames.NewDecoder(transport),
		state:     StateSpawned,
	}
}

// ID returns the unique identifier of the session.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// State returns the current state of the session.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetLogger sets the logger for debug logging.
// This is optional - if not set, no logging is performed.
// Must be called before Handshake().
func (s *Session) SetLogger(logger Logger) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateSpawned {
		return ErrInvalidState
	}
	s.logger = logger
	return nil
}

// SetSlogLogger sets a structured logger for debug logging. Every
// record carries the session id. Must be called before Handshake().
func (s *Session) SetSlogLogger(logger *slog.Logger) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateSpawned {
		return ErrInvalidState
	}
	s.slogLogger = logger.With("session_id", s.id.String())
	return nil
}

// EnableDebugLogging enables debug logging to stderr using the
// standard log package.
func (s *Session) EnableDebugLogging() error {
	return s.SetLogger(log.New(os.Stderr, "[hgcmd] ", log.LstdFlags))
}

// Handshake reads and validates the hello frame. On success the
// session is Ready and the negotiated encoding and capability set are
// cached for its lifetime.
func (s *Session) Handshake() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateSpawned:
	case StateClosed:
		return ErrClosed
	default:
		return fmt.Errorf("%w: handshake from state %s", ErrInvalidState, s.state)
	}
	s.state = StateHandshaking

	hello, err := s.dec.Next()
	if err != nil {
		s.closeLocked()
		return fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}
	if hello.Channel != frames.ChannelOutput {
		s.closeLocked()
		return fmt.Errorf("%w: hello frame on channel %q, want %q",
			ErrHandshakeFailed, hello.Channel, frames.ChannelOutput)
	}

	fields := objects.ParseKeyValues(string(hello.Data), ":")
	caps, ok := fields["capabilities"]
	if !ok {
		s.closeLocked()
		return fmt.Errorf("%w: hello frame missing capabilities", ErrHandshakeFailed)
	}
	encoding, ok := fields["encoding"]
	if !ok {
		s.closeLocked()
		return fmt.Errorf("%w: hello frame missing encoding", ErrHandshakeFailed)
	}

	s.capabilities = strings.Fields(caps)
	sort.Strings(s.capabilities)
	s.capSet = make(map[string]bool, len(s.capabilities))
	for _, c := range s.capabilities {
		s.capSet[c] = true
	}
	s.encoding = encoding
	s.state = StateReady

	s.logf("handshake complete: encoding=%s capabilities=%s", encoding, caps)
	return nil
}

// Encoding returns the server encoding announced in the hello frame.
func (s *Session) Encoding() string {
	return s.encoding
}

// Capabilities returns the sorted capability tokens announced in the
// hello frame.
func (s *Session) Capabilities() []string {
	out := make([]string, len(s.capabilities))
	copy(out, s.capabilities)
	return out
}

// Capable reports whether the server announced the named capability.
func (s *Session) Capable(name string) bool {
	return s.capSet[name]
}

// RunCommand submits one command and pumps frames until the result
// frame arrives, returning the command's exit code.
//
// Payloads on the output, error and debug channels are appended to the
// matching writer in outputs; channels without a writer are discarded.
// Input request frames are answered by the matching InputFunc in
// inputs; channels without a provider receive an immediate end-of-input
// reply.
//
// Commands are strictly serialized: concurrent callers block until the
// session is free. Any transport or framing error closes the session.
func (s *Session) RunCommand(args []string, outputs map[frames.Channel]io.Writer, inputs map[frames.Channel]InputFunc) (int32, error) {
	if len(args) == 0 {
		return 0, ErrEmptyCommand
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateReady:
	case StateClosed:
		return 0, ErrClosed
	default:
		return 0, fmt.Errorf("%w: run command from state %s", ErrInvalidState, s.state)
	}
	s.state = StateInCommand

	s.logf("run: %s", strings.Join(args, " "))
	if err := s.enc.WriteCommand(args); err != nil {
		return 0, s.failLocked(err)
	}

	for {
		f, err := s.dec.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = fmt.Errorf("server exited mid-command: %w", io.ErrUnexpectedEOF)
			}
			return 0, s.failLocked(err)
		}

		switch {
		case f.Channel == frames.ChannelResult:
			code, err := f.ExitCode()
			if err != nil {
				return 0, s.failLocked(err)
			}
			s.state = StateReady
			s.logf("result: exit %d", code)
			return code, nil

		case f.Channel.IsRequest():
			var chunk []byte
			if provider := inputs[f.Channel]; provider != nil {
				chunk = provider(f.Length)
				if uint32(len(chunk)) > f.Length {
					chunk = chunk[:f.Length]
				}
			}
			if err := s.enc.WriteInput(chunk); err != nil {
				return 0, s.failLocked(err)
			}

		case f.Channel.Known():
			if w := outputs[f.Channel]; w != nil {
				if _, err := w.Write(f.Data); err != nil {
					return 0, s.failLocked(fmt.Errorf("write channel %q sink: %w", f.Channel, err))
				}
			}

		case f.Channel.Mandatory():
			return 0, s.failLocked(fmt.Errorf("%w: unexpected data on mandatory channel %q",
				frames.ErrUnknownChannel, f.Channel))

		default:
			// Unknown optional channel: payload consumed, drop it.
			s.logf("ignoring %d bytes on unknown channel %q", len(f.Data), f.Channel)
		}
	}
}

// GetCommandOutput runs a command with in-memory sinks for the output
// and error channels and returns the captured result. The strings hold
// the raw wire bytes, which the command server emits as UTF-8.
func (s *Session) GetCommandOutput(args []string, inputs map[frames.Channel]InputFunc) (*CommandResult, error) {
	var stdout, stderr bytes.Buffer
	code, err := s.RunCommand(args, map[frames.Channel]io.Writer{
		frames.ChannelOutput: &stdout,
		frames.ChannelError:  &stderr,
	}, inputs)
	if err != nil {
		return nil, err
	}
	return &CommandResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
		Code:   code,
	}, nil
}

// output runs a command and converts any non-zero exit into a
// CommandError. Used by the derived accessors.
func (s *Session) output(args ...string) (*CommandResult, error) {
	res, err := s.GetCommandOutput(args, nil)
	if err != nil {
		return nil, err
	}
	if res.Code != 0 {
		return nil, &CommandError{
			Args:   args,
			Code:   res.Code,
			Stdout: res.Stdout,
			Stderr: res.Stderr,
		}
	}
	return res, nil
}

// Close terminates the command server and releases the transport. The
// session is single-use: Handshake, RunCommand and GetCommandOutput fail
// with ErrClosed after Close, as do Root, Configuration and Version when
// their value was not fetched before the close. Values already memoized
// by those accessors, and Encoding and Capabilities, are still returned
// from the cache after Close. Safe to call from any state and more than
// once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return nil
	}
	s.logf("closing session")
	return s.closeLocked()
}

// closeLocked transitions to Closed and closes the transport. Caller
// must hold mu.
func (s *Session) closeLocked() error {
	s.state = StateClosed
	return s.transport.Close()
}

// failLocked handles a mid-command transport or framing error: the
// frame stream position is unknowable, so the session is closed.
// Framing errors keep their protocol-violation identity; everything
// else is reported as a transport failure. Caller must hold mu.
func (s *Session) failLocked(err error) error {
	s.logf("command aborted: %v", err)
	_ = s.closeLocked()
	if errors.Is(err, frames.ErrProtocolViolation) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransportFailed, err)
}

// logf logs a debug message if a logger is configured.
func (s *Session) logf(format string, v ...interface{}) {
	if s.slogLogger != nil {
		s.slogLogger.Debug(fmt.Sprintf(format, v...))
		return
	}
	if s.logger != nil {
		s.logger.Printf(format, v...)
	}
}
