package hgcmd

import (
	"fmt"
	"log/slog"
	"os/exec"

	"github.com/smnsjas/go-hgcmd/commands"
	"github.com/smnsjas/go-hgcmd/server"
	"github.com/smnsjas/go-hgcmd/session"
)

// options collects per-session configuration.
type options struct {
	executable string
	encoding   string
	overrides  map[string]string
	logger     session.Logger
	slogger    *slog.Logger
}

// Option configures a session created by Connect or NewClient.
type Option func(*options)

// WithExecutable sets the hg executable path. The default is "hg"
// resolved on PATH.
func WithExecutable(path string) Option {
	return func(o *options) { o.executable = path }
}

// WithEncoding sets HGENCODING for the server subprocess.
func WithEncoding(encoding string) Option {
	return func(o *options) { o.encoding = encoding }
}

// WithConfig adds repository configuration overrides, passed to the
// server as a single --config option.
func WithConfig(overrides map[string]string) Option {
	return func(o *options) {
		if o.overrides == nil {
			o.overrides = make(map[string]string, len(overrides))
		}
		for k, v := range overrides {
			o.overrides[k] = v
		}
	}
}

// WithLogger enables debug logging through a Printf-style logger.
func WithLogger(logger session.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithSlogLogger enables structured debug logging.
func WithSlogLogger(logger *slog.Logger) Option {
	return func(o *options) { o.slogger = logger }
}

// Connect starts a command server for the repository at path and
// completes the handshake. The caller must Close the returned session.
func Connect(path string, opts ...Option) (*session.Session, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	proc, err := server.Start(server.Config{
		RepoPath:        path,
		Executable:      o.executable,
		Encoding:        o.encoding,
		ConfigOverrides: o.overrides,
	})
	if err != nil {
		return nil, err
	}

	sess := session.New(proc)
	if o.logger != nil {
		if err := sess.SetLogger(o.logger); err != nil {
			_ = proc.Close()
			return nil, err
		}
	}
	if o.slogger != nil {
		if err := sess.SetSlogLogger(o.slogger); err != nil {
			_ = proc.Close()
			return nil, err
		}
	}

	if err := sess.Handshake(); err != nil {
		return nil, err
	}
	return sess, nil
}

// Client couples a session with the typed command surface.
type Client struct {
	*commands.Client
	sess *session.Session
}

// NewClient connects to the repository at path and wraps the session
// in the typed command layer. The caller must Close the client.
func NewClient(path string, opts ...Option) (*Client, error) {
	sess, err := Connect(path, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{
		Client: commands.New(sess),
		sess:   sess,
	}, nil
}

// Session returns the underlying session for raw protocol access.
func (c *Client) Session() *session.Session {
	return c.sess
}

// Root returns the repository root path.
func (c *Client) Root() (string, error) {
	return c.sess.Root()
}

// Configuration returns the effective repository configuration.
func (c *Client) Configuration() (map[string]string, error) {
	return c.sess.Configuration()
}

// Version returns the server's normalized Mercurial version.
func (c *Client) Version() (string, error) {
	return c.sess.Version()
}

// Close terminates the command server.
func (c *Client) Close() error {
	return c.sess.Close()
}

// Init creates a new repository at path without starting a command
// server: the server needs an existing repository, so initialization
// runs hg directly. The executable defaults to "hg" on PATH.
func Init(path, executable string) error {
	if path == "" {
		return server.ErrNoRepository
	}
	if executable == "" {
		executable = server.DefaultExecutable
	}
	out, err := exec.Command(executable, "init", path).CombinedOutput()
	if err != nil {
		return fmt.Errorf("hg init %s: %w: %s", path, err, out)
	}
	return nil
}
