// Package session implements the command server session state machine.
//
// A Session owns one running command server and drives the framed
// request/response loop over its pipes. Commands are strictly serial:
// the protocol allows exactly one command in flight per server, so the
// session holds an exclusive lock for the full duration of each
// RunCommand.
//
// # State Machine
//
// The Session follows a strict state machine:
//
//	Spawned → Handshaking → Ready ⇄ InCommand
//	              ↓           ↓         ↓
//	              └────────→ Closed ←───┘
//
// State transitions:
//   - Spawned: subprocess started, hello frame not yet read
//   - Handshaking: reading and validating the hello frame
//   - Ready: idle, a command may be submitted
//   - InCommand: a command is in flight, the session lock is held
//   - Closed: terminal; the subprocess is gone and every command fails
//
// A transport or framing error inside a command leaves the server in an
// unknowable position, so the session closes itself rather than risk
// desynchronized frames. Command-level non-zero exits keep the session
// usable.
//
// # Handshake
//
// The server's first frame is a hello on the output channel: newline
// separated "key: value" pairs carrying at least the capability list
// and the server encoding. Both are cached for the session's lifetime.
//
// # Usage
//
//	proc, err := server.Start(server.Config{RepoPath: path})
//	if err != nil {
//	    return err
//	}
//	sess := session.New(proc)
//	if err := sess.Handshake(); err != nil {
//	    return err
//	}
//	defer sess.Close()
//
//	res, err := sess.GetCommandOutput([]string{"status", "-0"}, nil)
//
// # Reference
//
// https://wiki.mercurial-scm.org/CommandServer
package session
