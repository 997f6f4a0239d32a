// Package hgcmd provides a Go client for Mercurial's command server.
//
// The command server (hg serve --cmdserver pipe) keeps a single hg
// process alive and accepts commands over stdin/stdout framed by a
// small binary protocol, amortizing interpreter startup cost across
// many operations. This library hides the subprocess lifecycle and the
// wire protocol behind ordinary function calls.
//
// # Architecture
//
// The library is organized into layers:
//
//   - hgcmd: Connect and per-session options (this package)
//   - session: command loop, channel routing, handshake, state machine
//   - frames: wire framing (5-byte headers, big-endian lengths)
//   - server: subprocess supervision and pipe wiring
//   - commands: typed wrappers for Mercurial's subcommands
//   - objects: domain objects parsed from command output
//
// # Basic Usage
//
//	client, err := hgcmd.NewClient("/path/to/repo")
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	entries, err := client.Status(commands.StatusOpts{})
//	revs, err := client.Log(commands.LogOpts{Limit: 10})
//
// Callers that need raw access to the protocol can connect at the
// session level instead:
//
//	sess, err := hgcmd.Connect("/path/to/repo", hgcmd.WithEncoding("UTF-8"))
//	if err != nil {
//	    return err
//	}
//	defer sess.Close()
//
//	code, err := sess.RunCommand([]string{"status", "-0"}, outputs, nil)
//
// # Concurrency
//
// The protocol is strictly serial: one command at a time per server.
// A session serializes RunCommand internally; run multiple sessions
// for parallelism, one subprocess each.
//
// # Reference
//
// Protocol specification: https://wiki.mercurial-scm.org/CommandServer
package hgcmd
