// Package commands exposes Mercurial's subcommands as typed method
// calls.
//
// Every method is a thin argument assembler over the session's
// RunCommand primitive: it builds an argv vector, runs it through the
// command server, and parses the captured output into the domain
// objects of the objects package. No method talks to the transport
// directly.
//
// # Exit Codes
//
// Mercurial reserves exit code 1 for command-specific non-failure
// conditions: commit with nothing changed, merge or update with
// unresolved files, push with nothing to push, heads with no matching
// heads. Methods translate those into boolean or typed results; any
// other non-zero exit surfaces as a *session.CommandError.
//
// # Usage
//
//	client := commands.New(sess)
//	entries, err := client.Status(commands.StatusOpts{})
//	revs, err := client.Log(commands.LogOpts{Limit: 10})
package commands
