// Package remote executes commands on, and copies files to, a remote host.
//
// A Transport is bound to a single connection identity at construction.
// Transports never retry: retry policy belongs to the caller (see pkg/retry).
package remote

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alessio/shellescape"
)

// Transport abstracts remote command execution.
//
// Implementations should:
//   - Return ErrTimeout (wrapped) when the timeout elapses
//   - Return ErrConnect (wrapped) when the channel cannot be established
//   - Report a non-zero remote exit status through Result, not as an error
//   - Be safe for concurrent use
type Transport interface {
	// Run executes cmd and waits at most timeout for it to finish.
	// A zero timeout means the context alone bounds the call.
	Run(ctx context.Context, cmd Command, timeout time.Duration) (*Result, error)

	// Copy writes the local file to remotePath, replacing any existing file.
	Copy(ctx context.Context, localPath, remotePath string) error

	// Close releases any resources held by the transport.
	Close() error
}

// Result is the outcome of a command that ran to completion.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// OK reports whether the command exited with status zero.
func (r *Result) OK() bool {
	return r != nil && r.ExitCode == 0
}

// Command is a remote command expressed as an argument list.
//
// Arguments are quoted individually when rendered, so values never need
// escaping by callers. Arguments starting with "~/" are expanded against the
// remote user's $HOME.
type Command struct {
	// Name is the program to run.
	Name string

	// Args are passed to Name verbatim.
	Args []string

	// Dir, when set, is the remote working directory for the command.
	Dir string
}

// NewCommand builds a Command.
func NewCommand(name string, args ...string) Command {
	return Command{Name: name, Args: args}
}

// InDir returns a copy of c that runs inside dir.
func (c Command) InDir(dir string) Command {
	c.Dir = dir
	c.Args = append([]string(nil), c.Args...)
	return c
}

// String renders the command as a single shell line.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, QuoteArg(c.Name))
	for _, a := range c.Args {
		parts = append(parts, QuoteArg(a))
	}
	line := strings.Join(parts, " ")
	if c.Dir != "" {
		return fmt.Sprintf("cd %s && %s", QuoteArg(c.Dir), line)
	}
	return line
}

// QuoteArg quotes a single argument for a POSIX shell.
func QuoteArg(s string) string {
	switch {
	case s == "~":
		return `"$HOME"`
	case strings.HasPrefix(s, "~/"):
		rest := s[2:]
		if rest == "" {
			return `"$HOME"/`
		}
		return `"$HOME"/` + shellescape.Quote(rest)
	default:
		return shellescape.Quote(s)
	}
}
