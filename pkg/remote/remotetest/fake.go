// Package remotetest provides an in-memory remote.Transport for tests.
package remotetest

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ln2t/hpcjobs/pkg/remote"
)

// Response is one scripted reply to a Run call.
type Response struct {
	Result *remote.Result
	Err    error

	// Delay blocks the call before replying; the context still applies.
	Delay time.Duration
}

// Call records a Run or Copy invocation.
type Call struct {
	Command remote.Command
	Timeout time.Duration

	// Copy fields are set for Copy calls only.
	Copy       bool
	LocalPath  string
	RemotePath string
	Content    string
}

// Fake is a scriptable Transport.
//
// Responses are keyed by command name. Each Run pops the next response for
// its name; the last response repeats once the queue is drained. Commands
// with no scripted response succeed with empty output.
type Fake struct {
	mu        sync.Mutex
	responses map[string][]Response
	handlers  map[string]func(remote.Command) Response
	calls     []Call
	copied    map[string]string

	// CopyErr, when set, is returned by every Copy call.
	CopyErr error
}

// New creates an empty Fake.
func New() *Fake {
	return &Fake{
		responses: make(map[string][]Response),
		handlers:  make(map[string]func(remote.Command) Response),
		copied:    make(map[string]string),
	}
}

// On queues responses for commands named name.
func (f *Fake) On(name string, responses ...Response) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[name] = append(f.responses[name], responses...)
	return f
}

// Handle answers every command named name with fn. Handlers take
// precedence over queued responses.
func (f *Fake) Handle(name string, fn func(cmd remote.Command) Response) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[name] = fn
	return f
}

// Reply is shorthand for a completed command.
func Reply(exitCode int, stdout, stderr string) Response {
	return Response{Result: &remote.Result{Stdout: stdout, Stderr: stderr, ExitCode: exitCode}}
}

// Fail is shorthand for a transport-level failure.
func Fail(err error) Response {
	return Response{Err: err}
}

// Run implements remote.Transport.
func (f *Fake) Run(ctx context.Context, cmd remote.Command, timeout time.Duration) (*remote.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, Call{Command: cmd, Timeout: timeout})
	handler := f.handlers[cmd.Name]
	resp, ok := f.next(cmd.Name)
	f.mu.Unlock()

	if handler != nil {
		resp, ok = handler(cmd), true
	}

	if !ok {
		return &remote.Result{}, nil
	}

	if resp.Delay > 0 {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return nil, &remote.Error{Op: "run", Host: "fake", Command: cmd.String(), Err: remote.ErrTimeout}
			}
			return nil, ctx.Err()
		case <-time.After(resp.Delay):
		}
	}

	if resp.Err != nil {
		return nil, resp.Err
	}
	if resp.Result == nil {
		return &remote.Result{}, nil
	}
	out := *resp.Result
	return &out, nil
}

func (f *Fake) next(name string) (Response, bool) {
	queue := f.responses[name]
	if len(queue) == 0 {
		return Response{}, false
	}
	resp := queue[0]
	if len(queue) > 1 {
		f.responses[name] = queue[1:]
	}
	return resp, true
}

// Copy implements remote.Transport. The local file content is captured.
func (f *Fake) Copy(ctx context.Context, localPath, remotePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("fake copy: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Copy: true, LocalPath: localPath, RemotePath: remotePath, Content: string(data)})
	if f.CopyErr != nil {
		return f.CopyErr
	}
	f.copied[remotePath] = string(data)
	return nil
}

// Close implements remote.Transport.
func (f *Fake) Close() error {
	return nil
}

// Calls returns a snapshot of all recorded calls in order.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CommandNames returns the names of Run calls in order; Copy calls appear
// as "<copy>".
func (f *Fake) CommandNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		if c.Copy {
			out = append(out, "<copy>")
			continue
		}
		out = append(out, c.Command.Name)
	}
	return out
}

// Copied returns the content written to remotePath.
func (f *Fake) Copied(remotePath string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.copied[remotePath]
	return s, ok
}

var _ remote.Transport = (*Fake)(nil)
