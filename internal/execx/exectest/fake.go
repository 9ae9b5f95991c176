// Package exectest provides a scripted execx.Runner for tests.
package exectest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"nodestatus/internal/execx"
)

// Response is the scripted outcome of one command line.
type Response struct {
	Out   string
	Err   error
	Delay time.Duration
}

// Runner answers commands from a table keyed by the space-joined command
// line. Unknown commands fail with a non-zero exit.
type Runner struct {
	mu        sync.Mutex
	responses map[string]Response
	calls     []string
	timeouts  []time.Duration
}

var _ execx.Runner = (*Runner)(nil)

func New() *Runner {
	return &Runner{responses: map[string]Response{}}
}

// On scripts a successful response.
func (r *Runner) On(command string, out string) *Runner {
	return r.Respond(command, Response{Out: out})
}

// Fail scripts an error response.
func (r *Runner) Fail(command string, err error) *Runner {
	return r.Respond(command, Response{Err: err})
}

func (r *Runner) Respond(command string, resp Response) *Runner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses[command] = resp
	return r
}

func (r *Runner) Output(ctx context.Context, timeout time.Duration, command ...string) (string, error) {
	line := strings.Join(command, " ")

	r.mu.Lock()
	r.calls = append(r.calls, line)
	r.timeouts = append(r.timeouts, timeout)
	resp, ok := r.responses[line]
	r.mu.Unlock()

	if !ok {
		return "", &execx.CommandError{
			Kind:    execx.KindNonZeroExit,
			Command: line,
			Code:    1,
			Stderr:  "unknown command",
			Err:     errors.New("exit status 1"),
		}
	}

	if resp.Delay > 0 {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		select {
		case <-time.After(resp.Delay):
		case <-ctx.Done():
			kind := execx.KindCanceled
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				kind = execx.KindTimeout
			}
			return "", &execx.CommandError{Kind: kind, Command: line, Err: ctx.Err()}
		}
	}
	return resp.Out, resp.Err
}

// Calls returns the command lines seen so far, in order.
func (r *Runner) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// Timeouts returns the timeout passed with each call, in order.
func (r *Runner) Timeouts() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.timeouts...)
}
