package execx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Kind classifies why a command did not produce output.
type Kind string

const (
	KindSpawnFailure Kind = "spawn_failure"
	KindTimeout      Kind = "timeout"
	KindNonZeroExit  Kind = "non_zero_exit"
	KindCanceled     Kind = "canceled"
)

// waitDelay bounds how long Wait keeps draining pipes after the process was
// killed (children of a container exec may hold them open).
const waitDelay = 500 * time.Millisecond

// CommandError describes a failed invocation.
type CommandError struct {
	Kind    Kind
	Command string
	Code    int
	Stderr  string
	Err     error
}

func (e *CommandError) Error() string {
	switch e.Kind {
	case KindTimeout:
		return fmt.Sprintf("%s: timed out", e.Command)
	case KindCanceled:
		return fmt.Sprintf("%s: canceled", e.Command)
	case KindNonZeroExit:
		if e.Stderr != "" {
			return fmt.Sprintf("%s: exit status %d: %s", e.Command, e.Code, e.Stderr)
		}
		return fmt.Sprintf("%s: exit status %d", e.Command, e.Code)
	default:
		return fmt.Sprintf("%s: %v", e.Command, e.Err)
	}
}

func (e *CommandError) Unwrap() error { return e.Err }

// IsKind reports whether err is a *CommandError of the given kind.
func IsKind(err error, kind Kind) bool {
	var ce *CommandError
	return errors.As(err, &ce) && ce.Kind == kind
}

// Runner abstracts command execution so collectors can be unit-tested
// without bitcoin-cli or lncli installed.
type Runner interface {
	// Output runs command[0] with the remaining arguments and returns its
	// trimmed stdout. The call never outlives timeout.
	Output(ctx context.Context, timeout time.Duration, command ...string) (string, error)
}

// OSRunner executes commands on the host via os/exec.
type OSRunner struct{}

func NewOSRunner() *OSRunner {
	return &OSRunner{}
}

func (r *OSRunner) Output(ctx context.Context, timeout time.Duration, command ...string) (string, error) {
	if len(command) == 0 {
		return "", &CommandError{Kind: KindSpawnFailure, Err: errors.New("empty command")}
	}
	display := Redact(command)

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	cmd.WaitDelay = waitDelay
	setProcessGroup(cmd)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return "", &CommandError{Kind: KindSpawnFailure, Command: display, Err: err}
	}

	if err := cmd.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			kind := KindCanceled
			if errors.Is(ctxErr, context.DeadlineExceeded) {
				kind = KindTimeout
			}
			return "", &CommandError{Kind: kind, Command: display, Err: ctxErr}
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", &CommandError{
				Kind:    KindNonZeroExit,
				Command: display,
				Code:    exitErr.ExitCode(),
				Stderr:  strings.TrimSpace(stderr.String()),
				Err:     err,
			}
		}
		return "", &CommandError{Kind: KindSpawnFailure, Command: display, Err: err}
	}

	return strings.TrimSpace(stdout.String()), nil
}

// Redact joins command for display, masking credential arguments.
func Redact(command []string) string {
	parts := make([]string, len(command))
	for i, arg := range command {
		if strings.HasPrefix(arg, "-rpcpassword=") {
			arg = "-rpcpassword=***"
		}
		parts[i] = arg
	}
	return strings.Join(parts, " ")
}
