// Package claude drives the external claude CLI over process stdio:
// building the command line, spawning it through the user's interactive
// shell, and turning its output into a typed invocation result.
package claude

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	caserrors "github.com/veetil/claude-agent-system/internal/errors"
	"github.com/veetil/claude-agent-system/internal/retry"
)

// Invocation is one call to the external agent. ResumeToken continues the
// conversation identified by a prior Result.SessionID; it must come from
// the immediately preceding successful call in the same workspace.
type Invocation struct {
	Prompt      string
	WorkingDir  string
	ResumeToken string
	Timeout     time.Duration
}

// Result is the parsed response of a successful invocation. SessionID is
// the token to pass as ResumeToken on the next call in the chain.
type Result struct {
	SessionID string
	Text      string
	CostUSD   float64
}

// textFields are the accepted principal-text field names, in priority
// order. The first present, non-empty one wins.
var textFields = []string{"result", "message", "response", "output", "text"}

// runFunc spawns the shell command in dir and returns captured stdout and
// stderr. Tests substitute a fake.
type runFunc func(ctx context.Context, shell, dir, command string) (stdout, stderr string, err error)

// Executor invokes the claude CLI. The binary is resolved through the
// user's interactive login shell rather than exec'd directly: on many
// machines `claude` only exists as a shell alias or function set up by
// shell init files.
type Executor struct {
	Shell  string
	Binary string
	Policy retry.Policy

	run runFunc
}

// NewExecutor creates an executor using the given shell (default: $SHELL,
// falling back to /bin/bash) and retry policy.
func NewExecutor(shell string, policy retry.Policy) *Executor {
	if shell == "" {
		shell = os.Getenv("SHELL")
	}
	if shell == "" {
		shell = "/bin/bash"
	}
	if policy.Retryable == nil {
		policy.Retryable = caserrors.Retryable
	}
	return &Executor{
		Shell:  shell,
		Binary: "claude",
		Policy: policy,
		run:    runShell,
	}
}

// Invoke runs one agent call, retrying transient execution errors under
// the executor's policy. Session errors are never retried: a stale or
// malformed resume token will not become valid on a second attempt.
func (e *Executor) Invoke(ctx context.Context, inv Invocation) (*Result, error) {
	return retry.DoValue(ctx, e.Policy, func() (*Result, error) {
		return e.invokeOnce(ctx, inv)
	})
}

// Outcome carries an async invocation result.
type Outcome struct {
	Result *Result
	Err    error
}

// InvokeAsync runs Invoke on a new goroutine and delivers the outcome on
// the returned channel, leaving the caller free to schedule other work.
func (e *Executor) InvokeAsync(ctx context.Context, inv Invocation) <-chan Outcome {
	ch := make(chan Outcome, 1)
	go func() {
		res, err := e.Invoke(ctx, inv)
		ch <- Outcome{Result: res, Err: err}
	}()
	return ch
}

// invokeOnce performs a single process invocation with no retries.
func (e *Executor) invokeOnce(ctx context.Context, inv Invocation) (*Result, error) {
	command := e.buildCommand(inv)

	runCtx := ctx
	var cancel context.CancelFunc
	if inv.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, inv.Timeout)
		defer cancel()
	}

	dir := inv.WorkingDir
	if dir == "" {
		dir, _ = os.Getwd()
	}

	stdout, stderr, err := e.run(runCtx, e.Shell, dir, command)

	// A killed process means the timeout fired; no JSON parsing attempted.
	if runCtx.Err() == context.DeadlineExceeded {
		return nil, caserrors.NewExecution(caserrors.ExecutionTimeout, stderr,
			fmt.Errorf("timed out after %s", inv.Timeout))
	}
	if err != nil {
		return nil, classifyStderr(stderr, inv.ResumeToken, err)
	}

	jsonText, err := ExtractJSONObject(stdout)
	if err != nil {
		return nil, err
	}
	return parseResponse(jsonText)
}

// buildCommand assembles the shell command line: non-interactive prompt
// mode, JSON output, and the resume flag when chaining a session.
func (e *Executor) buildCommand(inv Invocation) string {
	args := []string{
		e.Binary,
		"--dangerously-skip-permissions",
		"-p", inv.Prompt,
		"--output-format", "json",
	}
	if inv.ResumeToken != "" {
		args = append(args, "-r", inv.ResumeToken)
	}

	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = shellQuote(a)
	}
	return strings.Join(quoted, " ")
}

// classifyStderr maps CLI failure text to the error taxonomy. Matching is
// case-insensitive substring, first match wins.
func classifyStderr(stderr, token string, cause error) error {
	lower := strings.ToLower(stderr)

	switch {
	case strings.Contains(lower, "session not found"),
		strings.Contains(lower, "no conversation found with session id"):
		return caserrors.NewSession(token, caserrors.SessionNotFound)
	case strings.Contains(lower, "invalid uuid"),
		strings.Contains(lower, "not a valid uuid"):
		return caserrors.NewSession(token, caserrors.SessionInvalidToken)
	case strings.Contains(lower, "rate limit"):
		return caserrors.NewExecution(caserrors.ExecutionRateLimited, stderr, cause)
	default:
		return caserrors.NewExecution(caserrors.ExecutionGeneric, stderr, cause)
	}
}

// parseResponse decodes the extracted JSON object into a Result.
func parseResponse(jsonText string) (*Result, error) {
	var payload map[string]any
	if err := json.Unmarshal([]byte(jsonText), &payload); err != nil {
		return nil, caserrors.NewExecution(caserrors.ExecutionGeneric, "",
			fmt.Errorf("parse agent response: %w", err))
	}

	res := &Result{}
	if sid, ok := payload["session_id"].(string); ok {
		res.SessionID = sid
	}
	for _, field := range textFields {
		if v, ok := payload[field].(string); ok && v != "" {
			res.Text = v
			break
		}
	}
	if cost, ok := payload["total_cost_usd"].(float64); ok {
		res.CostUSD = cost
	}
	return res, nil
}

// runShell executes command through the shell's interactive mode (-ic) so
// aliases and functions from shell init files are loaded.
func runShell(ctx context.Context, shell, dir, command string) (string, string, error) {
	cmd := exec.CommandContext(ctx, shell, "-ic", command)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// shellQuote wraps s in single quotes, escaping embedded single quotes,
// so prompts pass through the shell verbatim.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// IsSessionError reports whether err came from a bad resume token, meaning
// the caller should restart with a fresh, tokenless call.
func IsSessionError(err error) bool {
	var se *caserrors.SessionError
	return errors.As(err, &se)
}
