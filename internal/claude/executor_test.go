package claude

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	caserrors "github.com/veetil/claude-agent-system/internal/errors"
	"github.com/veetil/claude-agent-system/internal/retry"
)

// fakeRun records invocations and plays back scripted responses.
type fakeRun struct {
	calls    int
	commands []string
	dirs     []string
	script   []fakeResponse
}

type fakeResponse struct {
	stdout string
	stderr string
	err    error
}

func (f *fakeRun) run(_ context.Context, _, dir, command string) (string, string, error) {
	idx := f.calls
	f.calls++
	f.commands = append(f.commands, command)
	f.dirs = append(f.dirs, dir)
	if idx >= len(f.script) {
		idx = len(f.script) - 1
	}
	r := f.script[idx]
	return r.stdout, r.stderr, r.err
}

func testPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
		Base:         2.0,
		Retryable:    caserrors.Retryable,
		Sleep:        func(context.Context, time.Duration) error { return nil },
	}
}

func newTestExecutor(f *fakeRun) *Executor {
	return &Executor{
		Shell:  "/bin/bash",
		Binary: "claude",
		Policy: testPolicy(),
		run:    f.run,
	}
}

func TestInvoke_Success(t *testing.T) {
	f := &fakeRun{script: []fakeResponse{{
		stdout: "shell banner\n" + `{"session_id": "tok-1", "result": "answer", "total_cost_usd": 0.042}`,
	}}}
	e := newTestExecutor(f)

	res, err := e.Invoke(context.Background(), Invocation{Prompt: "hello", WorkingDir: "/work"})
	require.NoError(t, err)
	assert.Equal(t, "tok-1", res.SessionID)
	assert.Equal(t, "answer", res.Text)
	assert.InDelta(t, 0.042, res.CostUSD, 1e-9)
	assert.Equal(t, 1, f.calls)
	assert.Equal(t, "/work", f.dirs[0])
}

func TestInvoke_CommandConstruction(t *testing.T) {
	f := &fakeRun{script: []fakeResponse{{stdout: `{"session_id":"s","result":"r"}`}}}
	e := newTestExecutor(f)

	_, err := e.Invoke(context.Background(), Invocation{
		Prompt:      "say 'it'",
		WorkingDir:  "/tmp",
		ResumeToken: "prev-token",
	})
	require.NoError(t, err)

	cmd := f.commands[0]
	assert.True(t, strings.HasPrefix(cmd, "'claude' '--dangerously-skip-permissions'"), cmd)
	assert.Contains(t, cmd, "'--output-format' 'json'")
	assert.Contains(t, cmd, "'-r' 'prev-token'")
	// Embedded quotes survive shell quoting.
	assert.Contains(t, cmd, `'say '\''it'\'''`)
}

func TestInvoke_NoResumeFlagWithoutToken(t *testing.T) {
	f := &fakeRun{script: []fakeResponse{{stdout: `{"session_id":"s","result":"r"}`}}}
	e := newTestExecutor(f)

	_, err := e.Invoke(context.Background(), Invocation{Prompt: "p", WorkingDir: "/tmp"})
	require.NoError(t, err)
	assert.NotContains(t, f.commands[0], "'-r'")
}

func TestInvoke_TextFieldPriority(t *testing.T) {
	tests := []struct {
		name   string
		stdout string
		want   string
	}{
		{"result wins", `{"session_id":"s","result":"a","message":"b"}`, "a"},
		{"empty result falls through", `{"session_id":"s","result":"","message":"b"}`, "b"},
		{"response", `{"session_id":"s","response":"c"}`, "c"},
		{"output", `{"session_id":"s","output":"d"}`, "d"},
		{"text", `{"session_id":"s","text":"e"}`, "e"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeRun{script: []fakeResponse{{stdout: tt.stdout}}}
			e := newTestExecutor(f)
			res, err := e.Invoke(context.Background(), Invocation{Prompt: "p", WorkingDir: "/tmp"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Text)
		})
	}
}

func TestInvoke_SessionErrorNotRetried(t *testing.T) {
	f := &fakeRun{script: []fakeResponse{{
		stderr: "Error: Session not found: does-not-exist",
		err:    errors.New("exit status 1"),
	}}}
	e := newTestExecutor(f)

	_, err := e.Invoke(context.Background(), Invocation{
		Prompt:      "continue",
		WorkingDir:  "/tmp",
		ResumeToken: "does-not-exist",
	})
	require.Error(t, err)
	assert.True(t, IsSessionError(err))
	assert.Equal(t, 1, f.calls, "session errors must not consume retries")

	var se *caserrors.SessionError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "does-not-exist", se.Token)
	assert.Equal(t, caserrors.SessionNotFound, se.Kind)
}

func TestInvoke_InvalidTokenClassification(t *testing.T) {
	f := &fakeRun{script: []fakeResponse{{
		stderr: "error: 'bogus' is Not A Valid UUID",
		err:    errors.New("exit status 1"),
	}}}
	e := newTestExecutor(f)

	_, err := e.Invoke(context.Background(), Invocation{Prompt: "p", WorkingDir: "/tmp", ResumeToken: "bogus"})
	require.Error(t, err)

	var se *caserrors.SessionError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, caserrors.SessionInvalidToken, se.Kind)
	assert.Equal(t, 1, f.calls)
}

func TestInvoke_RateLimitRetriedThenSucceeds(t *testing.T) {
	f := &fakeRun{script: []fakeResponse{
		{stderr: "Rate limit exceeded", err: errors.New("exit status 1")},
		{stdout: `{"session_id":"s","result":"ok"}`},
	}}
	e := newTestExecutor(f)

	res, err := e.Invoke(context.Background(), Invocation{Prompt: "p", WorkingDir: "/tmp"})
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Text)
	assert.Equal(t, 2, f.calls)
}

func TestInvoke_GenericFailureExhaustsRetries(t *testing.T) {
	f := &fakeRun{script: []fakeResponse{{
		stderr: "something broke",
		err:    errors.New("exit status 2"),
	}}}
	e := newTestExecutor(f)

	_, err := e.Invoke(context.Background(), Invocation{Prompt: "p", WorkingDir: "/tmp"})
	require.Error(t, err)
	assert.Equal(t, 3, f.calls)

	var ee *caserrors.ExecutionError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, caserrors.ExecutionGeneric, ee.Kind)
	assert.Contains(t, ee.Stderr, "something broke")
}

func TestInvoke_NoJSONInOutput(t *testing.T) {
	f := &fakeRun{script: []fakeResponse{{stdout: "just some text, no structure"}}}
	e := newTestExecutor(f)

	_, err := e.Invoke(context.Background(), Invocation{Prompt: "p", WorkingDir: "/tmp"})
	require.Error(t, err)
	assert.True(t, caserrors.IsExecution(err, caserrors.ExecutionNoStructuredOutput))
	assert.Equal(t, 3, f.calls, "absent JSON is transient and retried")
}

func TestInvokeAsync_DeliversResult(t *testing.T) {
	f := &fakeRun{script: []fakeResponse{{stdout: `{"session_id":"s-async","result":"done"}`}}}
	e := newTestExecutor(f)

	ch := e.InvokeAsync(context.Background(), Invocation{Prompt: "p", WorkingDir: "/tmp"})
	out := <-ch
	require.NoError(t, out.Err)
	assert.Equal(t, "s-async", out.Result.SessionID)
}

func TestNewExecutor_Defaults(t *testing.T) {
	e := NewExecutor("", testPolicy())
	assert.NotEmpty(t, e.Shell)
	assert.Equal(t, "claude", e.Binary)
	assert.NotNil(t, e.run)
}

func TestClassifyStderr_FirstMatchWins(t *testing.T) {
	// "session not found" outranks "rate limit" when both appear.
	err := classifyStderr("Session not found after rate limit", "tok", errors.New("exit 1"))
	assert.True(t, IsSessionError(err))
}
