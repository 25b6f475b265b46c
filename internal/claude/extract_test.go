package claude

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	caserrors "github.com/veetil/claude-agent-system/internal/errors"
)

func TestExtractJSONObject_CleanOutput(t *testing.T) {
	out, err := ExtractJSONObject(`{"session_id":"abc","result":"hi"}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"session_id":"abc","result":"hi"}`, out)
}

func TestExtractJSONObject_StripsShellNoise(t *testing.T) {
	raw := "Welcome to zsh!\n" +
		"Last login: Tue\n" +
		`{"session_id": "s-1", "result": "done"}` + "\n" +
		"logout\n"

	out, err := ExtractJSONObject(raw)
	require.NoError(t, err)
	assert.JSONEq(t, `{"session_id":"s-1","result":"done"}`, out)
}

func TestExtractJSONObject_NestedMultilineWithPrefixSuffix(t *testing.T) {
	obj := `{
  "a": {
    "b": {
      "c": {
        "d": {
          "e": "deep value\nwith newline"
        }
      }
    }
  },
  "session_id": "s-2"
}`
	raw := "banner line\nanother banner\n" + obj + "\ntrailing noise\nmore noise"

	out, err := ExtractJSONObject(raw)
	require.NoError(t, err)

	// The extracted text parses identically to parsing the object alone.
	var fromRaw, fromObj map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &fromRaw))
	require.NoError(t, json.Unmarshal([]byte(obj), &fromObj))
	assert.Equal(t, fromObj, fromRaw)
}

func TestExtractJSONObject_StopsAtBalance(t *testing.T) {
	raw := `{"first": 1}` + "\n" + `{"second": 2}`
	out, err := ExtractJSONObject(raw)
	require.NoError(t, err)
	assert.JSONEq(t, `{"first":1}`, out)
}

func TestExtractJSONObject_IndentedOpeningBrace(t *testing.T) {
	out, err := ExtractJSONObject("noise\n   {\"k\": \"v\"}")
	require.NoError(t, err)
	assert.JSONEq(t, `{"k":"v"}`, out)
}

func TestExtractJSONObject_NoJSON(t *testing.T) {
	cases := []string{
		"",
		"plain text output",
		"line one\nline two\nline three",
		`["array", "not", "object"]`,
	}
	for _, raw := range cases {
		_, err := ExtractJSONObject(raw)
		require.Error(t, err)
		assert.True(t, caserrors.IsExecution(err, caserrors.ExecutionNoStructuredOutput), "input %q", raw)
	}
}
