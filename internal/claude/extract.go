package claude

import (
	"strings"

	caserrors "github.com/veetil/claude-agent-system/internal/errors"
)

// ExtractJSONObject scans raw process output for a single balanced JSON
// object. The CLI runs under an interactive shell, so stdout may carry
// banner text before and after the JSON payload.
//
// The scan is two-phase: find the first line whose trimmed text begins
// with '{', then accumulate lines while tracking the running brace balance,
// stopping once it returns to zero. Brace counting is deliberately naive:
// literal '{' or '}' characters inside JSON string values are counted too,
// which is safe only while such braces stay balanced.
func ExtractJSONObject(output string) (string, error) {
	lines := strings.Split(strings.TrimSpace(output), "\n")

	start := -1
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "{") {
			start = i
			break
		}
	}
	if start < 0 {
		return "", caserrors.NewExecution(caserrors.ExecutionNoStructuredOutput, "", nil)
	}

	var collected []string
	balance := 0
	for _, line := range lines[start:] {
		collected = append(collected, line)
		balance += strings.Count(line, "{") - strings.Count(line, "}")
		if balance == 0 {
			break
		}
	}

	return strings.Join(collected, "\n"), nil
}
