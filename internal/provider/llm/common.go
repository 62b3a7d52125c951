package llm

import "strings"

func trimResult(s string) string {
	return strings.TrimSpace(s)
}
