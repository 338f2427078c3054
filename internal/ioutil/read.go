package ioutil

import (
	"fmt"
	"io"
	"strings"
)

// ReadLimited reads at most limit bytes of r for use in error messages and
// logs. Longer bodies are cut and marked, and a failed read is described
// rather than dropped.
func ReadLimited(r io.Reader, limit int64) string {
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return fmt.Sprintf("<unreadable: %v>", err)
	}
	truncated := int64(len(body)) > limit
	if truncated {
		body = body[:limit]
	}
	s := strings.TrimSpace(string(body))
	if truncated {
		s += " [truncated]"
	}
	return s
}
