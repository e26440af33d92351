package transcript

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// CancelledMarker is the content of the system turn persisted when a run is
// cancelled.
const CancelledMarker = "Run cancelled."

const (
	finalPrefix = "Final Answer:\n"
	errorPrefix = "Error: "
)

var stepHeader = regexp.MustCompile(`^(Plan|Step) (\d+)\n`)

// FormatPlanning renders a planning step as persisted agent turn text.
func FormatPlanning(n int, plan string) string {
	return fmt.Sprintf("Plan %d\n%s", n, plan)
}

// FormatAction renders an action step as persisted agent turn text.
func FormatAction(n int, thought, code, observations, errMsg string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Step %d\n%s", n, thought)
	if code != "" {
		b.WriteString("\nCode: ")
		b.WriteString(code)
	}
	if observations != "" {
		b.WriteString("\nResult: ")
		b.WriteString(observations)
	}
	if errMsg != "" {
		b.WriteString("\nError: ")
		b.WriteString(errMsg)
	}
	return b.String()
}

// FormatError renders the system turn persisted when a run fails.
func FormatError(msg string) string {
	return errorPrefix + msg
}

// parseStep recognises step text written by FormatPlanning or FormatAction.
func parseStep(content string) (kind StepKind, number int, body string, ok bool) {
	m := stepHeader.FindStringSubmatch(content)
	if m == nil {
		return "", 0, "", false
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return "", 0, "", false
	}
	kind = StepAction
	if m[1] == "Plan" {
		kind = StepPlanning
	}
	return kind, n, content[len(m[0]):], true
}
