package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/pkg/stepchannel"
	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/pkg/store"
)

func printEvent(w io.Writer, evt stepchannel.Event) {
	switch evt.Type {
	case stepchannel.EventPlanning:
		fmt.Fprintf(w, "[step %d] planning\n%s\n", evt.StepNumber, indent(evt.Plan))
	case stepchannel.EventAction:
		fmt.Fprintf(w, "[step %d] %s\n", evt.StepNumber, evt.Thought)
		if evt.Code != "" {
			fmt.Fprintf(w, "  code:\n%s\n", indent(indent(evt.Code)))
		}
		if evt.Observations != "" {
			fmt.Fprintf(w, "  observations:\n%s\n", indent(indent(evt.Observations)))
		}
		if evt.Error != "" {
			fmt.Fprintf(w, "  error: %s\n", evt.Error)
		}
	case stepchannel.EventFinal:
		fmt.Fprintf(w, "\n%s\n\n", evt.Output)
	case stepchannel.EventError:
		fmt.Fprintf(w, "error: %s\n", evt.Message)
	case stepchannel.EventCancelled:
		fmt.Fprintln(w, "(run cancelled)")
	}
}

func printTokens(w io.Writer, totals store.TokenTotals) {
	fmt.Fprintf(w, "%d in / %d out (%d total)", totals.Input, totals.Output, totals.Total())
}

func indent(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, line := range lines {
		lines[i] = "  " + line
	}
	return strings.Join(lines, "\n")
}
