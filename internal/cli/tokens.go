package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var tokensCmd = &cobra.Command{
	Use:   "tokens <id>",
	Short: "Show a conversation's token usage",
	Long:  `Show cumulative token usage of a conversation and the totals of each run.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runTokens,
}

func init() {
	rootCmd.AddCommand(tokensCmd)
}

func runTokens(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	// Make sure the conversation exists; an unknown id has no usage either.
	if _, err := s.runtime.Conversations.Get(ctx, args[0]); err != nil {
		return err
	}
	summary, err := s.runtime.Conversations.Tokens(ctx, args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprint(out, "Cumulative: ")
	printTokens(out, summary.Cumulative)
	fmt.Fprintln(out)
	if len(summary.Runs) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTEPS\tINPUT\tOUTPUT\t")
	for _, r := range summary.Runs {
		fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t\n", r.RunNumber, r.Steps, r.Tokens.Input, r.Tokens.Output)
	}
	return tw.Flush()
}
