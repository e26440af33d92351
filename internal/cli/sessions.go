package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/pkg/transcript"
	"github.com/spf13/cobra"
)

var exportOutput string

var sessionsCmd = &cobra.Command{
	Use:     "sessions",
	Aliases: []string{"session"},
	Short:   "Manage conversations",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List conversations, most recently updated first",
	Args:  cobra.NoArgs,
	RunE:  runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a conversation's transcript",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a conversation and its token usage",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

var sessionsRenameCmd = &cobra.Command{
	Use:   "rename <id> <title>",
	Short: "Rename a conversation",
	Args:  cobra.ExactArgs(2),
	RunE:  runSessionsRename,
}

var sessionsExportCmd = &cobra.Command{
	Use:   "export <id>",
	Short: "Export a conversation as JSON lines",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsExport,
}

func init() {
	sessionsExportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "write to file instead of stdout")

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
	sessionsCmd.AddCommand(sessionsRenameCmd)
	sessionsCmd.AddCommand(sessionsExportCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	convs, err := s.runtime.Conversations.List(cmd.Context())
	if err != nil {
		return err
	}
	if len(convs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No conversations")
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tSTATUS\tUPDATED\t")
	for _, conv := range convs {
		marker := ""
		if conv.Active {
			marker = " *"
		}
		fmt.Fprintf(tw, "%s%s\t%s\t%s\t%s\t\n",
			conv.ID, marker, conv.Title, conv.Status, conv.UpdatedAt.Local().Format(time.DateTime))
	}
	return tw.Flush()
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	detail, err := s.runtime.Conversations.Detail(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s (%s)\n\n", detail.Conversation.Title, detail.Conversation.ID)
	fmt.Fprint(out, detail.Transcript.Text())
	fmt.Fprint(out, "\nTokens: ")
	printTokens(out, detail.Tokens)
	fmt.Fprintln(out)
	return nil
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.runtime.Conversations.Delete(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
	return nil
}

func runSessionsRename(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.runtime.Conversations.Rename(cmd.Context(), args[0], args[1]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Renamed %s\n", args[0])
	return nil
}

func runSessionsExport(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	conv, err := s.runtime.Conversations.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	if exportOutput == "" {
		return transcript.ExportJSONL(cmd.OutOrStdout(), conv)
	}

	f, err := os.Create(exportOutput)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	if err := transcript.ExportJSONL(f, conv); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Exported %d turns to %s\n", len(conv.Turns), exportOutput)
	return nil
}
