package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// HistoryFlags holds history command flags
type HistoryFlags struct {
	Clear  bool
	Folder string
}

var historyFlags HistoryFlags

func newHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the sync history",
		RunE:  runHistory,
	}
	cmd.Flags().BoolVar(&historyFlags.Clear, "clear", false, "delete every history entry")
	cmd.Flags().StringVar(&historyFlags.Folder, "folder", "", "only show entries for this folder")
	return cmd
}

func runHistory(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), appOptions{quiet: true})
	if err != nil {
		return err
	}
	defer a.close()

	if historyFlags.Clear {
		if err := a.history.Clear(); err != nil {
			return err
		}
		fmt.Println("History cleared")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()
	fmt.Fprintln(w, "TIME\tFOLDER\tSTATUS\tPEER\tDETAILS")
	for _, e := range a.history.Entries() {
		if historyFlags.Folder != "" && e.FolderName != historyFlags.Folder {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Local().Format(time.DateTime), e.FolderName, e.Status, e.PeerDisplayName, e.Details)
	}
	return nil
}
