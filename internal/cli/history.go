package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newHistoryCmd(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded batches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openHistory()
			if err != nil {
				return err
			}
			if store == nil {
				return errors.New("history is disabled in the config")
			}
			defer store.Close()

			batches, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(batches) == 0 {
				cmd.Println("No batches recorded")
				return nil
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("%-36s  %-20s  %5s  %5s  %s", "BATCH", "CREATED", "OK", "FAIL", "INPUT")))
			for _, b := range batches {
				failed := fmt.Sprintf("%5d", b.Failed)
				if b.Failed > 0 {
					failed = errorStyle.Render(failed)
				}
				fmt.Fprintf(out, "%-36s  %-20s  %5d  %s  %s\n",
					b.ID, b.CreatedAt.Local().Format(time.DateTime), b.Succeeded, failed, b.InputDir)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of batches to list")
	return cmd
}
