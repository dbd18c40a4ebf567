package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"relaybot/internal/audit"
)

func historyCmd() *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent exchanges from the audit ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()
			if !cfg.Audit.Enabled {
				return errors.New("audit ledger is disabled (set audit.enabled to true)")
			}

			store, err := audit.NewSQLiteStore(cfg.Audit.DBPath, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			exchanges, err := store.RecentExchanges(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), exchanges)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tCHANNEL\tPATH\tOUTCOME\tLATENCY\tQUERY LEN\tATTACHMENT")
			for _, ex := range exchanges {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
					ex.CreatedAt.Local().Format(time.DateTime),
					ex.Channel,
					ex.Path,
					ex.Outcome,
					time.Duration(ex.LatencyMs)*time.Millisecond,
					ex.QueryLength,
					ex.AttachmentName,
				)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of exchanges to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}
