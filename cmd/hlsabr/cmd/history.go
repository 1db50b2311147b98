package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/hlsabr/internal/database"
	"github.com/jmylchreest/hlsabr/internal/models"
	"github.com/jmylchreest/hlsabr/internal/repository"
	"github.com/jmylchreest/hlsabr/pkg/format"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded fetches",
	Long: `List fetches recorded by "hlsabr play --history".

Without --session the most recent sessions and fetches are listed. With
--session the fetches of that session are listed in order, followed by
a count per outcome.`,
	RunE: runHistory,
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete recorded fetches older than --older-than",
	RunE:  runHistoryPrune,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyPruneCmd)

	historyCmd.Flags().String("session", "", "list the fetches of one session")
	historyCmd.Flags().Int("limit", 20, "maximum sessions and recent fetches to list")
	historyPruneCmd.Flags().Duration("older-than", 7*24*time.Hour, "age of the records to delete")
}

func openHistory(cmd *cobra.Command) (*database.DB, repository.FetchRecordRepository, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	db, err := database.Open(cmd.Context(), cfg.History, nil)
	if err != nil {
		return nil, nil, err
	}
	return db, repository.NewFetchRecordRepository(db.DB), nil
}

func runHistory(cmd *cobra.Command, _ []string) error {
	sessionID, _ := cmd.Flags().GetString("session")
	limit, _ := cmd.Flags().GetInt("limit")

	db, repo, err := openHistory(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if sessionID == "" {
		sessions, err := repo.Sessions(ctx, limit)
		if err != nil {
			return err
		}
		if err := printSessions(out, sessions); err != nil {
			return err
		}
		fmt.Fprintln(out)

		records, err := repo.ListRecent(ctx, limit)
		if err != nil {
			return err
		}
		return printRecords(out, records)
	}

	records, err := repo.ListBySession(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := printRecords(out, records); err != nil {
		return err
	}
	counts, err := repo.CountByOutcome(ctx, sessionID)
	if err != nil {
		return err
	}
	fmt.Fprintln(out)
	for _, c := range counts {
		fmt.Fprintf(out, "%-16s %d\n", c.Outcome, c.Count)
	}
	return nil
}

func runHistoryPrune(cmd *cobra.Command, _ []string) error {
	age, _ := cmd.Flags().GetDuration("older-than")

	db, repo, err := openHistory(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	n, err := repo.DeleteOlderThan(cmd.Context(), time.Now().Add(-age))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted %s records\n", format.Number(n))
	return nil
}

func printSessions(out io.Writer, sessions []repository.SessionSummary) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tFETCHES\tBYTES\tFIRST\tLAST")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n",
			s.SessionID, s.Fetches, format.Bytes(s.Bytes),
			s.FirstAt.Local().Format(time.DateTime), s.LastAt.Local().Format(time.DateTime))
	}
	return w.Flush()
}

func printRecords(out io.Writer, records []*models.FetchRecord) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tSEQ\tBITRATE\tBYTES\tSAMPLES\tDURATION\tOUTCOME\tERROR")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%d\t%dms\t%s\t%s\n",
			r.CreatedAt.Local().Format(time.TimeOnly), r.Sequence,
			format.Bitrate(int64(r.VariantBitrate)), format.Bytes(r.Bytes),
			r.Samples, r.DurationMs, r.Outcome, r.Error)
	}
	return w.Flush()
}
