package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/hlsabr/internal/session"
	"github.com/jmylchreest/hlsabr/pkg/format"
)

var probeCmd = &cobra.Command{
	Use:   "probe <url>",
	Short: "Print the variant ladder and track map",
	Long: `Resolve a presentation and print its variants and the track map a
session would expose, without fetching any segment.`,
	Args: cobra.ExactArgs(1),
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
}

func runProbe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := newStack(cfg, args[0], slog.Default())
	if err != nil {
		return err
	}
	s, err := st.newSession(nil)
	if err != nil {
		return err
	}
	defer s.Release()

	if err := s.Prepare(cmd.Context()); err != nil {
		return fmt.Errorf("preparing session: %w", err)
	}
	return printProbe(cmd.OutOrStdout(), s.Snapshot())
}

func printProbe(out io.Writer, snap session.Snapshot) error {
	fmt.Fprintf(out, "URL:       %s\n", snap.URL)
	if snap.Synthetic {
		fmt.Fprintln(out, "Manifest:  synthetic (presentation could not be resolved)")
	}
	fmt.Fprintf(out, "Duration:  %s\n", format.Micros(snap.DurationUs))
	fmt.Fprintf(out, "Selected:  %s at sequence %d\n\n", format.Bitrate(int64(snap.Bitrate)), snap.Sequence)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VARIANT\tBITRATE\tSELECTED")
	for i, bps := range snap.Variants {
		mark := ""
		if bps == snap.Bitrate {
			mark = "*"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\n", i, format.Bitrate(int64(bps)), mark)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TRACK\tTYPE\tMIME")
	for i, t := range snap.Tracks {
		fmt.Fprintf(w, "%d\t%s\t%s\n", i, t.Type, t.MIME)
	}
	return w.Flush()
}
