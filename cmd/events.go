package cmd

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"skytracker/types"
)

var (
	eventsLabel string
	eventsLimit int
	eventsStats bool
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List recorded detection events, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		if eventsStats {
			return printStats(cmd)
		}

		var (
			events []types.DetectionEvent
			err    error
		)
		if eventsLabel != "" {
			events, err = DB.ByLabel(cmd.Context(), types.Label(eventsLabel), eventsLimit)
		} else {
			events, err = DB.Recent(cmd.Context(), eventsLimit)
		}
		if err != nil {
			return fmt.Errorf("failed to list events: %w", err)
		}

		if len(events) == 0 {
			fmt.Println("No events found in database.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ID\tOBJECT\tLABEL\tCONF\tSTART\tSECONDS\tPOINTS\tCLIP")
		fmt.Fprintln(w, "--\t------\t-----\t----\t-----\t-------\t------\t----")
		for _, ev := range events {
			fmt.Fprintf(w, "%d\t%d\t%s\t%.2f\t%s\t%.1f\t%d\t%s\n",
				ev.ID, ev.ObjectID, ev.Label, ev.Confidence,
				ev.StartTime.Local().Format("2006-01-02 15:04:05"),
				ev.EndTime.Sub(ev.StartTime).Seconds(), ev.TrajectoryLength, ev.ClipPath)
		}
		return w.Flush()
	},
}

func printStats(cmd *cobra.Command) error {
	st, err := DB.Stats(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to read event stats: %w", err)
	}

	labels := make([]string, 0, len(st.ByLabel))
	for l := range st.ByLabel {
		labels = append(labels, string(l))
	}
	sort.Strings(labels)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "LABEL\tCOUNT")
	for _, l := range labels {
		fmt.Fprintf(w, "%s\t%d\n", l, st.ByLabel[types.Label(l)])
	}
	fmt.Fprintf(w, "total\t%d\n", st.Total)
	return w.Flush()
}

func init() {
	eventsCmd.Flags().StringVarP(&eventsLabel, "label", "l", "", "only show events with this label (aircraft, satellite, anomalous)")
	eventsCmd.Flags().IntVarP(&eventsLimit, "limit", "n", 50, "maximum number of events")
	eventsCmd.Flags().BoolVar(&eventsStats, "stats", false, "show per-label counts instead")
	rootCmd.AddCommand(eventsCmd)
}
