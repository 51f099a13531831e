package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"cloud-cost-allocation/adapters/storage"
)

var (
	runsDate  string
	runsKind  string
	runsLimit int
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect recorded allocation runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded runs, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		filter := &storage.ListFilter{Date: runsDate, Kind: runsKind, Limit: runsLimit}
		return withStore(cmd, func(store storage.Store) error {
			runs, err := store.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded.")
				return nil
			}
			fmt.Fprintf(out, "%-36s  %-16s  %-10s  %-8s  %8s  %9s  %s\n",
				"ID", "KIND", "DATE", "CURRENCY", "RECORDS", "INSTANCES", "CREATED")
			for _, run := range runs {
				fmt.Fprintf(out, "%-36s  %-16s  %-10s  %-8s  %8d  %9d  %s\n",
					run.ID, run.Kind, run.Date, run.Currency, run.Records, run.Instances,
					run.CreatedAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		})
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <id|latest>",
	Short: "Show a recorded run",
	Long: `Show a recorded run. "latest" shows the newest run of --date.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(store storage.Store) error {
			var (
				run *storage.RunSummary
				err error
			)
			if args[0] == "latest" {
				run, err = store.GetLatest(cmd.Context(), runsDate)
			} else {
				run, err = store.Get(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ID:                %s\n", run.ID)
			fmt.Fprintf(out, "Kind:              %s\n", run.Kind)
			fmt.Fprintf(out, "Date:              %s\n", run.Date)
			fmt.Fprintf(out, "Currency:          %s\n", run.Currency)
			fmt.Fprintf(out, "Created:           %s\n", run.CreatedAt.Format("2006-01-02 15:04:05"))
			fmt.Fprintf(out, "Duration:          %s\n", run.Duration)
			fmt.Fprintf(out, "Records:           %d\n", run.Records)
			fmt.Fprintf(out, "Instances:         %d\n", run.Instances)
			fmt.Fprintf(out, "Cycle breaks:      %d\n", run.CycleBreaks)
			fmt.Fprintf(out, "Dropped records:   %d\n", run.DroppedRecords)
			fmt.Fprintf(out, "Selector failures: %d\n", run.SelectorFailures)
			for _, amount := range run.Amounts {
				fmt.Fprintf(out, "  %-30s %20s %s\n", amount, run.Totals[amount].StringFixed(2), run.Currency)
			}
			inputs := make([]string, 0, len(run.Inputs))
			for name := range run.Inputs {
				inputs = append(inputs, name)
			}
			sort.Strings(inputs)
			for _, name := range inputs {
				fmt.Fprintf(out, "Input %s: %s\n", name, run.Inputs[name])
			}
			return nil
		})
	},
}

var runsCompareCmd = &cobra.Command{
	Use:   "compare <old-id> <new-id>",
	Short: "Compare the allocated totals of two runs",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(store storage.Store) error {
			result, err := store.Compare(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-30s %20s %20s %20s %9s\n", "AMOUNT", "OLD", "NEW", "DELTA", "DELTA %")
			fmt.Fprintln(out, strings.Repeat("-", 103))
			for _, d := range result.Deltas {
				fmt.Fprintf(out, "%-30s %20s %20s %20s %8.2f%%\n",
					d.Amount, d.Old.StringFixed(2), d.New.StringFixed(2), d.Delta.StringFixed(2), d.DeltaPercent)
			}
			return nil
		})
	},
}

var runsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a recorded run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(store storage.Store) error {
			if err := store.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Run %s deleted\n", args[0])
			return nil
		})
	},
}

func init() {
	runsListCmd.Flags().StringVar(&runsDate, "date", "", "only list runs of this allocation date")
	runsListCmd.Flags().StringVar(&runsKind, "kind", "", "only list runs of this kind (allocate, allocate-further)")
	runsListCmd.Flags().IntVar(&runsLimit, "limit", 20, "maximum number of runs to list, 0 for all")
	runsShowCmd.Flags().StringVar(&runsDate, "date", "", "allocation date of the latest run")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsCompareCmd)
	runsCmd.AddCommand(runsDeleteCmd)
	rootCmd.AddCommand(runsCmd)
}

// withStore runs fn with the configured run store and closes it afterwards
func withStore(cmd *cobra.Command, fn func(storage.Store) error) error {
	return invoke(cmd.Context(), func(store storage.Store) error {
		defer store.Close()
		return fn(store)
	})
}
