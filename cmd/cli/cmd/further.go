package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"cloud-cost-allocation/adapters/csv"
	"cloud-cost-allocation/adapters/storage"
	"cloud-cost-allocation/core/allocation"
	"cloud-cost-allocation/internal/config"
	"cloud-cost-allocation/internal/errors"
	"cloud-cost-allocation/internal/logging"
	"cloud-cost-allocation/internal/metrics"
)

var (
	furtherInput   string
	furtherAmounts []string
)

// furtherCmd allocates further amounts of already allocated costs
var furtherCmd = &cobra.Command{
	Use:   "allocate-further",
	Short: "Allocate further amounts of previously allocated costs",
	Long: `Read costs written by allocate, fill further amounts on the cloud costs
beforehand, and allocate them along the same edges. The amounts already
allocated are left unchanged.

Examples:
  cloud-cost-allocation allocate-further --config cca.ini --input allocated.csv --amounts Carbon -o carbon.csv`,
	Args: cobra.NoArgs,
	RunE: runAllocateFurther,
}

func init() {
	furtherCmd.Flags().StringVar(&furtherInput, "input", "", "allocated costs file or URL [REQUIRED]")
	furtherCmd.Flags().StringSliceVar(&furtherAmounts, "amounts", nil, "further amounts to allocate [REQUIRED]")
	furtherCmd.Flags().StringVarP(&outputFile, "output", "o", "", "allocated costs CSV file [REQUIRED]")
	furtherCmd.Flags().StringVar(&metricsFile, "metrics-file", "", "write run metrics to this node exporter textfile")
	furtherCmd.Flags().BoolVar(&noStore, "no-store", false, "do not record the run in the run store")

	furtherCmd.MarkFlagRequired("input")
	furtherCmd.MarkFlagRequired("amounts")
	furtherCmd.MarkFlagRequired("output")

	rootCmd.AddCommand(furtherCmd)
}

func runAllocateFurther(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	return invoke(ctx, func(cfg *config.Config, recorder *metrics.Recorder, allocator *allocation.Allocator) error {
		records, err := csv.NewAllocatedCostReader(cfg).ReadURI(ctx, furtherInput)
		if err != nil {
			return exit(exitFailure, err)
		}
		recorder.RecordRead("allocated", len(records))
		if len(records) == 0 {
			return exit(exitFailure, errors.Newf(errors.TypeInput, "no allocated cost in %s", furtherInput))
		}

		first := records[0].Base()
		allocator.Date, allocator.Currency = first.Date, first.Currency
		logging.Info("Allocating further amounts",
			zap.Strings("amounts", furtherAmounts),
			zap.Int("records", len(records)))

		if err := allocator.AllocateFurtherAmounts(records, furtherAmounts); err != nil {
			return exit(exitAllocationFailure, err)
		}

		writer := csv.NewAllocatedCostWriter(cfg)
		if err := writer.WriteFile(outputFile, allocator.ServiceInstances()); err != nil {
			return exit(exitFailure, err)
		}
		stats := allocator.Stats()
		fmt.Fprintf(cmd.OutOrStdout(), "Allocated %s over %d service instances to %s\n",
			furtherAmounts, stats.Instances, outputFile)

		if err := writeMetrics(recorder); err != nil {
			return exit(exitFailure, err)
		}

		run := storage.NewRunSummary(storage.KindFurther, first.Date, first.Currency, furtherAmounts, stats)
		run.Inputs["input"] = furtherInput
		run.Inputs["output"] = outputFile
		return saveRun(ctx, cmd, cfg, allocator, run)
	})
}
