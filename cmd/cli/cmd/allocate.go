package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"cloud-cost-allocation/adapters/csv"
	"cloud-cost-allocation/adapters/storage"
	"cloud-cost-allocation/core/allocation"
	"cloud-cost-allocation/core/types"
	"cloud-cost-allocation/internal/config"
	"cloud-cost-allocation/internal/errors"
	"cloud-cost-allocation/internal/logging"
	"cloud-cost-allocation/internal/metrics"
)

// Cost input types accepted by --cost
const costTypeFocus = "FOCUS"

var (
	costInputs  []string
	keysInputs  []string
	outputFile  string
	date        string
	currency    string
	amounts     []string
	metricsFile string
	noStore     bool
)

// allocateCmd represents the allocate command
var allocateCmd = &cobra.Command{
	Use:   "allocate",
	Short: "Allocate cloud costs along cost allocation keys",
	Long: `Read cloud costs and cost allocation keys, allocate the costs to the
consuming services and write the allocated costs as CSV.

Cloud costs are given as TYPE:path, where path is a file or an http(s) URL.
The only supported type is FOCUS.

Exit codes:
  2    unknown cost type
  3    allocation failure
  255  invalid usage

Examples:
  cloud-cost-allocation allocate --config cca.ini --cost FOCUS:focus.csv --keys keys.csv -o allocated.csv
  cloud-cost-allocation allocate --cost FOCUS:https://exports.example.com/focus.csv --keys k8s.csv --keys db.csv -o out.csv`,
	Args: cobra.NoArgs,
	RunE: runAllocate,
}

func init() {
	allocateCmd.Flags().StringArrayVar(&costInputs, "cost", nil, "cloud costs as TYPE:path, repeatable [REQUIRED]")
	allocateCmd.Flags().StringArrayVar(&keysInputs, "keys", nil, "cost allocation keys file or URL, repeatable")
	allocateCmd.Flags().StringVarP(&outputFile, "output", "o", "", "allocated costs CSV file [REQUIRED]")
	allocateCmd.Flags().StringVar(&date, "date", "", "allocation date (default is the date of the first cloud cost)")
	allocateCmd.Flags().StringVar(&currency, "currency", "", "allocation currency (default is the currency of the first cloud cost)")
	allocateCmd.Flags().StringSliceVar(&amounts, "amounts", nil, "amounts to allocate (default is every configured amount)")
	allocateCmd.Flags().StringVar(&metricsFile, "metrics-file", "", "write run metrics to this node exporter textfile")
	allocateCmd.Flags().BoolVar(&noStore, "no-store", false, "do not record the run in the run store")

	allocateCmd.MarkFlagRequired("cost")
	allocateCmd.MarkFlagRequired("output")

	rootCmd.AddCommand(allocateCmd)
}

func runAllocate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	return invoke(ctx, func(cfg *config.Config, recorder *metrics.Recorder, allocator *allocation.Allocator) error {
		clouds, err := readCosts(ctx, cfg, recorder)
		if err != nil {
			return err
		}

		var consumers []*types.ConsumerCostRecord
		keysReader := csv.NewKeysReader(cfg)
		for _, uri := range keysInputs {
			records, err := keysReader.ReadURI(ctx, uri)
			if err != nil {
				return exit(exitFailure, err)
			}
			recorder.RecordRead("keys", len(records))
			consumers = append(consumers, records...)
		}

		allocator.Date, allocator.Currency = date, currency
		if len(clouds) > 0 {
			if allocator.Date == "" {
				allocator.Date = clouds[0].Date
			}
			if allocator.Currency == "" {
				allocator.Currency = clouds[0].Currency
			}
		}

		requested := amounts
		if len(requested) == 0 {
			requested = cfg.Amounts
		}
		logging.Info("Allocating costs",
			zap.String("date", allocator.Date),
			zap.String("currency", allocator.Currency),
			zap.Strings("amounts", requested),
			zap.Int("cloud_records", len(clouds)),
			zap.Int("consumer_records", len(consumers)))

		if err := allocator.Allocate(consumers, clouds, requested); err != nil {
			return exit(exitAllocationFailure, err)
		}

		writer := csv.NewAllocatedCostWriter(cfg)
		if err := writer.WriteFile(outputFile, allocator.ServiceInstances()); err != nil {
			return exit(exitFailure, err)
		}

		stats := allocator.Stats()
		fmt.Fprintf(cmd.OutOrStdout(), "Allocated %d records over %d service instances to %s\n",
			stats.Records, stats.Instances, outputFile)

		if err := writeMetrics(recorder); err != nil {
			return exit(exitFailure, err)
		}

		run := storage.NewRunSummary(storage.KindAllocate, allocator.Date, allocator.Currency, requested, stats)
		run.Inputs["cost"] = strings.Join(costInputs, ",")
		run.Inputs["keys"] = strings.Join(keysInputs, ",")
		run.Inputs["output"] = outputFile
		return saveRun(ctx, cmd, cfg, allocator, run)
	})
}

// readCosts reads every --cost input
func readCosts(ctx context.Context, cfg *config.Config, recorder *metrics.Recorder) ([]*types.CloudCostRecord, error) {
	focusReader := csv.NewFocusReader(cfg)

	var clouds []*types.CloudCostRecord
	for _, input := range costInputs {
		costType, uri, ok := strings.Cut(input, ":")
		if !ok || uri == "" {
			return nil, exit(exitUsage, errors.Newf(errors.TypeInput, "unexpected cost input %q, expected TYPE:path", input))
		}
		switch strings.ToUpper(costType) {
		case costTypeFocus:
			records, err := focusReader.ReadURI(ctx, uri)
			if err != nil {
				return nil, exit(exitFailure, err)
			}
			recorder.RecordRead("focus", len(records))
			clouds = append(clouds, records...)
		default:
			return nil, exit(exitUnknownCostType, errors.Newf(errors.TypeInput, "unknown cost type %q", costType))
		}
	}
	return clouds, nil
}

// writeMetrics writes the run metrics when a textfile is configured
func writeMetrics(recorder *metrics.Recorder) error {
	path := metricsFile
	if path == "" && settings != nil {
		path = settings.Metrics.File
	}
	if path == "" {
		return nil
	}
	logging.Debug("Writing metrics", zap.String("path", path))
	return recorder.WriteTextfile(path)
}

// saveRun records the run in the configured store, unless --no-store is set
func saveRun(ctx context.Context, cmd *cobra.Command, cfg *config.Config, allocator *allocation.Allocator, run *storage.RunSummary) error {
	if noStore {
		return nil
	}
	if cfgFile != "" {
		run.Inputs["config"] = cfgFile
	}
	run.Rows = storage.AllocatedRows(cfg, allocator.ServiceInstances(), run.Amounts)

	return invoke(ctx, func(store storage.Store) error {
		defer store.Close()
		if err := store.Save(ctx, run); err != nil {
			return exit(exitFailure, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Run %s recorded\n", run.ID)
		return nil
	})
}
