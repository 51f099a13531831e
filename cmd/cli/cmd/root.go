// Package cmd provides the CLI commands for cloud-cost-allocation.
package cmd

import (
	stderrors "errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"cloud-cost-allocation/internal/config"
	"cloud-cost-allocation/internal/logging"
)

const version = "0.1.0"

// Exit codes
const (
	exitOK                = 0
	exitFailure           = 1
	exitUnknownCostType   = 2
	exitAllocationFailure = 3
	exitUsage             = 255
)

var (
	cfgFile  string
	envFiles []string
	verbose  bool

	settings *config.Settings
)

// exitError carries the process exit code of a failed command
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

func exit(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: code, err: err}
}

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "cloud-cost-allocation",
	Short: "Allocate cloud costs to the services consuming them",
	Long: `cloud-cost-allocation allocates cloud costs along a graph of providers
and consumers, weighted by allocation keys and tag selectors.

Examples:
  cloud-cost-allocation allocate --config cca.ini --cost FOCUS:focus.csv --keys keys.csv -o allocated.csv
  cloud-cost-allocation allocate-further --config cca.ini --input allocated.csv --amounts Carbon -o carbon.csv
  cloud-cost-allocation runs list --date 2024-03-05`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initSettings,
}

// Execute runs the CLI and returns the process exit code
func Execute() int {
	err := rootCmd.Execute()
	logging.Sync()
	if err == nil {
		return exitOK
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)

	var exitErr *exitError
	if stderrors.As(err, &exitErr) {
		return exitErr.code
	}
	// Errors not raised by a command come from flag and argument parsing
	return exitUsage
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "allocation configuration file (.ini, .hcl, .yaml, .json, .toml)")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "environment files holding runtime settings (default .env)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
}

func initSettings(cmd *cobra.Command, args []string) error {
	s, err := config.LoadSettings(envFiles...)
	if err != nil {
		return exit(exitFailure, err)
	}
	if verbose {
		s.Log.Level = "debug"
	}
	if err := logging.Initialize(s.Logging()); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logging: %v\n", err)
	}
	settings = s
	return nil
}

// versionCmd prints version information
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "cloud-cost-allocation version %s\n", version)
	},
}

// configCmd manages configuration
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective allocation configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return exit(exitFailure, err)
		}
		fmt.Fprint(cmd.OutOrStdout(), cfg.String())
		return nil
	},
}
