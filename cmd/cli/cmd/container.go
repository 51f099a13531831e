package cmd

import (
	"context"
	stderrors "errors"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/dig"

	"cloud-cost-allocation/adapters/storage"
	"cloud-cost-allocation/core/allocation"
	"cloud-cost-allocation/internal/config"
	"cloud-cost-allocation/internal/logging"
	"cloud-cost-allocation/internal/metrics"
)

// loadConfig reads the --config file, or returns the defaults when none is given
func loadConfig() (*config.Config, error) {
	if cfgFile == "" {
		logging.Debug("No configuration file, using defaults")
		return config.Default(), nil
	}
	return config.Load(cfgFile)
}

// buildContainer wires the dependencies shared by the commands. Providers
// run lazily, so the store is only opened by commands that ask for it.
func buildContainer(ctx context.Context) (*dig.Container, error) {
	container := dig.New()

	providers := []any{
		func() *config.Settings {
			return settings
		},
		loadConfig,
		func() *metrics.Recorder {
			return metrics.NewRecorder(prometheus.NewRegistry())
		},
		func(s *config.Settings) (storage.Store, error) {
			return storage.StoreFactory(ctx, s)
		},
		func(cfg *config.Config, recorder *metrics.Recorder) *allocation.Allocator {
			return allocation.New(cfg, allocation.WithObserver(recorder))
		},
	}
	for _, provider := range providers {
		if err := container.Provide(provider); err != nil {
			return nil, err
		}
	}
	return container, nil
}

// invoke builds the container and runs fn with its dependencies
func invoke(ctx context.Context, fn any) error {
	container, err := buildContainer(ctx)
	if err != nil {
		return exit(exitFailure, err)
	}
	err = dig.RootCause(container.Invoke(fn))
	var exitErr *exitError
	if err != nil && !stderrors.As(err, &exitErr) {
		return exit(exitFailure, err)
	}
	return err
}
