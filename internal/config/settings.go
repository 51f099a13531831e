package config

import (
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"cloud-cost-allocation/internal/errors"
	"cloud-cost-allocation/internal/logging"
)

// Settings are the runtime settings read from the environment, independent
// of the allocation configuration file.
type Settings struct {
	Log        LogSettings
	Store      StoreSettings
	ClickHouse ClickHouseSettings
	Metrics    MetricsSettings
}

// LogSettings configures the global logger
type LogSettings struct {
	Level       string `env:"CCA_LOG_LEVEL"       envDefault:"info"`
	Format      string `env:"CCA_LOG_FORMAT"      envDefault:"console"`
	Output      string `env:"CCA_LOG_OUTPUT"      envDefault:"stderr"`
	Development bool   `env:"CCA_LOG_DEVELOPMENT" envDefault:"false"`
}

// StoreSettings selects the run store backend
type StoreSettings struct {
	Backend string `env:"CCA_STORE_BACKEND" envDefault:"file"`
	Path    string `env:"CCA_STORE_PATH"    envDefault:".cloud-cost-allocation/runs"`
}

// ClickHouseSettings configures the ClickHouse run store
type ClickHouseSettings struct {
	Addr     []string `env:"CCA_CLICKHOUSE_ADDR"     envSeparator:"," envDefault:"localhost:9000"`
	Database string   `env:"CCA_CLICKHOUSE_DATABASE"                  envDefault:"cost_allocation"`
	Username string   `env:"CCA_CLICKHOUSE_USERNAME"                  envDefault:"default"`
	Password string   `env:"CCA_CLICKHOUSE_PASSWORD"`
	Debug    bool     `env:"CCA_CLICKHOUSE_DEBUG"                     envDefault:"false"`
}

// MetricsSettings configures the metrics textfile
type MetricsSettings struct {
	File string `env:"CCA_METRICS_FILE"`
}

// LoadSettings loads .env files and parses the runtime settings.
func LoadSettings(envFiles ...string) (*Settings, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, file := range envFiles {
		// A missing .env file is not an error
		_ = godotenv.Load(file)
	}

	var settings Settings
	if err := env.Parse(&settings); err != nil {
		return nil, errors.Wrap(errors.TypeConfig, "failed to parse environment settings", err)
	}
	return &settings, nil
}

// Logging returns the logger configuration of the settings
func (s *Settings) Logging() logging.Config {
	return logging.Config{
		Level:       s.Log.Level,
		Format:      s.Log.Format,
		Output:      s.Log.Output,
		Development: s.Log.Development,
	}
}
