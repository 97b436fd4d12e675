package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
			} else {
				require.NoError(t, err)
				require.NotNil(t, cfg)

				// Verify some key fields are populated
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, "localhost", cfg.Database.Host)
				assert.Equal(t, 5432, cfg.Database.Port)
				assert.Equal(t, "queue_db", cfg.Database.Database)
				assert.Equal(t, "queue", cfg.Queue.Schema)
				assert.Equal(t, "jobs", cfg.Queue.Table)
				assert.True(t, cfg.Events.Enabled)
				assert.Equal(t, "job_events", cfg.Events.Exchange.Name)
				assert.Equal(t, "queue-api-service", cfg.App.Name)
				assert.Equal(t, 2*time.Second, cfg.Worker.PollInterval)
			}
		})
	}
}

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "queue_db",
		},
		Events: EventsConfig{
			Enabled:  true,
			RabbitMQ: RabbitMQConfig{Host: "localhost", Port: 5672},
			Exchange: ExchangeConfig{Name: "job_events"},
		},
		Worker: WorkerConfig{
			Concurrency:     4,
			PollInterval:    2 * time.Second,
			JobTimeout:      time.Minute,
			ShutdownTimeout: 30 * time.Second,
		},
	}
}

func TestValidateAPIConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:      "invalid server port",
			mutate:    func(c *Config) { c.Server.Port = 0 },
			errString: "invalid server port",
		},
		{
			name:      "missing database host",
			mutate:    func(c *Config) { c.Database.Host = "" },
			errString: "database host is required",
		},
		{
			name:      "invalid database port",
			mutate:    func(c *Config) { c.Database.Port = 70000 },
			errString: "invalid database port",
		},
		{
			name:      "missing database name",
			mutate:    func(c *Config) { c.Database.Database = "" },
			errString: "database name is required",
		},
		{
			name: "conn string overrides discrete parameters",
			mutate: func(c *Config) {
				c.Database = DatabaseConfig{ConnString: "postgres://u:p@localhost/db"}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.ValidateAPIConfig()
			if tt.errString == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			}
		})
	}
}

func TestValidateWorkerConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:      "zero concurrency",
			mutate:    func(c *Config) { c.Worker.Concurrency = 0 },
			errString: "worker concurrency must be greater than 0",
		},
		{
			name:      "zero poll interval",
			mutate:    func(c *Config) { c.Worker.PollInterval = 0 },
			errString: "worker poll_interval must be greater than 0",
		},
		{
			name:      "zero job timeout",
			mutate:    func(c *Config) { c.Worker.JobTimeout = 0 },
			errString: "worker job_timeout must be greater than 0",
		},
		{
			name:      "zero shutdown timeout",
			mutate:    func(c *Config) { c.Worker.ShutdownTimeout = 0 },
			errString: "worker shutdown_timeout must be greater than 0",
		},
		{
			name:      "events enabled without rabbitmq host",
			mutate:    func(c *Config) { c.Events.RabbitMQ.Host = "" },
			errString: "rabbitmq host is required",
		},
		{
			name:      "events enabled without exchange name",
			mutate:    func(c *Config) { c.Events.Exchange.Name = "" },
			errString: "rabbitmq exchange name is required",
		},
		{
			name: "events disabled skips rabbitmq checks",
			mutate: func(c *Config) {
				c.Events = EventsConfig{Enabled: false}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.ValidateWorkerConfig()
			if tt.errString == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			}
		})
	}
}
