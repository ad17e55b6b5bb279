package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config contains all of the configuration options available to the
// rendezvous server and the host loop that drives it.
type Config struct {
	// Full path to file to which logs will be written. Blank will write to stdout.
	LogFilePath string `mapstructure:"log_file_path"`
	// Minimum level of a log required to be written. Options: debug, info, warn, error
	LogLevel string `mapstructure:"log_level"`

	Server struct {
		// Process-wide name of the server instance.
		Name string `mapstructure:"name"`
		// Hostname or IP address on which the server will listen for connections.
		BindAddress string `mapstructure:"bind_address"`
		// Port on which the server will listen. 0 picks an ephemeral port.
		Port int `mapstructure:"port"`
		// Maximum number of named clients the server will admit.
		Backlog int `mapstructure:"backlog"`
		// How often the accept loop checks for queued clients while idle.
		AcceptPollInterval time.Duration `mapstructure:"accept_poll_interval"`
	} `mapstructure:"server"`

	Connection struct {
		// Receive buffer size in bytes; longer messages are split across reads.
		MTU int `mapstructure:"mtu"`
		// Enable TCP keep-alive probes on client sockets.
		KeepAlive bool `mapstructure:"keep_alive"`
		// Interval between keep-alive probes.
		KeepAliveInterval time.Duration `mapstructure:"keep_alive_interval"`
	} `mapstructure:"connection"`

	// Names of the clients to wait for, in the order they should be bound.
	Clients []string `mapstructure:"clients"`

	Host struct {
		// How often every client's inbound message is polled.
		PollInterval time.Duration `mapstructure:"poll_interval"`
		// Send every received message back to the client it came from.
		Echo bool `mapstructure:"echo"`
	} `mapstructure:"host"`

	Database struct {
		// Database engine to record connection history with: postgres or sqlite.
		// Leave blank to disable the history.
		Engine string `mapstructure:"engine"`
		// SQLite database file.
		Filename string `mapstructure:"filename"`
		// Hostname of the Postgres database instance.
		Host string `mapstructure:"host"`
		// Port on host on which the Postgres instance is accepting connections.
		Port int `mapstructure:"port"`
		// Name of the database in Postgres.
		Name string `mapstructure:"name"`
		// Username and password of a user with full RW privileges to the database.
		Username string `mapstructure:"username"`
		Password string `mapstructure:"password"`
		// Set to verify-full if the Postgres instance supports SSL.
		SSLMode string `mapstructure:"sslmode"`
	} `mapstructure:"database"`

	Debugging struct {
		// Enable the pprof and metrics endpoints.
		Enabled bool `mapstructure:"enabled"`
		// Port on localhost serving /debug/pprof and /metrics.
		Port int `mapstructure:"port"`
	} `mapstructure:"debugging"`
}

const envVarPrefix = "RENDEZVOUS"

var defaults = map[string]interface{}{
	"log_level":                      "info",
	"server.name":                    "rendezvous",
	"server.bind_address":            "0.0.0.0",
	"server.port":                    43208,
	"server.backlog":                 1,
	"server.accept_poll_interval":    "100ms",
	"connection.mtu":                 64,
	"connection.keep_alive":          true,
	"connection.keep_alive_interval": "200ms",
	"host.poll_interval":             "50ms",
	"host.echo":                      false,
	"database.sslmode":               "disable",
	"debugging.port":                 4000,
}

// LoadConfig reads the config file named "config" from configPath, layering
// it over the defaults and under any RENDEZVOUS_* environment variables.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(configPath)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	for k, value := range defaults {
		v.SetDefault(k, value)
	}

	v.SetEnvPrefix(envVarPrefix)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("no config file in path %s", configPath)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// This allows us to set nested yaml config options through environment
	// variables. For example, server.port can be set using: <envVarPrefix>_SERVER_PORT
	for _, k := range v.AllKeys() {
		envVar := strings.ReplaceAll(strings.ToUpper(k), ".", "_")
		if err := v.BindEnv(k, envVarPrefix+"_"+envVar); err != nil {
			return nil, fmt.Errorf("binding %s to %s: %w", k, envVarPrefix+"_"+envVar, err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("unmarshaling config object: %w", err)
	}
	return config, nil
}

const databaseURITemplate = "host=%s port=%d dbname=%s user=%s password=%s sslmode=%s"

// DatabaseURL returns a database URL generated from the provided config values.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		databaseURITemplate,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.Username,
		c.Database.Password,
		c.Database.SSLMode,
	)
}

// HistoryEnabled returns whether connection history should be recorded.
func (c *Config) HistoryEnabled() bool {
	return c.Database.Engine != ""
}
