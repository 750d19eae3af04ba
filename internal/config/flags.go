package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// newServerCommand creates a cobra command with all server flags configured.
func newServerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "crankqueue",
		Short:         "Synthetic message load generator with a live control API",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(os.Stdout)
	configureServerFlags(cmd.Flags())
	return cmd
}

// configureServerFlags sets up all server flags on the provided flag set.
func configureServerFlags(flags *pflag.FlagSet) {
	// Core flags
	flags.IntP("port", "p", 8080, "Port for the control API")
	flags.IntP("concurrency", "c", 10, "Initial cap on inflight sends (0 pauses dispatch)")
	flags.IntP("rate", "r", 0, "Sends per second limit (0 means unlimited)")
	flags.Duration("send-timeout", 0, "Per-send timeout; timed out sends count as failures (0 means none)")
	flags.StringSlice("sink", nil, "Sink to deliver to (repeatable): kafka, clickhouse, sqlite, http, websocket, discard")
	flags.BoolP("verbose", "v", false, "Enable development logging")
	flags.String("config", "", "Path to configuration file (JSON, YAML or TOML)")
	flags.Bool("print-config", false, "Print the effective configuration as YAML and exit")

	// Kafka flags
	flags.String("kafka-brokers", "", "Kafka bootstrap servers (comma-separated)")
	flags.String("kafka-topic", "", "Kafka topic to produce to")
	flags.String("kafka-client-id", "", "Kafka client id")
	flags.Int("kafka-partitions", 0, "Partitions for the topic when it is created")
	flags.Int("kafka-replication-factor", 0, "Replication factor for the topic when it is created")
	flags.Bool("kafka-create-topic", true, "Create the topic at startup if it does not exist")
	flags.String("kafka-acks", "", "Producer acks setting (0, 1, all)")

	// ClickHouse flags
	flags.StringSlice("clickhouse-addr", nil, "ClickHouse address (repeatable)")
	flags.String("clickhouse-database", "", "ClickHouse database")
	flags.String("clickhouse-username", "", "ClickHouse username")
	flags.String("clickhouse-table", "", "ClickHouse table to insert into")

	// SQLite flags
	flags.String("sqlite-path", "", "SQLite database file or DSN")
	flags.String("sqlite-table", "", "SQLite table to insert into")

	// HTTP sink flags
	flags.String("http-url", "", "HTTP endpoint that receives each message")
	flags.String("http-method", "", "HTTP method for the endpoint")
	flags.StringSlice("http-header", nil, "Additional request header in key=value form")
	flags.String("http-ack-path", "", "JSON path that must be truthy in the response body (gjson syntax)")
	flags.String("http-probe-method", "", "Method used to probe the endpoint at startup (empty skips the probe)")
	flags.Duration("http-timeout", 0, "HTTP client timeout")
	flags.String("http-auth", "", "HTTP sink auth method: none, bearer, client_credentials or password")
	flags.String("http-auth-token", "", "Static bearer token")
	flags.String("http-auth-token-url", "", "OAuth2 token endpoint")
	flags.String("http-auth-client-id", "", "OAuth2 client id")
	flags.String("http-auth-client-secret", "", "OAuth2 client secret")
	flags.String("http-auth-username", "", "Username for the OAuth2 password grant")
	flags.String("http-auth-password", "", "Password for the OAuth2 password grant")
	flags.StringSlice("http-auth-scope", nil, "OAuth2 scope (repeatable)")

	// WebSocket sink flags
	flags.String("ws-url", "", "WebSocket endpoint that receives each message")
	flags.StringSlice("ws-header", nil, "WebSocket handshake header in key=value form")
	flags.Int("ws-pool-size", 0, "Maximum idle WebSocket connections kept for reuse")
	flags.Duration("ws-handshake-timeout", 0, "WebSocket handshake timeout")
	flags.Duration("ws-write-timeout", 0, "WebSocket write timeout")

	// Discard sink flags
	flags.Duration("discard-latency", 0, "Simulated latency for the discard sink")

	// Tracing flags
	flags.String("tracing-endpoint", "", "OTLP collector endpoint")
	flags.String("tracing-protocol", "", "OTLP protocol: grpc or http")
	flags.String("tracing-service-name", "", "Service name reported to the collector")
	flags.Float64("tracing-sample-rate", 1, "Fraction of sends to trace (0.0-1.0)")
	flags.Bool("tracing-insecure", false, "Disable TLS to the collector")
}

// displayHelp prints the help message for a command.
func displayHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Usage: %s\n\n", cmd.UseLine())
	if cmd.Short != "" {
		fmt.Fprintf(out, "%s\n\n", cmd.Short)
	}
	fmt.Fprintln(out, "Flags:")
	fs := cmd.Flags()
	fs.SetOutput(out)
	fs.PrintDefaults()
}

// applyFlagOverrides applies command-line flag values to the config, overriding
// values from the environment and the config file.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	overrides := []func() error{
		func() error { return overrideInt(fs, "port", &cfg.Port) },
		func() error { return overrideInt(fs, "concurrency", &cfg.Concurrency) },
		func() error { return overrideInt(fs, "rate", &cfg.Rate) },
		func() error { return overrideDuration(fs, "send-timeout", &cfg.SendTimeout) },
		func() error { return overrideStringSlice(fs, "sink", &cfg.Sinks) },
		func() error { return overrideBool(fs, "verbose", &cfg.Verbose) },
		func() error { return overrideBool(fs, "print-config", &cfg.PrintConfig) },

		func() error { return overrideString(fs, "kafka-brokers", &cfg.Kafka.Brokers) },
		func() error { return overrideString(fs, "kafka-topic", &cfg.Kafka.Topic) },
		func() error { return overrideString(fs, "kafka-client-id", &cfg.Kafka.ClientID) },
		func() error { return overrideInt(fs, "kafka-partitions", &cfg.Kafka.Partitions) },
		func() error { return overrideInt(fs, "kafka-replication-factor", &cfg.Kafka.ReplicationFactor) },
		func() error { return overrideBool(fs, "kafka-create-topic", &cfg.Kafka.CreateTopic) },
		func() error { return overrideString(fs, "kafka-acks", &cfg.Kafka.Acks) },

		func() error { return overrideStringSlice(fs, "clickhouse-addr", &cfg.ClickHouse.Addresses) },
		func() error { return overrideString(fs, "clickhouse-database", &cfg.ClickHouse.Database) },
		func() error { return overrideString(fs, "clickhouse-username", &cfg.ClickHouse.Username) },
		func() error { return overrideString(fs, "clickhouse-table", &cfg.ClickHouse.Table) },

		func() error { return overrideString(fs, "sqlite-path", &cfg.SQLite.Path) },
		func() error { return overrideString(fs, "sqlite-table", &cfg.SQLite.Table) },

		func() error { return overrideString(fs, "http-url", &cfg.HTTP.URL) },
		func() error { return overrideString(fs, "http-method", &cfg.HTTP.Method) },
		func() error { return overrideHeaders(fs, "http-header", &cfg.HTTP.Headers) },
		func() error { return overrideString(fs, "http-ack-path", &cfg.HTTP.AckPath) },
		func() error { return overrideString(fs, "http-probe-method", &cfg.HTTP.ProbeMethod) },
		func() error { return overrideDuration(fs, "http-timeout", &cfg.HTTP.Timeout) },
		func() error { return overrideString(fs, "http-auth", &cfg.HTTP.Auth.Method) },
		func() error { return overrideString(fs, "http-auth-token", &cfg.HTTP.Auth.Token) },
		func() error { return overrideString(fs, "http-auth-token-url", &cfg.HTTP.Auth.TokenURL) },
		func() error { return overrideString(fs, "http-auth-client-id", &cfg.HTTP.Auth.ClientID) },
		func() error { return overrideString(fs, "http-auth-client-secret", &cfg.HTTP.Auth.ClientSecret) },
		func() error { return overrideString(fs, "http-auth-username", &cfg.HTTP.Auth.Username) },
		func() error { return overrideString(fs, "http-auth-password", &cfg.HTTP.Auth.Password) },
		func() error { return overrideStringSlice(fs, "http-auth-scope", &cfg.HTTP.Auth.Scopes) },

		func() error { return overrideString(fs, "ws-url", &cfg.WebSocket.URL) },
		func() error { return overrideHeaders(fs, "ws-header", &cfg.WebSocket.Headers) },
		func() error { return overrideInt(fs, "ws-pool-size", &cfg.WebSocket.PoolSize) },
		func() error { return overrideDuration(fs, "ws-handshake-timeout", &cfg.WebSocket.HandshakeTimeout) },
		func() error { return overrideDuration(fs, "ws-write-timeout", &cfg.WebSocket.WriteTimeout) },

		func() error { return overrideDuration(fs, "discard-latency", &cfg.Discard.Latency) },

		func() error { return overrideString(fs, "tracing-endpoint", &cfg.Tracing.Endpoint) },
		func() error { return overrideString(fs, "tracing-protocol", &cfg.Tracing.Protocol) },
		func() error { return overrideString(fs, "tracing-service-name", &cfg.Tracing.ServiceName) },
		func() error { return overrideFloat64(fs, "tracing-sample-rate", &cfg.Tracing.SampleRate) },
		func() error { return overrideBool(fs, "tracing-insecure", &cfg.Tracing.Insecure) },
	}
	for _, apply := range overrides {
		if err := apply(); err != nil {
			return err
		}
	}
	return nil
}

func overrideString(fs *pflag.FlagSet, name string, dst *string) error {
	if !fs.Changed(name) {
		return nil
	}
	val, err := fs.GetString(name)
	if err != nil {
		return err
	}
	*dst = strings.TrimSpace(val)
	return nil
}

func overrideInt(fs *pflag.FlagSet, name string, dst *int) error {
	if !fs.Changed(name) {
		return nil
	}
	val, err := fs.GetInt(name)
	if err != nil {
		return err
	}
	*dst = val
	return nil
}

func overrideBool(fs *pflag.FlagSet, name string, dst *bool) error {
	if !fs.Changed(name) {
		return nil
	}
	val, err := fs.GetBool(name)
	if err != nil {
		return err
	}
	*dst = val
	return nil
}

func overrideFloat64(fs *pflag.FlagSet, name string, dst *float64) error {
	if !fs.Changed(name) {
		return nil
	}
	val, err := fs.GetFloat64(name)
	if err != nil {
		return err
	}
	*dst = val
	return nil
}

func overrideDuration(fs *pflag.FlagSet, name string, dst *time.Duration) error {
	if !fs.Changed(name) {
		return nil
	}
	val, err := fs.GetDuration(name)
	if err != nil {
		return err
	}
	*dst = val
	return nil
}

func overrideStringSlice(fs *pflag.FlagSet, name string, dst *[]string) error {
	if !fs.Changed(name) {
		return nil
	}
	val, err := fs.GetStringSlice(name)
	if err != nil {
		return err
	}
	*dst = val
	return nil
}

// overrideHeaders merges key=value flag entries into dst.
func overrideHeaders(fs *pflag.FlagSet, name string, dst *map[string]string) error {
	if !fs.Changed(name) {
		return nil
	}
	values, err := fs.GetStringSlice(name)
	if err != nil {
		return err
	}
	if *dst == nil {
		*dst = map[string]string{}
	}
	for _, raw := range values {
		key, value, ok := strings.Cut(raw, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return fmt.Errorf("%s: expected key=value, got %q", name, raw)
		}
		(*dst)[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return nil
}

func overrideStringArray(fs *pflag.FlagSet, name string, dst *[]string) error {
	if !fs.Changed(name) {
		return nil
	}
	val, err := fs.GetStringArray(name)
	if err != nil {
		return err
	}
	*dst = val
	return nil
}
