package config

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Loader handles loading configuration from the environment, files and
// command-line arguments.
type Loader struct {
	// Environment overrides the process environment when non-nil.
	Environment map[string]string
}

// ErrHelpRequested is returned when the user requests help via --help flag.
var ErrHelpRequested = errors.New("help requested")

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses command-line arguments and configuration files to produce a Config.
// Precedence, lowest first: built-in defaults, environment, config file, flags.
func (l Loader) Load(args []string) (*Config, error) {
	cmd := newServerCommand()
	configPath, err := parseCommandFlags(cmd, args)
	if err != nil {
		return nil, err
	}

	cfg := &Config{ConfigFile: configPath}
	if err := env.ParseWithOptions(cfg, l.envOptions()); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}

	settings, err := readConfigFile(configPath)
	if err != nil {
		return nil, err
	}
	if err := applyConfigSettings(cfg, settings); err != nil {
		return nil, err
	}

	if err := applyFlagOverrides(cfg, cmd.Flags()); err != nil {
		return nil, err
	}

	cfg.HTTP.Method = strings.ToUpper(strings.TrimSpace(cfg.HTTP.Method))
	cfg.HTTP.URL = strings.TrimSpace(cfg.HTTP.URL)
	cfg.HTTP.Auth.Method = strings.ToLower(strings.TrimSpace(cfg.HTTP.Auth.Method))
	cfg.WebSocket.URL = strings.TrimSpace(cfg.WebSocket.URL)

	return cfg, nil
}

func (l Loader) envOptions() env.Options {
	opts := env.Options{}
	if l.Environment != nil {
		opts.Environment = l.Environment
	}
	return opts
}

// parseCommandFlags parses args into cmd's flag set and returns the --config path.
func parseCommandFlags(cmd *cobra.Command, args []string) (string, error) {
	flagSet := cmd.Flags()
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			displayHelp(cmd)
			return "", ErrHelpRequested
		}
		return "", err
	}

	if helpFlag := flagSet.Lookup("help"); helpFlag != nil {
		if wantsHelp, err := strconv.ParseBool(helpFlag.Value.String()); err == nil && wantsHelp {
			displayHelp(cmd)
			return "", ErrHelpRequested
		}
	}

	configPath := ""
	if f := flagSet.Lookup("config"); f != nil {
		configPath = strings.TrimSpace(f.Value.String())
	}
	return configPath, nil
}

func readConfigFile(path string) (map[string]interface{}, error) {
	if path == "" {
		return nil, nil
	}
	cfgViper := viper.New()
	cfgViper.SetConfigFile(path)
	if err := cfgViper.ReadInConfig(); err != nil {
		return nil, err
	}
	return cfgViper.AllSettings(), nil
}

// applyConfigSettings applies settings from a config file to the Config struct.
func applyConfigSettings(cfg *Config, settings map[string]interface{}) error {
	if len(settings) == 0 {
		return nil
	}

	if raw, ok := lookupSetting(settings, "port"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("port: %w", err)
		}
		cfg.Port = val
	}

	if raw, ok := lookupSetting(settings, "concurrency"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("concurrency: %w", err)
		}
		cfg.Concurrency = val
	}

	if raw, ok := lookupSetting(settings, "rate"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("rate: %w", err)
		}
		cfg.Rate = val
	}

	if raw, ok := lookupSetting(settings, "sendtimeout", "send_timeout", "send-timeout"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("sendTimeout: %w", err)
		}
		cfg.SendTimeout = dur
	}

	if raw, ok := lookupSetting(settings, "sinks", "sink"); ok {
		val, err := asStringSlice(raw)
		if err != nil {
			return fmt.Errorf("sinks: %w", err)
		}
		cfg.Sinks = val
	}

	if raw, ok := lookupSetting(settings, "verbose"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("verbose: %w", err)
		}
		cfg.Verbose = val
	}

	sections := []struct {
		key   string
		apply func(map[string]interface{}) error
	}{
		{"kafka", func(m map[string]interface{}) error { return applyKafkaSettings(&cfg.Kafka, m) }},
		{"clickhouse", func(m map[string]interface{}) error { return applyClickHouseSettings(&cfg.ClickHouse, m) }},
		{"sqlite", func(m map[string]interface{}) error { return applySQLiteSettings(&cfg.SQLite, m) }},
		{"http", func(m map[string]interface{}) error { return applyHTTPSinkSettings(&cfg.HTTP, m) }},
		{"websocket", func(m map[string]interface{}) error { return applyWebSocketSettings(&cfg.WebSocket, m) }},
		{"discard", func(m map[string]interface{}) error { return applyDiscardSettings(&cfg.Discard, m) }},
		{"tracing", func(m map[string]interface{}) error { return applyTracingSettings(&cfg.Tracing, m) }},
	}
	for _, section := range sections {
		raw, ok := lookupSetting(settings, section.key)
		if !ok || raw == nil {
			continue
		}
		entry, err := toStringKeyMap(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", section.key, err)
		}
		if err := section.apply(entry); err != nil {
			return fmt.Errorf("%s: %w", section.key, err)
		}
	}

	return nil
}

// WriteYAML renders cfg as YAML. Secrets are omitted.
func WriteYAML(w io.Writer, cfg any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return err
	}
	return enc.Close()
}
