package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// ClientConfig drives the traffic and status client.
type ClientConfig struct {
	URI         string        `env:"CRANKQUEUE_URI" envDefault:"http://localhost:8080" yaml:"uri"`
	Every       time.Duration `env:"CRANKQUEUE_EVERY" envDefault:"1s" yaml:"every"`
	Count       int           `env:"CRANKQUEUE_COUNT" envDefault:"100" yaml:"count"`
	Max         int           `env:"CRANKQUEUE_MAX" yaml:"max"`
	Produce     bool          `yaml:"produce"`
	Status      bool          `yaml:"status"`
	StatusEvery time.Duration `env:"CRANKQUEUE_STATUS_EVERY" envDefault:"10s" yaml:"status_every"`
	Timeout     time.Duration `env:"CRANKQUEUE_TIMEOUT" envDefault:"10s" yaml:"timeout"`
	Duration    time.Duration `env:"CRANKQUEUE_DURATION" yaml:"duration"`
	Thresholds  []string      `env:"CRANKQUEUE_THRESHOLDS" envSeparator:";" yaml:"thresholds"`
	JSON        bool          `yaml:"json"`
	Dashboard   bool          `yaml:"dashboard"`
	Verbose     bool          `env:"VERBOSE" yaml:"verbose"`
}

// Validate checks the client configuration.
func (c ClientConfig) Validate() error {
	var issues []string
	u, err := url.Parse(strings.TrimSpace(c.URI))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		issues = append(issues, fmt.Sprintf("uri must be an http(s) URL, got %q", c.URI))
	}
	if c.Produce && c.Every <= 0 {
		issues = append(issues, "every must be > 0")
	}
	if c.Count < 0 {
		issues = append(issues, "count must be >= 0")
	}
	if c.Max < 0 {
		issues = append(issues, "max must be >= 0")
	}
	if c.Duration < 0 {
		issues = append(issues, "duration must be >= 0")
	}
	if c.Status && c.StatusEvery <= 0 {
		issues = append(issues, "status-every must be > 0")
	}
	if !c.Produce && !c.Status {
		issues = append(issues, "nothing to do: both produce and status are disabled")
	}
	if c.JSON && c.Dashboard {
		issues = append(issues, "json and dashboard output are mutually exclusive")
	}
	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

func newClientCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "crankqueue-client",
		Short:         "Drive a crankqueue server and report its status",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(os.Stdout)
	configureClientFlags(cmd.Flags())
	return cmd
}

func configureClientFlags(flags *pflag.FlagSet) {
	flags.StringP("uri", "u", "", "Base URL of the crankqueue server")
	flags.DurationP("every", "e", 0, "Interval between produce calls")
	flags.IntP("count", "n", 0, "Messages requested per produce call")
	flags.IntP("max", "m", 0, "Concurrency override sent with each produce call (0 leaves it unchanged)")
	flags.Bool("produce", false, "Only produce messages")
	flags.Bool("status", false, "Only poll status")
	flags.Duration("status-every", 0, "Interval between status polls")
	flags.Duration("timeout", 0, "Request timeout")
	flags.DurationP("duration", "d", 0, "Stop after this long (0 runs until interrupted)")
	flags.StringArray("threshold", nil, "Pass/fail check on the final status, e.g. 'latency:p99 < 500' (repeatable)")
	flags.Bool("json", false, "Print raw JSON responses")
	flags.Bool("dashboard", false, "Show a live terminal dashboard")
	flags.BoolP("verbose", "v", false, "Enable development logging")
}

// LoadClient parses the client command line on top of environment defaults.
// Produce and status both run unless exactly one of --produce or --status is given.
func (l Loader) LoadClient(args []string) (*ClientConfig, error) {
	cmd := newClientCommand()
	if _, err := parseCommandFlags(cmd, args); err != nil {
		return nil, err
	}

	cfg := &ClientConfig{}
	if err := env.ParseWithOptions(cfg, l.envOptions()); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}

	fs := cmd.Flags()
	overrides := []func() error{
		func() error { return overrideString(fs, "uri", &cfg.URI) },
		func() error { return overrideDuration(fs, "every", &cfg.Every) },
		func() error { return overrideInt(fs, "count", &cfg.Count) },
		func() error { return overrideInt(fs, "max", &cfg.Max) },
		func() error { return overrideDuration(fs, "status-every", &cfg.StatusEvery) },
		func() error { return overrideDuration(fs, "timeout", &cfg.Timeout) },
		func() error { return overrideDuration(fs, "duration", &cfg.Duration) },
		func() error { return overrideStringArray(fs, "threshold", &cfg.Thresholds) },
		func() error { return overrideBool(fs, "json", &cfg.JSON) },
		func() error { return overrideBool(fs, "dashboard", &cfg.Dashboard) },
		func() error { return overrideBool(fs, "verbose", &cfg.Verbose) },
	}
	for _, apply := range overrides {
		if err := apply(); err != nil {
			return nil, err
		}
	}

	produceOnly, _ := fs.GetBool("produce")
	statusOnly, _ := fs.GetBool("status")
	cfg.Produce = produceOnly || !statusOnly
	cfg.Status = statusOnly || !produceOnly
	cfg.URI = strings.TrimRight(strings.TrimSpace(cfg.URI), "/")

	return cfg, nil
}
