package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

type SinkKind string

const (
	SinkKafka      SinkKind = "kafka"
	SinkClickHouse SinkKind = "clickhouse"
	SinkSQLite     SinkKind = "sqlite"
	SinkHTTP       SinkKind = "http"
	SinkWebSocket  SinkKind = "websocket"
	SinkDiscard    SinkKind = "discard"
)

var knownSinks = map[SinkKind]bool{
	SinkKafka:      true,
	SinkClickHouse: true,
	SinkSQLite:     true,
	SinkHTTP:       true,
	SinkWebSocket:  true,
	SinkDiscard:    true,
}

// Config is the dispatcher server configuration.
type Config struct {
	Port        int              `env:"PORT" envDefault:"8080" yaml:"port"`
	Concurrency int              `env:"CONCURRENCY" envDefault:"10" yaml:"concurrency"`
	Rate        int              `env:"RATE" yaml:"rate"`
	SendTimeout time.Duration    `env:"SEND_TIMEOUT" yaml:"send_timeout"`
	Sinks       []string         `env:"SINKS" envSeparator:"," envDefault:"discard" yaml:"sinks"`
	Verbose     bool             `env:"VERBOSE" yaml:"verbose"`
	ConfigFile  string           `yaml:"-"`
	PrintConfig bool             `yaml:"-"`
	Kafka       KafkaConfig      `envPrefix:"KAFKA_" yaml:"kafka"`
	ClickHouse  ClickHouseConfig `envPrefix:"CLICKHOUSE_" yaml:"clickhouse"`
	SQLite      SQLiteConfig     `envPrefix:"SQLITE_" yaml:"sqlite"`
	HTTP        HTTPSinkConfig   `envPrefix:"HTTP_SINK_" yaml:"http"`
	WebSocket   WebSocketConfig  `envPrefix:"WEBSOCKET_" yaml:"websocket"`
	Discard     DiscardConfig    `envPrefix:"DISCARD_" yaml:"discard"`
	Tracing     TracingConfig    `envPrefix:"TRACING_" yaml:"tracing"`
}

type KafkaConfig struct {
	Brokers           string        `env:"BROKERS" envDefault:"localhost:9092" yaml:"brokers"`
	Topic             string        `env:"TOPIC" envDefault:"crankqueue" yaml:"topic"`
	ClientID          string        `env:"CLIENT_ID" envDefault:"crankqueue" yaml:"client_id"`
	Partitions        int           `env:"PARTITIONS" envDefault:"1" yaml:"partitions"`
	ReplicationFactor int           `env:"REPLICATION_FACTOR" envDefault:"1" yaml:"replication_factor"`
	CreateTopic       bool          `env:"CREATE_TOPIC" envDefault:"true" yaml:"create_topic"`
	Acks              string        `env:"ACKS" envDefault:"all" yaml:"acks"`
	FlushTimeout      time.Duration `env:"FLUSH_TIMEOUT" envDefault:"10s" yaml:"flush_timeout"`
	EnableLogs        bool          `env:"ENABLE_LOGS" yaml:"enable_logs"`
}

type ClickHouseConfig struct {
	Addresses    []string      `env:"ADDRESSES" envSeparator:"," envDefault:"localhost:9000" yaml:"addresses"`
	Database     string        `env:"DATABASE" envDefault:"default" yaml:"database"`
	Username     string        `env:"USERNAME" envDefault:"default" yaml:"username"`
	Password     string        `env:"PASSWORD" yaml:"-"`
	Table        string        `env:"TABLE" envDefault:"crankqueue_messages" yaml:"table"`
	DialTimeout  time.Duration `env:"DIAL_TIMEOUT" envDefault:"30s" yaml:"dial_timeout"`
	MaxOpenConns int           `env:"MAX_OPEN_CONNS" envDefault:"10" yaml:"max_open_conns"`
	Debug        bool          `env:"DEBUG" yaml:"debug"`
}

type SQLiteConfig struct {
	Path  string `env:"PATH" envDefault:"crankqueue.db" yaml:"path"`
	Table string `env:"TABLE" envDefault:"messages" yaml:"table"`
}

type HTTPSinkConfig struct {
	URL         string            `env:"URL" yaml:"url"`
	Method      string            `env:"METHOD" envDefault:"POST" yaml:"method"`
	Headers     map[string]string `env:"HEADERS" yaml:"headers"`
	AckPath     string            `env:"ACK_PATH" yaml:"ack_path"`
	ProbeMethod string            `env:"PROBE_METHOD" yaml:"probe_method"`
	Timeout     time.Duration     `env:"TIMEOUT" envDefault:"30s" yaml:"timeout"`
	Auth        AuthConfig        `envPrefix:"AUTH_" yaml:"auth"`
}

// Auth methods for the HTTP sink.
const (
	AuthNone              = "none"
	AuthBearer            = "bearer"
	AuthClientCredentials = "client_credentials"
	AuthPassword          = "password"
)

// AuthConfig selects how the HTTP sink authenticates its requests.
type AuthConfig struct {
	Method        string        `env:"METHOD" envDefault:"none" yaml:"method"`
	Token         string        `env:"TOKEN" yaml:"-"`
	TokenURL      string        `env:"TOKEN_URL" yaml:"token_url,omitempty"`
	ClientID      string        `env:"CLIENT_ID" yaml:"client_id,omitempty"`
	ClientSecret  string        `env:"CLIENT_SECRET" yaml:"-"`
	Username      string        `env:"USERNAME" yaml:"username,omitempty"`
	Password      string        `env:"PASSWORD" yaml:"-"`
	Scopes        []string      `env:"SCOPES" envSeparator:"," yaml:"scopes,omitempty"`
	RefreshBefore time.Duration `env:"REFRESH_BEFORE" envDefault:"30s" yaml:"refresh_before"`
}

type WebSocketConfig struct {
	URL              string            `env:"URL" yaml:"url"`
	Headers          map[string]string `env:"HEADERS" yaml:"headers"`
	HandshakeTimeout time.Duration     `env:"HANDSHAKE_TIMEOUT" envDefault:"30s" yaml:"handshake_timeout"`
	WriteTimeout     time.Duration     `env:"WRITE_TIMEOUT" envDefault:"5s" yaml:"write_timeout"`
	PoolSize         int               `env:"POOL_SIZE" envDefault:"10" yaml:"pool_size"`
}

type DiscardConfig struct {
	Latency time.Duration `env:"LATENCY" yaml:"latency"`
}

type TracingConfig struct {
	Endpoint    string  `env:"ENDPOINT" yaml:"endpoint"`
	Protocol    string  `env:"PROTOCOL" envDefault:"grpc" yaml:"protocol"`
	ServiceName string  `env:"SERVICE_NAME" yaml:"service_name"`
	SampleRate  float64 `env:"SAMPLE_RATE" envDefault:"1" yaml:"sample_rate"`
	Insecure    bool    `env:"INSECURE" yaml:"insecure"`
}

// Enabled reports whether an exporter endpoint is configured, either directly
// or through OTEL_EXPORTER_OTLP_ENDPOINT.
func (t TracingConfig) Enabled() bool {
	return strings.TrimSpace(t.Endpoint) != "" || os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != ""
}

// SinkKinds returns the configured sinks, normalized and de-duplicated.
func (c Config) SinkKinds() []SinkKind {
	seen := map[SinkKind]bool{}
	kinds := make([]SinkKind, 0, len(c.Sinks))
	for _, s := range c.Sinks {
		kind := SinkKind(strings.ToLower(strings.TrimSpace(s)))
		if kind == "" || seen[kind] {
			continue
		}
		seen[kind] = true
		kinds = append(kinds, kind)
	}
	return kinds
}

// Addr returns the listen address for the control API.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

func (c Config) Validate() error {
	var issues []string

	if c.Port < 1 || c.Port > 65535 {
		issues = append(issues, fmt.Sprintf("port must be between 1 and 65535, got %d", c.Port))
	}
	if c.Concurrency < 0 {
		issues = append(issues, "concurrency must be >= 0")
	}
	if c.Rate < 0 {
		issues = append(issues, "rate must be >= 0")
	}
	if c.SendTimeout < 0 {
		issues = append(issues, "send timeout must be >= 0")
	}
	if c.Concurrency > 500 {
		fmt.Fprintf(os.Stderr, "WARNING: High concurrency configured (%d inflight sends). Ensure you have authorization to load the target system.\n", c.Concurrency)
	}

	kinds := c.SinkKinds()
	if len(kinds) == 0 {
		issues = append(issues, "at least one sink is required")
	}
	for _, kind := range kinds {
		if !knownSinks[kind] {
			issues = append(issues, fmt.Sprintf("unknown sink %q (valid: kafka, clickhouse, sqlite, http, websocket, discard)", kind))
			continue
		}
		issues = append(issues, c.validateSink(kind)...)
	}

	issues = append(issues, validateTracing(c.Tracing)...)

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

func (c Config) validateSink(kind SinkKind) []string {
	var issues []string
	switch kind {
	case SinkKafka:
		if strings.TrimSpace(c.Kafka.Brokers) == "" {
			issues = append(issues, "kafka: brokers are required")
		}
		if strings.TrimSpace(c.Kafka.Topic) == "" {
			issues = append(issues, "kafka: topic is required")
		}
		if c.Kafka.Partitions < 1 {
			issues = append(issues, "kafka: partitions must be >= 1")
		}
		if c.Kafka.ReplicationFactor < 1 {
			issues = append(issues, "kafka: replication factor must be >= 1")
		}
	case SinkClickHouse:
		if len(c.ClickHouse.Addresses) == 0 {
			issues = append(issues, "clickhouse: at least one address is required")
		}
		if !validIdentifier(c.ClickHouse.Table) {
			issues = append(issues, fmt.Sprintf("clickhouse: invalid table name %q", c.ClickHouse.Table))
		}
	case SinkSQLite:
		if strings.TrimSpace(c.SQLite.Path) == "" {
			issues = append(issues, "sqlite: path is required")
		}
		if !validIdentifier(c.SQLite.Table) {
			issues = append(issues, fmt.Sprintf("sqlite: invalid table name %q", c.SQLite.Table))
		}
	case SinkHTTP:
		if !hasScheme(c.HTTP.URL, "http://", "https://") {
			issues = append(issues, "http: url must start with http:// or https://")
		}
		issues = append(issues, validateAuth(c.HTTP.Auth)...)
	case SinkWebSocket:
		if !hasScheme(c.WebSocket.URL, "ws://", "wss://") {
			issues = append(issues, "websocket: url must start with ws:// or wss://")
		}
		if c.WebSocket.PoolSize < 1 {
			issues = append(issues, "websocket: pool size must be >= 1")
		}
	case SinkDiscard:
		if c.Discard.Latency < 0 {
			issues = append(issues, "discard: latency must be >= 0")
		}
	}
	return issues
}

func validateAuth(a AuthConfig) []string {
	var issues []string
	switch strings.ToLower(strings.TrimSpace(a.Method)) {
	case "", AuthNone:
	case AuthBearer:
		if strings.TrimSpace(a.Token) == "" {
			issues = append(issues, "http auth: bearer token is required")
		}
	case AuthClientCredentials, AuthPassword:
		if !hasScheme(a.TokenURL, "http://", "https://") {
			issues = append(issues, "http auth: token url must start with http:// or https://")
		}
		if strings.TrimSpace(a.ClientID) == "" {
			issues = append(issues, "http auth: client id is required")
		}
		if strings.EqualFold(strings.TrimSpace(a.Method), AuthPassword) && strings.TrimSpace(a.Username) == "" {
			issues = append(issues, "http auth: username is required for the password grant")
		}
	default:
		issues = append(issues, fmt.Sprintf("http auth: unsupported method %q (valid: none, bearer, client_credentials, password)", a.Method))
	}
	if a.RefreshBefore < 0 {
		issues = append(issues, "http auth: refresh before must be >= 0")
	}
	return issues
}

func validateTracing(t TracingConfig) []string {
	var issues []string
	if t.SampleRate < 0 || t.SampleRate > 1 {
		issues = append(issues, fmt.Sprintf("tracing: sample rate must be between 0.0 and 1.0, got %g", t.SampleRate))
	}
	switch strings.ToLower(strings.TrimSpace(t.Protocol)) {
	case "", "grpc", "http":
	default:
		issues = append(issues, fmt.Sprintf("tracing: unsupported protocol %q", t.Protocol))
	}
	return issues
}

func hasScheme(raw string, schemes ...string) bool {
	lower := strings.ToLower(strings.TrimSpace(raw))
	for _, s := range schemes {
		if strings.HasPrefix(lower, s) && len(lower) > len(s) {
			return true
		}
	}
	return false
}

// validIdentifier accepts table names that are safe to interpolate into DDL.
func validIdentifier(name string) bool {
	if name == "" || len(name) > 64 {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
