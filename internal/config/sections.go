package config

import (
	"fmt"
	"strings"
)

func applyKafkaSettings(k *KafkaConfig, settings map[string]interface{}) error {
	if raw, ok := lookupSetting(settings, "brokers", "bootstrap_servers", "bootstrap-servers"); ok {
		val, err := asStringSlice(raw)
		if err != nil {
			return fmt.Errorf("brokers: %w", err)
		}
		k.Brokers = strings.Join(val, ",")
	}
	if raw, ok := lookupSetting(settings, "topic"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("topic: %w", err)
		}
		k.Topic = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "clientid", "client_id", "client-id"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("client_id: %w", err)
		}
		k.ClientID = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "partitions"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("partitions: %w", err)
		}
		k.Partitions = val
	}
	if raw, ok := lookupSetting(settings, "replicationfactor", "replication_factor", "replication-factor"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("replication_factor: %w", err)
		}
		k.ReplicationFactor = val
	}
	if raw, ok := lookupSetting(settings, "createtopic", "create_topic", "create-topic"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("create_topic: %w", err)
		}
		k.CreateTopic = val
	}
	if raw, ok := lookupSetting(settings, "acks"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("acks: %w", err)
		}
		k.Acks = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "flushtimeout", "flush_timeout", "flush-timeout"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("flush_timeout: %w", err)
		}
		k.FlushTimeout = dur
	}
	if raw, ok := lookupSetting(settings, "enablelogs", "enable_logs", "enable-logs"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("enable_logs: %w", err)
		}
		k.EnableLogs = val
	}
	return nil
}

func applyClickHouseSettings(c *ClickHouseConfig, settings map[string]interface{}) error {
	if raw, ok := lookupSetting(settings, "addresses", "address", "addr"); ok {
		val, err := asStringSlice(raw)
		if err != nil {
			return fmt.Errorf("addresses: %w", err)
		}
		c.Addresses = val
	}
	if raw, ok := lookupSetting(settings, "database"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		c.Database = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "username"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("username: %w", err)
		}
		c.Username = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "password"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("password: %w", err)
		}
		c.Password = val
	}
	if raw, ok := lookupSetting(settings, "table"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("table: %w", err)
		}
		c.Table = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "dialtimeout", "dial_timeout", "dial-timeout"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("dial_timeout: %w", err)
		}
		c.DialTimeout = dur
	}
	if raw, ok := lookupSetting(settings, "maxopenconns", "max_open_conns", "max-open-conns"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("max_open_conns: %w", err)
		}
		c.MaxOpenConns = val
	}
	if raw, ok := lookupSetting(settings, "debug"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("debug: %w", err)
		}
		c.Debug = val
	}
	return nil
}

func applySQLiteSettings(s *SQLiteConfig, settings map[string]interface{}) error {
	if raw, ok := lookupSetting(settings, "path", "dsn"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("path: %w", err)
		}
		s.Path = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "table"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("table: %w", err)
		}
		s.Table = strings.TrimSpace(val)
	}
	return nil
}

func applyHTTPSinkSettings(h *HTTPSinkConfig, settings map[string]interface{}) error {
	if raw, ok := lookupSetting(settings, "url"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("url: %w", err)
		}
		h.URL = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "method"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("method: %w", err)
		}
		if val != "" {
			h.Method = val
		}
	}
	if raw, ok := lookupSetting(settings, "headers"); ok {
		hdrs, err := asStringMap(raw)
		if err != nil {
			return fmt.Errorf("headers: %w", err)
		}
		h.Headers = hdrs
	}
	if raw, ok := lookupSetting(settings, "ackpath", "ack_path", "ack-path"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("ack_path: %w", err)
		}
		h.AckPath = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "probemethod", "probe_method", "probe-method"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("probe_method: %w", err)
		}
		h.ProbeMethod = strings.ToUpper(strings.TrimSpace(val))
	}
	if raw, ok := lookupSetting(settings, "timeout"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("timeout: %w", err)
		}
		h.Timeout = dur
	}
	if raw, ok := lookupSetting(settings, "auth"); ok && raw != nil {
		entry, err := toStringKeyMap(raw)
		if err != nil {
			return fmt.Errorf("auth: %w", err)
		}
		if err := applyAuthSettings(&h.Auth, entry); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}
	return nil
}

func applyAuthSettings(a *AuthConfig, settings map[string]interface{}) error {
	fields := []struct {
		name string
		dst  *string
	}{
		{"method", &a.Method},
		{"token", &a.Token},
		{"token_url", &a.TokenURL},
		{"client_id", &a.ClientID},
		{"client_secret", &a.ClientSecret},
		{"username", &a.Username},
		{"password", &a.Password},
	}
	for _, f := range fields {
		raw, ok := lookupSetting(settings, f.name, strings.ReplaceAll(f.name, "_", ""), strings.ReplaceAll(f.name, "_", "-"))
		if !ok {
			continue
		}
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
		*f.dst = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "scopes", "scope"); ok {
		val, err := asStringSlice(raw)
		if err != nil {
			return fmt.Errorf("scopes: %w", err)
		}
		a.Scopes = val
	}
	if raw, ok := lookupSetting(settings, "refreshbefore", "refresh_before", "refresh-before"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("refresh_before: %w", err)
		}
		a.RefreshBefore = dur
	}
	return nil
}

func applyWebSocketSettings(w *WebSocketConfig, settings map[string]interface{}) error {
	if raw, ok := lookupSetting(settings, "url"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("url: %w", err)
		}
		w.URL = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "headers"); ok {
		hdrs, err := asStringMap(raw)
		if err != nil {
			return fmt.Errorf("headers: %w", err)
		}
		w.Headers = hdrs
	}
	if raw, ok := lookupSetting(settings, "handshaketimeout", "handshake_timeout", "handshake-timeout"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("handshake_timeout: %w", err)
		}
		w.HandshakeTimeout = dur
	}
	if raw, ok := lookupSetting(settings, "writetimeout", "write_timeout", "write-timeout"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("write_timeout: %w", err)
		}
		w.WriteTimeout = dur
	}
	if raw, ok := lookupSetting(settings, "poolsize", "pool_size", "pool-size"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("pool_size: %w", err)
		}
		w.PoolSize = val
	}
	return nil
}

func applyDiscardSettings(d *DiscardConfig, settings map[string]interface{}) error {
	if raw, ok := lookupSetting(settings, "latency"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("latency: %w", err)
		}
		d.Latency = dur
	}
	return nil
}

func applyTracingSettings(t *TracingConfig, settings map[string]interface{}) error {
	if raw, ok := lookupSetting(settings, "endpoint"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("endpoint: %w", err)
		}
		t.Endpoint = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "protocol"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("protocol: %w", err)
		}
		t.Protocol = strings.ToLower(strings.TrimSpace(val))
	}
	if raw, ok := lookupSetting(settings, "servicename", "service_name", "service-name"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("service_name: %w", err)
		}
		t.ServiceName = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "samplerate", "sample_rate", "sample-rate"); ok {
		val, err := asFloat64(raw)
		if err != nil {
			return fmt.Errorf("sample_rate: %w", err)
		}
		t.SampleRate = val
	}
	if raw, ok := lookupSetting(settings, "insecure"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("insecure: %w", err)
		}
		t.Insecure = val
	}
	return nil
}
