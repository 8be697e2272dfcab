package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.Driver != DriverRTDB {
		t.Fatalf("expected rtdb driver by default, got %q", cfg.Store.Driver)
	}
	if cfg.HTTP.Addr() != ":8080" || cfg.GRPC.Addr() != ":50051" {
		t.Fatalf("unexpected listen addresses %s %s", cfg.HTTP.Addr(), cfg.GRPC.Addr())
	}
	if cfg.Write.Timeout != 5*time.Second || cfg.Breaker.Failures != 5 {
		t.Fatalf("unexpected write defaults %+v %+v", cfg.Write, cfg.Breaker)
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation to require rtdb.url")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SENSORLINK_STORE_DRIVER", "MQTT")
	t.Setenv("SENSORLINK_MQTT_HOST", "broker.local")
	t.Setenv("SENSORLINK_MQTT_PORT", "8883")
	t.Setenv("SENSORLINK_WRITE_TIMEOUT", "750ms")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.Driver != DriverMQTT || cfg.MQTT.Host != "broker.local" || cfg.MQTT.Port != 8883 {
		t.Fatalf("env overrides not applied: %+v %+v", cfg.Store, cfg.MQTT)
	}
	if cfg.Write.Timeout != 750*time.Millisecond {
		t.Fatalf("expected 750ms write timeout, got %s", cfg.Write.Timeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "sensorlink.yaml")
	yaml := strings.Join([]string{
		"rtdb:",
		"  url: https://demo.firebaseio.com",
		"  reconnect_max: 2m",
		"influx:",
		"  bucket: sensors",
		"breaker:",
		"  failures: 2",
	}, "\n")
	if err := os.WriteFile(file, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RTDB.URL != "https://demo.firebaseio.com" || cfg.RTDB.ReconnectMax != 2*time.Minute {
		t.Fatalf("unexpected rtdb config %+v", cfg.RTDB)
	}
	if cfg.Influx.Bucket != "sensors" || cfg.Influx.Measurement != "sensor_snapshot" {
		t.Fatalf("unexpected influx config %+v", cfg.Influx)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for a missing explicit file")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		cfg.RTDB.URL = "https://demo.firebaseio.com"
		return cfg
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.Store.Driver = "redis" }},
		{"mqtt without host", func(c *Config) { c.Store.Driver = DriverMQTT; c.MQTT.Host = "" }},
		{"bad http port", func(c *Config) { c.HTTP.Port = 0 }},
		{"bad grpc port", func(c *Config) { c.GRPC.Port = 70000 }},
		{"zero breaker failures", func(c *Config) { c.Breaker.Failures = 0 }},
		{"zero simulator interval", func(c *Config) { c.Simulator.Interval = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
	if err := base().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}
