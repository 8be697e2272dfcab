// Package config loads sensorlink settings from an optional YAML file and
// SENSORLINK_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DriverRTDB = "rtdb"
	DriverMQTT = "mqtt"
)

type Config struct {
	Store      StoreConfig      `mapstructure:"store"`
	RTDB       RTDBConfig       `mapstructure:"rtdb"`
	MQTT       MQTTConfig       `mapstructure:"mqtt"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	GRPC       GRPCConfig       `mapstructure:"grpc"`
	Influx     InfluxConfig     `mapstructure:"influx"`
	Breaker    BreakerConfig    `mapstructure:"breaker"`
	Write      WriteConfig      `mapstructure:"write"`
	Simulator  SimulatorConfig  `mapstructure:"simulator"`
	Aggregator AggregatorConfig `mapstructure:"aggregator"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver"`
}

type RTDBConfig struct {
	URL          string        `mapstructure:"url"`
	Timeout      time.Duration `mapstructure:"timeout"`
	ReconnectMax time.Duration `mapstructure:"reconnect_max"`
}

type MQTTConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	ClientID string `mapstructure:"client_id"`
}

type HTTPConfig struct {
	Port int `mapstructure:"port"`
}

func (h HTTPConfig) Addr() string { return fmt.Sprintf(":%d", h.Port) }

type GRPCConfig struct {
	Port int `mapstructure:"port"`
}

func (g GRPCConfig) Addr() string { return fmt.Sprintf(":%d", g.Port) }

type InfluxConfig struct {
	URL           string        `mapstructure:"url"`
	Token         string        `mapstructure:"token"`
	Org           string        `mapstructure:"org"`
	Bucket        string        `mapstructure:"bucket"`
	Measurement   string        `mapstructure:"measurement"`
	BatchSize     uint          `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

type BreakerConfig struct {
	Failures int           `mapstructure:"failures"`
	OpenFor  time.Duration `mapstructure:"open_for"`
	Interval time.Duration `mapstructure:"interval"`
}

type WriteConfig struct {
	Timeout        time.Duration `mapstructure:"timeout"`
	IdempotencyTTL time.Duration `mapstructure:"idempotency_ttl"`
}

type SimulatorConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Seed     int64         `mapstructure:"seed"`
}

// AggregatorConfig sets the snapshot window length; zero disables windows.
type AggregatorConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", DriverRTDB)

	v.SetDefault("rtdb.url", "")
	v.SetDefault("rtdb.timeout", 10*time.Second)
	v.SetDefault("rtdb.reconnect_max", time.Duration(0))

	v.SetDefault("mqtt.host", "localhost")
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.user", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.client_id", "")

	v.SetDefault("http.port", 8080)
	v.SetDefault("grpc.port", 50051)

	v.SetDefault("influx.url", "")
	v.SetDefault("influx.token", "")
	v.SetDefault("influx.org", "")
	v.SetDefault("influx.bucket", "")
	v.SetDefault("influx.measurement", "sensor_snapshot")
	v.SetDefault("influx.batch_size", 50)
	v.SetDefault("influx.flush_interval", time.Second)

	v.SetDefault("breaker.failures", 5)
	v.SetDefault("breaker.open_for", 10*time.Second)
	v.SetDefault("breaker.interval", time.Duration(0))

	v.SetDefault("write.timeout", 5*time.Second)
	v.SetDefault("write.idempotency_ttl", 10*time.Minute)

	v.SetDefault("simulator.interval", 2*time.Second)
	v.SetDefault("simulator.seed", int64(0))

	v.SetDefault("aggregator.interval", time.Minute)
}

// Load reads file (or sensorlink.yaml from /etc/sensorlink or the working
// directory when file is empty), then applies SENSORLINK_* overrides such as
// SENSORLINK_RTDB_URL. A missing default file is not an error.
func Load(file string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SENSORLINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("sensorlink")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/sensorlink")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
	return &cfg, nil
}

// Validate checks the settings the selected store driver needs.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverRTDB:
		if strings.TrimSpace(c.RTDB.URL) == "" {
			return errors.New("config: rtdb.url is required for the rtdb driver")
		}
	case DriverMQTT:
		if strings.TrimSpace(c.MQTT.Host) == "" {
			return errors.New("config: mqtt.host is required for the mqtt driver")
		}
		if err := checkPort("mqtt.port", c.MQTT.Port); err != nil {
			return err
		}
	default:
		return fmt.Errorf("config: unknown store.driver %q", c.Store.Driver)
	}
	if err := checkPort("http.port", c.HTTP.Port); err != nil {
		return err
	}
	if err := checkPort("grpc.port", c.GRPC.Port); err != nil {
		return err
	}
	if c.Breaker.Failures < 1 {
		return errors.New("config: breaker.failures must be at least 1")
	}
	if c.Simulator.Interval <= 0 {
		return errors.New("config: simulator.interval must be positive")
	}
	return nil
}

func checkPort(key string, p int) error {
	if p < 1 || p > 65535 {
		return fmt.Errorf("config: %s out of range: %d", key, p)
	}
	return nil
}
