// Package store opens the remote store selected by configuration.
package store

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/LeonardoBeccarini/sensorlink/internal/config"
	"github.com/LeonardoBeccarini/sensorlink/internal/metrics"
	"github.com/LeonardoBeccarini/sensorlink/internal/sensor"
	"github.com/LeonardoBeccarini/sensorlink/pkg/rabbitmq"
	"github.com/LeonardoBeccarini/sensorlink/pkg/rtdb"
)

// Open returns the store for cfg.Store.Driver and a connectivity probe (nil
// when the driver has no notion of a connection). The MQTT connection is
// closed when ctx ends.
func Open(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (sensor.Store, func() bool, error) {
	switch cfg.Store.Driver {
	case config.DriverRTDB:
		c, err := rtdb.NewClient(cfg.RTDB.URL,
			rtdb.WithHTTPTimeout(cfg.RTDB.Timeout),
			rtdb.WithReconnect(cfg.RTDB.ReconnectMax),
			rtdb.WithReconnectNotify(func(string, error, time.Duration) {
				m.StoreReconnect()
			}),
		)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("store: using realtime database %s", cfg.RTDB.URL)
		return c, nil, nil

	case config.DriverMQTT:
		client, err := rabbitmq.NewRabbitMQConn(&rabbitmq.RabbitMQConfig{
			Host:     cfg.MQTT.Host,
			Port:     cfg.MQTT.Port,
			User:     cfg.MQTT.User,
			Password: cfg.MQTT.Password,
			ClientID: cfg.MQTT.ClientID,
		}, ctx)
		if err != nil {
			return nil, nil, err
		}
		s := rabbitmq.NewStore(client)
		return s, s.Connected, nil

	default:
		return nil, nil, fmt.Errorf("store: unknown driver %q", cfg.Store.Driver)
	}
}
