// Package events publishes service events to an MQTT broker so campus
// dashboards can follow predictions and training runs in real time.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"

	"github.com/visiongrade/gradecast/pkg/logx"
	"github.com/visiongrade/gradecast/pkg/svcerr"
)

// Config holds MQTT configuration
type Config struct {
	Broker      string `json:"broker"`
	Port        int    `json:"port"`
	ClientID    string `json:"client_id"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	TopicPrefix string `json:"topic_prefix"`
	QoS         int    `json:"qos"`
	Retain      bool   `json:"retain"`
	Enabled     bool   `json:"enabled"`
}

// DefaultConfig returns default MQTT configuration. Publishing is opt-in.
func DefaultConfig() *Config {
	return &Config{
		Broker:      "localhost",
		Port:        1883,
		ClientID:    "gradecastd",
		TopicPrefix: "gradecast",
		QoS:         1,
		Retain:      false,
		Enabled:     false,
	}
}

// Publisher sends service events to MQTT. When disabled or disconnected every
// publish is a silent no-op; event delivery is never on the request path's
// critical path.
type Publisher struct {
	client      MQTT.Client
	logger      *logx.Logger
	config      *Config
	connected   bool
	lastPublish time.Time
}

// NewPublisher creates an MQTT event publisher
func NewPublisher(config *Config, logger *logx.Logger) *Publisher {
	return &Publisher{
		logger: logger.WithComponent("events"),
		config: config,
	}
}

// Connect establishes the broker connection
func (p *Publisher) Connect() error {
	if !p.config.Enabled {
		p.logger.Debug("event publisher disabled")
		return nil
	}

	opts := MQTT.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", p.config.Broker, p.config.Port))
	opts.SetClientID(p.config.ClientID)

	if p.config.Username != "" {
		opts.SetUsername(p.config.Username)
		opts.SetPassword(p.config.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(1 * time.Minute)

	opts.SetOnConnectHandler(p.onConnect)
	opts.SetConnectionLostHandler(p.onConnectionLost)

	p.client = MQTT.NewClient(opts)

	if token := p.client.Connect(); token.Wait() && token.Error() != nil {
		return svcerr.External("connect to MQTT broker failed", map[string]interface{}{
			"broker": p.config.Broker,
			"port":   p.config.Port,
		}).WithCause(token.Error())
	}

	p.logger.Info("event publisher connected", "broker", p.config.Broker, "port", p.config.Port)
	return nil
}

// Disconnect closes the broker connection
func (p *Publisher) Disconnect() {
	if p.client != nil && p.connected {
		p.client.Disconnect(250)
		p.connected = false
		p.logger.Info("event publisher disconnected")
	}
}

func (p *Publisher) onConnect(client MQTT.Client) {
	p.connected = true
	p.logger.Info("MQTT connection established")
}

func (p *Publisher) onConnectionLost(client MQTT.Client, err error) {
	p.connected = false
	p.logger.Error("MQTT connection lost", "error", err.Error())
}

// PublishPrediction announces a served prediction
func (p *Publisher) PublishPrediction(result interface{}) error {
	if !p.config.Enabled || !p.connected {
		return nil
	}
	return p.publishJSON(fmt.Sprintf("%s/predictions", p.config.TopicPrefix), map[string]interface{}{
		"timestamp":  time.Now(),
		"prediction": result,
	})
}

// PublishTrainingResult announces a completed training run
func (p *Publisher) PublishTrainingResult(result interface{}) error {
	if !p.config.Enabled || !p.connected {
		return nil
	}
	return p.publishJSON(fmt.Sprintf("%s/training", p.config.TopicPrefix), map[string]interface{}{
		"timestamp": time.Now(),
		"training":  result,
	})
}

// PublishModelReload announces a registry reload
func (p *Publisher) PublishModelReload(info map[string]interface{}) error {
	if !p.config.Enabled || !p.connected {
		return nil
	}
	return p.publishJSON(fmt.Sprintf("%s/models", p.config.TopicPrefix), map[string]interface{}{
		"timestamp": time.Now(),
		"models":    info,
	})
}

// PublishHealth announces service health for dashboard consumption
func (p *Publisher) PublishHealth(health map[string]interface{}) error {
	if !p.config.Enabled || !p.connected {
		return nil
	}
	return p.publishJSON(fmt.Sprintf("%s/health", p.config.TopicPrefix), map[string]interface{}{
		"timestamp": time.Now(),
		"health":    health,
	})
}

func (p *Publisher) publishJSON(topic string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	token := p.client.Publish(topic, byte(p.config.QoS), p.config.Retain, data)
	if token.Wait() && token.Error() != nil {
		return svcerr.External("publish to MQTT broker failed", map[string]interface{}{
			"topic": topic,
		}).WithCause(token.Error())
	}

	p.lastPublish = time.Now()
	return nil
}
