package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"frame-grabber-go/internal/config"
	"frame-grabber-go/internal/models"
)

// MQTTPublisher mirrors the NATS events onto an MQTT broker under
// <prefix>/<grabber_id>/frames and <prefix>/<grabber_id>/session.
type MQTTPublisher struct {
	client  mqtt.Client
	publish func(topic string, qos byte, payload []byte) error
	qos     byte

	frameTopic   string
	sessionTopic string

	published atomic.Uint64
	failed    atomic.Uint64
}

func NewMQTTPublisher(cfg *config.Config) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.MqttBroker)
	opts.SetClientID("frame-grabber-" + cfg.GrabberID)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(cfg.MqttConnectTimeout)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		log.Info().Str("broker", cfg.MqttBroker).Msg("MQTT connection established")
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		log.Warn().Err(err).Str("broker", cfg.MqttBroker).Msg("MQTT connection lost, will auto-reconnect")
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.MqttConnectTimeout) {
		return nil, fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}

	p := newMQTTPublisher(cfg.MqttTopicPrefix, cfg.GrabberID, byte(cfg.MqttQoS), func(topic string, qos byte, payload []byte) error {
		if !client.IsConnectionOpen() {
			return fmt.Errorf("mqtt not connected")
		}
		// fire and forget, the dispatcher and the acquisition loop must not wait on the broker
		client.Publish(topic, qos, false, payload)
		return nil
	})
	p.client = client
	return p, nil
}

func newMQTTPublisher(prefix, grabberID string, qos byte, publish func(string, byte, []byte) error) *MQTTPublisher {
	base := prefix + "/" + grabberID
	return &MQTTPublisher{
		publish:      publish,
		qos:          qos,
		frameTopic:   base + "/frames",
		sessionTopic: base + "/session",
	}
}

func (p *MQTTPublisher) send(topic string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.publish(topic, p.qos, payload)
}

func (p *MQTTPublisher) PublishFrame(event models.FrameEvent) {
	if err := p.send(p.frameTopic, event); err != nil {
		if p.failed.Add(1) == 1 {
			log.Warn().Err(err).Str("topic", p.frameTopic).Msg("Failed to publish frame event")
		}
		return
	}
	p.published.Add(1)
}

func (p *MQTTPublisher) PublishSession(event models.SessionEvent) {
	if err := p.send(p.sessionTopic, event); err != nil {
		p.failed.Add(1)
		log.Warn().Err(err).Str("topic", p.sessionTopic).Str("verb", event.Verb).Msg("Failed to publish session event")
		return
	}
	p.published.Add(1)
}

func (p *MQTTPublisher) Published() uint64 { return p.published.Load() }
func (p *MQTTPublisher) Failed() uint64    { return p.failed.Load() }

func (p *MQTTPublisher) Shutdown(ctx context.Context) error {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250) // 250ms grace period
		log.Info().Msg("MQTT disconnected")
	}
	return nil
}
