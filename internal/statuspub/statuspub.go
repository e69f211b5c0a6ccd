// Package statuspub mirrors the snapshot stream to an MQTT broker so plant
// dashboards can watch the gateway without holding the single JSON slot.
package statuspub

import (
	"context"
	"encoding/json"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fieldgate/fieldgate/internal/telemetry"
)

const publishWait = time.Second

// Config selects the broker and topic. An empty Broker disables the
// publisher entirely.
type Config struct {
	Broker   string // e.g. tcp://mq.plant.local:1883
	ClientID string
	Username string
	Password string
	Topic    string
	QoS      int
}

func (c Config) withDefaults() Config {
	if c.ClientID == "" {
		c.ClientID = "fieldgate"
	}
	if c.Topic == "" {
		c.Topic = "fieldgate/status"
	}
	if c.QoS < 0 || c.QoS > 2 {
		c.QoS = 0
	}
	return c
}

// Publisher forwards every published snapshot as a status JSON object.
// Delivery is best effort: when the broker is away the snapshot is skipped,
// the paho client reconnects on its own.
type Publisher struct {
	cli   mqtt.Client
	bus   *telemetry.Bus
	topic string
	qos   byte
	log   *zap.SugaredLogger
}

// NewPublisher builds the MQTT client. Nothing is dialed until Run.
func NewPublisher(cfg Config, bus *telemetry.Bus, log *zap.SugaredLogger) *Publisher {
	cfg = cfg.withDefaults()
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	// Random suffix keeps restarted processes from kicking each other off
	// the broker session.
	opts.SetClientID(cfg.ClientID + "-" + uuid.NewString()[:8])
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetOrderMatters(false)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Infof("MQTT broker connected, publishing to %v", cfg.Topic)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warnf("MQTT broker connection lost: %v", err)
	})
	return &Publisher{
		cli:   mqtt.NewClient(opts),
		bus:   bus,
		topic: cfg.Topic,
		qos:   byte(cfg.QoS),
		log:   log,
	}
}

// Run connects and forwards snapshots until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) {
	p.cli.Connect()
	defer p.cli.Disconnect(250)
	snaps, cancel := p.bus.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snaps:
			if !ok {
				return
			}
			p.publish(snap)
		}
	}
}

func (p *Publisher) publish(snap telemetry.Snapshot) {
	if !p.cli.IsConnectionOpen() {
		return
	}
	payload, err := json.Marshal(telemetry.NewStatus(snap))
	if err != nil {
		p.log.Warnf("Status marshal failed: %v", err)
		return
	}
	token := p.cli.Publish(p.topic, p.qos, false, payload)
	if token.WaitTimeout(publishWait) && token.Error() != nil {
		p.log.Debugf("MQTT publish failed: %v", token.Error())
	}
}
