package source

import (
	"context"
	"errors"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"pushbridge/internal/event"
	logx "pushbridge/pkg/logx"
)

// MQTTConfig controls the broker subscription.
type MQTTConfig struct {
	BrokerURL string
	ClientID  string // default "pushbridge"
	Topic     string
	QoS       byte
	Username  string
	Password  string
}

// MQTT subscribes to one topic and forwards each message as an event.
// The paho client reconnects on its own; Run only supervises the session.
type MQTT struct {
	cfg  MQTTConfig
	sink Sink
	log  logx.Logger
}

func NewMQTT(cfg MQTTConfig, sink Sink, log logx.Logger) (*MQTT, error) {
	if strings.TrimSpace(cfg.BrokerURL) == "" {
		return nil, errors.New("mqtt broker_url is required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("mqtt topic is required")
	}
	if strings.TrimSpace(cfg.ClientID) == "" {
		cfg.ClientID = "pushbridge"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &MQTT{cfg: cfg, sink: sink, log: log}, nil
}

func (m *MQTT) Run(ctx context.Context) error {
	handle := func(_ mqtt.Client, msg mqtt.Message) {
		ev := event.New("mqtt", payloadFromBytes(msg.Payload()))
		ev.Payload["topic"] = msg.Topic()
		m.sink.Enqueue(ev)
	}

	opts := mqtt.NewClientOptions().
		AddBroker(m.cfg.BrokerURL).
		SetClientID(m.cfg.ClientID).
		SetOrderMatters(false).
		SetCleanSession(false).
		SetKeepAlive(30 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)

	if m.cfg.Username != "" {
		opts.SetUsername(m.cfg.Username)
	}
	if m.cfg.Password != "" {
		opts.SetPassword(m.cfg.Password)
	}

	// Resubscribe on every (re)connect; paho does not keep subscriptions
	// across clean reconnects on all brokers.
	opts.OnConnect = func(c mqtt.Client) {
		m.log.Info("mqtt connected", logx.String("broker", m.cfg.BrokerURL))
		if token := c.Subscribe(m.cfg.Topic, m.cfg.QoS, handle); token.Wait() && token.Error() != nil {
			m.log.Error("mqtt subscribe failed",
				logx.String("topic", m.cfg.Topic),
				logx.Err(token.Error()),
			)
		} else {
			m.log.Info("mqtt subscribed",
				logx.String("topic", m.cfg.Topic),
				logx.Int("qos", int(m.cfg.QoS)),
			)
		}
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		m.log.Warn("mqtt connection lost", logx.Err(err))
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	defer client.Disconnect(250)

	<-ctx.Done()
	return nil
}
