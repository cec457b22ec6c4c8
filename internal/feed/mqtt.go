package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/KarunTCD/loga-botb/internal/fusion"
)

// MQTTConfig covers both the sensor subscriber and the estimate publisher.
type MQTTConfig struct {
	Broker      string
	ClientID    string
	TopicPrefix string
}

const defaultTopicPrefix = "loga"

func (c MQTTConfig) prefix() string {
	p := strings.Trim(strings.TrimSpace(c.TopicPrefix), "/")
	if p == "" {
		p = defaultTopicPrefix
	}
	return p
}

// MQTT subscribes to the device's sensor topics and feeds a Mailbox.
// Estimates can optionally be mirrored back out via Publish.
type MQTT struct {
	cfg    MQTTConfig
	box    *Mailbox
	client mqtt.Client
}

func NewMQTT(cfg MQTTConfig, box *Mailbox) *MQTT {
	return &MQTT{cfg: cfg, box: box}
}

// Start connects and subscribes. Paho reconnects on its own; subscriptions
// are re-established from the OnConnect hook so a broker restart does not
// silence the feed.
func (m *MQTT) Start(ctx context.Context) error {
	if m == nil {
		return fmt.Errorf("feed: mqtt is nil")
	}
	if strings.TrimSpace(m.cfg.Broker) == "" {
		return fmt.Errorf("feed: mqtt broker is empty")
	}

	clientID := strings.TrimSpace(m.cfg.ClientID)
	if clientID == "" {
		clientID = "loga-botb"
	}

	opts := mqtt.NewClientOptions().
		AddBroker(m.cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(2 * time.Second).
		SetOnConnectHandler(func(c mqtt.Client) {
			m.subscribe(c)
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Printf("feed: mqtt connection lost: %v", err)
		})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("feed: mqtt connect %s: %w", m.cfg.Broker, token.Error())
	}
	m.client = client
	log.Printf("feed: mqtt connected broker=%s prefix=%s", m.cfg.Broker, m.cfg.prefix())

	go func() {
		<-ctx.Done()
		client.Disconnect(250)
	}()
	return nil
}

func (m *MQTT) subscribe(c mqtt.Client) {
	for _, kind := range []string{KindAccel, KindGyro, KindCompass, KindFix} {
		topic := m.cfg.prefix() + "/sensor/" + kind
		kind := kind
		token := c.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
			m.handle(kind, msg.Payload())
		})
		if token.Wait() && token.Error() != nil {
			log.Printf("feed: mqtt subscribe %s: %v", topic, token.Error())
		}
	}
}

func (m *MQTT) handle(kind string, payload []byte) {
	s, err := DecodeSample(payload)
	if err != nil {
		log.Printf("feed: mqtt bad %s sample: %v", kind, err)
		return
	}
	if s.Type != kind {
		log.Printf("feed: mqtt %s topic carried %q sample, dropped", kind, s.Type)
		return
	}
	if err := m.box.Offer(time.Now().UTC(), s); err != nil {
		log.Printf("feed: mqtt offer: %v", err)
	}
}

// Publish mirrors one estimate to the position and heading topics.
// Best effort: publish failures are logged, not returned, so a flaky
// broker cannot stall the tick loop.
func (m *MQTT) Publish(est fusion.Estimate) {
	if m == nil || m.client == nil {
		return
	}
	if est.PositionOK {
		m.publishJSON(m.cfg.prefix()+"/estimate/position", est.Position)
	}
	if est.HeadingOK {
		m.publishJSON(m.cfg.prefix()+"/estimate/heading", est.Heading)
	}
}

func (m *MQTT) publishJSON(topic string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("feed: mqtt marshal %s: %v", topic, err)
		return
	}
	m.client.Publish(topic, 0, false, data)
}
