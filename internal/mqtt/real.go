package mqtt

import (
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

const (
	bufferCapacity = 256
	publishTimeout = 5 * time.Second
	connectTimeout = 10 * time.Second
)

// Options configures a RealPublisher.
type Options struct {
	Broker   string
	ClientID string
	Topic    string // base topic; state and system topics hang below it
	Username string
	Password string
}

// client is the part of paho.Client the publisher uses.
type client interface {
	IsConnectionOpen() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

// RealPublisher publishes to an actual MQTT broker. Messages produced while
// the connection is down are kept in a ring buffer and replayed in order
// once it is back.
type RealPublisher struct {
	client      client
	stateTopic  string
	alarmTopic  string
	systemTopic string
	now         func() time.Time

	mu  sync.Mutex
	buf *ringBuffer
}

// NewRealPublisher creates a publisher for the given broker. An unreachable
// broker is not an error: paho keeps retrying and messages are buffered.
func NewRealPublisher(o Options) (*RealPublisher, error) {
	if o.Broker == "" {
		return nil, fmt.Errorf("mqtt broker is empty")
	}
	p := newPublisher(nil, o.Topic)

	will, err := FormatSystemPayload(SystemEvent{
		Timestamp: time.Now(),
		Event:     "SHUTDOWN",
		Reason:    "MQTT_DISCONNECT",
	})
	if err != nil {
		return nil, fmt.Errorf("format will payload: %w", err)
	}

	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetUsername(o.Username).
		SetPassword(o.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetBinaryWill(p.systemTopic, will, 1, true).
		SetOnConnectHandler(func(paho.Client) { p.onConnect() }).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Printf("mqtt: connection lost: %v", err)
		})

	c := paho.NewClient(opts)
	p.client = c
	token := c.Connect()
	if !token.WaitTimeout(connectTimeout) {
		log.Printf("mqtt: broker %s not reachable yet, buffering until connected", o.Broker)
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return p, nil
}

func newPublisher(c client, base string) *RealPublisher {
	return &RealPublisher{
		client:      c,
		stateTopic:  StateTopic(base),
		alarmTopic:  AlarmTopic(base),
		systemTopic: SystemTopic(base),
		now:         time.Now,
		buf:         newRingBuffer(bufferCapacity),
	}
}

// PublishState sends a battery state. QoS 0, not retained.
func (p *RealPublisher) PublishState(event StateEvent) error {
	payload, err := FormatStatePayload(event)
	if err != nil {
		return fmt.Errorf("format state payload: %w", err)
	}
	return p.send(bufferedMsg{topic: p.stateTopic, payload: payload})
}

// PublishAlarm sends a protection transition. QoS 1, not retained.
func (p *RealPublisher) PublishAlarm(event AlarmEvent) error {
	payload, err := FormatAlarmPayload(event)
	if err != nil {
		return fmt.Errorf("format alarm payload: %w", err)
	}
	return p.send(bufferedMsg{topic: p.alarmTopic, payload: payload, qos: 1})
}

// PublishSystem sends a system lifecycle event. QoS 1 so shutdown events
// are delivered.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.send(bufferedMsg{topic: p.systemTopic, payload: payload, qos: 1, retained: event.Retained})
}

// send publishes msg or buffers it while disconnected. A buffered message
// is not an error.
func (p *RealPublisher) send(msg bufferedMsg) error {
	if !p.client.IsConnectionOpen() {
		p.mu.Lock()
		p.buf.push(msg)
		p.mu.Unlock()
		return nil
	}
	return p.publish(msg)
}

func (p *RealPublisher) publish(msg bufferedMsg) error {
	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timeout", msg.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", msg.topic, err)
	}
	return nil
}

// onConnect replays buffered messages and announces the reconnection.
func (p *RealPublisher) onConnect() {
	p.mu.Lock()
	pending, dropped := p.buf.drainAll()
	p.mu.Unlock()

	if len(pending) > 0 {
		log.Printf("mqtt: connected, replaying %d buffered messages (%d dropped)", len(pending), dropped)
	}
	// replay from a goroutine: paho handlers must not block on publish
	go func() {
		for _, msg := range pending {
			if err := p.publish(msg); err != nil {
				log.Printf("mqtt: replay failed: %v", err)
			}
		}
		if err := p.PublishSystem(SystemEvent{Timestamp: p.now(), Event: "RECONNECTED"}); err != nil {
			log.Printf("mqtt: reconnect event failed: %v", err)
		}
	}()
}

// Buffered reports how many messages wait for the connection.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.len()
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
