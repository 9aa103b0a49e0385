package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	appsession "glass-server-go/internal/app/session"
	"glass-server-go/internal/platform/config"
	"glass-server-go/internal/platform/logging"
	"glass-server-go/internal/platform/observability"
)

const publishTimeout = 2 * time.Second

// NewClient builds a paho client for cfg with automatic reconnects.
func NewClient(cfg config.MQTTConfig, logger *logging.Logger) paho.Client {
	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	// Notifications of one device must be handled in delivery order.
	opts.SetOrderMatters(true)

	opts.OnConnect = func(paho.Client) {
		logger.InfoTag("MQTT", "connected to %s as %s", cfg.Broker, cfg.ClientID)
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		logger.WarnTag("MQTT", "connection lost, reconnecting: %v", err)
	}
	return paho.NewClient(opts)
}

// Bridge subscribes to device topics and maps each device to a session
// link.
type Bridge struct {
	client paho.Client
	cfg    config.MQTTConfig
	app    *appsession.Session
	logger *logging.Logger

	mu      sync.Mutex
	devices map[string]*Device
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewBridge(client paho.Client, cfg config.MQTTConfig, app *appsession.Session, logger *logging.Logger) *Bridge {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "glass"
	}
	if cfg.DeviceID == "" {
		cfg.DeviceID = "+"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		client:  client,
		cfg:     cfg,
		app:     app,
		logger:  logger,
		devices: make(map[string]*Device),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start connects, subscribes and blocks until ctx is done.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.Connect(); err != nil {
		return err
	}
	<-ctx.Done()
	b.Stop()
	return nil
}

// Connect connects the client if needed and subscribes to device topics.
func (b *Bridge) Connect() error {
	if !b.client.IsConnected() {
		token := b.client.Connect()
		if !token.WaitTimeout(b.cfg.ConnectTimeout) {
			return fmt.Errorf("mqtt connection timeout")
		}
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt connection failed: %w", err)
		}
	}

	filters := map[string]byte{
		Topic(b.cfg.TopicPrefix, b.cfg.DeviceID, LeafPhoto):  b.qos(),
		Topic(b.cfg.TopicPrefix, b.cfg.DeviceID, LeafStatus): b.qos(),
		Topic(b.cfg.TopicPrefix, b.cfg.DeviceID, LeafAsk):    b.qos(),
	}
	token := b.client.SubscribeMultiple(filters, b.handleMessage)
	if !token.WaitTimeout(b.cfg.ConnectTimeout) {
		return fmt.Errorf("mqtt subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt subscription failed: %w", err)
	}
	b.logger.InfoTag("MQTT", "subscribed to %s/%s/{photo,status,ask}", b.cfg.TopicPrefix, b.cfg.DeviceID)
	return nil
}

// Stop closes every device link and disconnects.
func (b *Bridge) Stop() {
	b.cancel()
	b.mu.Lock()
	devices := b.devices
	b.devices = make(map[string]*Device)
	b.mu.Unlock()
	for _, d := range devices {
		d.link.Close()
	}
	b.wg.Wait()
	if b.client.IsConnected() {
		b.client.Disconnect(250)
	}
}

func (b *Bridge) qos() byte {
	if b.cfg.QoS < 0 || b.cfg.QoS > 2 {
		return 1
	}
	return byte(b.cfg.QoS)
}

func (b *Bridge) handleMessage(_ paho.Client, msg paho.Message) {
	deviceID, leaf, ok := ParseTopic(b.cfg.TopicPrefix, msg.Topic())
	if !ok {
		b.logger.DebugTag("MQTT", "ignoring message on %s", msg.Topic())
		return
	}
	observability.RecordMetric(b.ctx, "mqtt.messages", 1, map[string]string{"leaf": leaf})

	switch leaf {
	case LeafPhoto:
		b.device(deviceID).link.OnPacket(msg.Payload())
	case LeafStatus:
		switch string(msg.Payload()) {
		case "online":
			b.device(deviceID)
		case "offline":
			b.drop(deviceID)
		}
	case LeafAsk:
		question := string(msg.Payload())
		if question == "" {
			return
		}
		d := b.device(deviceID)
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			answer, accepted := b.app.Ask(b.ctx, question)
			if !accepted || answer == "" {
				return
			}
			if err := d.publish(LeafAnswer, []byte(answer)); err != nil {
				b.logger.WarnTag("MQTT", "publishing answer to %s failed: %v", deviceID, err)
			}
		}()
	}
}

// device returns the link for id, connecting it on first use.
func (b *Bridge) device(id string) *Device {
	b.mu.Lock()
	defer b.mu.Unlock()
	if d, ok := b.devices[id]; ok {
		return d
	}
	d := &Device{id: id, bridge: b}
	d.link = b.app.Connect(d, "mqtt")
	b.devices[id] = d
	return d
}

func (b *Bridge) drop(id string) {
	b.mu.Lock()
	d, ok := b.devices[id]
	delete(b.devices, id)
	b.mu.Unlock()
	if ok {
		d.link.Close()
	}
}

// Devices returns the IDs of devices with an open link.
func (b *Bridge) Devices() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.devices))
	for id := range b.devices {
		out = append(out, id)
	}
	return out
}
