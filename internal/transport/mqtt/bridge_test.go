package mqtt

import (
	"context"
	"image/color"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appsession "glass-server-go/internal/app/session"
	"glass-server-go/internal/contracts/providers"
	"glass-server-go/internal/platform/config"
	testutil "glass-server-go/internal/platform/testing"
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                   { return t.err }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type message struct {
	topic   string
	payload []byte
}

func (m message) Duplicate() bool   { return false }
func (m message) Qos() byte         { return 1 }
func (m message) Retained() bool    { return false }
func (m message) Topic() string     { return m.topic }
func (m message) MessageID() uint16 { return 0 }
func (m message) Payload() []byte   { return m.payload }
func (m message) Ack()              {}

// fakeClient records publications and lets tests inject messages.
type fakeClient struct {
	paho.Client

	mu        sync.Mutex
	connected bool
	filters   map[string]byte
	handler   paho.MessageHandler
	published []message
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) Connect() paho.Token {
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return doneToken{}
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

func (c *fakeClient) SubscribeMultiple(filters map[string]byte, cb paho.MessageHandler) paho.Token {
	c.mu.Lock()
	c.filters = filters
	c.handler = cb
	c.mu.Unlock()
	return doneToken{}
}

func (c *fakeClient) Publish(topic string, _ byte, _ bool, payload interface{}) paho.Token {
	c.mu.Lock()
	c.published = append(c.published, message{topic: topic, payload: payload.([]byte)})
	c.mu.Unlock()
	return doneToken{}
}

func (c *fakeClient) deliver(topic string, payload []byte) {
	c.handler(c, message{topic: topic, payload: payload})
}

func (c *fakeClient) publishedOn(topic string) [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out [][]byte
	for _, m := range c.published {
		if m.topic == topic {
			out = append(out, m.payload)
		}
	}
	return out
}

type stubVision struct{}

func (stubVision) Name() string  { return "stub" }
func (stubVision) Close() error  { return nil }
func (stubVision) Model() string { return "stub" }
func (stubVision) Describe(context.Context, providers.ImageInput) (string, error) {
	return "a hallway", nil
}

type stubReasoner struct{}

func (stubReasoner) Name() string { return "stub" }
func (stubReasoner) Close() error { return nil }
func (stubReasoner) Answer(_ context.Context, q, _ string) (string, error) {
	return "re: " + q, nil
}

func newBridge(t *testing.T) (*Bridge, *fakeClient, *appsession.Session) {
	t.Helper()
	cfg := testutil.SetupTestConfig(t)
	cfg.Agent.ResyncDebounce = 0
	logger := testutil.SetupTestLogger(t)
	app, err := appsession.New(appsession.Options{
		Config: cfg, Logger: logger, Vision: stubVision{}, Reasoning: stubReasoner{},
	})
	require.NoError(t, err)

	client := &fakeClient{}
	b := NewBridge(client, config.MQTTConfig{TopicPrefix: "glass", QoS: 1}, app, logger)
	require.NoError(t, b.Connect())
	t.Cleanup(func() {
		b.Stop()
		_ = app.Close()
	})
	return b, client, app
}

func TestParseTopic(t *testing.T) {
	tests := []struct {
		topic, device, leaf string
		ok                  bool
	}{
		{"glass/dev1/photo", "dev1", "photo", true},
		{"glass/dev1/status", "dev1", "status", true},
		{"other/dev1/photo", "", "", false},
		{"glass/dev1", "", "", false},
		{"glass/dev1/a/b", "", "", false},
		{"glass//photo", "", "", false},
	}
	for _, tt := range tests {
		device, leaf, ok := ParseTopic("glass", tt.topic)
		assert.Equal(t, tt.ok, ok, tt.topic)
		assert.Equal(t, tt.device, device, tt.topic)
		assert.Equal(t, tt.leaf, leaf, tt.topic)
	}
	assert.Equal(t, "glass/dev1/capture", Topic("glass/", "dev1", LeafCapture))
}

func TestConnectSubscribesWildcardTopics(t *testing.T) {
	_, client, _ := newBridge(t)
	assert.Contains(t, client.filters, "glass/+/photo")
	assert.Contains(t, client.filters, "glass/+/status")
	assert.Contains(t, client.filters, "glass/+/ask")
	assert.Equal(t, byte(1), client.filters["glass/+/photo"])
}

func TestPhotoNotificationsAndCapture(t *testing.T) {
	b, client, app := newBridge(t)

	for _, pkt := range testutil.Packets(testutil.JPEG(t, 16, 16, color.White), 120) {
		client.deliver("glass/dev1/photo", pkt)
	}
	require.Eventually(t, func() bool { return len(app.Photos()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"dev1"}, b.Devices())

	require.NoError(t, app.RequestCapture(context.Background()))
	assert.Equal(t, [][]byte{{0x01}}, client.publishedOn("glass/dev1/capture"))

	client.deliver("glass/dev1/status", []byte("offline"))
	assert.Empty(t, b.Devices())
	assert.False(t, app.CaptureAvailable())
}

func TestAskPublishesAnswer(t *testing.T) {
	_, client, _ := newBridge(t)

	client.deliver("glass/dev2/status", []byte("online"))
	client.deliver("glass/dev2/ask", []byte("where am I"))

	require.Eventually(t, func() bool {
		return len(client.publishedOn("glass/dev2/answer")) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []byte("re: where am I"), client.publishedOn("glass/dev2/answer")[0])
	assert.Equal(t, [][]byte{[]byte("start")}, client.publishedOn("glass/dev2/listen"))
}
