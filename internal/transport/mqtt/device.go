package mqtt

import (
	"context"
	"fmt"

	appsession "glass-server-go/internal/app/session"
	"glass-server-go/internal/contracts/providers"
)

// Device is a wearable reachable through the broker.
type Device struct {
	id     string
	bridge *Bridge
	link   *appsession.Link
}

func (d *Device) ID() string { return "mqtt:" + d.id }

func (d *Device) Ready() bool { return d.bridge.client.IsConnected() }

func (d *Device) WriteControl(_ context.Context, payload []byte) error {
	return d.publish(LeafCapture, payload)
}

func (d *Device) StartListening(context.Context) error {
	return d.publish(LeafListen, []byte("start"))
}

// PlayAudio publishes the whole clip as one message.
func (d *Device) PlayAudio(_ context.Context, audio providers.Audio) error {
	return d.publish(LeafAudio, audio.Data)
}

func (d *Device) publish(leaf string, payload []byte) error {
	topic := Topic(d.bridge.cfg.TopicPrefix, d.id, leaf)
	token := d.bridge.client.Publish(topic, d.bridge.qos(), false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s failed: %w", topic, err)
	}
	return nil
}
