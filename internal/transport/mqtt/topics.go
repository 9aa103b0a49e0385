// Package mqtt links wearables to the session through an MQTT broker.
package mqtt

import (
	"fmt"
	"strings"
)

// Device-side topics are <prefix>/<device>/<leaf>.
const (
	LeafPhoto   = "photo"
	LeafStatus  = "status"
	LeafAsk     = "ask"
	LeafCapture = "capture"
	LeafListen  = "listen"
	LeafAudio   = "audio"
	LeafAnswer  = "answer"
)

// Topic builds <prefix>/<device>/<leaf>.
func Topic(prefix, device, leaf string) string {
	return fmt.Sprintf("%s/%s/%s", strings.TrimSuffix(prefix, "/"), device, leaf)
}

// ParseTopic splits a device topic under prefix into device ID and leaf.
func ParseTopic(prefix, topic string) (device, leaf string, ok bool) {
	prefix = strings.TrimSuffix(prefix, "/") + "/"
	rest, found := strings.CutPrefix(topic, prefix)
	if !found {
		return "", "", false
	}
	device, leaf, found = strings.Cut(rest, "/")
	if !found || device == "" || leaf == "" || strings.Contains(leaf, "/") {
		return "", "", false
	}
	return device, leaf, true
}
