package mqtt

import (
	"encoding/json"
	"log"

	"gardenia/internal/models"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Bridge publishes state changes and telemetry samples to an MQTT broker for
// external dashboards. A nil Bridge is valid and publishes nothing.
type Bridge struct {
	client mqtt.Client
}

// NewBridge connects to the broker. Returns (nil, nil) when broker is empty.
func NewBridge(broker, clientID string) (*Bridge, error) {
	if broker == "" {
		return nil, nil
	}
	opts := mqtt.NewClientOptions().AddBroker(broker).SetClientID(clientID)
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return &Bridge{client: client}, nil
}

// Close disconnects from the broker.
func (b *Bridge) Close() {
	if b == nil {
		return
	}
	b.client.Disconnect(250)
}

// PublishOverview announces a target's mirrored state.
func (b *Bridge) PublishOverview(module string, overview models.Overview) {
	b.publish("gardenia/overview/"+module, overview)
}

// PublishSample announces a merged telemetry bucket.
func (b *Bridge) PublishSample(timestamp int64, sample models.Sample) {
	b.publish("gardenia/data", map[string]any{"t": timestamp, "data": sample})
}

func (b *Bridge) publish(topic string, payload any) {
	if b == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Printf("MQTT: failed to encode payload for %s: %v", topic, err)
		return
	}
	b.client.Publish(topic, 0, false, raw)
}
