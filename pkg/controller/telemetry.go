package controller

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/opentag/taglink/pkg/match"
)

// Arena telemetry topics. External dashboards and recorders subscribe
// here; nothing on the arena's control path depends on the broker.
const (
	topicPhase    = "arena/phase"
	topicHits     = "arena/hits"
	topicLinks    = "arena/links"
	topicSnapshot = "arena/snapshot"
)

// Telemetry is a best-effort MQTT bridge. A nil *Telemetry is valid and
// publishes nothing, so the controller never branches on its presence.
type Telemetry struct {
	client mqtt.Client
	log    zerolog.Logger
}

// ConnectTelemetry dials the broker. The connection auto-reconnects;
// publishes while disconnected are dropped by the paho client.
func ConnectTelemetry(brokerURL, clientID string, log zerolog.Logger) (*Telemetry, error) {
	t := &Telemetry{log: log}

	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			t.log.Warn().Err(err).Msg("telemetry broker connection lost")
		})

	t.client = mqtt.NewClient(opts)
	token := t.client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("telemetry connect: %w", token.Error())
	}
	return t, nil
}

// ConnectTelemetryWithClient injects a pre-configured client (used in tests).
func ConnectTelemetryWithClient(c mqtt.Client, log zerolog.Logger) *Telemetry {
	return &Telemetry{client: c, log: log}
}

func (t *Telemetry) Close() {
	if t == nil || t.client == nil {
		return
	}
	t.client.Disconnect(250)
}

func (t *Telemetry) PublishPhase(phase string) {
	t.publish(topicPhase, map[string]string{"phase": phase})
}

func (t *Telemetry) PublishHit(hit match.Hit) {
	t.publish(topicHits, hit)
}

func (t *Telemetry) PublishLink(peer string, up bool) {
	t.publish(topicLinks, map[string]any{"peer": peer, "up": up})
}

func (t *Telemetry) PublishSnapshot(snap Snapshot) {
	t.publish(topicSnapshot, snap)
}

func (t *Telemetry) publish(topic string, v any) {
	if t == nil || t.client == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		t.log.Warn().Err(err).Str("topic", topic).Msg("telemetry marshal failed")
		return
	}
	token := t.client.Publish(topic, 0, false, data)
	token.Wait()
	if err := token.Error(); err != nil {
		t.log.Warn().Err(err).Str("topic", topic).Msg("telemetry publish failed")
	}
}
