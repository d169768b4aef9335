package controller

import (
	"encoding/json"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/opentag/taglink/pkg/match"
)

type mockToken struct{}

func (t *mockToken) Wait() bool                     { return true }
func (t *mockToken) WaitTimeout(time.Duration) bool { return true }
func (t *mockToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *mockToken) Error() error { return nil }

type published struct {
	topic   string
	payload []byte
}

type mockClient struct {
	published []published
}

func (c *mockClient) IsConnected() bool      { return true }
func (c *mockClient) IsConnectionOpen() bool { return true }
func (c *mockClient) Connect() mqtt.Token    { return &mockToken{} }
func (c *mockClient) Disconnect(uint)        {}
func (c *mockClient) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	var p []byte
	switch v := payload.(type) {
	case []byte:
		p = v
	case string:
		p = []byte(v)
	}
	c.published = append(c.published, published{topic, p})
	return &mockToken{}
}
func (c *mockClient) Subscribe(string, byte, mqtt.MessageHandler) mqtt.Token { return &mockToken{} }
func (c *mockClient) SubscribeMultiple(map[string]byte, mqtt.MessageHandler) mqtt.Token {
	return &mockToken{}
}
func (c *mockClient) Unsubscribe(...string) mqtt.Token     { return &mockToken{} }
func (c *mockClient) AddRoute(string, mqtt.MessageHandler) {}
func (c *mockClient) OptionsReader() mqtt.ClientOptionsReader {
	return mqtt.NewClient(mqtt.NewClientOptions()).OptionsReader()
}

func TestTelemetryPublishesHit(t *testing.T) {
	mc := &mockClient{}
	tel := ConnectTelemetryWithClient(mc, zerolog.Nop())

	tel.PublishHit(match.Hit{ByNodeID: 1, NodeID: 2, Points: 100})

	if len(mc.published) != 1 {
		t.Fatalf("%d publishes", len(mc.published))
	}
	if mc.published[0].topic != topicHits {
		t.Errorf("topic = %s", mc.published[0].topic)
	}
	var hit match.Hit
	if err := json.Unmarshal(mc.published[0].payload, &hit); err != nil {
		t.Fatal(err)
	}
	if hit.ByNodeID != 1 || hit.Points != 100 {
		t.Errorf("payload = %+v", hit)
	}
}

func TestTelemetryNilIsSilent(t *testing.T) {
	var tel *Telemetry

	tel.PublishPhase("ACTIVE")
	tel.PublishHit(match.Hit{})
	tel.PublishLink("robot/1", false)
	tel.PublishSnapshot(Snapshot{})
	tel.Close()
}
